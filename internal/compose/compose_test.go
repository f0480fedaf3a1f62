package compose

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lifeos/api/internal/dashboard"
)

type stubProvider struct {
	mode      dashboard.LlmMode
	text      string
	err       error
	healthErr error
}

func (s stubProvider) Mode() dashboard.LlmMode { return s.mode }
func (s stubProvider) Model() string           { return "stub-model" }
func (s stubProvider) Complete(context.Context, string, string) (string, error) {
	return s.text, s.err
}
func (s stubProvider) Health(context.Context) error { return s.healthErr }

func TestPipelineMockMode(t *testing.T) {
	p := NewPipeline(nil)
	got := p.Compose(context.Background(), Request{UserID: "u1", ActionID: "job-sprint", Mode: dashboard.LlmMock})

	want := "Executing career.apply workflow. 3/3 steps completed with policy status: Plan complies with baseline automation policy."
	if got.Text != want {
		t.Fatalf("unexpected text:\n%s", got.Text)
	}
	if got.Provider != RuleBasedProvider || got.Model != RuleBasedModel {
		t.Fatalf("unexpected orchestration %s/%s", got.Provider, got.Model)
	}
}

func TestPipelineHighRiskPolicy(t *testing.T) {
	got := NewPipeline(nil).Compose(context.Background(), Request{ActionID: "event-planner", Mode: dashboard.LlmMock})
	if !strings.Contains(got.Text, "lifestyle.plan") || !strings.Contains(got.Text, "approval checkpoints") {
		t.Fatalf("unexpected text: %s", got.Text)
	}
}

func TestPipelineUsesProviderPlan(t *testing.T) {
	p := NewPipeline(nil, stubProvider{mode: dashboard.LlmOllama, text: "1. Scan listings\n\n- Tailor CV"})
	got := p.Compose(context.Background(), Request{ActionID: "job-sprint", Mode: dashboard.LlmOllama})
	if got.Provider != "ollama" || got.Model != "stub-model" {
		t.Fatalf("unexpected orchestration %s/%s", got.Provider, got.Model)
	}
	if !strings.Contains(got.Text, "2/2 steps") {
		t.Fatalf("expected two parsed steps, got %s", got.Text)
	}
}

func TestPipelineFallsBackWhenProviderFails(t *testing.T) {
	p := NewPipeline(nil, stubProvider{mode: dashboard.LlmLlamaCpp, err: errors.New("down")})
	got := p.Compose(context.Background(), Request{ActionID: "doc-vault", Mode: dashboard.LlmLlamaCpp})
	if got.Provider != RuleBasedProvider || !strings.Contains(got.Text, "3/3 steps") {
		t.Fatalf("expected rule-based fallback, got %+v", got)
	}
}

func TestPipelineStatus(t *testing.T) {
	p := NewPipeline(nil,
		stubProvider{mode: dashboard.LlmOllama},
		stubProvider{mode: dashboard.LlmLlamaCpp, healthErr: errors.New("llamacpp unreachable")},
	)
	ctx := context.Background()

	if ready, reason, _ := p.Status(ctx, dashboard.LlmMock); !ready || reason != "mock mode" {
		t.Fatalf("mock status = %v %q", ready, reason)
	}
	if ready, _, model := p.Status(ctx, dashboard.LlmOllama); !ready || model != "stub-model" {
		t.Fatalf("ollama status = %v %q", ready, model)
	}
	if ready, reason, _ := p.Status(ctx, dashboard.LlmLlamaCpp); ready || reason != "llamacpp unreachable" {
		t.Fatalf("llamacpp status = %v %q", ready, reason)
	}
	if ready, _, _ := p.Status(ctx, dashboard.LlmOpenAI); ready {
		t.Fatal("unconfigured provider reported ready")
	}
}

func TestPlanFromText(t *testing.T) {
	fallback := rulePlan(routeIntent("x"))
	if got := planFromText("   \n\n", fallback); len(got) != 3 || got[0].Name != fallback[0].Name {
		t.Fatalf("expected fallback plan, got %+v", got)
	}
	got := planFromText("1. a\n2. b\n3. c\n4. d", fallback)
	if len(got) != 3 || got[2].Name != "c" || got[2].Tool != "status-writer" {
		t.Fatalf("unexpected plan %+v", got)
	}
}

func TestLlamaCppProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "tiny" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"  - step one\n- step two  "}}]}`))
	}))
	defer srv.Close()

	text, err := NewLlamaCpp(srv.URL, "tiny", time.Second).Complete(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "- step one\n- step two" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	p := NewOpenAI("https://api.openai.com", "", "gpt", time.Second)
	if err := p.Health(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOllamaProviderHealthReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewOllama(srv.URL, "llama", time.Second).Health(context.Background())
	if err == nil || err.Error() != "ollama HTTP 503" {
		t.Fatalf("unexpected health error %v", err)
	}
}
