// Package actions gathers live context for quick actions before they run.
package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

var ErrIntegration = errors.New("action integration failed")

const (
	DefaultJobsURL    = "https://remoteok.com/api"
	DefaultNewsURL    = "https://hn.algolia.com/api/v1/search?tags=front_page"
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast?latitude=40.7128&longitude=-74.0060&current=temperature_2m,weather_code&temperature_unit=celsius"
)

type Details struct {
	TimelineInfo    string
	AssistantSuffix string
}

type Sources struct {
	JobsURL    string
	NewsURL    string
	WeatherURL string
	DocsDir    string
}

type Runner struct {
	sources    Sources
	strict     bool
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRunner(sources Sources, strict bool, timeout time.Duration, logger *slog.Logger) *Runner {
	if sources.JobsURL == "" {
		sources.JobsURL = DefaultJobsURL
	}
	if sources.NewsURL == "" {
		sources.NewsURL = DefaultNewsURL
	}
	if sources.WeatherURL == "" {
		sources.WeatherURL = DefaultWeatherURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sources:    sources,
		strict:     strict,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Details fetches live context for actionID. Failed fetches fall back to
// canned details unless the runner is strict, in which case they fail with
// ErrIntegration.
func (r *Runner) Details(ctx context.Context, actionID string) (Details, error) {
	var (
		details Details
		err     error
	)
	switch actionID {
	case "job-sprint":
		details, err = r.jobSprint(ctx)
	case "content-launch":
		details, err = r.contentLaunch(ctx)
	case "event-planner":
		details, err = r.eventPlanner(ctx)
	case "doc-vault":
		details, err = r.docVault()
	default:
		return fallback(actionID), nil
	}
	if err == nil {
		return details, nil
	}

	r.logger.WarnContext(ctx, "action integration failed", "action_id", actionID, "error", err)
	if r.strict {
		return Details{}, fmt.Errorf("%w: %s: %v", ErrIntegration, actionID, err)
	}
	return fallback(actionID), nil
}

func (r *Runner) jobSprint(ctx context.Context) (Details, error) {
	body, err := r.fetch(ctx, r.sources.JobsURL)
	if err != nil {
		return Details{}, err
	}
	role, company, location := "Software Engineer", "Unknown company", "Remote"
	for _, entry := range gjson.ParseBytes(body).Array() {
		position := entry.Get("position")
		if position.Type != gjson.String {
			continue
		}
		role = position.String()
		if v := entry.Get("company"); v.Exists() {
			company = v.String()
		}
		if v := entry.Get("location"); v.Exists() && v.String() != "" {
			location = v.String()
		}
		break
	}
	return Details{
		TimelineInfo:    fmt.Sprintf("Matched live role: %s at %s (%s).", role, company, location),
		AssistantSuffix: fmt.Sprintf("I used live job data and prioritized %s at %s for immediate application.", role, company),
	}, nil
}

func (r *Runner) contentLaunch(ctx context.Context) (Details, error) {
	body, err := r.fetch(ctx, r.sources.NewsURL)
	if err != nil {
		return Details{}, err
	}
	title, points := "Top market headline", int64(0)
	for _, hit := range gjson.GetBytes(body, "hits").Array() {
		if hit.Get("title").Type != gjson.String {
			continue
		}
		title = hit.Get("title").String()
		points = hit.Get("points").Int()
		break
	}
	return Details{
		TimelineInfo:    fmt.Sprintf("Built post set from live headline: %q (%d points).", title, points),
		AssistantSuffix: fmt.Sprintf("I used live trend context from Hacker News and aligned today's posts to %q.", title),
	}, nil
}

func (r *Runner) eventPlanner(ctx context.Context) (Details, error) {
	body, err := r.fetch(ctx, r.sources.WeatherURL)
	if err != nil {
		return Details{}, err
	}
	temp := 21.0
	if v := gjson.GetBytes(body, "current.temperature_2m"); v.Exists() {
		temp = v.Float()
	}
	code := gjson.GetBytes(body, "current.weather_code").Int()
	return Details{
		TimelineInfo:    fmt.Sprintf("Planned with live NYC weather: %dC (code %d).", int(math.Round(temp)), code),
		AssistantSuffix: "I used live weather to optimize venue timing, transport windows, and guest reminders.",
	}, nil
}

func (r *Runner) docVault() (Details, error) {
	if r.sources.DocsDir == "" {
		return Details{}, errors.New("docs directory not configured")
	}
	entries, err := os.ReadDir(r.sources.DocsDir)
	if err != nil {
		return Details{}, fmt.Errorf("scan docs: %w", err)
	}
	files := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files++
		}
	}
	return Details{
		TimelineInfo:    fmt.Sprintf("Scanned local docs directory: %d files indexed.", files),
		AssistantSuffix: fmt.Sprintf("I scanned your local docs workspace and updated classification over %d files.", files),
	}, nil
}

func (r *Runner) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "LifeOS/1.0")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("invalid JSON payload")
	}
	return body, nil
}

func fallback(actionID string) Details {
	switch actionID {
	case "job-sprint":
		return Details{
			TimelineInfo:    "Prepared role matching from cached profile data and prior sources.",
			AssistantSuffix: "Live job feeds were unavailable, so I used cached market signals.",
		}
	case "content-launch":
		return Details{
			TimelineInfo:    "Built content queue from cached trend topics and prior engagement data.",
			AssistantSuffix: "Live news feed was unavailable, so I used cached trend context.",
		}
	case "event-planner":
		return Details{
			TimelineInfo:    "Planned event schedule using cached weather and guest constraints.",
			AssistantSuffix: "Live weather feed was unavailable, so I used cached conditions.",
		}
	case "doc-vault":
		return Details{
			TimelineInfo:    "Organized known files and retained prior taxonomy.",
			AssistantSuffix: "Live file scan partially failed, so I used known folders.",
		}
	default:
		return Details{
			TimelineInfo:    "Executed automation with current workspace context.",
			AssistantSuffix: "Execution completed with baseline context.",
		}
	}
}
