// Package client talks to the LifeOS API on behalf of the sync loop and CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tidwall/gjson"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/mutation"
)

// Config holds client settings. Environment variables fill in anything the
// command line leaves unset.
type Config struct {
	BaseURL string        `env:"LIFEOS_API_URL" env-default:"http://localhost:3000"`
	Token   string        `env:"LIFEOS_TOKEN"`
	StateDB string        `env:"LIFEOS_STATE_DB" env-default:"lifeos-state.db"`
	Timeout time.Duration `env:"LIFEOS_CLIENT_TIMEOUT" env-default:"10s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("client config: %w", err)
	}
	return cfg, nil
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

func (c *Client) Register(ctx context.Context, name, email, password string) (dashboard.LoginResponse, error) {
	var out dashboard.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (dashboard.LoginResponse, error) {
	var out dashboard.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (dashboard.AuthUser, error) {
	var out struct {
		User dashboard.AuthUser `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/me", "", nil, &out)
	return out.User, err
}

func (c *Client) Dashboard(ctx context.Context) (dashboard.Snapshot, error) {
	var out dashboard.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/lifeos/dashboard", "", nil, &out)
	return out, err
}

// Pulse fetches the live pulse payload. Deployments without a live feed
// answer 404, which callers treat as no pulse.
func (c *Client) Pulse(ctx context.Context) (dashboard.LivePulse, error) {
	var payload json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/lifeos/live", "", nil, &payload); err != nil {
		return dashboard.LivePulse{}, err
	}
	pulse := dashboard.LivePulse{Payload: payload, UpdatedAt: time.Now().UTC()}
	if ts := gjson.GetBytes(payload, "updatedAt"); ts.Exists() {
		if parsed, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil {
			pulse.UpdatedAt = parsed
		}
	}
	return pulse, nil
}

func (c *Client) Reset(ctx context.Context, key string) (dashboard.Snapshot, error) {
	var out dashboard.Snapshot
	err := c.do(ctx, http.MethodPost, "/api/lifeos/reset", key, nil, &out)
	return out, err
}

func (c *Client) RunAction(ctx context.Context, key, actionID string) (dashboard.RunActionResponse, error) {
	var out dashboard.RunActionResponse
	err := c.do(ctx, http.MethodPost, "/api/lifeos/actions/run", key, dashboard.RunActionRequest{ActionID: actionID}, &out)
	return out, err
}

func (c *Client) UpdateApproval(ctx context.Context, key, approvalID string, status dashboard.ApprovalStatus) (dashboard.ApprovalUpdateResponse, error) {
	var out dashboard.ApprovalUpdateResponse
	err := c.do(ctx, http.MethodPost, "/api/lifeos/approvals/update", key, dashboard.ApprovalUpdateRequest{
		ApprovalID: approvalID,
		Status:     status,
	}, &out)
	return out, err
}

func (c *Client) ToggleAutomation(ctx context.Context, key, automationID string, status dashboard.AutomationStatus) (dashboard.AutomationToggleResponse, error) {
	var out dashboard.AutomationToggleResponse
	err := c.do(ctx, http.MethodPost, "/api/lifeos/automations/toggle", key, dashboard.AutomationToggleRequest{
		AutomationID: automationID,
		Status:       status,
	}, &out)
	return out, err
}

func (c *Client) LlmStatus(ctx context.Context) (dashboard.LlmStatusResponse, error) {
	var out dashboard.LlmStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/lifeos/llm/status", "", nil, &out)
	return out, err
}

func (c *Client) SetLlmMode(ctx context.Context, mode dashboard.LlmMode) (dashboard.LlmStatusResponse, error) {
	var out dashboard.LlmStatusResponse
	err := c.do(ctx, http.MethodPost, "/api/lifeos/llm/mode", "", map[string]string{"mode": string(mode)}, &out)
	return out, err
}

// Send delivers a queued mutation under its original idempotency key.
func (c *Client) Send(ctx context.Context, q mutation.Queued) error {
	var err error
	switch m := q.Mutation.(type) {
	case mutation.RunAction:
		_, err = c.RunAction(ctx, q.Key, m.ActionID)
	case mutation.UpdateApproval:
		_, err = c.UpdateApproval(ctx, q.Key, m.ApprovalID, m.Status)
	case mutation.ToggleAutomation:
		_, err = c.ToggleAutomation(ctx, q.Key, m.AutomationID, m.Status)
	default:
		return fmt.Errorf("%w: %T", mutation.ErrUnknownKind, q.Mutation)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, key string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "api request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if gjson.ValidBytes(raw) {
			apiErr.Code = gjson.GetBytes(raw, "code").String()
			apiErr.Message = gjson.GetBytes(raw, "error").String()
		}
		c.logger.DebugContext(ctx, "api request rejected", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
