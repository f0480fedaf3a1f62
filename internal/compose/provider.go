package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"lifeos/api/internal/dashboard"
)

const maxResponseBytes = 1 << 20

var ErrNotConfigured = errors.New("provider not configured")

// HTTPProvider talks to one JSON completion API. The three supported modes
// differ only in endpoint paths, request body shape, and where the generated
// text sits in the response.
type HTTPProvider struct {
	mode       dashboard.LlmMode
	model      string
	baseURL    string
	apiKey     string
	complete   string
	health     string
	textPath   string
	body       func(model, system, prompt string) any
	httpClient *http.Client
}

func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		mode:     dashboard.LlmOpenAI,
		model:    model,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		complete: "/v1/responses",
		health:   "/v1/models",
		textPath: "output_text",
		body: func(model, system, prompt string) any {
			return map[string]any{
				"model":       model,
				"temperature": 0.2,
				"input": []map[string]string{
					{"role": "system", "content": system},
					{"role": "user", "content": prompt},
				},
			}
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

func NewOllama(baseURL, model string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		mode:     dashboard.LlmOllama,
		model:    model,
		baseURL:  strings.TrimRight(baseURL, "/"),
		complete: "/api/generate",
		health:   "/api/tags",
		textPath: "response",
		body: func(model, system, prompt string) any {
			return map[string]any{
				"model":   model,
				"prompt":  fmt.Sprintf("System:\n%s\n\nUser:\n%s", system, prompt),
				"stream":  false,
				"options": map[string]any{"temperature": 0.2},
			}
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

func NewLlamaCpp(baseURL, model string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		mode:     dashboard.LlmLlamaCpp,
		model:    model,
		baseURL:  strings.TrimRight(baseURL, "/"),
		complete: "/v1/chat/completions",
		health:   "/v1/models",
		textPath: "choices.0.message.content",
		body: func(model, system, prompt string) any {
			return map[string]any{
				"model":       model,
				"temperature": 0.2,
				"max_tokens":  220,
				"messages": []map[string]string{
					{"role": "system", "content": system},
					{"role": "user", "content": prompt},
				},
			}
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Mode() dashboard.LlmMode { return p.mode }

func (p *HTTPProvider) Model() string { return p.model }

func (p *HTTPProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	if err := p.configured(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(p.body(p.model, system, prompt))
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", p.mode, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.complete, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", p.mode, err)
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := p.do(req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(gjson.GetBytes(body, p.textPath).String())
	if text == "" {
		return "", fmt.Errorf("%s returned no text", p.mode)
	}
	return text, nil
}

func (p *HTTPProvider) Health(ctx context.Context) error {
	if err := p.configured(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.health, nil)
	if err != nil {
		return fmt.Errorf("build %s health request: %w", p.mode, err)
	}
	_, err = p.do(req)
	return err
}

func (p *HTTPProvider) configured() error {
	if p.baseURL == "" {
		return fmt.Errorf("%s base url missing: %w", p.mode, ErrNotConfigured)
	}
	if p.mode == dashboard.LlmOpenAI && p.apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY missing: %w", ErrNotConfigured)
	}
	return nil
}

func (p *HTTPProvider) do(req *http.Request) ([]byte, error) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s unreachable: %w", p.mode, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.mode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s HTTP %d", p.mode, resp.StatusCode)
	}
	return body, nil
}
