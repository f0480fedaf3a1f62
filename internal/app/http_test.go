package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lifeos/api/internal/authpw"
	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/store"
)

func registerRequest(email string) authpw.RegisterRequest {
	return authpw.RegisterRequest{Name: "Ada", Email: email, Password: "correct-horse"}
}

func newTestServer(t *testing.T) (*testEnv, http.Handler, string) {
	t.Helper()
	env := newTestEnv(t)
	resp, err := env.service.Register(context.Background(), registerRequest("ada@example.com"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return env, NewHTTPServer(env.service, "*").Handler(), resp.Token
}

func doRequest(t *testing.T, h http.Handler, method, path, token, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return payload.Code
}

func TestHealthEndpoint(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/api/health", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var response struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Status != "ready" || response.Checks["database"]["status"] != "ok" {
		t.Fatalf("unexpected ready payload %s", rr.Body.String())
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	mem := store.NewMemoryStore()
	env := newTestEnvWithStore(t, mem, &failingStore{MemoryStore: mem, pingErr: errors.New("connection refused")})
	h := NewHTTPServer(env.service, "*").Handler()

	rr := doRequest(t, h, http.MethodGet, "/api/ready", "", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("expected failure detail, got %s", rr.Body.String())
	}
}

func TestOptionsPreflight(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodOptions, "/api/lifeos/actions/run", "", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key") {
		t.Fatalf("expected Idempotency-Key in allowed headers, got %q", rr.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestAuthRoutes(t *testing.T) {
	_, h, token := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/api/auth/register", "", "", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "correct-horse",
	})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "EMAIL_EXISTS" {
		t.Fatalf("expected 409 EMAIL_EXISTS, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodPost, "/api/auth/register", "", "", map[string]string{
		"name": "Bo", "email": "bo@example.com", "password": "short",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/auth/login", "", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-password",
	})
	if rr.Code != http.StatusUnauthorized || errorCode(t, rr) != "INVALID_CREDENTIALS" {
		t.Fatalf("expected 401 INVALID_CREDENTIALS, got %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodPost, "/api/auth/login", "", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var login dashboard.LoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}

	rr = doRequest(t, h, http.MethodGet, "/api/auth/me", token, "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ada@example.com") {
		t.Fatalf("unexpected /me response %d %s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/api/lifeos/dashboard", "", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	rr = doRequest(t, h, http.MethodGet, "/api/lifeos/dashboard", "not-a-jwt", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rr.Code)
	}
}

func TestDashboardRoute(t *testing.T) {
	_, h, token := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/api/lifeos/dashboard", token, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snapshot dashboard.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshot.PendingApprovals()) != 3 {
		t.Fatalf("expected 3 pending approvals, got %d", len(snapshot.PendingApprovals()))
	}
}

func TestRunActionRouteReplaysBytes(t *testing.T) {
	env, h, token := newTestServer(t)
	body := map[string]string{"actionId": "job-sprint"}

	first := doRequest(t, h, http.MethodPost, "/api/lifeos/actions/run", token, "retry-1", body)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	second := doRequest(t, h, http.MethodPost, "/api/lifeos/actions/run", token, "retry-1", body)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.Code)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replay differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if env.details.calls != 1 {
		t.Fatalf("expected one execution, got %d", env.details.calls)
	}
}

func TestMutationRouteErrors(t *testing.T) {
	_, h, token := newTestServer(t)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown action", "/api/lifeos/actions/run", map[string]string{"actionId": "moonshot"}, http.StatusNotFound, "NOT_FOUND"},
		{"missing action", "/api/lifeos/actions/run", map[string]string{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown approval", "/api/lifeos/approvals/update", map[string]string{"approvalId": "nope", "status": "approved"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad approval status", "/api/lifeos/approvals/update", map[string]string{"approvalId": "catering", "status": "maybe"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown automation", "/api/lifeos/automations/toggle", map[string]string{"automationId": "nope", "status": "paused"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad llm mode", "/api/lifeos/llm/mode", map[string]string{"mode": "gpt-9"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown route", "/api/lifeos/teleport", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodPost, tc.path, token, "", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestInvalidJSONBody(t *testing.T) {
	_, h, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/lifeos/actions/run", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_BODY" {
		t.Fatalf("expected 400 INVALID_BODY, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestResetAndToggleRoutes(t *testing.T) {
	_, h, token := newTestServer(t)

	rr := doRequest(t, h, http.MethodPost, "/api/lifeos/automations/toggle", token, "t1", map[string]string{
		"automationId": "morning-brief", "status": "paused",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", rr.Code)
	}
	var toggled dashboard.AutomationToggleResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if toggled.Automation.Status != dashboard.AutomationPaused {
		t.Fatalf("expected paused, got %s", toggled.Automation.Status)
	}

	rr = doRequest(t, h, http.MethodPost, "/api/lifeos/reset", token, "r1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rr.Code)
	}
	var snapshot dashboard.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	brief, _ := snapshot.FindAutomation("morning-brief")
	if brief.Status != dashboard.AutomationActive {
		t.Fatalf("expected reset to restore active, got %s", brief.Status)
	}
}

func TestLlmRoutes(t *testing.T) {
	_, h, token := newTestServer(t)

	rr := doRequest(t, h, http.MethodGet, "/api/lifeos/llm/status", token, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = doRequest(t, h, http.MethodPost, "/api/lifeos/llm/mode", token, "", map[string]string{"mode": "llamacpp"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var status dashboard.LlmStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Mode != dashboard.LlmLlamaCpp {
		t.Fatalf("expected llamacpp, got %s", status.Mode)
	}
}
