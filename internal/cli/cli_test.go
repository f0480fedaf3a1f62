package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeos/api/internal/actions"
	"lifeos/api/internal/app"
	"lifeos/api/internal/compose"
	"lifeos/api/internal/config"
	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/ledger"
	"lifeos/api/internal/mutation"
	"lifeos/api/internal/store"
	"lifeos/api/internal/syncloop"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "lifeos", cmd.Use)

	for _, name := range []string{"login", "logout", "status", "sync", "run", "approve", "reject", "toggle", "queue", "watch", "llm", "reset"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "o", output.Shorthand)
	assert.Equal(t, "text", output.DefValue)

	for _, name := range []string{"api-url", "token", "state", "timeout", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "--output", "xml", "queue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output")
}

func TestRunRejectsUnknownAction(t *testing.T) {
	_, err := execute(t, "--state", filepath.Join(t.TempDir(), "state.db"), "run", "moon-landing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestCommandsNeedSession(t *testing.T) {
	t.Setenv("LIFEOS_TOKEN", "")
	_, err := execute(t, "--state", filepath.Join(t.TempDir(), "state.db"), "queue")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestNextAutomationStatus(t *testing.T) {
	assert.Equal(t, dashboard.AutomationPaused, nextAutomationStatus(dashboard.AutomationActive))
	assert.Equal(t, dashboard.AutomationActive, nextAutomationStatus(dashboard.AutomationPaused))
	assert.Equal(t, dashboard.AutomationActive, nextAutomationStatus(dashboard.AutomationReview))
}

func TestPrinterFormats(t *testing.T) {
	report := outcomeReport{Queued: true, ID: "1-catering", Key: "k", Type: "update-approval", Target: "catering", Status: "offline"}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "plain\n")
		return err
	}

	var buf bytes.Buffer
	require.NoError(t, printer{format: "json", w: &buf}.emit(report, text))
	assert.JSONEq(t, `{"queued":true,"id":"1-catering","key":"k","type":"update-approval","target":"catering","status":"offline"}`, buf.String())

	buf.Reset()
	require.NoError(t, printer{format: "yaml", w: &buf}.emit(report, text))
	assert.Contains(t, buf.String(), "queued: true\n")
	assert.Contains(t, buf.String(), "target: catering\n")

	buf.Reset()
	require.NoError(t, printer{format: "text", w: &buf}.emit(report, text))
	assert.Equal(t, "plain\n", buf.String())
}

func TestRenderViewWithoutSnapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderView(&buf, syncloop.View{Offline: true, QueueLen: 2}))
	assert.Contains(t, buf.String(), "offline, 2 pending")
	assert.Contains(t, buf.String(), "No dashboard cached yet")
}

func TestRenderViewListsSnapshot(t *testing.T) {
	snapshot := dashboard.Defaults(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	require.NoError(t, renderView(&buf, syncloop.View{Snapshot: snapshot, HasSnapshot: true}))

	out := buf.String()
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "Order catering for 24 guests")
	assert.Contains(t, out, "Morning Command Brief")
	assert.Contains(t, out, snapshot.Timeline[0].Event)
}

func TestRenderQueue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderQueue(&buf, nil))
	assert.Contains(t, buf.String(), "Queue is empty.")

	buf.Reset()
	q := mutation.NewQueued(mutation.UpdateApproval{ApprovalID: "catering", Status: dashboard.ApprovalApproved}, "key-1", time.Now())
	require.NoError(t, renderQueue(&buf, []mutation.Queued{q}))
	assert.Contains(t, buf.String(), "update-approval")
	assert.Contains(t, buf.String(), "catering")
	assert.Contains(t, buf.String(), "key-1")
}

// dropSwitch closes connections without answering while down is set.
type dropSwitch struct {
	down atomic.Bool
	next http.Handler
}

func (d *dropSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.down.Load() {
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			_ = conn.Close()
		}
		return
	}
	d.next.ServeHTTP(w, r)
}

func newAPIServer(t *testing.T) (*httptest.Server, *dropSwitch) {
	t.Helper()
	service := app.New(config.Config{
		AuthSecret: "cli-secret",
		AuthIssuer: "lifeos-test",
		AccessTTL:  time.Hour,
		LlmMode:    string(dashboard.LlmMock),
	}, app.Deps{
		Store:    store.NewMemoryStore(),
		Ledger:   ledger.NewMemoryLedger(ledger.Options{}),
		Composer: compose.NewPipeline(nil),
		Details:  actions.NewRunner(actions.Sources{DocsDir: t.TempDir()}, false, 200*time.Millisecond, nil),
	})
	sw := &dropSwitch{next: app.NewHTTPServer(service, "*").Handler()}
	srv := httptest.NewServer(sw)
	t.Cleanup(srv.Close)
	return srv, sw
}

func TestOfflineApprovalFlow(t *testing.T) {
	t.Setenv("LIFEOS_TOKEN", "")
	srv, sw := newAPIServer(t)
	base := []string{"--api-url", srv.URL, "--state", filepath.Join(t.TempDir(), "state.db"), "--timeout", "2s", "-o", "json"}
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, append(append([]string{}, base...), args...)...)
		require.NoError(t, err, strings.Join(args, " "))
		return out
	}

	var user dashboard.AuthUser
	require.NoError(t, json.Unmarshal([]byte(run("login", "--register", "--name", "Ada", "--email", "ada@example.com", "--password", "correct-horse")), &user))
	assert.Equal(t, "ada@example.com", user.Email)

	var online outcomeReport
	require.NoError(t, json.Unmarshal([]byte(run("approve", "offer-letter")), &online))
	assert.False(t, online.Queued)

	sw.down.Store(true)
	var queued outcomeReport
	require.NoError(t, json.Unmarshal([]byte(run("approve", "catering")), &queued))
	assert.True(t, queued.Queued)
	assert.Equal(t, "offline", queued.Status)

	var queue []mutation.Queued
	require.NoError(t, json.Unmarshal([]byte(run("queue")), &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, queued.Key, queue[0].Key)

	var cached viewReport
	require.NoError(t, json.Unmarshal([]byte(run("status", "--cached")), &cached))
	require.NotNil(t, cached.Snapshot)
	assert.Equal(t, 1, cached.Pending)
	assert.Len(t, cached.Snapshot.PendingApprovals(), 1)

	sw.down.Store(false)
	var synced struct {
		Flush syncloop.FlushResult `json:"flush"`
		View  viewReport           `json:"view"`
	}
	require.NoError(t, json.Unmarshal([]byte(run("sync")), &synced))
	assert.Equal(t, syncloop.FlushResult{Sent: 1}, synced.Flush)
	assert.Equal(t, 0, synced.View.Pending)
	assert.False(t, synced.View.Offline)
	require.NotNil(t, synced.View.Snapshot)
	catering, _ := synced.View.Snapshot.FindApproval("catering")
	assert.Equal(t, dashboard.ApprovalApproved, catering.Status)
}
