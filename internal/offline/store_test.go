package offline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/mutation"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQueueRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	empty, err := s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	a := mutation.NewQueued(mutation.RunAction{ActionID: "job-sprint"}, "a", now)
	b := mutation.NewQueued(mutation.UpdateApproval{ApprovalID: "catering", Status: dashboard.ApprovalApproved}, "b", now)
	require.NoError(t, s.Enqueue(ctx, "u1", a))
	require.NoError(t, s.Enqueue(ctx, "u1", b))

	queue, err := s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []mutation.Queued{a, b}, queue)

	other, err := s.ReadQueue(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.WriteQueue(ctx, "u1", []mutation.Queued{b}))
	queue, err = s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []mutation.Queued{b}, queue)

	require.NoError(t, s.WriteQueue(ctx, "u1", nil))
	queue, err = s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestSnapshotAndPulseCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	snapshot := dashboard.Defaults(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	snapshot.Version = 7
	require.NoError(t, s.SaveSnapshot(ctx, "u1", snapshot))

	got, ok, err := s.ReadSnapshot(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snapshot, got)

	pulse := dashboard.LivePulse{Payload: json.RawMessage(`{"weather":"rain"}`), UpdatedAt: time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)}
	require.NoError(t, s.SavePulse(ctx, "u1", pulse))
	gotPulse, ok, err := s.ReadPulse(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"weather":"rain"}`, string(gotPulse.Payload))
	assert.Equal(t, pulse.UpdatedAt, gotPulse.UpdatedAt)
}

func TestUnreadableQueueEntryIsQuarantined(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	a := mutation.NewQueued(mutation.RunAction{ActionID: "job-sprint"}, "a", now)
	valid, err := json.Marshal(a)
	require.NoError(t, err)
	unknown := `{"id":"2-catering","key":"s","type":"snooze-approval","payload":{"approvalId":"catering"},"createdAt":"2026-03-02T10:00:00Z"}`
	_, err = s.db.ExecContext(ctx, `INSERT INTO lifeos_kv (key, value) VALUES (?, ?)`, queueKey("u1"), "["+string(valid)+","+unknown+"]")
	require.NoError(t, err)

	queue, err := s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "a", queue[0].Key)

	b := mutation.NewQueued(mutation.RunAction{ActionID: "doc-vault"}, "b", now)
	require.NoError(t, s.Enqueue(ctx, "u1", b))

	queue, err = s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, "a", queue[0].Key)
	assert.Equal(t, "b", queue[1].Key)

	held, err := s.ReadQuarantine(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.JSONEq(t, unknown, held[0])
}

func TestWriteQueueKeepsUnreadableEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	unknown := `{"id":"1-x","key":"s","type":"snooze-approval","payload":{}}`
	_, err := s.db.ExecContext(ctx, `INSERT INTO lifeos_kv (key, value) VALUES (?, ?)`, queueKey("u1"), "["+unknown+"]")
	require.NoError(t, err)

	require.NoError(t, s.WriteQueue(ctx, "u1", nil))

	held, err := s.ReadQuarantine(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.JSONEq(t, unknown, held[0])
}

func TestCorruptQueueIsQuarantinedWhole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO lifeos_kv (key, value) VALUES (?, ?)`, queueKey("u1"), "{not json")
	require.NoError(t, err)

	queue, err := s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, queue)

	q := mutation.NewQueued(mutation.RunAction{ActionID: "doc-vault"}, "k", time.Now())
	require.NoError(t, s.Enqueue(ctx, "u1", q))
	queue, err = s.ReadQueue(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "k", queue[0].Key)

	held, err := s.ReadQuarantine(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, held)
}

func TestCorruptSnapshotReadsAsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `INSERT INTO lifeos_kv (key, value) VALUES (?, ?)`, dashboardKey("u1"), "{not json")
	require.NoError(t, err)

	_, ok, err := s.ReadSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	session := Session{Token: "tok", User: dashboard.AuthUser{ID: "usr_1", Email: "ada@example.com", Name: "Ada"}}
	require.NoError(t, s.SaveSession(ctx, session))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.ReadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session, got)

	require.NoError(t, s.ClearSession(ctx))
	_, ok, err = s.ReadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
