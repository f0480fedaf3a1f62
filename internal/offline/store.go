// Package offline persists client-side sync state in a local SQLite file: the
// pending mutation queue, the last rendered snapshot and the last live pulse.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"lifeos/api/internal/dashboard"
	"lifeos/api/internal/mutation"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifeos_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Session is the signed-in identity the CLI reuses between runs.
type Session struct {
	Token string             `json:"token"`
	User  dashboard.AuthUser `json:"user"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the state database at path. ":memory:" gives a
// private in-memory store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers to the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func queueKey(userID string) string     { return "lifeos.queue." + userID }
func dashboardKey(userID string) string { return "lifeos.dashboard." + userID }
func pulseKey(userID string) string     { return "lifeos.pulse." + userID }
func quarantineKey(userID string) string {
	return "lifeos.quarantine." + userID
}

const sessionKey = "lifeos.session"

// ReadQueue returns the readable entries of the user's queue in order. Entries
// that no longer decode are skipped here and moved to quarantine by the next
// write, never dropped.
func (s *Store) ReadQueue(ctx context.Context, userID string) ([]mutation.Queued, error) {
	queue, _, err := s.readQueueFrom(ctx, s.db, userID)
	return queue, err
}

// WriteQueue replaces the whole queue for userID.
func (s *Store) WriteQueue(ctx context.Context, userID string, queue []mutation.Queued) error {
	if queue == nil {
		queue = []mutation.Queued{}
	}
	return s.rewriteQueue(ctx, userID, func([]mutation.Queued) []mutation.Queued {
		return queue
	})
}

// Enqueue appends q to the end of the user's queue.
func (s *Store) Enqueue(ctx context.Context, userID string, q mutation.Queued) error {
	return s.rewriteQueue(ctx, userID, func(queue []mutation.Queued) []mutation.Queued {
		return append(queue, q)
	})
}

// ReadQuarantine returns the raw text of queue entries that could not be
// decoded, oldest first.
func (s *Store) ReadQuarantine(ctx context.Context, userID string) ([]string, error) {
	var held []string
	if _, err := s.readJSON(ctx, quarantineKey(userID), &held); err != nil {
		return nil, err
	}
	return held, nil
}

func (s *Store) rewriteQueue(ctx context.Context, userID string, next func([]mutation.Queued) []mutation.Queued) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin queue write: %w", err)
	}
	defer tx.Rollback()

	queue, bad, err := s.readQueueFrom(ctx, tx, userID)
	if err != nil {
		return err
	}
	if err := s.quarantine(ctx, tx, userID, bad); err != nil {
		return err
	}
	if err := s.writeJSONTo(ctx, tx, queueKey(userID), next(queue)); err != nil {
		return err
	}
	return tx.Commit()
}

// readQueueFrom decodes the stored queue one entry at a time. Entries that do
// not decode come back raw in bad. A value that is not a JSON array is bad as
// a whole.
func (s *Store) readQueueFrom(ctx context.Context, q queryer, userID string) ([]mutation.Queued, []string, error) {
	raw, ok, err := readRaw(ctx, q, queueKey(userID))
	if err != nil || !ok {
		return []mutation.Queued{}, nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.WarnContext(ctx, "unreadable queue", "user", userID, "error", err)
		return []mutation.Queued{}, []string{raw}, nil
	}

	queue := make([]mutation.Queued, 0, len(items))
	var bad []string
	for _, item := range items {
		var entry mutation.Queued
		if err := json.Unmarshal(item, &entry); err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable queue entry", "user", userID, "error", err)
			bad = append(bad, string(item))
			continue
		}
		queue = append(queue, entry)
	}
	return queue, bad, nil
}

func (s *Store) quarantine(ctx context.Context, q queryer, userID string, bad []string) error {
	if len(bad) == 0 {
		return nil
	}
	var held []string
	if _, err := s.readJSONFrom(ctx, q, quarantineKey(userID), &held); err != nil {
		return err
	}
	return s.writeJSONTo(ctx, q, quarantineKey(userID), append(held, bad...))
}

func (s *Store) SaveSnapshot(ctx context.Context, userID string, snapshot dashboard.Snapshot) error {
	return s.writeJSON(ctx, dashboardKey(userID), snapshot)
}

func (s *Store) ReadSnapshot(ctx context.Context, userID string) (dashboard.Snapshot, bool, error) {
	var snapshot dashboard.Snapshot
	ok, err := s.readJSON(ctx, dashboardKey(userID), &snapshot)
	return snapshot, ok, err
}

func (s *Store) SavePulse(ctx context.Context, userID string, pulse dashboard.LivePulse) error {
	return s.writeJSON(ctx, pulseKey(userID), pulse)
}

func (s *Store) ReadPulse(ctx context.Context, userID string) (dashboard.LivePulse, bool, error) {
	var pulse dashboard.LivePulse
	ok, err := s.readJSON(ctx, pulseKey(userID), &pulse)
	return pulse, ok, err
}

func (s *Store) SaveSession(ctx context.Context, session Session) error {
	return s.writeJSON(ctx, sessionKey, session)
}

func (s *Store) ReadSession(ctx context.Context) (Session, bool, error) {
	var session Session
	ok, err := s.readJSON(ctx, sessionKey, &session)
	return session, ok, err
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lifeos_kv WHERE key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) readJSON(ctx context.Context, key string, target any) (bool, error) {
	return s.readJSONFrom(ctx, s.db, key, target)
}

// readJSONFrom reports false for a missing key. An unreadable cached value is
// treated as missing so one corrupt entry cannot wedge the client.
func (s *Store) readJSONFrom(ctx context.Context, q queryer, key string, target any) (bool, error) {
	raw, ok, err := readRaw(ctx, q, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable state", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func readRaw(ctx context.Context, q queryer, key string) (string, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM lifeos_kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *Store) writeJSON(ctx context.Context, key string, value any) error {
	return s.writeJSONTo(ctx, s.db, key, value)
}

func (s *Store) writeJSONTo(ctx context.Context, q queryer, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO lifeos_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
