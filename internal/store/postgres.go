package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"lifeos/api/internal/dashboard"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ReadSnapshot returns the user's snapshot, creating and persisting the seeded
// defaults on first access.
func (s *PostgresStore) ReadSnapshot(ctx context.Context, userID string) (dashboard.Snapshot, error) {
	snapshot, err := s.selectSnapshot(ctx, s.db, userID, false)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return dashboard.Snapshot{}, err
	}

	seeded := dashboard.Defaults(s.now().UTC())
	body, err := json.Marshal(seeded)
	if err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, body, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, body, seeded.UpdatedAt); err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	// A concurrent first read may have won the insert; the stored row is authoritative.
	return s.selectSnapshot(ctx, s.db, userID, false)
}

// WriteSnapshot replaces the whole snapshot. The write only applies when the
// stored version still equals snapshot.Version.
func (s *PostgresStore) WriteSnapshot(ctx context.Context, userID string, snapshot dashboard.Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if snapshot.Version == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO snapshots (user_id, body, version, updated_at)
			VALUES ($1, $2, 1, $3)
		`, userID, body, snapshot.UpdatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE snapshots
		SET body=$2, version=version+1, updated_at=GREATEST(updated_at, $3)
		WHERE user_id=$1 AND version=$4
	`, userID, body, snapshot.UpdatedAt, snapshot.Version)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// ResetSnapshot replaces the snapshot with fresh defaults and returns it.
func (s *PostgresStore) ResetSnapshot(ctx context.Context, userID string) (dashboard.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	var version int64
	current, err := s.selectSnapshot(ctx, tx, userID, true)
	switch {
	case err == nil:
		now = laterOf(current.UpdatedAt, now)
		version = current.Version
	case errors.Is(err, ErrNotFound):
	default:
		return dashboard.Snapshot{}, err
	}

	next := dashboard.Defaults(now)
	next.Version = version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, body, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET body=EXCLUDED.body, version=EXCLUDED.version, updated_at=EXCLUDED.updated_at
	`, userID, body, next.Version, next.UpdatedAt); err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("reset snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("commit reset: %w", err)
	}
	return next, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) selectSnapshot(ctx context.Context, q queryRower, userID string, forUpdate bool) (dashboard.Snapshot, error) {
	query := `SELECT body, version, updated_at FROM snapshots WHERE user_id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		body      []byte
		version   int64
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, query, userID).Scan(&body, &version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return dashboard.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot dashboard.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return dashboard.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	snapshot = dashboard.MergeDefaults(snapshot, s.now().UTC())
	snapshot.Version = version
	snapshot.UpdatedAt = updatedAt.UTC()
	return snapshot, nil
}

func (s *PostgresStore) ReadLlmMode(ctx context.Context, userID string) (dashboard.LlmMode, bool, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM llm_modes WHERE user_id=$1`, userID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read llm mode: %w", err)
	}
	if !dashboard.ValidLlmMode(mode) {
		return "", false, nil
	}
	return dashboard.LlmMode(mode), true, nil
}

func (s *PostgresStore) WriteLlmMode(ctx context.Context, userID string, mode dashboard.LlmMode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_modes (user_id, mode, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET mode=EXCLUDED.mode, updated_at=EXCLUDED.updated_at
	`, userID, string(mode))
	if err != nil {
		return fmt.Errorf("write llm mode: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Name, user.Email, user.PasswordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email=$1`, email)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id=$1`, id)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
