package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresLedger stores records in the idempotency_records table.
type PostgresLedger struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

func NewPostgresLedger(db *sql.DB, opts Options) *PostgresLedger {
	return &PostgresLedger{db: db, opts: opts.withDefaults(), now: time.Now}
}

func (l *PostgresLedger) Find(ctx context.Context, userID, operation, key string) (Record, bool, error) {
	cutoff := l.now().UTC().Add(-l.opts.TTL)
	record := Record{UserID: userID, Operation: operation, Key: key}
	var response string
	err := l.db.QueryRowContext(ctx, `
		SELECT status_code, response, created_at
		FROM idempotency_records
		WHERE user_id=$1 AND operation=$2 AND key=$3 AND created_at > $4
	`, userID, operation, key, cutoff).Scan(&record.StatusCode, &response, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup idempotency record: %w", err)
	}
	record.Response = []byte(response)
	return record, true, nil
}

func (l *PostgresLedger) Put(ctx context.Context, record Record) error {
	now := l.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE user_id=$1 AND operation=$2 AND key=$3
	`, record.UserID, record.Operation, record.Key); err != nil {
		return fmt.Errorf("replace idempotency record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_records (user_id, operation, key, status_code, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.UserID, record.Operation, record.Key, record.StatusCode, string(record.Response), record.CreatedAt); err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE user_id=$1 AND created_at <= $2
	`, record.UserID, now.Add(-l.opts.TTL)); err != nil {
		return fmt.Errorf("purge expired idempotency records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE user_id=$1 AND seq NOT IN (
			SELECT seq FROM idempotency_records WHERE user_id=$1 ORDER BY seq DESC LIMIT $2
		)
	`, record.UserID, l.opts.Capacity); err != nil {
		return fmt.Errorf("trim idempotency records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}
