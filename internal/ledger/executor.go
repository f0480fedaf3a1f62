package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Result is the response a mutation produced, already encoded.
type Result struct {
	Status int
	Body   []byte
}

// Handler performs a mutation and returns the value to encode as its response.
type Handler func(ctx context.Context) (any, error)

// Executor runs mutations at most once per idempotency key.
type Executor struct {
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time
}

func NewExecutor(ledger Ledger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{ledger: ledger, logger: logger, now: time.Now}
}

// Run executes handler unless a record for (userID, operation, key) exists, in
// which case the recorded result is returned untouched. An empty key disables
// deduplication. Handler errors are returned as-is and never recorded. Ledger
// I/O errors are returned unwrapped so callers treat them as storage failures.
//
// Callers serialize Run per user; two concurrent first attempts with the same
// key would otherwise both execute.
func (e *Executor) Run(ctx context.Context, userID, operation, key string, handler Handler) (Result, error) {
	if key != "" {
		record, ok, err := e.ledger.Find(ctx, userID, operation, key)
		if err != nil {
			return Result{}, err
		}
		if ok {
			e.logger.DebugContext(ctx, "idempotent replay", "user_id", userID, "operation", operation, "key", key)
			return Result{Status: record.StatusCode, Body: record.Response}, nil
		}
	}

	value, err := handler(ctx)
	if err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s response: %w", operation, err)
	}
	result := Result{Status: http.StatusOK, Body: body}
	if key == "" {
		return result, nil
	}

	record := Record{
		UserID:     userID,
		Operation:  operation,
		Key:        key,
		StatusCode: result.Status,
		Response:   body,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.ledger.Put(ctx, record); err != nil {
		e.logger.ErrorContext(ctx, "record idempotency result", "user_id", userID, "operation", operation, "error", err)
		return Result{}, err
	}
	return result, nil
}
