// Package ledger records the results of idempotent mutations so a retried
// request with the same key replays the original response.
package ledger

import (
	"context"
	"time"
)

const (
	DefaultCapacity = 2000
	DefaultTTL      = 24 * time.Hour
)

// Record is one completed mutation. Response holds the exact bytes that were
// sent to the client.
type Record struct {
	UserID     string    `json:"userId"`
	Operation  string    `json:"operation"`
	Key        string    `json:"key"`
	StatusCode int       `json:"statusCode"`
	Response   []byte    `json:"response"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Ledger stores records keyed by (user, operation, key). Retention is bounded
// per user by capacity and by age.
type Ledger interface {
	Find(ctx context.Context, userID, operation, key string) (Record, bool, error)
	Put(ctx context.Context, record Record) error
}

type Options struct {
	Capacity int
	TTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}
