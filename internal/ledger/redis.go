package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger keeps each record as a JSON value with a TTL, plus a per-user
// sorted set ordered by insertion time for capacity trimming.
type RedisLedger struct {
	client *redis.Client
	prefix string
	opts   Options
	now    func() time.Time
}

// NewRedisLedger connects to redisURL and verifies the connection.
func NewRedisLedger(redisURL string, opts Options) (*RedisLedger, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLedgerWithClient(client, opts), nil
}

func NewRedisLedgerWithClient(client *redis.Client, opts Options) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: "idem:",
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

func (l *RedisLedger) recordKey(userID, operation, key string) string {
	return l.prefix + userID + ":" + operation + ":" + key
}

func (l *RedisLedger) indexKey(userID string) string {
	return l.prefix + "index:" + userID
}

func (l *RedisLedger) Find(ctx context.Context, userID, operation, key string) (Record, bool, error) {
	raw, err := l.client.Get(ctx, l.recordKey(userID, operation, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup idempotency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return record, true, nil
}

func (l *RedisLedger) Put(ctx context.Context, record Record) error {
	now := l.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	member := l.recordKey(record.UserID, record.Operation, record.Key)
	index := l.indexKey(record.UserID)
	cutoff := now.Add(-l.opts.TTL).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.Set(ctx, member, data, l.opts.TTL)
	pipe.ZAdd(ctx, index, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, index, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.Expire(ctx, index, l.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}

	return l.trim(ctx, index)
}

// trim evicts the oldest records once the user's index exceeds capacity.
func (l *RedisLedger) trim(ctx context.Context, index string) error {
	size, err := l.client.ZCard(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("count idempotency records: %w", err)
	}
	overflow := size - int64(l.opts.Capacity)
	if overflow <= 0 {
		return nil
	}

	evicted, err := l.client.ZRange(ctx, index, 0, overflow-1).Result()
	if err != nil {
		return fmt.Errorf("list idempotency records: %w", err)
	}
	if len(evicted) == 0 {
		return nil
	}
	members := make([]any, len(evicted))
	for i, key := range evicted {
		members[i] = key
	}

	pipe := l.client.TxPipeline()
	pipe.Del(ctx, evicted...)
	pipe.ZRem(ctx, index, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict idempotency records: %w", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
