package ledger

import (
	"context"
	"sync"
	"time"
)

type recordKey struct {
	operation string
	key       string
}

type userRecords struct {
	order   []recordKey
	records map[recordKey]Record
}

// MemoryLedger is the in-process ledger used with LIFEOS_STORAGE=memory.
type MemoryLedger struct {
	mu    sync.Mutex
	opts  Options
	users map[string]*userRecords
	now   func() time.Time
}

func NewMemoryLedger(opts Options) *MemoryLedger {
	return &MemoryLedger{
		opts:  opts.withDefaults(),
		users: make(map[string]*userRecords),
		now:   time.Now,
	}
}

func (l *MemoryLedger) Find(_ context.Context, userID, operation, key string) (Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.users[userID]
	if !ok {
		return Record{}, false, nil
	}
	record, ok := bucket.records[recordKey{operation, key}]
	if !ok || l.expired(record) {
		return Record{}, false, nil
	}
	record.Response = append([]byte(nil), record.Response...)
	return record, true, nil
}

func (l *MemoryLedger) Put(_ context.Context, record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = l.now().UTC()
	}
	record.Response = append([]byte(nil), record.Response...)

	bucket, ok := l.users[record.UserID]
	if !ok {
		bucket = &userRecords{records: make(map[recordKey]Record)}
		l.users[record.UserID] = bucket
	}

	rk := recordKey{record.Operation, record.Key}
	if _, exists := bucket.records[rk]; exists {
		bucket.remove(rk)
	}
	bucket.order = append(bucket.order, rk)
	bucket.records[rk] = record

	// Oldest first: drop expired entries, then trim to capacity.
	for len(bucket.order) > 0 {
		oldest := bucket.order[0]
		if !l.expired(bucket.records[oldest]) && len(bucket.order) <= l.opts.Capacity {
			break
		}
		bucket.order = bucket.order[1:]
		delete(bucket.records, oldest)
	}
	return nil
}

func (l *MemoryLedger) expired(record Record) bool {
	return l.now().Sub(record.CreatedAt) >= l.opts.TTL
}

func (b *userRecords) remove(rk recordKey) {
	for i, existing := range b.order {
		if existing == rk {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	delete(b.records, rk)
}
