package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"lifeos/api/internal/dashboard"
)

// MemoryStore keeps snapshots, users, and LLM modes in process memory. It
// backs LIFEOS_STORAGE=memory and the service tests.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]dashboard.Snapshot
	users     map[string]User
	llmModes  map[string]dashboard.LlmMode
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]dashboard.Snapshot),
		users:     make(map[string]User),
		llmModes:  make(map[string]dashboard.LlmMode),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for seeded snapshots.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) ReadSnapshot(_ context.Context, userID string) (dashboard.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot, ok := s.snapshots[userID]; ok {
		return snapshot.Clone(), nil
	}
	seeded := dashboard.Defaults(s.now().UTC())
	seeded.Version = 1
	s.snapshots[userID] = seeded
	return seeded.Clone(), nil
}

func (s *MemoryStore) WriteSnapshot(_ context.Context, userID string, snapshot dashboard.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.snapshots[userID]
	switch {
	case !exists && snapshot.Version != 0:
		return ErrConflict
	case exists && current.Version != snapshot.Version:
		return ErrConflict
	}

	next := snapshot.Clone()
	if exists {
		next.UpdatedAt = laterOf(current.UpdatedAt, next.UpdatedAt)
	}
	next.Version = snapshot.Version + 1
	s.snapshots[userID] = next
	return nil
}

func (s *MemoryStore) ResetSnapshot(_ context.Context, userID string) (dashboard.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var version int64
	if current, ok := s.snapshots[userID]; ok {
		now = laterOf(current.UpdatedAt, now)
		version = current.Version
	}
	next := dashboard.Defaults(now)
	next.Version = version + 1
	s.snapshots[userID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ReadLlmMode(_ context.Context, userID string) (dashboard.LlmMode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mode, ok := s.llmModes[userID]
	return mode, ok, nil
}

func (s *MemoryStore) WriteLlmMode(_ context.Context, userID string, mode dashboard.LlmMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmModes[userID] = mode
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrDuplicate
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
