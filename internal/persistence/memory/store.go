// Package memory provides an in-process session store. It backs tests and
// single-node deployments that accept losing state on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// Store keeps sessions in a map guarded by a read/write mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session

	now         func() time.Time
	idGenerator func() string
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(next func() string) Option {
	return func(s *Store) {
		if next != nil {
			s.idGenerator = next
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]session.Session),
		now:         time.Now,
		idGenerator: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every session in display order.
func (s *Store) List(ctx context.Context) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]session.Session, 0, len(s.sessions))
	for _, item := range s.sessions {
		out = append(out, item.Clone())
	}
	session.Sort(out)
	return out, nil
}

// Create stores a new checked-in session built from draft.
func (s *Store) Create(ctx context.Context, draft persistence.Draft) (session.Session, error) {
	if draft.Duration <= 0 || draft.Name == "" {
		return session.Session{}, persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.idGenerator()
	if _, ok := s.sessions[id]; ok {
		return session.Session{}, fmt.Errorf("memory: session %s already exists: %w", id, persistence.ErrConstraintViolation)
	}

	created := session.CheckIn(id, draft.Name, draft.Duration, s.now())
	if draft.Photo != nil {
		photo := *draft.Photo
		created.Photo = &photo
	}
	s.sessions[id] = created.Clone()
	return created, nil
}

// Update merges patch into the stored session.
func (s *Store) Update(ctx context.Context, id string, patch persistence.Patch) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return session.Session{}, persistence.ErrNotFound
	}

	updated := current.Clone()
	patch.Apply(&updated)
	s.sessions[id] = updated
	return updated.Clone(), nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// ReplaceAll swaps the stored collection for sessions.
func (s *Store) ReplaceAll(ctx context.Context, sessions []session.Session) error {
	next := make(map[string]session.Session, len(sessions))
	for _, item := range sessions {
		if item.ID == "" {
			return fmt.Errorf("memory: session without id: %w", persistence.ErrConstraintViolation)
		}
		if _, dup := next[item.ID]; dup {
			return fmt.Errorf("memory: duplicate session %s: %w", item.ID, persistence.ErrConstraintViolation)
		}
		next[item.ID] = item.Clone()
	}

	s.mu.Lock()
	s.sessions = next
	s.mu.Unlock()
	return nil
}

// Close releases resources held by the store.
func (s *Store) Close() error {
	return nil
}
