package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Store implementations when no session exists
// for the given key (or it has expired).
var ErrNotFound = errors.New("session not found")

// Store is a keyed session store. Every operation takes the opaque session
// id issued by the cookie middleware; implementations provide no
// cross-session visibility.
//
// Update applies the mutation to the current session value and persists the
// result, so a caller touching a single diagnostics key keeps siblings
// written by an earlier request. MemoryStore serializes updates under its
// lock; the Postgres and Redis backings implement Update as an
// unsynchronized read-modify-write, so two updates racing on the same
// session there resolve last-write-wins. Only advisory diagnostic state
// flows through Update, so a lost write costs one trace entry, not tokens.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Update(ctx context.Context, id string, mutate func(*Session)) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the in-process Store backing: a mutex-guarded map with a
// per-entry TTL measured from last update.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store with the given session TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	var copied *Session
	if ok {
		copied = sess.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Since(copied.UpdatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	return copied, nil
}

func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	copied := sess.Clone()
	s.mu.Lock()
	s.sessions[sess.ID] = copied
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || time.Since(sess.UpdatedAt) > s.ttl {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}

	mutate(sess)
	sess.UpdatedAt = time.Now()
	return sess.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Cleanup removes expired sessions. Callers run it on a ticker.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}
