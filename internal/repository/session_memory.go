package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// InMemorySessionStore implements SessionStore using in-memory storage.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*domain.Session
}

// NewInMemorySessionStore creates a new in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[domain.UserID]*domain.Session),
	}
}

// Get returns a copy of the session.
func (r *InMemorySessionStore) Get(ctx context.Context, userID domain.UserID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// GetOrCreate returns the existing session or stores a new one.
func (r *InMemorySessionStore) GetOrCreate(ctx context.Context, userID domain.UserID, init func() *domain.Session) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; ok {
		return s.Clone(), nil
	}
	s := init()
	s.UserID = userID
	r.sessions[userID] = s
	return s.Clone(), nil
}

// Mutate applies fn to a copy of the session and stores it when fn succeeds.
func (r *InMemorySessionStore) Mutate(ctx context.Context, userID domain.UserID, fn func(s *domain.Session) error) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[userID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.sessions[userID] = next
	return next.Clone(), nil
}

// Delete removes the session.
func (r *InMemorySessionStore) Delete(ctx context.Context, userID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, userID)
	return nil
}

// List returns copies of all sessions ordered by user id.
func (r *InMemorySessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
