// Package memory implements the sessionstore.Store contract over a
// mutex-guarded in-memory map.
package memory

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
)

// Store is a sync.RWMutex-guarded in-memory implementation of
// sessionstore.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.StoredSession
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*model.StoredSession)}
}

// Get implements sessionstore.Store.
func (s *Store) Get(ctx context.Context, sid string) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sid]
	if !ok {
		return nil, false, nil
	}
	return session.Clone(), true, nil
}

// CompareExchange implements sessionstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newSession, expected *model.StoredSession) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if newSession != nil && expected != nil && newSession.SessionID != expected.SessionID {
		return nil, false, coorderr.KeyMismatch(newSession.SessionID, expected.SessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sid := sidOf(newSession, expected)
	current, exists := s.sessions[sid]

	if !versionMatches(current, exists, expected) {
		if !exists {
			return nil, false, nil
		}
		return current.Clone(), true, nil
	}

	if newSession == nil {
		delete(s.sessions, sid)
		return nil, false, nil
	}

	stored := newSession.Clone()
	s.sessions[sid] = stored
	return stored.Clone(), true, nil
}

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(ctx context.Context) ([]*model.StoredSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.StoredSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	return out, nil
}

func sidOf(newSession, expected *model.StoredSession) string {
	if newSession != nil {
		return newSession.SessionID
	}
	return expected.SessionID
}

func versionMatches(current *model.StoredSession, exists bool, expected *model.StoredSession) bool {
	if expected == nil {
		return !exists
	}
	if !exists {
		return false
	}
	return current.StorageVersion == expected.StorageVersion
}
