// Package memory implements the coordstore.Store contract over a
// mutex-guarded in-memory map, for tests and single-process deployments
// with no durability requirement.
package memory

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/path"
)

// Store is a sync.RWMutex-guarded in-memory implementation of
// coordstore.Store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*model.StoredEntry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*model.StoredEntry)}
}

// Get implements coordstore.Store.
func (s *Store) Get(ctx context.Context, path string) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[path]
	if !ok {
		return nil, false, nil
	}
	return entry.Clone(), true, nil
}

// CompareExchange implements coordstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newEntry, expected *model.StoredEntry) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if key, mismatch := keysMismatch(newEntry, expected); mismatch {
		return nil, false, coorderr.KeyMismatch(key[0], key[1])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyOf(newEntry, expected)
	current, exists := s.entries[key]

	if !matchesExpected(current, exists, expected) {
		if !exists {
			return nil, false, nil
		}
		return current.Clone(), true, nil
	}

	if newEntry == nil {
		delete(s.entries, key)
		return nil, false, nil
	}

	stored := newEntry.Clone()
	s.entries[key] = stored
	return stored.Clone(), true, nil
}

// ListChildren implements coordstore.Store by scanning every stored
// entry, since the in-memory map carries no index of parent-to-child
// relationships.
func (s *Store) ListChildren(ctx context.Context, parent string) ([]*model.StoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	parentPath, err := path.Parse(parent)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var children []*model.StoredEntry
	for _, entry := range s.entries {
		childPath, err := path.Parse(entry.Path)
		if err != nil {
			continue
		}
		if childPath.IsChildOf(parentPath) {
			children = append(children, entry.Clone())
		}
	}
	return children, nil
}

func keyOf(newEntry, expected *model.StoredEntry) string {
	if newEntry != nil {
		return newEntry.Path
	}
	return expected.Path
}

func keysMismatch(newEntry, expected *model.StoredEntry) ([2]string, bool) {
	if newEntry != nil && expected != nil && newEntry.Path != expected.Path {
		return [2]string{newEntry.Path, expected.Path}, true
	}
	return [2]string{}, false
}

func matchesExpected(current *model.StoredEntry, exists bool, expected *model.StoredEntry) bool {
	if expected == nil {
		return !exists
	}
	if !exists {
		return false
	}
	return current.StorageVersion == expected.StorageVersion && current.LockVersion == expected.LockVersion
}
