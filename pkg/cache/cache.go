// Package cache implements the local cache manager of §4.9: a map from
// path to a cached entry value backed by a held read lock, kept coherent
// by the invalidation callback directory rather than by polling.
package cache

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/metrics"
	"github.com/zoolite/zoolite/pkg/model"
)

// LockAcquirer is the subset of *lock.Manager the cache manager needs:
// acquire and release a read lock on behalf of the local session. Kept
// as a narrow interface rather than importing pkg/lock's full surface.
type LockAcquirer interface {
	AcquireRead(ctx context.Context, path, session string) (*model.StoredEntry, error)
	ReleaseRead(ctx context.Context, path, session string) error
}

type line struct {
	entry  *model.StoredEntry
	handle invaldir.Handle
}

// Manager is the local cache for one session's reads. It is safe for
// concurrent use.
type Manager struct {
	self     string
	locks    LockAcquirer
	invalDir *invaldir.Directory
	metrics  metrics.Recorder

	mu    sync.Mutex
	lines map[string]*line
}

// New builds a cache Manager for the local session self.
func New(self string, locks LockAcquirer, invalDir *invaldir.Directory) *Manager {
	return &Manager{self: self, locks: locks, invalDir: invalDir, lines: make(map[string]*line), metrics: metrics.Noop()}
}

// SetMetrics installs the Recorder used for cache hit/miss observability.
// Passing nil restores the no-op recorder.
func (m *Manager) SetMetrics(r metrics.Recorder) {
	if r == nil {
		r = metrics.Noop()
	}
	m.metrics = r
}

// Get returns the entry at path, serving it from the cache if a read
// lock is already held for it, and otherwise acquiring the read lock,
// installing an invalidation callback, and caching the result.
func (m *Manager) Get(ctx context.Context, path string) (*model.StoredEntry, error) {
	if cached, ok := m.cached(path); ok {
		m.metrics.CacheHit()
		return cached, nil
	}
	m.metrics.CacheMiss()

	entry, err := m.locks.AcquireRead(ctx, path, m.self)
	if err != nil {
		return nil, err
	}

	handle := m.invalDir.Register(path, func(ctx context.Context) {
		m.evict(ctx, path)
	})

	m.mu.Lock()
	m.lines[path] = &line{entry: entry, handle: handle}
	m.mu.Unlock()

	return entry, nil
}

func (m *Manager) cached(path string) (*model.StoredEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.lines[path]
	if !ok {
		return nil, false
	}
	return l.entry, true
}

// evict drops the cache line for path and releases the read lock it was
// holding on path's behalf. Invoked as the invalidation callback fired
// when a writer is about to take the write lock on path.
func (m *Manager) evict(ctx context.Context, path string) {
	m.mu.Lock()
	_, ok := m.lines[path]
	delete(m.lines, path)
	m.mu.Unlock()

	if !ok {
		return
	}
	_ = m.locks.ReleaseRead(ctx, path, m.self)
}

// Forget drops any cached line for path without releasing its read
// lock, for use when the caller has already released the lock through
// some other path (e.g. an explicit set_value under a write lock that
// also held, and now supersedes, this session's own cached read). The
// pending invalidation callback is deregistered so a later invalidation
// of this path does not fire a no-op eviction against a line that is
// already gone.
func (m *Manager) Forget(path string) {
	m.mu.Lock()
	l, ok := m.lines[path]
	delete(m.lines, path)
	m.mu.Unlock()

	if ok {
		l.handle.Deregister()
	}
}
