// Package session implements the session manager: lease tracking,
// entry-path bookkeeping, termination, and the suspension primitives
// (AwaitEnd, AwaitAnyEnd) that wait for a session's end, per §4.4.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/metrics"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/sessionstore"
)

// DefaultScanInterval is the default interval at which the background
// expiration scan runs, per §10.
const DefaultScanInterval = 5 * time.Second

// CleanupFunc is invoked once, synchronously inside End (or the
// expiration scan), after a session transitions to ended, with the set of
// entry paths it was tracking at that moment. The lock manager supplies
// this hook at wiring time (the session manager itself has no knowledge
// of locks, avoiding a back-edge per the component layering in §9).
type CleanupFunc func(ctx context.Context, sid string, paths []string)

// Manager is the session manager described in §4.4. It is safe for
// concurrent use.
type Manager struct {
	store        sessionstore.Store
	scanInterval time.Duration
	cleanup      CleanupFunc
	metrics      metrics.Recorder

	mu            sync.Mutex
	endWaiters    map[string][]chan struct{}
	anyEndWaiters []chan string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager backed by store. cleanup may be nil (no
// cleanup action is taken on session end, useful for tests that only
// exercise lease/entry bookkeeping).
func New(store sessionstore.Store, scanInterval time.Duration, cleanup CleanupFunc) *Manager {
	if scanInterval <= 0 {
		scanInterval = DefaultScanInterval
	}
	return &Manager{
		store:        store,
		scanInterval: scanInterval,
		cleanup:      cleanup,
		metrics:      metrics.Noop(),
		endWaiters:   make(map[string][]chan struct{}),
		stopCh:       make(chan struct{}),
	}
}

// SetMetrics installs the Recorder used for session lifecycle
// observability. Passing nil restores the no-op recorder.
func (m *Manager) SetMetrics(r metrics.Recorder) {
	if r == nil {
		r = metrics.Noop()
	}
	m.metrics = r
}

// Start launches the background expiration scan. It must be called at
// most once per Manager.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.scanLoop()
}

// Close stops the background expiration scan and waits for it to exit.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) scanLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.scanOnce(context.Background())
		}
	}
}

func (m *Manager) scanOnce(ctx context.Context) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		logger.Warn("session expiration scan failed to list sessions", logger.Err(err))
		return
	}

	now := time.Now()
	for _, s := range sessions {
		if s.IsEnded || s.LeaseEnd.After(now) {
			continue
		}
		if err := m.endObserved(ctx, s); err != nil {
			logger.Warn("session expiration scan failed to end session", logger.SessionID(s.SessionID), logger.Err(err))
			continue
		}
		m.metrics.SessionExpired()
	}
}

// TryBegin creates the session record for sid iff none exists. It
// succeeds exactly once per sid.
func (m *Manager) TryBegin(ctx context.Context, sid string, leaseEnd time.Time) (bool, error) {
	fresh := model.NewSession(sid, leaseEnd)
	observed, ok, err := m.store.CompareExchange(ctx, fresh, nil)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	// CompareExchange with expected=nil reports ok=true both when we won
	// the create and when we lost a race and it returns the real current
	// record; compare against what we proposed to tell the two apart.
	won := observed.StorageVersion == fresh.StorageVersion && observed.LeaseEnd.Equal(fresh.LeaseEnd)
	if won {
		m.metrics.SessionStarted()
	}
	return won, nil
}

// UpdateLease advances sid's lease to newLeaseEnd. Fails with
// UnknownSession or SessionEnded.
func (m *Manager) UpdateLease(ctx context.Context, sid string, newLeaseEnd time.Time) error {
	for {
		current, ok, err := m.store.Get(ctx, sid)
		if err != nil {
			return err
		}
		if !ok {
			return coorderr.UnknownSession(sid)
		}
		if current.IsEnded {
			return coorderr.SessionEnded(sid)
		}

		next := current.WithLeaseEnd(newLeaseEnd)
		_, ok, err = m.store.CompareExchange(ctx, next, current)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// AddEntry records that sid is responsible for cleanup of path. Idempotent.
func (m *Manager) AddEntry(ctx context.Context, sid, path string) error {
	return m.mutateEntries(ctx, sid, func(s *model.StoredSession) *model.StoredSession {
		if s.HasEntry(path) {
			return nil
		}
		return s.WithAddedEntry(path)
	})
}

// RemoveEntry drops path from sid's tracked entries. A no-op if absent.
func (m *Manager) RemoveEntry(ctx context.Context, sid, path string) error {
	return m.mutateEntries(ctx, sid, func(s *model.StoredSession) *model.StoredSession {
		if !s.HasEntry(path) {
			return nil
		}
		return s.WithRemovedEntry(path)
	})
}

func (m *Manager) mutateEntries(ctx context.Context, sid string, mutate func(*model.StoredSession) *model.StoredSession) error {
	for {
		current, ok, err := m.store.Get(ctx, sid)
		if err != nil {
			return err
		}
		if !ok {
			return coorderr.UnknownSession(sid)
		}
		if current.IsEnded {
			return coorderr.SessionEnded(sid)
		}

		next := mutate(current)
		if next == nil {
			return nil
		}

		_, ok, err = m.store.CompareExchange(ctx, next, current)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Entries returns the set of paths sid is currently responsible for.
func (m *Manager) Entries(ctx context.Context, sid string) ([]string, error) {
	current, ok, err := m.store.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coorderr.UnknownSession(sid)
	}
	out := make([]string, 0, len(current.EntryPaths))
	for p := range current.EntryPaths {
		out = append(out, p)
	}
	return out, nil
}

// End transitions sid to ended. Idempotent; wakes all waiters on
// AwaitEnd(sid) and AwaitAnyEnd.
func (m *Manager) End(ctx context.Context, sid string) error {
	current, ok, err := m.store.Get(ctx, sid)
	if err != nil {
		return err
	}
	if !ok {
		return coorderr.UnknownSession(sid)
	}
	if current.IsEnded {
		return nil
	}
	return m.endObserved(ctx, current)
}

func (m *Manager) endObserved(ctx context.Context, current *model.StoredSession) error {
	for {
		if current.IsEnded {
			return nil
		}
		next := current.WithEndedState()
		observed, ok, err := m.store.CompareExchange(ctx, next, current)
		if err != nil {
			return err
		}
		if ok {
			m.metrics.SessionEnded()
			m.wakeEndWaiters(observed.SessionID)
			if m.cleanup != nil {
				paths := make([]string, 0, len(observed.EntryPaths))
				for p := range observed.EntryPaths {
					paths = append(paths, p)
				}
				m.cleanup(ctx, observed.SessionID, paths)
			}
			return nil
		}
		if observed == nil {
			return nil
		}
		current = observed
	}
}

func (m *Manager) wakeEndWaiters(sid string) {
	m.mu.Lock()
	waiters := m.endWaiters[sid]
	delete(m.endWaiters, sid)
	anyWaiters := m.anyEndWaiters
	m.anyEndWaiters = nil
	m.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, ch := range anyWaiters {
		ch <- sid
		close(ch)
	}
}

// IsLive reports whether sid exists, is not ended, and its lease has not
// expired.
func (m *Manager) IsLive(ctx context.Context, sid string) (bool, error) {
	current, ok, err := m.store.Get(ctx, sid)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return current.IsLive(time.Now()), nil
}

// AwaitEnd blocks until sid has ended, or ctx is done. Returns
// immediately if sid is already ended or unknown.
func (m *Manager) AwaitEnd(ctx context.Context, sid string) error {
	current, ok, err := m.store.Get(ctx, sid)
	if err != nil {
		return err
	}
	if !ok || current.IsEnded {
		return nil
	}

	m.mu.Lock()
	ch := make(chan struct{})
	m.endWaiters[sid] = append(m.endWaiters[sid], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return coorderr.Canceled()
	}
}

// AwaitAnyEnd blocks until any session ends, returning its id, or until
// ctx is done.
func (m *Manager) AwaitAnyEnd(ctx context.Context) (string, error) {
	m.mu.Lock()
	ch := make(chan string, 1)
	m.anyEndWaiters = append(m.anyEndWaiters, ch)
	m.mu.Unlock()

	select {
	case sid := <-ch:
		return sid, nil
	case <-ctx.Done():
		return "", coorderr.Canceled()
	}
}
