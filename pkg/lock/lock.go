// Package lock implements the lock manager and wait manager algorithms
// of §4.8: read/write lock acquisition and release over entries held in
// a coordstore.Store, coordinated with the process-local wait directory
// and the exchange manager so that waiters unblock promptly rather than
// only by polling.
//
// Waiters are unordered; any ready waiter may proceed. Starvation is
// mitigated only by scheduling randomness and by the invalidate-then-wait
// discipline writers use against reader coalitions; a reader coalition
// that never drops its caches can still starve a writer indefinitely.
// No fairness mechanism is added on top of this; see the package-level
// design notes for why.
package lock

import (
	"context"
	"time"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/coordstore"
	"github.com/zoolite/zoolite/pkg/exchange"
	"github.com/zoolite/zoolite/pkg/metrics"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/waitdir"
)

// EntryTracker records which sessions must perform cleanup for which
// paths. It is satisfied by *session.Manager; the lock manager depends
// on it as an interface rather than importing the session package's
// concrete type, keeping the dependency direction from lock to session
// explicit without widening the package's surface.
type EntryTracker interface {
	AddEntry(ctx context.Context, sid, path string) error
	RemoveEntry(ctx context.Context, sid, path string) error
}

// Manager implements lock acquisition and release over entries in
// store. It is safe for concurrent use by many callers acting on behalf
// of many local sessions.
type Manager struct {
	store    coordstore.Store
	waitDir  *waitdir.Directory
	exchange *exchange.Manager
	sessions EntryTracker
	metrics  metrics.Recorder
}

// New builds a lock Manager.
func New(store coordstore.Store, waitDir *waitdir.Directory, exchangeMgr *exchange.Manager, sessions EntryTracker) *Manager {
	return &Manager{store: store, waitDir: waitDir, exchange: exchangeMgr, sessions: sessions, metrics: metrics.Noop()}
}

// SetMetrics installs the Recorder used for lock observability. Passing
// nil restores the no-op recorder. Safe to call at startup, before any
// concurrent use of the Manager begins.
func (m *Manager) SetMetrics(r metrics.Recorder) {
	if r == nil {
		r = metrics.Noop()
	}
	m.metrics = r
}

// AcquireRead acquires a shared lock on path for session s, creating the
// entry (transition C1) if it does not yet exist. It blocks until the
// lock is held or ctx is done.
func (m *Manager) AcquireRead(ctx context.Context, p, s string) (*model.StoredEntry, error) {
	current, currentOK, err := m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	waited := false
	result := func() metrics.LockResult {
		if waited {
			return metrics.LockResultWaited
		}
		return metrics.LockResultGranted
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, coorderr.Canceled()
		}

		if !currentOK {
			created := model.NewEntry(p, nil).WithAddedReadLock(s)
			observed, ok, err := m.store.CompareExchange(ctx, created, nil)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := m.sessions.AddEntry(ctx, s, p); err != nil {
					return nil, err
				}
				m.metrics.LockAcquired("read", result())
				return observed, nil
			}
			m.metrics.StorageCASRetry("coordstore")
			current, currentOK = observed, observed != nil
			continue
		}

		if current.WriteLock == "" || current.WriteLock == s {
			if current.HasReadLock(s) {
				m.metrics.LockAcquired("read", result())
				return current, nil
			}
			updated := current.WithAddedReadLock(s)
			observed, ok, err := m.store.CompareExchange(ctx, updated, current)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := m.sessions.AddEntry(ctx, s, p); err != nil {
					return nil, err
				}
				m.metrics.LockAcquired("read", result())
				return observed, nil
			}
			m.metrics.StorageCASRetry("coordstore")
			current, currentOK = observed, observed != nil
			continue
		}

		// Another session holds the write lock; wait for it to release.
		holder := current.WriteLock
		waiter := m.waitDir.RegisterRead(p, holder)

		reread, ok, err := m.store.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok || reread.WriteLock == "" || reread.WriteLock == s {
			current, currentOK = reread, ok
			continue
		}

		waitStart := time.Now()
		if err := waiter.Wait(ctx); err != nil {
			return nil, err
		}
		waited = true
		m.metrics.LockWaitObserved("read", time.Since(waitStart))
		current, currentOK, err = m.store.Get(ctx, p)
		if err != nil {
			return nil, err
		}
	}
}

// AcquireWrite acquires the exclusive lock on path for session s,
// creating the entry (transition C2) if it does not yet exist. It blocks
// until the lock is held or ctx is done. Before finally taking the lock
// over an entry still read-locked by other sessions, it invalidates each
// of their caches so they drop their stale copies promptly.
func (m *Manager) AcquireWrite(ctx context.Context, p, s string) (*model.StoredEntry, error) {
	current, currentOK, err := m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	waited := false
	result := func() metrics.LockResult {
		if waited {
			return metrics.LockResultWaited
		}
		return metrics.LockResultGranted
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, coorderr.Canceled()
		}

		if !currentOK {
			created := model.NewEntry(p, nil).WithWriteLock(s)
			observed, ok, err := m.store.CompareExchange(ctx, created, nil)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := m.sessions.AddEntry(ctx, s, p); err != nil {
					return nil, err
				}
				m.metrics.LockAcquired("write", result())
				return observed, nil
			}
			m.metrics.StorageCASRetry("coordstore")
			current, currentOK = observed, observed != nil
			continue
		}

		if current.WriteLock == "" && current.OnlyReadLockedBy(s) {
			updated := current.WithWriteLock(s)
			observed, ok, err := m.store.CompareExchange(ctx, updated, current)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := m.sessions.AddEntry(ctx, s, p); err != nil {
					return nil, err
				}
				m.metrics.LockAcquired("write", result())
				return observed, nil
			}
			m.metrics.StorageCASRetry("coordstore")
			current, currentOK = observed, observed != nil
			continue
		}

		if current.WriteLock != "" && current.WriteLock != s {
			waited = true
			next, err := m.waitOutWriter(ctx, p, s, current)
			if err != nil {
				return nil, err
			}
			current, currentOK = next, next != nil
			continue
		}

		// current.WriteLock == "" but read_locks ⊈ {s}: invalidate every
		// other reader and wait for each to release before retrying.
		waited = true
		next, err := m.waitOutReaders(ctx, p, s, current)
		if err != nil {
			return nil, err
		}
		current, currentOK = next, next != nil
	}
}

// waitOutWriter suspends until the write lock held by a session other
// than s is released, invalidating any other readers' caches on wakeup
// so that a subsequent write-lock attempt does not have to repeat the
// reader-invalidation dance in the common case. It returns the reread
// state the caller should resume its state machine from.
func (m *Manager) waitOutWriter(ctx context.Context, p, s string, current *model.StoredEntry) (*model.StoredEntry, error) {
	holder := current.WriteLock
	waiter := m.waitDir.RegisterWrite(p, holder)

	reread, ok, err := m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok || reread.WriteLock == "" || reread.WriteLock == s {
		if !ok {
			return nil, nil
		}
		return reread, nil
	}

	waitStart := time.Now()
	if err := waiter.Wait(ctx); err != nil {
		return nil, err
	}
	m.metrics.LockWaitObserved("write", time.Since(waitStart))

	reread, ok, err = m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, r := range reread.ReadLocksExcept(s) {
			m.exchange.InvalidateCache(ctx, p, r)
		}
	}
	if !ok {
		return nil, nil
	}
	return reread, nil
}

// waitOutReaders registers read-release waiters for every reader other
// than s before invalidating their caches, per the wait directory's
// register-then-notify invariant: registering only after sending the
// invalidation risks losing a release that fires between the send and
// the registration.
func (m *Manager) waitOutReaders(ctx context.Context, p, s string, current *model.StoredEntry) (*model.StoredEntry, error) {
	others := current.ReadLocksExcept(s)
	if len(others) == 0 {
		return current, nil
	}

	waiters := make([]*waitdir.Waiter, 0, len(others))
	for _, r := range others {
		waiters = append(waiters, m.waitDir.RegisterRead(p, r))
	}

	reread, ok, err := m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if reread.WriteLock != "" {
		return reread, nil
	}
	stillOthers := reread.ReadLocksExcept(s)
	if len(stillOthers) == 0 {
		return reread, nil
	}

	for _, r := range others {
		m.exchange.InvalidateCache(ctx, p, r)
	}
	waitStart := time.Now()
	for _, w := range waiters {
		if err := w.Wait(ctx); err != nil {
			return nil, err
		}
	}
	m.metrics.LockWaitObserved("write", time.Since(waitStart))

	reread, ok, err = m.store.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return reread, nil
}

// ReleaseRead releases session s's shared lock on path p. A no-op if s
// does not currently hold it.
func (m *Manager) ReleaseRead(ctx context.Context, p, s string) error {
	for {
		if err := ctx.Err(); err != nil {
			return coorderr.Canceled()
		}

		current, ok, err := m.store.Get(ctx, p)
		if err != nil {
			return err
		}
		if !ok || !current.HasReadLock(s) {
			return nil
		}

		updated := current.WithRemovedReadLock(s)
		_, ok, err = m.store.CompareExchange(ctx, updated, current)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		m.exchange.NotifyReadRelease(ctx, p, s)
		m.metrics.ExchangeMessageSent("released_read")
		return m.sessions.RemoveEntry(ctx, s, p)
	}
}

// Cleanup reclaims everything session sid was responsible for at the
// paths it was tracking when it ended: an entry it owns ephemerally is
// removed outright; any lock it still holds is released through the
// normal release path so waiters are notified exactly as they would be
// for a graceful release. It matches session.CleanupFunc's signature so
// it can be wired in directly as the session manager's cleanup hook.
// Idempotent: safe to run more than once for the same session, whether
// because cleanup raced another caller or because it is retried after a
// transient failure.
func (m *Manager) Cleanup(ctx context.Context, sid string, paths []string) {
	for _, p := range paths {
		m.cleanupOne(ctx, p, sid)
	}
}

func (m *Manager) cleanupOne(ctx context.Context, p, sid string) {
	current, ok, err := m.store.Get(ctx, p)
	if err != nil || !ok {
		return
	}

	if current.EphemeralOwner == sid {
		if _, _, err := m.store.CompareExchange(ctx, nil, current); err != nil {
			return
		}
		if current.IsWriteLockedBy(sid) {
			m.exchange.NotifyWriteRelease(ctx, p, sid)
		} else if current.HasReadLock(sid) {
			m.exchange.NotifyReadRelease(ctx, p, sid)
		}
		return
	}

	if current.IsWriteLockedBy(sid) {
		_ = m.ReleaseWrite(ctx, p, sid)
		return
	}
	if current.HasReadLock(sid) {
		_ = m.ReleaseRead(ctx, p, sid)
	}
}

// ReleaseWrite releases session s's exclusive lock on path p. A no-op if
// s does not currently hold it.
func (m *Manager) ReleaseWrite(ctx context.Context, p, s string) error {
	for {
		if err := ctx.Err(); err != nil {
			return coorderr.Canceled()
		}

		current, ok, err := m.store.Get(ctx, p)
		if err != nil {
			return err
		}
		if !ok || !current.IsWriteLockedBy(s) {
			return nil
		}

		updated := current.WithWriteLockReleased()
		_, ok, err = m.store.CompareExchange(ctx, updated, current)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		m.exchange.NotifyWriteRelease(ctx, p, s)
		m.metrics.ExchangeMessageSent("released_write")
		return m.sessions.RemoveEntry(ctx, s, p)
	}
}
