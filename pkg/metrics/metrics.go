// Package metrics defines the recording interfaces the coordination
// packages call into. Every instrumented manager starts with the no-op
// Recorder returned by Noop, and SetMetrics(nil) restores it; concrete
// Recorder values are built by pkg/metrics/prometheus and installed at
// startup in cmd/zoolite.
package metrics

import "time"

// LockResult labels a lock acquisition outcome.
type LockResult string

const (
	LockResultGranted LockResult = "granted"
	LockResultWaited   LockResult = "waited"
)

// Recorder receives measurements from every layer of the coordination
// stack. Instrumented managers always hold a non-nil Recorder (Noop when
// none is installed), so callers never nil-check before recording.
type Recorder interface {
	// LockAcquired records a completed lock acquisition: kind is "read"
	// or "write", result distinguishes an uncontended grant from one
	// that had to wait.
	LockAcquired(kind string, result LockResult)

	// LockWaitObserved records how long a waiter blocked before the
	// lock it wanted became available.
	LockWaitObserved(kind string, d time.Duration)

	// SessionStarted and SessionEnded track the active session count.
	SessionStarted()
	SessionEnded()

	// SessionExpired records a lease expiring under the session
	// manager's background scan, as opposed to an explicit End.
	SessionExpired()

	// CacheHit and CacheMiss record cache manager Get outcomes.
	CacheHit()
	CacheMiss()

	// ExchangeMessageSent and ExchangeMessageReceived record exchange
	// manager traffic by message type. The exchange manager labels each
	// message with its wire type name ("InvalidateCacheEntry",
	// "ReleasedReadLock", "ReleasedWriteLock"); the lock manager also
	// records "released_read" or "released_write" once per release.
	ExchangeMessageSent(msgType string)
	ExchangeMessageReceived(msgType string)

	// StorageCASRetry records a CompareExchange call that lost its
	// race and had to be retried by its caller, labeled by the
	// coordstore backend in use.
	StorageCASRetry(store string)
}

// noop implements Recorder with empty methods. It is the default
// Recorder of every instrumented manager and the one SetMetrics(nil)
// installs.
type noop struct{}

func (noop) LockAcquired(string, LockResult)        {}
func (noop) LockWaitObserved(string, time.Duration) {}
func (noop) SessionStarted()                        {}
func (noop) SessionEnded()                           {}
func (noop) SessionExpired()                         {}
func (noop) CacheHit()                               {}
func (noop) CacheMiss()                              {}
func (noop) ExchangeMessageSent(string)              {}
func (noop) ExchangeMessageReceived(string)          {}
func (noop) StorageCASRetry(string)                  {}

// Noop returns a Recorder whose methods all do nothing.
func Noop() Recorder { return noop{} }
