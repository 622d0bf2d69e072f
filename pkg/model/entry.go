// Package model defines the plain data records persisted by the
// coordination and session storage layers, along with the transition
// helpers that keep their invariants intact.
package model

import (
	"time"
)

// StoredEntry is the persisted representation of a coordination entry,
// identified by its escaped path. All fields are immutable from the
// caller's perspective; mutation happens by constructing a new value and
// submitting it through a CAS call.
type StoredEntry struct {
	Path string

	// Value is the opaque byte payload held at this path.
	Value []byte

	// ReadLocks is the set of session ids holding a shared lock.
	ReadLocks map[string]struct{}

	// WriteLock is the session id holding the exclusive lock, or "" if none.
	WriteLock string

	// StorageVersion is the value-version observed by clients through
	// get/set_value/delete; it advances only on a value mutation (create,
	// set_value, the delete tombstone) (I4). It never moves on a lock
	// acquire or release, so expected_version checks are insulated from
	// lock churn on the same path.
	StorageVersion uint64

	// LockVersion is the optimistic-concurrency token the lock manager's
	// read/write acquire and release transitions advance on every
	// successful mutation. It shares the entry's row with StorageVersion
	// so the backing store can still CAS lock-state changes atomically,
	// but it carries no client-visible meaning of its own.
	LockVersion uint64

	// EphemeralOwner is the owning session id if this entry is ephemeral,
	// or "" otherwise.
	EphemeralOwner string

	// IsMarkedAsDeleted is the tombstone sentinel (I5): once true, no
	// further mutation except final removal once all locks release.
	IsMarkedAsDeleted bool
}

// NewEntry constructs a fresh StoredEntry at StorageVersion 0 (pre-create
// sentinel) and LockVersion 0, with empty lock sets, for use as the "new"
// side of a create CAS.
func NewEntry(path string, value []byte) *StoredEntry {
	return &StoredEntry{
		Path:           path,
		Value:          value,
		ReadLocks:      make(map[string]struct{}),
		StorageVersion: 0,
	}
}

// Clone returns a deep copy of e, safe to mutate independently.
func (e *StoredEntry) Clone() *StoredEntry {
	if e == nil {
		return nil
	}
	clone := &StoredEntry{
		Path:              e.Path,
		Value:             append([]byte(nil), e.Value...),
		WriteLock:         e.WriteLock,
		StorageVersion:    e.StorageVersion,
		LockVersion:       e.LockVersion,
		EphemeralOwner:    e.EphemeralOwner,
		IsMarkedAsDeleted: e.IsMarkedAsDeleted,
	}
	clone.ReadLocks = make(map[string]struct{}, len(e.ReadLocks))
	for s := range e.ReadLocks {
		clone.ReadLocks[s] = struct{}{}
	}
	return clone
}

// HasReadLock reports whether session holds a shared lock.
func (e *StoredEntry) HasReadLock(session string) bool {
	_, ok := e.ReadLocks[session]
	return ok
}

// IsWriteLockedBy reports whether session holds the exclusive lock.
func (e *StoredEntry) IsWriteLockedBy(session string) bool {
	return e.WriteLock == session
}

// IsWriteLocked reports whether any session holds the exclusive lock (I1:
// implies ReadLocks is empty).
func (e *StoredEntry) IsWriteLocked() bool {
	return e.WriteLock != ""
}

// ReadLocksExcept returns the read-lock holders other than except, in
// unspecified order.
func (e *StoredEntry) ReadLocksExcept(except string) []string {
	out := make([]string, 0, len(e.ReadLocks))
	for s := range e.ReadLocks {
		if s != except {
			out = append(out, s)
		}
	}
	return out
}

// OnlyReadLockedBy reports whether ReadLocks is a subset of {session}
// (used by the write-lock-acquire precondition in step 2 of §4.8).
func (e *StoredEntry) OnlyReadLockedBy(session string) bool {
	for s := range e.ReadLocks {
		if s != session {
			return false
		}
	}
	return true
}

// WithAddedReadLock returns a clone of e with session added to ReadLocks
// and LockVersion advanced by one.
func (e *StoredEntry) WithAddedReadLock(session string) *StoredEntry {
	clone := e.Clone()
	clone.ReadLocks[session] = struct{}{}
	clone.LockVersion++
	return clone
}

// WithRemovedReadLock returns a clone of e with session removed from
// ReadLocks and LockVersion advanced by one.
func (e *StoredEntry) WithRemovedReadLock(session string) *StoredEntry {
	clone := e.Clone()
	delete(clone.ReadLocks, session)
	clone.LockVersion++
	return clone
}

// WithWriteLock returns a clone of e with the exclusive lock granted to
// session and ReadLocks cleared (I1), LockVersion advanced by one.
func (e *StoredEntry) WithWriteLock(session string) *StoredEntry {
	clone := e.Clone()
	clone.WriteLock = session
	clone.ReadLocks = make(map[string]struct{})
	clone.LockVersion++
	return clone
}

// WithWriteLockReleased returns a clone of e with the exclusive lock
// cleared, LockVersion advanced by one.
func (e *StoredEntry) WithWriteLockReleased() *StoredEntry {
	clone := e.Clone()
	clone.WriteLock = ""
	clone.LockVersion++
	return clone
}

// WithValue returns a clone of e with Value replaced and StorageVersion
// advanced by one.
func (e *StoredEntry) WithValue(value []byte) *StoredEntry {
	clone := e.Clone()
	clone.Value = append([]byte(nil), value...)
	clone.StorageVersion++
	return clone
}

// WithMarkedDeleted returns a clone of e with IsMarkedAsDeleted set and
// StorageVersion advanced by one (I5).
func (e *StoredEntry) WithMarkedDeleted() *StoredEntry {
	clone := e.Clone()
	clone.IsMarkedAsDeleted = true
	clone.StorageVersion++
	return clone
}

// HasNoHolders reports whether e has neither read nor write lock holders,
// i.e. it is eligible for final removal once marked deleted.
func (e *StoredEntry) HasNoHolders() bool {
	return e.WriteLock == "" && len(e.ReadLocks) == 0
}

// StoredSession is the persisted representation of a session record.
type StoredSession struct {
	SessionID string

	// LeaseEnd is the absolute time before which the session is live.
	LeaseEnd time.Time

	// IsEnded is terminal (S1): once true, no further mutation.
	IsEnded bool

	// EntryPaths is the set of escaped paths for which this session must
	// perform cleanup on termination.
	EntryPaths map[string]struct{}

	// StorageVersion is the optimistic-concurrency token (S3).
	StorageVersion uint64
}

// NewSession constructs a fresh StoredSession at version 0.
func NewSession(sessionID string, leaseEnd time.Time) *StoredSession {
	return &StoredSession{
		SessionID:      sessionID,
		LeaseEnd:       leaseEnd,
		EntryPaths:     make(map[string]struct{}),
		StorageVersion: 0,
	}
}

// Clone returns a deep copy of s, safe to mutate independently.
func (s *StoredSession) Clone() *StoredSession {
	if s == nil {
		return nil
	}
	clone := &StoredSession{
		SessionID:      s.SessionID,
		LeaseEnd:       s.LeaseEnd,
		IsEnded:        s.IsEnded,
		StorageVersion: s.StorageVersion,
	}
	clone.EntryPaths = make(map[string]struct{}, len(s.EntryPaths))
	for p := range s.EntryPaths {
		clone.EntryPaths[p] = struct{}{}
	}
	return clone
}

// IsLive reports whether s is live at instant now: not ended and its lease
// has not yet expired.
func (s *StoredSession) IsLive(now time.Time) bool {
	return !s.IsEnded && s.LeaseEnd.After(now)
}

// WithLeaseEnd returns a clone of s with LeaseEnd advanced (S2: callers
// must only call this with a later time) and StorageVersion advanced.
func (s *StoredSession) WithLeaseEnd(leaseEnd time.Time) *StoredSession {
	clone := s.Clone()
	clone.LeaseEnd = leaseEnd
	clone.StorageVersion++
	return clone
}

// WithEndedState returns a clone of s with IsEnded set (S1) and
// StorageVersion advanced.
func (s *StoredSession) WithEndedState() *StoredSession {
	clone := s.Clone()
	clone.IsEnded = true
	clone.StorageVersion++
	return clone
}

// WithAddedEntry returns a clone of s with path added to EntryPaths
// (idempotent) and StorageVersion advanced.
func (s *StoredSession) WithAddedEntry(path string) *StoredSession {
	clone := s.Clone()
	clone.EntryPaths[path] = struct{}{}
	clone.StorageVersion++
	return clone
}

// WithRemovedEntry returns a clone of s with path removed from EntryPaths
// (no-op if absent) and StorageVersion advanced.
func (s *StoredSession) WithRemovedEntry(path string) *StoredSession {
	clone := s.Clone()
	delete(clone.EntryPaths, path)
	clone.StorageVersion++
	return clone
}

// HasEntry reports whether path is tracked in s.EntryPaths.
func (s *StoredSession) HasEntry(path string) bool {
	_, ok := s.EntryPaths[path]
	return ok
}
