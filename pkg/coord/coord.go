// Package coord implements the coordination manager facade of §4.10: the
// public operations (create, get_or_create, get, set_value, delete,
// get_session) built by composing the storage, lock, cache, and session
// layers top-down. No package under pkg/ imports coord (only the
// cmd/zoolite entry point does), keeping it a leaf of the library's
// dependency graph as called for in §9's back-edge-free layering.
package coord

import (
	"context"
	"sync"
	"time"

	"github.com/zoolite/zoolite/internal/telemetry"
	"github.com/zoolite/zoolite/pkg/cache"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/coordstore"
	"github.com/zoolite/zoolite/pkg/lock"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/path"
	"github.com/zoolite/zoolite/pkg/session"
)

// Mode selects create/get_or_create's entry lifetime.
type Mode int

const (
	// Default entries persist until explicitly deleted.
	Default Mode = iota

	// Ephemeral entries are owned by the creating session and are
	// removed outright when that session ends (§4.4's cleanup rule).
	Ephemeral
)

func (m Mode) String() string {
	if m == Ephemeral {
		return "ephemeral"
	}
	return "default"
}

// DefaultLeaseDuration is the lease length requested when a session is
// lazily created on first use of the facade, per §10's session defaults.
const DefaultLeaseDuration = 30 * time.Second

// Manager is the coordination manager facade for one local session. It
// is the only package application code is expected to import directly.
type Manager struct {
	store    coordstore.Store
	locks    *lock.Manager
	cache    *cache.Manager
	sessions *session.Manager
	self     string

	leaseDuration time.Duration

	mu             sync.Mutex
	sessionStarted bool
}

// New builds a facade Manager for the local session self. leaseDuration,
// if zero, defaults to DefaultLeaseDuration.
func New(store coordstore.Store, locks *lock.Manager, cacheMgr *cache.Manager, sessions *session.Manager, self string, leaseDuration time.Duration) *Manager {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	return &Manager{
		store:         store,
		locks:         locks,
		cache:         cacheMgr,
		sessions:      sessions,
		self:          self,
		leaseDuration: leaseDuration,
	}
}

// GetSession returns the local session id, starting its lease record on
// first use.
func (m *Manager) GetSession(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartCoordSpan(ctx, "GetSession", "", telemetry.SessionID(m.self))
	defer span.End()

	if err := m.ensureSession(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	return m.self, nil
}

func (m *Manager) ensureSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionStarted {
		return nil
	}
	if _, err := m.sessions.TryBegin(ctx, m.self, time.Now().Add(m.leaseDuration)); err != nil {
		return err
	}
	m.sessionStarted = true
	return nil
}

// Create creates a fresh entry at p with the given value and mode,
// failing with EntryAlreadyExists if one is already there. Per I2, any
// missing ancestor of p is created first as a Default entry with a nil
// value, matching the implicit-children data model of §3.
func (m *Manager) Create(ctx context.Context, p path.Path, value []byte, mode Mode) (*model.StoredEntry, error) {
	ctx, span := telemetry.StartCoordSpan(ctx, "Create", p.Escape(), telemetry.SessionID(m.self))
	defer span.End()

	entry, err := m.create(ctx, p, value, mode)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return entry, err
}

func (m *Manager) create(ctx context.Context, p path.Path, value []byte, mode Mode) (*model.StoredEntry, error) {
	if err := m.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := m.ensureAncestors(ctx, p); err != nil {
		return nil, err
	}

	escaped := p.Escape()
	fresh := model.NewEntry(escaped, value)
	// NewEntry's StorageVersion starts at the pre-create sentinel 0; a
	// client that creates p must observe its first real value version
	// as 1, so Create advances it itself before the CAS. This is
	// unrelated to LockVersion, which the lock manager's own
	// auto-vivifying create paths (transition C1/C2) advance instead
	// when a lock is acquired on a path nobody has created yet.
	fresh.StorageVersion = 1
	if mode == Ephemeral {
		fresh.EphemeralOwner = m.self
	}

	observed, ok, err := m.store.CompareExchange(ctx, fresh, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coorderr.AlreadyExists(escaped)
	}

	if mode == Ephemeral {
		if err := m.sessions.AddEntry(ctx, m.self, escaped); err != nil {
			return nil, err
		}
	}
	return observed, nil
}

// ensureAncestors walks from the root down to p's parent, creating any
// ancestor that does not yet exist. It never fails with
// EntryAlreadyExists: losing the create race against a concurrent
// creator of the same ancestor is the expected, successful outcome.
func (m *Manager) ensureAncestors(ctx context.Context, p path.Path) error {
	parent, ok := p.Parent()
	if !ok {
		return nil
	}
	if err := m.ensureAncestors(ctx, parent); err != nil {
		return err
	}

	escaped := parent.Escape()
	if _, ok, err := m.store.Get(ctx, escaped); err != nil {
		return err
	} else if ok {
		return nil
	}

	ancestor := model.NewEntry(escaped, nil)
	ancestor.StorageVersion = 1
	_, _, err := m.store.CompareExchange(ctx, ancestor, nil)
	return err
}

// GetOrCreate creates p with value and mode if absent, otherwise behaves
// exactly like Get.
func (m *Manager) GetOrCreate(ctx context.Context, p path.Path, value []byte, mode Mode) (*model.StoredEntry, error) {
	ctx, span := telemetry.StartCoordSpan(ctx, "GetOrCreate", p.Escape(), telemetry.SessionID(m.self))
	defer span.End()

	entry, err := m.create(ctx, p, value, mode)
	if err == nil {
		return entry, nil
	}
	if !coorderr.Is(err, coorderr.ErrEntryAlreadyExists) {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	entry, err = m.get(ctx, p)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return entry, err
}

// Get returns the entry at p, reading through the cache-coherent path
// of §4.9.
func (m *Manager) Get(ctx context.Context, p path.Path) (*model.StoredEntry, error) {
	ctx, span := telemetry.StartCoordSpan(ctx, "Get", p.Escape(), telemetry.SessionID(m.self))
	defer span.End()

	entry, err := m.get(ctx, p)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return entry, err
}

func (m *Manager) get(ctx context.Context, p path.Path) (*model.StoredEntry, error) {
	if err := m.ensureSession(ctx); err != nil {
		return nil, err
	}

	escaped := p.Escape()

	// A read-only get must not resurrect a path that does not exist: the
	// cache manager's AcquireRead would otherwise treat an absent path
	// as transition C1 and create it. Checking existence first keeps get
	// a pure read; the narrow race against a concurrent delete between
	// this check and the cache read below is the same kind of
	// non-atomicity §5 already accepts across multi-step operations.
	if _, ok, err := m.store.Get(ctx, escaped); err != nil {
		return nil, err
	} else if !ok {
		return nil, coorderr.NotFound(escaped)
	}

	entry, err := m.cache.Get(ctx, escaped)
	if err != nil {
		return nil, err
	}
	if entry.IsMarkedAsDeleted {
		m.cache.Forget(escaped)
		_ = m.locks.ReleaseRead(ctx, escaped, m.self)
		return nil, coorderr.NotFound(escaped)
	}
	return entry, nil
}

// SetValue writes value to p under the write lock, unconditionally if
// expectedVersion is 0, otherwise failing with VersionConflict unless
// p's current storage_version equals expectedVersion. storage_version
// tracks only value mutations, not lock acquisition or release, so a
// session that reads p and then writes it compares against the version
// it actually observed rather than one inflated by its own lock churn.
// It returns the pre-mutation version.
func (m *Manager) SetValue(ctx context.Context, p path.Path, value []byte, expectedVersion uint64) (uint64, error) {
	ctx, span := telemetry.StartCoordSpan(ctx, "SetValue", p.Escape(), telemetry.SessionID(m.self), telemetry.Version(expectedVersion))
	defer span.End()

	pre, err := m.setValue(ctx, p, value, expectedVersion)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return pre, err
}

func (m *Manager) setValue(ctx context.Context, p path.Path, value []byte, expectedVersion uint64) (uint64, error) {
	if err := m.ensureSession(ctx); err != nil {
		return 0, err
	}

	escaped := p.Escape()
	current, err := m.locks.AcquireWrite(ctx, escaped, m.self)
	if err != nil {
		return 0, err
	}

	preVersion := current.StorageVersion

	if expectedVersion != 0 && current.StorageVersion != expectedVersion {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		return current.StorageVersion, coorderr.VersionConflict(escaped, current.StorageVersion)
	}

	updated := current.WithValue(value)
	observed, ok, err := m.store.CompareExchange(ctx, updated, current)
	if err != nil {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		return preVersion, err
	}
	if !ok {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		version := uint64(0)
		if observed != nil {
			version = observed.StorageVersion
		}
		return version, coorderr.VersionConflict(escaped, version)
	}

	if err := m.locks.ReleaseWrite(ctx, escaped, m.self); err != nil {
		return preVersion, err
	}
	m.cache.Forget(escaped)

	return preVersion, nil
}

// Delete marks p deleted under the write lock and, once no lock holder
// remains (true immediately in the common uncontended case, per I1
// exclusivity of the write lock this call itself still holds while
// marking), performs the final removal. If recursive is false and p has
// children, it fails with HasChildren; if recursive is true, children
// are removed depth-first before p itself.
func (m *Manager) Delete(ctx context.Context, p path.Path, expectedVersion uint64, recursive bool) error {
	ctx, span := telemetry.StartCoordSpan(ctx, "Delete", p.Escape(), telemetry.SessionID(m.self), telemetry.Version(expectedVersion))
	defer span.End()

	err := m.delete(ctx, p, expectedVersion, recursive)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (m *Manager) delete(ctx context.Context, p path.Path, expectedVersion uint64, recursive bool) error {
	if err := m.ensureSession(ctx); err != nil {
		return err
	}

	escaped := p.Escape()
	current, err := m.locks.AcquireWrite(ctx, escaped, m.self)
	if err != nil {
		return err
	}

	if expectedVersion != 0 && current.StorageVersion != expectedVersion {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		return coorderr.VersionConflict(escaped, current.StorageVersion)
	}

	children, err := m.store.ListChildren(ctx, escaped)
	if err != nil {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		return err
	}
	if len(children) > 0 {
		if !recursive {
			_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
			return coorderr.HasChildren(escaped)
		}
		for _, child := range children {
			childPath, perr := path.Parse(child.Path)
			if perr != nil {
				continue
			}
			if err := m.delete(ctx, childPath, 0, true); err != nil {
				_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
				return err
			}
		}
	}

	marked, ok, err := m.store.CompareExchange(ctx, current.WithMarkedDeleted(), current)
	if err != nil {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		return err
	}
	if !ok {
		_ = m.locks.ReleaseWrite(ctx, escaped, m.self)
		version := uint64(0)
		if marked != nil {
			version = marked.StorageVersion
		}
		return coorderr.VersionConflict(escaped, version)
	}

	if err := m.locks.ReleaseWrite(ctx, escaped, m.self); err != nil {
		return err
	}
	m.cache.Forget(escaped)

	m.tryFinalizeDelete(ctx, escaped)
	return nil
}

// tryFinalizeDelete removes a marked-deleted entry once it has no
// remaining lock holders (the (marked, no holders) -> absent transition
// of §4.10's state machine). A failure here is not an error for the
// caller: some other actor that next touches p will retry the same
// check, and the entry staying a harmless tombstone a little longer
// does not violate any invariant.
func (m *Manager) tryFinalizeDelete(ctx context.Context, escaped string) {
	final, ok, err := m.store.Get(ctx, escaped)
	if err != nil || !ok {
		return
	}
	if !final.IsMarkedAsDeleted || !final.HasNoHolders() {
		return
	}
	_, _, _ = m.store.CompareExchange(ctx, nil, final)
}
