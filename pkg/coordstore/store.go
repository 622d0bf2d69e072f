// Package coordstore defines the compare-and-swap contract over stored
// coordination entries, consumed by the lock manager and coordination
// facade, and implemented by the memory, Badger, and PostgreSQL adapters
// in its subpackages.
package coordstore

import (
	"context"

	"github.com/zoolite/zoolite/pkg/model"
)

// Store is the backing-database contract for coordination entries. All
// methods must be safe for concurrent use.
type Store interface {
	// Get returns the entry at path, or ok=false if no entry exists there.
	Get(ctx context.Context, path string) (entry *model.StoredEntry, ok bool, err error)

	// CompareExchange atomically replaces the entry keyed by path with new
	// iff the currently stored entry's StorageVersion and LockVersion both
	// equal expected's (or, if expected is nil, iff no entry currently
	// exists). Either new or expected may be nil, encoding create and
	// delete respectively.
	// new and expected, when both non-nil, must carry the same Path.
	//
	// Returns the observed post-state: on success this equals new (or
	// ok=false if new is nil, meaning the entry was deleted); on failure
	// it is the real current entry (or ok=false if none exists), and the
	// caller is expected to retry against that observed state.
	CompareExchange(ctx context.Context, newEntry, expected *model.StoredEntry) (observed *model.StoredEntry, ok bool, err error)

	// ListChildren returns every currently stored entry whose path is a
	// direct child of parent, i.e. whose Path.Parent() equals parent.
	// Children are implicit in the namespace (no entry stores its own
	// child set), so every adapter must derive this by scanning.
	ListChildren(ctx context.Context, parent string) ([]*model.StoredEntry, error)
}
