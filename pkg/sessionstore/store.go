// Package sessionstore defines the compare-and-swap contract over stored
// sessions, analogous to pkg/coordstore but keyed by session id and
// additionally exposing a snapshot enumeration for the session manager's
// expiration scan.
package sessionstore

import (
	"context"

	"github.com/zoolite/zoolite/pkg/model"
)

// Store is the backing-database contract for session records. All
// methods must be safe for concurrent use.
type Store interface {
	// Get returns the session record for sid, or ok=false if none exists.
	Get(ctx context.Context, sid string) (session *model.StoredSession, ok bool, err error)

	// CompareExchange atomically replaces the session keyed by sid with
	// newSession iff the currently stored record's StorageVersion equals
	// expected's (or, if expected is nil, iff no record currently
	// exists). Either newSession or expected may be nil, encoding create
	// and delete respectively.
	CompareExchange(ctx context.Context, newSession, expected *model.StoredSession) (observed *model.StoredSession, ok bool, err error)

	// ListSessions returns a snapshot of all current session records, for
	// the session manager's expiration scan.
	ListSessions(ctx context.Context) ([]*model.StoredSession, error)
}
