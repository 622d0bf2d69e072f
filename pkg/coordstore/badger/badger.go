// Package badger implements the coordstore.Store contract over an
// embedded BadgerDB instance. Each StoredEntry is a JSON value under a
// key derived from its escaped path; compare_exchange is a read-modify-
// write transaction that checks storage_version and lock_version before
// committing,
// retried by the adapter itself only on Badger's own ErrConflict (a
// transaction-level optimistic retry distinct from, and composing
// beneath, the caller's own CAS retry loop in the lock manager).
package badger

import (
	"context"
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/path"
)

const keyPrefix = "entry:"

// maxConflictRetries bounds the adapter's own retry of Badger's
// transaction-conflict error; it is unrelated to the caller's CAS loop.
const maxConflictRetries = 10

// Store is a BadgerDB-backed implementation of coordstore.Store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB instance rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(path string) []byte {
	return []byte(keyPrefix + path)
}

type wireEntry struct {
	Path              string              `json:"path"`
	Value             []byte              `json:"value"`
	ReadLocks         map[string]struct{} `json:"read_locks"`
	WriteLock         string              `json:"write_lock"`
	StorageVersion    uint64              `json:"storage_version"`
	LockVersion       uint64              `json:"lock_version"`
	EphemeralOwner    string              `json:"ephemeral_owner"`
	IsMarkedAsDeleted bool                `json:"is_marked_as_deleted"`
}

func toWire(e *model.StoredEntry) wireEntry {
	return wireEntry{
		Path:              e.Path,
		Value:             e.Value,
		ReadLocks:         e.ReadLocks,
		WriteLock:         e.WriteLock,
		StorageVersion:    e.StorageVersion,
		LockVersion:       e.LockVersion,
		EphemeralOwner:    e.EphemeralOwner,
		IsMarkedAsDeleted: e.IsMarkedAsDeleted,
	}
}

func fromWire(w wireEntry) *model.StoredEntry {
	readLocks := w.ReadLocks
	if readLocks == nil {
		readLocks = make(map[string]struct{})
	}
	return &model.StoredEntry{
		Path:              w.Path,
		Value:             w.Value,
		ReadLocks:         readLocks,
		WriteLock:         w.WriteLock,
		StorageVersion:    w.StorageVersion,
		LockVersion:       w.LockVersion,
		EphemeralOwner:    w.EphemeralOwner,
		IsMarkedAsDeleted: w.IsMarkedAsDeleted,
	}
}

// Get implements coordstore.Store.
func (s *Store) Get(ctx context.Context, path string) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	var entry *model.StoredEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var w wireEntry
			if err := json.Unmarshal(val, &w); err != nil {
				return coorderr.DecodeError(err.Error())
			}
			entry = fromWire(w)
			return nil
		})
	})
	if err != nil {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}
	return entry, entry != nil, nil
}

// CompareExchange implements coordstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newEntry, expected *model.StoredEntry) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if newEntry != nil && expected != nil && newEntry.Path != expected.Path {
		return nil, false, coorderr.KeyMismatch(newEntry.Path, expected.Path)
	}

	key := entryKey(pathOf(newEntry, expected))

	var observed *model.StoredEntry
	var observedOK bool

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			var current *model.StoredEntry
			switch {
			case err == badger.ErrKeyNotFound:
				current = nil
			case err != nil:
				return err
			default:
				if verr := item.Value(func(val []byte) error {
					var w wireEntry
					if err := json.Unmarshal(val, &w); err != nil {
						return coorderr.DecodeError(err.Error())
					}
					current = fromWire(w)
					return nil
				}); verr != nil {
					return verr
				}
			}

			if !versionMatches(current, expected) {
				observed = current
				observedOK = current != nil
				return nil
			}

			if newEntry == nil {
				observed = nil
				observedOK = false
				return txn.Delete(key)
			}

			payload, merr := json.Marshal(toWire(newEntry))
			if merr != nil {
				return coorderr.DecodeError(merr.Error())
			}
			if serr := txn.Set(key, payload); serr != nil {
				return serr
			}
			observed = newEntry.Clone()
			observedOK = true
			return nil
		})

		if err == badger.ErrConflict {
			logger.Debug("badger CAS transaction conflict, retrying", logger.Attempt(attempt+1))
			continue
		}
		if err != nil {
			if ce, ok := err.(*coorderr.CoordError); ok {
				return nil, false, ce
			}
			return nil, false, coorderr.BackendUnavailable(err.Error())
		}
		return observed, observedOK, nil
	}

	return nil, false, coorderr.BackendUnavailable("exhausted badger conflict retries")
}

// ListChildren implements coordstore.Store by iterating every key under
// the entry prefix, since Badger has no secondary index on path
// hierarchy.
func (s *Store) ListChildren(ctx context.Context, parent string) ([]*model.StoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	parentPath, err := path.Parse(parent)
	if err != nil {
		return nil, err
	}

	var children []*model.StoredEntry
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			verr := item.Value(func(val []byte) error {
				var w wireEntry
				if err := json.Unmarshal(val, &w); err != nil {
					return coorderr.DecodeError(err.Error())
				}
				childPath, perr := path.Parse(w.Path)
				if perr != nil {
					return nil
				}
				if childPath.IsChildOf(parentPath) {
					children = append(children, fromWire(w))
				}
				return nil
			})
			if verr != nil {
				return verr
			}
		}
		return nil
	})
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	return children, nil
}

func pathOf(newEntry, expected *model.StoredEntry) string {
	if newEntry != nil {
		return newEntry.Path
	}
	return expected.Path
}

func versionMatches(current, expected *model.StoredEntry) bool {
	if expected == nil {
		return current == nil
	}
	if current == nil {
		return false
	}
	return current.StorageVersion == expected.StorageVersion && current.LockVersion == expected.LockVersion
}
