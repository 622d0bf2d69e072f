// Package badger implements the sessionstore.Store contract over an
// embedded BadgerDB instance, mirroring pkg/coordstore/badger's
// transaction-retry construction.
package badger

import (
	"context"
	"encoding/json"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
)

const keyPrefix = "session:"

const maxConflictRetries = 10

// Store is a BadgerDB-backed implementation of sessionstore.Store.
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

func sessionKey(sid string) []byte {
	return []byte(keyPrefix + sid)
}

type wireSession struct {
	SessionID      string              `json:"session_id"`
	LeaseEnd       time.Time           `json:"lease_end"`
	IsEnded        bool                `json:"is_ended"`
	EntryPaths     map[string]struct{} `json:"entry_paths"`
	StorageVersion uint64              `json:"storage_version"`
}

func toWire(s *model.StoredSession) wireSession {
	return wireSession{
		SessionID:      s.SessionID,
		LeaseEnd:       s.LeaseEnd,
		IsEnded:        s.IsEnded,
		EntryPaths:     s.EntryPaths,
		StorageVersion: s.StorageVersion,
	}
}

func fromWire(w wireSession) *model.StoredSession {
	entryPaths := w.EntryPaths
	if entryPaths == nil {
		entryPaths = make(map[string]struct{})
	}
	return &model.StoredSession{
		SessionID:      w.SessionID,
		LeaseEnd:       w.LeaseEnd,
		IsEnded:        w.IsEnded,
		EntryPaths:     entryPaths,
		StorageVersion: w.StorageVersion,
	}
}

// Get implements sessionstore.Store.
func (s *Store) Get(ctx context.Context, sid string) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	var session *model.StoredSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var w wireSession
			if err := json.Unmarshal(val, &w); err != nil {
				return coorderr.DecodeError(err.Error())
			}
			session = fromWire(w)
			return nil
		})
	})
	if err != nil {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}
	return session, session != nil, nil
}

// CompareExchange implements sessionstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newSession, expected *model.StoredSession) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if newSession != nil && expected != nil && newSession.SessionID != expected.SessionID {
		return nil, false, coorderr.KeyMismatch(newSession.SessionID, expected.SessionID)
	}

	key := sessionKey(sidOf(newSession, expected))

	var observed *model.StoredSession
	var observedOK bool

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			var current *model.StoredSession
			switch {
			case err == badger.ErrKeyNotFound:
				current = nil
			case err != nil:
				return err
			default:
				if verr := item.Value(func(val []byte) error {
					var w wireSession
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

			if newSession == nil {
				observed = nil
				observedOK = false
				return txn.Delete(key)
			}

			payload, merr := json.Marshal(toWire(newSession))
			if merr != nil {
				return coorderr.DecodeError(merr.Error())
			}
			if serr := txn.Set(key, payload); serr != nil {
				return serr
			}
			observed = newSession.Clone()
			observedOK = true
			return nil
		})

		if err == badger.ErrConflict {
			logger.Debug("badger session CAS transaction conflict, retrying", logger.Attempt(attempt+1))
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

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(ctx context.Context) ([]*model.StoredSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	var out []*model.StoredSession
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var w wireSession
				if err := json.Unmarshal(val, &w); err != nil {
					return coorderr.DecodeError(err.Error())
				}
				out = append(out, fromWire(w))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	return out, nil
}

func sidOf(newSession, expected *model.StoredSession) string {
	if newSession != nil {
		return newSession.SessionID
	}
	return expected.SessionID
}

func versionMatches(current, expected *model.StoredSession) bool {
	if expected == nil {
		return current == nil
	}
	if current == nil {
		return false
	}
	return current.StorageVersion == expected.StorageVersion
}
