// Package postgres implements the coordstore.Store contract over a
// PostgreSQL table, using a single UPDATE/INSERT/DELETE statement per
// compare_exchange call to get the same linearizable single-row CAS
// semantics as the memory and Badger adapters without a client-side
// transaction.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
	"github.com/zoolite/zoolite/pkg/path"
)

// Schema is the DDL for the single table backing this adapter. It is
// exposed so an operator can run it once against a fresh database; the
// adapter itself never issues DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS coordination_entries (
	path                 text PRIMARY KEY,
	value                bytea,
	read_locks           text[] NOT NULL DEFAULT '{}',
	write_lock           text NOT NULL DEFAULT '',
	storage_version      bigint NOT NULL DEFAULT 0,
	lock_version         bigint NOT NULL DEFAULT 0,
	ephemeral_owner      text NOT NULL DEFAULT '',
	is_marked_as_deleted boolean NOT NULL DEFAULT false
);
`

// Store is a PostgreSQL-backed implementation of coordstore.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL using connString (a standard libpq/pgx DSN)
// and returns a ready Store.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func rowToEntry(row pgx.Row) (*model.StoredEntry, error) {
	var (
		path              string
		value             []byte
		readLocks         []string
		writeLock         string
		storageVersion    int64
		lockVersion       int64
		ephemeralOwner    string
		isMarkedAsDeleted bool
	)
	if err := row.Scan(&path, &value, &readLocks, &writeLock, &storageVersion, &lockVersion, &ephemeralOwner, &isMarkedAsDeleted); err != nil {
		return nil, err
	}

	locks := make(map[string]struct{}, len(readLocks))
	for _, s := range readLocks {
		locks[s] = struct{}{}
	}

	return &model.StoredEntry{
		Path:              path,
		Value:             value,
		ReadLocks:         locks,
		WriteLock:         writeLock,
		StorageVersion:    uint64(storageVersion),
		LockVersion:       uint64(lockVersion),
		EphemeralOwner:    ephemeralOwner,
		IsMarkedAsDeleted: isMarkedAsDeleted,
	}, nil
}

// Get implements coordstore.Store.
func (s *Store) Get(ctx context.Context, path string) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	const query = `
		SELECT path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted
		FROM coordination_entries WHERE path = $1
	`
	entry, err := rowToEntry(s.pool.QueryRow(ctx, query, path))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}
	return entry, true, nil
}

func readLocksSlice(e *model.StoredEntry) []string {
	out := make([]string, 0, len(e.ReadLocks))
	for s := range e.ReadLocks {
		out = append(out, s)
	}
	return out
}

// CompareExchange implements coordstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newEntry, expected *model.StoredEntry) (*model.StoredEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if newEntry != nil && expected != nil && newEntry.Path != expected.Path {
		return nil, false, coorderr.KeyMismatch(newEntry.Path, expected.Path)
	}

	path := pathOf(newEntry, expected)

	var (
		entry *model.StoredEntry
		err   error
	)

	switch {
	case expected == nil && newEntry != nil:
		// Create: insert iff absent.
		const query = `
			INSERT INTO coordination_entries (path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (path) DO NOTHING
			RETURNING path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted
		`
		entry, err = rowToEntry(s.pool.QueryRow(ctx, query, path, newEntry.Value,
			readLocksSlice(newEntry), newEntry.WriteLock, int64(newEntry.StorageVersion), int64(newEntry.LockVersion),
			newEntry.EphemeralOwner, newEntry.IsMarkedAsDeleted))

	case expected != nil && newEntry == nil:
		// Delete: remove iff the version still matches.
		const query = `
			DELETE FROM coordination_entries WHERE path = $1 AND storage_version = $2 AND lock_version = $3
			RETURNING path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted
		`
		entry, err = rowToEntry(s.pool.QueryRow(ctx, query, path, int64(expected.StorageVersion), int64(expected.LockVersion)))

	case expected != nil && newEntry != nil:
		// Update: replace iff the version still matches.
		const query = `
			UPDATE coordination_entries SET
				value = $2, read_locks = $3, write_lock = $4,
				storage_version = $5, lock_version = $6, ephemeral_owner = $7, is_marked_as_deleted = $8
			WHERE path = $1 AND storage_version = $9 AND lock_version = $10
			RETURNING path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted
		`
		entry, err = rowToEntry(s.pool.QueryRow(ctx, query, path, newEntry.Value,
			readLocksSlice(newEntry), newEntry.WriteLock, int64(newEntry.StorageVersion), int64(newEntry.LockVersion),
			newEntry.EphemeralOwner, newEntry.IsMarkedAsDeleted, int64(expected.StorageVersion), int64(expected.LockVersion)))

	default:
		// Both nil: nothing to do, nothing expected. No-op read of current state.
		return s.Get(ctx, path)
	}

	if err == nil {
		if newEntry == nil {
			return nil, false, nil
		}
		return entry, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}

	// The conditional statement matched no row: either the entry already
	// exists (create case) or the version has moved on (update/delete
	// case). Either way, report the real current state to the caller.
	return s.Get(ctx, path)
}

// ListChildren implements coordstore.Store. It narrows the scan to rows
// whose path carries parent as a prefix, then filters client-side for an
// exact direct-child relationship, since the escaped path encoding makes
// "direct child" a structural rather than a string-prefix property.
func (s *Store) ListChildren(ctx context.Context, parent string) ([]*model.StoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	parentPath, err := path.Parse(parent)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT path, value, read_locks, write_lock, storage_version, lock_version, ephemeral_owner, is_marked_as_deleted
		FROM coordination_entries WHERE path LIKE $1
	`
	rows, err := s.pool.Query(ctx, query, likePrefix(parent))
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	defer rows.Close()

	var children []*model.StoredEntry
	for rows.Next() {
		entry, err := rowToEntry(rows)
		if err != nil {
			return nil, coorderr.BackendUnavailable(err.Error())
		}
		childPath, perr := path.Parse(entry.Path)
		if perr != nil {
			continue
		}
		if childPath.IsChildOf(parentPath) {
			children = append(children, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	return children, nil
}

func likePrefix(parent string) string {
	if parent == "/" {
		return "/%"
	}
	return parent + "/%"
}

func pathOf(newEntry, expected *model.StoredEntry) string {
	if newEntry != nil {
		return newEntry.Path
	}
	return expected.Path
}
