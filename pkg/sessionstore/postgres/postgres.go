// Package postgres implements the sessionstore.Store contract over a
// PostgreSQL table, mirroring pkg/coordstore/postgres's single-statement
// CAS construction.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/model"
)

// Schema is the DDL for the single table backing this adapter.
const Schema = `
CREATE TABLE IF NOT EXISTS coordination_sessions (
	session_id      text PRIMARY KEY,
	lease_end       timestamptz NOT NULL,
	is_ended        boolean NOT NULL DEFAULT false,
	entry_paths     text[] NOT NULL DEFAULT '{}',
	storage_version bigint NOT NULL DEFAULT 0
);
`

// Store is a PostgreSQL-backed implementation of sessionstore.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL using connString and returns a ready Store.
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

func rowToSession(row pgx.Row) (*model.StoredSession, error) {
	var (
		sessionID      string
		leaseEnd       time.Time
		isEnded        bool
		entryPaths     []string
		storageVersion int64
	)
	if err := row.Scan(&sessionID, &leaseEnd, &isEnded, &entryPaths, &storageVersion); err != nil {
		return nil, err
	}

	paths := make(map[string]struct{}, len(entryPaths))
	for _, p := range entryPaths {
		paths[p] = struct{}{}
	}

	return &model.StoredSession{
		SessionID:      sessionID,
		LeaseEnd:       leaseEnd,
		IsEnded:        isEnded,
		EntryPaths:     paths,
		StorageVersion: uint64(storageVersion),
	}, nil
}

func entryPathsSlice(s *model.StoredSession) []string {
	out := make([]string, 0, len(s.EntryPaths))
	for p := range s.EntryPaths {
		out = append(out, p)
	}
	return out
}

// Get implements sessionstore.Store.
func (s *Store) Get(ctx context.Context, sid string) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}

	const query = `
		SELECT session_id, lease_end, is_ended, entry_paths, storage_version
		FROM coordination_sessions WHERE session_id = $1
	`
	session, err := rowToSession(s.pool.QueryRow(ctx, query, sid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}
	return session, true, nil
}

// CompareExchange implements sessionstore.Store.
func (s *Store) CompareExchange(ctx context.Context, newSession, expected *model.StoredSession) (*model.StoredSession, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, coorderr.Canceled()
	}
	if newSession != nil && expected != nil && newSession.SessionID != expected.SessionID {
		return nil, false, coorderr.KeyMismatch(newSession.SessionID, expected.SessionID)
	}

	sid := sidOf(newSession, expected)

	var (
		session *model.StoredSession
		err     error
	)

	switch {
	case expected == nil && newSession != nil:
		const query = `
			INSERT INTO coordination_sessions (session_id, lease_end, is_ended, entry_paths, storage_version)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id) DO NOTHING
			RETURNING session_id, lease_end, is_ended, entry_paths, storage_version
		`
		session, err = rowToSession(s.pool.QueryRow(ctx, query, sid, newSession.LeaseEnd,
			newSession.IsEnded, entryPathsSlice(newSession), int64(newSession.StorageVersion)))

	case expected != nil && newSession == nil:
		const query = `
			DELETE FROM coordination_sessions WHERE session_id = $1 AND storage_version = $2
			RETURNING session_id, lease_end, is_ended, entry_paths, storage_version
		`
		session, err = rowToSession(s.pool.QueryRow(ctx, query, sid, int64(expected.StorageVersion)))

	case expected != nil && newSession != nil:
		const query = `
			UPDATE coordination_sessions SET
				lease_end = $2, is_ended = $3, entry_paths = $4, storage_version = $5
			WHERE session_id = $1 AND storage_version = $6
			RETURNING session_id, lease_end, is_ended, entry_paths, storage_version
		`
		session, err = rowToSession(s.pool.QueryRow(ctx, query, sid, newSession.LeaseEnd,
			newSession.IsEnded, entryPathsSlice(newSession), int64(newSession.StorageVersion),
			int64(expected.StorageVersion)))

	default:
		return s.Get(ctx, sid)
	}

	if err == nil {
		return session, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, coorderr.BackendUnavailable(err.Error())
	}
	return s.Get(ctx, sid)
}

// ListSessions implements sessionstore.Store.
func (s *Store) ListSessions(ctx context.Context) ([]*model.StoredSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, coorderr.Canceled()
	}

	const query = `SELECT session_id, lease_end, is_ended, entry_paths, storage_version FROM coordination_sessions`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, coorderr.BackendUnavailable(err.Error())
	}
	defer rows.Close()

	var out []*model.StoredSession
	for rows.Next() {
		session, err := rowToSession(rows)
		if err != nil {
			return nil, coorderr.BackendUnavailable(err.Error())
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
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
