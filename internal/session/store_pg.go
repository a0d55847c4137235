package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationSessions is the SQL DDL for the gateway_sessions table. It is
// safe to execute multiple times (uses IF NOT EXISTS); the migrate-sessions
// command runs it at deploy time.
const MigrationSessions = `
CREATE TABLE IF NOT EXISTS gateway_sessions (
    id           TEXT PRIMARY KEY,
    session_json JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_gateway_sessions_expires_at
    ON gateway_sessions (expires_at);
`

// pgRow represents a single row returned by QueryRow.
type pgRow interface {
	Scan(dest ...any) error
}

// pgConn is the minimal database interface required by PGStore. Both
// *pgxpool.Pool (via a thin adapter) and test mocks implement this.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Exec(ctx context.Context, sql string, args ...any) error
}

// PGStore is a PostgreSQL-backed Store. Sessions are stored as JSONB with
// an explicit expires_at column the database filters on.
type PGStore struct {
	db  pgConn
	ttl time.Duration
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a PG-backed store. The db parameter must satisfy the
// pgConn interface; use NewPGStoreFromPool for production.
func NewPGStore(db pgConn, ttl time.Duration) *PGStore {
	return &PGStore{db: db, ttl: ttl}
}

func (s *PGStore) Get(ctx context.Context, id string) (*Session, error) {
	const query = `SELECT session_json FROM gateway_sessions
WHERE id = $1 AND expires_at > now()`

	var data []byte
	if err := s.db.QueryRow(ctx, query, id).Scan(&data); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *PGStore) Put(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	const query = `INSERT INTO gateway_sessions (id, session_json, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET session_json = EXCLUDED.session_json,
                               expires_at   = EXCLUDED.expires_at`

	if err := s.db.Exec(ctx, query, sess.ID, data, sess.CreatedAt, now.Add(s.ttl)); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Update is a read-modify-write without row locking; concurrent updates on
// the same session resolve last-write-wins.
func (s *PGStore) Update(ctx context.Context, id string, mutate func(*Session)) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(sess)
	if err := s.Put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM gateway_sessions WHERE id = $1`
	if err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Cleanup deletes all expired rows from the table.
func (s *PGStore) Cleanup(ctx context.Context) error {
	const query = `DELETE FROM gateway_sessions WHERE expires_at <= now()`
	if err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	return nil
}

// isNoRows returns true when the error represents a "no rows" condition.
// It works with both pgx (pgx.ErrNoRows) and the mock used in tests.
func isNoRows(err error) bool {
	if err == pgx.ErrNoRows {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no rows")
}

// pgxPoolWrapper adapts *pgxpool.Pool to the pgConn interface. The adapter
// is necessary because pgxpool.Pool.Exec returns (pgconn.CommandTag, error)
// whereas pgConn.Exec returns only error.
type pgxPoolWrapper struct {
	pool *pgxpool.Pool
}

func (w *pgxPoolWrapper) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return w.pool.QueryRow(ctx, sql, args...)
}

func (w *pgxPoolWrapper) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.pool.Exec(ctx, sql, args...)
	return err
}

// NewPGStoreFromPool creates a PG-backed store directly from a
// *pgxpool.Pool. This is the recommended constructor for production use.
func NewPGStoreFromPool(pool *pgxpool.Pool, ttl time.Duration) *PGStore {
	return &PGStore{db: &pgxPoolWrapper{pool: pool}, ttl: ttl}
}
