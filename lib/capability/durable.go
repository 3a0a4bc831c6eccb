// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/storage"
)

// DurableStore is the SQLite tier backing persistent-scope tokens. It
// stores the raw wire bytes so tokens re-verify from scratch on load;
// the database is a cache of signed material, never a trusted source.
type DurableStore struct {
	pool *storage.Pool
}

// PrepareConn creates the capability schema. Pass it as (or call it
// from) storage.Config.OnConnect for the pool backing the store.
func PrepareConn(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS capabilities (
			id         TEXT PRIMARY KEY,
			wire       BLOB NOT NULL,
			pattern    TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			consumed   INTEGER NOT NULL DEFAULT 0,
			revoked    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS capabilities_expiry
			ON capabilities (expires_at) WHERE expires_at != 0;
	`, nil)
}

// NewDurableStore wraps a pool whose connections have the capability
// schema (see PrepareConn).
func NewDurableStore(pool *storage.Pool) *DurableStore {
	return &DurableStore{pool: pool}
}

// Put inserts or updates a token's wire bytes. The revoked and
// consumed flags of an existing row are never reset; Put reports them
// so the caller can refuse a token that was re-added after revocation
// or consumption.
func (d *DurableStore) Put(ctx context.Context, token *Token, wire []byte) (revoked, consumed bool, err error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return false, false, fmt.Errorf("capability store: put: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO capabilities (id, wire, pattern, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			wire       = excluded.wire,
			pattern    = excluded.pattern,
			expires_at = excluded.expires_at`, &sqlitex.ExecOptions{
		Args: []any{token.ID, wire, token.Pattern.String(), token.ExpiresAt},
	})
	if err != nil {
		return false, false, fmt.Errorf("capability store: put %s: %w", token.ID, err)
	}

	err = sqlitex.Execute(conn, `
		SELECT revoked, consumed FROM capabilities WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{token.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			revoked = stmt.ColumnInt64(0) != 0
			consumed = stmt.ColumnInt64(1) != 0
			return nil
		},
	})
	if err != nil {
		return false, false, fmt.Errorf("capability store: put %s: %w", token.ID, err)
	}
	return revoked, consumed, nil
}

// Active returns the wire bytes of every token not revoked or
// consumed. Callers re-verify each token before trusting it.
func (d *DurableStore) Active(ctx context.Context) ([][]byte, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("capability store: load: %w", err)
	}
	defer d.pool.Put(conn)

	var wires [][]byte
	err = sqlitex.Execute(conn, `
		SELECT wire FROM capabilities
		WHERE revoked = 0 AND consumed = 0`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			wire := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, wire)
			wires = append(wires, wire)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("capability store: load: %w", err)
	}
	return wires, nil
}

// MarkRevoked flags a token ID as revoked.
func (d *DurableStore) MarkRevoked(ctx context.Context, id string) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("capability store: revoke: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE capabilities SET revoked = 1 WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("capability store: revoke %s: %w", id, err)
	}
	return nil
}

// MarkConsumed flags a single-use token as consumed. Returns
// ErrTokenConsumed if it was already consumed; the UPDATE's row count
// is the atomicity guarantee against replay across processes.
func (d *DurableStore) MarkConsumed(ctx context.Context, id string) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("capability store: consume: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE capabilities SET consumed = 1
		WHERE id = ? AND consumed = 0`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("capability store: consume %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: %s", ErrTokenConsumed, id)
	}
	return nil
}

// DeleteExpired removes tokens whose expiry has passed. Returns the
// number removed.
func (d *DurableStore) DeleteExpired(ctx context.Context, nowUnix int64) (int, error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("capability store: cleanup: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		DELETE FROM capabilities
		WHERE expires_at != 0 AND expires_at <= ?`, &sqlitex.ExecOptions{
		Args: []any{nowUnix},
	})
	if err != nil {
		return 0, fmt.Errorf("capability store: cleanup: %w", err)
	}
	return conn.Changes(), nil
}
