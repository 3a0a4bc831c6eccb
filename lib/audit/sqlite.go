// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/signing"
	"github.com/warden-foundation/warden/lib/storage"
)

// SQLiteBackend persists the ledger in SQLite. Entry insert and head
// advance happen in one IMMEDIATE transaction.
type SQLiteBackend struct {
	pool *storage.Pool
}

// PrepareConn creates the audit schema. Pass it as (or call it from)
// storage.Config.OnConnect for the pool backing the ledger.
func PrepareConn(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			wire       BLOB NOT NULL,
			UNIQUE (session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS audit_entries_session
			ON audit_entries (session_id, seq);

		CREATE TABLE IF NOT EXISTS audit_heads (
			session_id TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL,
			hash       BLOB NOT NULL
		);
	`, nil)
}

// NewSQLiteBackend wraps a pool whose connections have the audit
// schema (see PrepareConn).
func NewSQLiteBackend(pool *storage.Pool) *SQLiteBackend {
	return &SQLiteBackend{pool: pool}
}

func (b *SQLiteBackend) Append(ctx context.Context, sessionID string, sequence uint64, entryID string, wire []byte, hash signing.Hash) (err error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit backend: append: %w", err)
	}
	defer b.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("audit backend: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `
		INSERT INTO audit_entries (id, session_id, seq, wire)
		VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{entryID, sessionID, int64(sequence), wire},
	})
	if err != nil {
		return fmt.Errorf("audit backend: insert entry %s: %w", entryID, err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO audit_heads (session_id, seq, hash)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET seq = excluded.seq, hash = excluded.hash`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, int64(sequence), hash[:]},
		})
	if err != nil {
		return fmt.Errorf("audit backend: advance head for %s: %w", sessionID, err)
	}
	return nil
}

func (b *SQLiteBackend) Head(ctx context.Context, sessionID string) (Head, bool, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return Head{}, false, fmt.Errorf("audit backend: head: %w", err)
	}
	defer b.pool.Put(conn)

	var head Head
	found := false
	err = sqlitex.Execute(conn, `
		SELECT seq, hash FROM audit_heads WHERE session_id = ?`, &sqlitex.ExecOptions{
		Args: []any{sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			head.Sequence = uint64(stmt.ColumnInt64(0))
			var raw [32]byte
			if stmt.ColumnLen(1) != len(raw) {
				return fmt.Errorf("head hash has %d bytes, want %d", stmt.ColumnLen(1), len(raw))
			}
			stmt.ColumnBytes(1, raw[:])
			head.Hash = signing.Hash(raw)
			found = true
			return nil
		},
	})
	if err != nil {
		return Head{}, false, fmt.Errorf("audit backend: head for %s: %w", sessionID, err)
	}
	return head, found, nil
}

func (b *SQLiteBackend) Entries(ctx context.Context, sessionID string) ([][]byte, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit backend: entries: %w", err)
	}
	defer b.pool.Put(conn)

	var entries [][]byte
	err = sqlitex.Execute(conn, `
		SELECT wire FROM audit_entries
		WHERE session_id = ? ORDER BY seq`, &sqlitex.ExecOptions{
		Args: []any{sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			wire := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, wire)
			entries = append(entries, wire)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit backend: entries for %s: %w", sessionID, err)
	}
	return entries, nil
}

func (b *SQLiteBackend) Sessions(ctx context.Context) ([]string, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit backend: sessions: %w", err)
	}
	defer b.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, `
		SELECT session_id FROM audit_heads ORDER BY session_id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit backend: sessions: %w", err)
	}
	return ids, nil
}

func (b *SQLiteBackend) Count(ctx context.Context, sessionID string) (int, error) {
	conn, err := b.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit backend: count: %w", err)
	}
	defer b.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn, `
		SELECT COUNT(*) FROM audit_entries WHERE session_id = ?`, &sqlitex.ExecOptions{
		Args: []any{sessionID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("audit backend: count for %s: %w", sessionID, err)
	}
	return count, nil
}
