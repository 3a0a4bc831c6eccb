// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/storage"
)

// DeferredStatus tracks a queued request's lifecycle. A deferred
// request is resolved or expired exactly once, never both.
type DeferredStatus uint8

const (
	DeferredPending DeferredStatus = iota
	DeferredResolved
	DeferredExpired
)

func (s DeferredStatus) String() string {
	switch s {
	case DeferredPending:
		return "pending"
	case DeferredResolved:
		return "resolved"
	case DeferredExpired:
		return "expired"
	default:
		return fmt.Sprintf("deferred(%d)", uint8(s))
	}
}

// Deferred lifecycle errors.
var (
	ErrUnknownRequest = errors.New("approval: unknown deferred request")
	ErrAlreadySettled = errors.New("approval: deferred request already settled")
)

// DeferredRequest is a queued approval awaiting a later human
// decision.
type DeferredRequest struct {
	ID         string
	SessionID  string
	ActionType action.Type
	Resource   string
	Permission capability.Permission
	Summary    string
	Risk       action.RiskLevel
	Reason     string
	CreatedAt  int64 // Unix seconds
	Status     DeferredStatus
	// Decision and DecisionReason are set when Status is
	// DeferredResolved.
	Decision       Decision
	DecisionReason string
}

// DeferredStore queues requests that could not be put to a human.
// Settling transitions (pending to resolved, pending to expired) are
// atomic: concurrent Resolve and Expire calls on the same ID cannot
// both win.
type DeferredStore interface {
	// Add queues a pending request.
	Add(ctx context.Context, req *DeferredRequest) error

	// Pending returns queued requests in creation order.
	Pending(ctx context.Context) ([]*DeferredRequest, error)

	// Resolve settles a pending request with a decision. Returns
	// ErrUnknownRequest for an ID never queued, ErrAlreadySettled for
	// one already resolved or expired.
	Resolve(ctx context.Context, id string, resp Response) (*DeferredRequest, error)

	// Expire settles every pending request created at or before
	// cutoff (Unix seconds) and returns how many it expired.
	Expire(ctx context.Context, cutoff int64) (int, error)
}

// MemoryDeferredStore keeps the queue in process memory.
type MemoryDeferredStore struct {
	mu      sync.Mutex
	entries map[string]*DeferredRequest
}

// NewMemoryDeferredStore returns an empty in-memory queue.
func NewMemoryDeferredStore() *MemoryDeferredStore {
	return &MemoryDeferredStore{entries: make(map[string]*DeferredRequest)}
}

func (m *MemoryDeferredStore) Add(ctx context.Context, req *DeferredRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *req
	stored.Status = DeferredPending
	m.entries[req.ID] = &stored
	return nil
}

func (m *MemoryDeferredStore) Pending(ctx context.Context) ([]*DeferredRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*DeferredRequest
	for _, req := range m.entries {
		if req.Status == DeferredPending {
			copied := *req
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt != pending[j].CreatedAt {
			return pending[i].CreatedAt < pending[j].CreatedAt
		}
		return pending[i].ID < pending[j].ID
	})
	return pending, nil
}

func (m *MemoryDeferredStore) Resolve(ctx context.Context, id string, resp Response) (*DeferredRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Status != DeferredPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadySettled, id, req.Status)
	}
	req.Status = DeferredResolved
	req.Decision = resp.Decision
	req.DecisionReason = resp.Reason
	copied := *req
	return &copied, nil
}

func (m *MemoryDeferredStore) Expire(ctx context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := 0
	for _, req := range m.entries {
		if req.Status == DeferredPending && req.CreatedAt <= cutoff {
			req.Status = DeferredExpired
			expired++
		}
	}
	return expired, nil
}

// SQLiteDeferredStore persists the queue so deferred requests survive
// restarts.
type SQLiteDeferredStore struct {
	pool *storage.Pool
}

// PrepareDeferredConn creates the deferred-request schema. Pass it as
// (or call it from) storage.Config.OnConnect.
func PrepareDeferredConn(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS deferred_requests (
			id              TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			action_type     TEXT NOT NULL,
			resource        TEXT NOT NULL,
			permission      TEXT NOT NULL DEFAULT '',
			summary         TEXT NOT NULL,
			risk            INTEGER NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			status          INTEGER NOT NULL DEFAULT 0,
			decision        INTEGER NOT NULL DEFAULT 0,
			decision_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS deferred_requests_pending
			ON deferred_requests (created_at) WHERE status = 0;
	`, nil)
}

// NewSQLiteDeferredStore wraps a pool whose connections have the
// deferred-request schema (see PrepareDeferredConn).
func NewSQLiteDeferredStore(pool *storage.Pool) *SQLiteDeferredStore {
	return &SQLiteDeferredStore{pool: pool}
}

func (s *SQLiteDeferredStore) Add(ctx context.Context, req *DeferredRequest) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("deferred store: add: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO deferred_requests
			(id, session_id, action_type, resource, permission, summary, risk, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			req.ID, req.SessionID, string(req.ActionType), req.Resource,
			string(req.Permission), req.Summary, int64(req.Risk), req.Reason, req.CreatedAt,
		},
	})
	if err != nil {
		return fmt.Errorf("deferred store: add %s: %w", req.ID, err)
	}
	return nil
}

func (s *SQLiteDeferredStore) Pending(ctx context.Context) ([]*DeferredRequest, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("deferred store: pending: %w", err)
	}
	defer s.pool.Put(conn)

	var pending []*DeferredRequest
	err = sqlitex.Execute(conn, `
		SELECT id, session_id, action_type, resource, permission, summary, risk, reason, created_at
		FROM deferred_requests WHERE status = 0
		ORDER BY created_at, id`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			pending = append(pending, &DeferredRequest{
				ID:         stmt.ColumnText(0),
				SessionID:  stmt.ColumnText(1),
				ActionType: action.Type(stmt.ColumnText(2)),
				Resource:   stmt.ColumnText(3),
				Permission: capability.Permission(stmt.ColumnText(4)),
				Summary:    stmt.ColumnText(5),
				Risk:       action.RiskLevel(stmt.ColumnInt64(6)),
				Reason:     stmt.ColumnText(7),
				CreatedAt:  stmt.ColumnInt64(8),
				Status:     DeferredPending,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deferred store: pending: %w", err)
	}
	return pending, nil
}

func (s *SQLiteDeferredStore) Resolve(ctx context.Context, id string, resp Response) (*DeferredRequest, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("deferred store: resolve: %w", err)
	}
	defer s.pool.Put(conn)

	// The status guard in the WHERE clause makes settling atomic: a
	// lost race changes zero rows.
	err = sqlitex.Execute(conn, `
		UPDATE deferred_requests
		SET status = 1, decision = ?, decision_reason = ?
		WHERE id = ? AND status = 0`, &sqlitex.ExecOptions{
		Args: []any{int64(resp.Decision), resp.Reason, id},
	})
	if err != nil {
		return nil, fmt.Errorf("deferred store: resolve %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		exists := false
		err = sqlitex.Execute(conn, `
			SELECT 1 FROM deferred_requests WHERE id = ?`, &sqlitex.ExecOptions{
			Args:       []any{id},
			ResultFunc: func(*sqlite.Stmt) error { exists = true; return nil },
		})
		if err != nil {
			return nil, fmt.Errorf("deferred store: resolve %s: %w", id, err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadySettled, id)
	}

	var resolved *DeferredRequest
	err = sqlitex.Execute(conn, `
		SELECT id, session_id, action_type, resource, permission, summary, risk, reason, created_at
		FROM deferred_requests WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			resolved = &DeferredRequest{
				ID:             stmt.ColumnText(0),
				SessionID:      stmt.ColumnText(1),
				ActionType:     action.Type(stmt.ColumnText(2)),
				Resource:       stmt.ColumnText(3),
				Permission:     capability.Permission(stmt.ColumnText(4)),
				Summary:        stmt.ColumnText(5),
				Risk:           action.RiskLevel(stmt.ColumnInt64(6)),
				Reason:         stmt.ColumnText(7),
				CreatedAt:      stmt.ColumnInt64(8),
				Status:         DeferredResolved,
				Decision:       resp.Decision,
				DecisionReason: resp.Reason,
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deferred store: resolve %s: %w", id, err)
	}
	return resolved, nil
}

func (s *SQLiteDeferredStore) Expire(ctx context.Context, cutoff int64) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("deferred store: expire: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE deferred_requests SET status = 2
		WHERE status = 0 AND created_at <= ?`, &sqlitex.ExecOptions{
		Args: []any{cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("deferred store: expire: %w", err)
	}
	return conn.Changes(), nil
}
