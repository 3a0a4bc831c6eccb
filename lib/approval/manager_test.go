// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/storage"
	"github.com/warden-foundation/warden/lib/testutil"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubHandler answers with a fixed response, or blocks until ctx
// cancellation when respond is nil.
type stubHandler struct {
	available bool
	respond   *Response
	err       error
	requests  chan *Request
}

func (h *stubHandler) RequestApproval(ctx context.Context, req *Request) (*Response, error) {
	if h.requests != nil {
		h.requests <- req
	}
	if h.err != nil {
		return nil, h.err
	}
	if h.respond == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.respond, nil
}

func (h *stubHandler) Available() bool { return h.available }

func newTestManager(t *testing.T, handler Handler) (*Manager, *clock.FakeClock, *MemoryDeferredStore) {
	t.Helper()
	fake := clock.Fake(testNow)
	deferred := NewMemoryDeferredStore()
	manager, err := NewManager(ManagerConfig{
		Handler:  handler,
		Clock:    fake,
		Deferred: deferred,
		Timeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager, fake, deferred
}

func testAction() action.Action {
	return action.FileDelete("/workspace/scratch.txt")
}

func TestApproved(t *testing.T) {
	handler := &stubHandler{available: true, respond: &Response{Decision: DecisionAllowOnce}}
	manager, _, _ := newTestManager(t, handler)

	result, err := manager.Request(context.Background(), "session-1", testAction(), "cleanup")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Status != Approved {
		t.Errorf("Status = %s, want approved", result.Status)
	}
	if result.Response.Decision != DecisionAllowOnce {
		t.Errorf("Decision = %s, want allow-once", result.Response.Decision)
	}
}

func TestDenied(t *testing.T) {
	handler := &stubHandler{available: true, respond: &Response{Decision: DecisionDeny, Reason: "not in this repo"}}
	manager, _, _ := newTestManager(t, handler)

	result, err := manager.Request(context.Background(), "session-1", testAction(), "cleanup")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Status != Denied {
		t.Errorf("Status = %s, want denied", result.Status)
	}
	if result.Response.Reason != "not in this repo" {
		t.Errorf("Reason = %q", result.Response.Reason)
	}
}

func TestNoHandlerDefers(t *testing.T) {
	manager, _, deferred := newTestManager(t, nil)

	result, err := manager.Request(context.Background(), "session-1", testAction(), "cleanup")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Status != DeferredToQueue {
		t.Fatalf("Status = %s, want deferred", result.Status)
	}

	pending, err := deferred.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != result.RequestID {
		t.Errorf("Pending = %v, want the deferred request", pending)
	}
	if pending[0].ActionType != action.TypeFileDelete {
		t.Errorf("deferred ActionType = %s", pending[0].ActionType)
	}
}

func TestUnavailableHandlerDefers(t *testing.T) {
	handler := &stubHandler{available: false, respond: &Response{Decision: DecisionAllowOnce}}
	manager, _, _ := newTestManager(t, handler)

	result, err := manager.Request(context.Background(), "session-1", testAction(), "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Status != DeferredToQueue {
		t.Errorf("Status = %s, want deferred", result.Status)
	}
}

func TestHandlerErrorDefers(t *testing.T) {
	handler := &stubHandler{available: true, err: errors.New("surface crashed")}
	manager, fake, _ := newTestManager(t, handler)

	done := make(chan *Result, 1)
	go func() {
		result, err := manager.Request(context.Background(), "session-1", testAction(), "")
		if err != nil {
			t.Errorf("Request: %v", err)
		}
		done <- result
	}()

	// The handler errors without a decision; the request rides out
	// the timeout and lands in the queue.
	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for deferred result")
	if result.Status != DeferredToQueue {
		t.Errorf("Status = %s, want deferred", result.Status)
	}
}

func TestTimeoutDefers(t *testing.T) {
	handler := &stubHandler{available: true, requests: make(chan *Request, 1)}
	manager, fake, deferred := newTestManager(t, handler)

	done := make(chan *Result, 1)
	go func() {
		result, err := manager.Request(context.Background(), "session-1", testAction(), "")
		if err != nil {
			t.Errorf("Request: %v", err)
		}
		done <- result
	}()

	req := testutil.RequireReceive(t, handler.requests, 5*time.Second, "waiting for handler dispatch")
	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for deferred result")
	if result.Status != DeferredToQueue {
		t.Fatalf("Status = %s, want deferred", result.Status)
	}
	if result.RequestID != req.ID {
		t.Errorf("RequestID = %s, want %s", result.RequestID, req.ID)
	}
	pending, _ := deferred.Pending(context.Background())
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestContextCancelAbandons(t *testing.T) {
	handler := &stubHandler{available: true, requests: make(chan *Request, 1)}
	manager, _, deferred := newTestManager(t, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := manager.Request(ctx, "session-1", testAction(), "")
		done <- err
	}()

	testutil.RequireReceive(t, handler.requests, 5*time.Second, "waiting for handler dispatch")
	cancel()

	err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for cancellation")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Request error = %v, want context.Canceled", err)
	}
	pending, _ := deferred.Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("abandoned request was queued: %v", pending)
	}
}

func TestResolveDeferred(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)

	result, err := manager.Request(context.Background(), "session-1", testAction(), "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	resolved, err := manager.ResolveDeferred(context.Background(), result.RequestID,
		Response{Decision: DecisionAllowSession})
	if err != nil {
		t.Fatalf("ResolveDeferred: %v", err)
	}
	if resolved.Decision != DecisionAllowSession {
		t.Errorf("Decision = %s, want allow-session", resolved.Decision)
	}
	if resolved.Resource != testAction().Resource {
		t.Errorf("Resource = %q, want %q", resolved.Resource, testAction().Resource)
	}

	// Exactly once.
	if _, err := manager.ResolveDeferred(context.Background(), result.RequestID,
		Response{Decision: DecisionDeny}); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second resolve error = %v, want ErrAlreadySettled", err)
	}

	if _, err := manager.ResolveDeferred(context.Background(), "no-such-id",
		Response{Decision: DecisionDeny}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("unknown resolve error = %v, want ErrUnknownRequest", err)
	}

	pending, _ := manager.PendingDeferred(context.Background())
	if len(pending) != 0 {
		t.Errorf("resolved request still pending: %v", pending)
	}
}

func TestExpireDeferred(t *testing.T) {
	manager, fake, _ := newTestManager(t, nil)

	old, err := manager.Request(context.Background(), "session-1", testAction(), "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	fake.Advance(48 * time.Hour)
	fresh, err := manager.Request(context.Background(), "session-1", testAction(), "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	expired, err := manager.ExpireDeferred(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireDeferred: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired %d, want 1", expired)
	}

	// Expired requests cannot be resolved afterwards.
	if _, err := manager.ResolveDeferred(context.Background(), old.RequestID,
		Response{Decision: DecisionAllowOnce}); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("resolve of expired: error = %v, want ErrAlreadySettled", err)
	}
	if _, err := manager.ResolveDeferred(context.Background(), fresh.RequestID,
		Response{Decision: DecisionAllowOnce}); err != nil {
		t.Errorf("resolve of fresh request: %v", err)
	}
}

func TestSQLiteDeferredStore(t *testing.T) {
	pool, err := storage.Open(storage.Config{
		Path:      filepath.Join(t.TempDir(), "deferred.db"),
		PoolSize:  1,
		OnConnect: PrepareDeferredConn,
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	store := NewSQLiteDeferredStore(pool)

	act := testAction()
	req := &DeferredRequest{
		ID:         NewRequestID(),
		SessionID:  "session-1",
		ActionType: act.Type,
		Resource:   act.Resource,
		Summary:    act.Summary,
		Risk:       act.Risk(),
		Reason:     "cleanup",
		CreatedAt:  testNow.Unix(),
	}
	if err := store.Add(context.Background(), req); err != nil {
		t.Fatalf("Add: %v", err)
	}

	pending, err := store.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != req.ID || pending[0].Risk != act.Risk() {
		t.Fatalf("Pending = %+v", pending)
	}

	resolved, err := store.Resolve(context.Background(), req.ID, Response{Decision: DecisionAllowWorkspace, Reason: "fine here"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Decision != DecisionAllowWorkspace || resolved.DecisionReason != "fine here" {
		t.Errorf("resolved = %+v", resolved)
	}

	if _, err := store.Resolve(context.Background(), req.ID, Response{Decision: DecisionDeny}); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second Resolve error = %v, want ErrAlreadySettled", err)
	}
	if _, err := store.Resolve(context.Background(), "missing", Response{}); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("unknown Resolve error = %v, want ErrUnknownRequest", err)
	}
}
