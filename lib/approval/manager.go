// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/clock"
)

// DefaultTimeout is how long the manager waits for a handler's answer
// before deferring the request.
const DefaultTimeout = 5 * time.Minute

// ErrNoDecision is returned when a handler errors out without
// producing a decision and the request cannot be deferred either.
var ErrNoDecision = errors.New("approval: no decision obtained")

// ResultStatus is the manager's verdict on one request.
type ResultStatus uint8

const (
	// Approved: a human allowed the action.
	Approved ResultStatus = iota
	// Denied: a human refused the action.
	Denied
	// DeferredToQueue: no human was reachable in time; the request is
	// queued for later resolution and the action does not run now.
	DeferredToQueue
)

func (s ResultStatus) String() string {
	switch s {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case DeferredToQueue:
		return "deferred"
	default:
		return fmt.Sprintf("result(%d)", uint8(s))
	}
}

// Result is the outcome of one Request call.
type Result struct {
	Status    ResultStatus
	RequestID string
	// Response is set when Status is Approved or Denied.
	Response *Response
}

// ManagerConfig holds the parameters for creating a manager.
type ManagerConfig struct {
	// Handler is the approval surface. Nil means every request is
	// deferred.
	Handler Handler

	// Clock drives timeouts. Required.
	Clock clock.Clock

	// Deferred queues requests no human could answer. Required.
	Deferred DeferredStore

	// Timeout bounds the wait for a handler answer. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Logger receives operational messages. Nil means no-op.
	Logger *slog.Logger
}

// Manager runs the approval flow: dispatch to the handler, bound the
// wait, defer what cannot be answered, and route late resolutions.
// Safe for concurrent use.
type Manager struct {
	handler  Handler
	clock    clock.Clock
	deferred DeferredStore
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan Response
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("approval manager: Clock is required")
	}
	if cfg.Deferred == nil {
		return nil, fmt.Errorf("approval manager: Deferred store is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		handler:  cfg.Handler,
		clock:    cfg.Clock,
		deferred: cfg.Deferred,
		timeout:  timeout,
		logger:   logger,
		waiters:  make(map[string]chan Response),
	}, nil
}

// Request puts an action to a human and blocks for the verdict. With
// no handler, an unavailable handler, a handler error, or a timeout,
// the request lands in the deferred queue and the result is
// DeferredToQueue. ctx cancellation abandons the request and returns
// ctx's error; the caller unwinds whatever it reserved.
func (m *Manager) Request(ctx context.Context, sessionID string, act action.Action, reason string) (*Result, error) {
	req := &Request{
		ID:        NewRequestID(),
		SessionID: sessionID,
		Action:    act,
		Risk:      act.Risk(),
		Reason:    reason,
		CreatedAt: m.clock.Now(),
		Timeout:   m.timeout,
	}

	if m.handler == nil || !m.handler.Available() {
		return m.deferRequest(ctx, req, "no approval handler available")
	}

	waiter := make(chan Response, 1)
	m.mu.Lock()
	m.waiters[req.ID] = waiter
	m.mu.Unlock()

	handlerCtx, cancelHandler := context.WithCancel(context.Background())
	defer cancelHandler()
	go func() {
		resp, err := m.handler.RequestApproval(handlerCtx, req)
		if err != nil || resp == nil {
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("approval handler error", "request", req.ID, "error", err)
			}
			return
		}
		m.deliver(req.ID, *resp)
	}()

	timer := m.clock.After(m.timeout)
	select {
	case resp := <-waiter:
		return m.settle(req, resp), nil

	case <-timer:
		// Claim the waiter so a late handler answer is dropped
		// rather than half-applied. If the handler won the race, the
		// response is already in the channel.
		if !m.claim(req.ID) {
			resp := <-waiter
			return m.settle(req, resp), nil
		}
		return m.deferRequest(ctx, req, "approval timed out")

	case <-ctx.Done():
		m.claim(req.ID)
		m.logger.Info("approval request abandoned", "request", req.ID, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// deliver routes a handler answer to its waiter. A request already
// settled (timed out, abandoned) drops the answer.
func (m *Manager) deliver(id string, resp Response) {
	m.mu.Lock()
	waiter, ok := m.waiters[id]
	if ok {
		delete(m.waiters, id)
	}
	m.mu.Unlock()
	if ok {
		waiter <- resp
	}
}

// claim removes a waiter, returning false if someone else (a deliver)
// already did.
func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.waiters[id]; !ok {
		return false
	}
	delete(m.waiters, id)
	return true
}

func (m *Manager) settle(req *Request, resp Response) *Result {
	status := Approved
	if !resp.Decision.Allows() {
		status = Denied
	}
	m.logger.Info("approval decided",
		"request", req.ID,
		"action", string(req.Action.Type),
		"decision", resp.Decision.String(),
	)
	return &Result{Status: status, RequestID: req.ID, Response: &resp}
}

func (m *Manager) deferRequest(ctx context.Context, req *Request, why string) (*Result, error) {
	record := &DeferredRequest{
		ID:         req.ID,
		SessionID:  req.SessionID,
		ActionType: req.Action.Type,
		Resource:   req.Action.Resource,
		Permission: req.Action.Permission,
		Summary:    req.Action.Summary,
		Risk:       req.Risk,
		Reason:     req.Reason,
		CreatedAt:  req.CreatedAt.Unix(),
	}
	if err := m.deferred.Add(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: deferring failed: %v", ErrNoDecision, err)
	}
	m.logger.Info("approval deferred",
		"request", req.ID,
		"action", string(req.Action.Type),
		"why", why,
	)
	return &Result{Status: DeferredToQueue, RequestID: req.ID}, nil
}

// ResolveDeferred settles a queued request with a human decision and
// returns the record, including the action details the resolver needs
// to mint the follow-on grant. Resolving an unknown or already
// settled request fails.
func (m *Manager) ResolveDeferred(ctx context.Context, id string, resp Response) (*DeferredRequest, error) {
	resolved, err := m.deferred.Resolve(ctx, id, resp)
	if err != nil {
		return nil, err
	}
	m.logger.Info("deferred approval resolved",
		"request", id,
		"decision", resp.Decision.String(),
	)
	return resolved, nil
}

// PendingDeferred lists queued requests awaiting resolution.
func (m *Manager) PendingDeferred(ctx context.Context) ([]*DeferredRequest, error) {
	return m.deferred.Pending(ctx)
}

// ExpireDeferred expires queued requests older than the given age.
func (m *Manager) ExpireDeferred(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.clock.Now().Add(-olderThan).Unix()
	return m.deferred.Expire(ctx, cutoff)
}
