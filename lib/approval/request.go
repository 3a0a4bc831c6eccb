// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval implements the human-in-the-loop decision point.
// When policy and standing grants cannot authorize an action, the
// manager puts a request to the configured handler (a TUI, an editor
// surface, a chat bridge) and waits. A missing, unavailable, or silent
// handler defers the request instead of failing it: the action does
// not run now, but a human can resolve the queued request later.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/warden-foundation/warden/lib/action"
)

// Decision is a human's answer to an approval request.
type Decision uint8

const (
	// DecisionDeny refuses the action.
	DecisionDeny Decision = iota
	// DecisionAllowOnce authorizes this action only.
	DecisionAllowOnce
	// DecisionAllowSession authorizes equivalent actions until the
	// session ends.
	DecisionAllowSession
	// DecisionAllowWorkspace authorizes equivalent actions within the
	// current workspace.
	DecisionAllowWorkspace
	// DecisionAllowAlways mints a persistent capability token.
	DecisionAllowAlways
)

func (d Decision) String() string {
	switch d {
	case DecisionDeny:
		return "deny"
	case DecisionAllowOnce:
		return "allow-once"
	case DecisionAllowSession:
		return "allow-session"
	case DecisionAllowWorkspace:
		return "allow-workspace"
	case DecisionAllowAlways:
		return "allow-always"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Allows reports whether the decision authorizes the action.
func (d Decision) Allows() bool { return d != DecisionDeny }

// Response is the handler's (or a later resolver's) answer.
type Response struct {
	Decision Decision
	// Reason is the human's stated reason, mandatory for denials,
	// optional otherwise.
	Reason string
}

// Request is one approval put to a human.
type Request struct {
	// ID is a unique request identifier (hex string).
	ID string
	// SessionID names the session asking.
	SessionID string
	// Action is what the agent wants to do.
	Action action.Action
	// Risk is the assessed risk level shown to the human.
	Risk action.RiskLevel
	// Reason is the agent's stated reason for the action.
	Reason string
	// CreatedAt is when the manager issued the request.
	CreatedAt time.Time
	// Timeout is how long the manager will wait before deferring.
	Timeout time.Duration
}

// Handler is the plug point for approval surfaces. Implementations
// must honor ctx cancellation; a handler that blocks past the
// request's timeout has its answer routed to the deferred queue
// instead of being lost.
type Handler interface {
	// RequestApproval presents the request and blocks for an answer.
	RequestApproval(ctx context.Context, req *Request) (*Response, error)

	// Available reports whether a human can currently be reached.
	// An unavailable handler defers requests instead of receiving
	// them.
	Available() bool
}

// NewRequestID generates a cryptographically random 16-byte request
// ID.
func NewRequestID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		panic("approval: failed to generate request ID: " + err.Error())
	}
	return hex.EncodeToString(id[:])
}
