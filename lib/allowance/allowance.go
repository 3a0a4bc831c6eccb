// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package allowance implements short-lived approval grants. An
// allowance is what an "allow for this session" or "allow in this
// workspace" decision turns into: unsigned, in-process state that
// short-circuits re-approval of equivalent actions. Durable,
// transferable grants are capability tokens; allowances never leave
// the process.
package allowance

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/resource"
)

// Scope determines where an allowance applies.
type Scope uint8

const (
	// ScopeOnce allowances authorize exactly one action.
	ScopeOnce Scope = iota
	// ScopeSession allowances last until the session ends.
	ScopeSession
	// ScopeWorkspace allowances apply only to resources under their
	// workspace root, until explicitly cleared.
	ScopeWorkspace
)

func (s Scope) String() string {
	switch s {
	case ScopeOnce:
		return "once"
	case ScopeSession:
		return "session"
	case ScopeWorkspace:
		return "workspace"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// ErrNoAllowance is returned by Check when nothing covers the action.
var ErrNoAllowance = errors.New("allowance: no allowance covers this action")

// Allowance is one grant. Fields are fixed at creation; UsesRemaining
// is the only mutable state and is managed by the Store.
type Allowance struct {
	ID            string
	Pattern       resource.Pattern
	Scope         Scope
	CreatedAt     time.Time
	ExpiresAt     time.Time // zero means no expiry
	WorkspaceRoot string    // required for ScopeWorkspace
	MaxUses       int       // 0 means unlimited
	usesRemaining int
}

// UsesRemaining reports how many uses are left, or -1 for unlimited.
func (a *Allowance) UsesRemaining() int {
	if a.MaxUses == 0 {
		return -1
	}
	return a.usesRemaining
}

// Store holds a session's allowances. Check is an atomic
// find-and-consume: two concurrent checks against a one-use allowance
// cannot both succeed. Safe for concurrent use.
type Store struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Allowance
}

// NewStore creates an allowance store. Clock is required; a nil logger
// means no-op.
func NewStore(clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if clk == nil {
		return nil, fmt.Errorf("allowance store: Clock is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		clock:   clk,
		logger:  logger,
		entries: make(map[string]*Allowance),
	}, nil
}

// Grant adds an allowance and returns its assigned ID. ScopeOnce
// implies MaxUses of 1; ScopeWorkspace requires a workspace root.
func (s *Store) Grant(a Allowance) (string, error) {
	if a.Pattern.IsZero() {
		return "", fmt.Errorf("allowance: pattern is required")
	}
	if a.Scope == ScopeWorkspace && a.WorkspaceRoot == "" {
		return "", fmt.Errorf("allowance: workspace scope requires a workspace root")
	}
	if a.Scope == ScopeOnce {
		a.MaxUses = 1
	}
	a.ID = newAllowanceID()
	a.CreatedAt = s.clock.Now()
	a.usesRemaining = a.MaxUses

	s.mu.Lock()
	stored := a
	s.entries[a.ID] = &stored
	s.mu.Unlock()

	s.logger.Debug("allowance granted",
		"allowance", a.ID,
		"pattern", a.Pattern.String(),
		"scope", a.Scope.String(),
	)
	return a.ID, nil
}

// Check looks for an allowance covering the resource and consumes one
// use from it. workspaceRoot is the caller's current workspace;
// workspace-scope allowances only match when the resource is a file
// under their root and the roots agree. Returns the covering
// allowance, or ErrNoAllowance.
func (s *Store) Check(resourceURI, workspaceRoot string) (*Allowance, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.entries {
		if !a.ExpiresAt.IsZero() && !a.ExpiresAt.After(now) {
			continue
		}
		if a.Scope == ScopeWorkspace && !workspaceCovers(a.WorkspaceRoot, workspaceRoot, resourceURI) {
			continue
		}
		if !a.Pattern.Matches(resourceURI) {
			continue
		}

		if a.MaxUses > 0 {
			a.usesRemaining--
			if a.usesRemaining <= 0 {
				delete(s.entries, id)
			}
		}
		result := *a
		return &result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAllowance, resourceURI)
}

// Revoke removes an allowance by ID. Unknown IDs are a no-op.
func (s *Store) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// ClearSession drops every once- and session-scope allowance.
// Workspace allowances survive: they were granted to the workspace,
// not the session.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.entries {
		if a.Scope == ScopeOnce || a.Scope == ScopeSession {
			delete(s.entries, id)
		}
	}
}

// ClearWorkspace drops every allowance bound to the given root.
func (s *Store) ClearWorkspace(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.entries {
		if a.Scope == ScopeWorkspace && a.WorkspaceRoot == root {
			delete(s.entries, id)
		}
	}
}

// Len reports the number of live allowances.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// workspaceCovers reports whether a workspace-scope allowance bound to
// grantRoot applies to resourceURI in the caller's currentRoot. The
// roots must agree, and file resources must resolve under the root.
// Non-file resources (mcp, cmd, net) are covered by root agreement
// alone; they have no filesystem position.
func workspaceCovers(grantRoot, currentRoot, resourceURI string) bool {
	if grantRoot != currentRoot {
		return false
	}
	path, ok := strings.CutPrefix(resourceURI, "file://")
	if !ok {
		return true
	}
	root := strings.TrimSuffix(grantRoot, "/")
	return path == root || strings.HasPrefix(path, root+"/")
}

func newAllowanceID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		panic("allowance: failed to generate ID: " + err.Error())
	}
	return hex.EncodeToString(id[:])
}
