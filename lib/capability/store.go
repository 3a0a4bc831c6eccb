// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/signing"
)

// StoreConfig holds the parameters for creating a capability store.
type StoreConfig struct {
	// Keyring resolves token issuers. Required.
	Keyring *signing.Keyring

	// Clock provides the current time for expiry checks. Required.
	Clock clock.Clock

	// Durable is the SQLite tier for persistent-scope tokens. Nil
	// means persistent tokens live only as long as the process.
	Durable *DurableStore

	// ClockSkew is the expiry tolerance. Zero means DefaultClockSkew.
	ClockSkew time.Duration

	// Logger receives operational messages. Nil means no-op.
	Logger *slog.Logger
}

// Store holds an agent's active capability tokens across two tiers:
// an in-memory session tier and an optional durable tier for
// persistent-scope tokens. Revocation and single-use consumption are
// enforced across both. Safe for concurrent use.
type Store struct {
	keyring *signing.Keyring
	clock   clock.Clock
	durable *DurableStore
	skew    time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	held     map[string]*heldToken // token ID → token
	revoked  *RevocationList
	consumed map[string]bool
}

type heldToken struct {
	token *Token
	wire  []byte
}

// NewStore creates a capability store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Keyring == nil {
		return nil, fmt.Errorf("capability store: Keyring is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("capability store: Clock is required")
	}
	skew := cfg.ClockSkew
	if skew == 0 {
		skew = DefaultClockSkew
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		keyring:  cfg.Keyring,
		clock:    cfg.Clock,
		durable:  cfg.Durable,
		skew:     skew,
		logger:   logger,
		held:     make(map[string]*heldToken),
		revoked:  NewRevocationList(),
		consumed: make(map[string]bool),
	}, nil
}

// LoadPersistent hydrates the in-memory index from the durable tier.
// Tokens that no longer verify (expired, issuer removed from the
// keyring, corrupted rows) are skipped and logged, not fatal: one bad
// row must not take every surviving grant down with it.
func (s *Store) LoadPersistent(ctx context.Context) error {
	if s.durable == nil {
		return nil
	}
	wires, err := s.durable.Active(ctx)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, wire := range wires {
		token, err := VerifyAt(s.keyring, wire, now, s.skew)
		if err != nil {
			s.logger.Warn("skipping stored capability", "error", err)
			continue
		}
		s.held[token.ID] = &heldToken{token: token, wire: wire}
		loaded++
	}
	s.logger.Info("capability store loaded", "tokens", loaded, "skipped", len(wires)-loaded)
	return nil
}

// Add verifies a token's wire bytes and files it under its scope.
// Persistent tokens are written through to the durable tier when one
// is configured. Re-adding a token that either tier knows as revoked
// or consumed fails closed; the stored flags survive the write.
func (s *Store) Add(ctx context.Context, wire []byte) (*Token, error) {
	token, err := VerifyAt(s.keyring, wire, s.clock.Now(), s.skew)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	revoked := s.revoked.IsRevoked(token.ID)
	consumed := s.consumed[token.ID]
	s.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: %s", ErrTokenRevoked, token.ID)
	}
	if consumed {
		return nil, fmt.Errorf("%w: %s", ErrTokenConsumed, token.ID)
	}

	if token.Scope == ScopePersistent && s.durable != nil {
		revoked, consumed, err := s.durable.Put(ctx, token, wire)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, fmt.Errorf("%w: %s", ErrTokenRevoked, token.ID)
		}
		if consumed {
			return nil, fmt.Errorf("%w: %s", ErrTokenConsumed, token.ID)
		}
	}

	s.mu.Lock()
	s.held[token.ID] = &heldToken{token: token, wire: wire}
	s.mu.Unlock()

	s.logger.Debug("capability added",
		"token", token.ID,
		"pattern", token.Pattern.String(),
		"scope", token.Scope.String(),
	)
	return token, nil
}

// Find returns the valid token granting the given permission on the
// given resource. When several tokens match, the most specific pattern
// wins; ties break toward the most recently issued. Returns
// ErrNoCapability when nothing grants the action.
func (s *Store) Find(resourceURI string, permission Permission) (*Token, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Token
	for id, held := range s.held {
		token := held.token
		if s.revoked.IsRevoked(id) || s.consumed[id] {
			continue
		}
		if token.ExpiresBefore(now) {
			continue
		}
		if !token.Grants(resourceURI, permission) {
			continue
		}
		if best == nil {
			best = token
			continue
		}
		bestScore, score := best.Pattern.Specificity(), token.Pattern.Specificity()
		if score > bestScore || (score == bestScore && token.IssuedAt > best.IssuedAt) {
			best = token
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNoCapability, permission, resourceURI)
	}
	return best, nil
}

// HasCapability reports whether a valid token grants the action.
func (s *Store) HasCapability(resourceURI string, permission Permission) bool {
	_, err := s.Find(resourceURI, permission)
	return err == nil
}

// Use records that a token authorized an action. For single-use
// tokens this consumes the token atomically; a second Use (or a
// concurrent one that lost the race) returns ErrTokenConsumed and the
// action must not proceed.
func (s *Store) Use(ctx context.Context, token *Token) error {
	if !token.SingleUse {
		return nil
	}

	s.mu.Lock()
	if s.consumed[token.ID] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTokenConsumed, token.ID)
	}
	s.consumed[token.ID] = true
	s.mu.Unlock()

	if token.Scope == ScopePersistent && s.durable != nil {
		if err := s.durable.MarkConsumed(ctx, token.ID); err != nil {
			return err
		}
	}
	s.logger.Debug("single-use capability consumed", "token", token.ID)
	return nil
}

// Revoke invalidates a token by ID across both tiers. Revoking an
// unknown ID is not an error: the ID is remembered so a late Add of
// the same token still fails closed.
func (s *Store) Revoke(ctx context.Context, id string) error {
	now := s.clock.Now()

	s.mu.Lock()
	var expiresAt int64
	if held, ok := s.held[id]; ok {
		expiresAt = held.token.ExpiresAt
		delete(s.held, id)
	}
	s.revoked.Revoke(id, expiresAt, now)
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.MarkRevoked(ctx, id); err != nil {
			return err
		}
	}
	s.logger.Info("capability revoked", "token", id)
	return nil
}

// IsRevoked reports whether a token ID has been revoked.
func (s *Store) IsRevoked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked.IsRevoked(id)
}

// ClearSession drops every session-scope token. Called at session end.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, held := range s.held {
		if held.token.Scope == ScopeSession {
			delete(s.held, id)
			delete(s.consumed, id)
		}
	}
}

// CleanupExpired drops expired tokens from both tiers and compacts the
// revocation list. Returns the number of tokens removed from memory.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	removed := 0
	for id, held := range s.held {
		if held.token.ExpiresBefore(now) {
			delete(s.held, id)
			delete(s.consumed, id)
			removed++
		}
	}
	s.revoked.Cleanup(now)
	s.mu.Unlock()

	if s.durable != nil {
		if _, err := s.durable.DeleteExpired(ctx, now.Unix()); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// List returns a snapshot of every live (unrevoked, unconsumed,
// unexpired) token, for inspection surfaces.
func (s *Store) List() []*Token {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	tokens := make([]*Token, 0, len(s.held))
	for id, held := range s.held {
		if s.revoked.IsRevoked(id) || s.consumed[id] || held.token.ExpiresBefore(now) {
			continue
		}
		tokens = append(tokens, held.token)
	}
	return tokens
}

// Len reports the number of held tokens, including expired ones not
// yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Wire returns the wire bytes for a held token ID, for re-export to a
// restarted subprocess.
func (s *Store) Wire(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.held[id]
	if !ok {
		return nil, false
	}
	return held.wire, true
}
