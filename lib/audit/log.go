// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/signing"
)

// LogConfig holds the parameters for opening a ledger.
type LogConfig struct {
	// PrivateKey signs every appended entry. Required.
	PrivateKey ed25519.PrivateKey

	// Keyring resolves signers during verification. Required.
	Keyring *signing.Keyring

	// Clock timestamps entries. Required.
	Clock clock.Clock

	// Backend persists entries. Required.
	Backend Backend

	// Logger receives operational messages. Nil means no-op.
	Logger *slog.Logger
}

// Log is the append-only authorization ledger. Appends within one
// session are serialized so the chain is total-ordered per session;
// different sessions append concurrently. Safe for concurrent use.
type Log struct {
	private ed25519.PrivateKey
	signer  signing.KeyID
	keyring *signing.Keyring
	clock   clock.Clock
	backend Backend
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionChain
}

// sessionChain caches one session's tip. The embedded mutex
// serializes appends for the session.
type sessionChain struct {
	mu     sync.Mutex
	loaded bool
	next   uint64
	head   signing.Hash
}

// NewLog opens the ledger.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("audit log: PrivateKey is required")
	}
	if cfg.Keyring == nil {
		return nil, fmt.Errorf("audit log: Keyring is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("audit log: Clock is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("audit log: Backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{
		private:  cfg.PrivateKey,
		signer:   signing.IDForKey(cfg.PrivateKey.Public().(ed25519.PublicKey)),
		keyring:  cfg.Keyring,
		clock:    cfg.Clock,
		backend:  cfg.Backend,
		logger:   logger,
		sessions: make(map[string]*sessionChain),
	}, nil
}

// Append seals one entry onto the session's chain and returns its
// entry ID. Any failure (encoding, signing, or backend I/O) is
// returned as-is and nothing is appended: an action whose audit entry
// cannot be written must not proceed.
func (l *Log) Append(ctx context.Context, sessionID string, act action.Action, proof Proof, outcome Outcome) (string, error) {
	chain := l.chainFor(sessionID)

	chain.mu.Lock()
	defer chain.mu.Unlock()

	if !chain.loaded {
		head, ok, err := l.backend.Head(ctx, sessionID)
		if err != nil {
			return "", fmt.Errorf("audit log: loading head for %s: %w", sessionID, err)
		}
		if ok {
			chain.next = head.Sequence + 1
			chain.head = head.Hash
		} else {
			chain.next = 0
			chain.head = signing.ZeroHash
		}
		chain.loaded = true
	}

	entry := &Entry{
		ID:         NewEntryID(),
		Sequence:   chain.next,
		Timestamp:  l.clock.Now().UnixNano(),
		SessionID:  sessionID,
		ActionType: act.Type,
		Resource:   act.Resource,
		Summary:    act.Summary,
		Risk:       act.Risk(),
		Proof:      proof,
		Outcome:    outcome,
		PrevHash:   chain.head,
		Signer:     l.signer,
	}

	wire, hash, err := seal(l.private, entry)
	if err != nil {
		return "", err
	}
	if err := l.backend.Append(ctx, sessionID, entry.Sequence, entry.ID, wire, hash); err != nil {
		return "", err
	}

	chain.next++
	chain.head = hash

	l.logger.Debug("audit entry appended",
		"session", sessionID,
		"entry", entry.ID,
		"seq", entry.Sequence,
		"action", string(act.Type),
		"outcome", entry.Outcome.Status.String(),
	)
	return entry.ID, nil
}

func (l *Log) chainFor(sessionID string) *sessionChain {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain := l.sessions[sessionID]
	if chain == nil {
		chain = &sessionChain{}
		l.sessions[sessionID] = chain
	}
	return chain
}

// List decodes every entry of a session in chain order. Decoding
// failures surface as errors; List does not verify signatures or
// linkage; that is VerifyChain's job.
func (l *Log) List(ctx context.Context, sessionID string) ([]*Entry, error) {
	wires, err := l.backend.Entries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(wires))
	for i, wire := range wires {
		entry, _, _, err := decode(wire)
		if err != nil {
			return nil, fmt.Errorf("audit log: entry %d of %s: %w", i, sessionID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Sessions lists every session in the ledger.
func (l *Log) Sessions(ctx context.Context) ([]string, error) {
	return l.backend.Sessions(ctx)
}

// CountSession reports a session's entry count.
func (l *Log) CountSession(ctx context.Context, sessionID string) (int, error) {
	return l.backend.Count(ctx, sessionID)
}

// Stats summarizes the ledger.
type Stats struct {
	Sessions     int
	TotalEntries int
	PerSession   map[string]int
}

// Stats walks every session and counts entries.
func (l *Log) Stats(ctx context.Context) (*Stats, error) {
	ids, err := l.backend.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Sessions: len(ids), PerSession: make(map[string]int, len(ids))}
	for _, id := range ids {
		count, err := l.backend.Count(ctx, id)
		if err != nil {
			return nil, err
		}
		stats.PerSession[id] = count
		stats.TotalEntries += count
	}
	return stats, nil
}
