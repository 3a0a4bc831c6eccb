// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/warden-foundation/warden/lib/signing"
)

// Head is a session chain's current tip.
type Head struct {
	Sequence uint64
	Hash     signing.Hash
}

// Backend persists sealed entries. Append must atomically store the
// entry and advance the session head, or do neither: a ledger with an
// entry its head does not cover is corruption, not lag.
type Backend interface {
	// Append stores a sealed entry and sets the session head to
	// (entry.Sequence, hash).
	Append(ctx context.Context, sessionID string, sequence uint64, entryID string, wire []byte, hash signing.Hash) error

	// Head returns the session's current tip. ok is false for a
	// session with no entries.
	Head(ctx context.Context, sessionID string) (head Head, ok bool, err error)

	// Entries returns every stored wire record for the session in
	// sequence order.
	Entries(ctx context.Context, sessionID string) ([][]byte, error)

	// Sessions lists every session with at least one entry.
	Sessions(ctx context.Context) ([]string, error)

	// Count reports the number of entries in a session.
	Count(ctx context.Context, sessionID string) (int, error)
}

// MemoryBackend keeps the ledger in process memory. For tests and
// short-lived sessions that do not need durability.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

type memorySession struct {
	head    Head
	hasHead bool
	entries [][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*memorySession)}
}

func (m *MemoryBackend) Append(ctx context.Context, sessionID string, sequence uint64, entryID string, wire []byte, hash signing.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		session = &memorySession{}
		m.sessions[sessionID] = session
	}
	stored := make([]byte, len(wire))
	copy(stored, wire)
	session.entries = append(session.entries, stored)
	session.head = Head{Sequence: sequence, Hash: hash}
	session.hasHead = true
	return nil
}

func (m *MemoryBackend) Head(ctx context.Context, sessionID string) (Head, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil || !session.hasHead {
		return Head{}, false, nil
	}
	return session.head, true, nil
}

func (m *MemoryBackend) Entries(ctx context.Context, sessionID string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		return nil, nil
	}
	entries := make([][]byte, len(session.entries))
	copy(entries, session.entries)
	return entries, nil
}

func (m *MemoryBackend) Sessions(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryBackend) Count(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := m.sessions[sessionID]
	if session == nil {
		return 0, nil
	}
	return len(session.entries), nil
}
