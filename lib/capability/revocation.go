// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"sync"
	"time"
)

// revocationRetention is how long a revoked token ID with no expiry of
// its own is remembered. Tokens with an expiry fall out of the list
// naturally once they expire.
const revocationRetention = 30 * 24 * time.Hour

// RevocationList tracks revoked and consumed token IDs. Entries are
// kept until the underlying token could no longer verify anyway, so
// the list stays small without ever forgetting a live token. Safe for
// concurrent use.
type RevocationList struct {
	mu      sync.Mutex
	entries map[string]int64 // token ID → drop-after Unix seconds
}

// NewRevocationList returns an empty revocation list.
func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]int64)}
}

// Revoke records a token ID. expiresAt is the token's own expiry
// (zero for none); the entry is retained until then, or for the
// default retention window when the token never expires.
func (l *RevocationList) Revoke(id string, expiresAt int64, now time.Time) {
	dropAfter := expiresAt
	if dropAfter == 0 {
		dropAfter = now.Add(revocationRetention).Unix()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = dropAfter
}

// IsRevoked reports whether a token ID has been revoked.
func (l *RevocationList) IsRevoked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, revoked := l.entries[id]
	return revoked
}

// Cleanup drops entries whose retention has passed. Returns the number
// removed.
func (l *RevocationList) Cleanup(now time.Time) int {
	cutoff := now.Unix()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, dropAfter := range l.entries {
		if dropAfter <= cutoff {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked IDs.
func (l *RevocationList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
