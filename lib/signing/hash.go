// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing holds the module's cryptographic primitives: keyed
// BLAKE3 content hashing, Ed25519 keypair management, and the keyring
// of trusted verifier keys.
package signing

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// ZeroHash is the all-zero digest. It anchors the first entry of every
// audit chain.
var ZeroHash Hash

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes in
// different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. Fixed constants; changing them invalidates
// every existing hash in that domain. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the keys
// are inspectable in hex dumps without sacrificing any cryptographic
// property (BLAKE3 keyed mode treats the key as opaque).
var (
	tokenDomainKey = domainKey{
		'w', 'a', 'r', 'd', 'e', 'n', '.', 'c', 'a', 'p', 'a', 'b', 'i', 'l', 'i', 't',
		'y', '.', 't', 'o', 'k', 'e', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	auditDomainKey = domainKey{
		'w', 'a', 'r', 'd', 'e', 'n', '.', 'a', 'u', 'd', 'i', 't', '.', 'e', 'n', 't',
		'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashToken computes the token-domain keyed hash of a capability
// token's canonical payload. Used as the token's content fingerprint.
func HashToken(payload []byte) Hash {
	return keyedHash(tokenDomainKey, payload)
}

// HashAuditEntry computes the audit-domain keyed hash of an audit
// entry's canonical payload. This is the value chained into the next
// entry's PrevHash.
func HashAuditEntry(payload []byte) Hash {
	return keyedHash(auditDomainKey, payload)
}

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a wrong key size, which the domainKey
		// type makes impossible.
		panic("signing: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// MarshalBinary implements encoding.BinaryMarshaler so hashes encode
// as 32-byte CBOR byte strings.
func (h Hash) MarshalBinary() ([]byte, error) {
	return h[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) != len(h) {
		return fmt.Errorf("hash has %d bytes, want %d", len(data), len(h))
	}
	copy(h[:], data)
	return nil
}

// FormatHash renders a hash as 64 lowercase hex characters.
func FormatHash(h Hash) string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 64 {
		return h, fmt.Errorf("hash has %d characters, want 64", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parsing hash: %w", err)
	}
	copy(h[:], decoded)
	return h, nil
}
