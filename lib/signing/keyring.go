// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrUntrustedKey is returned when a signed object names an issuer key
// ID that is not present in the keyring.
var ErrUntrustedKey = errors.New("signing: issuer key not in keyring")

// KeyID identifies a public key: the lowercase hex encoding of its
// first 8 bytes. Short enough to embed in every token and audit entry,
// long enough that accidental collision is not a practical concern
// within one deployment's trusted set.
type KeyID string

// IDForKey derives the KeyID for a public key.
func IDForKey(public ed25519.PublicKey) KeyID {
	return KeyID(hex.EncodeToString(public[:8]))
}

// Keyring is the set of public keys trusted to sign tokens and audit
// entries. Verification of any signed object resolves the issuer
// through the keyring; an unknown issuer fails with ErrUntrustedKey.
// Safe for concurrent use.
type Keyring struct {
	mu   sync.RWMutex
	keys map[KeyID]ed25519.PublicKey
}

// NewKeyring returns a keyring trusting the given keys.
func NewKeyring(keys ...ed25519.PublicKey) *Keyring {
	ring := &Keyring{keys: make(map[KeyID]ed25519.PublicKey, len(keys))}
	for _, key := range keys {
		ring.Trust(key)
	}
	return ring
}

// Trust adds a public key to the keyring.
func (r *Keyring) Trust(public ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[IDForKey(public)] = public
}

// Remove drops a key from the keyring. Objects signed by it will no
// longer verify.
func (r *Keyring) Remove(id KeyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, id)
}

// Lookup returns the public key for the given ID.
func (r *Keyring) Lookup(id KeyID) (ed25519.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedKey, id)
	}
	return key, nil
}

// Verify checks signature over payload against the key identified by
// id.
func (r *Keyring) Verify(id KeyID, payload, signature []byte) error {
	key, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature has %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(key, payload, signature) {
		return errors.New("signing: signature verification failed")
	}
	return nil
}

// Len reports how many keys the keyring trusts.
func (r *Keyring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
