// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements signed capability tokens: scoped,
// revocable grants that let an agent perform a class of sensitive
// actions without re-approval. A token is minted after a human
// approves an action with session or persistent scope, and every
// token carries the audit entry ID of that approval.
package capability

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/resource"
	"github.com/warden-foundation/warden/lib/signing"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// DefaultClockSkew is the tolerance applied to expiry and not-before
// checks, absorbing clock drift between the minting host and the
// verifying host.
const DefaultClockSkew = 30 * time.Second

// Permission is one of the fixed verbs a token can grant on the
// resources its pattern covers.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionExecute Permission = "execute"
	PermissionDelete  Permission = "delete"
	PermissionNetwork Permission = "network"
)

// Scope determines a token's lifetime tier.
type Scope uint8

const (
	// ScopeSession tokens live in memory and die with the session.
	ScopeSession Scope = iota
	// ScopePersistent tokens survive restarts via the durable store.
	ScopePersistent
)

func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Token is the CBOR-encoded payload of a capability token. The wire
// form is the canonical CBOR encoding followed by the 64-byte Ed25519
// signature over those payload bytes.
type Token struct {
	// ID is a unique token identifier (hex string), used for
	// revocation and single-use consumption.
	ID string `cbor:"1,keyasint"`

	// Pattern scopes the token to a set of resources.
	Pattern resource.Pattern `cbor:"2,keyasint"`

	// Permissions are the verbs granted on matching resources.
	Permissions []Permission `cbor:"3,keyasint"`

	// Scope is the lifetime tier.
	Scope Scope `cbor:"4,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of minting.
	IssuedAt int64 `cbor:"5,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which the token
	// is invalid. Zero means no expiry.
	ExpiresAt int64 `cbor:"6,keyasint,omitempty"`

	// Issuer identifies the signing key in the verifier's keyring.
	Issuer signing.KeyID `cbor:"7,keyasint"`

	// ApprovalAuditID links the token to the audit entry recording
	// the human approval that created it.
	ApprovalAuditID string `cbor:"8,keyasint,omitempty"`

	// SingleUse tokens are consumed by their first authorization and
	// reject any replay.
	SingleUse bool `cbor:"9,keyasint,omitempty"`
}

// Errors returned by Verify and the store.
var (
	ErrTokenTooShort    = errors.New("capability: token too short for signature")
	ErrInvalidSignature = errors.New("capability: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("capability: token has expired")
	ErrTokenNotYetValid = errors.New("capability: token issued in the future")
	ErrTokenRevoked     = errors.New("capability: token has been revoked")
	ErrTokenConsumed    = errors.New("capability: single-use token already consumed")
	ErrNoCapability     = errors.New("capability: no valid token grants this action")
)

// NewTokenID generates a cryptographically random 16-byte token ID.
// Panics if the system entropy source fails, a system-level failure
// no caller can recover from.
func NewTokenID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		panic("capability: failed to generate token ID: " + err.Error())
	}
	return hex.EncodeToString(id[:])
}

// Mint signs a Token and returns the raw wire-format bytes:
// CBOR-encoded payload followed by the 64-byte Ed25519 signature. The
// Issuer field is set from the private key before signing.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	if token.ID == "" {
		token.ID = NewTokenID()
	}
	token.Issuer = signing.IDForKey(privateKey.Public().(ed25519.PublicKey))

	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("capability: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)

	return result, nil
}

// VerifyAt splits the raw token bytes, resolves the issuer through the
// keyring, verifies the Ed25519 signature, CBOR-decodes the payload,
// and checks validity at the given instant with the given clock-skew
// tolerance. Returns the decoded Token on success.
//
// The caller additionally consults the store for revocation and
// single-use consumption; those are runtime state, not properties of
// the token bytes.
func VerifyAt(ring *signing.Keyring, tokenBytes []byte, now time.Time, skew time.Duration) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	// Decode first: the issuer key ID lives inside the payload.
	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("capability: decoding token payload: %w", err)
	}

	if err := ring.Verify(token.Issuer, payload, signature); err != nil {
		if errors.Is(err, signing.ErrUntrustedKey) {
			return nil, err
		}
		return nil, ErrInvalidSignature
	}

	if token.IssuedAt > now.Add(skew).Unix() {
		return nil, ErrTokenNotYetValid
	}
	if token.ExpiresAt != 0 && now.Add(-skew).Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return &token, nil
}

// Grants reports whether the token covers the given resource with the
// given permission. Signature and expiry are not re-checked here.
func (t *Token) Grants(resourceURI string, permission Permission) bool {
	if !t.Pattern.Matches(resourceURI) {
		return false
	}
	for _, granted := range t.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// ExpiresBefore reports whether the token has an expiry at or before
// the given instant.
func (t *Token) ExpiresBefore(instant time.Time) bool {
	return t.ExpiresAt != 0 && t.ExpiresAt <= instant.Unix()
}
