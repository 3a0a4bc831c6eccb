// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit implements the hash-chained, signed authorization
// ledger. Every intercepted action appends exactly one entry; each
// entry's PrevHash is the keyed BLAKE3 digest of its predecessor's
// signed payload, so removing, reordering, or editing any entry breaks
// every later link. Entries are individually Ed25519-signed, so a
// forged chain fails even when its hashes are internally consistent.
package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/signing"
)

const signatureSize = ed25519.SignatureSize

// ProofKind discriminates how an action was authorized.
type ProofKind uint8

const (
	// ProofPolicy: policy rules allowed the action outright.
	ProofPolicy ProofKind = iota
	// ProofCapability: a capability token granted it.
	ProofCapability
	// ProofApproval: a human approved it.
	ProofApproval
	// ProofAllowance: a prior session or workspace approval covered it.
	ProofAllowance
	// ProofSystem: the runtime itself performed it (startup,
	// maintenance).
	ProofSystem
	// ProofDenied: no authorization; the entry records a refusal.
	ProofDenied
)

func (k ProofKind) String() string {
	switch k {
	case ProofPolicy:
		return "policy"
	case ProofCapability:
		return "capability"
	case ProofApproval:
		return "approval"
	case ProofAllowance:
		return "allowance"
	case ProofSystem:
		return "system"
	case ProofDenied:
		return "denied"
	default:
		return fmt.Sprintf("proof(%d)", uint8(k))
	}
}

// Proof records why an action was (or was not) allowed to proceed.
type Proof struct {
	Kind ProofKind `cbor:"1,keyasint"`
	// Reference identifies the authorizing object: token ID,
	// allowance ID, or approval request ID.
	Reference string `cbor:"2,keyasint,omitempty"`
	// Detail carries the denial reason or system context.
	Detail string `cbor:"3,keyasint,omitempty"`
}

// PolicyProof records authorization by policy rule.
func PolicyProof() Proof { return Proof{Kind: ProofPolicy} }

// CapabilityProof records authorization by capability token.
func CapabilityProof(tokenID string) Proof {
	return Proof{Kind: ProofCapability, Reference: tokenID}
}

// ApprovalProof records a human decision on an approval request.
func ApprovalProof(requestID string) Proof {
	return Proof{Kind: ProofApproval, Reference: requestID}
}

// AllowanceProof records authorization by a standing allowance.
func AllowanceProof(allowanceID string) Proof {
	return Proof{Kind: ProofAllowance, Reference: allowanceID}
}

// SystemProof records a runtime-internal action.
func SystemProof(context string) Proof {
	return Proof{Kind: ProofSystem, Detail: context}
}

// DeniedProof records a refusal and its reason.
func DeniedProof(reason string) Proof {
	return Proof{Kind: ProofDenied, Detail: reason}
}

// Status is the recorded result of an intercepted action.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusDenied
	StatusDeferred
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDenied:
		return "denied"
	case StatusDeferred:
		return "deferred"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Outcome pairs a status with optional detail.
type Outcome struct {
	Status Status `cbor:"1,keyasint"`
	Detail string `cbor:"2,keyasint,omitempty"`
}

// Entry is the CBOR-encoded payload of one ledger record. The stored
// wire form is the canonical CBOR encoding followed by the 64-byte
// Ed25519 signature over those payload bytes.
type Entry struct {
	// ID is a unique entry identifier (hex string).
	ID string `cbor:"1,keyasint"`

	// Sequence is the entry's position in its session chain, starting
	// at 0.
	Sequence uint64 `cbor:"2,keyasint"`

	// Timestamp is Unix nanoseconds at append time.
	Timestamp int64 `cbor:"3,keyasint"`

	// SessionID names the chain this entry belongs to.
	SessionID string `cbor:"4,keyasint"`

	// ActionType, Resource, Summary, and Risk describe the attempted
	// action.
	ActionType action.Type      `cbor:"5,keyasint"`
	Resource   string           `cbor:"6,keyasint"`
	Summary    string           `cbor:"7,keyasint"`
	Risk       action.RiskLevel `cbor:"8,keyasint"`

	// Proof records how the action was authorized.
	Proof Proof `cbor:"9,keyasint"`

	// Outcome records what happened.
	Outcome Outcome `cbor:"10,keyasint"`

	// PrevHash chains this entry to its predecessor's content hash.
	// The first entry of a session carries signing.ZeroHash.
	PrevHash signing.Hash `cbor:"11,keyasint"`

	// Signer identifies the runtime signing key in the verifier's
	// keyring.
	Signer signing.KeyID `cbor:"12,keyasint"`
}

// Errors returned when decoding stored entries.
var (
	ErrEntryTooShort = errors.New("audit: stored entry too short for signature")
	ErrEntryCorrupt  = errors.New("audit: stored entry does not decode")
)

// NewEntryID generates a cryptographically random 16-byte entry ID.
func NewEntryID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		panic("audit: failed to generate entry ID: " + err.Error())
	}
	return hex.EncodeToString(id[:])
}

// seal signs an entry and returns its wire bytes and content hash.
func seal(privateKey ed25519.PrivateKey, entry *Entry) (wire []byte, hash signing.Hash, err error) {
	payload, err := codec.Marshal(entry)
	if err != nil {
		return nil, signing.Hash{}, fmt.Errorf("audit: encoding entry payload: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	wire = make([]byte, len(payload)+signatureSize)
	copy(wire, payload)
	copy(wire[len(payload):], signature)

	return wire, signing.HashAuditEntry(payload), nil
}

// decode splits stored wire bytes into the entry, its payload bytes,
// and its signature. No signature or chain checks happen here.
func decode(wire []byte) (*Entry, []byte, []byte, error) {
	if len(wire) <= signatureSize {
		return nil, nil, nil, ErrEntryTooShort
	}
	splitPoint := len(wire) - signatureSize
	payload := wire[:splitPoint]
	signature := wire[splitPoint:]

	var entry Entry
	if err := codec.Unmarshal(payload, &entry); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrEntryCorrupt, err)
	}
	return &entry, payload, signature, nil
}
