// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/warden-foundation/warden/lib/signing"
)

// ErrChainCorrupt is the sentinel wrapped by Report.Err when a chain
// fails verification.
var ErrChainCorrupt = errors.New("audit: chain corrupt")

// ViolationKind classifies one chain verification failure.
type ViolationKind uint8

const (
	// ViolationMalformed: the stored record does not decode.
	ViolationMalformed ViolationKind = iota
	// ViolationBadGenesis: the first entry's PrevHash is not zero.
	ViolationBadGenesis
	// ViolationHashMismatch: PrevHash does not equal the predecessor's
	// content hash.
	ViolationHashMismatch
	// ViolationBadSignature: the entry's signature does not verify
	// against the keyring.
	ViolationBadSignature
	// ViolationSequenceGap: sequence numbers are not contiguous from
	// zero.
	ViolationSequenceGap
	// ViolationWrongSession: the entry names a different session than
	// the chain it is stored in.
	ViolationWrongSession
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationMalformed:
		return "malformed"
	case ViolationBadGenesis:
		return "bad-genesis"
	case ViolationHashMismatch:
		return "hash-mismatch"
	case ViolationBadSignature:
		return "bad-signature"
	case ViolationSequenceGap:
		return "sequence-gap"
	case ViolationWrongSession:
		return "wrong-session"
	default:
		return fmt.Sprintf("violation(%d)", uint8(k))
	}
}

// Violation locates one verification failure in a chain.
type Violation struct {
	// Index is the entry's position in storage order.
	Index int
	// Kind classifies the failure.
	Kind ViolationKind
	// Detail is a human-readable elaboration.
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("entry %d: %s: %s", v.Index, v.Kind, v.Detail)
}

// Report is the result of verifying one session's chain.
type Report struct {
	SessionID  string
	Entries    int
	Violations []Violation
}

// OK reports whether the chain verified cleanly.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// Err returns nil for a clean chain, or an error wrapping
// ErrChainCorrupt that lists every violation.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: session %s has %d violations (first: %s)",
		ErrChainCorrupt, r.SessionID, len(r.Violations), r.Violations[0])
}

// VerifyChain re-walks a session's chain from genesis, checking every
// entry's signature against the keyring and every link's hash and
// sequence. All violations are collected, not just the first; an
// auditor wants the full damage picture in one pass. A session with no
// entries verifies clean.
func (l *Log) VerifyChain(ctx context.Context, sessionID string) (*Report, error) {
	wires, err := l.backend.Entries(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := &Report{SessionID: sessionID, Entries: len(wires)}
	expectedPrev := signing.ZeroHash

	for i, wire := range wires {
		entry, payload, signature, err := decode(wire)
		if err != nil {
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: ViolationMalformed, Detail: err.Error(),
			})
			// Nothing to chain from a record that does not decode;
			// every later link check would be noise.
			break
		}

		if err := l.keyring.Verify(entry.Signer, payload, signature); err != nil {
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: ViolationBadSignature, Detail: err.Error(),
			})
		}

		if entry.SessionID != sessionID {
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: ViolationWrongSession,
				Detail: fmt.Sprintf("entry names session %q", entry.SessionID),
			})
		}

		if entry.Sequence != uint64(i) {
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: ViolationSequenceGap,
				Detail: fmt.Sprintf("sequence %d at position %d", entry.Sequence, i),
			})
		}

		if entry.PrevHash != expectedPrev {
			kind := ViolationHashMismatch
			detail := fmt.Sprintf("prev hash %s, want %s",
				signing.FormatHash(entry.PrevHash), signing.FormatHash(expectedPrev))
			if i == 0 {
				kind = ViolationBadGenesis
				detail = "first entry does not anchor to the zero hash"
			}
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: kind, Detail: detail,
			})
		}

		expectedPrev = signing.HashAuditEntry(payload)
	}

	return report, nil
}

// VerifyAll verifies every session and returns the reports keyed by
// session ID.
func (l *Log) VerifyAll(ctx context.Context) (map[string]*Report, error) {
	ids, err := l.backend.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	reports := make(map[string]*Report, len(ids))
	for _, id := range ids {
		report, err := l.VerifyChain(ctx, id)
		if err != nil {
			return nil, err
		}
		reports[id] = report
	}
	return reports, nil
}
