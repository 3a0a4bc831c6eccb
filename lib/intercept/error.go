// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import "fmt"

// ErrorKind classifies why an action was denied.
type ErrorKind uint8

const (
	// PolicyViolation: a static rule blocked the action. Never
	// retried, never overridable.
	PolicyViolation ErrorKind = iota
	// TokenInvalid: a matching token failed verification (bad
	// signature, expired, revoked, consumed). The caller may
	// legitimately re-request approval.
	TokenInvalid
	// BudgetExceeded: the reservation was denied. Nothing was
	// charged.
	BudgetExceeded
	// ApprovalDenied: a human explicitly refused.
	ApprovalDenied
	// ApprovalTimeout: no human answered in time. Recorded distinctly
	// from an explicit denial.
	ApprovalTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case PolicyViolation:
		return "policy-violation"
	case TokenInvalid:
		return "token-invalid"
	case BudgetExceeded:
		return "budget-exceeded"
	case ApprovalDenied:
		return "approval-denied"
	case ApprovalTimeout:
		return "approval-timeout"
	default:
		return fmt.Sprintf("error-kind(%d)", uint8(k))
	}
}

// SecurityError explains a denial. Raw cryptographic and storage
// errors are absorbed here; callers see only the security-level
// outcome plus the underlying cause for logs.
type SecurityError struct {
	Kind   ErrorKind
	Reason string
	// Err is the underlying error, when one exists.
	Err error
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *SecurityError) Unwrap() error { return e.Err }
