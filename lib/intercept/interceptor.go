// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package intercept is the single entry point of the authorization
// pipeline. Any component about to perform a sensitive action calls
// Intercept and must not perform the action unless the result is
// Allowed. The pipeline consults, in order: static policy, standing
// grants (capability tokens, then allowances), the budget tracker,
// and finally the human approval manager; the outcome is appended to
// the audit log before it is returned, on every path.
package intercept

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warden-foundation/warden/lib/action"
	"github.com/warden-foundation/warden/lib/allowance"
	"github.com/warden-foundation/warden/lib/approval"
	"github.com/warden-foundation/warden/lib/audit"
	"github.com/warden-foundation/warden/lib/budget"
	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/policy"
	"github.com/warden-foundation/warden/lib/resource"
)

// Status is the caller-visible outcome of an intercepted action.
type Status uint8

const (
	// Allowed: the caller may perform the action.
	Allowed Status = iota
	// Denied: the caller must not perform the action.
	Denied
	// Deferred: no decision yet; the request is queued for a human.
	// Not an error, the caller chooses to suspend or retry later.
	Deferred
)

func (s Status) String() string {
	switch s {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is the pipeline's decision for one action.
type Result struct {
	Status Status

	// Proof records the authorization basis (or the refusal) exactly
	// as it was written to the audit log.
	Proof audit.Proof

	// AuditID identifies the audit entry recording this decision.
	AuditID string

	// Denial explains a Denied status.
	Denial *SecurityError

	// RequestID identifies the queued approval for a Deferred status.
	RequestID string

	// Warning is set when the budget reservation pushed spend past
	// the warning threshold. The action is still allowed.
	Warning bool
}

// Config assembles the pipeline.
type Config struct {
	// SessionID names the agent session; audit chains and session
	// grants are keyed by it. Required.
	SessionID string

	// WorkspaceRoot anchors workspace-scoped allowances. Empty
	// disables workspace grants.
	WorkspaceRoot string

	// Policy supplies the static rules. Nil means no rules.
	Policy policy.Provider

	// Capabilities is the token store. Required.
	Capabilities *capability.Store

	// Allowances is the non-cryptographic grant store. Required.
	Allowances *allowance.Store

	// Budget enforces cost limits. Nil means no budget.
	Budget *budget.ScopedTracker

	// Approvals routes undecided actions to a human. Required.
	Approvals *approval.Manager

	// Audit is the ledger every decision is appended to. Required.
	Audit *audit.Log

	// SigningKey mints capability tokens from allow-always decisions.
	// Required.
	SigningKey ed25519.PrivateKey

	// Clock is required.
	Clock clock.Clock

	// Logger receives operational messages. Nil means no-op.
	Logger *slog.Logger
}

// Interceptor combines the pipeline stages into one decision per
// action. Safe for concurrent use; any number of
// Intercept calls may be in flight, including for the same session.
type Interceptor struct {
	sessionID     string
	workspaceRoot string
	policy        policy.Provider
	caps          *capability.Store
	allowances    *allowance.Store
	budget        *budget.ScopedTracker
	approvals     *approval.Manager
	audit         *audit.Log
	signingKey    ed25519.PrivateKey
	clock         clock.Clock
	logger        *slog.Logger
}

// New creates an interceptor.
func New(cfg Config) (*Interceptor, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("interceptor: SessionID is required")
	}
	if cfg.Capabilities == nil {
		return nil, fmt.Errorf("interceptor: Capabilities store is required")
	}
	if cfg.Allowances == nil {
		return nil, fmt.Errorf("interceptor: Allowances store is required")
	}
	if cfg.Approvals == nil {
		return nil, fmt.Errorf("interceptor: Approvals manager is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("interceptor: Audit log is required")
	}
	if cfg.SigningKey == nil {
		return nil, fmt.Errorf("interceptor: SigningKey is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("interceptor: Clock is required")
	}
	pol := cfg.Policy
	if pol == nil {
		pol = policy.NewStatic(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Interceptor{
		sessionID:     cfg.SessionID,
		workspaceRoot: cfg.WorkspaceRoot,
		policy:        pol,
		caps:          cfg.Capabilities,
		allowances:    cfg.Allowances,
		budget:        cfg.Budget,
		approvals:     cfg.Approvals,
		audit:         cfg.Audit,
		signingKey:    cfg.SigningKey,
		clock:         cfg.Clock,
		logger:        logger,
	}, nil
}

// Intercept decides one action. description is shown to a human if
// approval is needed; estimatedCost is reserved against the budget
// and charged when the action is allowed.
//
// Per-action failures come back as a Denied result, never as a raw
// error. The returned error is non-nil only for faults the pipeline
// cannot absorb: a failed audit append (a decision that cannot be
// recorded must not stand) or the caller's own context ending.
func (i *Interceptor) Intercept(ctx context.Context, act action.Action, description string, estimatedCost float64) (*Result, error) {
	// A resource that does not parse, traversal segments included,
	// is refused before any rule or grant is consulted.
	if _, err := resource.Parse(act.Resource); err != nil {
		return i.deny(ctx, act, audit.DeniedProof(err.Error()), &SecurityError{
			Kind:   PolicyViolation,
			Reason: "malformed resource: " + err.Error(),
			Err:    err,
		})
	}

	// Hard policy first: a block here can never be overridden by a
	// stale grant, an allowance, or a human.
	polResult := i.policy.Policy().Check(act)
	if polResult.Verdict == policy.Blocked {
		return i.deny(ctx, act, audit.DeniedProof(polResult.Reason), &SecurityError{
			Kind:   PolicyViolation,
			Reason: polResult.Reason,
		})
	}

	// Standing-grant lookup. Nothing is consumed yet: a budget
	// denial below must not burn a token use or an allowance use.
	var token *capability.Token
	if found, err := i.caps.Find(act.Resource, act.Permission); err == nil {
		token = found
	} else if !errors.Is(err, capability.ErrNoCapability) {
		i.logger.Warn("capability lookup failed", "resource", act.Resource, "error", err)
	}

	// Budget. The reservation is released on every path that does not
	// end in Allowed, so a denial is never partially charged.
	var reservation *budget.ScopedReservation
	warning := false
	if i.budget != nil && estimatedCost > 0 {
		reserved, err := i.budget.CheckAndReserve(estimatedCost)
		if err != nil {
			return i.deny(ctx, act, audit.DeniedProof(err.Error()), &SecurityError{
				Kind:   BudgetExceeded,
				Reason: err.Error(),
				Err:    err,
			})
		}
		reservation = reserved
		warning = reserved.Warning()
	}

	if token != nil {
		// Consume before allowing: a single-use token that lost a
		// replay race denies here.
		if err := i.caps.Use(ctx, token); err != nil {
			if reservation != nil {
				reservation.Release()
			}
			return i.deny(ctx, act, audit.DeniedProof(err.Error()), &SecurityError{
				Kind:   TokenInvalid,
				Reason: err.Error(),
				Err:    err,
			})
		}
		return i.allow(ctx, act, audit.CapabilityProof(token.ID), reservation, estimatedCost, warning)
	}

	// Allowance check consumes a use on a hit, so it runs with the
	// budget already reserved.
	if granted, err := i.allowances.Check(act.Resource, i.workspaceRoot); err == nil {
		return i.allow(ctx, act, audit.AllowanceProof(granted.ID), reservation, estimatedCost, warning)
	}

	// No grant. Low-risk actions the policy does not flag proceed on
	// policy's word alone.
	if polResult.Verdict != policy.RequiresApproval && act.Risk() < action.RiskHigh {
		return i.allow(ctx, act, audit.PolicyProof(), reservation, estimatedCost, warning)
	}

	decided, err := i.approvals.Request(ctx, i.sessionID, act, description)
	if err != nil {
		if reservation != nil {
			reservation.Release()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// The caller's deadline ran out mid-wait. The denial is
			// still audited, on a context that outlives the dead one.
			reason := "approval wait exceeded the caller's deadline"
			return i.deny(context.WithoutCancel(ctx), act, audit.DeniedProof(reason), &SecurityError{
				Kind:   ApprovalTimeout,
				Reason: reason,
				Err:    err,
			})
		}
		return nil, fmt.Errorf("interceptor: approval request: %w", err)
	}

	switch decided.Status {
	case approval.Denied:
		if reservation != nil {
			reservation.Release()
		}
		proof := audit.Proof{
			Kind:      audit.ProofDenied,
			Reference: decided.RequestID,
			Detail:    "approval denied: " + decided.Response.Reason,
		}
		return i.deny(ctx, act, proof, &SecurityError{
			Kind:   ApprovalDenied,
			Reason: decided.Response.Reason,
		})

	case approval.DeferredToQueue:
		if reservation != nil {
			reservation.Release()
		}
		proof := audit.ApprovalProof(decided.RequestID)
		auditID, err := i.audit.Append(ctx, i.sessionID, act, proof,
			audit.Outcome{Status: audit.StatusDeferred, Detail: "awaiting approval"})
		if err != nil {
			return nil, err
		}
		return &Result{
			Status:    Deferred,
			Proof:     proof,
			AuditID:   auditID,
			RequestID: decided.RequestID,
		}, nil

	default: // approval.Approved
		proof := audit.ApprovalProof(decided.RequestID)
		auditID, err := i.audit.Append(ctx, i.sessionID, act, proof,
			audit.Outcome{Status: audit.StatusSuccess})
		if err != nil {
			if reservation != nil {
				reservation.Release()
			}
			return nil, err
		}
		if reservation != nil {
			reservation.Commit(estimatedCost)
		}
		// The grant records which audit entry approved its creation,
		// so minting happens with the entry ID already in hand.
		i.mintGrant(ctx, act, decided.Response.Decision, auditID)
		return &Result{
			Status:  Allowed,
			Proof:   proof,
			AuditID: auditID,
			Warning: warning,
		}, nil
	}
}

// allow audits a success and commits the reservation, in that order:
// an action that cannot be recorded must not run, and must not be
// charged either.
func (i *Interceptor) allow(ctx context.Context, act action.Action, proof audit.Proof, reservation *budget.ScopedReservation, estimatedCost float64, warning bool) (*Result, error) {
	auditID, err := i.audit.Append(ctx, i.sessionID, act, proof,
		audit.Outcome{Status: audit.StatusSuccess})
	if err != nil {
		if reservation != nil {
			reservation.Release()
		}
		return nil, err
	}
	if reservation != nil {
		reservation.Commit(estimatedCost)
	}
	return &Result{Status: Allowed, Proof: proof, AuditID: auditID, Warning: warning}, nil
}

// deny audits a refusal and returns Denied.
func (i *Interceptor) deny(ctx context.Context, act action.Action, proof audit.Proof, denial *SecurityError) (*Result, error) {
	auditID, err := i.audit.Append(ctx, i.sessionID, act, proof,
		audit.Outcome{Status: audit.StatusDenied, Detail: denial.Reason})
	if err != nil {
		return nil, err
	}
	i.logger.Info("action denied",
		"action", string(act.Type),
		"resource", act.Resource,
		"kind", denial.Kind.String(),
	)
	return &Result{Status: Denied, Proof: proof, AuditID: auditID, Denial: denial}, nil
}

// mintGrant turns an allow-session/workspace/always decision into a
// standing grant so an equivalent action skips the next approval
// round-trip. Minting failures are logged, not fatal: the approved
// action itself still proceeds.
func (i *Interceptor) mintGrant(ctx context.Context, act action.Action, decision approval.Decision, approvalAuditID string) {
	if decision == approval.DecisionAllowOnce || decision == approval.DecisionDeny {
		return
	}
	pattern, err := resource.Parse(act.Resource)
	if err != nil {
		i.logger.Warn("grant not minted: unparsable resource", "resource", act.Resource, "error", err)
		return
	}

	switch decision {
	case approval.DecisionAllowSession:
		_, err = i.allowances.Grant(allowance.Allowance{
			Pattern: pattern,
			Scope:   allowance.ScopeSession,
		})
	case approval.DecisionAllowWorkspace:
		if i.workspaceRoot == "" {
			i.logger.Warn("allow-workspace decision without a workspace root; grant not minted")
			return
		}
		_, err = i.allowances.Grant(allowance.Allowance{
			Pattern:       pattern,
			Scope:         allowance.ScopeWorkspace,
			WorkspaceRoot: i.workspaceRoot,
		})
	case approval.DecisionAllowAlways:
		tok := &capability.Token{
			Pattern:         pattern,
			Permissions:     []capability.Permission{act.Permission},
			Scope:           capability.ScopePersistent,
			IssuedAt:        i.clock.Now().Unix(),
			ApprovalAuditID: approvalAuditID,
		}
		var wire []byte
		wire, err = capability.Mint(i.signingKey, tok)
		if err == nil {
			_, err = i.caps.Add(ctx, wire)
		}
	}
	if err != nil {
		i.logger.Warn("grant not minted",
			"decision", decision.String(),
			"resource", act.Resource,
			"error", err,
		)
	}
}

// ResolveDeferred applies a human's answer to a queued request. An
// allow decision mints the corresponding grant (an allow-once
// decision becomes a one-shot allowance) so the caller's retry of the
// original action authorizes without another approval round-trip. The
// resolution itself is audited. Resolving a settled request returns
// approval.ErrAlreadySettled; the grant is never applied twice.
func (i *Interceptor) ResolveDeferred(ctx context.Context, requestID string, resp approval.Response) error {
	resolved, err := i.approvals.ResolveDeferred(ctx, requestID, resp)
	if err != nil {
		return err
	}

	act := action.Action{
		Type:       resolved.ActionType,
		Resource:   resolved.Resource,
		Permission: resolved.Permission,
		Summary:    resolved.Summary,
	}

	if !resp.Decision.Allows() {
		proof := audit.Proof{
			Kind:      audit.ProofDenied,
			Reference: requestID,
			Detail:    "deferred approval denied: " + resp.Reason,
		}
		_, err = i.audit.Append(ctx, resolved.SessionID, act, proof,
			audit.Outcome{Status: audit.StatusDenied, Detail: resp.Reason})
		return err
	}

	proof := audit.ApprovalProof(requestID)
	auditID, err := i.audit.Append(ctx, resolved.SessionID, act, proof,
		audit.Outcome{Status: audit.StatusSuccess, Detail: "deferred approval resolved"})
	if err != nil {
		return err
	}

	if resp.Decision == approval.DecisionAllowOnce {
		pattern, err := resource.Parse(act.Resource)
		if err != nil {
			i.logger.Warn("one-shot grant not minted", "resource", act.Resource, "error", err)
			return nil
		}
		_, err = i.allowances.Grant(allowance.Allowance{
			Pattern: pattern,
			Scope:   allowance.ScopeOnce,
			MaxUses: 1,
		})
		if err != nil {
			i.logger.Warn("one-shot grant not minted", "resource", act.Resource, "error", err)
		}
		return nil
	}

	i.mintGrant(ctx, act, resp.Decision, auditID)
	return nil
}
