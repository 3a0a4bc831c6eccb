// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package budget enforces spending limits with a check-and-reserve
// protocol. An action's estimated cost is reserved before it runs;
// the reservation is committed with the actual cost on success or
// released in full on any failure. The tracker maintains
// spent + reserved <= max at every instant, so concurrent actions
// cannot collectively overshoot the limit.
package budget

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrBudgetExceeded is the sentinel wrapped by every budget denial.
var ErrBudgetExceeded = errors.New("budget: limit exceeded")

// DeniedError reports which limit denied a reservation.
type DeniedError struct {
	// Limit names the denying limit: "per-action", "session", or
	// "workspace".
	Limit string
	// Requested is the amount the reservation asked for.
	Requested float64
	// Available is what the limit had left.
	Available float64
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("budget: %s limit denied %.4f (%.4f available)", e.Limit, e.Requested, e.Available)
}

func (e *DeniedError) Unwrap() error { return ErrBudgetExceeded }

// Limits configures a tracker.
type Limits struct {
	// Max is the total budget. Zero means unlimited.
	Max float64
	// PerAction caps any single reservation. Zero means uncapped.
	PerAction float64
	// WarnAtPercent marks reservations that push committed-plus-
	// reserved spend past this percentage of Max. Zero means the
	// default of 80.
	WarnAtPercent int
}

// DefaultWarnAtPercent is the warning threshold applied when Limits
// leaves WarnAtPercent zero.
const DefaultWarnAtPercent = 80

// Tracker enforces one budget scope. Safe for concurrent use.
type Tracker struct {
	scope string

	mu       sync.Mutex
	limits   Limits
	spent    float64
	reserved float64
}

// NewTracker creates a tracker for one scope. The scope name appears
// in denial errors ("session", "workspace").
func NewTracker(scope string, limits Limits) *Tracker {
	if limits.WarnAtPercent == 0 {
		limits.WarnAtPercent = DefaultWarnAtPercent
	}
	return &Tracker{scope: scope, limits: limits}
}

// Reservation is a held slice of budget. Exactly one of Commit or
// Release settles it; later calls are no-ops.
type Reservation struct {
	tracker *Tracker
	amount  float64
	warning bool

	mu      sync.Mutex
	settled bool
}

// CheckAndReserve atomically checks the per-action and scope limits
// and reserves amount. On denial it returns a *DeniedError (wrapping
// ErrBudgetExceeded) and reserves nothing.
func (t *Tracker) CheckAndReserve(amount float64) (*Reservation, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("budget: invalid amount %v", amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limits.PerAction > 0 && amount > t.limits.PerAction {
		return nil, &DeniedError{Limit: "per-action", Requested: amount, Available: t.limits.PerAction}
	}
	if t.limits.Max > 0 {
		available := t.limits.Max - t.spent - t.reserved
		if amount > available {
			return nil, &DeniedError{Limit: t.scope, Requested: amount, Available: math.Max(available, 0)}
		}
	}

	t.reserved += amount
	warning := t.limits.Max > 0 &&
		(t.spent+t.reserved) >= t.limits.Max*float64(t.limits.WarnAtPercent)/100

	return &Reservation{tracker: t, amount: amount, warning: warning}, nil
}

// Warning reports whether this reservation pushed the scope past its
// warning threshold.
func (r *Reservation) Warning() bool { return r.warning }

// Amount reports the reserved amount.
func (r *Reservation) Amount() float64 { return r.amount }

// Commit settles the reservation with the action's actual cost. The
// unspent remainder returns to the budget; an actual cost above the
// reservation is still recorded in full, since the money is already
// gone. No-op if already settled.
func (r *Reservation) Commit(actual float64) {
	if actual < 0 || math.IsNaN(actual) || math.IsInf(actual, 0) {
		actual = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true

	t := r.tracker
	t.mu.Lock()
	t.reserved -= r.amount
	t.spent += actual
	t.mu.Unlock()
}

// Release settles the reservation by returning the full amount to the
// budget. Call on any path where the action did not spend: denial,
// failure, cancellation. No-op if already settled.
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true

	t := r.tracker
	t.mu.Lock()
	t.reserved -= r.amount
	t.mu.Unlock()
}

// Spent reports the committed spend.
func (t *Tracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Reserved reports the outstanding reserved amount.
func (t *Tracker) Reserved() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reserved
}

// Remaining reports the budget left for new reservations, or +Inf for
// an unlimited tracker.
func (t *Tracker) Remaining() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limits.Max <= 0 {
		return math.Inf(1)
	}
	return math.Max(t.limits.Max-t.spent-t.reserved, 0)
}

// Snapshot captures committed spend for persistence. Outstanding
// reservations are deliberately excluded: a crash releases them.
type Snapshot struct {
	Spent float64 `yaml:"spent" json:"spent"`
}

// Snapshot returns the tracker's persistable state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Spent: t.spent}
}

// Restore replaces committed spend from a snapshot. Invalid values
// (negative, NaN, infinite) clamp to zero rather than poisoning the
// tracker; a tampered snapshot must not mint budget or wedge every
// future reservation.
func (t *Tracker) Restore(snap Snapshot) {
	spent := snap.Spent
	if spent < 0 || math.IsNaN(spent) || math.IsInf(spent, 0) {
		spent = 0
	}
	t.mu.Lock()
	t.spent = spent
	t.mu.Unlock()
}
