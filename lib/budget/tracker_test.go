// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package budget

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestReserveCommitRefundsDifference(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10})

	res, err := tracker.CheckAndReserve(4)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if got := tracker.Reserved(); got != 4 {
		t.Errorf("Reserved() = %v, want 4", got)
	}

	res.Commit(1.5)
	if got := tracker.Spent(); got != 1.5 {
		t.Errorf("Spent() = %v, want 1.5", got)
	}
	if got := tracker.Reserved(); got != 0 {
		t.Errorf("Reserved() = %v, want 0", got)
	}
	if got := tracker.Remaining(); got != 8.5 {
		t.Errorf("Remaining() = %v, want 8.5", got)
	}
}

func TestReleaseRestoresBudget(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10})
	res, err := tracker.CheckAndReserve(10)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}

	// Budget fully reserved: a second reservation must fail.
	if _, err := tracker.CheckAndReserve(0.01); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("over-reserve error = %v, want ErrBudgetExceeded", err)
	}

	res.Release()
	if _, err := tracker.CheckAndReserve(10); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestSettleIdempotent(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10})
	res, _ := tracker.CheckAndReserve(5)

	res.Commit(2)
	res.Commit(2)
	res.Release()
	if got := tracker.Spent(); got != 2 {
		t.Errorf("Spent() = %v after double settle, want 2", got)
	}
	if got := tracker.Reserved(); got != 0 {
		t.Errorf("Reserved() = %v after double settle, want 0", got)
	}
}

func TestPerActionLimit(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 100, PerAction: 5})
	if _, err := tracker.CheckAndReserve(5); err != nil {
		t.Errorf("reserve at per-action limit: %v", err)
	}

	_, err := tracker.CheckAndReserve(5.01)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *DeniedError", err)
	}
	if denied.Limit != "per-action" {
		t.Errorf("Limit = %q, want %q", denied.Limit, "per-action")
	}
}

func TestDenialNamesScope(t *testing.T) {
	tracker := NewTracker("workspace", Limits{Max: 1})
	_, err := tracker.CheckAndReserve(2)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *DeniedError", err)
	}
	if denied.Limit != "workspace" {
		t.Errorf("Limit = %q, want %q", denied.Limit, "workspace")
	}
	if denied.Available != 1 {
		t.Errorf("Available = %v, want 1", denied.Available)
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10})
	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := tracker.CheckAndReserve(amount); err == nil {
			t.Errorf("CheckAndReserve(%v) = nil error", amount)
		}
	}
}

func TestUnlimitedTracker(t *testing.T) {
	tracker := NewTracker("session", Limits{})
	res, err := tracker.CheckAndReserve(1e9)
	if err != nil {
		t.Fatalf("CheckAndReserve on unlimited tracker: %v", err)
	}
	if res.Warning() {
		t.Error("unlimited tracker produced a warning")
	}
	if !math.IsInf(tracker.Remaining(), 1) {
		t.Errorf("Remaining() = %v, want +Inf", tracker.Remaining())
	}
}

func TestWarningThreshold(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10, WarnAtPercent: 80})

	quiet, err := tracker.CheckAndReserve(7)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if quiet.Warning() {
		t.Error("reservation below threshold carried a warning")
	}

	loud, err := tracker.CheckAndReserve(1.5)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !loud.Warning() {
		t.Error("reservation crossing 80% did not carry a warning")
	}
}

func TestInvariantUnderConcurrency(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 50})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tracker.CheckAndReserve(1)
			if err != nil {
				return
			}
			if i%2 == 0 {
				res.Commit(1)
			} else {
				res.Release()
			}
		}(i)
	}
	wg.Wait()

	total := tracker.Spent() + tracker.Reserved()
	if total > 50 {
		t.Errorf("spent+reserved = %v, exceeds max 50", total)
	}
}

func TestSnapshotRestoreClamping(t *testing.T) {
	tracker := NewTracker("session", Limits{Max: 10})
	res, _ := tracker.CheckAndReserve(3)
	res.Commit(3)

	snap := tracker.Snapshot()
	if snap.Spent != 3 {
		t.Errorf("Snapshot().Spent = %v, want 3", snap.Spent)
	}

	restored := NewTracker("session", Limits{Max: 10})
	restored.Restore(snap)
	if restored.Spent() != 3 {
		t.Errorf("restored Spent() = %v, want 3", restored.Spent())
	}

	for _, bad := range []float64{-5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		clamped := NewTracker("session", Limits{Max: 10})
		clamped.Restore(Snapshot{Spent: bad})
		if clamped.Spent() != 0 {
			t.Errorf("Restore(%v): Spent() = %v, want 0", bad, clamped.Spent())
		}
	}
}

func TestScopedReservesBothOrNeither(t *testing.T) {
	session := NewTracker("session", Limits{Max: 10})
	workspace := NewTracker("workspace", Limits{Max: 2})
	scoped := NewScopedTracker(session, workspace)

	// Workspace denies; session must be rolled back.
	_, err := scoped.CheckAndReserve(5)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *DeniedError", err)
	}
	if denied.Limit != "workspace" {
		t.Errorf("Limit = %q, want %q", denied.Limit, "workspace")
	}
	if got := session.Reserved(); got != 0 {
		t.Errorf("session Reserved() = %v after workspace denial, want 0", got)
	}

	res, err := scoped.CheckAndReserve(2)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	res.Commit(1)
	if session.Spent() != 1 || workspace.Spent() != 1 {
		t.Errorf("Spent = (%v, %v), want (1, 1)", session.Spent(), workspace.Spent())
	}
}

func TestScopedWithoutWorkspace(t *testing.T) {
	scoped := NewScopedTracker(NewTracker("session", Limits{Max: 10}), nil)
	res, err := scoped.CheckAndReserve(4)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	res.Release()
	if got := scoped.Session().Reserved(); got != 0 {
		t.Errorf("Reserved() = %v, want 0", got)
	}
}
