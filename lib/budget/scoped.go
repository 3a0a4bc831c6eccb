// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package budget

// ScopedTracker pairs the session budget with an optional workspace
// budget. A reservation is taken against both scopes or neither: the
// session reserves first, then the workspace, and a workspace denial
// releases the session's slice before the error returns. Neither
// tracker's invariant is ever violated, so a failed dual reservation
// leaves both budgets exactly as they were.
type ScopedTracker struct {
	session   *Tracker
	workspace *Tracker // nil when no workspace budget applies
}

// NewScopedTracker pairs a session tracker with an optional workspace
// tracker (nil for none).
func NewScopedTracker(session, workspace *Tracker) *ScopedTracker {
	return &ScopedTracker{session: session, workspace: workspace}
}

// ScopedReservation holds one slice of each scope's budget.
type ScopedReservation struct {
	session   *Reservation
	workspace *Reservation // nil when no workspace budget applies
	warning   bool
}

// CheckAndReserve reserves amount from every configured scope.
func (s *ScopedTracker) CheckAndReserve(amount float64) (*ScopedReservation, error) {
	sessionRes, err := s.session.CheckAndReserve(amount)
	if err != nil {
		return nil, err
	}

	var workspaceRes *Reservation
	if s.workspace != nil {
		workspaceRes, err = s.workspace.CheckAndReserve(amount)
		if err != nil {
			sessionRes.Release()
			return nil, err
		}
	}

	warning := sessionRes.Warning() || (workspaceRes != nil && workspaceRes.Warning())
	return &ScopedReservation{session: sessionRes, workspace: workspaceRes, warning: warning}, nil
}

// Warning reports whether either scope crossed its warning threshold.
func (r *ScopedReservation) Warning() bool { return r.warning }

// Commit settles every scope with the actual cost.
func (r *ScopedReservation) Commit(actual float64) {
	r.session.Commit(actual)
	if r.workspace != nil {
		r.workspace.Commit(actual)
	}
}

// Release returns every scope's slice to its budget.
func (r *ScopedReservation) Release() {
	r.session.Release()
	if r.workspace != nil {
		r.workspace.Release()
	}
}

// Session returns the session tracker.
func (s *ScopedTracker) Session() *Tracker { return s.session }

// Workspace returns the workspace tracker, or nil.
func (s *ScopedTracker) Workspace() *Tracker { return s.workspace }
