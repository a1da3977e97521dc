package selection

import (
	"context"
	"log/slog"
	"time"

	"github.com/sssNYz/interpreter-booking/fairness"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/store"
)

// Decision statuses.
const (
	DecisionAssigned  = "assigned"
	DecisionEscalated = "escalated"
)

// Decision is the selector's answer for one booking, including the full
// per-candidate breakdown for the assignment log.
type Decision struct {
	Status            string             `json:"status"`
	EmpCode           string             `json:"emp_code,omitempty"`
	Reason            string             `json:"reason,omitempty"`
	EscalatedFairness bool               `json:"escalated_fairness,omitempty"`
	Candidates        []*ScoreBreakdown  `json:"candidates"`
	PreHours          map[string]float64 `json:"pre_hours"`
	PostHours         map[string]float64 `json:"post_hours,omitempty"`
	Mode              store.Mode         `json:"mode"`
	Thresholds        policy.Thresholds  `json:"thresholds"`
}

// Selector orchestrates the fairness tracker, conflict checker, DR policy,
// candidate filter, and scorer to pick one interpreter.
type Selector struct {
	db        store.Store
	policies  *policy.Store
	tracker   *fairness.Tracker
	conflicts *ConflictChecker
	logger    *slog.Logger
}

// NewSelector builds a selector.
func NewSelector(db store.Store, policies *policy.Store, logger *slog.Logger) *Selector {
	return &Selector{
		db:        db,
		policies:  policies,
		tracker:   fairness.NewTracker(db),
		conflicts: NewConflictChecker(db),
		logger:    logger.With("component", "selector"),
	}
}

// Conflicts exposes the conflict checker for commit-time re-checks.
func (s *Selector) Conflicts() *ConflictChecker {
	return s.conflicts
}

// SelectInput tunes one selection attempt.
type SelectInput struct {
	Booking       *store.Booking
	EnvironmentID *int64
	Policy        *policy.Effective
	Now           time.Time

	// Exclude removes candidates that already failed a commit attempt in
	// this run.
	Exclude map[string]bool

	// AdminOverride permits a consecutive DR assignment.
	AdminOverride bool
}

// Select performs a single selection attempt and returns the ranked
// decision. It never mutates the booking.
func (s *Selector) Select(ctx context.Context, in SelectInput) (*Decision, error) {
	b := in.Booking

	th, err := s.policies.ResolveThresholds(ctx, in.EnvironmentID, b.MeetingType, in.Policy.Mode)
	if err != nil {
		return nil, err
	}

	scope, err := s.db.ListActiveInterpreters(ctx, in.EnvironmentID)
	if err != nil {
		return nil, err
	}

	snap, err := s.tracker.HoursByInterpreter(ctx, scope, in.Policy.FairnessWindowDays, in.Now)
	if err != nil {
		return nil, err
	}

	conflicts := make(map[string]*store.Booking, len(scope))
	for _, i := range scope {
		has, conflicting, err := s.conflicts.HasInterpreterConflict(ctx, i.EmpCode, b.TimeStart, b.TimeEnd)
		if err != nil {
			return nil, err
		}
		if has {
			conflicts[i.EmpCode] = conflicting
		}
	}

	lastDR := ""
	if b.MeetingType == store.MeetingDR {
		lastDR, err = s.db.LastDRAssignee(ctx, in.EnvironmentID)
		if err != nil {
			return nil, err
		}
	}

	filtered := BuildCandidates(FilterInput{
		Booking:        b,
		Policy:         in.Policy,
		Scope:          scope,
		Conflicts:      conflicts,
		Snapshot:       snap,
		LastDRAssignee: lastDR,
		Exclude:        in.Exclude,
		AdminOverride:  in.AdminOverride,
	})

	decision := &Decision{
		Candidates: filtered.Breakdowns,
		PreHours:   snap.Hours,
		Mode:       in.Policy.Mode,
		Thresholds: th,
	}

	lastTimes, err := s.db.LastAssignmentTimes(ctx)
	if err != nil {
		return nil, err
	}
	scorer := NewScorer(in.Policy, th, snap, lastTimes, in.Now)
	for _, bd := range filtered.Breakdowns {
		scorer.Score(b, bd)
	}
	SortCandidates(decision.Candidates)

	if len(filtered.Eligible) == 0 {
		decision.Status = DecisionEscalated
		decision.Reason = filtered.EscalationReason
		s.logger.Info("selection escalated",
			"booking_id", b.ID,
			"reason", decision.Reason,
			"scope_size", len(scope))
		return decision, nil
	}

	SortCandidates(filtered.Eligible)
	top := filtered.Eligible[0]

	decision.Status = DecisionAssigned
	decision.EmpCode = top.EmpCode
	decision.EscalatedFairness = filtered.EscalatedFairness
	decision.PostHours = make(map[string]float64, len(snap.Hours))
	for k, v := range snap.Hours {
		decision.PostHours[k] = v
	}
	decision.PostHours[top.EmpCode] += b.Duration().Hours()

	s.logger.Info("candidate selected",
		"booking_id", b.ID,
		"interpreter", top.EmpCode,
		"total", top.Total,
		"escalated_fairness", filtered.EscalatedFairness,
		"candidates", len(filtered.Eligible))
	return decision, nil
}
