package selection

import (
	"fmt"
	"strings"

	"github.com/sssNYz/interpreter-booking/fairness"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/store"
)

// Escalation reasons returned when no candidate survives the filter.
const (
	ReasonNoCandidates      = "NO_CANDIDATES"
	ReasonAllConflict       = "ALL_CONFLICT"
	ReasonAllDRBlocked      = "ALL_DR_BLOCKED"
	ReasonFairnessGuardrail = "FAIRNESS_GUARDRAIL"
)

// FilterInput carries the pre-loaded state the candidate filter works on.
// The filter itself is pure; the selector gathers the inputs.
type FilterInput struct {
	Booking *store.Booking
	Policy  *policy.Effective

	// Scope is the active interpreter set for the booking's environment.
	Scope []*store.Interpreter

	// Conflicts maps interpreter codes to a conflicting booking, for every
	// scoped interpreter with an overlap.
	Conflicts map[string]*store.Booking

	Snapshot *fairness.Snapshot

	// LastDRAssignee is the previous DR interpreter in scope; empty if none.
	LastDRAssignee string

	// Exclude removes candidates that already failed a commit attempt.
	Exclude map[string]bool

	// AdminOverride permits a consecutive DR assignment for this booking.
	AdminOverride bool
}

// FilterResult is the filtered, annotated candidate set.
type FilterResult struct {
	// Breakdowns holds every scoped interpreter with eligibility state and
	// drop reasons; eligible entries carry DR penalties for scoring.
	Breakdowns []*ScoreBreakdown

	// Eligible is the subset of Breakdowns that survived all filters.
	Eligible []*ScoreBreakdown

	// EscalationReason is set when Eligible is empty.
	EscalationReason string

	// EscalatedFairness marks that the fairness guardrail was relaxed
	// because every candidate exceeded it.
	EscalatedFairness bool
}

// BuildCandidates runs the eligibility pipeline: active scope, language
// match, conflicts, fairness guardrail, DR policy, and the manual pin.
func BuildCandidates(in FilterInput) *FilterResult {
	res := &FilterResult{}
	b := in.Booking

	if len(in.Scope) == 0 {
		res.EscalationReason = ReasonNoCandidates
		return res
	}

	byCode := make(map[string]*ScoreBreakdown, len(in.Scope))
	var pool []*ScoreBreakdown
	for _, i := range in.Scope {
		bd := &ScoreBreakdown{EmpCode: i.EmpCode, Eligible: true}
		byCode[i.EmpCode] = bd
		res.Breakdowns = append(res.Breakdowns, bd)

		if in.Exclude[i.EmpCode] {
			drop(bd, "excluded after commit-time conflict")
			continue
		}
		if b.LanguageCode != "" && !i.OffersLanguage(b.LanguageCode) {
			drop(bd, fmt.Sprintf("does not offer language %s", b.LanguageCode))
			continue
		}
		pool = append(pool, bd)
	}
	if len(pool) == 0 {
		res.EscalationReason = ReasonNoCandidates
		return res
	}

	// Conflict filter.
	var free []*ScoreBreakdown
	for _, bd := range pool {
		if conflicting, ok := in.Conflicts[bd.EmpCode]; ok && conflicting != nil {
			drop(bd, fmt.Sprintf("time conflict with booking %d", conflicting.ID))
			continue
		}
		free = append(free, bd)
	}
	if len(free) == 0 {
		res.EscalationReason = ReasonAllConflict
		return res
	}

	// A single qualifying interpreter is critical coverage for DR purposes.
	criticalCoverage := len(free) == 1

	// Fairness guardrail: reject candidates whose projected gap exceeds the
	// cap, unless that would reject everyone.
	durationHours := b.Duration().Hours()
	var withinGap []*ScoreBreakdown
	for _, bd := range free {
		bd.ProjectedGap = in.Snapshot.SimulateAssign(bd.EmpCode, durationHours)
		if bd.ProjectedGap <= in.Policy.MaxGapHours {
			withinGap = append(withinGap, bd)
		}
	}
	if len(withinGap) == 0 {
		res.EscalatedFairness = true
		withinGap = free
		for _, bd := range withinGap {
			bd.EscalatedFairness = true
			bd.Reasons = append(bd.Reasons, "fairness guardrail relaxed")
		}
	} else if len(withinGap) < len(free) {
		for _, bd := range free {
			if bd.ProjectedGap > in.Policy.MaxGapHours {
				drop(bd, fmt.Sprintf("projected gap %.1fh exceeds max %.1fh", bd.ProjectedGap, in.Policy.MaxGapHours))
			}
		}
	}

	// DR policy.
	survivors := withinGap
	if b.MeetingType == store.MeetingDR && in.LastDRAssignee != "" {
		blockedAll := allWouldBlock(withinGap, in, criticalCoverage)
		var kept []*ScoreBreakdown
		for _, bd := range withinGap {
			decision := EvaluateDR(DRInput{
				Mode:               in.Policy.Mode,
				Penalty:            in.Policy.DRConsecutivePenalty,
				LastAssignee:       in.LastDRAssignee,
				Candidate:          bd.EmpCode,
				IsCriticalCoverage: criticalCoverage,
				NoAlternatives:     blockedAll,
				AdminOverride:      in.AdminOverride,
			})
			bd.DRDecision = decision
			if decision.IsBlocked {
				drop(bd, "consecutive DR assignment blocked")
				continue
			}
			if decision.PenaltyApplied {
				bd.DRPenalty = decision.PenaltyAmount
			}
			kept = append(kept, bd)
		}
		if len(kept) == 0 {
			res.EscalationReason = ReasonAllDRBlocked
			return res
		}
		survivors = kept
	}

	// Manual pin restricts the final set to the selected interpreter.
	if b.SelectedInterpreterEmpCode != "" {
		var pinned *ScoreBreakdown
		for _, bd := range survivors {
			if bd.EmpCode == b.SelectedInterpreterEmpCode {
				pinned = bd
				break
			}
		}
		if pinned == nil {
			res.EscalationReason = pinEscalationReason(byCode[b.SelectedInterpreterEmpCode])
			return res
		}
		for _, bd := range survivors {
			if bd != pinned {
				drop(bd, "another interpreter is pinned")
			}
		}
		survivors = []*ScoreBreakdown{pinned}
	}

	res.Eligible = survivors
	return res
}

func drop(bd *ScoreBreakdown, reason string) {
	bd.Eligible = false
	bd.Reasons = append(bd.Reasons, reason)
}

// allWouldBlock pre-checks whether every remaining candidate would be DR
// blocked, which is the noAlternativesAvailable override condition.
func allWouldBlock(cands []*ScoreBreakdown, in FilterInput, criticalCoverage bool) bool {
	for _, bd := range cands {
		d := EvaluateDR(DRInput{
			Mode:               in.Policy.Mode,
			Penalty:            in.Policy.DRConsecutivePenalty,
			LastAssignee:       in.LastDRAssignee,
			Candidate:          bd.EmpCode,
			IsCriticalCoverage: criticalCoverage,
			AdminOverride:      in.AdminOverride,
		})
		if !d.IsBlocked {
			return false
		}
	}
	return true
}

// pinEscalationReason maps the pinned interpreter's drop cause to an
// escalation reason.
func pinEscalationReason(bd *ScoreBreakdown) string {
	if bd == nil {
		return ReasonNoCandidates
	}
	for _, r := range bd.Reasons {
		switch {
		case strings.Contains(r, "time conflict"):
			return ReasonAllConflict
		case strings.Contains(r, "projected gap"):
			return ReasonFairnessGuardrail
		case strings.Contains(r, "consecutive DR"):
			return ReasonAllDRBlocked
		}
	}
	return ReasonNoCandidates
}
