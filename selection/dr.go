package selection

import (
	"github.com/sssNYz/interpreter-booking/store"
)

// DRDecision is the outcome of the consecutive-DR check for one candidate.
type DRDecision struct {
	IsBlocked       bool    `json:"is_blocked"`
	PenaltyApplied  bool    `json:"penalty_applied"`
	PenaltyAmount   float64 `json:"penalty_amount"`
	OverrideApplied bool    `json:"override_applied"`
	Reason          string  `json:"reason,omitempty"`
}

// Blocking behavior labels recorded in the decision log.
const (
	DRBehaviorNone    = "NONE"
	DRBehaviorBlock   = "BLOCK"
	DRBehaviorPenalty = "PENALTY"
)

// DRInput carries the context the DR policy needs for one candidate.
type DRInput struct {
	Mode store.Mode

	// DRConsecutivePenalty from the effective policy; always <= 0.
	Penalty float64

	// LastAssignee is the interpreter who received the previous DR meeting
	// in the booking's environment scope (global when unscoped). Empty when
	// no DR history exists.
	LastAssignee string

	Candidate string

	// IsCriticalCoverage: the candidate is the only interpreter who
	// qualifies by language, role, and conflict.
	IsCriticalCoverage bool

	// NoAlternatives: after filtering, only DR-blocked candidates remain.
	NoAlternatives bool

	// AdminOverride: an administrator explicitly permitted a consecutive
	// assignment for this booking.
	AdminOverride bool
}

// EvaluateDR applies the per-mode consecutive-DR rules. A candidate who is
// not the previous DR assignee passes untouched.
func EvaluateDR(in DRInput) DRDecision {
	if in.LastAssignee == "" || in.Candidate != in.LastAssignee {
		return DRDecision{Reason: DRBehaviorNone}
	}

	override := func(permitted bool, reason string) DRDecision {
		if permitted {
			return DRDecision{OverrideApplied: true, Reason: reason}
		}
		return DRDecision{IsBlocked: true, Reason: DRBehaviorBlock}
	}

	switch in.Mode {
	case store.ModeBalance:
		// Consecutive DR is forbidden unless coverage would break.
		switch {
		case in.IsCriticalCoverage:
			return override(true, "criticalCoverage")
		case in.NoAlternatives:
			return override(true, "noAlternativesAvailable")
		case in.AdminOverride:
			return override(true, "adminOverride")
		default:
			return DRDecision{IsBlocked: true, Reason: DRBehaviorBlock}
		}

	case store.ModeUrgent:
		return DRDecision{PenaltyApplied: true, PenaltyAmount: -0.2, Reason: DRBehaviorPenalty}

	case store.ModeNormal:
		if in.AdminOverride {
			return DRDecision{OverrideApplied: true, Reason: "adminOverride"}
		}
		return DRDecision{PenaltyApplied: true, PenaltyAmount: in.Penalty, Reason: DRBehaviorPenalty}

	case store.ModeCustom:
		// A penalty at or below -1.0 means the administrator wants a hard
		// block; anything milder is applied as a score penalty.
		if in.Penalty <= -1.0 {
			switch {
			case in.AdminOverride:
				return DRDecision{OverrideApplied: true, Reason: "adminOverride"}
			case in.IsCriticalCoverage:
				return override(true, "criticalCoverage")
			default:
				return DRDecision{IsBlocked: true, Reason: DRBehaviorBlock}
			}
		}
		return DRDecision{PenaltyApplied: true, PenaltyAmount: in.Penalty, Reason: DRBehaviorPenalty}
	}

	return DRDecision{Reason: DRBehaviorNone}
}
