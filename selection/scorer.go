package selection

import (
	"sort"
	"time"

	"github.com/sssNYz/interpreter-booking/fairness"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/store"
)

// ScoreBreakdown shows how one candidate's score was computed. It is
// embedded in the assignment log so every decision can be replayed.
type ScoreBreakdown struct {
	EmpCode           string     `json:"emp_code"`
	Fairness          float64    `json:"fairness"`
	Urgency           float64    `json:"urgency"`
	LRS               float64    `json:"lrs"`
	DRPenalty         float64    `json:"dr_penalty"`
	Total             float64    `json:"total"`
	AssignedHours     float64    `json:"assigned_hours"`
	ProjectedGap      float64    `json:"projected_gap"`
	Eligible          bool       `json:"eligible"`
	EscalatedFairness bool       `json:"escalated_fairness,omitempty"`
	DRDecision        DRDecision `json:"dr_decision"`
	Reasons           []string   `json:"reasons,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fairnessScore normalizes a candidate's hours against the scope extremes.
// The least-loaded interpreter scores 1, the most-loaded 0.
func fairnessScore(hours, min, max float64) float64 {
	spread := max - min
	if spread < 1 {
		spread = 1
	}
	return clamp01(1 - (hours-min)/spread)
}

// urgencyScore rises as the booking approaches its start. leadDays may be
// negative for bookings already inside the urgent band.
func urgencyScore(timeStart, now time.Time, urgentThresholdDays int) float64 {
	leadDays := timeStart.Sub(now).Hours() / 24
	return clamp01((float64(urgentThresholdDays) - leadDays + 1) / float64(urgentThresholdDays+1))
}

// lrsScore prefers the interpreter whose last assignment is oldest.
// Never-assigned interpreters score 1.
func lrsScore(lastAssigned time.Time, now time.Time, windowDays int) float64 {
	if lastAssigned.IsZero() {
		return 1
	}
	days := now.Sub(lastAssigned).Hours() / 24
	return clamp01(days / float64(windowDays))
}

// Scorer computes per-candidate scores under an effective policy.
type Scorer struct {
	pol   *policy.Effective
	th    policy.Thresholds
	snap  *fairness.Snapshot
	lastA map[string]time.Time
	now   time.Time

	min, max float64
}

// NewScorer prepares a scorer for one booking's candidate set.
func NewScorer(pol *policy.Effective, th policy.Thresholds, snap *fairness.Snapshot, lastAssigned map[string]time.Time, now time.Time) *Scorer {
	s := &Scorer{pol: pol, th: th, snap: snap, lastA: lastAssigned, now: now}
	first := true
	for _, h := range snap.Hours {
		if first {
			s.min, s.max, first = h, h, false
			continue
		}
		if h < s.min {
			s.min = h
		}
		if h > s.max {
			s.max = h
		}
	}
	return s
}

// Score fills the sub-scores and total for a candidate; the DR penalty must
// already be present on the breakdown.
func (s *Scorer) Score(b *store.Booking, bd *ScoreBreakdown) {
	hours := s.snap.Hours[bd.EmpCode]
	bd.AssignedHours = hours
	bd.Fairness = fairnessScore(hours, s.min, s.max)
	bd.Urgency = urgencyScore(b.TimeStart, s.now, s.th.UrgentThresholdDays)
	bd.LRS = lrsScore(s.lastA[bd.EmpCode], s.now, s.pol.FairnessWindowDays)
	bd.Total = s.pol.WFair*bd.Fairness +
		s.pol.WUrgency*bd.Urgency +
		s.pol.WLRS*bd.LRS +
		bd.DRPenalty
}

// SortCandidates orders breakdowns by total, then fairness, then LRS, then
// employee code ascending.
func SortCandidates(cands []*ScoreBreakdown) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Fairness != b.Fairness {
			return a.Fairness > b.Fairness
		}
		if a.LRS != b.LRS {
			return a.LRS > b.LRS
		}
		return a.EmpCode < b.EmpCode
	})
}
