package selection

import (
	"math"
	"testing"
	"time"

	"github.com/sssNYz/interpreter-booking/fairness"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/store"
)

func TestFairnessScore(t *testing.T) {
	// Least-loaded scores 1, most-loaded 0.
	if got := fairnessScore(6, 6, 12); got != 1 {
		t.Errorf("min hours score = %v, want 1", got)
	}
	if got := fairnessScore(12, 6, 12); got != 0 {
		t.Errorf("max hours score = %v, want 0", got)
	}
	if got := fairnessScore(9, 6, 12); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("mid hours score = %v, want 0.5", got)
	}
	// Zero spread degrades to a unit divisor, not a division by zero.
	if got := fairnessScore(5, 5, 5); got != 1 {
		t.Errorf("uniform hours score = %v, want 1", got)
	}
}

func TestUrgencyScore(t *testing.T) {
	now := time.Now()
	// At or past the start the score saturates at 1.
	if got := urgencyScore(now, now, 2); got != 1 {
		t.Errorf("imminent booking urgency = %v, want 1", got)
	}
	if got := urgencyScore(now.Add(-time.Hour), now, 2); got != 1 {
		t.Errorf("already-started booking urgency = %v, want clamp to 1", got)
	}
	// Far outside the band the score clamps to 0.
	if got := urgencyScore(now.Add(60*24*time.Hour), now, 2); got != 0 {
		t.Errorf("distant booking urgency = %v, want 0", got)
	}
	// Rises as the start approaches.
	far := urgencyScore(now.Add(4*24*time.Hour), now, 3)
	near := urgencyScore(now.Add(1*24*time.Hour), now, 3)
	if near <= far {
		t.Errorf("urgency must rise toward the start: near=%v far=%v", near, far)
	}
}

func TestLRSScore(t *testing.T) {
	now := time.Now()
	if got := lrsScore(time.Time{}, now, 30); got != 1 {
		t.Errorf("never-assigned LRS = %v, want 1", got)
	}
	if got := lrsScore(now, now, 30); got != 0 {
		t.Errorf("just-assigned LRS = %v, want 0", got)
	}
	if got := lrsScore(now.Add(-15*24*time.Hour), now, 30); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("half-window LRS = %v, want 0.5", got)
	}
	if got := lrsScore(now.Add(-90*24*time.Hour), now, 30); got != 1 {
		t.Errorf("beyond-window LRS = %v, want clamp to 1", got)
	}
}

func TestScoreWeightsAndPenalty(t *testing.T) {
	now := time.Now()
	pol := &policy.Effective{
		Mode: store.ModeCustom, WFair: 2, WUrgency: 1, WLRS: 0.5, FairnessWindowDays: 30,
	}
	th := policy.Thresholds{UrgentThresholdDays: 2, GeneralThresholdDays: 14}
	snap := &fairness.Snapshot{Hours: map[string]float64{"00001": 0, "00002": 10}}

	b := &store.Booking{TimeStart: now, TimeEnd: now.Add(time.Hour)}
	s := NewScorer(pol, th, snap, map[string]time.Time{}, now)

	bd := &ScoreBreakdown{EmpCode: "00001", DRPenalty: -0.5}
	s.Score(b, bd)

	// fairness=1, urgency=1, lrs=1 under an empty history.
	want := 2*1 + 1*1 + 0.5*1 - 0.5
	if math.Abs(bd.Total-want) > 1e-9 {
		t.Errorf("total = %v, want %v", bd.Total, want)
	}
	if bd.AssignedHours != 0 {
		t.Errorf("assigned hours = %v, want 0", bd.AssignedHours)
	}
}

func TestSortCandidatesTieBreak(t *testing.T) {
	cands := []*ScoreBreakdown{
		{EmpCode: "00003", Total: 1.0, Fairness: 0.5, LRS: 0.5},
		{EmpCode: "00001", Total: 1.0, Fairness: 0.5, LRS: 0.5},
		{EmpCode: "00002", Total: 1.0, Fairness: 0.8, LRS: 0.1},
		{EmpCode: "00004", Total: 2.0, Fairness: 0.0, LRS: 0.0},
	}
	SortCandidates(cands)

	got := []string{cands[0].EmpCode, cands[1].EmpCode, cands[2].EmpCode, cands[3].EmpCode}
	want := []string{"00004", "00002", "00001", "00003"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
