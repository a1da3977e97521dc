// Package fairness computes per-interpreter assigned hours over a sliding
// window and the fairness gap the candidate filter guards on.
package fairness

import (
	"context"
	"time"

	"github.com/sssNYz/interpreter-booking/store"
)

// Tracker computes fairness state from the booking history.
type Tracker struct {
	db store.Store
}

// NewTracker builds a fairness tracker.
func NewTracker(db store.Store) *Tracker {
	return &Tracker{db: db}
}

// Snapshot is the assigned-hours view for one scope and window.
type Snapshot struct {
	// Hours maps every in-scope interpreter to assigned hours inside the
	// window. Interpreters with no assignments appear with 0.
	Hours map[string]float64
}

// Gap returns max - min over the scope. A single interpreter yields 0.
func (s *Snapshot) Gap() float64 {
	if len(s.Hours) <= 1 {
		return 0
	}
	min, max, first := 0.0, 0.0, true
	for _, h := range s.Hours {
		if first {
			min, max, first = h, h, false
			continue
		}
		if h < min {
			min = h
		}
		if h > max {
			max = h
		}
	}
	return max - min
}

// SimulateAssign returns the projected gap if empCode received an additional
// durationHours of work.
func (s *Snapshot) SimulateAssign(empCode string, durationHours float64) float64 {
	projected := Snapshot{Hours: make(map[string]float64, len(s.Hours))}
	for k, v := range s.Hours {
		projected.Hours[k] = v
	}
	projected.Hours[empCode] += durationHours
	return projected.Gap()
}

// HoursByInterpreter sums booking durations per interpreter inside the
// window. Attribution is by booking creation time: the window measures when
// workload was committed, not when the meeting happens. Cancelled bookings
// do not count.
func (t *Tracker) HoursByInterpreter(ctx context.Context, scope []*store.Interpreter, windowDays int, now time.Time) (*Snapshot, error) {
	cutoff := now.Add(-time.Duration(windowDays) * 24 * time.Hour)

	snap := &Snapshot{Hours: make(map[string]float64, len(scope))}
	inScope := make(map[string]bool, len(scope))
	for _, i := range scope {
		snap.Hours[i.EmpCode] = 0
		inScope[i.EmpCode] = true
	}

	assigned, err := t.db.ListAssignedSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for _, b := range assigned {
		if b.InterpreterEmpCode == nil || !inScope[*b.InterpreterEmpCode] {
			continue
		}
		snap.Hours[*b.InterpreterEmpCode] += b.Duration().Hours()
	}
	return snap, nil
}
