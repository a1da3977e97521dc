package fairness

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sssNYz/interpreter-booking/store"
)

func seedAssigned(t *testing.T, db *store.MemoryStore, empCode string, createdAt time.Time, hours float64) {
	t.Helper()
	start := createdAt.Add(72 * time.Hour)
	code := empCode
	err := db.CreateBooking(context.Background(), &store.Booking{
		OwnerEmpCode:       "10001",
		MeetingType:        store.MeetingGeneral,
		TimeStart:          start,
		TimeEnd:            start.Add(time.Duration(hours * float64(time.Hour))),
		BookingStatus:      store.StatusApprove,
		InterpreterEmpCode: &code,
		CreatedAt:          createdAt,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
}

func scope(codes ...string) []*store.Interpreter {
	out := make([]*store.Interpreter, 0, len(codes))
	for _, c := range codes {
		out = append(out, &store.Interpreter{EmpCode: c, IsActive: true})
	}
	return out
}

func TestHoursByInterpreterWindow(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	now := time.Now()

	seedAssigned(t, db, "00001", now.Add(-5*24*time.Hour), 4)  // inside
	seedAssigned(t, db, "00001", now.Add(-40*24*time.Hour), 8) // outside 30d window
	seedAssigned(t, db, "00002", now.Add(-10*24*time.Hour), 2) // inside

	snap, err := NewTracker(db).HoursByInterpreter(ctx, scope("00001", "00002", "00003"), 30, now)
	if err != nil {
		t.Fatalf("HoursByInterpreter: %v", err)
	}

	if got := snap.Hours["00001"]; math.Abs(got-4) > 1e-9 {
		t.Errorf("hours[00001] = %v, want 4 (old booking must slide out)", got)
	}
	if got := snap.Hours["00002"]; math.Abs(got-2) > 1e-9 {
		t.Errorf("hours[00002] = %v, want 2", got)
	}
	if got, ok := snap.Hours["00003"]; !ok || got != 0 {
		t.Errorf("never-assigned interpreter must appear with 0, got %v (present=%v)", got, ok)
	}
}

func TestWindowAttributionByCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	now := time.Now()

	// Created long ago but starting tomorrow: attribution follows creation.
	created := now.Add(-60 * 24 * time.Hour)
	code := "00001"
	start := now.Add(24 * time.Hour)
	if err := db.CreateBooking(ctx, &store.Booking{
		OwnerEmpCode:       "10001",
		MeetingType:        store.MeetingGeneral,
		TimeStart:          start,
		TimeEnd:            start.Add(3 * time.Hour),
		BookingStatus:      store.StatusApprove,
		InterpreterEmpCode: &code,
		CreatedAt:          created,
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	snap, err := NewTracker(db).HoursByInterpreter(ctx, scope("00001"), 30, now)
	if err != nil {
		t.Fatalf("HoursByInterpreter: %v", err)
	}
	if snap.Hours["00001"] != 0 {
		t.Errorf("booking created outside the window must not count, got %v", snap.Hours["00001"])
	}
}

func TestCancelledBookingsExcluded(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemoryStore()
	now := time.Now()

	code := "00001"
	start := now.Add(24 * time.Hour)
	if err := db.CreateBooking(ctx, &store.Booking{
		OwnerEmpCode:       "10001",
		MeetingType:        store.MeetingGeneral,
		TimeStart:          start,
		TimeEnd:            start.Add(2 * time.Hour),
		BookingStatus:      store.StatusCancel,
		InterpreterEmpCode: &code,
		CreatedAt:          now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	snap, err := NewTracker(db).HoursByInterpreter(ctx, scope("00001"), 30, now)
	if err != nil {
		t.Fatalf("HoursByInterpreter: %v", err)
	}
	if snap.Hours["00001"] != 0 {
		t.Errorf("cancelled booking counted: %v", snap.Hours["00001"])
	}
}

func TestGap(t *testing.T) {
	snap := &Snapshot{Hours: map[string]float64{"a": 12, "b": 6, "c": 9}}
	if got := snap.Gap(); math.Abs(got-6) > 1e-9 {
		t.Errorf("gap = %v, want 6", got)
	}

	single := &Snapshot{Hours: map[string]float64{"a": 12}}
	if got := single.Gap(); got != 0 {
		t.Errorf("single-interpreter gap = %v, want 0", got)
	}

	empty := &Snapshot{Hours: map[string]float64{}}
	if got := empty.Gap(); got != 0 {
		t.Errorf("empty gap = %v, want 0", got)
	}
}

func TestSimulateAssign(t *testing.T) {
	snap := &Snapshot{Hours: map[string]float64{"a": 10, "b": 4}}

	if got := snap.SimulateAssign("b", 2); math.Abs(got-4) > 1e-9 {
		t.Errorf("projected gap = %v, want 4", got)
	}
	if got := snap.SimulateAssign("a", 2); math.Abs(got-8) > 1e-9 {
		t.Errorf("projected gap = %v, want 8", got)
	}
	// Simulation must not mutate the snapshot.
	if snap.Hours["a"] != 10 || snap.Hours["b"] != 4 {
		t.Error("SimulateAssign mutated the snapshot")
	}
}
