package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/pool"
	"github.com/sssNYz/interpreter-booking/selection"
	"github.com/sssNYz/interpreter-booking/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	db       *store.MemoryStore
	policies *policy.Store
	pool     *pool.Pool
	coord    *Coordinator
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := store.NewMemoryStore()
	policies := policy.NewStore(db, nil)
	selector := selection.NewSelector(db, policies, testLogger())

	p := pool.New(db, func(ctx context.Context, b *store.Booking) (int, error) {
		envID, err := ResolveEnvironment(ctx, db, b)
		if err != nil {
			return 0, err
		}
		eff, err := policies.Effective(ctx, envID)
		if err != nil {
			return 0, err
		}
		th, err := policies.ResolveThresholds(ctx, envID, b.MeetingType, eff.Mode)
		if err != nil {
			return 0, err
		}
		return th.UrgentThresholdDays, nil
	}, testLogger())

	coord := New(db, policies, selector, p, testLogger())
	svc := NewService(ServiceConfig{}, db, policies, coord, p, nil, testLogger())
	return &harness{db: db, policies: policies, pool: p, coord: coord, svc: svc}
}

func (h *harness) addInterpreter(code string) {
	h.db.PutInterpreter(&store.Interpreter{EmpCode: code, IsActive: true})
}

func (h *harness) seedDue(t *testing.T, start, end time.Time) *store.Booking {
	t.Helper()
	at := time.Now().Add(-time.Minute)
	b := &store.Booking{
		OwnerEmpCode:     "10001",
		MeetingType:      store.MeetingGeneral,
		TimeStart:        start,
		TimeEnd:          end,
		BookingStatus:    store.StatusWaiting,
		AutoAssignStatus: store.AutoAssignPending,
		AutoAssignAt:     &at,
	}
	if err := h.db.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func logsByStatus(h *harness, status string) []*store.AssignmentLog {
	var out []*store.AssignmentLog
	for _, l := range h.db.AssignmentLogs() {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

func TestAssignIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addInterpreter("00001")
	now := time.Now()
	b := h.seedDue(t, now.Add(24*time.Hour), now.Add(25*time.Hour))

	if err := h.coord.Assign(ctx, b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	got, _ := h.db.GetBooking(ctx, b.ID)
	if got.BookingStatus != store.StatusApprove || got.InterpreterEmpCode == nil {
		t.Fatalf("booking not assigned: %+v", got)
	}
	if got.AutoAssignStatus != store.AutoAssignDone {
		t.Errorf("auto assign status = %s, want done", got.AutoAssignStatus)
	}

	// Second call is a no-op skip.
	if err := h.coord.Assign(ctx, b.ID); err != nil {
		t.Fatalf("second Assign: %v", err)
	}
	if n := len(logsByStatus(h, store.LogAssigned)); n != 1 {
		t.Errorf("assigned log entries = %d, want exactly 1", n)
	}
	if n := len(logsByStatus(h, store.LogSkipped)); n != 1 {
		t.Errorf("skipped log entries = %d, want 1", n)
	}
}

func TestAssignCancelledMidFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addInterpreter("00001")
	now := time.Now()
	b := h.seedDue(t, now.Add(24*time.Hour), now.Add(25*time.Hour))
	if err := h.db.EnqueuePool(ctx, b.ID, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("EnqueuePool: %v", err)
	}

	// Admin cancels between dispatch and the coordinator's state check.
	if ok, _ := h.db.UpdateBookingStatus(ctx, b.ID, store.StatusWaiting, store.StatusCancel); !ok {
		t.Fatal("cancel failed")
	}

	if err := h.coord.Assign(ctx, b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got, _ := h.db.GetBooking(ctx, b.ID)
	if got.BookingStatus != store.StatusCancel || got.InterpreterEmpCode != nil {
		t.Errorf("cancelled booking must not be mutated: %+v", got)
	}
	if got.PoolStatus != store.PoolNone {
		t.Errorf("pool fields must be cleared, got %s", got.PoolStatus)
	}

	skipped := logsByStatus(h, store.LogSkipped)
	if len(skipped) != 1 || skipped[0].Reason != SkipReasonCancelled {
		t.Errorf("expected one SKIPPED_CANCELLED entry, got %+v", skipped)
	}
}

func TestAssignEscalatesWithoutCandidates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()
	b := h.seedDue(t, now.Add(24*time.Hour), now.Add(25*time.Hour))

	if err := h.coord.Assign(ctx, b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got, _ := h.db.GetBooking(ctx, b.ID)
	if got.BookingStatus != store.StatusWaiting {
		t.Errorf("escalated booking must stay waiting, got %s", got.BookingStatus)
	}
	if got.AutoAssignStatus != store.AutoAssignFailed {
		t.Errorf("unpooled escalation must mark failed, got %s", got.AutoAssignStatus)
	}

	escalated := logsByStatus(h, store.LogEscalated)
	if len(escalated) != 1 || escalated[0].Reason != selection.ReasonNoCandidates {
		t.Errorf("expected one NO_CANDIDATES escalation, got %+v", escalated)
	}
}

func TestEscalationChargesPoolAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	now := time.Now()
	b := h.seedDue(t, now.Add(24*time.Hour), now.Add(25*time.Hour))
	if err := h.db.EnqueuePool(ctx, b.ID, now, now.Add(-time.Hour)); err != nil {
		t.Fatalf("EnqueuePool: %v", err)
	}

	if err := h.coord.Assign(ctx, b.ID); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got, _ := h.db.GetBooking(ctx, b.ID)
	if got.PoolProcessingAttempts != 1 {
		t.Errorf("attempts = %d, want 1", got.PoolProcessingAttempts)
	}
	if got.PoolStatus != store.PoolWaiting {
		t.Errorf("pooled escalation re-queues for the next pass, got %s", got.PoolStatus)
	}
	// Attempts remain below the budget, so the booking stays pending.
	if got.AutoAssignStatus != store.AutoAssignPending {
		t.Errorf("auto assign status = %s, want pending", got.AutoAssignStatus)
	}
}

func TestAssignLockTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addInterpreter("00001")
	now := time.Now()
	b := h.seedDue(t, now.Add(24*time.Hour), now.Add(25*time.Hour))

	// Another worker holds the booking lock.
	if ok, _ := h.db.AcquireLock(ctx, store.BookingLockName(b.ID), time.Second); !ok {
		t.Fatal("setup lock failed")
	}
	defer h.db.ReleaseLock(ctx, store.BookingLockName(b.ID))

	err := h.coord.Assign(ctx, b.ID)
	if !store.IsCode(err, store.CodeLockTimeout) {
		t.Errorf("error = %v, want LOCK_TIMEOUT", err)
	}
	if !store.IsTransient(err) {
		t.Error("lock timeout must be transient")
	}
}

func TestConcurrentAssignNeverDoubleBooks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addInterpreter("00001")
	h.addInterpreter("00002")
	now := time.Now()

	// Overlapping bookings dispatched simultaneously.
	b1 := h.seedDue(t, now.Add(24*time.Hour), now.Add(26*time.Hour))
	b2 := h.seedDue(t, now.Add(25*time.Hour), now.Add(27*time.Hour))

	var wg sync.WaitGroup
	for _, id := range []int64{b1.ID, b2.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			// Lock contention may defer one booking; that is acceptable as
			// long as no interpreter is double-booked.
			_ = h.coord.Assign(ctx, id)
		}(id)
	}
	wg.Wait()

	g1, _ := h.db.GetBooking(ctx, b1.ID)
	g2, _ := h.db.GetBooking(ctx, b2.ID)
	if g1.InterpreterEmpCode != nil && g2.InterpreterEmpCode != nil {
		if *g1.InterpreterEmpCode == *g2.InterpreterEmpCode {
			t.Fatalf("interpreter %s double-booked across overlapping bookings", *g1.InterpreterEmpCode)
		}
	}
}

func TestOverlappingBookingsGetDistinctInterpreters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addInterpreter("00001")
	h.addInterpreter("00002")
	now := time.Now()

	b1 := h.seedDue(t, now.Add(24*time.Hour), now.Add(26*time.Hour))
	b2 := h.seedDue(t, now.Add(25*time.Hour), now.Add(27*time.Hour))

	if err := h.coord.Assign(ctx, b1.ID); err != nil {
		t.Fatalf("Assign b1: %v", err)
	}
	if err := h.coord.Assign(ctx, b2.ID); err != nil {
		t.Fatalf("Assign b2: %v", err)
	}

	g1, _ := h.db.GetBooking(ctx, b1.ID)
	g2, _ := h.db.GetBooking(ctx, b2.ID)
	if g1.InterpreterEmpCode == nil || g2.InterpreterEmpCode == nil {
		t.Fatalf("both bookings should be assigned: %v / %v", g1.InterpreterEmpCode, g2.InterpreterEmpCode)
	}
	if *g1.InterpreterEmpCode == *g2.InterpreterEmpCode {
		t.Errorf("overlapping bookings share interpreter %s", *g1.InterpreterEmpCode)
	}
}

func TestEnvironmentResolutionOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.db.PutCenter("NAGOYA", 4)

	b := &store.Booking{
		OwnerEmpCode:  "10001",
		OwnerDeptPath: `NAGOYA\DIV1\DEPT2`,
		MeetingType:   store.MeetingGeneral,
		TimeStart:     time.Now().Add(24 * time.Hour),
		TimeEnd:       time.Now().Add(25 * time.Hour),
		BookingStatus: store.StatusWaiting,
	}
	if err := h.db.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	envID, err := h.coord.EnvironmentFor(ctx, b)
	if err != nil {
		t.Fatalf("EnvironmentFor: %v", err)
	}
	if envID == nil || *envID != 4 {
		t.Fatalf("center-derived environment = %v, want 4", envID)
	}

	// A forward target overrides the center mapping.
	if err := h.db.AddForwardTarget(ctx, &store.ForwardTarget{
		BookingID: b.ID, EnvironmentID: 9, ActorEmpCode: "90001",
	}); err != nil {
		t.Fatalf("AddForwardTarget: %v", err)
	}
	envID, err = h.coord.EnvironmentFor(ctx, b)
	if err != nil {
		t.Fatalf("EnvironmentFor: %v", err)
	}
	if envID == nil || *envID != 9 {
		t.Fatalf("forward target must win, got %v", envID)
	}

	// Unknown center degrades to a nil (global) scope.
	b2 := &store.Booking{OwnerDeptPath: `ELSEWHERE\X`}
	envID, err = h.coord.EnvironmentFor(ctx, b2)
	if err != nil {
		t.Fatalf("EnvironmentFor: %v", err)
	}
	if envID != nil {
		t.Errorf("unknown center must resolve to nil, got %v", *envID)
	}
}

func TestLogWriteFailureDegradesToBuffer(t *testing.T) {
	h := newHarness(t)

	// Simulate persistence failure by pointing the coordinator at a store
	// wrapper that rejects log writes.
	failing := &failingLogStore{Store: h.db}
	coord := New(failing, h.policies, selection.NewSelector(h.db, h.policies, testLogger()), h.pool, testLogger())

	coord.appendLog(context.Background(), &store.AssignmentLog{BookingID: 1, Status: store.LogSkipped})
	if got := coord.BufferedLogCount(); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}

	// Once the store recovers, a flush drains the buffer.
	failing.healthy = true
	if n := coord.FlushBufferedLogs(context.Background()); n != 1 {
		t.Fatalf("flushed = %d, want 1", n)
	}
	if got := coord.BufferedLogCount(); got != 0 {
		t.Errorf("buffered after flush = %d, want 0", got)
	}
}

type failingLogStore struct {
	store.Store
	healthy bool
}

func (f *failingLogStore) AppendAssignmentLog(ctx context.Context, entry *store.AssignmentLog) error {
	if !f.healthy {
		return store.NewError(store.CodeInternal, "log store unavailable")
	}
	return f.Store.AppendAssignmentLog(ctx, entry)
}
