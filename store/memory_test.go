package store

import (
	"context"
	"testing"
	"time"
)

func testBooking(start, end time.Time) *Booking {
	return &Booking{
		OwnerEmpCode:  "10001",
		OwnerDeptPath: `NAGOYA\DIV1\DEPT2`,
		MeetingType:   MeetingGeneral,
		TimeStart:     start,
		TimeEnd:       end,
		MeetingRoom:   "R101",
		BookingStatus: StatusWaiting,
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to BookingStatus
		want     bool
	}{
		{StatusWaiting, StatusWaiting, true},
		{StatusWaiting, StatusApprove, true},
		{StatusWaiting, StatusCancel, true},
		{StatusWaiting, StatusComplete, false},
		{StatusApprove, StatusApprove, true},
		{StatusApprove, StatusCancel, true},
		{StatusApprove, StatusComplete, true},
		{StatusApprove, StatusWaiting, false},
		{StatusCancel, StatusCancel, true},
		{StatusCancel, StatusWaiting, false},
		{StatusCancel, StatusApprove, false},
		{StatusComplete, StatusComplete, true},
		{StatusComplete, StatusCancel, false},
	}
	for _, c := range cases {
		if got := TransitionAllowed(c.from, c.to); got != c.want {
			t.Errorf("TransitionAllowed(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestOverlapsBoundary(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	b := testBooking(base, base.Add(time.Hour))

	// Touching intervals are not a conflict.
	if b.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)) {
		t.Error("interval starting at booking end should not overlap")
	}
	if b.Overlaps(base.Add(-time.Hour), base) {
		t.Error("interval ending at booking start should not overlap")
	}
	if !b.Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute)) {
		t.Error("intersecting interval should overlap")
	}
	if !b.Overlaps(base.Add(-time.Hour), base.Add(2*time.Hour)) {
		t.Error("containing interval should overlap")
	}
}

func TestUpdateBookingStatusGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(24 * time.Hour)
	b := testBooking(base, base.Add(time.Hour))
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	ok, err := s.UpdateBookingStatus(ctx, b.ID, StatusWaiting, StatusCancel)
	if err != nil || !ok {
		t.Fatalf("guarded update should succeed, got ok=%v err=%v", ok, err)
	}

	// The guard no longer matches.
	ok, err = s.UpdateBookingStatus(ctx, b.ID, StatusWaiting, StatusApprove)
	if err != nil {
		t.Fatalf("UpdateBookingStatus: %v", err)
	}
	if ok {
		t.Error("update with stale guard should return false")
	}
}

func TestCommitAssignmentGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(24 * time.Hour)
	b := testBooking(base, base.Add(time.Hour))
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := s.EnqueuePool(ctx, b.ID, time.Now(), base.Add(-24*time.Hour)); err != nil {
		t.Fatalf("EnqueuePool: %v", err)
	}

	entry := &AssignmentLog{BookingID: b.ID, Status: LogAssigned, InterpreterEmpCode: "00001"}
	ok, err := s.CommitAssignment(ctx, b.ID, "00001", entry)
	if err != nil || !ok {
		t.Fatalf("commit should succeed, got ok=%v err=%v", ok, err)
	}

	got, err := s.GetBooking(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	if got.BookingStatus != StatusApprove {
		t.Errorf("booking status = %s, want approve", got.BookingStatus)
	}
	if got.InterpreterEmpCode == nil || *got.InterpreterEmpCode != "00001" {
		t.Error("interpreter not recorded on commit")
	}
	if got.AutoAssignStatus != AutoAssignDone {
		t.Errorf("auto assign status = %s, want done", got.AutoAssignStatus)
	}
	if got.PoolStatus != PoolNone || got.PoolEntryTime != nil || got.PoolDeadlineTime != nil {
		t.Error("pool fields should be cleared on commit")
	}
	if logs := s.AssignmentLogs(); len(logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logs))
	}

	// Second commit must hit the state guard.
	ok, err = s.CommitAssignment(ctx, b.ID, "00002", nil)
	if err != nil {
		t.Fatalf("CommitAssignment: %v", err)
	}
	if ok {
		t.Error("second commit should return false")
	}
	got, _ = s.GetBooking(ctx, b.ID)
	if *got.InterpreterEmpCode != "00001" {
		t.Error("second commit must not overwrite the interpreter")
	}
}

func TestMarkPoolProcessingClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(48 * time.Hour)
	b := testBooking(base, base.Add(time.Hour))
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := s.EnqueuePool(ctx, b.ID, time.Now(), base.Add(-24*time.Hour)); err != nil {
		t.Fatalf("EnqueuePool: %v", err)
	}

	now := time.Now()
	ok, err := s.MarkPoolProcessing(ctx, b.ID, now)
	if err != nil || !ok {
		t.Fatalf("first claim should win, got ok=%v err=%v", ok, err)
	}
	ok, err = s.MarkPoolProcessing(ctx, b.ID, now)
	if err != nil {
		t.Fatalf("MarkPoolProcessing: %v", err)
	}
	if ok {
		t.Error("second claim on a processing entry should lose")
	}
}

func TestResetStuckProcessing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now().Add(48 * time.Hour)
	b := testBooking(base, base.Add(time.Hour))
	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := s.EnqueuePool(ctx, b.ID, time.Now(), base.Add(-24*time.Hour)); err != nil {
		t.Fatalf("EnqueuePool: %v", err)
	}

	claimedAt := time.Now().Add(-2 * time.Hour)
	if ok, _ := s.MarkPoolProcessing(ctx, b.ID, claimedAt); !ok {
		t.Fatal("claim failed")
	}

	n, err := s.ResetStuckProcessing(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ResetStuckProcessing: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d entries, want 1", n)
	}
	got, _ := s.GetBooking(ctx, b.ID)
	if got.PoolStatus != PoolWaiting {
		t.Errorf("pool status = %s, want waiting", got.PoolStatus)
	}
}

func TestAcquireLockTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	name := BookingLockName(42)

	ok, err := s.AcquireLock(ctx, name, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}

	ok, err = s.AcquireLock(ctx, name, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if ok {
		t.Error("held lock should not be granted twice")
	}

	if err := s.ReleaseLock(ctx, name); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	ok, err = s.AcquireLock(ctx, name, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire after release should succeed, got ok=%v err=%v", ok, err)
	}
}

func TestAcquireLockWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	name := InterpreterLockName("00001")

	ok, err := s.AcquireLock(ctx, name, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}

	// A second caller in the same process blocks on the held name and wins
	// once the holder releases, rather than erroring out immediately.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, err := s.AcquireLock(ctx, name, 2*time.Second)
		if err != nil || !ok {
			t.Errorf("waiting acquire should succeed after release, got ok=%v err=%v", ok, err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.ReleaseLock(ctx, name); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("waiting acquire never completed")
	}
}

func TestLastDRAssigneeScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	env1, env2 := int64(1), int64(2)

	s.AppendAssignmentLog(ctx, &AssignmentLog{
		BookingID: 1, EnvironmentID: &env1, MeetingType: MeetingDR,
		InterpreterEmpCode: "00001", Status: LogAssigned,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	s.AppendAssignmentLog(ctx, &AssignmentLog{
		BookingID: 2, EnvironmentID: &env2, MeetingType: MeetingDR,
		InterpreterEmpCode: "00002", Status: LogAssigned,
		CreatedAt: time.Now().Add(-time.Hour),
	})
	s.AppendAssignmentLog(ctx, &AssignmentLog{
		BookingID: 3, EnvironmentID: &env1, MeetingType: MeetingGeneral,
		InterpreterEmpCode: "00003", Status: LogAssigned,
		CreatedAt: time.Now(),
	})

	got, err := s.LastDRAssignee(ctx, &env1)
	if err != nil {
		t.Fatalf("LastDRAssignee: %v", err)
	}
	if got != "00001" {
		t.Errorf("env1 last DR = %q, want 00001", got)
	}

	// Global scope sees the most recent DR assignment across environments.
	got, err = s.LastDRAssignee(ctx, nil)
	if err != nil {
		t.Fatalf("LastDRAssignee: %v", err)
	}
	if got != "00002" {
		t.Errorf("global last DR = %q, want 00002", got)
	}
}
