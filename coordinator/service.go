package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/pool"
	"github.com/sssNYz/interpreter-booking/store"
)

// PassRunner triggers a synchronous scheduler pass. Implemented by the
// scheduler; injected to keep the dependency direction one way.
type PassRunner interface {
	RunPass(ctx context.Context, kind string) error
}

// ServiceConfig tunes the inbound operation surface.
type ServiceConfig struct {
	// ForwardMonthLimit caps how far ahead of now a booking may start and
	// still be forwarded. Default 1 month.
	ForwardMonthLimit int
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ForwardMonthLimit <= 0 {
		c.ForwardMonthLimit = 1
	}
	return c
}

// Service exposes the inbound operations: booking creation, admin actions,
// ETA computation, and manual pass triggers.
type Service struct {
	cfg      ServiceConfig
	db       store.Store
	policies *policy.Store
	coord    *Coordinator
	pool     *pool.Pool
	passes   PassRunner
	logger   *slog.Logger
}

// NewService builds the service. passes may be nil when no scheduler runs
// (tests, one-shot tools); RunSchedulerPass then fails with BAD_REQUEST.
func NewService(cfg ServiceConfig, db store.Store, policies *policy.Store, coord *Coordinator, p *pool.Pool, passes PassRunner, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		db:       db,
		policies: policies,
		coord:    coord,
		pool:     p,
		passes:   passes,
		logger:   logger.With("component", "service"),
	}
}

// CreateBooking validates and stores a booking, computes its auto-assign
// time, and either pools it or attempts immediate assignment.
func (s *Service) CreateBooking(ctx context.Context, b *store.Booking) (*store.Booking, error) {
	if err := validateBooking(b); err != nil {
		return nil, err
	}

	now := time.Now()
	b.BookingStatus = store.StatusWaiting
	b.InterpreterEmpCode = nil
	b.AutoAssignStatus = store.AutoAssignPending

	envID, err := s.coord.EnvironmentFor(ctx, b)
	if err != nil {
		return nil, err
	}
	eff, err := s.policies.Effective(ctx, envID)
	if err != nil {
		return nil, err
	}

	if !eff.AutoAssignEnabled {
		b.AutoAssignStatus = store.AutoAssignSkipped
		if err := s.db.CreateBooking(ctx, b); err != nil {
			return nil, err
		}
		s.logger.Info("booking created, auto-assign disabled", "booking_id", b.ID)
		return b, nil
	}

	th, err := s.policies.ResolveThresholds(ctx, envID, b.MeetingType, eff.Mode)
	if err != nil {
		return nil, err
	}
	at := ComputeAutoAssignAt(now, b.TimeStart, th)
	b.AutoAssignAt = &at

	if err := s.db.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	if !at.After(now) {
		// Inside the urgent band: assign right away rather than waiting for
		// the next pass. A transient failure keeps the booking pending for
		// the next pass; an escalation marks it failed for admin attention.
		if err := s.coord.Assign(ctx, b.ID); err != nil {
			s.logger.Warn("immediate assignment failed, deferring to scheduler",
				"booking_id", b.ID,
				"error", err)
		}
		return s.db.GetBooking(ctx, b.ID)
	}

	if err := s.pool.Enqueue(ctx, b, th.UrgentThresholdDays, now); err != nil {
		return nil, err
	}
	return s.db.GetBooking(ctx, b.ID)
}

// ComputeAutoAssignAt places a booking's auto-assign time: now inside the
// urgent band, otherwise one general-threshold before start, clamped to
// [now, timeStart].
func ComputeAutoAssignAt(now, timeStart time.Time, th policy.Thresholds) time.Time {
	if timeStart.Sub(now) <= time.Duration(th.UrgentThresholdDays)*24*time.Hour {
		return now
	}
	at := timeStart.Add(-time.Duration(th.GeneralThresholdDays) * 24 * time.Hour)
	if at.Before(now) {
		at = now
	}
	if at.After(timeStart) {
		at = timeStart
	}
	return at
}

// AdminApprove assigns an interpreter manually, bypassing selection but not
// the conflict check or the interpreter lock.
func (s *Service) AdminApprove(ctx context.Context, bookingID int64, empCode, actorEmpCode, note string) error {
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}
	if !store.TransitionAllowed(b.BookingStatus, store.StatusApprove) || b.InterpreterEmpCode != nil {
		return store.NewError(store.CodePolicyViolation, "booking %d is %s and cannot be approved", bookingID, b.BookingStatus)
	}

	interp, err := s.db.GetInterpreter(ctx, empCode)
	if err != nil {
		return err
	}
	if interp == nil || !interp.IsActive {
		return store.NewError(store.CodeInvalidInterpreter, "interpreter %s is not an active interpreter", empCode)
	}

	occupied, roomConflict, err := s.coord.selector.Conflicts().HasRoomConflict(ctx, b.MeetingRoom, b.TimeStart, b.TimeEnd, b.ID)
	if err != nil {
		return err
	}
	if occupied {
		return store.NewError(store.CodeConflict, "room %s is occupied by booking %d in this window", b.MeetingRoom, roomConflict.ID)
	}

	lockName := store.InterpreterLockName(empCode)
	acquired, err := s.coord.acquire(ctx, lockName, "interpreter")
	if err != nil {
		return err
	}
	if !acquired {
		return store.NewError(store.CodeLockTimeout, "interpreter %s lock not granted within %s", empCode, lockTimeout)
	}
	defer s.db.ReleaseLock(ctx, lockName)

	conflict, conflicting, err := s.coord.selector.Conflicts().HasInterpreterConflict(ctx, empCode, b.TimeStart, b.TimeEnd)
	if err != nil {
		return err
	}
	if conflict {
		return &store.Error{
			Code:                 store.CodeInterpreterConflict,
			Msg:                  "interpreter already booked in this window",
			ConflictingBookingID: conflicting.ID,
		}
	}

	envID, err := s.coord.EnvironmentFor(ctx, b)
	if err != nil {
		return err
	}
	entry := &store.AssignmentLog{
		BookingID:          bookingID,
		EnvironmentID:      envID,
		MeetingType:        b.MeetingType,
		InterpreterEmpCode: empCode,
		Status:             store.LogAssigned,
		Reason:             adminReason("ADMIN_APPROVE", actorEmpCode, note),
		CorrelationID:      newCorrelationID(),
		CreatedAt:          time.Now(),
	}
	ok, err := s.db.CommitAssignment(ctx, bookingID, empCode, entry)
	if err != nil {
		return err
	}
	if !ok {
		return store.NewError(store.CodeConflict, "booking %d changed state during approval", bookingID)
	}
	s.logger.Info("booking approved by admin",
		"booking_id", bookingID,
		"interpreter", empCode,
		"actor", actorEmpCode)
	return nil
}

// AdminForward redirects future auto-assign passes to other environments.
// The booking must still be waiting and must start within the forward
// horizon.
func (s *Service) AdminForward(ctx context.Context, bookingID int64, environmentIDs []int64, actorEmpCode, note string) error {
	if len(environmentIDs) == 0 {
		return store.NewError(store.CodeBadRequest, "at least one target environment is required")
	}
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}
	if b.BookingStatus != store.StatusWaiting {
		return store.NewError(store.CodePolicyViolation, "only waiting bookings can be forwarded")
	}
	horizon := time.Now().AddDate(0, s.cfg.ForwardMonthLimit, 0)
	if b.TimeStart.After(horizon) {
		return store.NewError(store.CodePolicyViolation, "booking starts beyond the %d-month forward horizon", s.cfg.ForwardMonthLimit)
	}

	for _, envID := range environmentIDs {
		if err := s.db.AddForwardTarget(ctx, &store.ForwardTarget{
			BookingID:     bookingID,
			EnvironmentID: envID,
			ActorEmpCode:  actorEmpCode,
			Note:          note,
			CreatedAt:     time.Now(),
		}); err != nil {
			return err
		}
	}

	s.coord.appendLog(ctx, &store.AssignmentLog{
		BookingID:     bookingID,
		MeetingType:   b.MeetingType,
		Status:        store.LogForwarded,
		Reason:        adminReason("ADMIN_FORWARD", actorEmpCode, note),
		CorrelationID: newCorrelationID(),
		CreatedAt:     time.Now(),
	})
	s.logger.Info("booking forwarded",
		"booking_id", bookingID,
		"targets", environmentIDs,
		"actor", actorEmpCode)
	return nil
}

// CancelBooking cancels from any non-terminal state and clears pool fields.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64) error {
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}
	if b.BookingStatus.IsTerminal() {
		if b.BookingStatus == store.StatusCancel {
			return nil
		}
		return store.NewError(store.CodePolicyViolation, "booking %d is %s and cannot be cancelled", bookingID, b.BookingStatus)
	}

	ok, err := s.db.UpdateBookingStatus(ctx, bookingID, b.BookingStatus, store.StatusCancel)
	if err != nil {
		return err
	}
	if !ok {
		return store.NewError(store.CodeConflict, "booking %d changed state during cancellation", bookingID)
	}
	if err := s.db.ClearPool(ctx, bookingID); err != nil {
		return err
	}
	s.logger.Info("booking cancelled", "booking_id", bookingID)
	return nil
}

// PatchBookingStatus applies one transition from the allowed table.
func (s *Service) PatchBookingStatus(ctx context.Context, bookingID int64, to store.BookingStatus) error {
	if to == store.StatusCancel {
		return s.CancelBooking(ctx, bookingID)
	}
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}
	if !store.TransitionAllowed(b.BookingStatus, to) {
		return store.NewError(store.CodePolicyViolation, "transition %s -> %s is not allowed", b.BookingStatus, to)
	}
	ok, err := s.db.UpdateBookingStatus(ctx, bookingID, b.BookingStatus, to)
	if err != nil {
		return err
	}
	if !ok {
		return store.NewError(store.CodeConflict, "booking %d changed state during update", bookingID)
	}
	return nil
}

// ETA is the derived schedule for one booking.
type ETA struct {
	UrgentFrom        time.Time `json:"urgent_from"`
	SchedulerFrom     time.Time `json:"scheduler_from"`
	FirstAutoAssignAt time.Time `json:"first_auto_assign_at"`
	ETASeconds        int64     `json:"eta_seconds"`
}

// ComputeETA derives when the engine will first act on a booking. Pure over
// the booking's thresholds and auto-assign time.
func (s *Service) ComputeETA(ctx context.Context, bookingID int64) (*ETA, error) {
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}

	envID, err := s.coord.EnvironmentFor(ctx, b)
	if err != nil {
		return nil, err
	}
	eff, err := s.policies.Effective(ctx, envID)
	if err != nil {
		return nil, err
	}
	th, err := s.policies.ResolveThresholds(ctx, envID, b.MeetingType, eff.Mode)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	urgentFrom := b.TimeStart.Add(-time.Duration(th.UrgentThresholdDays) * 24 * time.Hour)
	schedulerFrom := ComputeAutoAssignAt(now, b.TimeStart, th)
	if b.AutoAssignAt != nil {
		schedulerFrom = *b.AutoAssignAt
	}
	first := urgentFrom
	if schedulerFrom.After(first) {
		first = schedulerFrom
	}
	eta := int64(0)
	if first.After(now) {
		eta = int64(first.Sub(now).Seconds())
	}
	return &ETA{
		UrgentFrom:        urgentFrom,
		SchedulerFrom:     schedulerFrom,
		FirstAutoAssignAt: first,
		ETASeconds:        eta,
	}, nil
}

// RunSchedulerPass triggers a synchronous pass.
func (s *Service) RunSchedulerPass(ctx context.Context, kind string) error {
	if s.passes == nil {
		return store.NewError(store.CodeBadRequest, "no scheduler is attached")
	}
	return s.passes.RunPass(ctx, kind)
}

// Assign exposes the coordinator for direct, idempotent assignment calls.
func (s *Service) Assign(ctx context.Context, bookingID int64) error {
	return s.coord.Assign(ctx, bookingID)
}

func validateBooking(b *store.Booking) error {
	if b.MeetingType == "" {
		return store.NewError(store.CodeBadRequest, "meeting type is required")
	}
	if b.OwnerEmpCode == "" {
		return store.NewError(store.CodeBadRequest, "owner emp code is required")
	}
	if !b.TimeEnd.After(b.TimeStart) {
		return store.NewError(store.CodeBadRequest, "time end must be after time start")
	}
	return nil
}

func adminReason(action, actor, note string) string {
	r := action + " by " + actor
	if note != "" {
		r += ": " + note
	}
	return r
}
