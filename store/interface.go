package store

import (
	"context"
	"time"
)

// Store defines the persistence surface the assignment engine requires.
// It abstracts over Postgres (durable) and the in-memory backend (tests,
// standalone mode). Lookups return (nil, nil) when the row is absent.
type Store interface {
	// Booking operations
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id int64) (*Booking, error)

	// UpdateBookingStatus applies a guarded transition: the row is updated
	// only when its current status equals from. Returns false when the
	// guard did not match.
	UpdateBookingStatus(ctx context.Context, id int64, from, to BookingStatus) (bool, error)

	// CommitAssignment atomically assigns an interpreter: the booking must
	// still be waiting and unassigned. On success the booking moves to
	// approve, auto-assign is marked done, pool fields are cleared, and the
	// log entry is appended in the same transaction. Returns false when the
	// state guard did not match.
	CommitAssignment(ctx context.Context, id int64, empCode string, entry *AssignmentLog) (bool, error)

	SetAutoAssignStatus(ctx context.Context, id int64, status AutoAssignStatus) error
	SetAutoAssignAt(ctx context.Context, id int64, at time.Time, status AutoAssignStatus) error

	// ListAssignableBookings returns waiting, unassigned interpreter
	// bookings whose auto-assign time has arrived and whose start lies
	// inside the horizon.
	ListAssignableBookings(ctx context.Context, now time.Time, horizon time.Duration) ([]*Booking, error)

	// Overlap queries, restricted to non-cancelled bookings.
	ListInterpreterBookings(ctx context.Context, empCode string, start, end time.Time) ([]*Booking, error)
	ListRoomBookings(ctx context.Context, room string, start, end time.Time) ([]*Booking, error)
	ListChairmanBookings(ctx context.Context, email string, start, end time.Time) ([]*Booking, error)

	// ListAssignedSince returns non-cancelled bookings with an interpreter
	// whose creation time is at or after cutoff. Fairness attribution is by
	// creation time, not start time.
	ListAssignedSince(ctx context.Context, cutoff time.Time) ([]*Booking, error)

	// Interpreter directory
	GetInterpreter(ctx context.Context, empCode string) (*Interpreter, error)
	ListActiveInterpreters(ctx context.Context, envID *int64) ([]*Interpreter, error)

	// Environment resolution
	EnvironmentIDForCenter(ctx context.Context, center string) (*int64, error)
	LatestForwardTarget(ctx context.Context, bookingID int64) (*ForwardTarget, error)
	AddForwardTarget(ctx context.Context, t *ForwardTarget) error

	// Policy rows
	GetGlobalPolicy(ctx context.Context) (*GlobalPolicy, error)
	SaveGlobalPolicy(ctx context.Context, p *GlobalPolicy) error
	GetAutoAssignConfig(ctx context.Context, envID int64) (*AutoAssignConfig, error)
	SaveAutoAssignConfig(ctx context.Context, c *AutoAssignConfig) error
	GetMeetingTypePriority(ctx context.Context, mt MeetingType) (*MeetingTypePriority, error)
	GetModeThresholdOverride(ctx context.Context, envID int64, mode Mode, mt MeetingType) (*ModeThresholdOverride, error)

	// Pool operations
	EnqueuePool(ctx context.Context, bookingID int64, entryTime, deadline time.Time) error

	// MarkPoolProcessing claims a pool entry: waiting/ready -> processing.
	// Returns false when the entry was not claimable.
	MarkPoolProcessing(ctx context.Context, bookingID int64, now time.Time) (bool, error)

	SetPoolStatus(ctx context.Context, bookingID int64, status PoolStatus) error
	ClearPool(ctx context.Context, bookingID int64) error
	IncrementPoolAttempts(ctx context.Context, bookingID int64) (int, error)
	ListPoolEntries(ctx context.Context, statuses ...PoolStatus) ([]*Booking, error)

	// ResetStuckProcessing returns processing entries older than the cutoff
	// to waiting. Returns the number of entries recovered.
	ResetStuckProcessing(ctx context.Context, olderThan time.Time) (int, error)

	// Assignment log
	AppendAssignmentLog(ctx context.Context, entry *AssignmentLog) error
	LastAssignmentTimes(ctx context.Context) (map[string]time.Time, error)

	// LastDRAssignee returns the interpreter of the most recent DR
	// assignment in the environment scope; empty when none. A nil envID
	// consults the global history.
	LastDRAssignee(ctx context.Context, envID *int64) (string, error)

	// Named locks provided by the storage engine. AcquireLock returns false
	// when the lock could not be obtained within the timeout.
	AcquireLock(ctx context.Context, name string, timeout time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}
