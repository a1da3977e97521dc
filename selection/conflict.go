// Package selection builds, scores, and ranks interpreter candidates for a
// booking, and applies the DR consecutive-assignment policy.
package selection

import (
	"context"
	"time"

	"github.com/sssNYz/interpreter-booking/store"
)

// ConflictChecker detects time-overlap conflicts. Overlap is
// start < other.end && end > other.start over non-cancelled bookings, so
// back-to-back meetings do not conflict.
type ConflictChecker struct {
	db store.Store
}

// NewConflictChecker builds a conflict checker.
func NewConflictChecker(db store.Store) *ConflictChecker {
	return &ConflictChecker{db: db}
}

// HasInterpreterConflict reports whether the interpreter already has a
// non-cancelled booking overlapping [start, end). The conflicting booking is
// returned for error reporting.
func (c *ConflictChecker) HasInterpreterConflict(ctx context.Context, empCode string, start, end time.Time) (bool, *store.Booking, error) {
	overlapping, err := c.db.ListInterpreterBookings(ctx, empCode, start, end)
	if err != nil {
		return false, nil, err
	}
	if len(overlapping) == 0 {
		return false, nil, nil
	}
	return true, overlapping[0], nil
}

// HasRoomConflict reports whether the room is occupied during [start, end)
// by a booking other than excludeBookingID. The occupying booking is
// returned for error reporting.
func (c *ConflictChecker) HasRoomConflict(ctx context.Context, room string, start, end time.Time, excludeBookingID int64) (bool, *store.Booking, error) {
	if room == "" {
		return false, nil, nil
	}
	overlapping, err := c.db.ListRoomBookings(ctx, room, start, end)
	if err != nil {
		return false, nil, err
	}
	for _, b := range overlapping {
		if b.ID != excludeBookingID {
			return true, b, nil
		}
	}
	return false, nil, nil
}

// ChairmanAvailability is the result of a chairman overlap check.
type ChairmanAvailability struct {
	Available            bool  `json:"available"`
	ConflictingBookingID int64 `json:"conflicting_booking_id,omitempty"`
}

// ChairmanAvailable checks whether the chairman has an overlapping booking.
func (c *ConflictChecker) ChairmanAvailable(ctx context.Context, email string, start, end time.Time) (ChairmanAvailability, error) {
	if email == "" {
		return ChairmanAvailability{Available: true}, nil
	}
	overlapping, err := c.db.ListChairmanBookings(ctx, email, start, end)
	if err != nil {
		return ChairmanAvailability{}, err
	}
	if len(overlapping) == 0 {
		return ChairmanAvailability{Available: true}, nil
	}
	return ChairmanAvailability{Available: false, ConflictingBookingID: overlapping[0].ID}, nil
}
