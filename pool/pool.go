// Package pool tracks deferred bookings until their auto-assign window
// opens. Pool state lives on the booking row; workers compete for entries
// through the conditional MarkProcessing claim rather than shared memory.
package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/sssNYz/interpreter-booking/store"
)

const (
	// stuckAfter is how long an entry may sit in processing before the
	// recovery sweep returns it to waiting.
	stuckAfter = time.Hour

	// maxAttempts bounds transient retries before an entry is failed.
	maxAttempts = 5
)

// ThresholdFunc resolves the urgent-threshold days for a booking at pass
// time, so policy changes apply without rewriting pool rows.
type ThresholdFunc func(ctx context.Context, b *store.Booking) (int, error)

// Pool manages deferred bookings.
type Pool struct {
	db         store.Store
	urgentDays ThresholdFunc
	logger     *slog.Logger
}

// New builds a pool.
func New(db store.Store, urgentDays ThresholdFunc, logger *slog.Logger) *Pool {
	return &Pool{db: db, urgentDays: urgentDays, logger: logger.With("component", "pool")}
}

// Deadline computes the pool deadline: one urgent-threshold before start,
// at least one day.
func Deadline(timeStart time.Time, urgentThresholdDays int) time.Time {
	days := urgentThresholdDays
	if days < 1 {
		days = 1
	}
	return timeStart.Add(-time.Duration(days) * 24 * time.Hour)
}

// Enqueue places a booking in the pool with its deadline.
func (p *Pool) Enqueue(ctx context.Context, b *store.Booking, urgentThresholdDays int, now time.Time) error {
	deadline := Deadline(b.TimeStart, urgentThresholdDays)
	if err := p.db.EnqueuePool(ctx, b.ID, now, deadline); err != nil {
		return err
	}
	p.logger.Info("booking pooled",
		"booking_id", b.ID,
		"deadline", deadline,
		"time_start", b.TimeStart)
	return nil
}

// Ready returns pool entries whose window has opened: the deadline has
// passed, or the booking is already inside the urgent band. Entries whose
// booking reached a terminal status are cleared instead of returned, and
// waiting entries that qualify are promoted to ready.
func (p *Pool) Ready(ctx context.Context, now time.Time) ([]*store.Booking, error) {
	entries, err := p.db.ListPoolEntries(ctx, store.PoolWaiting, store.PoolReady)
	if err != nil {
		return nil, err
	}

	var ready []*store.Booking
	for _, b := range entries {
		if b.BookingStatus.IsTerminal() || b.BookingStatus == store.StatusApprove {
			if err := p.db.ClearPool(ctx, b.ID); err != nil {
				return nil, err
			}
			continue
		}

		isReady := b.PoolDeadlineTime != nil && !b.PoolDeadlineTime.After(now)
		if !isReady {
			days, err := p.urgentDays(ctx, b)
			if err != nil {
				return nil, err
			}
			isReady = b.TimeStart.Sub(now) <= time.Duration(days)*24*time.Hour
		}
		if !isReady {
			continue
		}

		if b.PoolStatus == store.PoolWaiting {
			if err := p.db.SetPoolStatus(ctx, b.ID, store.PoolReady); err != nil {
				return nil, err
			}
			b.PoolStatus = store.PoolReady
		}
		ready = append(ready, b)
	}
	return ready, nil
}

// MarkProcessing claims an entry for a worker. Returns true when the caller
// won the waiting/ready -> processing transition.
func (p *Pool) MarkProcessing(ctx context.Context, bookingID int64, now time.Time) (bool, error) {
	return p.db.MarkPoolProcessing(ctx, bookingID, now)
}

// Remove clears all pool state from a booking.
func (p *Pool) Remove(ctx context.Context, bookingID int64) error {
	return p.db.ClearPool(ctx, bookingID)
}

// FailAttempt records a transient failure. The entry is re-queued until it
// exhausts its attempts, then parked as failed. Returns the attempt count
// and whether the entry is now failed.
func (p *Pool) FailAttempt(ctx context.Context, bookingID int64) (int, bool, error) {
	attempts, err := p.db.IncrementPoolAttempts(ctx, bookingID)
	if err != nil {
		return 0, false, err
	}
	if attempts >= maxAttempts {
		if err := p.db.SetPoolStatus(ctx, bookingID, store.PoolFailed); err != nil {
			return attempts, false, err
		}
		if err := p.db.SetAutoAssignStatus(ctx, bookingID, store.AutoAssignFailed); err != nil {
			return attempts, false, err
		}
		p.logger.Warn("pool entry failed permanently",
			"booking_id", bookingID,
			"attempts", attempts)
		return attempts, true, nil
	}
	if err := p.db.SetPoolStatus(ctx, bookingID, store.PoolWaiting); err != nil {
		return attempts, false, err
	}
	return attempts, false, nil
}

// Fail parks an entry as failed immediately, without consuming its retry
// budget. Used for hard, non-retryable assignment failures.
func (p *Pool) Fail(ctx context.Context, bookingID int64) error {
	if err := p.db.SetPoolStatus(ctx, bookingID, store.PoolFailed); err != nil {
		return err
	}
	if err := p.db.SetAutoAssignStatus(ctx, bookingID, store.AutoAssignFailed); err != nil {
		return err
	}
	p.logger.Warn("pool entry failed", "booking_id", bookingID)
	return nil
}

// RecoverStuck returns entries stuck in processing for over an hour to
// waiting. Crashes between claim and completion are healed here.
func (p *Pool) RecoverStuck(ctx context.Context, now time.Time) (int, error) {
	n, err := p.db.ResetStuckProcessing(ctx, now.Add(-stuckAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Warn("recovered stuck pool entries", "count", n)
	}
	return n, nil
}
