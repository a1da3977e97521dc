// Package coordinator runs one booking end to end: lock, reload, select,
// commit, log. It owns the named-lock discipline that keeps concurrent
// workers from double-booking an interpreter.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sssNYz/interpreter-booking/observability"
	"github.com/sssNYz/interpreter-booking/policy"
	"github.com/sssNYz/interpreter-booking/pool"
	"github.com/sssNYz/interpreter-booking/selection"
	"github.com/sssNYz/interpreter-booking/store"
)

const (
	lockTimeout    = 5 * time.Second
	assignDeadline = 10 * time.Second

	// logBufferCap bounds the in-memory fallback buffer for assignment log
	// entries that could not be persisted.
	logBufferCap = 256
)

// Skip reasons recorded when an assign call aborts without mutation.
const (
	SkipReasonCancelled  = "SKIPPED_CANCELLED"
	SkipReasonIneligible = "SKIPPED"
	SkipReasonDisabled   = "AUTO_ASSIGN_DISABLED"
	SkipReasonStateRace  = "STATE_CHANGED"
)

// Coordinator executes assignments.
type Coordinator struct {
	db       store.Store
	policies *policy.Store
	selector *selection.Selector
	pool     *pool.Pool
	logger   *slog.Logger

	mu       sync.Mutex
	logQueue []*store.AssignmentLog
}

// New builds a coordinator.
func New(db store.Store, policies *policy.Store, selector *selection.Selector, p *pool.Pool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		db:       db,
		policies: policies,
		selector: selector,
		pool:     p,
		logger:   logger.With("component", "coordinator"),
	}
}

// ResolveEnvironment resolves a booking's environment: the latest forward
// target wins, then the owner's center derived from the department path. A
// nil result widens the candidate scope to all active interpreters.
func ResolveEnvironment(ctx context.Context, db store.Store, b *store.Booking) (*int64, error) {
	target, err := db.LatestForwardTarget(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if target != nil {
		id := target.EnvironmentID
		return &id, nil
	}

	center := b.OwnerDeptPath
	if i := strings.Index(center, `\`); i >= 0 {
		center = center[:i]
	}
	if center == "" {
		return nil, nil
	}
	return db.EnvironmentIDForCenter(ctx, center)
}

// EnvironmentFor resolves the booking's environment against the
// coordinator's store.
func (c *Coordinator) EnvironmentFor(ctx context.Context, b *store.Booking) (*int64, error) {
	return ResolveEnvironment(ctx, c.db, b)
}

// EnvKey is the rate-limiter key for a booking's environment.
func (c *Coordinator) EnvKey(ctx context.Context, b *store.Booking) string {
	envID, err := c.EnvironmentFor(ctx, b)
	if err != nil || envID == nil {
		return "global"
	}
	return fmt.Sprintf("env-%d", *envID)
}

// Assign runs the full assignment flow for one booking. It is idempotent:
// a booking that is no longer eligible is skipped without mutation.
func (c *Coordinator) Assign(ctx context.Context, bookingID int64) error {
	acquired, err := c.acquire(ctx, store.BookingLockName(bookingID), "booking")
	if err != nil {
		return err
	}
	if !acquired {
		return store.NewError(store.CodeLockTimeout, "booking %d lock not granted within %s", bookingID, lockTimeout)
	}
	defer c.db.ReleaseLock(ctx, store.BookingLockName(bookingID))

	ctx, cancel := context.WithTimeout(ctx, assignDeadline)
	defer cancel()

	now := time.Now()
	b, err := c.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b == nil {
		return store.NewError(store.CodeNotFound, "booking %d not found", bookingID)
	}

	// State re-check under the lock. A booking cancelled or approved since
	// dispatch aborts with no mutation beyond pool cleanup.
	if b.BookingStatus == store.StatusCancel {
		return c.skip(ctx, b, nil, SkipReasonCancelled)
	}
	if b.BookingStatus != store.StatusWaiting || b.InterpreterEmpCode != nil {
		return c.skip(ctx, b, nil, SkipReasonIneligible)
	}
	if b.AutoAssignAt != nil && b.AutoAssignAt.After(now) {
		observability.Decisions.WithLabelValues("skipped", "not_due").Inc()
		return nil
	}

	envID, err := c.EnvironmentFor(ctx, b)
	if err != nil {
		return err
	}
	eff, err := c.policies.Effective(ctx, envID)
	if err != nil {
		return err
	}
	if !eff.AutoAssignEnabled {
		if err := c.db.SetAutoAssignStatus(ctx, b.ID, store.AutoAssignSkipped); err != nil {
			return err
		}
		return c.skip(ctx, b, envID, SkipReasonDisabled)
	}

	corrID := newCorrelationID()
	exclude := make(map[string]bool)

	// One retry with the commit-time loser excluded, then escalate.
	for attempt := 0; attempt < 2; attempt++ {
		dec, err := c.selector.Select(ctx, selection.SelectInput{
			Booking:       b,
			EnvironmentID: envID,
			Policy:        eff,
			Now:           now,
			Exclude:       exclude,
		})
		if err != nil {
			return err
		}

		if dec.Status == selection.DecisionEscalated {
			return c.escalate(ctx, b, envID, dec, corrID)
		}

		committed, err := c.commit(ctx, b, envID, dec, corrID)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		exclude[dec.EmpCode] = true
		c.logger.Warn("commit-time conflict, retrying with next candidate",
			"booking_id", b.ID,
			"interpreter", dec.EmpCode,
			"correlation_id", corrID)
	}

	return c.escalate(ctx, b, envID, &selection.Decision{
		Status: selection.DecisionEscalated,
		Reason: selection.ReasonAllConflict,
	}, corrID)
}

// commit serializes the conflict re-check and the state mutation under the
// interpreter's named lock. Returns false when the candidate gained a
// conflicting booking since selection.
func (c *Coordinator) commit(ctx context.Context, b *store.Booking, envID *int64, dec *selection.Decision, corrID string) (bool, error) {
	lockName := store.InterpreterLockName(dec.EmpCode)
	acquired, err := c.acquire(ctx, lockName, "interpreter")
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, store.NewError(store.CodeLockTimeout, "interpreter %s lock not granted within %s", dec.EmpCode, lockTimeout)
	}
	defer c.db.ReleaseLock(ctx, lockName)

	conflict, conflicting, err := c.selector.Conflicts().HasInterpreterConflict(ctx, dec.EmpCode, b.TimeStart, b.TimeEnd)
	if err != nil {
		return false, err
	}
	if conflict {
		observability.Decisions.WithLabelValues("retry", string(store.CodeInterpreterConflict)).Inc()
		c.logger.Info("conflict appeared between selection and commit",
			"booking_id", b.ID,
			"interpreter", dec.EmpCode,
			"conflicting_booking_id", conflicting.ID)
		return false, nil
	}

	entry := c.logEntry(b, envID, dec, corrID)
	entry.Status = store.LogAssigned
	entry.InterpreterEmpCode = dec.EmpCode

	ok, err := c.db.CommitAssignment(ctx, b.ID, dec.EmpCode, entry)
	if err != nil {
		return false, err
	}
	if !ok {
		// The booking changed state between the eligibility check and the
		// commit guard. Treat as done; nothing to retry.
		observability.Decisions.WithLabelValues("skipped", SkipReasonStateRace).Inc()
		c.logger.Info("booking state changed before commit", "booking_id", b.ID)
		return true, nil
	}

	observability.Decisions.WithLabelValues("assigned", "").Inc()
	c.logger.Info("booking assigned",
		"booking_id", b.ID,
		"interpreter", dec.EmpCode,
		"correlation_id", corrID)
	return true, nil
}

// escalate leaves the booking waiting for admin action and charges one pool
// attempt, so repeated escalations eventually park the entry as failed.
func (c *Coordinator) escalate(ctx context.Context, b *store.Booking, envID *int64, dec *selection.Decision, corrID string) error {
	entry := c.logEntry(b, envID, dec, corrID)
	entry.Status = store.LogEscalated
	entry.Reason = dec.Reason
	c.appendLog(ctx, entry)

	if b.PoolStatus != store.PoolNone {
		attempts, failed, err := c.pool.FailAttempt(ctx, b.ID)
		if err != nil {
			return err
		}
		c.logger.Info("booking escalated",
			"booking_id", b.ID,
			"reason", dec.Reason,
			"attempts", attempts,
			"failed", failed,
			"correlation_id", corrID)
	} else {
		if err := c.db.SetAutoAssignStatus(ctx, b.ID, store.AutoAssignFailed); err != nil {
			return err
		}
		c.logger.Info("booking escalated",
			"booking_id", b.ID,
			"reason", dec.Reason,
			"correlation_id", corrID)
	}

	observability.Decisions.WithLabelValues("escalated", dec.Reason).Inc()
	return nil
}

// skip clears pool state and records a skipped decision.
func (c *Coordinator) skip(ctx context.Context, b *store.Booking, envID *int64, reason string) error {
	if b.PoolStatus != store.PoolNone {
		if err := c.pool.Remove(ctx, b.ID); err != nil {
			return err
		}
	}
	entry := c.logEntry(b, envID, nil, newCorrelationID())
	entry.Status = store.LogSkipped
	entry.Reason = reason
	c.appendLog(ctx, entry)
	observability.Decisions.WithLabelValues("skipped", reason).Inc()
	return nil
}

func (c *Coordinator) logEntry(b *store.Booking, envID *int64, dec *selection.Decision, corrID string) *store.AssignmentLog {
	entry := &store.AssignmentLog{
		BookingID:     b.ID,
		EnvironmentID: envID,
		MeetingType:   b.MeetingType,
		CorrelationID: corrID,
		CreatedAt:     time.Now(),
	}
	if dec != nil {
		entry.PreHoursSnapshot = dec.PreHours
		entry.PostHoursSnapshot = dec.PostHours
		if raw, err := json.Marshal(dec); err == nil {
			entry.Breakdown = raw
		}
	}
	return entry
}

// appendLog persists a log entry; a write failure never fails the
// assignment. Failed entries go to a bounded in-memory buffer and stderr.
func (c *Coordinator) appendLog(ctx context.Context, entry *store.AssignmentLog) {
	err := c.db.AppendAssignmentLog(ctx, entry)
	if err == nil {
		return
	}
	observability.LogWriteFailures.Inc()
	c.logger.Error("assignment log write failed, buffering",
		"booking_id", entry.BookingID,
		"status", entry.Status,
		"error", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.logQueue) >= logBufferCap {
		c.logQueue = c.logQueue[1:]
	}
	c.logQueue = append(c.logQueue, entry)
}

// FlushBufferedLogs retries buffered log entries, keeping the ones that
// still fail.
func (c *Coordinator) FlushBufferedLogs(ctx context.Context) int {
	c.mu.Lock()
	pending := c.logQueue
	c.logQueue = nil
	c.mu.Unlock()

	flushed := 0
	for _, entry := range pending {
		if err := c.db.AppendAssignmentLog(ctx, entry); err != nil {
			c.mu.Lock()
			c.logQueue = append(c.logQueue, entry)
			c.mu.Unlock()
			continue
		}
		flushed++
	}
	return flushed
}

// BufferedLogCount reports how many entries await a flush.
func (c *Coordinator) BufferedLogCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logQueue)
}

func (c *Coordinator) acquire(ctx context.Context, name, kind string) (bool, error) {
	start := time.Now()
	ok, err := c.db.AcquireLock(ctx, name, lockTimeout)
	observability.LockWait.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err == nil && !ok {
		observability.LockTimeouts.WithLabelValues(kind).Inc()
	}
	return ok, err
}

func newCorrelationID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
