// Package scheduler drives assignment passes: it wakes on an interval,
// gathers due and pooled bookings, and fans them out to a bounded worker
// pool. Exactly one pass runs at a time per process.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sssNYz/interpreter-booking/observability"
	"github.com/sssNYz/interpreter-booking/pool"
	"github.com/sssNYz/interpreter-booking/store"
)

// Pass kinds, recorded on every pass metric and log line.
const (
	PassStartup  = "startup"
	PassInterval = "interval"
	PassManual   = "manual"
)

// ErrPassInProgress is returned when RunPass is called while another pass
// holds the per-process pass slot.
var ErrPassInProgress = errors.New("assignment pass already in progress")

// Assigner processes one booking end to end. The scheduler classifies the
// returned error: transient failures are retried through the pool, hard
// failures park the booking as failed for admin attention.
type Assigner interface {
	Assign(ctx context.Context, bookingID int64) error
}

// EnvKeyFunc maps a booking to its environment label for rate limiting.
// Unresolvable bookings share the "global" bucket.
type EnvKeyFunc func(ctx context.Context, b *store.Booking) string

// Config tunes the scheduler. Zero values take the defaults below.
type Config struct {
	Interval time.Duration // pass interval, default 30s
	Workers  int           // concurrent bookings per pass, default 4
	Horizon  time.Duration // how far ahead a booking may start, default 90 days

	EnvRatePerSecond float64 // per-environment processing rate, default 5
	EnvBurst         int     // per-environment burst, default 2

	BreakerFailLimit int           // consecutive failures before the circuit opens, default 5
	BreakerCooldown  time.Duration // open-circuit cooldown, default 30s
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Horizon <= 0 {
		c.Horizon = 90 * 24 * time.Hour
	}
	if c.EnvRatePerSecond <= 0 {
		c.EnvRatePerSecond = 5
	}
	if c.EnvBurst <= 0 {
		c.EnvBurst = 2
	}
	if c.BreakerFailLimit <= 0 {
		c.BreakerFailLimit = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Scheduler owns the pass loop.
type Scheduler struct {
	cfg      Config
	db       store.Store
	pool     *pool.Pool
	assigner Assigner
	envKey   EnvKeyFunc
	limiter  *envLimiter
	breaker  *CircuitBreaker
	logger   *slog.Logger

	running atomic.Bool

	// stamp, when set, records the completion time of each pass (dashboard
	// convenience, never authoritative).
	stamp func(context.Context, time.Time)
}

// SetLastPassStamp installs an optional pass-completion callback.
func (s *Scheduler) SetLastPassStamp(fn func(context.Context, time.Time)) {
	s.stamp = fn
}

// New builds a scheduler.
func New(cfg Config, db store.Store, p *pool.Pool, assigner Assigner, envKey EnvKeyFunc, logger *slog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		pool:     p,
		assigner: assigner,
		envKey:   envKey,
		limiter:  newEnvLimiter(cfg.EnvRatePerSecond, cfg.EnvBurst),
		breaker:  NewCircuitBreaker(cfg.BreakerFailLimit, cfg.BreakerCooldown),
		logger:   logger.With("component", "scheduler"),
	}
}

// Start runs a startup pass, then ticks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.RunPass(ctx, PassStartup); err != nil && !errors.Is(err, ErrPassInProgress) {
			s.logger.Error("startup pass failed", "error", err)
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.RunPass(ctx, PassInterval)
				if err != nil && !errors.Is(err, ErrPassInProgress) {
					s.logger.Error("interval pass failed", "error", err)
				}
			}
		}
	}()
}

// RunPass executes one full assignment pass. Only one pass runs at a time;
// concurrent callers get ErrPassInProgress.
func (s *Scheduler) RunPass(ctx context.Context, kind string) error {
	if !s.running.CompareAndSwap(false, true) {
		observability.PassRuns.WithLabelValues(kind, "skipped").Inc()
		return ErrPassInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() {
		observability.PassDuration.Observe(time.Since(start).Seconds())
	}()

	now := time.Now()

	recovered, err := s.pool.RecoverStuck(ctx, now)
	if err != nil {
		observability.PassRuns.WithLabelValues(kind, "error").Inc()
		return err
	}
	if recovered > 0 {
		observability.PoolRecovered.Add(float64(recovered))
	}

	work, err := s.gather(ctx, now)
	if err != nil {
		observability.PassRuns.WithLabelValues(kind, "error").Inc()
		return err
	}
	s.updatePoolGauges(ctx)

	if len(work) == 0 {
		observability.PassRuns.WithLabelValues(kind, "ok").Inc()
		return nil
	}

	s.logger.Info("pass started",
		"kind", kind,
		"bookings", len(work),
		"recovered", recovered)

	jobs := make(chan *store.Booking)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				s.process(ctx, b)
			}
		}()
	}

dispatch:
	for _, b := range work {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- b:
		}
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("pass finished", "kind", kind, "elapsed", time.Since(start))
	observability.PassRuns.WithLabelValues(kind, "ok").Inc()
	if s.stamp != nil {
		s.stamp(ctx, time.Now())
	}
	return ctx.Err()
}

// gather merges bookings whose auto-assign time has arrived with pool
// entries whose window has opened, deduplicated by booking id.
func (s *Scheduler) gather(ctx context.Context, now time.Time) ([]*store.Booking, error) {
	due, err := s.db.ListAssignableBookings(ctx, now, s.cfg.Horizon)
	if err != nil {
		return nil, err
	}
	ready, err := s.pool.Ready(ctx, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(due)+len(ready))
	var work []*store.Booking
	for _, b := range append(due, ready...) {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		work = append(work, b)
	}
	return work, nil
}

// process runs one booking through the limiter, breaker, pool claim, and
// assigner. Failures feed the breaker and the pool's attempt budget.
func (s *Scheduler) process(ctx context.Context, b *store.Booking) {
	if !s.breaker.Allow() {
		observability.Decisions.WithLabelValues("skipped", "circuit_open").Inc()
		return
	}

	env := s.envKey(ctx, b)
	if !s.limiter.Allow(env) {
		observability.EnvThrottled.WithLabelValues(env).Inc()
		return
	}

	// Pooled entries need a claim so only one worker touches the booking;
	// unpooled due bookings are guarded by the coordinator's named lock.
	if b.PoolStatus == store.PoolWaiting || b.PoolStatus == store.PoolReady {
		claimed, err := s.pool.MarkProcessing(ctx, b.ID, time.Now())
		if err != nil {
			s.logger.Error("pool claim failed", "booking_id", b.ID, "error", err)
			s.breaker.RecordFailure()
			return
		}
		if !claimed {
			return
		}
	}

	start := time.Now()
	err := s.assigner.Assign(ctx, b.ID)
	observability.AssignLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		s.breaker.RecordSuccess()
		return
	}

	s.breaker.RecordFailure()
	pooled := b.PoolStatus == store.PoolWaiting || b.PoolStatus == store.PoolReady
	if store.IsTransient(err) {
		observability.Decisions.WithLabelValues("failed", "transient").Inc()
		if !pooled {
			// An untracked booking keeps autoAssignStatus pending and is
			// retried through its auto-assign time on the next pass.
			s.logger.Warn("booking deferred after transient failure",
				"booking_id", b.ID,
				"error", err)
			return
		}
		attempts, failed, ferr := s.pool.FailAttempt(ctx, b.ID)
		if ferr != nil {
			s.logger.Error("attempt bookkeeping failed", "booking_id", b.ID, "error", ferr)
			return
		}
		s.logger.Warn("booking deferred after transient failure",
			"booking_id", b.ID,
			"attempts", attempts,
			"failed", failed,
			"error", err)
		return
	}

	s.logger.Error("assignment failed", "booking_id", b.ID, "error", err)
	observability.Decisions.WithLabelValues("failed", string(store.CodeOf(err))).Inc()
	if pooled {
		if ferr := s.pool.Fail(ctx, b.ID); ferr != nil {
			s.logger.Error("pool bookkeeping failed", "booking_id", b.ID, "error", ferr)
		}
		return
	}
	if ferr := s.db.SetAutoAssignStatus(ctx, b.ID, store.AutoAssignFailed); ferr != nil {
		s.logger.Error("status update failed", "booking_id", b.ID, "error", ferr)
	}
}

func (s *Scheduler) updatePoolGauges(ctx context.Context) {
	for _, st := range []store.PoolStatus{store.PoolWaiting, store.PoolReady, store.PoolProcessing, store.PoolFailed} {
		entries, err := s.db.ListPoolEntries(ctx, st)
		if err != nil {
			return
		}
		observability.PoolDepth.WithLabelValues(string(st)).Set(float64(len(entries)))
	}
}
