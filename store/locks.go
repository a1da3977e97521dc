package store

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// advisoryLocks implements named locks on top of Postgres session advisory
// locks. A session lock is tied to the connection that took it, so each held
// lock pins a dedicated pool connection until release.
type advisoryLocks struct {
	pool *pgxpool.Pool

	mu   sync.Mutex
	held map[string]*pgxpool.Conn
}

func newAdvisoryLocks(pool *pgxpool.Pool) *advisoryLocks {
	return &advisoryLocks{
		pool: pool,
		held: make(map[string]*pgxpool.Conn),
	}
}

// lockKey hashes a lock name into the bigint key space Postgres expects.
func lockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// Acquire polls pg_try_advisory_lock until it succeeds or the timeout
// elapses. Each caller polls on its own connection, so contention inside the
// process is serialized by Postgres exactly like contention across
// processes: the second caller waits for the holder to release. Returns
// false on timeout; the caller surfaces LOCK_TIMEOUT.
func (l *advisoryLocks) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}

	key := lockKey(name)
	deadline := time.Now().Add(timeout)

	for {
		var got bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
			conn.Release()
			return false, err
		}
		if got {
			l.mu.Lock()
			l.held[name] = conn
			l.mu.Unlock()
			return true, nil
		}
		if time.Now().After(deadline) {
			conn.Release()
			return false, nil
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release unlocks and returns the pinned connection to the pool.
func (l *advisoryLocks) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, ok := l.held[name]
	delete(l.held, name)
	l.mu.Unlock()

	if !ok {
		return NewError(CodeInternal, "lock %q not held", name)
	}
	defer conn.Release()

	var released bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, lockKey(name)).Scan(&released); err != nil {
		return err
	}
	if !released {
		return NewError(CodeInternal, "lock %q was not held by its connection", name)
	}
	return nil
}

// Lock name builders shared by the coordinator and admin operations.

// BookingLockName serializes concurrent assignment attempts on one booking.
func BookingLockName(bookingID int64) string {
	return "interpreter-assign:" + strconv.FormatInt(bookingID, 10)
}

// InterpreterLockName serializes conflict-check-then-commit per interpreter.
func InterpreterLockName(empCode string) string {
	return "interpreter:" + empCode
}
