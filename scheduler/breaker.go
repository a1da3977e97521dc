package scheduler

import (
	"sync"
	"time"

	"github.com/sssNYz/interpreter-booking/observability"
)

// CircuitState is the admission state of the pass circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops a pass from hammering a failing backend. It opens
// after a run of consecutive booking failures, cools down, then admits a
// small test batch before closing again.
type CircuitBreaker struct {
	mu sync.Mutex

	state        CircuitState
	failures     int
	failLimit    int
	cooldown     time.Duration
	openedAt     time.Time
	testAdmitted int
	testLimit    int
}

// NewCircuitBreaker builds a breaker that opens after failLimit consecutive
// failures.
func NewCircuitBreaker(failLimit int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:     CircuitClosed,
		failLimit: failLimit,
		cooldown:  cooldown,
		testLimit: 3,
	}
}

// Allow reports whether another booking may be processed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) > cb.cooldown {
		cb.state = CircuitHalfOpen
		cb.testAdmitted = 0
		cb.publish()
	}

	switch cb.state {
	case CircuitOpen:
		return false
	case CircuitHalfOpen:
		if cb.testAdmitted < cb.testLimit {
			cb.testAdmitted++
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure run and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.publish()
	}
}

// RecordFailure counts a failure; a run of failures opens the circuit, and
// any failure during half-open re-opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.failLimit {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		cb.failures = 0
		cb.publish()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) publish() {
	observability.CircuitState.Set(float64(cb.state))
}
