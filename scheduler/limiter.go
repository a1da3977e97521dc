package scheduler

import (
	"sync"

	"golang.org/x/time/rate"
)

// envLimiter applies a token-bucket rate limit per environment so one busy
// environment cannot starve the others within a pass.
type envLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newEnvLimiter(r float64, b int) *envLimiter {
	return &envLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// Allow reports whether the environment may process another booking now.
func (l *envLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}
