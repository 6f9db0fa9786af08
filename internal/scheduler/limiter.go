package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// typeLimiter is a per-task-type token bucket, generalized from the
// teacher's TokenBucketLimiter (which keyed on node/tenant id instead of
// task type). It lets submitTask apply admission backpressure to a noisy
// task type without penalizing every other type sharing the queue.
type typeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newTypeLimiter(r float64, b int) *typeLimiter {
	return &typeLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

// reserve checks whether key may proceed immediately; if not it returns
// the delay until it would.
func (l *typeLimiter) reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}

	r := lim.Reserve()
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
