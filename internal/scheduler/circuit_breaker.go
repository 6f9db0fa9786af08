package scheduler

import (
	"sync"
	"time"
)

// CircuitState is the admission-control state of the scheduler's circuit
// breaker, adapted from the teacher's scheduler/circuit_breaker.go.
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

// circuitBreaker is a supplemented admission gate (SPEC_FULL.md §4):
// beyond the hard maxQueueSize check, it opens on sustained queue-depth or
// saturation pressure and recovers through a half-open probing window.
type circuitBreaker struct {
	mu sync.Mutex

	state CircuitState

	queueThreshold      int
	saturationThreshold float64
	cooldownPeriod      time.Duration

	openedAt  time.Time
	testCount int
	testLimit int
}

func newCircuitBreaker(queueThreshold int) *circuitBreaker {
	return &circuitBreaker{
		state:               CircuitClosed,
		queueThreshold:      queueThreshold,
		saturationThreshold: 0.95,
		cooldownPeriod:      30 * time.Second,
		testLimit:           5,
	}
}

// shouldAdmit reports whether a new task should be accepted given the
// current queue depth and saturation (SubmitTask passes active tasks
// divided by MaxQueueSize).
func (cb *circuitBreaker) shouldAdmit(queueDepth int, saturation float64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) > cb.cooldownPeriod {
		cb.state = CircuitHalfOpen
		cb.testCount = 0
	}

	if cb.state == CircuitHalfOpen {
		if cb.testCount < cb.testLimit {
			cb.testCount++
			return true
		}
		if queueDepth < cb.queueThreshold/2 && saturation < cb.saturationThreshold {
			cb.state = CircuitClosed
			return true
		}
		return false
	}

	if queueDepth > cb.queueThreshold || saturation > cb.saturationThreshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		return false
	}

	return cb.state == CircuitClosed
}

func (cb *circuitBreaker) getState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
