package scheduler

import (
	"time"

	"github.com/swarmlayer/corerun/internal/queue"
)

// Status is a task's position in the state machine from §4.2:
//
//	pending -> assigned -> in_progress -> {completed, failed, cancelled}
//	assigned/in_progress -> pending (retry back-edge)
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status has no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the unit of work from §3's data model: a unique id, a type tag
// agents use to decode their own payload, a priority band, an opaque
// payload the scheduler never inspects, optional required capabilities
// and dependencies, retry bookkeeping, and a status.
type Task struct {
	ID                   string
	Type                 string
	Priority             queue.Priority
	Payload              interface{}
	RequiredCapabilities []string
	Dependencies         []string
	Timeout              time.Duration
	Retries              int
	MaxRetries           int

	Status     Status
	AssignedTo string
	SubmitTime time.Time
	StartedAt  time.Time
	CompletedAt time.Time

	Result interface{}
	Err    error
}

// hasCapabilities reports whether offered is a superset of required.
func hasCapabilities(offered []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(offered))
	for _, c := range offered {
		set[c] = struct{}{}
	}
	for _, need := range required {
		if _, ok := set[need]; !ok {
			return false
		}
	}
	return true
}

// Config holds the scheduler tunables enumerated in §6.
type Config struct {
	WorkStealingEnabled bool
	PriorityLevels      int // informational; the queue always has 5 bands
	MaxQueueSize        int
	StealThreshold      float64
	StealCooldown       time.Duration
	TaskTimeout         time.Duration
	MaxRetries          int

	// LocalQueueCap bounds how many tasks assignTasks pushes into a single
	// agent's local queue per pass (§4.2 "target ~= 10").
	LocalQueueCap int
}

// DefaultConfig returns the defaults named in §4.2/§6.
func DefaultConfig() Config {
	return Config{
		WorkStealingEnabled: true,
		PriorityLevels:      5,
		MaxQueueSize:        10000,
		StealThreshold:      0.3,
		StealCooldown:       100 * time.Millisecond,
		TaskTimeout:         5 * time.Minute,
		MaxRetries:          3,
		LocalQueueCap:       10,
	}
}
