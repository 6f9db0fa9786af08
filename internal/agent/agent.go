// Package agent implements the worker base described in §4.4: a
// processing loop that pulls tasks from the scheduler, honors a
// concurrency cap, records per-task envelopes into the store, and tracks
// running statistics. It is grounded on the teacher's control_plane
// reconciliation worker loop (main.go's worker goroutines) generalized
// from a single fixed reconciliation job to a pluggable Processor.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/observability"
	"github.com/swarmlayer/corerun/internal/queue"
	"github.com/swarmlayer/corerun/internal/scheduler"
	"github.com/swarmlayer/corerun/internal/store"
)

// Processor is the domain hook every concrete agent type implements. It
// is the only part of an agent that knows anything about a task's
// payload; the base never inspects it.
type Processor interface {
	// ProcessTask executes one task and returns its result, or an error.
	ProcessTask(ctx context.Context, task *scheduler.Task) (interface{}, error)
	// Capabilities declares what this agent type can run.
	Capabilities() []string
}

// Stats is the snapshot returned by Agent.Stats (§4.4 accessors).
type Stats struct {
	ID             string
	Type           string
	Role           string
	TasksProcessed int64
	Errors         int64
	AvgLatency     time.Duration
	Utilization    float64
	CurrentTasks   int
}

// Agent is the worker base. Concrete agent types are produced by pairing
// it with a Processor (see the types in internal/agent/builtin).
type Agent struct {
	id            string
	typ           string
	role          string
	proc          Processor
	maxConcurrent int
	namespace     string

	sched *scheduler.Scheduler
	coord *coordination.Coordinator
	st    store.Adapter
	bus   *events.Bus

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	currentTasks   int
	tasksProcessed int64
	errorCount     int64
	avgLatencyNs   float64

	pollInterval time.Duration
	stopGrace    time.Duration
}

// Config holds the tunables for a single Agent instance.
type Config struct {
	ID            string
	Type          string
	Role          string
	MaxConcurrent int
	Namespace     string
	PollInterval  time.Duration
	StopGrace     time.Duration
}

// DefaultConfig fills in the defaults named in §4.4.
func DefaultConfig(id, typ string) Config {
	return Config{
		ID:            id,
		Type:          typ,
		Role:          "worker",
		MaxConcurrent: 4,
		Namespace:     "agent/" + id,
		PollInterval:  20 * time.Millisecond,
		StopGrace:     5 * time.Second,
	}
}

// New builds an Agent around proc, wired to sched/coord/st/bus.
func New(cfg Config, proc Processor, sched *scheduler.Scheduler, coord *coordination.Coordinator, st store.Adapter, bus *events.Bus) *Agent {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Agent{
		id:            cfg.ID,
		typ:           cfg.Type,
		role:          cfg.Role,
		proc:          proc,
		maxConcurrent: cfg.MaxConcurrent,
		namespace:     cfg.Namespace,
		sched:         sched,
		coord:         coord,
		st:            st,
		bus:           bus,
		pollInterval:  cfg.PollInterval,
		stopGrace:     cfg.StopGrace,
	}
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Type() string { return a.typ }
func (a *Agent) Role() string { return a.role }

// Stats returns a snapshot of this agent's running statistics.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	util := 0.0
	if a.maxConcurrent > 0 {
		util = float64(a.currentTasks) / float64(a.maxConcurrent)
	}
	return Stats{
		ID:             a.id,
		Type:           a.typ,
		Role:           a.role,
		TasksProcessed: a.tasksProcessed,
		Errors:         a.errorCount,
		AvgLatency:     time.Duration(a.avgLatencyNs),
		Utilization:    util,
		CurrentTasks:   a.currentTasks,
	}
}

// Utilization reports current/maxConcurrent, used by the scheduler's
// work-stealing loop and the orchestrator's auto-scaler.
func (a *Agent) Utilization() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxConcurrent == 0 {
		return 0
	}
	return float64(a.currentTasks) / float64(a.maxConcurrent)
}

// Start registers with the coordinator and scheduler and begins the
// processing loop. Idempotent.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	a.mu.Unlock()

	caps := a.proc.Capabilities()
	a.sched.RegisterAgent(a.id, caps)
	a.coord.RegisterAgent(a.id, caps)
	a.bus.Emit(events.AgentSpawned, a.id, a.typ)

	a.wg.Add(1)
	go a.loop(loopCtx)

	a.wg.Add(1)
	go a.heartbeatLoop(loopCtx)
}

// heartbeatLoop signals liveness to the coordinator. A fatal, loop-level
// agent failure (the process wedges or dies) is never detected here --
// it is detected by the coordinator's AgentMonitor noticing the absence
// of these heartbeats (§4.4 failure semantics, §8 property 9).
func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.pollInterval * 5)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.coord.Heartbeat(a.id)
		}
	}
}

// Stop waits up to the configured grace for in-flight tasks to finish,
// then unregisters from the scheduler and coordinator. Idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.stopGrace):
	}

	a.sched.UnregisterAgent(a.id)
	a.coord.UnregisterAgent(a.id)
	a.bus.Emit(events.AgentDespawned, a.id, a.typ)
}

func (a *Agent) loop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.mu.Lock()
		busy := a.currentTasks >= a.maxConcurrent
		a.mu.Unlock()
		if busy {
			time.Sleep(a.pollInterval)
			continue
		}

		task, err := a.sched.RequestTask(a.id, a.proc.Capabilities(), queue.LOW)
		if err != nil || task == nil {
			time.Sleep(a.pollInterval)
			continue
		}

		a.mu.Lock()
		a.currentTasks++
		a.mu.Unlock()

		a.wg.Add(1)
		go a.execute(ctx, task)
	}
}

func (a *Agent) execute(ctx context.Context, task *scheduler.Task) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		a.currentTasks--
		a.mu.Unlock()
	}()

	start := time.Now()
	envelopeKey := fmt.Sprintf("%s/task/%s", a.namespace, task.ID)
	a.st.Upsert(ctx, envelopeKey, map[string]interface{}{
		"task_id":    task.ID,
		"agent_id":   a.id,
		"start_time": start,
	}, nil)

	result, err := a.proc.ProcessTask(ctx, task)
	latency := time.Since(start)

	a.recordStats(latency, err != nil)
	observability.TaskLatencySeconds.WithLabelValues(a.id, task.Type).Observe(latency.Seconds())

	if err != nil {
		a.sched.FailTask(task.ID, err)
		return
	}

	resultKey := fmt.Sprintf("%s/result/%s", a.namespace, task.ID)
	a.st.Upsert(ctx, resultKey, map[string]interface{}{
		"result":    result,
		"latency":   latency,
		"timestamp": time.Now(),
	}, nil)
	a.sched.CompleteTask(task.ID, result)
}

// recordStats updates the running mean latency and counters on every
// terminal transition, per §4.4.
func (a *Agent) recordStats(latency time.Duration, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasksProcessed++
	if failed {
		a.errorCount++
	}
	n := float64(a.tasksProcessed)
	a.avgLatencyNs += (float64(latency) - a.avgLatencyNs) / n
}
