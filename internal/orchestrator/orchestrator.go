// Package orchestrator implements the top-level façade described in §4.5:
// it boots the store/scheduler/coordinator, spawns the initial agent set,
// and drives periodic monitoring, auto-scaling, and adaptive topology
// selection. It is adapted from the teacher's control_plane/reconciler.go
// and main.go wiring -- the same "boot backing services, spawn workers,
// run a monitoring ticker" shape, generalized from a single fixed
// reconciliation worker pool to the spec's heterogeneous, auto-scaled
// agent swarm.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/swarmlayer/corerun/internal/agent"
	"github.com/swarmlayer/corerun/internal/agent/builtin"
	"github.com/swarmlayer/corerun/internal/config"
	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/scheduler"
	"github.com/swarmlayer/corerun/internal/store"
)

// ErrMaxAgents is returned by SpawnAgent once the agent count reaches
// cfg.MaxAgents (§7 "Capacity exceeded").
var ErrMaxAgents = errors.New("orchestrator: max agent count reached")

// State is the observation snapshot returned by GetState (§4.5).
type State struct {
	Topology      coordination.Topology
	AgentCount    int
	QueueDepth    int
	IsLeader      bool
	ConsensusRate float64
	Agents        []agent.Stats
}

// PerformanceMetrics is the snapshot returned by GetPerformanceMetrics
// (§2 "Metrics Collector"): per-agent stats plus swarm-wide aggregates.
type PerformanceMetrics struct {
	Agents             []agent.Stats
	AvgUtilization     float64
	ThroughputPerSec   float64
	AvgLatency         time.Duration
	TaskCompletionRate float64
}

// Orchestrator is the façade from §4.5.
type Orchestrator struct {
	cfg   config.Config
	bus   *events.Bus
	store store.Adapter

	sched *scheduler.Scheduler
	coord *coordination.Coordinator

	mu          sync.RWMutex
	agents      map[string]*agent.Agent
	nextTypeIdx int

	lastScaling time.Time
	topology    coordination.Topology

	ctx       context.Context
	cancel    context.CancelFunc
	monWG     sync.WaitGroup
	startedAt time.Time

	prevCompleted int64
	prevSampled   time.Time
}

// New wires an Orchestrator around the given store adapter st, the lock/lease
// store coord, and the fencing-epoch store epochs. MemoryAdapter satisfies
// all three; cmd/orchestrator pairs a RedisAdapter with either a
// PostgresEpochStore or an in-process MemoryAdapter for epochs.
func New(cfg config.Config, st store.Adapter, coord store.Coordinator, epochs store.DurableEpochStore, bus *events.Bus) *Orchestrator {
	if bus == nil {
		bus = events.New()
	}
	sched := scheduler.New(cfg.Scheduler, bus)
	coordinator := coordination.New(cfg.Coordination, coord, epochs, bus)

	o := &Orchestrator{
		cfg:      cfg,
		bus:      bus,
		store:    st,
		sched:    sched,
		coord:    coordinator,
		agents:   make(map[string]*agent.Agent),
		topology: cfg.Topology,
	}
	sched.SetUtilizationProvider(o.utilizationOf)
	return o
}

// Scheduler exposes the underlying scheduler for callers that need direct
// access (e.g. the dashboard collector).
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }

// Coordinator exposes the underlying coordinator for the same reason.
func (o *Orchestrator) Coordinator() *coordination.Coordinator { return o.coord }

func (o *Orchestrator) utilizationOf(agentID string) float64 {
	o.mu.RLock()
	a, ok := o.agents[agentID]
	o.mu.RUnlock()
	if !ok {
		return 0
	}
	return a.Utilization()
}

// Start is idempotent: starts the coordinator and scheduler, spawns
// max(minAgents, 8) initial agents across the built-in type list, and
// arms the monitoring timer (§4.5).
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.ctx = runCtx
	o.cancel = cancel
	o.startedAt = time.Now()
	o.mu.Unlock()

	o.coord.Start(runCtx)
	o.sched.Start(runCtx)

	initial := o.cfg.MinAgents
	if initial < 8 {
		initial = 8
	}
	if initial > o.cfg.MaxAgents {
		initial = o.cfg.MaxAgents
	}
	for i := 0; i < initial; i++ {
		typ := builtin.All[i%len(builtin.All)]
		if _, err := o.SpawnAgent(runCtx, typ, agent.Config{}); err != nil {
			return fmt.Errorf("orchestrator: initial spawn failed: %w", err)
		}
	}

	o.bus.Subscribe(events.AgentFailed, o.onAgentFailed)

	o.monWG.Add(1)
	go o.monitorLoop(runCtx)

	o.bus.Emit(events.OrchestratorStarted, "orchestrator", nil)
	log.Printf("orchestrator: started with %d agents, topology=%s", initial, o.topology)
	return nil
}

// Stop stops the monitoring timer, stops every agent concurrently, stops
// the scheduler and coordinator, and emits final metrics. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel == nil {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.cancel = nil
	agentsCopy := make([]*agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agentsCopy = append(agentsCopy, a)
	}
	o.mu.Unlock()

	cancel()
	o.monWG.Wait()

	var eg errgroup.Group
	for _, a := range agentsCopy {
		a := a
		eg.Go(func() error {
			a.Stop()
			return nil
		})
	}
	eg.Wait()

	o.sched.Stop()
	o.coord.Stop()

	o.bus.Emit(events.OrchestratorStopped, "orchestrator", o.GetPerformanceMetrics())
	log.Printf("orchestrator: stopped")
}

// SpawnAgent allocates an id, constructs the right agent specialization,
// registers it with the scheduler and coordinator, starts it, and
// recomputes topology (§4.5). Refuses past cfg.MaxAgents.
func (o *Orchestrator) SpawnAgent(ctx context.Context, typ builtin.Type, cfg agent.Config) (*agent.Agent, error) {
	o.mu.Lock()
	if len(o.agents) >= o.cfg.MaxAgents {
		o.mu.Unlock()
		return nil, ErrMaxAgents
	}
	o.mu.Unlock()

	proc, err := builtin.New(typ)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	base := agent.DefaultConfig(id, string(typ))
	if cfg.MaxConcurrent > 0 {
		base.MaxConcurrent = cfg.MaxConcurrent
	}
	if cfg.Role != "" {
		base.Role = cfg.Role
	}

	a := agent.New(base, proc, o.sched, o.coord, o.store, o.bus)

	o.mu.Lock()
	o.agents[id] = a
	o.mu.Unlock()

	a.Start(ctx)
	o.recomputeTopology()
	return a, nil
}

// DespawnAgent stops the agent, removes it, and recomputes topology.
func (o *Orchestrator) DespawnAgent(id string) {
	o.mu.Lock()
	a, ok := o.agents[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.agents, id)
	o.mu.Unlock()

	a.Stop()
	o.recomputeTopology()
}

func (o *Orchestrator) recomputeTopology() {
	o.mu.RLock()
	topo := o.topology
	o.mu.RUnlock()
	o.coord.UpdateTopology(topo)
}

// onAgentFailed implements the §4.5 failure-recovery path: despawn the
// failed agent, and if the active count would fall below minAgents, spawn
// a replacement of the same type (defaulting to "coordination" if the
// failed agent's type is unknown by the time this runs).
func (o *Orchestrator) onAgentFailed(e events.Event) {
	failedID := e.Source
	if failedID == "" {
		return
	}

	o.mu.Lock()
	a, ok := o.agents[failedID]
	var typ string
	if ok {
		typ = a.Type()
	}
	delete(o.agents, failedID)
	remaining := len(o.agents)
	o.mu.Unlock()

	if ok {
		a.Stop()
	}
	o.recomputeTopology()

	if remaining >= o.cfg.MinAgents {
		return
	}
	if typ == "" {
		typ = string(builtin.TypeCoordination)
	}
	if _, err := o.SpawnAgent(o.ctx, builtin.Type(typ), agent.Config{}); err != nil {
		log.Printf("orchestrator: failed to spawn replacement for %s: %v", failedID, err)
	}
}

// SubmitTask is a thin passthrough to the scheduler (§4.5).
func (o *Orchestrator) SubmitTask(t *scheduler.Task) error {
	return o.sched.SubmitTask(t)
}

// SubmitBatch submits every task, stopping at the first error.
func (o *Orchestrator) SubmitBatch(tasks []*scheduler.Task) error {
	for _, t := range tasks {
		if err := o.sched.SubmitTask(t); err != nil {
			return err
		}
	}
	return nil
}

// GetTaskResult is a thin passthrough to the scheduler's WaitForTask.
func (o *Orchestrator) GetTaskResult(id string, timeout time.Duration) (interface{}, error) {
	return o.sched.WaitForTask(id, timeout)
}

// GetState returns an observation snapshot (§4.5).
func (o *Orchestrator) GetState() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	stats := make([]agent.Stats, 0, len(o.agents))
	for _, a := range o.agents {
		stats = append(stats, a.Stats())
	}
	return State{
		Topology:      o.topology,
		AgentCount:    len(o.agents),
		QueueDepth:    o.sched.QueueDepth(),
		IsLeader:      o.coord.IsLeader(),
		ConsensusRate: o.coord.GetConsensusRate(),
		Agents:        stats,
	}
}

// GetPerformanceMetrics returns the Metrics Collector's swarm-wide view
// (§2, §4.5).
func (o *Orchestrator) GetPerformanceMetrics() PerformanceMetrics {
	o.mu.RLock()
	agents := make([]*agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	o.mu.RUnlock()

	var totalUtil, totalLatency float64
	var totalProcessed, totalErrors int64
	stats := make([]agent.Stats, 0, len(agents))
	for _, a := range agents {
		s := a.Stats()
		stats = append(stats, s)
		totalUtil += s.Utilization
		totalLatency += float64(s.AvgLatency)
		totalProcessed += s.TasksProcessed
		totalErrors += s.Errors
	}
	n := float64(len(agents))
	avgUtil, avgLatency := 0.0, time.Duration(0)
	if n > 0 {
		avgUtil = totalUtil / n
		avgLatency = time.Duration(totalLatency / n)
	}

	completionRate := 1.0
	if totalProcessed+totalErrors > 0 {
		completionRate = float64(totalProcessed) / float64(totalProcessed+totalErrors)
	}

	return PerformanceMetrics{
		Agents:             stats,
		AvgUtilization:     avgUtil,
		ThroughputPerSec:   o.throughputPerSec(totalProcessed),
		AvgLatency:         avgLatency,
		TaskCompletionRate: completionRate,
	}
}

// throughputPerSec computes tasks/sec since the previous sample, mutating
// the orchestrator's running sample state; called only from within
// GetPerformanceMetrics / the monitor loop's single goroutine context, but
// guarded anyway since GetPerformanceMetrics may be called concurrently
// by the dashboard.
func (o *Orchestrator) throughputPerSec(totalProcessed int64) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	if o.prevSampled.IsZero() {
		o.prevSampled = now
		o.prevCompleted = totalProcessed
		return 0
	}
	elapsed := now.Sub(o.prevSampled).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(totalProcessed-o.prevCompleted) / elapsed
	o.prevSampled = now
	o.prevCompleted = totalProcessed
	return rate
}
