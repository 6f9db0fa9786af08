// Package scheduler implements the work-stealing scheduler (§4.2): a
// global overflow queue plus one local priority queue per agent,
// dependency gating, retries, and inter-agent stealing. It is adapted
// from the teacher's control_plane/scheduler package -- the admission
// control (circuit breaker, rate limiting), ticker-driven worker loop, and
// structured decision logging all follow the same shape -- generalized
// from FluxForge's reconciliation-task domain to the spec's generic,
// capability-routed, dependency-gated Task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/observability"
	"github.com/swarmlayer/corerun/internal/queue"
)

var (
	// ErrQueueFull is returned by SubmitTask once active tasks reach
	// maxQueueSize (§4.2, §7 "Capacity exceeded").
	ErrQueueFull = errors.New("scheduler: queue is full")
	// ErrCircuitOpen is returned when the supplemented circuit breaker
	// (SPEC_FULL.md §4) is rejecting admission.
	ErrCircuitOpen = errors.New("scheduler: circuit breaker open")
	// ErrUnknownTask is returned by lookups that miss (§7).
	ErrUnknownTask = errors.New("scheduler: unknown task")
	// ErrUnknownAgent is returned by lookups that miss (§7).
	ErrUnknownAgent = errors.New("scheduler: unknown agent")
	// ErrTaskTimeout is returned by WaitForTask on deadline expiry (§7).
	ErrTaskTimeout = errors.New("scheduler: wait for task timed out")
	// ErrNotStarted is returned when the scheduler has not been started.
	ErrNotStarted = errors.New("scheduler: not started")
)

type agentState struct {
	capabilities []string
	queue        *queue.PriorityQueue
	lastSteal    time.Time
}

type waiter struct {
	ch chan waitResult
}

type waitResult struct {
	result interface{}
	err    error
}

// UtilizationFunc reports an agent's current utilization in [0,1], used by
// the work-stealing loop's victim/target selection (§4.2 step 1). The
// scheduler itself only tracks local queue depth; true utilization
// (active/maxConcurrent) is owned by the agent base, so it is injected.
type UtilizationFunc func(agentID string) float64

// Scheduler is the work-stealing scheduler described in §4.2.
type Scheduler struct {
	cfg Config
	bus *events.Bus

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	global *queue.PriorityQueue
	agents map[string]*agentState
	tasks  map[string]*Task

	// pendingDeps[taskID] = set of dependency task ids not yet completed.
	pendingDeps map[string]map[string]struct{}
	// dependents[depID] = task ids blocked on depID.
	dependents map[string][]string

	waiters map[string][]*waiter

	cb          *circuitBreaker
	typeLimiter *typeLimiter

	utilization UtilizationFunc
}

// New constructs a Scheduler. It does not start any background loop until
// Start is called.
func New(cfg Config, bus *events.Bus) *Scheduler {
	if cfg.LocalQueueCap <= 0 {
		cfg.LocalQueueCap = 10
	}
	return &Scheduler{
		cfg:         cfg,
		bus:         bus,
		global:      queue.New(),
		agents:      make(map[string]*agentState),
		tasks:       make(map[string]*Task),
		pendingDeps: make(map[string]map[string]struct{}),
		dependents:  make(map[string][]string),
		waiters:     make(map[string][]*waiter),
		cb:          newCircuitBreaker(cfg.MaxQueueSize),
		typeLimiter: newTypeLimiter(50, 20),
	}
}

// SetUtilizationProvider injects the agent-utilization source used by the
// work-stealing loop. Without one, local queue depth is used as a proxy.
func (s *Scheduler) SetUtilizationProvider(fn UtilizationFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utilization = fn
}

// Start begins the work-stealing ticker loop. Idempotent (§8 property 7).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	if s.cfg.WorkStealingEnabled {
		go s.stealLoop(ctx)
	}
}

// Stop halts the scheduler. Every task in {pending, assigned, in_progress}
// transitions to cancelled and every waiter is rejected. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil

	var toNotify []string
	for id, t := range s.tasks {
		if !t.Status.Terminal() {
			t.Status = StatusCancelled
			t.CompletedAt = time.Now()
			toNotify = append(toNotify, id)
		}
	}
	s.global.Clear()
	for _, a := range s.agents {
		a.queue.Clear()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, id := range toNotify {
		s.rejectWaiters(id, errors.New("scheduler stopped"))
		s.bus.Emit(events.TaskCancelled, "scheduler", id)
	}
}

// RegisterAgent adds an empty local queue for agentID with the given
// capability set. Idempotent.
func (s *Scheduler) RegisterAgent(agentID string, capabilities []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agentID]; ok {
		s.agents[agentID].capabilities = capabilities
		return
	}
	s.agents[agentID] = &agentState{capabilities: capabilities, queue: queue.New()}
}

// UnregisterAgent drains the agent's local queue back into the global
// queue, resetting each task to pending with no assignee.
func (s *Scheduler) UnregisterAgent(agentID string) {
	s.mu.Lock()
	a, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.agents, agentID)

	for {
		item := a.queue.Dequeue()
		if item == nil {
			break
		}
		t := item.(*Task)
		t.Status = StatusPending
		t.AssignedTo = ""
		s.global.Enqueue(t, t.Priority)
	}
	s.mu.Unlock()

	s.triggerAssign()
}

// SubmitTask enqueues task, applying defaults and admission control.
func (s *Scheduler) SubmitTask(t *Task) error {
	s.mu.Lock()

	active := 0
	for _, task := range s.tasks {
		if !task.Status.Terminal() {
			active++
		}
	}
	if active >= s.cfg.MaxQueueSize {
		s.mu.Unlock()
		observability.SchedulerRejections.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}

	saturation := float64(active) / float64(maxInt(s.cfg.MaxQueueSize, 1))
	if !s.cb.shouldAdmit(s.global.Size(), saturation) {
		s.mu.Unlock()
		observability.SchedulerRejections.WithLabelValues("circuit_open").Inc()
		observability.CircuitState.Set(float64(s.cb.getState()))
		return ErrCircuitOpen
	}

	if allowed, _ := s.typeLimiter.reserve(t.Type); !allowed {
		s.mu.Unlock()
		observability.SchedulerRejections.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("scheduler: task type %s rate limited", t.Type)
	}

	if t.MaxRetries == 0 {
		t.MaxRetries = s.cfg.MaxRetries
	}
	if t.Timeout == 0 {
		t.Timeout = s.cfg.TaskTimeout
	}
	if t.SubmitTime.IsZero() {
		t.SubmitTime = time.Now()
	}
	t.Status = StatusPending

	s.tasks[t.ID] = t

	unresolved := s.unresolvedDeps(t)
	if len(unresolved) > 0 {
		depset := make(map[string]struct{}, len(unresolved))
		for _, d := range unresolved {
			depset[d] = struct{}{}
			s.dependents[d] = append(s.dependents[d], t.ID)
		}
		s.pendingDeps[t.ID] = depset
		s.mu.Unlock()
		s.bus.Emit(events.TaskSubmitted, "scheduler", t.ID)
		return nil
	}

	s.global.Enqueue(t, t.Priority)
	s.mu.Unlock()

	observability.QueueDepth.WithLabelValues(t.Priority.String(), "global").Inc()
	s.bus.Emit(events.TaskSubmitted, "scheduler", t.ID)
	s.triggerAssign()
	return nil
}

// unresolvedDeps must be called with s.mu held.
func (s *Scheduler) unresolvedDeps(t *Task) []string {
	var unresolved []string
	for _, dep := range t.Dependencies {
		dt, ok := s.tasks[dep]
		if !ok || dt.Status != StatusCompleted {
			unresolved = append(unresolved, dep)
		}
	}
	return unresolved
}

// RequestTask implements the 3-step search order from §4.2: the agent's
// local queue, then the global queue, then (if enabled) one steal
// attempt. A task is only returned if agentCapabilities is a superset of
// its required capabilities; otherwise it is put back where it came from.
func (s *Scheduler) RequestTask(agentID string, capabilities []string, maxPriority queue.Priority) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, ErrUnknownAgent
	}

	// 1. Local queue.
	if item := a.queue.Dequeue(); item != nil {
		t := item.(*Task)
		if t.Priority <= maxPriority && hasCapabilities(capabilities, t.RequiredCapabilities) {
			return s.dispatch(t, agentID), nil
		}
		a.queue.Enqueue(t, t.Priority)
	}

	// 2. Global queue.
	if item := s.global.Dequeue(); item != nil {
		t := item.(*Task)
		if t.Priority <= maxPriority && hasCapabilities(capabilities, t.RequiredCapabilities) {
			t.AssignedTo = agentID
			return s.dispatch(t, agentID), nil
		}
		s.global.Enqueue(t, t.Priority)
		return nil, nil
	}

	// 3. One-shot steal.
	if !s.cfg.WorkStealingEnabled {
		return nil, nil
	}
	for otherID, other := range s.agents {
		if otherID == agentID {
			continue
		}
		item := other.queue.Steal()
		if item == nil {
			continue
		}
		t := item.(*Task)
		if t.Priority <= maxPriority && hasCapabilities(capabilities, t.RequiredCapabilities) {
			t.AssignedTo = agentID
			s.bus.Emit(events.TaskStolen, "scheduler", t.ID)
			return s.dispatch(t, agentID), nil
		}
		other.queue.Enqueue(t, t.Priority)
		return nil, nil
	}
	return nil, nil
}

// dispatch must be called with s.mu held. It transitions t to in_progress.
func (s *Scheduler) dispatch(t *Task, agentID string) *Task {
	t.Status = StatusInProgress
	t.AssignedTo = agentID
	t.StartedAt = time.Now()
	observability.SchedulerDecisions.WithLabelValues("dispatch", "").Inc()
	logTaskEvent("dispatch", agentID, t.ID)
	return t
}

// CompleteTask records the result, marks the task completed, notifies
// waiters, and promotes any dependents whose dependency set is now empty.
func (s *Scheduler) CompleteTask(id string, result interface{}) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = time.Now()

	ready := s.resolveDependents(id)
	s.mu.Unlock()

	observability.TaskTerminal.WithLabelValues("completed").Inc()
	s.resolveWaiters(id, waitResult{result: result})
	s.bus.Emit(events.TaskCompleted, "scheduler", id)

	if len(ready) > 0 {
		s.triggerAssign()
	}
	return nil
}

// resolveDependents must be called with s.mu held. It removes id from
// every dependent's pending-dependency set and promotes any dependent
// whose set becomes empty into the global queue.
func (s *Scheduler) resolveDependents(id string) []string {
	var ready []string
	for _, depID := range s.dependents[id] {
		set, ok := s.pendingDeps[depID]
		if !ok {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(s.pendingDeps, depID)
			if t, ok := s.tasks[depID]; ok && t.Status == StatusPending {
				s.global.Enqueue(t, t.Priority)
				ready = append(ready, depID)
			}
		}
	}
	delete(s.dependents, id)
	return ready
}

// FailTask increments the retry counter. If retries remain, the task is
// returned to the global queue as pending; otherwise it is terminally
// failed and waiters are rejected (§4.2, §7).
//
// Per the open question in §9 (failed dependencies do not auto-cancel
// dependents): dependents of a permanently failed task remain blocked.
// This is the documented, deliberate choice recorded in DESIGN.md.
func (s *Scheduler) FailTask(id string, taskErr error) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}

	// Checked before incrementing: MaxRetries=2 permits 3 total attempts
	// (the initial attempt plus 2 retries), per §8 scenario S4, while
	// keeping retries <= maxRetries true at every observation (§3, §8
	// property 2).
	if t.Retries < t.MaxRetries {
		t.Retries++
		observability.TaskRetries.Inc()
		t.Status = StatusPending
		t.AssignedTo = ""
		s.global.Enqueue(t, t.Priority)
		s.mu.Unlock()

		observability.SchedulerDecisions.WithLabelValues("retry", "").Inc()
		logTaskEvent("retry", taskErr.Error(), id)
		s.bus.Emit(events.TaskRetrying, "scheduler", id)
		return nil
	}

	t.Status = StatusFailed
	t.Err = taskErr
	t.CompletedAt = time.Now()
	s.mu.Unlock()

	observability.TaskTerminal.WithLabelValues("failed").Inc()
	logTaskEvent("fail", taskErr.Error(), id)
	s.resolveWaiters(id, waitResult{err: taskErr})
	s.bus.Emit(events.TaskFailed, "scheduler", id)
	return nil
}

// WaitForTask returns the stored result once id reaches completed, raises
// the stored error once it reaches failed, or returns ErrTaskTimeout after
// timeout elapses. A timeout rejects only this waiter; the task itself is
// untouched (§5 cancellation/timeouts).
func (s *Scheduler) WaitForTask(id string, timeout time.Duration) (interface{}, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownTask
	}
	switch t.Status {
	case StatusCompleted:
		s.mu.Unlock()
		return t.Result, nil
	case StatusFailed:
		s.mu.Unlock()
		return nil, t.Err
	case StatusCancelled:
		s.mu.Unlock()
		return nil, errors.New("scheduler: task cancelled")
	}

	w := &waiter{ch: make(chan waitResult, 1)}
	s.waiters[id] = append(s.waiters[id], w)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.result, res.err
	case <-timer.C:
		s.removeWaiter(id, w)
		return nil, ErrTaskTimeout
	}
}

func (s *Scheduler) removeWaiter(id string, target *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.waiters[id]
	for i, w := range ws {
		if w == target {
			s.waiters[id] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) resolveWaiters(id string, res waitResult) {
	s.mu.Lock()
	ws := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	for _, w := range ws {
		w.ch <- res
	}
}

func (s *Scheduler) rejectWaiters(id string, err error) {
	s.resolveWaiters(id, waitResult{err: err})
}

// GetTask returns a copy of the task record, or false if unknown.
func (s *Scheduler) GetTask(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// QueueDepth returns the size of the global overflow queue.
func (s *Scheduler) QueueDepth() int {
	return s.global.Size()
}

// AgentQueueDepth returns the size of a single agent's local queue.
func (s *Scheduler) AgentQueueDepth(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return 0
	}
	return a.queue.Size()
}

// triggerAssign runs one assignment pass (§4.2 "assignTasks").
func (s *Scheduler) triggerAssign() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignTasksLocked()
}

// assignTasksLocked walks agents in ascending local-queue-size order. For
// each, while the global queue is non-empty and the agent's local queue
// is under cap, it pops from the global queue; capable agents get the
// task pushed to their local queue (assigned), incapable agents get it
// put back and the scheduler moves on to the next agent.
func (s *Scheduler) assignTasksLocked() {
	if len(s.agents) == 0 {
		return
	}
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.agents[ids[i]].queue.Size() < s.agents[ids[j]].queue.Size()
	})

	for _, id := range ids {
		a := s.agents[id]
		for a.queue.Size() < s.cfg.LocalQueueCap && s.global.Size() > 0 {
			item := s.global.Dequeue()
			if item == nil {
				break
			}
			t := item.(*Task)
			if hasCapabilities(a.capabilities, t.RequiredCapabilities) {
				t.Status = StatusAssigned
				t.AssignedTo = id
				a.queue.Enqueue(t, t.Priority)
				continue
			}
			s.global.Enqueue(t, t.Priority)
			break
		}
	}
}

// stealLoop runs the work-stealing ticker (§4.2): on each tick, find idle
// victims and overloaded targets, and migrate one task per victim.
func (s *Scheduler) stealLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StealCooldown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stealTick()
		}
	}
}

func (s *Scheduler) stealTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var victims, targets []string
	for id, a := range s.agents {
		util := s.utilizationOf(id, a)
		if util < s.cfg.StealThreshold && now.Sub(a.lastSteal) > s.cfg.StealCooldown {
			victims = append(victims, id)
		}
		if util > 0.8 && a.queue.Size() > 5 {
			targets = append(targets, id)
		}
	}

	for _, victimID := range victims {
		victim := s.agents[victimID]
		for _, targetID := range targets {
			if targetID == victimID {
				continue
			}
			target := s.agents[targetID]
			item := target.queue.Steal()
			if item == nil {
				continue
			}
			t := item.(*Task)
			if !hasCapabilities(victim.capabilities, t.RequiredCapabilities) {
				target.queue.Enqueue(t, t.Priority)
				continue
			}
			t.AssignedTo = victimID
			victim.queue.Enqueue(t, t.Priority)
			victim.lastSteal = now
			observability.StealEvents.WithLabelValues(victimID, targetID).Inc()
			s.bus.Emit(events.TaskStolen, "scheduler", t.ID)
			break
		}
	}
}

func (s *Scheduler) utilizationOf(agentID string, a *agentState) float64 {
	if s.utilization != nil {
		return s.utilization(agentID)
	}
	// Proxy: local queue depth relative to the assignment cap.
	return float64(a.queue.Size()) / float64(maxInt(s.cfg.LocalQueueCap, 1))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func logTaskEvent(decision, reason, taskID string) {
	log.Printf(`{"component":"scheduler","decision":%q,"reason":%q,"task_id":%q}`, decision, reason, taskID)
}
