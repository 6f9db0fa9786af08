package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/agent"
	"github.com/swarmlayer/corerun/internal/agent/builtin"
	"github.com/swarmlayer/corerun/internal/config"
	"github.com/swarmlayer/corerun/internal/queue"
	"github.com/swarmlayer/corerun/internal/scheduler"
	"github.com/swarmlayer/corerun/internal/store"
)

func newTestOrchestrator(t *testing.T, minAgents, maxAgents int) *Orchestrator {
	t.Helper()
	cfg := config.Default("test-node")
	cfg.MinAgents = minAgents
	cfg.MaxAgents = maxAgents
	cfg.Scaling.AutoScale = false
	cfg.Coordination.HeartbeatInterval = 20 * time.Millisecond
	cfg.Coordination.HeartbeatTimeout = 100 * time.Millisecond
	cfg.Coordination.LeaseTTL = 50 * time.Millisecond

	adapter := store.NewMemoryAdapter()
	return New(cfg, adapter, adapter, adapter, nil)
}

func TestStartSpawnsAtLeastMinAgents(t *testing.T) {
	o := newTestOrchestrator(t, 2, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	state := o.GetState()
	if state.AgentCount < o.cfg.MinAgents {
		t.Fatalf("expected at least %d agents, got %d", o.cfg.MinAgents, state.AgentCount)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t, 1, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer o.Stop()

	first := o.GetState().AgentCount
	if err := o.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second := o.GetState().AgentCount; second != first {
		t.Fatalf("expected a repeated Start to be a no-op, had %d agents then %d", first, second)
	}
}

func TestSpawnRefusesPastMaxAgents(t *testing.T) {
	o := newTestOrchestrator(t, 1, 1)
	ctx := context.Background()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	if _, err := o.SpawnAgent(ctx, builtin.TypeDataIngestion, agent.Config{}); err != ErrMaxAgents {
		t.Fatalf("expected ErrMaxAgents once at capacity, got %v", err)
	}
}

func TestSubmitTaskIsServedByASpawnedAgent(t *testing.T) {
	o := newTestOrchestrator(t, 2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	task := &scheduler.Task{
		ID:                   "t-1",
		Type:                 "ingest",
		Priority:             queue.NORMAL,
		RequiredCapabilities: nil,
		MaxRetries:           1,
	}
	if err := o.SubmitTask(task); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	result, err := o.GetTaskResult("t-1", 2*time.Second)
	if err != nil {
		t.Fatalf("GetTaskResult: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil result from a built-in stub processor")
	}
}

func TestDespawnRemovesAgentFromState(t *testing.T) {
	o := newTestOrchestrator(t, 2, 8)
	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	o.mu.RLock()
	var anyID string
	for id := range o.agents {
		anyID = id
		break
	}
	o.mu.RUnlock()

	before := o.GetState().AgentCount
	o.DespawnAgent(anyID)
	after := o.GetState().AgentCount

	if after != before-1 {
		t.Fatalf("expected agent count to drop by one, got %d -> %d", before, after)
	}
}
