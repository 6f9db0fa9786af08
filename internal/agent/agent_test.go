package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/coordination"
	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/scheduler"
	"github.com/swarmlayer/corerun/internal/store"
)

type echoProcessor struct {
	caps []string
	fail bool
}

func (p *echoProcessor) Capabilities() []string { return p.caps }

func (p *echoProcessor) ProcessTask(_ context.Context, task *scheduler.Task) (interface{}, error) {
	if p.fail {
		return nil, errors.New("boom")
	}
	return task.Payload, nil
}

func newHarness(t *testing.T) (*scheduler.Scheduler, *coordination.Coordinator, store.Adapter, *events.Bus) {
	t.Helper()
	adapter := store.NewMemoryAdapter()
	bus := events.New()
	sched := scheduler.New(scheduler.DefaultConfig(), bus)
	coord := coordination.New(coordination.DefaultConfig("node-1"), adapter, adapter, bus)
	return sched, coord, adapter, bus
}

func TestAgentProcessesSubmittedTask(t *testing.T) {
	sched, coord, st, bus := newHarness(t)
	sched.Start(context.Background())

	a := New(DefaultConfig("a1", "echo"), &echoProcessor{caps: []string{"echo"}}, sched, coord, st, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	if err := sched.SubmitTask(&scheduler.Task{ID: "t1", Type: "echo", Payload: 42, RequiredCapabilities: []string{"echo"}}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	result, err := sched.WaitForTask("t1", time.Second)
	if err != nil {
		t.Fatalf("WaitForTask: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected result 42, got %v", result)
	}

	stats := a.Stats()
	if stats.TasksProcessed != 1 {
		t.Fatalf("expected 1 task processed, got %d", stats.TasksProcessed)
	}
}

func TestAgentFailurePathRetriesViaScheduler(t *testing.T) {
	sched, coord, st, bus := newHarness(t)
	sched.Start(context.Background())

	a := New(DefaultConfig("a1", "echo"), &echoProcessor{caps: []string{"echo"}, fail: true}, sched, coord, st, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	must(t, sched.SubmitTask(&scheduler.Task{ID: "t1", Type: "echo", MaxRetries: 1, RequiredCapabilities: []string{"echo"}}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := sched.GetTask("t1")
		if ok && task.Status == scheduler.StatusFailed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected task to reach terminal failed status")
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
