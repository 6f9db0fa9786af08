package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/queue"
)

func newTestScheduler() *Scheduler {
	cfg := DefaultConfig()
	cfg.StealCooldown = 10 * time.Millisecond
	return New(cfg, events.New())
}

func TestSubmitAndRequestHonorsPriority(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)

	must(t, s.SubmitTask(&Task{ID: "low", Priority: queue.LOW}))
	must(t, s.SubmitTask(&Task{ID: "crit", Priority: queue.CRITICAL}))
	must(t, s.SubmitTask(&Task{ID: "normal", Priority: queue.NORMAL}))

	got, err := s.RequestTask("a1", nil, queue.LOW)
	if err != nil {
		t.Fatalf("RequestTask: %v", err)
	}
	if got == nil || got.ID != "crit" {
		t.Fatalf("expected crit task first, got %+v", got)
	}
}

func TestDependencyGatePreventsPrematureDispatch(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)

	must(t, s.SubmitTask(&Task{ID: "base"}))
	must(t, s.SubmitTask(&Task{ID: "dependent", Dependencies: []string{"base"}}))

	// dependent must never be returned before base completes.
	got, err := s.RequestTask("a1", nil, queue.LOW)
	if err != nil {
		t.Fatalf("RequestTask: %v", err)
	}
	if got != nil && got.ID == "dependent" {
		t.Fatalf("dependent dispatched before its dependency completed")
	}
	if got != nil {
		must(t, s.CompleteTask(got.ID, nil))
	}

	got, err = s.RequestTask("a1", nil, queue.LOW)
	if err != nil {
		t.Fatalf("RequestTask: %v", err)
	}
	if got == nil || got.ID != "dependent" {
		t.Fatalf("expected dependent to become available after base completed, got %+v", got)
	}
}

func TestFailTaskRetriesThenGivesUp(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)

	must(t, s.SubmitTask(&Task{ID: "flaky", MaxRetries: 2}))

	// §8 scenario S4: maxRetries=2 means 3 total attempts (initial + 2
	// retries). The first two failures must return the task to pending;
	// only the third is terminal.
	for i := 0; i < 2; i++ {
		got, err := s.RequestTask("a1", nil, queue.LOW)
		if err != nil || got == nil {
			t.Fatalf("RequestTask attempt %d: got=%+v err=%v", i, got, err)
		}
		must(t, s.FailTask(got.ID, errors.New("boom")))

		task, ok := s.GetTask("flaky")
		if !ok {
			t.Fatal("task disappeared")
		}
		if task.Status != StatusPending {
			t.Fatalf("expected task pending between retries (attempt %d), got %s", i, task.Status)
		}
	}

	got, err := s.RequestTask("a1", nil, queue.LOW)
	if err != nil || got == nil {
		t.Fatalf("RequestTask attempt 3: got=%+v err=%v", got, err)
	}
	must(t, s.FailTask(got.ID, errors.New("boom")))

	task, ok := s.GetTask("flaky")
	if !ok {
		t.Fatal("task disappeared")
	}
	if task.Status != StatusFailed {
		t.Fatalf("expected task to be terminally failed after 3 total attempts, got %s", task.Status)
	}
	if task.Retries != task.MaxRetries {
		t.Fatalf("expected retries to equal maxRetries (%d) at the terminal observation, got %d", task.MaxRetries, task.Retries)
	}
}

func TestRequestTaskRejectsIncapableAgentAndPutsTaskBack(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("plain", nil)

	must(t, s.SubmitTask(&Task{ID: "needs-gpu", RequiredCapabilities: []string{"gpu"}}))

	got, err := s.RequestTask("plain", nil, queue.LOW)
	if err != nil {
		t.Fatalf("RequestTask: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no task for an incapable agent, got %+v", got)
	}
	if s.QueueDepth() != 1 {
		t.Fatalf("expected task to be put back in the global queue, depth=%d", s.QueueDepth())
	}
}

func TestWaitForTaskReturnsResultOnCompletion(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)
	must(t, s.SubmitTask(&Task{ID: "t1"}))

	done := make(chan struct{})
	var gotResult interface{}
	var gotErr error
	go func() {
		gotResult, gotErr = s.WaitForTask("t1", time.Second)
		close(done)
	}()

	got, err := s.RequestTask("a1", nil, queue.LOW)
	must(t, err)
	if got == nil {
		t.Fatal("expected a task")
	}
	must(t, s.CompleteTask(got.ID, "done"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForTask did not return")
	}
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotResult != "done" {
		t.Fatalf("expected result %q, got %v", "done", gotResult)
	}
}

func TestWaitForTaskTimesOut(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)
	must(t, s.SubmitTask(&Task{ID: "t1"}))

	_, err := s.WaitForTask("t1", 10*time.Millisecond)
	if !errors.Is(err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
}

func TestStealMovesWorkFromOverloadedToIdleAgent(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("busy", nil)
	s.RegisterAgent("idle", nil)
	s.SetUtilizationProvider(func(id string) float64 {
		if id == "busy" {
			return 0.95
		}
		return 0.0
	})

	for i := 0; i < 8; i++ {
		must(t, s.SubmitTask(&Task{ID: "t" + string(rune('a'+i)), AssignedTo: ""}))
	}
	// Force all tasks into busy's local queue directly to simulate load.
	s.mu.Lock()
	busy := s.agents["busy"]
	for {
		item := s.global.Dequeue()
		if item == nil {
			break
		}
		busy.queue.Enqueue(item, item.(*Task).Priority)
	}
	idle := s.agents["idle"]
	for {
		item := idle.queue.Dequeue()
		if item == nil {
			break
		}
		busy.queue.Enqueue(item, item.(*Task).Priority)
	}
	s.mu.Unlock()

	s.stealTick()

	if s.AgentQueueDepth("idle") == 0 {
		t.Fatalf("expected stealTick to migrate at least one task to the idle agent")
	}
}

func TestStopCancelsOutstandingTasks(t *testing.T) {
	s := newTestScheduler()
	s.RegisterAgent("a1", nil)
	must(t, s.SubmitTask(&Task{ID: "t1"}))
	s.Start(context.Background())

	s.Stop()

	task, ok := s.GetTask("t1")
	if !ok || task.Status != StatusCancelled {
		t.Fatalf("expected t1 cancelled after Stop, got %+v ok=%v", task, ok)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
