package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/swarmlayer/corerun/internal/store"
)

func TestCounterIncrementAndGet(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	ctr := NewCounter(adapter, "tasks-completed")
	ctx := context.Background()

	if v, err := ctr.Get(ctx); err != nil || v != 0 {
		t.Fatalf("expected a fresh counter to read 0, got %d, %v", v, err)
	}

	v, err := ctr.Increment(ctx, 3)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected 3 after incrementing by 3, got %d", v)
	}

	v, err = ctr.Increment(ctx, -1)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected 2 after decrementing by 1, got %d", v)
	}

	if err := ctr.Set(ctx, 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := ctr.Get(ctx); err != nil || v != 10 {
		t.Fatalf("expected Set to pin the counter at 10, got %d, %v", v, err)
	}
}

func TestCountersAreIndependentByName(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	a := NewCounter(adapter, "a")
	b := NewCounter(adapter, "b")
	ctx := context.Background()

	a.Increment(ctx, 5)
	if v, _ := b.Get(ctx); v != 0 {
		t.Fatalf("expected counter b to be unaffected by counter a, got %d", v)
	}
}

func TestDistributedLockMutualExclusion(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	ctx := context.Background()

	l1 := NewDistributedLock(adapter, "leader-slot", "holder-1")
	l2 := NewDistributedLock(adapter, "leader-slot", "holder-2")

	ok, err := l1.TryAcquire(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v, %v", ok, err)
	}

	ok, err = l2.TryAcquire(ctx, time.Second)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire to fail while the lock is held")
	}

	if owner, err := l1.Owner(ctx); err != nil || owner != "holder-1" {
		t.Fatalf("expected holder-1 to own the lock, got %q, %v", owner, err)
	}

	if err := l1.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	ok, err = l2.TryAcquire(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed after release, got %v, %v", ok, err)
	}
}

func TestDistributedLockRenewRequiresOwnership(t *testing.T) {
	adapter := store.NewMemoryAdapter()
	ctx := context.Background()
	l1 := NewDistributedLock(adapter, "lease-slot", "holder-1")
	l2 := NewDistributedLock(adapter, "lease-slot", "holder-2")

	if ok, err := l1.TryAcquire(ctx, time.Second); err != nil || !ok {
		t.Fatalf("TryAcquire: %v, %v", ok, err)
	}

	if ok, _ := l2.Renew(ctx, time.Second); ok {
		t.Fatal("expected renew by a non-owner to fail")
	}
	if ok, err := l1.Renew(ctx, time.Second); err != nil || !ok {
		t.Fatalf("expected renew by the owner to succeed, got %v, %v", ok, err)
	}
}
