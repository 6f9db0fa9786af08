package queue

import "testing"

func TestDequeueStrictPriority(t *testing.T) {
	q := New()
	q.Enqueue("low-1", LOW)
	q.Enqueue("critical-1", CRITICAL)
	q.Enqueue("normal-1", NORMAL)

	if got := q.Dequeue(); got != "critical-1" {
		t.Fatalf("expected critical-1, got %v", got)
	}
	if got := q.Dequeue(); got != "normal-1" {
		t.Fatalf("expected normal-1, got %v", got)
	}
	if got := q.Dequeue(); got != "low-1" {
		t.Fatalf("expected low-1, got %v", got)
	}
	if got := q.Dequeue(); got != nil {
		t.Fatalf("expected nil on empty queue, got %v", got)
	}
}

func TestDequeueFIFOWithinBand(t *testing.T) {
	q := New()
	q.Enqueue("first", NORMAL)
	q.Enqueue("second", NORMAL)
	q.Enqueue("third", NORMAL)

	for _, want := range []string{"first", "second", "third"} {
		if got := q.Dequeue(); got != want {
			t.Fatalf("expected %s, got %v", want, got)
		}
	}
}

func TestStealScansLowestBandFirstAndTakesTail(t *testing.T) {
	q := New()
	q.Enqueue("normal-old", NORMAL)
	q.Enqueue("normal-new", NORMAL)
	q.Enqueue("low-old", LOW)

	// Steal must prefer the LOW band over NORMAL, and within that band
	// take the tail (most recently enqueued), not the head.
	if got := q.Steal(); got != "low-old" {
		t.Fatalf("expected low-old (only item in lowest non-empty band), got %v", got)
	}
	if got := q.Steal(); got != "normal-new" {
		t.Fatalf("expected normal-new (tail of NORMAL band), got %v", got)
	}
	if got := q.Dequeue(); got != "normal-old" {
		t.Fatalf("expected normal-old to remain for local dequeue, got %v", got)
	}
}

func TestStealNeverTouchesHigherNonEmptyBandIfLowerHasWork(t *testing.T) {
	q := New()
	q.Enqueue("critical-1", CRITICAL)
	q.Enqueue("urgent-1", URGENT)
	q.Enqueue("low-1", LOW)

	if got := q.Steal(); got != "low-1" {
		t.Fatalf("expected low-1 to be stolen first, got %v", got)
	}
	if got := q.Steal(); got != "urgent-1" {
		t.Fatalf("expected urgent-1 next, got %v", got)
	}
}

func TestSizeAndIsEmpty(t *testing.T) {
	q := New()
	if !q.IsEmpty() {
		t.Fatal("expected new queue to be empty")
	}
	q.Enqueue("a", HIGH)
	q.Enqueue("b", LOW)
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
	if q.BandSize(HIGH) != 1 {
		t.Fatalf("expected HIGH band size 1, got %d", q.BandSize(HIGH))
	}
	q.Clear()
	if !q.IsEmpty() {
		t.Fatal("expected queue to be empty after Clear")
	}
}

func TestRemoveMatchingItem(t *testing.T) {
	q := New()
	q.Enqueue("a", NORMAL)
	q.Enqueue("b", NORMAL)
	q.Enqueue("c", NORMAL)

	removed := q.Remove(func(i Item) bool { return i == "b" })
	if !removed {
		t.Fatal("expected Remove to report true")
	}
	if q.Size() != 2 {
		t.Fatalf("expected size 2 after removal, got %d", q.Size())
	}
	if got := q.Dequeue(); got != "a" {
		t.Fatalf("expected a, got %v", got)
	}
	if got := q.Dequeue(); got != "c" {
		t.Fatalf("expected c, got %v", got)
	}
}
