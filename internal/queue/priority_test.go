package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	q := New(2)
	if _, err := q.Enqueue(Medium); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Enqueue(Medium); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Enqueue(Medium); err != ErrQueueFull {
		t.Errorf("Enqueue() at capacity error = %v, want ErrQueueFull", err)
	}
}

func TestDequeuePrefersHigherPriorityClasses(t *testing.T) {
	q := New(10)
	lowHandle, _ := q.Enqueue(Low)
	_ = lowHandle
	_, _ = q.Enqueue(Medium)
	criticalHandle, _ := q.Enqueue(Critical)

	if !q.Dequeue() {
		t.Fatalf("Dequeue() = false, want true")
	}
	select {
	case <-criticalHandle.ticket.ready:
	default:
		t.Errorf("expected CRITICAL ticket to be dequeued first")
	}
}

func TestDequeuePreservesFIFOWithinClass(t *testing.T) {
	q := New(10)
	first, _ := q.Enqueue(Medium)
	second, _ := q.Enqueue(Medium)

	if !q.Dequeue() {
		t.Fatalf("Dequeue() = false, want true")
	}
	select {
	case <-first.ticket.ready:
	default:
		t.Errorf("expected first-enqueued ticket to be dequeued first")
	}
	select {
	case <-second.ticket.ready:
		t.Errorf("second ticket should not be ready yet")
	default:
	}
}

func TestHandleWaitUnblocksOnDequeue(t *testing.T) {
	q := New(10)
	h, err := q.Enqueue(High)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		waitErr = h.Wait(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	if !q.Dequeue() {
		t.Fatalf("Dequeue() = false, want true")
	}
	wg.Wait()
	if waitErr != nil {
		t.Errorf("Wait() error = %v", waitErr)
	}
}

func TestHandleWaitCancelsOnContextDeadline(t *testing.T) {
	q := New(10)
	h, err := q.Enqueue(Low)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := h.Wait(ctx); err != ErrCancelled {
		t.Errorf("Wait() error = %v, want ErrCancelled", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after cancellation removes the ticket", q.Len())
	}
	if q.Dequeue() {
		t.Errorf("Dequeue() should find nothing after the only ticket was cancelled")
	}
}
