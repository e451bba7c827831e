package gojob

import (
	"context"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

type queueClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *queueClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *queueClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue() (*MemoryQueue, *queueClock) {
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue()
	q.now = clock.Now
	return q, clock
}

func TestMemoryQueue_DropsDuplicateKeysUntilSettled(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue()
	msg := &job.ExecutionMessage{JobID: JobIDEventDispatch, IdempotencyKey: "dispatch", DedupPolicy: dedupPolicyDrop}

	for range 3 {
		if err := q.Enqueue(ctx, msg); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("expected duplicates to be dropped, queue len=%d", q.Len())
	}

	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue in flight: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected in-flight key to keep dropping duplicates")
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := delivery.Ack(ctx); err == nil {
		t.Fatalf("expected second ack to fail")
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		t.Fatalf("enqueue after ack: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected key to be accepted after ack, queue len=%d", q.Len())
	}
}

func TestMemoryQueue_RequeueHonoursDelayAndCountsAttempts(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue()
	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDMandateSettle}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got := first.(*memoryDelivery).Attempt(); got != 1 {
		t.Fatalf("expected first attempt, got %d", got)
	}
	if err := first.Nack(ctx, queue.NackOptions{Requeue: true, Delay: time.Minute}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected delayed message to stay queued")
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(shortCtx); err == nil {
		t.Fatalf("expected delayed message to be unavailable")
	}

	clock.Advance(time.Minute)
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after delay: %v", err)
	}
	if got := second.(*memoryDelivery).Attempt(); got != 2 {
		t.Fatalf("expected second attempt, got %d", got)
	}
}

func TestMemoryQueue_DeadLetter(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue()
	if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: JobIDMandateSettle, IdempotencyKey: "digest"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "bad"}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].JobID != JobIDMandateSettle {
		t.Fatalf("expected dead-lettered message, got %+v", dead)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestMemoryQueue_RejectsMissingJobID(t *testing.T) {
	q, _ := newTestQueue()
	if err := q.Enqueue(context.Background(), &job.ExecutionMessage{}); err == nil {
		t.Fatalf("expected missing job id error")
	}
	if err := q.Enqueue(context.Background(), nil); err == nil {
		t.Fatalf("expected nil message error")
	}
}
