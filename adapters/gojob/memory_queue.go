package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const dedupPolicyDrop = "drop"

type memoryItem struct {
	msg         *job.ExecutionMessage
	attempt     int
	availableAt time.Time
}

// MemoryQueue is an in-process go-job queue. A message whose DedupPolicy is
// "drop" is discarded while another message with the same IdempotencyKey is
// queued or in flight. Nacked messages are redelivered after their delay.
type MemoryQueue struct {
	mu          sync.Mutex
	items       []*memoryItem
	keys        map[string]int
	deadLetters []*job.ExecutionMessage
	notify      chan struct{}
	logger      job.Logger
	now         func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys:   map[string]int{},
		notify: make(chan struct{}, 1),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithLogger reports dead-lettered messages to logger.
func (q *MemoryQueue) WithLogger(logger job.Logger) *MemoryQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("gojob: memory queue is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	q.mu.Lock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && string(msg.DedupPolicy) == dedupPolicyDrop && q.keys[key] > 0 {
		q.mu.Unlock()
		return nil
	}
	if key != "" {
		q.keys[key]++
	}
	cloned := *msg
	cloned.Parameters = copyAnyMap(msg.Parameters)
	q.items = append(q.items, &memoryItem{msg: &cloned, availableAt: q.now()})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue blocks until a message is due or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil {
		return nil, fmt.Errorf("gojob: memory queue is not configured")
	}
	for {
		item, wait := q.next()
		if item != nil {
			return &memoryDelivery{queue: q, item: item}, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len counts messages waiting for delivery, delayed ones included.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

func (q *MemoryQueue) next() (*memoryItem, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	wait := time.Second
	for i, item := range q.items {
		if !item.availableAt.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			item.attempt++
			return item, 0
		}
		if until := item.availableAt.Sub(now); until < wait {
			wait = until
		}
	}
	return nil, wait
}

func (q *MemoryQueue) settle(item *memoryItem) {
	key := strings.TrimSpace(item.msg.IdempotencyKey)
	if key == "" {
		return
	}
	q.keys[key]--
	if q.keys[key] <= 0 {
		delete(q.keys, key)
	}
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	item  *memoryItem
	done  bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.item.msg
}

func (d *memoryDelivery) Attempt() int {
	return d.item.attempt
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.done {
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.done = true
	d.queue.settle(d.item)
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.queue.mu.Lock()
	if d.done {
		d.queue.mu.Unlock()
		return fmt.Errorf("gojob: delivery already settled")
	}
	d.done = true
	if opts.Requeue && !opts.DeadLetter {
		delay := max(opts.Delay, 0)
		d.item.availableAt = d.queue.now().Add(delay)
		d.queue.items = append(d.queue.items, d.item)
		d.queue.mu.Unlock()
		d.queue.wake()
		return nil
	}
	if opts.DeadLetter {
		d.queue.deadLetters = append(d.queue.deadLetters, d.item.msg)
		if d.queue.logger != nil {
			d.queue.logger.Info("job dead-lettered",
				"job_id", d.item.msg.JobID,
				"attempt", d.item.attempt,
				"reason", opts.Reason,
			)
		}
	}
	d.queue.settle(d.item)
	d.queue.mu.Unlock()
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
