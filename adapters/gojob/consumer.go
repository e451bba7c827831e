package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-custody/core"
)

const defaultDequeueBackoff = time.Second

type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, delivery core.JobDelivery) error
}

type DeliveryHandlerFunc func(ctx context.Context, delivery core.JobDelivery) error

func (f DeliveryHandlerFunc) HandleDelivery(ctx context.Context, delivery core.JobDelivery) error {
	return f(ctx, delivery)
}

// Consumer pulls custody jobs off a queue and hands each delivery to the
// handler routed for its job id. Deliveries for unknown jobs are
// dead-lettered.
type Consumer struct {
	dequeuer core.JobDequeuer
	logger   core.Logger

	mu     sync.RWMutex
	routes map[string]DeliveryHandler
}

func NewConsumer(dequeuer core.JobDequeuer, logger core.Logger) (*Consumer, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	return &Consumer{
		dequeuer: dequeuer,
		logger:   glog.Ensure(logger),
		routes:   map[string]DeliveryHandler{},
	}, nil
}

func (c *Consumer) Route(jobID string, handler DeliveryHandler) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("gojob: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("gojob: handler for %q is required", jobID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[jobID] = handler
	return nil
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("gojob: consumer is not configured")
	}
	for {
		err := c.ConsumeOne(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		c.logger.Warn("job consumption failed", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(defaultDequeueBackoff):
		}
	}
}

// ConsumeOne blocks for a single delivery and handles it.
func (c *Consumer) ConsumeOne(ctx context.Context) error {
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "missing job message"})
	}

	c.mu.RLock()
	handler := c.routes[strings.TrimSpace(msg.JobID)]
	c.mu.RUnlock()
	if handler == nil {
		c.logger.Warn("no handler for job", "job_id", msg.JobID)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "unknown job " + msg.JobID})
	}
	if err := handler.HandleDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("gojob: job %s: %w", msg.JobID, err)
	}
	return nil
}

type OutboxDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

// EventDispatchHandler drains one outbox batch per delivery. Handler failures
// are already tracked per event by the outbox, so the job is only requeued
// when nothing could be claimed at all.
func EventDispatchHandler(dispatcher OutboxDispatcher, batchSize int) DeliveryHandlerFunc {
	return func(ctx context.Context, delivery core.JobDelivery) error {
		if dispatcher == nil {
			return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "event dispatcher is not configured"})
		}
		size := batchSize
		if msg := delivery.Message(); msg != nil {
			if value, ok := msg.Parameters["batch_size"].(int); ok && value > 0 {
				size = value
			}
		}
		stats, err := dispatcher.DispatchPending(ctx, size)
		if err != nil && stats.Claimed == 0 {
			return errors.Join(err, delivery.Nack(ctx, core.JobNackOptions{
				Requeue: true,
				Delay:   defaultDequeueBackoff,
				Reason:  err.Error(),
			}))
		}
		return delivery.Ack(ctx)
	}
}

// EventDispatchMessage builds the job that asks a consumer to drain the
// outbox.
func EventDispatchMessage(batchSize int) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDEventDispatch,
		Parameters:     map[string]any{"batch_size": batchSize},
		IdempotencyKey: JobIDEventDispatch,
		DedupPolicy:    dedupPolicyDrop,
	}
}
