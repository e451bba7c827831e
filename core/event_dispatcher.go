package core

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

type EventDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultEventDispatcherConfig() EventDispatcherConfig {
	return EventDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// EventDispatcher drains the outbox and fans each event out to the registered
// handlers. An event is acked only when every handler accepts it.
type EventDispatcher struct {
	outbox EventOutbox
	config EventDispatcherConfig
	now    func() time.Time

	mu       sync.RWMutex
	handlers []EventHandler
}

func NewEventDispatcher(outbox EventOutbox, config EventDispatcherConfig, handlers ...EventHandler) (*EventDispatcher, error) {
	if outbox == nil {
		return nil, fmt.Errorf("core: event outbox is required")
	}
	defaults := DefaultEventDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	d := &EventDispatcher{
		outbox: outbox,
		config: config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, handler := range handlers {
		d.Register(handler)
	}
	return d, nil
}

func (d *EventDispatcher) Register(handler EventHandler) {
	if d == nil || handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

func (d *EventDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.outbox == nil {
		return DispatchStats{}, fmt.Errorf("core: event dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	events, err := d.outbox.ClaimBatch(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(events)}
	var dispatchErr error
	for _, event := range events {
		if err := d.dispatchOne(ctx, event); err != nil {
			if retryErr := d.retryEvent(ctx, event, err); retryErr != nil {
				dispatchErr = joinErrors(dispatchErr, retryErr)
			}
			if event.Attempts+1 >= d.config.MaxAttempts {
				stats.Failed++
			} else {
				stats.Retried++
			}
			dispatchErr = joinErrors(dispatchErr, err)
			continue
		}
		if err := d.outbox.Ack(ctx, strings.TrimSpace(event.ID)); err != nil {
			dispatchErr = joinErrors(dispatchErr, err)
			continue
		}
		stats.Delivered++
	}
	return stats, dispatchErr
}

func (d *EventDispatcher) dispatchOne(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers...)
	d.mu.RUnlock()

	for i, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			return fmt.Errorf("core: event handler %d failed for %s %q: %w", i, event.Name, event.ID, err)
		}
	}
	return nil
}

func (d *EventDispatcher) retryEvent(ctx context.Context, event Event, cause error) error {
	attempt := event.Attempts
	if attempt < 0 {
		attempt = 0
	}
	if attempt+1 >= d.config.MaxAttempts {
		return d.outbox.Retry(ctx, strings.TrimSpace(event.ID), cause, time.Time{})
	}
	next := d.now().Add(d.nextBackoffDelay(attempt + 1))
	return d.outbox.Retry(ctx, strings.TrimSpace(event.ID), cause, next)
}

func (d *EventDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := time.Duration(float64(d.config.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if next < 0 || next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
