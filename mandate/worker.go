package mandate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-custody/core"
)

const (
	DefaultMaxRetries   = 3
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultBatchSize    = 10
	defaultRetryDelay   = 2 * time.Second
	maxRetryDelay       = 2 * time.Minute
)

type Settler interface {
	Settle(ctx context.Context, req core.SettleRequest) (core.Settlement, error)
}

type WorkerConfig struct {
	Agent        core.Identity
	Store        Store
	Settler      Settler
	MaxRetries   int
	PollInterval time.Duration
	BatchSize    int
	Hooks        []core.JobWorkerHook
	Logger       core.Logger
	Now          func() time.Time
}

type WorkerStats struct {
	Claimed int
	Settled int
	Retried int
	Failed  int
}

type outcome int

const (
	outcomeSettled outcome = iota
	outcomeRetry
	outcomeFailed
)

// Worker settles queued mandates through the custody service acting as the
// configured agent.
type Worker struct {
	agent        core.Identity
	store        Store
	settler      Settler
	maxRetries   int
	pollInterval time.Duration
	batchSize    int
	hooks        []core.JobWorkerHook
	logger       core.Logger
	now          func() time.Time
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if strings.TrimSpace(cfg.Agent) == "" {
		return nil, fmt.Errorf("mandate: worker agent is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("mandate: store is required")
	}
	if cfg.Settler == nil {
		return nil, fmt.Errorf("mandate: settler is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	hooks := make([]core.JobWorkerHook, 0, len(cfg.Hooks))
	for _, hook := range cfg.Hooks {
		if hook != nil {
			hooks = append(hooks, hook)
		}
	}
	return &Worker{
		agent:        strings.TrimSpace(cfg.Agent),
		store:        cfg.Store,
		settler:      cfg.Settler,
		maxRetries:   cfg.MaxRetries,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		hooks:        hooks,
		logger:       glog.Ensure(cfg.Logger),
		now:          cfg.Now,
	}, nil
}

// Run polls for queued mandates until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("mandate: worker is not configured")
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessPending(ctx, w.batchSize); err != nil && ctx.Err() == nil {
			w.logger.Error("mandate batch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) ProcessPending(ctx context.Context, limit int) (WorkerStats, error) {
	if w == nil || w.store == nil {
		return WorkerStats{}, fmt.Errorf("mandate: worker is not configured")
	}
	if limit <= 0 {
		limit = w.batchSize
	}
	records, err := w.store.ClaimPending(ctx, limit)
	if err != nil {
		return WorkerStats{}, err
	}
	stats := WorkerStats{Claimed: len(records)}
	var batchErr error
	for _, record := range records {
		result, err := w.process(ctx, record)
		switch result {
		case outcomeSettled:
			stats.Settled++
		case outcomeRetry:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
		if err != nil {
			batchErr = errors.Join(batchErr, err)
		}
	}
	return stats, batchErr
}

// HandleDelivery settles the mandate named by a queue delivery. Deliveries
// for records that are already handled are acked without work.
func (w *Worker) HandleDelivery(ctx context.Context, delivery core.JobDelivery) error {
	if w == nil || delivery == nil {
		return fmt.Errorf("mandate: worker is not configured")
	}
	msg := delivery.Message()
	digest := digestFromMessage(msg)
	if digest == "" {
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: "missing mandate digest"})
	}
	record, err := w.store.Claim(ctx, digest)
	switch {
	case errors.Is(err, ErrNotClaimable):
		return delivery.Ack(ctx)
	case errors.Is(err, ErrNotFound):
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	case err != nil:
		return delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: defaultRetryDelay, Reason: err.Error()})
	}

	result, _ := w.process(ctx, record)
	if result == outcomeRetry {
		return delivery.Nack(ctx, core.JobNackOptions{
			Requeue: true,
			Delay:   retryDelay(record.Retries + 1),
			Reason:  "mandate settlement will be retried",
		})
	}
	return delivery.Ack(ctx)
}

func (w *Worker) process(ctx context.Context, record Record) (outcome, error) {
	startedAt := w.now()
	event := core.JobWorkerEvent{
		Message:   SettleJobMessage(record.Digest),
		Attempt:   record.Retries + 1,
		StartedAt: startedAt,
	}
	w.emit(ctx, event, core.JobWorkerHook.OnStart)

	_, settleErr := w.settler.Settle(ctx, record.Mandate.SettleRequest(w.agent))
	event.Duration = w.now().Sub(startedAt)
	if settleErr == nil {
		if err := w.store.MarkSettled(ctx, record.Digest, w.now()); err != nil {
			event.Err = err
			w.emit(ctx, event, core.JobWorkerHook.OnFailure)
			return outcomeFailed, err
		}
		w.logger.Info("mandate settled", "digest", record.Digest, "payer", record.Mandate.Payer, "amount", record.Mandate.Amount)
		w.emit(ctx, event, core.JobWorkerHook.OnSuccess)
		return outcomeSettled, nil
	}

	event.Err = settleErr
	if !Retryable(settleErr) {
		w.logger.Warn("mandate rejected", "digest", record.Digest, "error", settleErr)
		w.emit(ctx, event, core.JobWorkerHook.OnFailure)
		return outcomeFailed, w.store.MarkFailed(ctx, record.Digest, settleErr)
	}

	updated, err := w.store.MarkRetry(ctx, record.Digest, settleErr)
	if err != nil {
		return outcomeFailed, err
	}
	if updated.Retries >= w.maxRetries {
		w.logger.Error("mandate failed after retries", "digest", record.Digest, "retries", updated.Retries, "error", settleErr)
		w.emit(ctx, event, core.JobWorkerHook.OnFailure)
		return outcomeFailed, w.store.MarkFailed(ctx, record.Digest, settleErr)
	}
	event.Delay = retryDelay(updated.Retries)
	w.logger.Warn("mandate settlement retry", "digest", record.Digest, "retries", updated.Retries, "error", settleErr)
	w.emit(ctx, event, core.JobWorkerHook.OnRetry)
	return outcomeRetry, nil
}

func (w *Worker) emit(ctx context.Context, event core.JobWorkerEvent, fn func(core.JobWorkerHook, context.Context, core.JobWorkerEvent)) {
	for _, hook := range w.hooks {
		fn(hook, ctx, event)
	}
}

// Retryable reports whether a settlement failure may succeed on a later
// attempt. Rejections that depend only on the mandate and ledger state are
// final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, final := range []error{
		core.ErrMandateExpired,
		core.ErrNonceUsed,
		core.ErrNotAuthorizedSP,
		core.ErrInsufficientBalance,
		core.ErrInvalidAmount,
		core.ErrInvalidIdentity,
		core.ErrArithmeticOverflow,
		core.ErrArithmeticUnderflow,
	} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(defaultRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
