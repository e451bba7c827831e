package gologger

import (
	"context"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-custody/core"
)

const DefaultLoggerName = "custody"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if strings.TrimSpace(name) == "" {
		name = DefaultLoggerName
	}
	return glog.Resolve(name, provider, logger)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the custody logger and its go-job equivalents so the
// queue and the services log through the same sink.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// WorkerHook logs mandate worker lifecycle events.
type WorkerHook struct {
	logger glog.Logger
}

func NewWorkerHook(logger glog.Logger) *WorkerHook {
	return &WorkerHook{logger: glog.Ensure(logger)}
}

func (h *WorkerHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Debug("custody job started", eventFields(event)...)
}

func (h *WorkerHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Info("custody job succeeded", append(eventFields(event), "duration", event.Duration.String())...)
}

func (h *WorkerHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Error("custody job failed", append(eventFields(event), "error", errorText(event.Err))...)
}

func (h *WorkerHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.logger.Warn("custody job retrying",
		append(eventFields(event), "delay", event.Delay.String(), "error", errorText(event.Err))...)
}

func eventFields(event core.JobWorkerEvent) []any {
	fields := []any{"attempt", event.Attempt}
	if event.Message != nil {
		fields = append(fields, "job_id", event.Message.JobID)
		if key := event.Message.IdempotencyKey; key != "" {
			fields = append(fields, "idempotency_key", key)
		}
	}
	return fields
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ core.JobWorkerHook = (*WorkerHook)(nil)
