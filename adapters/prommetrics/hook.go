package prommetrics

import (
	"context"

	"github.com/goliatone/go-custody/core"
)

// WorkerHook records mandate worker lifecycle events on a metrics recorder.
type WorkerHook struct {
	recorder core.MetricsRecorder
}

func NewWorkerHook(recorder core.MetricsRecorder) *WorkerHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &WorkerHook{recorder: recorder}
}

func (h *WorkerHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.recorder.IncCounter(ctx, "custody.job.started.total", 1, jobTags(event, "started"))
}

func (h *WorkerHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	tags := jobTags(event, "success")
	h.recorder.IncCounter(ctx, "custody.job.completed.total", 1, tags)
	h.recorder.ObserveHistogram(ctx, "custody.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func (h *WorkerHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	tags := jobTags(event, "failure")
	h.recorder.IncCounter(ctx, "custody.job.completed.total", 1, tags)
	h.recorder.ObserveHistogram(ctx, "custody.job.duration_ms", float64(event.Duration.Milliseconds()), tags)
}

func (h *WorkerHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.recorder.IncCounter(ctx, "custody.job.retry.total", 1, jobTags(event, "retry"))
}

func jobTags(event core.JobWorkerEvent, status string) map[string]string {
	tags := map[string]string{"status": status}
	if event.Message != nil {
		tags["job_id"] = event.Message.JobID
	}
	return tags
}

var _ core.JobWorkerHook = (*WorkerHook)(nil)
