package prommetrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-custody/core"
)

const DefaultNamespace = "go_custody"

var DefaultLabels = []string{"operation", "status", "asset", "error_text_code", "job_id"}

var DefaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type Config struct {
	Namespace  string
	Registerer prometheus.Registerer
	Labels     []string
	Buckets    []float64
}

// Recorder maps core metric names onto Prometheus vectors. Vectors are
// registered the first time a name is seen; tags outside the configured label
// set are dropped and missing ones are exported empty.
type Recorder struct {
	namespace  string
	registerer prometheus.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	errs       []error
}

func NewRecorder(cfg Config) *Recorder {
	if strings.TrimSpace(cfg.Namespace) == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultBuckets
	}
	return &Recorder{
		namespace:  sanitize(cfg.Namespace),
		registerer: cfg.Registerer,
		labels:     append([]string(nil), cfg.Labels...),
		buckets:    append([]float64(nil), cfg.Buckets...),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

// Errors returns registration failures, for example a name clash with a
// collector registered elsewhere.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      fmt.Sprintf("Counter for %s.", strings.TrimSpace(name)),
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if errors.As(err, &existing) {
			if typed, ok := existing.ExistingCollector.(*prometheus.CounterVec); ok {
				r.counters[metric] = typed
				return typed
			}
		}
		r.errs = append(r.errs, fmt.Errorf("prommetrics: register counter %s: %w", metric, err))
		return nil
	}
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := sanitize(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      fmt.Sprintf("Histogram for %s.", strings.TrimSpace(name)),
		Buckets:   r.buckets,
	}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if errors.As(err, &existing) {
			if typed, ok := existing.ExistingCollector.(*prometheus.HistogramVec); ok {
				r.histograms[metric] = typed
				return typed
			}
		}
		r.errs = append(r.errs, fmt.Errorf("prommetrics: register histogram %s: %w", metric, err))
		return nil
	}
	r.histograms[metric] = vec
	return vec
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(r.labels))
	for _, label := range r.labels {
		out[label] = strings.TrimSpace(tags[label])
	}
	return out
}

// sanitize turns "custody.deposit.total" into "custody_deposit_total".
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
