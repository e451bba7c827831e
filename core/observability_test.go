package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func TestServiceObservability_DepositSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	f := initialized(t, 60, 0,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	if _, err := f.svc.Deposit(context.Background(), DepositRequest{Caller: testUser, Asset: testAsset, Amount: 5}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if !hasCounter(metrics.counters, "custody.deposit.total", "success") {
		t.Fatalf("expected custody.deposit.total success counter")
	}
	if !hasHistogram(metrics.histograms, "custody.deposit.duration_ms", "success") {
		t.Fatalf("expected custody.deposit.duration_ms histogram")
	}
	if !hasLog(logger.snapshot(), "info", "deposit succeeded", "deposit") {
		t.Fatalf("expected deposit succeeded structured log")
	}
}

func TestServiceObservability_SettleFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	f := initialized(t, 60, 10,
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	_, err := f.svc.Settle(context.Background(), SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   50,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() + 5,
	})
	if err == nil {
		t.Fatalf("expected insufficient balance")
	}
	if !hasCounter(metrics.counters, "custody.settle.total", "failure") {
		t.Fatalf("expected settle failure counter")
	}
	records := logger.snapshot()
	if !hasLog(records, "error", "settle failed", "settle") {
		t.Fatalf("expected settle failure log")
	}
	last := records[len(records)-1]
	if last.fields["error_text_code"] != CustodyErrorInsufficientBalance {
		t.Fatalf("expected insufficient balance text code, got %#v", last.fields["error_text_code"])
	}
	for _, counter := range metrics.counters {
		if counter.name == "custody.settle.total" && counter.tags["error_text_code"] != CustodyErrorInsufficientBalance {
			t.Fatalf("expected error text code tag, got %#v", counter.tags)
		}
	}
}

func TestServiceObservability_EnrichesStructuredErrorFields(t *testing.T) {
	logger := newCaptureLogger()
	f := newServiceFixture(t,
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)

	richErr := goerrors.New("bank timeout", goerrors.CategoryExternal).
		WithCode(502).
		WithTextCode(CustodyErrorTransferFailed).
		WithSeverity(goerrors.SeverityCritical)
	f.svc.observeOperation(
		context.Background(),
		time.Now().UTC().Add(-100*time.Millisecond),
		"Execute Withdraw",
		richErr,
		map[string]any{"asset": testAsset},
	)

	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected logs to be emitted")
	}
	last := records[len(records)-1]
	if last.msg != "execute_withdraw failed" {
		t.Fatalf("expected normalized operation name, got %q", last.msg)
	}
	if last.fields["error_category"] != "external" {
		t.Fatalf("expected error_category external, got %#v", last.fields["error_category"])
	}
	if last.fields["error_severity"] != goerrors.SeverityCritical.String() {
		t.Fatalf("expected critical severity, got %#v", last.fields["error_severity"])
	}
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level || item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}

type refusingCommitStore struct {
	*MemoryStore
	refuse bool
}

func (s *refusingCommitStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	if err := s.MemoryStore.WithinTx(ctx, fn); err != nil {
		return err
	}
	if s.refuse {
		return errors.New("commit refused")
	}
	return nil
}

func TestServiceObservability_ReportsTransferWithoutCommit(t *testing.T) {
	logger := newCaptureLogger()
	store := &refusingCommitStore{MemoryStore: NewMemoryStore()}
	f := initialized(t, 60, 0,
		WithStore(store),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	store.refuse = true

	_, err := f.svc.Deposit(context.Background(), DepositRequest{Caller: testUser, Asset: testAsset, Amount: 5})
	if err == nil {
		t.Fatalf("expected refused commit to fail the deposit")
	}

	var found bool
	for _, item := range logger.snapshot() {
		if item.level == "error" && item.msg == "custody transfer not committed" {
			found = item.fields["operation"] == "deposit" && item.fields["amount"] == uint64(5)
		}
	}
	if !found {
		t.Fatalf("expected uncommitted transfer to be reported")
	}
}

func TestNewService_DefaultsToNopMetricsRecorder(t *testing.T) {
	f := newServiceFixture(t, WithMetricsRecorder(nil))
	if _, ok := f.svc.Dependencies().MetricsRecorder.(NopMetricsRecorder); !ok {
		t.Fatalf("expected nop metrics recorder, got %T", f.svc.Dependencies().MetricsRecorder)
	}
}
