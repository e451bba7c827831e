package core

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-custody/identity"
)

func testIdentity(seed byte) Identity {
	return identity.Encode(bytes.Repeat([]byte{seed}, 32))
}

var (
	testAdmin = testIdentity(1)
	testUser  = testIdentity(2)
	testAgent = testIdentity(3)
	testPayee = testIdentity(4)
	testAsset = testIdentity(9)
)

type recordingTransferer struct {
	mu       sync.Mutex
	requests []TransferRequest
	err      error
}

func (r *recordingTransferer) Transfer(_ context.Context, req TransferRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *recordingTransferer) snapshot() []TransferRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TransferRequest(nil), r.requests...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc        *Service
	store      *MemoryStore
	transferer *recordingTransferer
	clock      *testClock
}

func newServiceFixture(t *testing.T, opts ...Option) serviceFixture {
	t.Helper()
	store := NewMemoryStore()
	transferer := &recordingTransferer{}
	clock := newTestClock()
	base := []Option{
		WithStore(store),
		WithTransferer(transferer),
		WithNow(clock.Now),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return serviceFixture{svc: svc, store: store, transferer: transferer, clock: clock}
}

// initialized returns a fixture with the config created, the agent enabled
// and testUser holding deposit in testAsset.
func initialized(t *testing.T, delaySeconds int64, deposit uint64, opts ...Option) serviceFixture {
	t.Helper()
	ctx := context.Background()
	f := newServiceFixture(t, opts...)
	if _, err := f.svc.Initialize(ctx, InitializeRequest{Caller: testAdmin, WithdrawDelaySeconds: delaySeconds}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := f.svc.SetAgent(ctx, SetAgentRequest{Caller: testAdmin, Agent: testAgent, Enabled: true}); err != nil {
		t.Fatalf("set agent: %v", err)
	}
	if deposit > 0 {
		if _, err := f.svc.Deposit(ctx, DepositRequest{Caller: testUser, Asset: testAsset, Amount: deposit}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	return f
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type staticLimiter struct {
	allow bool
	keys  []string
}

func (l *staticLimiter) Allow(key string, _ time.Time) bool {
	l.keys = append(l.keys, key)
	return l.allow
}
