package mandate

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
	"github.com/goliatone/go-custody/transfer"
)

func testKey(seed byte) (string, ed25519.PrivateKey) {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	id, _ := identity.FromPrivateKey(key)
	return id, key
}

func testID(seed byte) string {
	return identity.Encode(bytes.Repeat([]byte{seed}, 32))
}

var (
	testAsset = testID(9)
	testPayee = testID(4)
	testAdmin = testID(1)
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *core.Service
	bank     *transfer.MemoryBank
	store    *MemoryStore
	intake   *Intake
	clock    *clock
	payer    string
	payerKey ed25519.PrivateKey
	agent    string
	agentKey ed25519.PrivateKey
}

func newFixture(t *testing.T, deposit uint64) fixture {
	t.Helper()
	ctx := context.Background()
	c := newClock()
	payer, payerKey := testKey(2)
	agent, agentKey := testKey(3)

	bank := transfer.NewMemoryBank(core.DefaultConfig().Custody.Authority)
	if err := bank.Fund(payer, testAsset, 1_000_000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	svc, err := core.NewService(core.DefaultConfig(), core.WithTransferer(bank), core.WithNow(c.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Initialize(ctx, core.InitializeRequest{Caller: testAdmin}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.SetAgent(ctx, core.SetAgentRequest{Caller: testAdmin, Agent: agent, Enabled: true}); err != nil {
		t.Fatalf("set agent: %v", err)
	}
	if deposit > 0 {
		if _, err := svc.Deposit(ctx, core.DepositRequest{Caller: payer, Asset: testAsset, Amount: deposit}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	store := NewMemoryStore()
	intake, err := NewIntake(IntakeConfig{
		AgentKey: agentKey,
		Store:    store,
		Ledgers:  svc,
		Now:      c.Now,
	})
	if err != nil {
		t.Fatalf("new intake: %v", err)
	}
	return fixture{
		svc: svc, bank: bank, store: store, intake: intake, clock: c,
		payer: payer, payerKey: payerKey, agent: agent, agentKey: agentKey,
	}
}

func (f fixture) mandate(amount uint64, nonce uint64) Mandate {
	return Mandate{
		Payer:     f.payer,
		Asset:     testAsset,
		Payee:     testPayee,
		Amount:    amount,
		Nonce:     nonce,
		Deadline:  f.clock.Now().Add(time.Hour).Unix(),
		Reference: "",
	}
}

func (f fixture) signed(t *testing.T, m Mandate) SignedMandate {
	t.Helper()
	sig, err := Sign(f.payerKey, m)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return SignedMandate{Mandate: m, Signature: sig}
}

func (f fixture) worker(t *testing.T, settler Settler, hooks ...core.JobWorkerHook) *Worker {
	t.Helper()
	if settler == nil {
		settler = f.svc
	}
	w, err := NewWorker(WorkerConfig{
		Agent:   f.agent,
		Store:   f.store,
		Settler: settler,
		Hooks:   hooks,
		Now:     f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

type settlerFunc func(ctx context.Context, req core.SettleRequest) (core.Settlement, error)

func (f settlerFunc) Settle(ctx context.Context, req core.SettleRequest) (core.Settlement, error) {
	return f(ctx, req)
}

type recordingEnqueuer struct {
	messages []*core.JobExecutionMessage
	err      error
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

type stubDelivery struct {
	msg    *core.JobExecutionMessage
	acked  bool
	nacked *core.JobNackOptions
}

func (d *stubDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = &opts
	return nil
}

type recordingHook struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHook) add(kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, kind)
}

func (h *recordingHook) OnStart(context.Context, core.JobWorkerEvent)   { h.add("start") }
func (h *recordingHook) OnSuccess(context.Context, core.JobWorkerEvent) { h.add("success") }
func (h *recordingHook) OnFailure(context.Context, core.JobWorkerEvent) { h.add("failure") }
func (h *recordingHook) OnRetry(context.Context, core.JobWorkerEvent)   { h.add("retry") }
