package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestService_WithdrawAfterDelay(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 1000)

	ledger, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{Caller: testUser, Asset: testAsset, Amount: 400})
	if err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	if ledger.Balance != 600 || ledger.Lock.LockedAmount != 400 {
		t.Fatalf("unexpected ledger after request: %+v", ledger)
	}
	wantUnlock := f.clock.Now().Unix() + 60
	if ledger.Lock.UnlockTime != wantUnlock {
		t.Fatalf("expected unlock %d, got %d", wantUnlock, ledger.Lock.UnlockTime)
	}

	_, err = f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset})
	if !errors.Is(err, ErrWithdrawalNotReady) {
		t.Fatalf("expected withdrawal not ready, got %v", err)
	}

	f.clock.Advance(60 * time.Second)
	ledger, err = f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset})
	if err != nil {
		t.Fatalf("execute withdraw: %v", err)
	}
	if ledger.Balance != 600 || ledger.Lock.State() != LockStateIdle {
		t.Fatalf("unexpected ledger after execute: %+v", ledger)
	}

	transfers := f.transferer.snapshot()
	last := transfers[len(transfers)-1]
	if last.To != testUser || last.Amount != 400 {
		t.Fatalf("expected payout of 400 to user, got %+v", last)
	}
	if !last.Capability.Valid() || last.Signer != f.svc.Config().Custody.Authority {
		t.Fatalf("expected payout signed by custody capability, got %+v", last)
	}

	_, err = f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset})
	if !errors.Is(err, ErrNoWithdrawalPending) {
		t.Fatalf("expected no pending withdrawal, got %v", err)
	}
}

func TestService_SettleAndReplay(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 1000)
	deadline := f.clock.Now().Unix() + 100
	req := SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   200,
		Nonce:    7,
		Deadline: deadline,
	}
	req.Reference[0] = 0xAB

	settlement, err := f.svc.Settle(ctx, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settlement.RemainingBalance != 800 || settlement.Agent != testAgent {
		t.Fatalf("unexpected settlement: %+v", settlement)
	}

	ledger, err := f.svc.GetLedger(ctx, testUser, testAsset)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Balance != 800 || !ledger.UsedNonces.Contains(7) {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}

	_, err = f.svc.Settle(ctx, req)
	if !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("expected nonce used on replay, got %v", err)
	}
	ledger, _ = f.svc.GetLedger(ctx, testUser, testAsset)
	if ledger.Balance != 800 {
		t.Fatalf("expected replay to leave balance at 800, got %d", ledger.Balance)
	}

	var settled []Event
	for _, event := range f.store.Events() {
		if event.Name == EventSettled {
			settled = append(settled, event)
		}
	}
	if len(settled) != 1 {
		t.Fatalf("expected one settled event, got %d", len(settled))
	}
	if settled[0].Payload["nonce"] != "7" || settled[0].Payload["reference"] != req.Reference.String() {
		t.Fatalf("unexpected settled payload: %#v", settled[0].Payload)
	}
}

func TestService_SettleRequiresEnabledAgent(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 1000)
	if _, err := f.svc.SetAgent(ctx, SetAgentRequest{Caller: testAdmin, Agent: testAgent, Enabled: false}); err != nil {
		t.Fatalf("disable agent: %v", err)
	}

	_, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   10,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() + 10,
	})
	if !errors.Is(err, ErrNotAuthorizedSP) {
		t.Fatalf("expected not authorized sp, got %v", err)
	}

	_, err = f.svc.Settle(ctx, SettleRequest{
		Caller:   testPayee,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   10,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() + 10,
	})
	if !errors.Is(err, ErrNotAuthorizedSP) {
		t.Fatalf("expected unknown agent to be rejected, got %v", err)
	}
}

func TestService_SettleExpiredMandate(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 1000)
	_, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   10,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() - 1,
	})
	if !errors.Is(err, ErrMandateExpired) {
		t.Fatalf("expected mandate expired, got %v", err)
	}
}

func TestService_TransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 1000)
	f.transferer.err = errors.New("bank offline")

	_, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   100,
		Nonce:    9,
		Deadline: f.clock.Now().Unix() + 10,
	})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failed, got %v", err)
	}

	ledger, err := f.svc.GetLedger(ctx, testUser, testAsset)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Balance != 1000 || ledger.UsedNonces.Contains(9) {
		t.Fatalf("expected rollback of balance and nonce, got %+v", ledger)
	}

	f.transferer.err = nil
	if _, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   100,
		Nonce:    9,
		Deadline: f.clock.Now().Unix() + 10,
	}); err != nil {
		t.Fatalf("expected nonce 9 to be usable after rollback: %v", err)
	}
}

func TestService_InitializeOnce(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	_, err := f.svc.Deposit(ctx, DepositRequest{Caller: testUser, Asset: testAsset, Amount: 1})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}

	cfg, err := f.svc.Initialize(ctx, InitializeRequest{Caller: testAdmin, WithdrawDelaySeconds: 30})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if cfg.Admin != testAdmin || cfg.WithdrawDelaySeconds != 30 || cfg.Address == "" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	_, err = f.svc.Initialize(ctx, InitializeRequest{Caller: testUser, WithdrawDelaySeconds: 10})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	stored, err := f.svc.GetConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if stored.Admin != testAdmin || stored.WithdrawDelaySeconds != 30 {
		t.Fatalf("expected first initialization to stick, got %+v", stored)
	}
}

func TestService_InitializeRejectsNegativeDelay(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Caller: testAdmin, WithdrawDelaySeconds: -1})
	if !errors.Is(err, ErrInvalidWithdrawDelay) {
		t.Fatalf("expected invalid delay, got %v", err)
	}
}

func TestService_SetAgentRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 0)

	_, err := f.svc.SetAgent(ctx, SetAgentRequest{Caller: testUser, Agent: testPayee, Enabled: true})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != CustodyErrorNotAuthorized {
		t.Fatalf("expected mapped authz error, got %#v", err)
	}

	agent, err := f.svc.GetAgent(ctx, testAgent)
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !agent.Enabled || agent.UpdatedBy != testAdmin {
		t.Fatalf("unexpected agent: %+v", agent)
	}
}

func TestService_DepositTransfersIntoPool(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 60, 0)

	ledger, err := f.svc.Deposit(ctx, DepositRequest{Caller: testUser, Asset: testAsset, Amount: 250})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if ledger.Balance != 250 {
		t.Fatalf("expected balance 250, got %d", ledger.Balance)
	}
	transfers := f.transferer.snapshot()
	if len(transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(transfers))
	}
	pool, _ := f.svc.Dependencies().AddressDeriver.PoolAddress(testAsset)
	if transfers[0].From != testUser || transfers[0].To != pool || transfers[0].Signer != testUser {
		t.Fatalf("unexpected deposit transfer: %+v", transfers[0])
	}
	if transfers[0].Capability != nil {
		t.Fatalf("deposit must not carry the custody capability")
	}

	_, err = f.svc.Deposit(ctx, DepositRequest{Caller: testUser, Asset: testAsset, Amount: 0})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	_, err = f.svc.Deposit(ctx, DepositRequest{Caller: "not-a-key", Asset: testAsset, Amount: 1})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestService_AgentRateLimit(t *testing.T) {
	ctx := context.Background()
	limiter := &staticLimiter{allow: false}
	f := initialized(t, 60, 1000, WithAgentLimiter(limiter))

	_, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   1,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() + 10,
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != testAgent {
		t.Fatalf("expected limiter keyed by agent, got %#v", limiter.keys)
	}
}

func TestService_EventsFollowCommittedOperations(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 0, 500)
	if _, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{Caller: testUser, Asset: testAsset, Amount: 100}); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	if _, err := f.svc.RequestWithdraw(ctx, WithdrawRequest{Caller: testUser, Asset: testAsset, Amount: 100}); !errors.Is(err, ErrWithdrawalPending) {
		t.Fatalf("expected pending, got %v", err)
	}
	if _, err := f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset}); err != nil {
		t.Fatalf("execute with zero delay: %v", err)
	}

	want := []string{
		EventAuthorizationChanged,
		EventDeposited,
		EventWithdrawalRequested,
		EventWithdrawalExecuted,
	}
	events := f.store.Events()
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, name := range want {
		if events[i].Name != name {
			t.Fatalf("event %d: expected %s, got %s", i, name, events[i].Name)
		}
	}
}

type cancellingTransferer struct {
	mu     sync.Mutex
	paid   uint64
	cancel context.CancelFunc
}

func (c *cancellingTransferer) Transfer(_ context.Context, req TransferRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.To == testUser {
		c.paid += req.Amount
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *cancellingTransferer) total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paid
}

func TestService_CancelAfterPayoutStillReleasesLock(t *testing.T) {
	transferer := &cancellingTransferer{}
	f := initialized(t, 0, 400, WithTransferer(transferer))
	if _, err := f.svc.RequestWithdraw(context.Background(), WithdrawRequest{Caller: testUser, Asset: testAsset, Amount: 400}); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transferer.mu.Lock()
	transferer.cancel = cancel
	transferer.mu.Unlock()

	ledger, err := f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset})
	if err != nil {
		t.Fatalf("execute withdraw: %v", err)
	}
	if ledger.Lock.State() != LockStateIdle {
		t.Fatalf("expected released lock, got %+v", ledger.Lock)
	}

	_, err = f.svc.ExecuteWithdraw(context.Background(), ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset})
	if !errors.Is(err, ErrNoWithdrawalPending) {
		t.Fatalf("expected no pending withdrawal, got %v", err)
	}
	if paid := transferer.total(); paid != 400 {
		t.Fatalf("expected a single payout of 400, got %d", paid)
	}
}

func TestService_CancelledContextMovesNothing(t *testing.T) {
	f := initialized(t, 0, 400)
	if _, err := f.svc.RequestWithdraw(context.Background(), WithdrawRequest{Caller: testUser, Asset: testAsset, Amount: 400}); err != nil {
		t.Fatalf("request withdraw: %v", err)
	}
	before := len(f.transferer.snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.ExecuteWithdraw(ctx, ExecuteWithdrawRequest{Caller: testUser, Asset: testAsset}); err == nil {
		t.Fatalf("expected cancelled context to fail")
	}
	if got := len(f.transferer.snapshot()); got != before {
		t.Fatalf("expected no transfer, got %d new", got-before)
	}
	ledger, err := f.svc.GetLedger(context.Background(), testUser, testAsset)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Lock.LockedAmount != 400 {
		t.Fatalf("expected lock to stay held, got %+v", ledger.Lock)
	}
}

type failingOutboxStore struct {
	*MemoryStore
	fail bool
}

func (s *failingOutboxStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	return s.MemoryStore.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if s.fail {
			tx = failingOutboxTx{StoreTx: tx}
		}
		return fn(ctx, tx)
	})
}

type failingOutboxTx struct {
	StoreTx
}

func (failingOutboxTx) AppendEvent(context.Context, Event) error {
	return errors.New("outbox unavailable")
}

func TestService_OutboxFailureSkipsTransfer(t *testing.T) {
	ctx := context.Background()
	store := &failingOutboxStore{MemoryStore: NewMemoryStore()}
	f := initialized(t, 0, 1000, WithStore(store))
	before := len(f.transferer.snapshot())
	store.fail = true

	_, err := f.svc.Settle(ctx, SettleRequest{
		Caller:   testAgent,
		Payer:    testUser,
		Payee:    testPayee,
		Asset:    testAsset,
		Amount:   100,
		Nonce:    1,
		Deadline: f.clock.Now().Unix() + 10,
	})
	if err == nil {
		t.Fatalf("expected outbox failure to fail the settlement")
	}
	if _, err := f.svc.Deposit(ctx, DepositRequest{Caller: testUser, Asset: testAsset, Amount: 5}); err == nil {
		t.Fatalf("expected outbox failure to fail the deposit")
	}
	if got := len(f.transferer.snapshot()); got != before {
		t.Fatalf("expected no transfers after outbox failure, got %d", got-before)
	}
	ledger, err := f.svc.GetLedger(ctx, testUser, testAsset)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Balance != 1000 || ledger.UsedNonces.Contains(1) {
		t.Fatalf("expected untouched ledger, got %+v", ledger)
	}
}

func TestService_SettleNonceReusableAfterWindowSlides(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, 0, 1_000)
	settle := func(nonce uint64) error {
		_, err := f.svc.Settle(ctx, SettleRequest{
			Caller:   testAgent,
			Payer:    testUser,
			Payee:    testPayee,
			Asset:    testAsset,
			Amount:   1,
			Nonce:    nonce,
			Deadline: f.clock.Now().Unix() + 60,
		})
		return err
	}

	if err := settle(1); err != nil {
		t.Fatalf("settle nonce 1: %v", err)
	}
	for nonce := uint64(2); nonce <= NonceWindowCapacity; nonce++ {
		if err := settle(nonce); err != nil {
			t.Fatalf("settle nonce %d: %v", nonce, err)
		}
	}
	if err := settle(1); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("expected nonce 1 to still be in the window, got %v", err)
	}
	if err := settle(NonceWindowCapacity + 1); err != nil {
		t.Fatalf("settle nonce %d: %v", NonceWindowCapacity+1, err)
	}
	if err := settle(1); err != nil {
		t.Fatalf("expected nonce 1 to be accepted after eviction: %v", err)
	}

	ledger, err := f.svc.GetLedger(ctx, testUser, testAsset)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.Balance != 1_000-NonceWindowCapacity-2 {
		t.Fatalf("unexpected balance %d", ledger.Balance)
	}
	if len(ledger.UsedNonces.Values()) != NonceWindowCapacity {
		t.Fatalf("expected a full window, got %d", len(ledger.UsedNonces.Values()))
	}
	if ledger.UsedNonces.Contains(2) {
		t.Fatalf("expected nonce 2 to be evicted")
	}
}
