package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
)

func id(seed byte) string {
	return identity.Encode(bytes.Repeat([]byte{seed}, 32))
}

func TestMemoryBank_OwnerSignedTransfer(t *testing.T) {
	bank := NewMemoryBank("authority")
	user, pool, asset := id(1), id(2), id(9)
	if err := bank.Fund(user, asset, 100); err != nil {
		t.Fatalf("fund: %v", err)
	}

	err := bank.Transfer(context.Background(), core.TransferRequest{From: user, To: pool, Asset: asset, Amount: 60, Signer: user})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bank.Balance(user, asset) != 40 || bank.Balance(pool, asset) != 60 {
		t.Fatalf("unexpected balances: user=%d pool=%d", bank.Balance(user, asset), bank.Balance(pool, asset))
	}

	err = bank.Transfer(context.Background(), core.TransferRequest{From: pool, To: user, Asset: asset, Amount: 1, Signer: user})
	if !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected unauthorized transfer from pool, got %v", err)
	}
	err = bank.Transfer(context.Background(), core.TransferRequest{From: user, To: pool, Asset: asset, Amount: 41, Signer: user})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestMemoryBank_CapabilityTransfer(t *testing.T) {
	bank := NewMemoryBank("authority")
	pool, payee, asset := id(2), id(3), id(9)
	_ = bank.Fund(pool, asset, 10)

	err := bank.Transfer(context.Background(), core.TransferRequest{
		From: pool, To: payee, Asset: asset, Amount: 4,
		Capability: core.NewCustodyCapability("someone-else"),
	})
	if !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected foreign capability to be rejected, got %v", err)
	}
	err = bank.Transfer(context.Background(), core.TransferRequest{
		From: pool, To: payee, Asset: asset, Amount: 4,
		Capability: &core.CustodyCapability{},
	})
	if !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected zero capability to be rejected, got %v", err)
	}

	err = bank.Transfer(context.Background(), core.TransferRequest{
		From: pool, To: payee, Asset: asset, Amount: 4,
		Signer:     "authority",
		Capability: core.NewCustodyCapability("authority"),
	})
	if err != nil {
		t.Fatalf("capability transfer: %v", err)
	}
	history := bank.History()
	if len(history) != 1 || !history[0].Custodial || history[0].Amount != 4 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestMemoryBank_BacksCustodyService(t *testing.T) {
	ctx := context.Background()
	admin, user, agent, payee, asset := id(1), id(2), id(3), id(4), id(9)
	bank := NewMemoryBank(core.DefaultConfig().Custody.Authority)
	if err := bank.Fund(user, asset, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, err := core.NewService(core.DefaultConfig(),
		core.WithTransferer(bank),
		core.WithNow(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Initialize(ctx, core.InitializeRequest{Caller: admin, WithdrawDelaySeconds: 0}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.SetAgent(ctx, core.SetAgentRequest{Caller: admin, Agent: agent, Enabled: true}); err != nil {
		t.Fatalf("set agent: %v", err)
	}
	if _, err := svc.Deposit(ctx, core.DepositRequest{Caller: user, Asset: asset, Amount: 500}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Settle(ctx, core.SettleRequest{
		Caller: agent, Payer: user, Payee: payee, Asset: asset,
		Amount: 120, Nonce: 1, Deadline: now.Unix() + 60,
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	pool, _ := identity.NewDeriver("").PoolAddress(asset)
	if bank.Balance(user, asset) != 500 || bank.Balance(pool, asset) != 380 || bank.Balance(payee, asset) != 120 {
		t.Fatalf("unexpected balances user=%d pool=%d payee=%d",
			bank.Balance(user, asset), bank.Balance(pool, asset), bank.Balance(payee, asset))
	}

	_, err = svc.Deposit(ctx, core.DepositRequest{Caller: user, Asset: asset, Amount: 501})
	if !errors.Is(err, core.ErrTransferFailed) || !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected wrapped bank failure, got %v", err)
	}
	ledger, _ := svc.GetLedger(ctx, user, asset)
	if ledger.Balance != 380 {
		t.Fatalf("expected ledger untouched by failed deposit, got %d", ledger.Balance)
	}
}
