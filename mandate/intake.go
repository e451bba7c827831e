package mandate

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
)

const DefaultSettlementWindow = 3 * time.Hour

type LedgerReader interface {
	GetLedger(ctx context.Context, user core.Identity, asset core.AssetID) (core.Ledger, error)
}

type IntakeConfig struct {
	AgentKey         ed25519.PrivateKey
	SettlementWindow time.Duration
	Store            Store
	Ledgers          LedgerReader
	Enqueuer         core.JobEnqueuer
	Logger           core.Logger
	Now              func() time.Time
}

// Intake validates signed mandates and queues them for settlement.
type Intake struct {
	agent    core.Identity
	key      ed25519.PrivateKey
	window   time.Duration
	store    Store
	ledgers  LedgerReader
	enqueuer core.JobEnqueuer
	logger   core.Logger
	now      func() time.Time
}

func NewIntake(cfg IntakeConfig) (*Intake, error) {
	agent, err := identity.FromPrivateKey(cfg.AgentKey)
	if err != nil {
		return nil, fmt.Errorf("mandate: agent key: %w", err)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("mandate: store is required")
	}
	if cfg.Ledgers == nil {
		return nil, fmt.Errorf("mandate: ledger reader is required")
	}
	if cfg.SettlementWindow <= 0 {
		cfg.SettlementWindow = DefaultSettlementWindow
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Intake{
		agent:    agent,
		key:      cfg.AgentKey,
		window:   cfg.SettlementWindow,
		store:    cfg.Store,
		ledgers:  cfg.Ledgers,
		enqueuer: cfg.Enqueuer,
		logger:   glog.Ensure(cfg.Logger),
		now:      cfg.Now,
	}, nil
}

func (i *Intake) Agent() core.Identity {
	if i == nil {
		return ""
	}
	return i.agent
}

// Enqueue checks the mandate in the order expiry, signature, duplicate,
// nonce, balance and persists it. The receipt commits the agent to settle
// before the returned enqueue deadline.
func (i *Intake) Enqueue(ctx context.Context, signed SignedMandate) (Receipt, error) {
	if i == nil || i.store == nil {
		return Receipt{}, fmt.Errorf("mandate: intake is not configured")
	}
	m := signed.Mandate.normalized()
	if err := m.Validate(); err != nil {
		return Receipt{}, err
	}
	now := i.now()
	if m.Deadline < now.Unix() {
		return Receipt{}, core.ErrMandateExpired
	}
	if err := Verify(m, signed.Signature); err != nil {
		return Receipt{}, err
	}

	digest := m.Digest()
	if _, err := i.store.Get(ctx, digest); err == nil {
		return Receipt{}, ErrDuplicateMandate
	} else if !errors.Is(err, ErrNotFound) {
		return Receipt{}, err
	}

	queued, err := i.store.HasNonce(ctx, m.Payer, m.Asset, m.Nonce)
	if err != nil {
		return Receipt{}, err
	}
	if queued {
		return Receipt{}, core.ErrNonceUsed
	}

	var balance uint64
	ledger, err := i.ledgers.GetLedger(ctx, m.Payer, m.Asset)
	switch {
	case err == nil:
		if ledger.UsedNonces.Contains(m.Nonce) {
			return Receipt{}, core.ErrNonceUsed
		}
		balance = ledger.Balance
	case errors.Is(err, core.ErrLedgerNotFound):
	default:
		return Receipt{}, err
	}
	if balance < m.Amount {
		return Receipt{}, core.ErrInsufficientBalance
	}

	deadline := now.Add(i.window).Unix()
	agentSig, err := identity.Sign(i.key, receiptMessage(digest, deadline))
	if err != nil {
		return Receipt{}, fmt.Errorf("mandate: sign receipt: %w", err)
	}
	record := Record{
		Digest:          digest,
		Mandate:         m,
		PayerSignature:  strings.TrimSpace(signed.Signature),
		AgentSignature:  agentSig,
		EnqueueDeadline: deadline,
		Status:          StatusEnqueued,
		EnqueuedAt:      now,
	}
	if err := i.store.Create(ctx, record); err != nil {
		return Receipt{}, err
	}
	i.publish(ctx, record)
	return record.Receipt(i.agent), nil
}

func (i *Intake) publish(ctx context.Context, record Record) {
	if i.enqueuer == nil {
		return
	}
	if err := i.enqueuer.Enqueue(ctx, SettleJobMessage(record.Digest)); err != nil {
		// The polling worker still picks the record up.
		i.logger.Warn("mandate job publish failed", "digest", record.Digest, "error", err)
	}
}

func SettleJobMessage(digest string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          core.JobIDMandateSettle,
		Parameters:     map[string]any{"digest": digest},
		IdempotencyKey: digest,
		DedupPolicy:    "drop",
	}
}

func digestFromMessage(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if digest, ok := msg.Parameters["digest"].(string); ok && strings.TrimSpace(digest) != "" {
		return strings.TrimSpace(digest)
	}
	return strings.TrimSpace(msg.IdempotencyKey)
}
