package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
	"github.com/google/uuid"
)

func formatAmount(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func parseAmount(field string, value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: invalid %s %q: %w", field, value, err)
	}
	return parsed, nil
}

func fromConfig(cfg core.GlobalConfig) *configRecord {
	return &configRecord{
		ID:                   uuid.NewString(),
		Address:              strings.TrimSpace(cfg.Address),
		Admin:                strings.TrimSpace(cfg.Admin),
		WithdrawDelaySeconds: cfg.WithdrawDelaySeconds,
		CreatedAt:            nonZeroTime(cfg.CreatedAt),
	}
}

func (r *configRecord) toDomain() core.GlobalConfig {
	return core.GlobalConfig{
		Address:              r.Address,
		Admin:                r.Admin,
		WithdrawDelaySeconds: r.WithdrawDelaySeconds,
		CreatedAt:            r.CreatedAt.UTC(),
	}
}

func fromLedger(ledger core.Ledger) *ledgerRecord {
	values := ledger.UsedNonces.Values()
	nonces := make([]string, 0, len(values))
	for _, nonce := range values {
		nonces = append(nonces, formatAmount(nonce))
	}
	return &ledgerRecord{
		ID:           uuid.NewString(),
		Address:      strings.TrimSpace(ledger.Address),
		UserIdentity: strings.TrimSpace(ledger.User),
		Asset:        strings.TrimSpace(ledger.Asset),
		Balance:      formatAmount(ledger.Balance),
		LockedAmount: formatAmount(ledger.Lock.LockedAmount),
		UnlockTime:   ledger.Lock.UnlockTime,
		UsedNonces:   nonces,
		CreatedAt:    nonZeroTime(ledger.CreatedAt),
		UpdatedAt:    nonZeroTime(ledger.UpdatedAt),
	}
}

func (r *ledgerRecord) toDomain() (core.Ledger, error) {
	balance, err := parseAmount("balance", r.Balance)
	if err != nil {
		return core.Ledger{}, err
	}
	locked, err := parseAmount("locked amount", r.LockedAmount)
	if err != nil {
		return core.Ledger{}, err
	}
	nonces := make([]uint64, 0, len(r.UsedNonces))
	for _, raw := range r.UsedNonces {
		nonce, err := parseAmount("nonce", raw)
		if err != nil {
			return core.Ledger{}, err
		}
		nonces = append(nonces, nonce)
	}
	return core.Ledger{
		Address: r.Address,
		User:    r.UserIdentity,
		Asset:   r.Asset,
		Balance: balance,
		Lock: core.WithdrawLock{
			LockedAmount: locked,
			UnlockTime:   r.UnlockTime,
		},
		UsedNonces: core.NewNonceWindow(nonces...),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}, nil
}

func fromAgent(agent core.AgentAuthorization) *agentRecord {
	return &agentRecord{
		ID:        uuid.NewString(),
		Address:   strings.TrimSpace(agent.Address),
		Agent:     strings.TrimSpace(agent.Agent),
		Enabled:   agent.Enabled,
		UpdatedBy: strings.TrimSpace(agent.UpdatedBy),
		CreatedAt: nonZeroTime(agent.CreatedAt),
		UpdatedAt: nonZeroTime(agent.UpdatedAt),
	}
}

func (r *agentRecord) toDomain() core.AgentAuthorization {
	return core.AgentAuthorization{
		Address:   r.Address,
		Agent:     r.Agent,
		Enabled:   r.Enabled,
		UpdatedBy: r.UpdatedBy,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func fromEvent(event core.Event, now time.Time) *outboxRecord {
	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return &outboxRecord{
		ID:         uuid.NewString(),
		EventID:    strings.TrimSpace(event.ID),
		EventName:  strings.TrimSpace(event.Name),
		Address:    strings.TrimSpace(event.Address),
		Payload:    copyAnyMap(event.Payload),
		Status:     outboxStatusPending,
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r *outboxRecord) toDomain() core.Event {
	return core.Event{
		ID:         r.EventID,
		Name:       r.EventName,
		Address:    r.Address,
		Payload:    copyAnyMap(r.Payload),
		OccurredAt: r.OccurredAt.UTC(),
		Attempts:   r.Attempts,
	}
}

func fromMandate(record mandate.Record) *mandateRecord {
	m := record.Mandate
	out := &mandateRecord{
		ID:              uuid.NewString(),
		Digest:          strings.TrimSpace(record.Digest),
		Payer:           m.Payer,
		Asset:           m.Asset,
		Payee:           m.Payee,
		Amount:          formatAmount(m.Amount),
		Nonce:           formatAmount(m.Nonce),
		Deadline:        m.Deadline,
		Ref:             m.Reference,
		PayerSig:        record.PayerSignature,
		AgentSig:        record.AgentSignature,
		EnqueueDeadline: record.EnqueueDeadline,
		Status:          string(record.Status),
		Retries:         record.Retries,
		LastError:       record.LastError,
		EnqueuedAt:      nonZeroTime(record.EnqueuedAt),
	}
	if record.SettledAt != nil {
		settledAt := record.SettledAt.UTC()
		out.SettledAt = &settledAt
	}
	return out
}

func (r *mandateRecord) toDomain() (mandate.Record, error) {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return mandate.Record{}, err
	}
	nonce, err := parseAmount("nonce", r.Nonce)
	if err != nil {
		return mandate.Record{}, err
	}
	out := mandate.Record{
		Digest: r.Digest,
		Mandate: mandate.Mandate{
			Payer:     r.Payer,
			Asset:     r.Asset,
			Payee:     r.Payee,
			Amount:    amount,
			Nonce:     nonce,
			Deadline:  r.Deadline,
			Reference: r.Ref,
		},
		PayerSignature:  r.PayerSig,
		AgentSignature:  r.AgentSig,
		EnqueueDeadline: r.EnqueueDeadline,
		Status:          mandate.Status(r.Status),
		Retries:         r.Retries,
		LastError:       r.LastError,
		EnqueuedAt:      r.EnqueuedAt.UTC(),
	}
	if r.SettledAt != nil {
		settledAt := r.SettledAt.UTC()
		out.SettledAt = &settledAt
	}
	return out, nil
}

func nonZeroTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
