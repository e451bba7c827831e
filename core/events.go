package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	EventDeposited            = "custody.deposited"
	EventWithdrawalRequested  = "custody.withdrawal.requested"
	EventWithdrawalExecuted   = "custody.withdrawal.executed"
	EventSettled              = "custody.settled"
	EventAuthorizationChanged = "custody.authorization.changed"
)

// Event is the outbox envelope for a domain event. Amounts and nonces are
// carried as decimal strings so they survive JSON round trips exactly.
type Event struct {
	ID         string
	Name       string
	Address    string
	Payload    map[string]any
	OccurredAt time.Time
	Attempts   int
}

type DomainEvent interface {
	EventName() string
	EventPayload() map[string]any
}

type Deposited struct {
	User   Identity
	Asset  AssetID
	Amount uint64
}

func (Deposited) EventName() string { return EventDeposited }

func (e Deposited) EventPayload() map[string]any {
	return map[string]any{
		"user":   e.User,
		"asset":  e.Asset,
		"amount": formatUint(e.Amount),
	}
}

type WithdrawalRequested struct {
	User       Identity
	Asset      AssetID
	Amount     uint64
	UnlockTime int64
}

func (WithdrawalRequested) EventName() string { return EventWithdrawalRequested }

func (e WithdrawalRequested) EventPayload() map[string]any {
	return map[string]any{
		"user":        e.User,
		"asset":       e.Asset,
		"amount":      formatUint(e.Amount),
		"unlock_time": strconv.FormatInt(e.UnlockTime, 10),
	}
}

type WithdrawalExecuted struct {
	User   Identity
	Asset  AssetID
	Amount uint64
}

func (WithdrawalExecuted) EventName() string { return EventWithdrawalExecuted }

func (e WithdrawalExecuted) EventPayload() map[string]any {
	return map[string]any{
		"user":   e.User,
		"asset":  e.Asset,
		"amount": formatUint(e.Amount),
	}
}

type Settled struct {
	Payer     Identity
	Asset     AssetID
	Payee     Identity
	Amount    uint64
	Nonce     uint64
	Reference Reference
}

func (Settled) EventName() string { return EventSettled }

func (e Settled) EventPayload() map[string]any {
	return map[string]any{
		"payer":     e.Payer,
		"asset":     e.Asset,
		"payee":     e.Payee,
		"amount":    formatUint(e.Amount),
		"nonce":     formatUint(e.Nonce),
		"reference": e.Reference.String(),
	}
}

type AuthorizationChanged struct {
	Agent   Identity
	Enabled bool
}

func (AuthorizationChanged) EventName() string { return EventAuthorizationChanged }

func (e AuthorizationChanged) EventPayload() map[string]any {
	return map[string]any{
		"agent":   e.Agent,
		"enabled": e.Enabled,
	}
}

func NewEvent(event DomainEvent, address string, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       event.EventName(),
		Address:    strings.TrimSpace(address),
		Payload:    event.EventPayload(),
		OccurredAt: occurredAt.UTC(),
	}
}

func formatUint(value uint64) string {
	return strconv.FormatUint(value, 10)
}
