package query

import (
	"strings"

	"github.com/goliatone/go-custody/identity"
)

const (
	TypeGetConfig     = "custody.query.config.get"
	TypeGetLedger     = "custody.query.ledger.get"
	TypeGetAgent      = "custody.query.agent.get"
	TypeGetMandate    = "custody.query.mandate.get"
	TypeMandateHealth = "custody.query.mandate.health"
)

const DefaultHistoryLimit = 10

type GetConfigMessage struct{}

func (GetConfigMessage) Type() string { return TypeGetConfig }

func (GetConfigMessage) Validate() error { return nil }

type GetLedgerMessage struct {
	User  string
	Asset string
}

func (GetLedgerMessage) Type() string { return TypeGetLedger }

func (m GetLedgerMessage) Validate() error {
	if err := validateIdentity("user", m.User); err != nil {
		return err
	}
	return validateIdentity("asset", m.Asset)
}

type GetAgentMessage struct {
	Agent string
}

func (GetAgentMessage) Type() string { return TypeGetAgent }

func (m GetAgentMessage) Validate() error {
	return validateIdentity("agent", m.Agent)
}

type GetMandateMessage struct {
	Digest string
}

func (GetMandateMessage) Type() string { return TypeGetMandate }

func (m GetMandateMessage) Validate() error {
	if strings.TrimSpace(m.Digest) == "" {
		return queryValidationError("digest", "is required")
	}
	return nil
}

type MandateHealthMessage struct {
	HistoryLimit int
}

func (MandateHealthMessage) Type() string { return TypeMandateHealth }

func (m MandateHealthMessage) Validate() error {
	if m.HistoryLimit < 0 {
		return queryValidationError("history_limit", "must be >= 0")
	}
	return nil
}

func validateIdentity(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return queryValidationError(field, "is required")
	}
	return queryWrapValidation(identity.Validate(value), field)
}
