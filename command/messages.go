package command

import (
	"strings"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
	"github.com/goliatone/go-custody/mandate"
)

const (
	TypeInitialize      = "custody.command.initialize"
	TypeDeposit         = "custody.command.deposit"
	TypeRequestWithdraw = "custody.command.withdraw.request"
	TypeExecuteWithdraw = "custody.command.withdraw.execute"
	TypeSettle          = "custody.command.settle"
	TypeSetAgent        = "custody.command.agent.set"
	TypeEnqueueMandate  = "custody.command.mandate.enqueue"
	TypeProcessMandates = "custody.command.mandate.process"
	TypeDispatchEvents  = "custody.command.events.dispatch"
)

type InitializeMessage struct {
	Request core.InitializeRequest
}

func (InitializeMessage) Type() string { return TypeInitialize }

func (m InitializeMessage) Validate() error {
	if err := validateIdentity("caller", m.Request.Caller); err != nil {
		return err
	}
	if m.Request.WithdrawDelaySeconds < 0 {
		return commandValidationError("withdraw_delay_seconds", "must not be negative")
	}
	return nil
}

type DepositMessage struct {
	Request core.DepositRequest
}

func (DepositMessage) Type() string { return TypeDeposit }

func (m DepositMessage) Validate() error {
	if err := validateIdentity("caller", m.Request.Caller); err != nil {
		return err
	}
	if err := validateIdentity("asset", m.Request.Asset); err != nil {
		return err
	}
	return validateAmount(m.Request.Amount)
}

type RequestWithdrawMessage struct {
	Request core.WithdrawRequest
}

func (RequestWithdrawMessage) Type() string { return TypeRequestWithdraw }

func (m RequestWithdrawMessage) Validate() error {
	if err := validateIdentity("caller", m.Request.Caller); err != nil {
		return err
	}
	if err := validateIdentity("asset", m.Request.Asset); err != nil {
		return err
	}
	return validateAmount(m.Request.Amount)
}

type ExecuteWithdrawMessage struct {
	Request core.ExecuteWithdrawRequest
}

func (ExecuteWithdrawMessage) Type() string { return TypeExecuteWithdraw }

func (m ExecuteWithdrawMessage) Validate() error {
	if err := validateIdentity("caller", m.Request.Caller); err != nil {
		return err
	}
	return validateIdentity("asset", m.Request.Asset)
}

type SettleMessage struct {
	Request core.SettleRequest
}

func (SettleMessage) Type() string { return TypeSettle }

func (m SettleMessage) Validate() error {
	for _, field := range []struct{ name, value string }{
		{"caller", m.Request.Caller},
		{"payer", m.Request.Payer},
		{"payee", m.Request.Payee},
		{"asset", m.Request.Asset},
	} {
		if err := validateIdentity(field.name, field.value); err != nil {
			return err
		}
	}
	return validateAmount(m.Request.Amount)
}

type SetAgentMessage struct {
	Request core.SetAgentRequest
}

func (SetAgentMessage) Type() string { return TypeSetAgent }

func (m SetAgentMessage) Validate() error {
	if err := validateIdentity("caller", m.Request.Caller); err != nil {
		return err
	}
	return validateIdentity("agent", m.Request.Agent)
}

type EnqueueMandateMessage struct {
	Mandate mandate.SignedMandate
}

func (EnqueueMandateMessage) Type() string { return TypeEnqueueMandate }

func (m EnqueueMandateMessage) Validate() error {
	if strings.TrimSpace(m.Mandate.Signature) == "" {
		return commandValidationError("payer_signature", "is required")
	}
	return commandWrapValidation(m.Mandate.Mandate.Validate(), "mandate")
}

type ProcessMandatesMessage struct {
	Limit int
}

func (ProcessMandatesMessage) Type() string { return TypeProcessMandates }

func (m ProcessMandatesMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "must be >= 0")
	}
	return nil
}

type DispatchEventsMessage struct {
	BatchSize int
}

func (DispatchEventsMessage) Type() string { return TypeDispatchEvents }

func (m DispatchEventsMessage) Validate() error {
	if m.BatchSize < 0 {
		return commandValidationError("batch_size", "must be >= 0")
	}
	return nil
}

func validateIdentity(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return commandValidationError(field, "is required")
	}
	return commandWrapValidation(identity.Validate(value), field)
}

func validateAmount(amount uint64) error {
	if amount == 0 {
		return commandValidationError("amount", "must be positive")
	}
	return nil
}
