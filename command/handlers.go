package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

type MutatingService interface {
	Initialize(ctx context.Context, req core.InitializeRequest) (core.GlobalConfig, error)
	Deposit(ctx context.Context, req core.DepositRequest) (core.Ledger, error)
	RequestWithdraw(ctx context.Context, req core.WithdrawRequest) (core.Ledger, error)
	ExecuteWithdraw(ctx context.Context, req core.ExecuteWithdrawRequest) (core.Ledger, error)
	Settle(ctx context.Context, req core.SettleRequest) (core.Settlement, error)
	SetAgent(ctx context.Context, req core.SetAgentRequest) (core.AgentAuthorization, error)
}

type MandateIntake interface {
	Enqueue(ctx context.Context, signed mandate.SignedMandate) (mandate.Receipt, error)
}

type MandateProcessor interface {
	ProcessPending(ctx context.Context, limit int) (mandate.WorkerStats, error)
}

type EventDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

type InitializeCommand struct {
	service MutatingService
}

func NewInitializeCommand(service MutatingService) *InitializeCommand {
	return &InitializeCommand{service: service}
}

func (c *InitializeCommand) Execute(ctx context.Context, msg InitializeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initialize service is required")
	}
	out, err := c.service.Initialize(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DepositCommand struct {
	service MutatingService
}

func NewDepositCommand(service MutatingService) *DepositCommand {
	return &DepositCommand{service: service}
}

func (c *DepositCommand) Execute(ctx context.Context, msg DepositMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: deposit service is required")
	}
	out, err := c.service.Deposit(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RequestWithdrawCommand struct {
	service MutatingService
}

func NewRequestWithdrawCommand(service MutatingService) *RequestWithdrawCommand {
	return &RequestWithdrawCommand{service: service}
}

func (c *RequestWithdrawCommand) Execute(ctx context.Context, msg RequestWithdrawMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: withdraw service is required")
	}
	out, err := c.service.RequestWithdraw(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExecuteWithdrawCommand struct {
	service MutatingService
}

func NewExecuteWithdrawCommand(service MutatingService) *ExecuteWithdrawCommand {
	return &ExecuteWithdrawCommand{service: service}
}

func (c *ExecuteWithdrawCommand) Execute(ctx context.Context, msg ExecuteWithdrawMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: withdraw service is required")
	}
	out, err := c.service.ExecuteWithdraw(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SettleCommand struct {
	service MutatingService
}

func NewSettleCommand(service MutatingService) *SettleCommand {
	return &SettleCommand{service: service}
}

func (c *SettleCommand) Execute(ctx context.Context, msg SettleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: settle service is required")
	}
	out, err := c.service.Settle(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetAgentCommand struct {
	service MutatingService
}

func NewSetAgentCommand(service MutatingService) *SetAgentCommand {
	return &SetAgentCommand{service: service}
}

func (c *SetAgentCommand) Execute(ctx context.Context, msg SetAgentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: agent service is required")
	}
	out, err := c.service.SetAgent(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnqueueMandateCommand struct {
	intake MandateIntake
}

func NewEnqueueMandateCommand(intake MandateIntake) *EnqueueMandateCommand {
	return &EnqueueMandateCommand{intake: intake}
}

func (c *EnqueueMandateCommand) Execute(ctx context.Context, msg EnqueueMandateMessage) error {
	if c == nil || c.intake == nil {
		return commandDependencyError("command: mandate intake is required")
	}
	out, err := c.intake.Enqueue(ctx, msg.Mandate)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessMandatesCommand struct {
	processor MandateProcessor
}

func NewProcessMandatesCommand(processor MandateProcessor) *ProcessMandatesCommand {
	return &ProcessMandatesCommand{processor: processor}
}

func (c *ProcessMandatesCommand) Execute(ctx context.Context, msg ProcessMandatesMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: mandate processor is required")
	}
	out, err := c.processor.ProcessPending(ctx, msg.Limit)
	storeResult(ctx, out)
	return err
}

type DispatchEventsCommand struct {
	dispatcher EventDispatcher
}

func NewDispatchEventsCommand(dispatcher EventDispatcher) *DispatchEventsCommand {
	return &DispatchEventsCommand{dispatcher: dispatcher}
}

func (c *DispatchEventsCommand) Execute(ctx context.Context, msg DispatchEventsMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: event dispatcher is required")
	}
	out, err := c.dispatcher.DispatchPending(ctx, msg.BatchSize)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
