package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

var (
	_ gocmd.Commander[InitializeMessage]      = (*InitializeCommand)(nil)
	_ gocmd.Commander[DepositMessage]         = (*DepositCommand)(nil)
	_ gocmd.Commander[RequestWithdrawMessage] = (*RequestWithdrawCommand)(nil)
	_ gocmd.Commander[ExecuteWithdrawMessage] = (*ExecuteWithdrawCommand)(nil)
	_ gocmd.Commander[SettleMessage]          = (*SettleCommand)(nil)
	_ gocmd.Commander[SetAgentMessage]        = (*SetAgentCommand)(nil)
	_ gocmd.Commander[EnqueueMandateMessage]  = (*EnqueueMandateCommand)(nil)
	_ gocmd.Commander[ProcessMandatesMessage] = (*ProcessMandatesCommand)(nil)
	_ gocmd.Commander[DispatchEventsMessage]  = (*DispatchEventsCommand)(nil)

	_ MutatingService  = (*core.Service)(nil)
	_ MandateIntake    = (*mandate.Intake)(nil)
	_ MandateProcessor = (*mandate.Worker)(nil)
	_ EventDispatcher  = (*core.EventDispatcher)(nil)
)
