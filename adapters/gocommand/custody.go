package gocommand

import (
	"fmt"

	"github.com/goliatone/go-command/runner"

	custodycommand "github.com/goliatone/go-custody/command"
	"github.com/goliatone/go-custody/core"
	custodyquery "github.com/goliatone/go-custody/query"
)

// CustodyHandlers lists the collaborators behind the custody commands and
// queries. Nil collaborators leave their messages unregistered.
type CustodyHandlers struct {
	Service    custodycommand.MutatingService
	State      custodyquery.StateReader
	Intake     custodycommand.MandateIntake
	Processor  custodycommand.MandateProcessor
	Dispatcher custodycommand.EventDispatcher
	Mandates   custodyquery.MandateReader
	Agent      core.Identity
}

// RegisterCustody registers and subscribes every custody handler it has
// collaborators for. On failure all subscriptions made so far are dropped.
func RegisterCustody(adapter *RegistryAdapter, handlers CustodyHandlers, runnerOpts ...runner.Option) (err error) {
	if adapter == nil || adapter.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	defer func() {
		if err != nil {
			adapter.Close()
		}
	}()

	if service := handlers.Service; service != nil {
		if err = RegisterAndSubscribe(adapter, custodycommand.NewInitializeCommand(service), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribe(adapter, custodycommand.NewDepositCommand(service), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribe(adapter, custodycommand.NewRequestWithdrawCommand(service), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribe(adapter, custodycommand.NewExecuteWithdrawCommand(service), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribe(adapter, custodycommand.NewSettleCommand(service), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribe(adapter, custodycommand.NewSetAgentCommand(service), runnerOpts...); err != nil {
			return err
		}
	}
	if handlers.Intake != nil {
		if err = RegisterAndSubscribe(adapter, custodycommand.NewEnqueueMandateCommand(handlers.Intake), runnerOpts...); err != nil {
			return err
		}
	}
	if handlers.Processor != nil {
		if err = RegisterAndSubscribe(adapter, custodycommand.NewProcessMandatesCommand(handlers.Processor), runnerOpts...); err != nil {
			return err
		}
	}
	if handlers.Dispatcher != nil {
		if err = RegisterAndSubscribe(adapter, custodycommand.NewDispatchEventsCommand(handlers.Dispatcher), runnerOpts...); err != nil {
			return err
		}
	}

	if state := handlers.State; state != nil {
		if err = RegisterAndSubscribeQuery(adapter, custodyquery.NewGetConfigQuery(state), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribeQuery(adapter, custodyquery.NewGetLedgerQuery(state), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribeQuery(adapter, custodyquery.NewGetAgentQuery(state), runnerOpts...); err != nil {
			return err
		}
	}
	if mandates := handlers.Mandates; mandates != nil {
		if err = RegisterAndSubscribeQuery(adapter, custodyquery.NewGetMandateQuery(mandates), runnerOpts...); err != nil {
			return err
		}
		if err = RegisterAndSubscribeQuery(adapter, custodyquery.NewMandateHealthQuery(mandates, handlers.Agent), runnerOpts...); err != nil {
			return err
		}
	}
	return nil
}
