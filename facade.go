package custody

import (
	"fmt"

	custodycommand "github.com/goliatone/go-custody/command"
	"github.com/goliatone/go-custody/core"
	custodyquery "github.com/goliatone/go-custody/query"
)

type CommandQueryService interface {
	custodycommand.MutatingService
	custodyquery.StateReader
}

type Commands struct {
	Initialize      *custodycommand.InitializeCommand
	Deposit         *custodycommand.DepositCommand
	RequestWithdraw *custodycommand.RequestWithdrawCommand
	ExecuteWithdraw *custodycommand.ExecuteWithdrawCommand
	Settle          *custodycommand.SettleCommand
	SetAgent        *custodycommand.SetAgentCommand
	EnqueueMandate  *custodycommand.EnqueueMandateCommand
	ProcessMandates *custodycommand.ProcessMandatesCommand
	DispatchEvents  *custodycommand.DispatchEventsCommand
}

type Queries struct {
	GetConfig     *custodyquery.GetConfigQuery
	GetLedger     *custodyquery.GetLedgerQuery
	GetAgent      *custodyquery.GetAgentQuery
	GetMandate    *custodyquery.GetMandateQuery
	MandateHealth *custodyquery.MandateHealthQuery
}

// Facade bundles the command and query handlers for one custody service.
// Mandate and event handlers are only built when their collaborators are
// supplied.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	intake     custodycommand.MandateIntake
	processor  custodycommand.MandateProcessor
	mandates   custodyquery.MandateReader
	dispatcher custodycommand.EventDispatcher
	agent      core.Identity
}

func WithMandateIntake(intake custodycommand.MandateIntake) FacadeOption {
	return func(options *facadeOptions) {
		options.intake = intake
	}
}

func WithMandateProcessor(processor custodycommand.MandateProcessor) FacadeOption {
	return func(options *facadeOptions) {
		options.processor = processor
	}
}

func WithMandateReader(reader custodyquery.MandateReader) FacadeOption {
	return func(options *facadeOptions) {
		options.mandates = reader
	}
}

func WithEventDispatcher(dispatcher custodycommand.EventDispatcher) FacadeOption {
	return func(options *facadeOptions) {
		options.dispatcher = dispatcher
	}
}

// WithAgent names the agent reported by the mandate health query. Without it
// the agent is taken from the intake when the intake exposes one.
func WithAgent(agent core.Identity) FacadeOption {
	return func(options *facadeOptions) {
		options.agent = agent
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("custody: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.agent == "" {
		cfg.agent = resolveAgent(cfg.intake)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Initialize:      custodycommand.NewInitializeCommand(service),
		Deposit:         custodycommand.NewDepositCommand(service),
		RequestWithdraw: custodycommand.NewRequestWithdrawCommand(service),
		ExecuteWithdraw: custodycommand.NewExecuteWithdrawCommand(service),
		Settle:          custodycommand.NewSettleCommand(service),
		SetAgent:        custodycommand.NewSetAgentCommand(service),
	}
	if cfg.intake != nil {
		facade.commands.EnqueueMandate = custodycommand.NewEnqueueMandateCommand(cfg.intake)
	}
	if cfg.processor != nil {
		facade.commands.ProcessMandates = custodycommand.NewProcessMandatesCommand(cfg.processor)
	}
	if cfg.dispatcher != nil {
		facade.commands.DispatchEvents = custodycommand.NewDispatchEventsCommand(cfg.dispatcher)
	}

	facade.queries = Queries{
		GetConfig: custodyquery.NewGetConfigQuery(service),
		GetLedger: custodyquery.NewGetLedgerQuery(service),
		GetAgent:  custodyquery.NewGetAgentQuery(service),
	}
	if cfg.mandates != nil {
		facade.queries.GetMandate = custodyquery.NewGetMandateQuery(cfg.mandates)
		facade.queries.MandateHealth = custodyquery.NewMandateHealthQuery(cfg.mandates, cfg.agent)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveAgent(intake custodycommand.MandateIntake) core.Identity {
	provider, ok := intake.(interface{ Agent() core.Identity })
	if !ok {
		return ""
	}
	return provider.Agent()
}
