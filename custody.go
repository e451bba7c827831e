package custody

import "github.com/goliatone/go-custody/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Store = core.Store
type StoreTx = core.StoreTx
type Transferer = core.Transferer
type TransferRequest = core.TransferRequest
type AgentLimiter = core.AgentLimiter
type AddressDeriver = core.AddressDeriver
type MetricsRecorder = core.MetricsRecorder

type Identity = core.Identity
type AssetID = core.AssetID
type GlobalConfig = core.GlobalConfig
type Ledger = core.Ledger
type AgentAuthorization = core.AgentAuthorization
type Settlement = core.Settlement
type Event = core.Event

type InitializeRequest = core.InitializeRequest

type DepositRequest = core.DepositRequest

type WithdrawRequest = core.WithdrawRequest

type ExecuteWithdrawRequest = core.ExecuteWithdrawRequest

type SettleRequest = core.SettleRequest

type SetAgentRequest = core.SetAgentRequest

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorFactory    = core.WithErrorFactory
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithStore           = core.WithStore
	WithTransferer      = core.WithTransferer
	WithAddressDeriver  = core.WithAddressDeriver
	WithAgentLimiter    = core.WithAgentLimiter
	WithNow             = core.WithNow
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
