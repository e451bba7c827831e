package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"

	"github.com/goliatone/go-custody/identity"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	store           Store
	transferer      Transferer
	deriver         AddressDeriver
	agentLimiter    AgentLimiter
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStore(store Store) Option {
	return func(b *serviceBuilder) {
		b.store = store
	}
}

func WithTransferer(transferer Transferer) Option {
	return func(b *serviceBuilder) {
		b.transferer = transferer
	}
}

func WithAddressDeriver(deriver AddressDeriver) Option {
	return func(b *serviceBuilder) {
		b.deriver = deriver
	}
}

func WithAgentLimiter(limiter AgentLimiter) Option {
	return func(b *serviceBuilder) {
		b.agentLimiter = limiter
	}
}

func WithNow(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("custody", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return custodyErrorMapper(err)
}

func defaultAddressDeriver(cfg Config) AddressDeriver {
	return identity.NewDeriver(cfg.Custody.Namespace)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layerBuilder struct {
	includeZero bool
	root        map[string]any
}

func (b layerBuilder) section(name string) map[string]any {
	if existing, ok := b.root[name].(map[string]any); ok {
		return existing
	}
	section := map[string]any{}
	b.root[name] = section
	return section
}

func (b layerBuilder) str(section string, key string, value string) {
	if b.includeZero || strings.TrimSpace(value) != "" {
		b.target(section)[key] = value
	}
}

func (b layerBuilder) num(section string, key string, value int64) {
	if b.includeZero || value != 0 {
		b.target(section)[key] = value
	}
}

func (b layerBuilder) float(section string, key string, value float64) {
	if b.includeZero || value != 0 {
		b.target(section)[key] = value
	}
}

func (b layerBuilder) flag(section string, key string, value bool) {
	if b.includeZero || value {
		b.target(section)[key] = value
	}
}

func (b layerBuilder) target(section string) map[string]any {
	if section == "" {
		return b.root
	}
	return b.section(section)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	b := layerBuilder{includeZero: includeZero, root: map[string]any{}}
	b.str("", "service_name", cfg.ServiceName)

	b.str("custody", "authority", cfg.Custody.Authority)
	b.str("custody", "namespace", cfg.Custody.Namespace)

	b.str("bootstrap", "admin", cfg.Bootstrap.Admin)
	b.num("bootstrap", "withdraw_delay_seconds", cfg.Bootstrap.WithdrawDelaySeconds)

	b.num("mandates", "settlement_window_seconds", cfg.Mandates.SettlementWindowSeconds)
	b.num("mandates", "max_retries", int64(cfg.Mandates.MaxRetries))
	b.num("mandates", "poll_interval_ms", int64(cfg.Mandates.PollIntervalMillis))
	b.num("mandates", "batch_size", int64(cfg.Mandates.BatchSize))
	b.str("mandates", "agent_secret_key", cfg.Mandates.AgentSecretKey)

	b.float("rate_limit", "agent_rps", cfg.RateLimit.AgentRPS)
	b.num("rate_limit", "agent_burst", int64(cfg.RateLimit.AgentBurst))

	b.num("events", "batch_size", int64(cfg.Events.BatchSize))
	b.num("events", "max_attempts", int64(cfg.Events.MaxAttempts))

	b.str("database", "driver", cfg.Database.Driver)
	b.str("database", "dsn", cfg.Database.DSN)
	b.flag("database", "debug", cfg.Database.Debug)

	b.str("http", "address", cfg.HTTP.Address)
	return b.root
}
