package core

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{}, WithTransferer(&recordingTransferer{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil || deps.ErrorMapper == nil {
		t.Fatalf("expected default error factory and mapper")
	}
	if deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default config provider and options resolver")
	}
	if _, ok := deps.Store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store by default, got %T", deps.Store)
	}
	if deps.AddressDeriver == nil {
		t.Fatalf("expected default address deriver")
	}
	if deps.AgentLimiter != nil {
		t.Fatalf("expected no agent limiter unless configured")
	}
	if got := svc.Config().ServiceName; got != "custody" {
		t.Fatalf("expected default config service_name=custody, got %q", got)
	}
	if got := svc.Config().Bootstrap.WithdrawDelaySeconds; got != DefaultWithdrawDelaySeconds {
		t.Fatalf("expected default withdraw delay, got %d", got)
	}
}

func TestNewService_RequiresTransferer(t *testing.T) {
	_, err := NewService(Config{})
	if err == nil {
		t.Fatalf("expected missing transferer error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != CustodyErrorBadInput {
		t.Fatalf("expected bad input envelope, got %#v", err)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	store := NewMemoryStore()
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved"}}
	limiter := &staticLimiter{allow: true}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithStore(store),
		WithTransferer(&recordingTransferer{}),
		WithAgentLimiter(limiter),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolved := deps.LoggerProvider.GetLogger("custody.override"); resolved != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.Store != store {
		t.Fatalf("expected custom store override")
	}
	if deps.AgentLimiter != limiter {
		t.Fatalf("expected custom agent limiter override")
	}
	if deps.ConfigProvider != configProvider || deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom config provider and options resolver")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}

	_, err = svc.Deposit(context.Background(), DepositRequest{Caller: testUser, Asset: testAsset, Amount: 0})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom mapper to shape errors, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"custody": map[string]any{
			"authority": "vault-authority",
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"},
		WithConfigProvider(provider),
		WithTransferer(&recordingTransferer{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.Custody.Authority != "vault-authority" {
		t.Fatalf("expected config layer authority, got %q", cfg.Custody.Authority)
	}
	if cfg.Custody.Namespace != DefaultConfig().Custody.Namespace {
		t.Fatalf("expected default namespace to survive, got %q", cfg.Custody.Namespace)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
	cfg = DefaultConfig()
	cfg.Bootstrap.WithdrawDelaySeconds = -5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative delay to fail")
	}
}
