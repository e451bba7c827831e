package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config          Config
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
	capability      *CustodyCapability
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	Store           Store
	Transferer      Transferer
	AddressDeriver  AddressDeriver
	AgentLimiter    AgentLimiter
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("custody", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("custody"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.store == nil {
		builder.store = NewMemoryStore()
	}
	if builder.transferer == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: transferer is required"))
	}
	if builder.deriver == nil {
		builder.deriver = defaultAddressDeriver(finalConfig)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		store:           builder.store,
		transferer:      builder.transferer,
		deriver:         builder.deriver,
		agentLimiter:    builder.agentLimiter,
		capability:      NewCustodyCapability(finalConfig.Custody.Authority),
		now:             builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		Store:           s.store,
		Transferer:      s.transferer,
		AddressDeriver:  s.deriver,
		AgentLimiter:    s.agentLimiter,
	}
}

func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (out GlobalConfig, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"caller":                 req.Caller,
		"withdraw_delay_seconds": req.WithdrawDelaySeconds,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "initialize", err, fields)
	}()

	if err = s.ready(); err != nil {
		return GlobalConfig{}, err
	}
	if err = s.validateIdentity(req.Caller); err != nil {
		return GlobalConfig{}, s.mapError(err)
	}
	if req.WithdrawDelaySeconds < 0 {
		return GlobalConfig{}, s.mapError(ErrInvalidWithdrawDelay)
	}
	address, err := s.deriver.ConfigAddress()
	if err != nil {
		return GlobalConfig{}, s.mapError(err)
	}

	cfg := GlobalConfig{
		Address:              address,
		Admin:                strings.TrimSpace(req.Caller),
		WithdrawDelaySeconds: req.WithdrawDelaySeconds,
		CreatedAt:            s.now().UTC(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if _, loadErr := tx.LoadConfig(ctx); loadErr == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(loadErr, ErrConfigNotFound) {
			return loadErr
		}
		return tx.CreateConfig(ctx, cfg)
	})
	if err != nil {
		err = s.mapError(err)
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *Service) Deposit(ctx context.Context, req DepositRequest) (out Ledger, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user":   req.Caller,
		"asset":  req.Asset,
		"amount": req.Amount,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "deposit", err, fields)
	}()

	if err = s.ready(); err != nil {
		return Ledger{}, err
	}
	if req.Amount == 0 {
		err = s.mapError(ErrInvalidAmount)
		return Ledger{}, err
	}
	address, pool, err := s.ledgerAndPool(req.Caller, req.Asset)
	if err != nil {
		err = s.mapError(err)
		return Ledger{}, err
	}

	var (
		movement    TransferRequest
		transferred bool
	)
	now := s.now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if _, cfgErr := s.loadConfig(ctx, tx); cfgErr != nil {
			return cfgErr
		}
		ledger, loadErr := s.loadOrCreateLedger(ctx, tx, address, req.Caller, req.Asset, now)
		if loadErr != nil {
			return loadErr
		}
		if creditErr := ledger.Credit(req.Amount); creditErr != nil {
			return creditErr
		}
		ledger.UpdatedAt = now
		if saveErr := tx.SaveLedger(ctx, ledger); saveErr != nil {
			return saveErr
		}
		if eventErr := tx.AppendEvent(ctx, NewEvent(Deposited{
			User:   ledger.User,
			Asset:  ledger.Asset,
			Amount: req.Amount,
		}, ledger.Address, now)); eventErr != nil {
			return eventErr
		}
		movement = TransferRequest{
			From:   strings.TrimSpace(req.Caller),
			To:     pool,
			Asset:  ledger.Asset,
			Amount: req.Amount,
			Signer: strings.TrimSpace(req.Caller),
		}
		if transferErr := s.transfer(ctx, movement); transferErr != nil {
			return transferErr
		}
		transferred = true
		out = ledger
		return nil
	})
	if err != nil {
		s.reportUncommittedTransfer(ctx, "deposit", transferred, movement, err)
		err = s.mapError(err)
		return Ledger{}, err
	}
	fields["balance"] = out.Balance
	return out, nil
}

func (s *Service) RequestWithdraw(ctx context.Context, req WithdrawRequest) (out Ledger, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user":   req.Caller,
		"asset":  req.Asset,
		"amount": req.Amount,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "request_withdraw", err, fields)
	}()

	if err = s.ready(); err != nil {
		return Ledger{}, err
	}
	if req.Amount == 0 {
		err = s.mapError(ErrInvalidAmount)
		return Ledger{}, err
	}
	address, err := s.ledgerAddress(req.Caller, req.Asset)
	if err != nil {
		err = s.mapError(err)
		return Ledger{}, err
	}

	now := s.now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		cfg, cfgErr := s.loadConfig(ctx, tx)
		if cfgErr != nil {
			return cfgErr
		}
		ledger, loadErr := s.loadOrCreateLedger(ctx, tx, address, req.Caller, req.Asset, now)
		if loadErr != nil {
			return loadErr
		}
		if lockErr := ledger.RequestWithdraw(req.Amount, now.Unix(), cfg.WithdrawDelaySeconds); lockErr != nil {
			return lockErr
		}
		ledger.UpdatedAt = now
		if saveErr := tx.SaveLedger(ctx, ledger); saveErr != nil {
			return saveErr
		}
		out = ledger
		return tx.AppendEvent(ctx, NewEvent(WithdrawalRequested{
			User:       ledger.User,
			Asset:      ledger.Asset,
			Amount:     req.Amount,
			UnlockTime: ledger.Lock.UnlockTime,
		}, ledger.Address, now))
	})
	if err != nil {
		err = s.mapError(err)
		return Ledger{}, err
	}
	fields["unlock_time"] = out.Lock.UnlockTime
	return out, nil
}

func (s *Service) ExecuteWithdraw(ctx context.Context, req ExecuteWithdrawRequest) (out Ledger, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"user":  req.Caller,
		"asset": req.Asset,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "execute_withdraw", err, fields)
	}()

	if err = s.ready(); err != nil {
		return Ledger{}, err
	}
	address, pool, err := s.ledgerAndPool(req.Caller, req.Asset)
	if err != nil {
		err = s.mapError(err)
		return Ledger{}, err
	}

	var (
		movement    TransferRequest
		transferred bool
	)
	now := s.now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if _, cfgErr := s.loadConfig(ctx, tx); cfgErr != nil {
			return cfgErr
		}
		ledger, loadErr := tx.LoadLedger(ctx, address)
		if errors.Is(loadErr, ErrLedgerNotFound) {
			return ErrNoWithdrawalPending
		}
		if loadErr != nil {
			return loadErr
		}
		amount, releaseErr := ledger.ReleaseWithdrawal(now.Unix())
		if releaseErr != nil {
			return releaseErr
		}
		fields["amount"] = amount
		ledger.UpdatedAt = now
		if saveErr := tx.SaveLedger(ctx, ledger); saveErr != nil {
			return saveErr
		}
		if eventErr := tx.AppendEvent(ctx, NewEvent(WithdrawalExecuted{
			User:   ledger.User,
			Asset:  ledger.Asset,
			Amount: amount,
		}, ledger.Address, now)); eventErr != nil {
			return eventErr
		}
		movement = TransferRequest{
			From:       pool,
			To:         ledger.User,
			Asset:      ledger.Asset,
			Amount:     amount,
			Signer:     s.capability.Authority(),
			Capability: s.capability,
		}
		if transferErr := s.transfer(ctx, movement); transferErr != nil {
			return transferErr
		}
		transferred = true
		out = ledger
		return nil
	})
	if err != nil {
		s.reportUncommittedTransfer(ctx, "execute_withdraw", transferred, movement, err)
		err = s.mapError(err)
		return Ledger{}, err
	}
	return out, nil
}

func (s *Service) Settle(ctx context.Context, req SettleRequest) (out Settlement, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"agent":  req.Caller,
		"payer":  req.Payer,
		"payee":  req.Payee,
		"asset":  req.Asset,
		"amount": req.Amount,
		"nonce":  req.Nonce,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "settle", err, fields)
	}()

	if err = s.ready(); err != nil {
		return Settlement{}, err
	}
	if req.Amount == 0 {
		err = s.mapError(ErrInvalidAmount)
		return Settlement{}, err
	}
	agentAddress, err := s.deriver.AgentAddress(strings.TrimSpace(req.Caller))
	if err != nil {
		err = s.mapError(fmt.Errorf("%w: %v", ErrInvalidIdentity, err))
		return Settlement{}, err
	}
	if err = s.validateIdentity(req.Payee); err != nil {
		err = s.mapError(err)
		return Settlement{}, err
	}
	address, pool, err := s.ledgerAndPool(req.Payer, req.Asset)
	if err != nil {
		err = s.mapError(err)
		return Settlement{}, err
	}

	var (
		movement    TransferRequest
		transferred bool
	)
	now := s.now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if _, cfgErr := s.loadConfig(ctx, tx); cfgErr != nil {
			return cfgErr
		}
		agent, agentErr := tx.LoadAgent(ctx, agentAddress)
		if errors.Is(agentErr, ErrAgentNotFound) {
			return ErrNotAuthorizedSP
		}
		if agentErr != nil {
			return agentErr
		}
		if !agent.Enabled {
			return ErrNotAuthorizedSP
		}
		if s.agentLimiter != nil && !s.agentLimiter.Allow(agent.Agent, now) {
			return ErrRateLimited
		}

		ledger, loadErr := s.loadOrCreateLedger(ctx, tx, address, req.Payer, req.Asset, now)
		if loadErr != nil {
			return loadErr
		}
		if applyErr := ledger.ApplySettlement(req.Amount, req.Nonce, req.Deadline, now.Unix()); applyErr != nil {
			return applyErr
		}
		payee := strings.TrimSpace(req.Payee)
		ledger.UpdatedAt = now
		if saveErr := tx.SaveLedger(ctx, ledger); saveErr != nil {
			return saveErr
		}
		if eventErr := tx.AppendEvent(ctx, NewEvent(Settled{
			Payer:     ledger.User,
			Asset:     ledger.Asset,
			Payee:     payee,
			Amount:    req.Amount,
			Nonce:     req.Nonce,
			Reference: req.Reference,
		}, ledger.Address, now)); eventErr != nil {
			return eventErr
		}
		movement = TransferRequest{
			From:       pool,
			To:         payee,
			Asset:      ledger.Asset,
			Amount:     req.Amount,
			Signer:     s.capability.Authority(),
			Capability: s.capability,
		}
		if transferErr := s.transfer(ctx, movement); transferErr != nil {
			return transferErr
		}
		transferred = true
		out = Settlement{
			Payer:            ledger.User,
			Payee:            payee,
			Agent:            agent.Agent,
			Asset:            ledger.Asset,
			Amount:           req.Amount,
			Nonce:            req.Nonce,
			Reference:        req.Reference,
			RemainingBalance: ledger.Balance,
			SettledAt:        now,
		}
		return nil
	})
	if err != nil {
		s.reportUncommittedTransfer(ctx, "settle", transferred, movement, err)
		err = s.mapError(err)
		return Settlement{}, err
	}
	return out, nil
}

func (s *Service) SetAgent(ctx context.Context, req SetAgentRequest) (out AgentAuthorization, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"caller":  req.Caller,
		"agent":   req.Agent,
		"enabled": req.Enabled,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "set_agent", err, fields)
	}()

	if err = s.ready(); err != nil {
		return AgentAuthorization{}, err
	}
	agentID := strings.TrimSpace(req.Agent)
	address, err := s.deriver.AgentAddress(agentID)
	if err != nil {
		err = s.mapError(fmt.Errorf("%w: %v", ErrInvalidIdentity, err))
		return AgentAuthorization{}, err
	}

	now := s.now().UTC()
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		cfg, cfgErr := s.loadConfig(ctx, tx)
		if cfgErr != nil {
			return cfgErr
		}
		if strings.TrimSpace(req.Caller) != cfg.Admin {
			return ErrNotAuthorized
		}
		agent, loadErr := tx.LoadAgent(ctx, address)
		switch {
		case errors.Is(loadErr, ErrAgentNotFound):
			agent = AgentAuthorization{
				Address:   address,
				Agent:     agentID,
				CreatedAt: now,
			}
		case loadErr != nil:
			return loadErr
		}
		agent.Enabled = req.Enabled
		agent.UpdatedBy = cfg.Admin
		agent.UpdatedAt = now
		if saveErr := tx.SaveAgent(ctx, agent); saveErr != nil {
			return saveErr
		}
		out = agent
		return tx.AppendEvent(ctx, NewEvent(AuthorizationChanged{
			Agent:   agent.Agent,
			Enabled: agent.Enabled,
		}, agent.Address, now))
	})
	if err != nil {
		err = s.mapError(err)
		return AgentAuthorization{}, err
	}
	return out, nil
}

func (s *Service) GetConfig(ctx context.Context) (GlobalConfig, error) {
	if err := s.ready(); err != nil {
		return GlobalConfig{}, err
	}
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return GlobalConfig{}, s.mapError(err)
	}
	return cfg, nil
}

func (s *Service) GetLedger(ctx context.Context, user Identity, asset AssetID) (Ledger, error) {
	if err := s.ready(); err != nil {
		return Ledger{}, err
	}
	address, err := s.ledgerAddress(user, asset)
	if err != nil {
		return Ledger{}, s.mapError(err)
	}
	ledger, err := s.store.GetLedger(ctx, address)
	if err != nil {
		return Ledger{}, s.mapError(err)
	}
	return ledger, nil
}

func (s *Service) GetAgent(ctx context.Context, agent Identity) (AgentAuthorization, error) {
	if err := s.ready(); err != nil {
		return AgentAuthorization{}, err
	}
	address, err := s.deriver.AgentAddress(strings.TrimSpace(agent))
	if err != nil {
		return AgentAuthorization{}, s.mapError(fmt.Errorf("%w: %v", ErrInvalidIdentity, err))
	}
	out, err := s.store.GetAgent(ctx, address)
	if err != nil {
		return AgentAuthorization{}, s.mapError(err)
	}
	return out, nil
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.transferer == nil || s.deriver == nil {
		return fmt.Errorf("core: custody service is not configured")
	}
	return nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) validateIdentity(id Identity) error {
	// The config address does not depend on the caller, so validation goes
	// through the agent derivation which decodes the identity.
	if _, err := s.deriver.AgentAddress(strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

func (s *Service) ledgerAddress(user Identity, asset AssetID) (string, error) {
	address, err := s.deriver.LedgerAddress(strings.TrimSpace(user), strings.TrimSpace(asset))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return address, nil
}

func (s *Service) ledgerAndPool(user Identity, asset AssetID) (string, string, error) {
	address, err := s.ledgerAddress(user, asset)
	if err != nil {
		return "", "", err
	}
	pool, err := s.deriver.PoolAddress(strings.TrimSpace(asset))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return address, pool, nil
}

func (s *Service) loadConfig(ctx context.Context, tx StoreTx) (GlobalConfig, error) {
	cfg, err := tx.LoadConfig(ctx)
	if errors.Is(err, ErrConfigNotFound) {
		return GlobalConfig{}, ErrNotInitialized
	}
	return cfg, err
}

func (s *Service) loadOrCreateLedger(
	ctx context.Context,
	tx StoreTx,
	address string,
	user Identity,
	asset AssetID,
	now time.Time,
) (Ledger, error) {
	ledger, err := tx.LoadLedger(ctx, address)
	if errors.Is(err, ErrLedgerNotFound) {
		fresh := NewLedger(address, user, asset)
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		return tx.CreateLedger(ctx, fresh)
	}
	if err != nil {
		return Ledger{}, err
	}
	return ledger, nil
}

// reportUncommittedTransfer flags a token movement whose bookkeeping did not
// commit. The transfer is the last step before commit, so this only happens
// when the store itself refuses the commit; the movement must be reconciled.
func (s *Service) reportUncommittedTransfer(ctx context.Context, operation string, transferred bool, req TransferRequest, cause error) {
	if !transferred {
		return
	}
	s.logError(ctx, "custody transfer not committed", map[string]any{
		"operation": operation,
		"from":      req.From,
		"to":        req.To,
		"asset":     req.Asset,
		"amount":    req.Amount,
		"error":     cause,
	})
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) error {
	if err := s.transferer.Transfer(ctx, req); err != nil {
		if errors.Is(err, ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}
