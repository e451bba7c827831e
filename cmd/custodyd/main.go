package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-custody/adapters/gojob"
	"github.com/goliatone/go-custody/adapters/gologger"
	"github.com/goliatone/go-custody/adapters/prommetrics"
	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
	"github.com/goliatone/go-custody/mandate"
	custodymigrations "github.com/goliatone/go-custody/migrations"
	"github.com/goliatone/go-custody/ratelimit"
	sqlstore "github.com/goliatone/go-custody/store/sql"
	"github.com/goliatone/go-custody/transfer"
	"github.com/goliatone/go-custody/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, newLogger(level)); err != nil {
		fmt.Fprintf(os.Stderr, "custodyd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, base core.Logger) error {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	provider, logger, _, jobLogger := gologger.ResolveForJob(cfg.ServiceName, nil, base)

	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("custodyd: cache: %w", err)
	}
	ledgers, err := sqlstore.NewCachedStore(factory.LedgerStore(), cacheService)
	if err != nil {
		return err
	}
	ledgers.WithLogger(logger)

	recorder := prommetrics.NewRecorder(prommetrics.Config{})
	bank := transfer.NewMemoryBank(cfg.Custody.Authority)
	opts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
		core.WithStore(ledgers),
		core.WithTransferer(bank),
	}
	if cfg.RateLimit.Enabled() {
		opts = append(opts, core.WithAgentLimiter(ratelimit.FromConfig(cfg.RateLimit)))
	}
	svc, err := core.NewService(cfg, opts...)
	if err != nil {
		return err
	}
	if err := bootstrap(ctx, svc, cfg.Bootstrap, logger); err != nil {
		return err
	}

	agentKey, err := resolveAgentKey(cfg.Mandates.AgentSecretKey, logger)
	if err != nil {
		return err
	}
	queue := gojob.NewMemoryQueue().WithLogger(jobLogger)
	enqueuer := gojob.NewEnqueuerAdapter(queue)
	intake, err := mandate.NewIntake(mandate.IntakeConfig{
		AgentKey:         agentKey,
		SettlementWindow: cfg.Mandates.SettlementWindow(),
		Store:            factory.MandateStore(),
		Ledgers:          svc,
		Enqueuer:         enqueuer,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	worker, err := mandate.NewWorker(mandate.WorkerConfig{
		Agent:        intake.Agent(),
		Store:        factory.MandateStore(),
		Settler:      svc,
		MaxRetries:   cfg.Mandates.MaxRetries,
		PollInterval: cfg.Mandates.PollInterval(),
		BatchSize:    cfg.Mandates.BatchSize,
		Hooks: []core.JobWorkerHook{
			gologger.NewWorkerHook(logger),
			prommetrics.NewWorkerHook(recorder),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := core.NewEventDispatcher(factory.OutboxStore(), core.EventDispatcherConfig{
		BatchSize:   cfg.Events.BatchSize,
		MaxAttempts: cfg.Events.MaxAttempts,
	}, logEvents(logger))
	if err != nil {
		return err
	}

	consumer, err := gojob.NewConsumer(gojob.NewDequeuerAdapter(queue, gojob.DefaultRetryPolicy()), logger)
	if err != nil {
		return err
	}
	if err := consumer.Route(gojob.JobIDMandateSettle, worker); err != nil {
		return err
	}
	if err := consumer.Route(gojob.JobIDEventDispatch, gojob.EventDispatchHandler(dispatcher, cfg.Events.BatchSize)); err != nil {
		return err
	}

	router, err := transport.NewRouter(transport.Config{
		Intake:   intake,
		State:    svc,
		Mandates: factory.MandateStore(),
		Agent:    intake.Agent(),
		Metrics:  promhttp.Handler(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("custodyd starting",
		"address", cfg.HTTP.Address,
		"agent", intake.Agent(),
		"driver", cfg.Database.Driver,
		"rate_limited", cfg.RateLimit.Enabled(),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return consumer.Run(ctx) })
	group.Go(func() error { return worker.Run(ctx) })
	group.Go(func() error {
		return scheduleEventDispatch(ctx, enqueuer, cfg.Events.BatchSize, cfg.Mandates.PollInterval())
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()
	logger.Info("custodyd stopped", "error", err)
	return err
}

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	var loader core.RawConfigLoader = core.StaticConfigLoader{}
	if strings.TrimSpace(path) != "" {
		loader = core.NewYAMLConfigLoader(path)
	}
	cfg, err := core.NewCfgxConfigProvider(loader).Load(ctx, core.DefaultConfig())
	if err != nil {
		return core.Config{}, fmt.Errorf("custodyd: load config: %w", err)
	}
	return cfg, nil
}

type persistenceConfig struct {
	core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.Debug }
func (c persistenceConfig) GetDriver() string             { return c.Driver }
func (c persistenceConfig) GetServer() string             { return c.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-custody" }

func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	var (
		driver      string
		dialect     schema.Dialect
		dialectName string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		driver, dialect, dialectName = "sqlite3", sqlitedialect.New(), custodymigrations.DialectSQLite
	case "postgres", "pg":
		driver, dialect, dialectName = "postgres", pgdialect.New(), custodymigrations.DialectPostgres
	default:
		return nil, fmt.Errorf("custodyd: unsupported database driver %q", cfg.Driver)
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("custodyd: open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{DatabaseConfig: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("custodyd: persistence client: %w", err)
	}
	if _, err := custodymigrations.Register(ctx, func(_ context.Context, name string, _ string, fsys fs.FS) error {
		if name == dialectName {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, custodymigrations.WithValidationTargets(dialectName)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("custodyd: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("custodyd: migrate: %w", err)
	}
	return client, nil
}

func bootstrap(ctx context.Context, svc *core.Service, cfg core.BootstrapConfig, logger core.Logger) error {
	admin := strings.TrimSpace(cfg.Admin)
	if admin == "" {
		return nil
	}
	_, err := svc.Initialize(ctx, core.InitializeRequest{
		Caller:               admin,
		WithdrawDelaySeconds: cfg.WithdrawDelaySeconds,
	})
	if errors.Is(err, core.ErrAlreadyInitialized) {
		logger.Debug("custody already initialized", "admin", admin)
		return nil
	}
	if err != nil {
		return fmt.Errorf("custodyd: bootstrap: %w", err)
	}
	return nil
}

func resolveAgentKey(secret string, logger core.Logger) (ed25519.PrivateKey, error) {
	if strings.TrimSpace(secret) != "" {
		key, err := identity.PrivateKey(secret)
		if err != nil {
			return nil, fmt.Errorf("custodyd: agent key: %w", err)
		}
		return key, nil
	}
	agent, key, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("custodyd: generate agent key: %w", err)
	}
	logger.Warn("no agent key configured, using an ephemeral key", "agent", agent)
	return key, nil
}

func scheduleEventDispatch(ctx context.Context, enqueuer core.JobEnqueuer, batchSize int, interval time.Duration) error {
	if interval <= 0 {
		interval = mandate.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := enqueuer.Enqueue(ctx, gojob.EventDispatchMessage(batchSize)); err != nil && ctx.Err() == nil {
				return fmt.Errorf("custodyd: schedule event dispatch: %w", err)
			}
		}
	}
}

func logEvents(logger core.Logger) core.EventHandler {
	return core.EventHandlerFunc(func(_ context.Context, event core.Event) error {
		logger.Info("custody event", "event_id", event.ID, "name", event.Name, "address", event.Address)
		return nil
	})
}
