package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"signal_trader/internal/api"
	"signal_trader/internal/bootstrap"
	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/engine"
	"signal_trader/internal/exchange/okx"
	"signal_trader/internal/infrastructure/health"
	"signal_trader/internal/journal"
	"signal_trader/internal/mock"
	"signal_trader/internal/signal"
	"signal_trader/pkg/concurrency"
	"signal_trader/pkg/liveserver"
	"signal_trader/pkg/logging"
	"signal_trader/pkg/telemetry"
)

var (
	configFile = flag.String("config", "configs/signal_server.yaml", "Path to configuration file")
	checkOnly  = flag.Bool("check-config", false, "Validate the configuration and exit")
)

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			cfg.Server.APIPort = p
		}
	}
	if *checkOnly {
		fmt.Print(cfg.String())
		return
	}

	tel, err := telemetry.Setup(telemetry.Options{
		ServiceName:     cfg.Telemetry.ServiceName,
		EnableTracing:   cfg.Telemetry.EnableTracing,
		EnableLogExport: cfg.Telemetry.EnableLogExport,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up telemetry: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, tel); err != nil {
		logger.Error("Signal server exited", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func run(cfg *config.Config, logger core.ILogger, tel *telemetry.Telemetry) error {
	app := bootstrap.NewApp(logger)
	app.OnShutdown(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	})

	exch, err := newExchange(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Starting signal server",
		"exchange", exch.GetName(),
		"simulated", cfg.Exchange.Simulated,
		"api_port", cfg.Server.APIPort)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = exch.CheckHealth(startupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("exchange health check failed, check credentials and connectivity: %w", err)
	}

	dcaPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "DCAPool",
		MaxWorkers:  cfg.Engine.DCAWorkers,
		MaxCapacity: cfg.Engine.DCAWorkers * 16,
	}, logger)
	app.OnShutdown(func() error {
		dcaPool.Stop()
		return nil
	})

	eng := engine.NewEngine(exch, exch, logger,
		engine.WithOrderBookDepth(cfg.Engine.OrderBookDepth),
		engine.WithDCAPool(dcaPool))
	validator := signal.NewValidator(exch, logger)

	healthManager := health.NewHealthManager(logger)
	healthManager.Register("exchange", checkWithTimeout(exch.CheckHealth))

	opts := []api.Option{api.WithHealth(healthManager)}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		app.OnShutdown(store.Close)
		healthManager.Register("journal", checkWithTimeout(store.CheckHealth))
		opts = append(opts, api.WithJournal(store))
		logger.Info("Signal journal enabled", "path", cfg.Journal.Path)
	}

	hub := liveserver.NewHub(logger)
	dashboard := liveserver.NewServer(hub, logger, cfg.Server.AllowedOrigins)
	dashboard.SetProduction(cfg.Server.Production)
	opts = append(opts, api.WithFeed(hub))

	apiServer := api.NewServer(cfg.Server, validator, eng, logger, opts...)
	grpcHealth := health.NewGRPCServer(healthManager, logger, 0)

	return app.Run(
		bootstrap.Named("api", bootstrap.RunnerFunc(apiServer.Start)),
		bootstrap.Named("hub", bootstrap.RunnerFunc(func(ctx context.Context) error {
			hub.Run(ctx)
			return nil
		})),
		bootstrap.Named("dashboard", bootstrap.RunnerFunc(func(ctx context.Context) error {
			return dashboard.Start(ctx, net.JoinHostPort("", strconv.Itoa(cfg.Server.DashboardPort)))
		})),
		bootstrap.Named("grpc_health", bootstrap.RunnerFunc(func(ctx context.Context) error {
			return grpcHealth.ListenAndServe(ctx, cfg.Server.GRPCPort)
		})),
	)
}

func newExchange(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	if cfg.App.Exchange == "mock" {
		logger.Warn("Using MOCK exchange, no orders reach a real venue")
		return mock.NewSeededExchange(time.Now()), nil
	}
	exch, err := okx.NewExchange(&cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exchange adapter: %w", err)
	}
	return exch, nil
}

func checkWithTimeout(check func(ctx context.Context) error) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return check(ctx)
	}
}
