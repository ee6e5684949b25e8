package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/config"
	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/executor"
	"github.com/ethanlolomg/mini-trading-terminal/service/jupiter"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
	"github.com/ethanlolomg/mini-trading-terminal/service/server"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	"github.com/ethanlolomg/mini-trading-terminal/service/temporal"
	"github.com/ethanlolomg/mini-trading-terminal/service/trade"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server", "config", cfg)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client, one endpoint per process
	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCEndpoints)
	if err != nil {
		logger.Error("failed to select solana RPC endpoint", "error", err)
		os.Exit(1)
	}
	ledger := solana.Connect(rpcURL, metricsCollector, logger,
		solana.WithPollInterval(cfg.ConfirmPollInterval),
	)
	logger.Info("initialized solana RPC client",
		"endpoint", solana.EndpointLabel(rpcURL),
		"total_endpoints", len(cfg.SolanaRPCEndpoints),
	)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	// Token data and bulk balances
	codexClient := codex.NewClient(cfg.CodexAPIURL, cfg.CodexAPIKey, httpClient, metricsCollector, logger)
	var (
		tokens trade.TokenLookup
		bulk   balance.BulkBalanceAPI
	)
	if codexClient.Configured() {
		tokens = codexClient
		if cfg.UseBulkBalances {
			bulk = codexClient
		}
	} else {
		logger.Warn("CODEX_API_KEY not set, token lookups fall back to chain and bulk balances are off")
	}

	reconciler := balance.NewReconciler(ledger, bulk, logger, metricsCollector)
	builder := swap.NewBuilder(
		jupiter.NewClient(cfg.JupiterAPIURL, cfg.JupiterAPIKey, httpClient, metricsCollector, logger),
		logger,
		metricsCollector,
	)

	deps := trade.Deps{
		Reconciler:     reconciler,
		Builder:        builder,
		Tokens:         tokens,
		Mints:          ledger,
		ConfirmTimeout: cfg.ConfirmTimeout,
		Commitment:     cfg.ConfirmCommitment,
		Metrics:        metricsCollector,
		Logger:         logger,
	}

	// Wallet. Without a usable key the panel stays disabled and the server still runs.
	if cfg.TradingEnabled() {
		wallet, err := cfg.LoadWallet()
		if err != nil {
			logger.Error("failed to load wallet key, trading disabled", "error", err)
			deps.WalletErr = err
		} else {
			deps.Wallet = wallet
			deps.Executor = executor.New(wallet, ledger, cfg.ConfirmCommitment, logger, metricsCollector)
			logger.Info("trading enabled", "wallet", wallet.PublicKey().String())
		}
	} else {
		logger.Warn("PRIVATE_KEY not set, trading disabled")
	}

	// Trade journal (optional)
	var journal server.TradeLister
	if cfg.JournalEnabled() {
		store, err := db.Connect(ctx, cfg.DatabaseURL, metricsCollector)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")
		deps.Journal = store
		journal = store
	} else {
		logger.Warn("DATABASE_URL not set, trade journal disabled")
	}

	// Trade events (optional)
	var events server.EventSource
	if cfg.EventsEnabled() {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Publisher = publisher
		events = server.NewNATSEventSource(cfg.NATSURL, logger)
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, trade events disabled")
	}

	// Background resolution of unconfirmed trades (optional)
	if cfg.ResolverEnabled() {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			temporal.ResolveConfig{
				Commitment:   string(cfg.ConfirmCommitment),
				PollInterval: cfg.ResolvePollInterval,
				MaxAttempts:  cfg.ResolveMaxAttempts,
			},
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()
		deps.Resolver = temporalClient
	} else {
		logger.Warn("TEMPORAL_HOST not set, unconfirmed trades are not resolved in the background")
	}

	svc := trade.NewService(deps)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, svc, journal, events, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"trading_enabled", svc.Enabled(),
		"journal_enabled", cfg.JournalEnabled(),
		"events_enabled", cfg.EventsEnabled(),
		"resolver_enabled", cfg.ResolverEnabled(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout. In-flight trades keep their
		// confirmation deadline, so allow for it.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout+10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
