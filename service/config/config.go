package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/jupiter"
	"github.com/ethanlolomg/mini-trading-terminal/service/keys"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/gagliardetto/solana-go/rpc"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
//
// PrivateKey is secret material. Config implements slog.LogValuer so that
// logging a Config never prints it.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration. SolanaRPCURL may be a comma-separated list.
	SolanaRPCURL       string
	SolanaRPCEndpoints []string

	// Wallet configuration. An empty PrivateKey disables trading. Neither
	// field is validated by Load: see LoadWallet.
	PrivateKey         string
	PrivateKeyEncoding string

	// Swap aggregator
	JupiterAPIURL string
	JupiterAPIKey string

	// Token-data API. An empty key disables token lookups and bulk balances.
	CodexAPIKey     string
	CodexAPIURL     string
	UseBulkBalances bool

	// Confirmation
	ConfirmCommitment   rpc.CommitmentType
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Trade journal. Empty disables journaling.
	DatabaseURL string

	// NATS configuration. Empty disables trade events.
	NATSURL string

	// Temporal configuration. An empty host disables background resolution.
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Resolve workflow
	ResolvePollInterval time.Duration
	ResolveMaxAttempts  int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	cfg.SolanaRPCEndpoints = solana.ParseEndpoints(cfg.SolanaRPCURL)
	if len(cfg.SolanaRPCEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	// Wallet configuration
	cfg.PrivateKey = strings.TrimSpace(os.Getenv("SOLANA_PRIVATE_KEY"))
	cfg.PrivateKeyEncoding = getEnvOrDefault("SOLANA_PRIVATE_KEY_ENCODING", string(keys.Auto))

	// Swap aggregator
	cfg.JupiterAPIURL = getEnvOrDefault("JUPITER_API_URL", jupiter.DefaultURL)
	cfg.JupiterAPIKey = os.Getenv("JUPITER_API_KEY")

	// Token-data API
	cfg.CodexAPIKey = os.Getenv("CODEX_API_KEY")
	cfg.CodexAPIURL = getEnvOrDefault("CODEX_API_URL", codex.DefaultURL)
	useBulk, err := parseBool("USE_BULK_BALANCES", cfg.CodexAPIKey != "")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.UseBulkBalances = useBulk
	}
	if cfg.UseBulkBalances && cfg.CodexAPIKey == "" {
		errs = append(errs, fmt.Errorf("USE_BULK_BALANCES requires CODEX_API_KEY"))
	}

	// Confirmation
	commitment, err := solana.ParseCommitment(getEnvOrDefault("CONFIRM_COMMITMENT", string(rpc.CommitmentConfirmed)))
	if err != nil {
		errs = append(errs, fmt.Errorf("CONFIRM_COMMITMENT: %w", err))
	} else {
		cfg.ConfirmCommitment = commitment
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	confirmPoll, err := parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = confirmPoll
	}

	if cfg.ConfirmPollInterval > cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) cannot be greater than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	// Optional infrastructure
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "trade-resolve")

	resolveInterval, err := parseDuration("RESOLVE_POLL_INTERVAL", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ResolvePollInterval = resolveInterval
	}

	maxAttempts, err := parseInt("RESOLVE_MAX_ATTEMPTS", 20)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ResolveMaxAttempts = maxAttempts
	}
	if cfg.ResolveMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RESOLVE_MAX_ATTEMPTS must be at least 1"))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// LoadWallet decodes the configured secret. A bad secret or encoding only
// disables trading, so the error is returned here rather than from Load.
func (c *Config) LoadWallet() (*keys.Wallet, error) {
	enc, err := keys.ParseEncoding(c.PrivateKeyEncoding)
	if err != nil {
		return nil, fmt.Errorf("SOLANA_PRIVATE_KEY_ENCODING: %w", err)
	}
	wallet, err := keys.CreateKeypair(c.PrivateKey, enc)
	if err != nil {
		return nil, fmt.Errorf("SOLANA_PRIVATE_KEY: %w", err)
	}
	return wallet, nil
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCEndpoints is required"))
	}

	if c.JupiterAPIURL == "" {
		errs = append(errs, fmt.Errorf("JupiterAPIURL is required"))
	}

	if c.UseBulkBalances && c.CodexAPIKey == "" {
		errs = append(errs, fmt.Errorf("UseBulkBalances requires CodexAPIKey"))
	}

	if _, err := solana.ParseCommitment(string(c.ConfirmCommitment)); err != nil {
		errs = append(errs, fmt.Errorf("ConfirmCommitment: %w", err))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if c.ConfirmPollInterval <= 0 || c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive and at most ConfirmTimeout"))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
		if c.ResolvePollInterval < time.Second {
			errs = append(errs, fmt.Errorf("ResolvePollInterval must be at least 1 second"))
		}
		if c.ResolveMaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("ResolveMaxAttempts must be at least 1"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// TradingEnabled reports whether a wallet secret is configured.
func (c *Config) TradingEnabled() bool { return c.PrivateKey != "" }

// JournalEnabled reports whether trades are persisted.
func (c *Config) JournalEnabled() bool { return c.DatabaseURL != "" }

// EventsEnabled reports whether trade events are published.
func (c *Config) EventsEnabled() bool { return c.NATSURL != "" }

// ResolverEnabled reports whether timed-out trades are resolved in the background.
func (c *Config) ResolverEnabled() bool { return c.TemporalHost != "" }

// LogValue omits every secret.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server_addr", c.ServerAddr),
		slog.String("log_level", c.LogLevel),
		slog.Int("rpc_endpoints", len(c.SolanaRPCEndpoints)),
		slog.Bool("trading_enabled", c.TradingEnabled()),
		slog.String("jupiter_url", c.JupiterAPIURL),
		slog.Bool("codex_configured", c.CodexAPIKey != ""),
		slog.Bool("bulk_balances", c.UseBulkBalances),
		slog.String("commitment", string(c.ConfirmCommitment)),
		slog.Duration("confirm_timeout", c.ConfirmTimeout),
		slog.Bool("journal", c.JournalEnabled()),
		slog.Bool("events", c.EventsEnabled()),
		slog.String("temporal_host", c.TemporalHost),
		slog.String("temporal_task_queue", c.TemporalTaskQueue),
	)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
