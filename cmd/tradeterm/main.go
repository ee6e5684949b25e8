package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tradeterm",
		Usage: "Mini trading terminal CLI",
		Description: `A command-line front end for the trading terminal server.

Use it to check balances, buy and sell tokens, follow trades as they settle,
inspect the trade journal and drive background resolution of unconfirmed trades.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Trading panel commands (HTTP API)
			walletCommand(),
			balancesCommand(),
			tokenCommand(),
			networksCommand(),
			buyCommand(),
			sellCommand(),
			statusCommand(),
			tradesCommand(),
			awaitCommand(),
			streamCommand(),
			// Trade journal commands
			{
				Name:  "db",
				Usage: "Trade journal commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					journalTradesCommand(),
					pendingTradesCommand(),
				},
			},
			// NATS trade event commands
			{
				Name:  "events",
				Usage: "Trade event commands",
				Subcommands: []*cli.Command{
					watchEventsCommand(),
				},
			},
			// Temporal resolve workflow commands
			{
				Name:  "resolve",
				Usage: "Background resolution of unconfirmed trades",
				Subcommands: []*cli.Command{
					resolveStartCommand(),
					resolvePendingCommand(),
					resolveResultCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "Trading terminal server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the resolve worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "trade-resolve",
			},
			&cli.IntFlag{
				Name:    "network",
				Aliases: []string{"n"},
				Usage:   "Codex network id of the token",
				EnvVars: []string{"NETWORK_ID"},
				Value:   solanaNetworkID,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to JSON output (implies --json)",
			},
		},
	}
}
