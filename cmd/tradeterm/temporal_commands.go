package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/temporal"
	"github.com/urfave/cli/v2"
)

// resolveFlags tune the workflows started from the CLI. They mirror the
// server's RESOLVE_* settings.
func resolveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "commitment",
			Usage:   "Commitment a trade must reach to count as confirmed",
			EnvVars: []string{"CONFIRM_COMMITMENT"},
			Value:   "confirmed",
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Time between ledger re-queries",
			EnvVars: []string{"RESOLVE_POLL_INTERVAL"},
			Value:   15 * time.Second,
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Re-queries before the trade is abandoned",
			EnvVars: []string{"RESOLVE_MAX_ATTEMPTS"},
			Value:   20,
		},
	}
}

func resolveStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start background resolution of one signature",
		ArgsUsage: "SIGNATURE",
		Flags: append(resolveFlags(), &cli.StringFlag{
			Name:  "trade-id",
			Usage: "Journal id of the trade, so its row is updated",
		}),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			signature := c.Args().Get(0)
			if err := tc.Resolve(c.Context, c.String("trade-id"), signature); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "✓ Resolve workflow started for %s\n", signature)
			return nil
		},
	}
}

func resolvePendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Start resolution of every journaled trade whose outcome is unknown",
		Flags: append(resolveFlags(), &cli.DurationFlag{
			Name:  "min-age",
			Usage: "Skip trades touched more recently than this",
			Value: 2 * time.Minute,
		}),
		Action: func(c *cli.Context) error {
			store, err := getStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			started, err := tc.ResolvePending(c.Context, store, c.Duration("min-age"))
			if err != nil {
				return fmt.Errorf("failed to resolve pending trades: %w", err)
			}

			if wantJSON(c) {
				return output(c, map[string]int{"started": started})
			}
			fmt.Fprintf(c.App.Writer, "✓ Started %d resolve workflows\n", started)
			return nil
		},
	}
}

func resolveResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for the resolve workflow of a signature and show its result",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   10 * time.Minute,
				Usage:   "How long to wait for the workflow",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			result, err := tc.Result(ctx, c.Args().Get(0))
			if err != nil {
				return err
			}

			if wantJSON(c) {
				return output(c, result)
			}
			outcome := "abandoned"
			if result.Resolved {
				outcome = "resolved"
			}
			fmt.Fprintf(c.App.Writer, "Signature: %s\n", result.Signature)
			fmt.Fprintf(c.App.Writer, "  Outcome:  %s after %d attempts\n", outcome, result.Attempts)
			fmt.Fprintf(c.App.Writer, "  State:    %s\n", result.State)
			if result.LedgerStatus != "" {
				fmt.Fprintf(c.App.Writer, "  Ledger:   %s\n", result.LedgerStatus)
			}
			if result.Error != "" {
				fmt.Fprintf(c.App.Writer, "  Error:    %s\n", result.Error)
			}
			return nil
		},
	}
}

// getTemporalClient connects with the global temporal flags and the
// command's resolve flags.
func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		return nil, fmt.Errorf("temporal-host is required (set TEMPORAL_HOST env var or use --temporal-host)")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return temporal.NewClient(
		host,
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		temporal.ResolveConfig{
			Commitment:   c.String("commitment"),
			PollInterval: c.Duration("poll-interval"),
			MaxAttempts:  c.Int("max-attempts"),
		},
		logger,
	)
}
