package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
	"github.com/urfave/cli/v2"
)

// watchEventsCommand reads trade events straight from JetStream, without the server.
func watchEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch trade events on NATS JetStream",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to trade events published to NATS JetStream.

Events are published to the subject: trades.{wallet_address}
Without a wallet address every wallet's events are shown.

Example:
  tradeterm events watch 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (survives restarts)",
			},
		},
		Action: func(c *cli.Context) error {
			wallet := c.Args().Get(0)
			natsURL := c.String("nats-url")
			jsonOutput := wantJSON(c)

			subject := natspkg.SubjectPrefix + ">"
			if wallet != "" {
				subject = natspkg.SubjectPrefix + wallet
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
				if d := c.String("durable"); d != "" {
					fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", d)
				}
				fmt.Fprintf(os.Stderr, "\nWaiting for trade events... (Ctrl-C to exit)\n\n")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			count := 0
			err := natspkg.Subscribe(ctx, natsURL, natspkg.SubscribeOptions{
				Wallet:  wallet,
				Durable: c.String("durable"),
			}, logger, func(e *natspkg.TradeEvent) {
				count++
				if jsonOutput {
					if err := output(c, e); err != nil {
						fmt.Fprintf(os.Stderr, "Error writing event: %v\n", err)
					}
					return
				}
				fmt.Fprintf(c.App.Writer, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(c.App.Writer, "Event #%d  %s  %s\n", count, e.State, e.PublishedAt.Format(time.RFC3339))
				fmt.Fprintf(c.App.Writer, "Trade:      %s (%s %s)\n", e.TradeID, e.Direction, e.Amount)
				fmt.Fprintf(c.App.Writer, "Wallet:     %s\n", e.Wallet)
				if e.Signature != "" {
					fmt.Fprintf(c.App.Writer, "Signature:  %s\n", e.Signature)
				}
				if e.Error != "" {
					fmt.Fprintf(c.App.Writer, "Error:      %s\n", e.Error)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n\n✅ Received %d events\n", count)
			}
			return nil
		},
	}
}
