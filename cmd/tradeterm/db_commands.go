package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the trade journal schema",
		Action: func(c *cli.Context) error {
			store, err := getStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Trade journal schema is up to date")
			return nil
		},
	}
}

func journalTradesCommand() *cli.Command {
	return &cli.Command{
		Name:      "trades",
		Usage:     "List journaled trades of a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of trades",
			},
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Filter by state (built, signed, submitted, confirmed, failed, timed_out)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			store, err := getStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.ListTradesByWallet(c.Context, c.Args().Get(0), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list trades: %w", err)
			}

			if state := c.String("state"); state != "" {
				filtered := make([]*db.Trade, 0, len(trades))
				for _, t := range trades {
					if t.State == state {
						filtered = append(filtered, t)
					}
				}
				trades = filtered
			}

			if wantJSON(c) {
				return output(c, trades)
			}
			printJournal(c.App.Writer, trades)
			fmt.Fprintf(os.Stderr, "\nTotal: %d trades\n", len(trades))
			return nil
		},
	}
}

func pendingTradesCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List submitted trades whose outcome is still unknown",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "min-age",
				Usage: "Only trades untouched for at least this long",
				Value: 0,
			},
		},
		Action: func(c *cli.Context) error {
			store, err := getStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			trades, err := store.ListUnresolvedTrades(c.Context, time.Now().Add(-c.Duration("min-age")))
			if err != nil {
				return fmt.Errorf("failed to list pending trades: %w", err)
			}

			if wantJSON(c) {
				return output(c, trades)
			}
			printJournal(c.App.Writer, trades)
			fmt.Fprintf(os.Stderr, "\nTotal: %d pending\n", len(trades))
			return nil
		},
	}
}

func printJournal(out io.Writer, trades []*db.Trade) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIRECTION\tAMOUNT\tSTATE\tATTEMPTS\tSIGNATURE\tUPDATED")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID,
			t.Direction,
			t.Amount,
			t.State,
			t.ResolveAttempts,
			formatOptional(t.Signature),
			t.UpdatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

// getStore connects to the journal named by --database-url.
func getStore(c *cli.Context) (*db.Store, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	store, err := db.Connect(ctx, dbURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}
