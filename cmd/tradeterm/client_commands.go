package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// solanaNetworkID is the Codex network id of Solana mainnet.
const solanaNetworkID = 1399811149

// newClient builds an API client for the --server-url flag. timeout 0 means
// no client-side timeout.
func newClient(c *cli.Context, timeout time.Duration) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(serverURL, &http.Client{Timeout: timeout}, logger), nil
}

func walletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Show the wallet the server trades with",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			info, err := cl.Wallet(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if wantJSON(c) {
				return output(c, info)
			}
			if !info.Enabled {
				fmt.Fprintf(c.App.Writer, "Trading disabled: %s\n", info.Message)
				return nil
			}
			fmt.Fprintf(c.App.Writer, "Wallet: %s\n", info.Address)
			return nil
		},
	}
}

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:      "balances",
		Aliases:   []string{"bal"},
		Usage:     "Show the SOL and token balances of the wallet",
		ArgsUsage: "TOKEN_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "decimals",
				Usage: "Token decimals (looked up when not set)",
				Value: -1,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("token address is required")
			}
			var decimals *uint8
			if d := c.Int("decimals"); d >= 0 {
				if d > 255 {
					return fmt.Errorf("decimals must be between 0 and 255")
				}
				u := uint8(d)
				decimals = &u
			}

			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			bal, err := cl.Balances(c.Context, c.Int("network"), c.Args().Get(0), decimals)
			if err != nil {
				return fmt.Errorf("failed to get balances: %w", err)
			}

			if wantJSON(c) {
				return output(c, bal)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ASSET\tBALANCE\tATOMIC\tOBSERVED")
			for _, leg := range []client.Leg{bal.Native, bal.Held} {
				if !leg.Available {
					fmt.Fprintf(w, "%s\tunavailable\t%s\t%s\n", leg.Asset, leg.Error, leg.ObservedAt.Format(time.RFC3339))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", leg.Asset, leg.Shifted, leg.Atomic, leg.ObservedAt.Format(time.RFC3339))
			}
			w.Flush()
			fmt.Fprintf(os.Stderr, "\nSource: %s\n", bal.Path)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Look up a token's name, symbol and decimals",
		ArgsUsage: "TOKEN_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("token address is required")
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			tok, err := cl.Token(c.Context, c.Int("network"), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to look up token: %w", err)
			}

			if wantJSON(c) {
				return output(c, tok)
			}
			name := tok.Name
			if tok.Symbol != "" {
				name = fmt.Sprintf("%s (%s)", tok.Name, tok.Symbol)
			}
			if name == "" {
				name = "(unknown)"
			}
			fmt.Fprintf(c.App.Writer, "Token:    %s\n", name)
			fmt.Fprintf(c.App.Writer, "Address:  %s\n", tok.Address)
			fmt.Fprintf(c.App.Writer, "Network:  %d\n", tok.NetworkID)
			fmt.Fprintf(c.App.Writer, "Decimals: %d\n", tok.Decimals)
			fmt.Fprintf(c.App.Writer, "Source:   %s\n", tok.Source)
			return nil
		},
	}
}

func networksCommand() *cli.Command {
	return &cli.Command{
		Name:  "networks",
		Usage: "List the networks the token-data API supports",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			list, err := cl.Networks(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list networks: %w", err)
			}

			if wantJSON(c) {
				return output(c, list)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, n := range list.Networks {
				fmt.Fprintf(w, "%d\t%s\n", n.ID, n.Name)
			}
			return w.Flush()
		},
	}
}

func buyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Buy a token with SOL",
		ArgsUsage: "TOKEN_ADDRESS SOL_AMOUNT",
		Description: `Spend SOL_AMOUNT SOL on the token and wait for the trade to settle.

Example:
  tradeterm buy EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v 0.5`,
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("token address and SOL amount are required")
			}
			cl, err := newClient(c, 0)
			if err != nil {
				return err
			}
			receipt, err := cl.Buy(c.Context, c.Int("network"), c.Args().Get(0), c.Args().Get(1))
			return reportTrade(c, receipt, err)
		},
	}
}

func sellCommand() *cli.Command {
	return &cli.Command{
		Name:      "sell",
		Usage:     "Sell a percentage of a token holding for SOL",
		ArgsUsage: "TOKEN_ADDRESS PERCENT",
		Description: `Sell PERCENT of the wallet's holding (25, 50, 75 and 100 are the panel
presets, any value in (0, 100] works) and wait for the trade to settle.

Example:
  tradeterm sell EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v 50`,
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("token address and percent are required")
			}
			percent := c.Args().Get(1)
			if p, err := strconv.ParseFloat(percent, 64); err != nil || p <= 0 || p > 100 {
				return fmt.Errorf("percent must be a number greater than 0 and at most 100")
			}
			cl, err := newClient(c, 0)
			if err != nil {
				return err
			}
			receipt, err := cl.Sell(c.Context, c.Int("network"), c.Args().Get(0), percent)
			return reportTrade(c, receipt, err)
		},
	}
}

// reportTrade prints whatever receipt the server returned, then the error.
func reportTrade(c *cli.Context, receipt *client.Receipt, err error) error {
	if receipt != nil {
		if wantJSON(c) {
			if outErr := output(c, receipt); outErr != nil {
				return outErr
			}
		} else {
			printReceipt(c.App.Writer, receipt)
		}
	}
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusAccepted {
			return fmt.Errorf("trade submitted but not confirmed: %s", apiErr.Message)
		}
		return fmt.Errorf("trade failed: %w", err)
	}
	return nil
}

func printReceipt(w io.Writer, r *client.Receipt) {
	fmt.Fprintf(w, "%s\n", r.Message)
	fmt.Fprintf(w, "  Direction:  %s\n", r.Direction)
	fmt.Fprintf(w, "  Amount:     %s (atomic)\n", r.Amount)
	if r.OutAmount != "" {
		fmt.Fprintf(w, "  Quoted out: %s (atomic)\n", r.OutAmount)
	}
	fmt.Fprintf(w, "  State:      %s\n", r.State)
	if r.Signature != "" {
		fmt.Fprintf(w, "  Signature:  %s\n", r.Signature)
	}
	if r.Slot != 0 {
		fmt.Fprintf(w, "  Slot:       %d\n", r.Slot)
	}
	if r.LedgerError != "" {
		fmt.Fprintf(w, "  Error:      %s\n", r.LedgerError)
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Re-check a transaction signature on the ledger",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			report, err := cl.Status(c.Context, c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if wantJSON(c) {
				return output(c, report)
			}
			fmt.Fprintf(c.App.Writer, "%s\n", report.Message)
			fmt.Fprintf(c.App.Writer, "  Signature: %s\n", report.Signature)
			fmt.Fprintf(c.App.Writer, "  Ledger:    %s\n", report.LedgerStatus)
			if report.Slot != 0 {
				fmt.Fprintf(c.App.Writer, "  Slot:      %d\n", report.Slot)
			}
			if report.Trade != nil {
				fmt.Fprintf(c.App.Writer, "  Trade:     %s (%s, %s)\n", report.Trade.ID, report.Trade.Direction, report.Trade.State)
			}
			return nil
		},
	}
}

func tradesCommand() *cli.Command {
	return &cli.Command{
		Name:    "trades",
		Aliases: []string{"ls"},
		Usage:   "List recent trades of the wallet",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of trades to retrieve (1-500)",
			},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 1 || limit > 500 {
				return fmt.Errorf("limit must be between 1 and 500")
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			list, err := cl.ListTrades(c.Context, limit)
			if err != nil {
				return fmt.Errorf("failed to list trades: %w", err)
			}

			if wantJSON(c) {
				return output(c, list)
			}
			printTrades(c.App.Writer, list.Trades)
			fmt.Fprintf(os.Stderr, "\nTotal: %d trades\n", list.Count)
			return nil
		},
	}
}

func printTrades(out io.Writer, trades []*client.Trade) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tDIRECTION\tAMOUNT\tSTATE\tSIGNATURE")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format(time.RFC3339),
			t.Direction,
			t.Amount,
			t.State,
			formatOptional(t.Signature),
		)
	}
	w.Flush()
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a trade reaches a terminal state",
		ArgsUsage: "[SIGNATURE]",
		Description: `Follow the server's trade stream until an event for SIGNATURE reports
confirmed, failed or timed_out. Without a signature, --must-jq picks the event.

Example:
  tradeterm await --must-jq '.direction == "sell"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Wallet to follow (defaults to the server's wallet)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			signature := c.Args().Get(0)
			jqFilters := c.StringSlice("must-jq")
			if signature == "" && len(jqFilters) == 0 {
				return fmt.Errorf("must specify a signature or at least one --must-jq filter")
			}

			filters := make([]*gojq.Code, len(jqFilters))
			for i, f := range jqFilters {
				code, err := compileJQ(f)
				if err != nil {
					return err
				}
				filters[i] = code
			}

			cl, err := newClient(c, 0)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			wallet := c.String("wallet")
			if wallet == "" {
				info, err := cl.Wallet(ctx)
				if err != nil {
					return fmt.Errorf("failed to get wallet: %w", err)
				}
				wallet = info.Address
			}

			if !wantJSON(c) {
				fmt.Fprintf(os.Stderr, "Waiting for trade on wallet %s...\n", wallet)
				if signature != "" {
					fmt.Fprintf(os.Stderr, "  Signature: %s\n", signature)
				}
				for _, f := range jqFilters {
					fmt.Fprintf(os.Stderr, "  jq Filter: %s\n", f)
				}
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			var found *client.TradeEvent
			err = cl.Stream(ctx, wallet, func(e *client.TradeEvent) bool {
				if signature != "" && e.Signature != signature {
					return true
				}
				if !e.Terminal() || !matchesJQ(filters, e) {
					return true
				}
				found = e
				return false
			})
			if found == nil {
				if err == nil {
					err = errors.New("stream closed before the trade settled")
				}
				return fmt.Errorf("failed to await trade: %w", err)
			}

			if wantJSON(c) {
				return output(c, found)
			}
			printEvent(c.App.Writer, found)
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream trade events from the server (Ctrl-C to exit)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Only events of this wallet",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 0)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !wantJSON(c) {
				fmt.Fprintf(os.Stderr, "Streaming trade events from %s... (Ctrl-C to exit)\n\n", c.String("server-url"))
			}

			count := 0
			err = cl.Stream(ctx, c.String("wallet"), func(e *client.TradeEvent) bool {
				count++
				if wantJSON(c) {
					if err := output(c, e); err != nil {
						fmt.Fprintf(os.Stderr, "Error writing event: %v\n", err)
					}
				} else {
					printEvent(c.App.Writer, e)
				}
				return true
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stream failed: %w", err)
			}

			if !wantJSON(c) {
				fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
			}
			return nil
		},
	}
}

func printEvent(w io.Writer, e *client.TradeEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Trade:      %s\n", e.TradeID)
	fmt.Fprintf(w, "Wallet:     %s\n", e.Wallet)
	fmt.Fprintf(w, "Direction:  %s\n", e.Direction)
	fmt.Fprintf(w, "Amount:     %s (atomic)\n", e.Amount)
	fmt.Fprintf(w, "State:      %s\n", e.State)
	if e.Signature != "" {
		fmt.Fprintf(w, "Signature:  %s\n", e.Signature)
	}
	if e.LedgerStatus != "" {
		fmt.Fprintf(w, "Ledger:     %s\n", e.LedgerStatus)
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", e.Error)
	}
	fmt.Fprintf(w, "Updated:    %s\n", e.UpdatedAt.Format(time.RFC3339))
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "tradeterm CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
