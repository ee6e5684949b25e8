// Package swap turns a trade request into a signable transaction routed by
// the swap aggregator.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/jupiter"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	ErrAggregatorUnavailable       = errors.New("swap aggregator unavailable")
	ErrNoRouteFound                = errors.New("no route found")
	ErrMalformedAggregatorResponse = errors.New("malformed aggregator response")
	ErrInvalidOrder                = errors.New("invalid order")
)

// Direction is the side of a trade relative to the token.
type Direction string

const (
	// Buy spends SOL for the token.
	Buy Direction = "buy"
	// Sell spends the token for SOL.
	Sell Direction = "sell"
)

// ParseDirection accepts "buy" or "sell" in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Buy, Sell:
		return d, nil
	default:
		return "", fmt.Errorf("%w: direction %q", ErrInvalidOrder, s)
	}
}

// NativeMint is the sentinel mint the aggregator uses for SOL.
var NativeMint = solanago.SolMint

// MintsFor returns the input and output mints of a trade. Buy spends the
// native sentinel for the token; Sell is the reverse.
func MintsFor(dir Direction, token solanago.PublicKey) (input, output solanago.PublicKey, err error) {
	switch dir {
	case Buy:
		return NativeMint, token, nil
	case Sell:
		return token, NativeMint, nil
	default:
		return solanago.PublicKey{}, solanago.PublicKey{}, fmt.Errorf("%w: direction %q", ErrInvalidOrder, dir)
	}
}

// Order is what we ask the aggregator for. Amount is in atomic units of the
// input mint.
type Order struct {
	Direction  Direction
	InputMint  solanago.PublicKey
	OutputMint solanago.PublicKey
	Amount     amount.Atomic
	Signer     solanago.PublicKey
}

// Transaction is a decoded, not yet signed, aggregator transaction.
type Transaction struct {
	Order     Order
	Tx        *solanago.Transaction
	RequestID string
	InAmount  string
	OutAmount string
}

// Aggregator is the swap-routing collaborator.
type Aggregator interface {
	GetOrder(ctx context.Context, req jupiter.OrderRequest) (*jupiter.Order, error)
}

// Builder builds swap transactions.
type Builder struct {
	aggregator Aggregator
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewBuilder(aggregator Aggregator, logger *slog.Logger, m *metrics.Metrics) *Builder {
	return &Builder{aggregator: aggregator, logger: logger, metrics: m}
}

// BuildOrder requests a routed transaction. atomic must already be in units
// of the input side: lamports for Buy, raw token units for Sell. No unit
// conversion happens here.
func (b *Builder) BuildOrder(
	ctx context.Context,
	dir Direction,
	atomic amount.Atomic,
	token balance.TokenRef,
	signer solanago.PublicKey,
) (*Transaction, error) {
	if atomic.IsZero() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidOrder)
	}
	mint, err := token.Mint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	input, output, err := MintsFor(dir, mint)
	if err != nil {
		return nil, err
	}

	order := Order{
		Direction:  dir,
		InputMint:  input,
		OutputMint: output,
		Amount:     atomic,
		Signer:     signer,
	}

	resp, err := b.aggregator.GetOrder(ctx, jupiter.OrderRequest{
		InputMint:  input.String(),
		OutputMint: output.String(),
		Amount:     atomic.String(),
		Taker:      signer.String(),
	})
	if err != nil {
		return nil, classify(err)
	}

	if resp.Transaction == nil || *resp.Transaction == "" {
		reason := resp.ErrorMessage
		if reason == "" {
			reason = "aggregator returned no transaction"
		}
		b.logger.InfoContext(ctx, "no route",
			"direction", dir,
			"input_mint", input.String(),
			"output_mint", output.String(),
			"amount", atomic.String(),
			"reason", reason,
		)
		return nil, fmt.Errorf("%w: %s", ErrNoRouteFound, reason)
	}

	tx, err := solanago.TransactionFromBase64(*resp.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrMalformedAggregatorResponse, err)
	}

	b.logger.InfoContext(ctx, "swap order built",
		"direction", dir,
		"request_id", resp.RequestID,
		"amount", atomic.String(),
		"out_amount", resp.OutAmount,
	)

	return &Transaction{
		Order:     order,
		Tx:        tx,
		RequestID: resp.RequestID,
		InAmount:  resp.InAmount,
		OutAmount: resp.OutAmount,
	}, nil
}

func classify(err error) error {
	var apiErr *jupiter.APIError
	switch {
	case errors.Is(err, jupiter.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrAggregatorUnavailable, err)
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %s", ErrNoRouteFound, apiErr.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrMalformedAggregatorResponse, err)
	}
}
