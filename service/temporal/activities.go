package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// ResolveTradeInput identifies a trade whose outcome is unknown after the
// confirmation deadline passed.
type ResolveTradeInput struct {
	TradeID      string        `json:"trade_id,omitempty"` // empty when the journal is disabled
	Signature    string        `json:"signature"`
	Commitment   string        `json:"commitment"`
	PollInterval time.Duration `json:"poll_interval"`
	MaxAttempts  int           `json:"max_attempts"`
}

// ResolveTradeResult is the outcome of the resolve workflow.
type ResolveTradeResult struct {
	TradeID      string `json:"trade_id,omitempty"`
	Signature    string `json:"signature"`
	Resolved     bool   `json:"resolved"`
	State        string `json:"state"`
	LedgerStatus string `json:"ledger_status,omitempty"`
	Slot         uint64 `json:"slot,omitempty"`
	Error        string `json:"error,omitempty"`
	Attempts     int    `json:"attempts"`
}

// RequeryTradeInput contains parameters for the RequeryTrade activity.
type RequeryTradeInput struct {
	TradeID    string `json:"trade_id,omitempty"`
	Signature  string `json:"signature"`
	Commitment string `json:"commitment"`
}

// RequeryTradeResult contains the result of one status query.
type RequeryTradeResult struct {
	Resolved     bool   `json:"resolved"`
	State        string `json:"state"`
	LedgerStatus string `json:"ledger_status"`
	Slot         uint64 `json:"slot,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AbandonTradeInput contains parameters for the AbandonTrade activity.
type AbandonTradeInput struct {
	TradeID   string `json:"trade_id,omitempty"`
	Signature string `json:"signature"`
	Attempts  int    `json:"attempts"`
}

// Trade states written to the journal. They mirror the executor's states.
const (
	tradeStateConfirmed = "confirmed"
	tradeStateFailed    = "failed"
	tradeStateTimedOut  = "timed_out"
)

// StoreInterface defines the journal operations needed by activities.
type StoreInterface interface {
	GetTrade(ctx context.Context, id uuid.UUID) (*db.Trade, error)
	UpdateTradeState(ctx context.Context, params db.UpdateTradeStateParams) (*db.Trade, error)
	IncrementResolveAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// LedgerInterface defines the ledger lookup needed by activities.
type LedgerInterface interface {
	GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error)
}

// PublisherInterface defines the NATS publishing needed by activities.
type PublisherInterface interface {
	PublishTrade(ctx context.Context, event *natspkg.TradeEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// The store and publisher are optional.
type Activities struct {
	store     StoreInterface
	ledger    LedgerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(
	store StoreInterface,
	ledger LedgerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// RequeryTrade looks the signature up on the ledger once. When the ledger
// reports a final answer the journal is updated and an event is published.
// It never resubmits anything.
func (a *Activities) RequeryTrade(ctx context.Context, input RequeryTradeInput) (*RequeryTradeResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("RequeryTrade", d)
	})()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature), "InvalidSignature", err)
	}
	commitment := rpc.CommitmentConfirmed
	if input.Commitment != "" {
		if commitment, err = solana.ParseCommitment(input.Commitment); err != nil {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidCommitment", err)
		}
	}

	tradeID, err := a.tradeID(input.TradeID)
	if err != nil {
		return nil, err
	}
	if a.store != nil && tradeID != uuid.Nil {
		if _, err := a.store.IncrementResolveAttempts(ctx, tradeID); err != nil {
			a.logger.WarnContext(ctx, "failed to count resolve attempt", "trade_id", input.TradeID, "error", err)
		}
	}

	status, err := a.ledger.GetSignatureStatus(ctx, sig)
	if err != nil {
		a.logger.WarnContext(ctx, "signature status query failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to query signature status: %w", err)
	}

	result := &RequeryTradeResult{
		LedgerStatus: string(status.Status),
		Slot:         status.Slot,
		Error:        status.Err,
		State:        tradeStateTimedOut,
	}
	switch {
	case status.Status == solana.StatusFailed:
		result.Resolved = true
		result.State = tradeStateFailed
	case status.Status.Reaches(commitment):
		result.Resolved = true
		result.State = tradeStateConfirmed
	}

	a.logger.InfoContext(ctx, "requeried trade",
		"trade_id", input.TradeID,
		"signature", input.Signature,
		"ledger_status", result.LedgerStatus,
		"resolved", result.Resolved,
	)

	if !result.Resolved {
		return result, nil
	}

	a.metrics.RecordResolveWorkflow(result.State)
	a.metrics.RecordStateTransition(tradeStateTimedOut, result.State)

	if a.store == nil || tradeID == uuid.Nil {
		return result, nil
	}

	params := db.UpdateTradeStateParams{
		ID:           tradeID,
		State:        result.State,
		LedgerStatus: &result.LedgerStatus,
	}
	if result.Slot > 0 {
		slot := int64(result.Slot)
		params.Slot = &slot
	}
	if result.Error != "" {
		params.Error = &result.Error
	}
	trade, err := a.store.UpdateTradeState(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to journal resolved trade: %w", err)
	}
	a.publish(ctx, trade)

	return result, nil
}

// AbandonTrade records that the resolver gave up. The trade stays timed out
// and can be re-queried by signature at any later point.
func (a *Activities) AbandonTrade(ctx context.Context, input AbandonTradeInput) error {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("AbandonTrade", d)
	})()

	a.metrics.RecordResolveWorkflow("exhausted")
	a.logger.WarnContext(ctx, "trade outcome still unknown",
		"trade_id", input.TradeID,
		"signature", input.Signature,
		"attempts", input.Attempts,
	)

	tradeID, err := a.tradeID(input.TradeID)
	if err != nil {
		return err
	}
	if a.store == nil || tradeID == uuid.Nil {
		return nil
	}

	msg := fmt.Sprintf("outcome unknown after %d re-queries", input.Attempts)
	trade, err := a.store.UpdateTradeState(ctx, db.UpdateTradeStateParams{
		ID:    tradeID,
		State: tradeStateTimedOut,
		Error: &msg,
	})
	if err != nil {
		if errors.Is(err, db.ErrTradeNotFound) {
			return temporalsdk.NewNonRetryableApplicationError(err.Error(), "TradeNotFound", err)
		}
		return fmt.Errorf("failed to journal abandoned trade: %w", err)
	}
	a.publish(ctx, trade)
	return nil
}

func (a *Activities) tradeID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid trade id %q", s), "InvalidTradeID", err)
	}
	return id, nil
}

func (a *Activities) publish(ctx context.Context, trade *db.Trade) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishTrade(ctx, natspkg.FromDBTrade(trade)); err != nil {
		a.logger.WarnContext(ctx, "failed to publish trade event",
			"trade_id", trade.ID.String(),
			"error", err,
		)
	}
}
