package temporal

import (
	"errors"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// DefaultResolvePollInterval is the wait between two re-queries.
	DefaultResolvePollInterval = 15 * time.Second
	// DefaultResolveMaxAttempts bounds how long a trade is chased.
	DefaultResolveMaxAttempts = 20
)

// ResolveTradeWorkflow re-queries the status of a timed-out trade until the
// ledger reports it confirmed or failed, or until MaxAttempts is reached.
// A failed query counts as an attempt; the trade is never resubmitted.
func ResolveTradeWorkflow(ctx workflow.Context, input ResolveTradeInput) (*ResolveTradeResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ResolveTradeWorkflow started", "signature", input.Signature, "trade_id", input.TradeID)

	interval := input.PollInterval
	if interval <= 0 {
		interval = DefaultResolvePollInterval
	}
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultResolveMaxAttempts
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &ResolveTradeResult{
		TradeID:   input.TradeID,
		Signature: input.Signature,
		State:     tradeStateTimedOut,
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		var requery *RequeryTradeResult
		err := workflow.ExecuteActivity(ctx, a.RequeryTrade, RequeryTradeInput{
			TradeID:    input.TradeID,
			Signature:  input.Signature,
			Commitment: input.Commitment,
		}).Get(ctx, &requery)

		switch {
		case err != nil:
			var appErr *temporalsdk.ApplicationError
			if errors.As(err, &appErr) && appErr.NonRetryable() {
				logger.Error("requery rejected", "signature", input.Signature, "error", err)
				return nil, err
			}
			logger.Warn("requery failed", "attempt", attempt, "error", err)
		case requery.Resolved:
			result.Resolved = true
			result.State = requery.State
			result.LedgerStatus = requery.LedgerStatus
			result.Slot = requery.Slot
			result.Error = requery.Error
			logger.Info("trade resolved",
				"signature", input.Signature,
				"state", result.State,
				"attempts", attempt,
			)
			return result, nil
		default:
			result.LedgerStatus = requery.LedgerStatus
		}

		if attempt < maxAttempts {
			if err := workflow.Sleep(ctx, interval); err != nil {
				return nil, err
			}
		}
	}

	err := workflow.ExecuteActivity(ctx, a.AbandonTrade, AbandonTradeInput{
		TradeID:   input.TradeID,
		Signature: input.Signature,
		Attempts:  result.Attempts,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record abandoned trade", "signature", input.Signature, "error", err)
		return nil, err
	}

	logger.Warn("ResolveTradeWorkflow gave up", "signature", input.Signature, "attempts", result.Attempts)
	return result, nil
}
