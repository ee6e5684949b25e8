package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/executor"
	"github.com/ethanlolomg/mini-trading-terminal/service/keys"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
)

// UserMessage turns an error from any layer into the text shown to the user.
// This is the only place where outcomes become user-facing strings.
func UserMessage(err error) string {
	var rejected *solana.SubmissionRejectedError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, keys.ErrInvalidKeyMaterial), errors.Is(err, keys.ErrInvalidKeyEncoding):
		return "Trading is disabled: the configured wallet key is invalid."
	case errors.Is(err, ErrConfigurationMissing):
		return "Trading is disabled: no wallet is configured."
	case errors.Is(err, codex.ErrAPIKeyMissing):
		return "Token data is unavailable: no API key is configured."
	case errors.Is(err, amount.ErrSubAtomicPrecision):
		return "The amount has more decimal places than the token supports."
	case errors.Is(err, amount.ErrInvalidPercent):
		return "Choose a percentage greater than 0 and at most 100."
	case errors.Is(err, ErrNoHoldings):
		return "You have no balance of this token to sell."
	case errors.Is(err, ErrInvalidAmount):
		return "Enter an amount greater than zero."
	case errors.Is(err, ErrInvalidSignature):
		return "That is not a valid transaction signature."
	case errors.Is(err, balance.ErrBalanceUnavailable):
		return "Your balance could not be loaded. Try again."
	case errors.Is(err, swap.ErrNoRouteFound):
		return "No swap route was found for this trade."
	case errors.Is(err, swap.ErrAggregatorUnavailable):
		return "The swap service is unavailable. Try again."
	case errors.Is(err, swap.ErrMalformedAggregatorResponse):
		return "The swap service returned an invalid transaction."
	case errors.Is(err, solana.ErrInvalidToken),
		errors.Is(err, balance.ErrInvalidTokenRef),
		errors.Is(err, swap.ErrInvalidOrder):
		return "This token cannot be traded."
	case errors.Is(err, executor.ErrSigningFailed):
		return "The transaction could not be signed by this wallet."
	case errors.As(err, &rejected):
		return "The network rejected the transaction: " + rejected.Reason
	case errors.Is(err, executor.ErrUnconfirmed):
		return "The transaction was sent but is not confirmed yet. Check its status later."
	case errors.Is(err, solana.ErrRPCUnavailable):
		return "The Solana network is unreachable. Try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Something went wrong."
	}
}

// OutcomeMessage describes a trade that reached a terminal state.
func OutcomeMessage(r *Receipt) string {
	action := "Buy"
	if r.Direction == swap.Sell {
		action = "Sell"
	}

	switch r.State {
	case executor.StateConfirmed:
		return fmt.Sprintf("%s confirmed.", action)
	case executor.StateFailed:
		if r.LedgerError != "" {
			return fmt.Sprintf("%s failed on chain: %s", action, r.LedgerError)
		}
		return fmt.Sprintf("%s failed on chain.", action)
	case executor.StateTimedOut:
		return fmt.Sprintf("%s sent but not confirmed in time. Signature %s can be checked later.", action, r.Signature)
	default:
		return fmt.Sprintf("%s is %s.", action, r.State)
	}
}

// StatusMessage describes a re-queried ledger status.
func StatusMessage(s solana.Status) string {
	switch s {
	case solana.StatusProcessed:
		return "Transaction processed, awaiting confirmation."
	case solana.StatusConfirmed, solana.StatusFinalized:
		return "Transaction confirmed."
	case solana.StatusFailed:
		return "Transaction failed on chain."
	default:
		return "Transaction not found yet."
	}
}
