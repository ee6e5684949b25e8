// Package executor signs, submits and confirms swap transactions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultConfirmTimeout applies when Execute is called with a zero deadline.
const DefaultConfirmTimeout = 30 * time.Second

var (
	// ErrSigningFailed means the wallet could not sign, usually because the
	// transaction was built for a different signer.
	ErrSigningFailed = errors.New("signing failed")
	// ErrUnconfirmed is returned when the caller's context ends after the
	// transaction was submitted. The trade is in flight and must be re-queried.
	ErrUnconfirmed = errors.New("transaction submitted but not confirmed")
)

// Signer is the wallet.
type Signer interface {
	PublicKey() solanago.PublicKey
	SignTransaction(tx *solanago.Transaction) error
}

// Ledger is the subset of the Solana client the executor needs.
type Ledger interface {
	SubmitTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solanago.Signature, commitment rpc.CommitmentType, deadline time.Time) (*solana.SubmissionResult, error)
	GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error)
}

// Refresher is told once a trade reaches a terminal state.
type Refresher interface {
	Refresh(ctx context.Context)
}

// TransitionFunc observes every state change of a trade.
type TransitionFunc func(ctx context.Context, from, to State, sig solanago.Signature)

// Outcome is what Execute reports. Signature is zero until Submitted.
type Outcome struct {
	State     State
	Signature solanago.Signature
	Result    *solana.SubmissionResult
	History   []State
}

// Executor holds no per-trade state and is safe for concurrent use.
type Executor struct {
	signer     Signer
	ledger     Ledger
	commitment rpc.CommitmentType
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates an Executor confirming at the given commitment.
func New(signer Signer, ledger Ledger, commitment rpc.CommitmentType, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Executor{
		signer:     signer,
		ledger:     ledger,
		commitment: commitment,
		logger:     logger,
		metrics:    m,
	}
}

type runOptions struct {
	refresher Refresher
	onChange  TransitionFunc
}

// Option customizes a single Execute call.
type Option func(*runOptions)

// WithRefresher triggers r exactly once after a terminal state.
func WithRefresher(r Refresher) Option {
	return func(o *runOptions) { o.refresher = r }
}

// WithTransitionHook calls fn on every transition, synchronously, before the
// next step runs. The Submitted hook therefore fires before confirmation starts.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(o *runOptions) { o.onChange = fn }
}

// Execute signs tx with the wallet, submits it once and waits for the
// configured commitment until deadline.
//
// Errors before submission (signing, rejection, cancellation) leave nothing
// on chain. After submission the only error is ErrUnconfirmed (caller's
// context ended); Confirmed, Failed and TimedOut are all reported through
// Outcome.State with a nil error.
func (e *Executor) Execute(ctx context.Context, tx *swap.Transaction, deadline time.Time, opts ...Option) (*Outcome, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if deadline.IsZero() {
		deadline = time.Now().Add(DefaultConfirmTimeout)
	}

	m := newMachine()
	out := &Outcome{State: StateBuilt}
	logger := e.logger.With("request_id", tx.RequestID, "direction", tx.Order.Direction)

	step := func(to State) error {
		from := m.state
		if err := m.advance(to); err != nil {
			return err
		}
		out.State = to
		out.History = append([]State(nil), m.history...)
		e.metrics.RecordStateTransition(string(from), string(to))
		if o.onChange != nil {
			o.onChange(ctx, from, to, out.Signature)
		}
		return nil
	}
	out.History = append([]State(nil), m.history...)

	if err := ctx.Err(); err != nil {
		return out, err
	}

	// Built -> Signed
	if tx.Tx == nil {
		return out, fmt.Errorf("%w: no transaction to sign", ErrSigningFailed)
	}
	if err := e.signer.SignTransaction(tx.Tx); err != nil {
		logger.ErrorContext(ctx, "signing failed", "error", err)
		return out, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	if err := step(StateSigned); err != nil {
		return out, err
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}

	// Signed -> Submitted
	sig, err := e.ledger.SubmitTransaction(ctx, tx.Tx)
	if err != nil {
		logger.WarnContext(ctx, "submission failed", "error", err)
		return out, err
	}
	out.Signature = sig
	if err := step(StateSubmitted); err != nil {
		return out, err
	}
	logger = logger.With("signature", sig.String())
	logger.InfoContext(ctx, "awaiting confirmation", "commitment", e.commitment, "deadline", deadline)

	// Submitted -> terminal
	res, err := e.ledger.ConfirmTransaction(ctx, sig, e.commitment, deadline)
	if err != nil {
		logger.WarnContext(ctx, "confirmation abandoned", "error", err)
		out.Result = res
		return out, fmt.Errorf("%w: %s: %w", ErrUnconfirmed, sig, err)
	}
	out.Result = res

	var terminal State
	switch {
	case res.Status == solana.StatusFailed:
		terminal = StateFailed
	case res.Status == solana.StatusTimedOut:
		terminal = StateTimedOut
	case res.Status.Landed():
		terminal = StateConfirmed
	default:
		terminal = StateTimedOut
	}
	if err := step(terminal); err != nil {
		return out, err
	}
	logger.InfoContext(ctx, "trade reached terminal state", "state", terminal, "ledger_status", res.Status)

	if o.refresher != nil {
		o.refresher.Refresh(ctx)
	}
	return out, nil
}

// Requery looks up a signature again. It is how TimedOut and unconfirmed
// trades are resolved; it never resubmits.
func (e *Executor) Requery(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error) {
	return e.ledger.GetSignatureStatus(ctx, sig)
}
