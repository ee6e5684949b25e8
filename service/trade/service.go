// Package trade ties the balance reconciler, swap builder and executor into
// the buy and sell actions of the trading panel, and keeps the trade journal.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/executor"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrConfigurationMissing is returned by every wallet operation when no
	// wallet secret is configured. The panel is disabled, the process is fine.
	ErrConfigurationMissing = errors.New("trading is not configured")
	// ErrInvalidAmount rejects zero, negative and unparsable trade sizes.
	ErrInvalidAmount = errors.New("invalid trade amount")
	// ErrNoHoldings is returned when selling a token the wallet does not hold.
	ErrNoHoldings = errors.New("no holdings to sell")
	// ErrInvalidSignature is returned by Status for a malformed signature.
	ErrInvalidSignature = errors.New("invalid transaction signature")
)

// SellPresets are the percentages offered by the sell buttons.
var SellPresets = []int{25, 50, 75, 100}

var amountHundred = decimal.NewFromInt(100)

// Reconciler reads both balance legs.
type Reconciler interface {
	Reconcile(ctx context.Context, owner solanago.PublicKey, network int, token balance.TokenRef) balance.Result
	RefreshFor(owner solanago.PublicKey, network int, token balance.TokenRef, onResult func(balance.Result)) balance.RefreshFunc
}

// OrderBuilder obtains unsigned swap transactions.
type OrderBuilder interface {
	BuildOrder(ctx context.Context, dir swap.Direction, atomic amount.Atomic, token balance.TokenRef, signer solanago.PublicKey) (*swap.Transaction, error)
}

// Executor signs, submits and confirms.
type Executor interface {
	Execute(ctx context.Context, tx *swap.Transaction, deadline time.Time, opts ...executor.Option) (*executor.Outcome, error)
	Requery(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error)
}

// Journal persists trades. db.Store implements it.
type Journal interface {
	CreateTrade(ctx context.Context, params db.CreateTradeParams) (*db.Trade, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, signature string) (*db.Trade, error)
	UpdateTradeState(ctx context.Context, params db.UpdateTradeStateParams) (*db.Trade, error)
	GetTradeBySignature(ctx context.Context, signature string) (*db.Trade, error)
}

// Publisher emits trade events.
type Publisher interface {
	PublishTrade(ctx context.Context, event *natspkg.TradeEvent) error
}

// Resolver keeps chasing trades whose outcome is unknown.
type Resolver interface {
	Resolve(ctx context.Context, tradeID, signature string) error
}

// TokenLookup is the token-data API.
type TokenLookup interface {
	Token(ctx context.Context, address string, networkID int) (*codex.Token, error)
	Networks(ctx context.Context) ([]codex.Network, error)
}

// MintLookup reads mint decimals from chain.
type MintLookup interface {
	GetMint(ctx context.Context, mint solanago.PublicKey) (*solana.MintInfo, error)
}

// Deps are the collaborators of a Service. Wallet, Journal, Publisher,
// Resolver and Tokens may be nil.
type Deps struct {
	Wallet executor.Signer
	// WalletErr is why the wallet could not be loaded. Trading stays
	// disabled and wallet operations report it.
	WalletErr  error
	Reconciler Reconciler
	Builder    OrderBuilder
	Executor   Executor
	Journal    Journal
	Publisher  Publisher
	Resolver   Resolver
	Tokens     TokenLookup
	Mints      MintLookup

	ConfirmTimeout time.Duration
	// Commitment a re-queried status must reach before the journal records
	// the trade as confirmed. Defaults to confirmed.
	Commitment rpc.CommitmentType
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Service is the trading panel backend.
type Service struct {
	wallet     executor.Signer
	walletErr  error
	reconciler Reconciler
	builder    OrderBuilder
	executor   Executor
	journal    Journal
	publisher  Publisher
	resolver   Resolver
	tokens     TokenLookup
	mints      MintLookup

	confirmTimeout time.Duration
	commitment     rpc.CommitmentType
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ConfirmTimeout <= 0 {
		d.ConfirmTimeout = executor.DefaultConfirmTimeout
	}
	if d.Commitment == "" {
		d.Commitment = rpc.CommitmentConfirmed
	}
	return &Service{
		wallet:         d.Wallet,
		walletErr:      d.WalletErr,
		reconciler:     d.Reconciler,
		builder:        d.Builder,
		executor:       d.Executor,
		journal:        d.Journal,
		publisher:      d.Publisher,
		resolver:       d.Resolver,
		tokens:         d.Tokens,
		mints:          d.Mints,
		confirmTimeout: d.ConfirmTimeout,
		commitment:     d.Commitment,
		metrics:        d.Metrics,
		logger:         d.Logger.With("component", "trade"),
		now:            time.Now,
	}
}

// Enabled reports whether a wallet is configured.
func (s *Service) Enabled() bool {
	return s.wallet != nil && s.executor != nil
}

// disabled explains why trading is off.
func (s *Service) disabled() error {
	if s.walletErr != nil {
		return fmt.Errorf("%w: %w", ErrConfigurationMissing, s.walletErr)
	}
	return ErrConfigurationMissing
}

// Wallet returns the public key of the configured wallet.
func (s *Service) Wallet() (solanago.PublicKey, error) {
	if !s.Enabled() {
		return solanago.PublicKey{}, s.disabled()
	}
	return s.wallet.PublicKey(), nil
}

// Receipt describes what happened to one buy or sell.
type Receipt struct {
	TradeID      string         `json:"trade_id,omitempty"`
	Direction    swap.Direction `json:"direction"`
	Amount       amount.Atomic  `json:"amount"`
	InAmount     string         `json:"in_amount,omitempty"`
	OutAmount    string         `json:"out_amount,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Signature    string         `json:"signature,omitempty"`
	State        executor.State `json:"state"`
	LedgerStatus solana.Status  `json:"ledger_status,omitempty"`
	Slot         uint64         `json:"slot,omitempty"`
	LedgerError  string         `json:"ledger_error,omitempty"`
	Message      string         `json:"message"`
}

// Token resolves a token address to a TokenRef. The token-data API is asked
// first; without an API key the decimals are read from the mint account.
func (s *Service) Token(ctx context.Context, networkID int, address string) (balance.TokenRef, *codex.Token, error) {
	ref := balance.TokenRef{Address: address, NetworkID: networkID}
	mint, err := ref.Mint()
	if err != nil {
		return balance.TokenRef{}, nil, err
	}

	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx, address, networkID)
		switch {
		case err == nil:
			if tok.Decimals < 0 || tok.Decimals > amount.MaxDecimals {
				return balance.TokenRef{}, nil, fmt.Errorf("%w: decimals %d", balance.ErrInvalidTokenRef, tok.Decimals)
			}
			ref.Decimals = uint8(tok.Decimals)
			return ref, tok, nil
		case errors.Is(err, codex.ErrNotFound):
			return balance.TokenRef{}, nil, fmt.Errorf("%w: %w", solana.ErrInvalidToken, err)
		case errors.Is(err, codex.ErrAPIKeyMissing):
			// fall through to the chain
		default:
			s.logger.WarnContext(ctx, "token lookup failed, reading mint from chain", "token", address, "error", err)
		}
	}

	info, err := s.mints.GetMint(ctx, mint)
	if err != nil {
		return balance.TokenRef{}, nil, err
	}
	ref.Decimals = info.Decimals
	return ref, nil, ref.Validate()
}

// Networks lists the networks the token-data API knows. Without an API key it
// fails with codex.ErrAPIKeyMissing.
func (s *Service) Networks(ctx context.Context) ([]codex.Network, error) {
	if s.tokens == nil {
		return nil, codex.ErrAPIKeyMissing
	}
	return s.tokens.Networks(ctx)
}

// Balances reconciles the wallet's native and token balances.
func (s *Service) Balances(ctx context.Context, token balance.TokenRef) (balance.Result, error) {
	if !s.Enabled() {
		return balance.Result{}, s.disabled()
	}
	if err := token.Validate(); err != nil {
		return balance.Result{}, err
	}
	return s.reconciler.Reconcile(ctx, s.wallet.PublicKey(), token.NetworkID, token), nil
}

// Buy spends solAmount SOL (a decimal string such as "0.5") on token.
func (s *Service) Buy(ctx context.Context, token balance.TokenRef, solAmount string) (*Receipt, error) {
	if !s.Enabled() {
		return nil, s.disabled()
	}
	if err := token.Validate(); err != nil {
		return nil, err
	}

	shifted, err := amount.ParseShifted(solAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if !shifted.IsPositive() {
		return nil, fmt.Errorf("%w: %s SOL", ErrInvalidAmount, shifted.String())
	}
	lamports, err := amount.ToAtomic(shifted, balance.NativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}

	return s.trade(ctx, swap.Buy, lamports, token)
}

// Sell sells percent (in (0, 100]) of the wallet's holdings of token.
func (s *Service) Sell(ctx context.Context, token balance.TokenRef, percent string) (*Receipt, error) {
	if !s.Enabled() {
		return nil, s.disabled()
	}
	if err := token.Validate(); err != nil {
		return nil, err
	}

	pct, err := amount.ParseShifted(percent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if !pct.IsPositive() || pct.GreaterThan(amountHundred) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, amount.ErrInvalidPercent)
	}

	balances := s.reconciler.Reconcile(ctx, s.wallet.PublicKey(), token.NetworkID, token)
	if !balances.Token.Available() {
		return nil, balances.Token.Err
	}
	if balances.Token.Atomic.IsZero() {
		return nil, ErrNoHoldings
	}

	atomic, err := amount.PercentOf(balances.Token.Atomic, pct)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if atomic.IsZero() {
		return nil, fmt.Errorf("%w: %s%% of %s rounds to zero", ErrInvalidAmount, pct.String(), balances.Token.Atomic.String())
	}

	return s.trade(ctx, swap.Sell, atomic, token)
}

// trade runs one order through build, journal, execute and resolve.
func (s *Service) trade(ctx context.Context, dir swap.Direction, atomic amount.Atomic, token balance.TokenRef) (*Receipt, error) {
	start := s.now()
	owner := s.wallet.PublicKey()
	logger := s.logger.With("direction", dir, "token", token.Address, "amount", atomic.String())

	receipt := &Receipt{Direction: dir, Amount: atomic, State: executor.StateBuilt}

	tx, err := s.builder.BuildOrder(ctx, dir, atomic, token, owner)
	if err != nil {
		logger.WarnContext(ctx, "order not built", "error", err)
		s.metrics.RecordTrade(string(dir), "rejected", time.Since(start).Seconds())
		return nil, err
	}
	receipt.RequestID = tx.RequestID
	receipt.InAmount = tx.InAmount
	receipt.OutAmount = tx.OutAmount

	rec := s.record(ctx, tx, token, owner)
	if rec.ID != uuid.Nil {
		receipt.TradeID = rec.ID.String()
	}

	hook := func(hctx context.Context, from, to executor.State, sig solanago.Signature) {
		switch to {
		case executor.StateSigned:
			rec = s.updateState(hctx, rec, db.UpdateTradeStateParams{ID: rec.ID, State: string(to)})
		case executor.StateSubmitted:
			rec = s.markSubmitted(hctx, rec, sig)
		}
	}

	deadline := s.now().Add(s.confirmTimeout)
	outcome, err := s.executor.Execute(ctx, tx, deadline,
		executor.WithTransitionHook(hook),
		executor.WithRefresher(s.reconciler.RefreshFor(owner, token.NetworkID, token, nil)),
	)
	if outcome != nil {
		receipt.State = outcome.State
		if !outcome.Signature.IsZero() {
			receipt.Signature = outcome.Signature.String()
		}
		if outcome.Result != nil {
			receipt.LedgerStatus = outcome.Result.Status
			receipt.Slot = outcome.Result.Slot
			receipt.LedgerError = outcome.Result.Err
		}
	}

	if err != nil {
		if errors.Is(err, executor.ErrUnconfirmed) {
			// In flight: the journal already says submitted.
			logger.WarnContext(ctx, "trade left unconfirmed", "signature", receipt.Signature, "error", err)
			s.resolve(ctx, rec, receipt.Signature)
		} else {
			msg := err.Error()
			rec = s.updateState(context.WithoutCancel(ctx), rec, db.UpdateTradeStateParams{
				ID:    rec.ID,
				State: string(executor.StateFailed),
				Error: &msg,
			})
		}
		s.metrics.RecordTrade(string(dir), string(receipt.State), time.Since(start).Seconds())
		receipt.Message = UserMessage(err)
		return receipt, err
	}

	params := db.UpdateTradeStateParams{ID: rec.ID, State: string(outcome.State)}
	if outcome.Result != nil {
		status := string(outcome.Result.Status)
		params.LedgerStatus = &status
		if outcome.Result.Slot > 0 {
			slot := int64(outcome.Result.Slot)
			params.Slot = &slot
		}
		if outcome.Result.Err != "" {
			params.Error = &outcome.Result.Err
		}
	}
	rec = s.updateState(ctx, rec, params)

	if outcome.State == executor.StateTimedOut {
		s.resolve(ctx, rec, receipt.Signature)
	}

	s.metrics.RecordTrade(string(dir), string(outcome.State), time.Since(start).Seconds())
	receipt.Message = OutcomeMessage(receipt)
	logger.InfoContext(ctx, "trade finished",
		"state", receipt.State,
		"signature", receipt.Signature,
		"trade_id", receipt.TradeID,
	)
	return receipt, nil
}

// StatusReport is the re-queried state of a signature.
type StatusReport struct {
	Signature    string        `json:"signature"`
	LedgerStatus solana.Status `json:"ledger_status"`
	Slot         uint64        `json:"slot,omitempty"`
	LedgerError  string        `json:"ledger_error,omitempty"`
	Trade        *db.Trade     `json:"trade,omitempty"`
	Message      string        `json:"message"`
}

// Status re-queries a signature. It never resubmits. When the ledger now
// knows the answer for a journaled trade, the journal is brought up to date.
func (s *Service) Status(ctx context.Context, signature string) (*StatusReport, error) {
	if !s.Enabled() {
		return nil, s.disabled()
	}
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}

	res, err := s.executor.Requery(ctx, sig)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		Signature:    signature,
		LedgerStatus: res.Status,
		Slot:         res.Slot,
		LedgerError:  res.Err,
		Message:      StatusMessage(res.Status),
	}

	if s.journal == nil {
		return report, nil
	}
	trade, err := s.journal.GetTradeBySignature(ctx, signature)
	if err != nil {
		if !errors.Is(err, db.ErrTradeNotFound) {
			s.logger.WarnContext(ctx, "journal lookup failed", "signature", signature, "error", err)
		}
		return report, nil
	}
	report.Trade = trade

	var state executor.State
	switch {
	case res.Status == solana.StatusFailed:
		state = executor.StateFailed
	case res.Status.Reaches(s.commitment):
		state = executor.StateConfirmed
	}
	if state != "" && trade.State != string(state) {
		status := string(res.Status)
		params := db.UpdateTradeStateParams{ID: trade.ID, State: string(state), LedgerStatus: &status}
		if res.Err != "" {
			params.Error = &res.Err
		}
		report.Trade = s.updateState(ctx, trade, params)
	}
	return report, nil
}

// record journals a freshly built trade. Without a journal, or when the
// insert fails, the trade is still tracked in memory and events still flow.
func (s *Service) record(ctx context.Context, tx *swap.Transaction, token balance.TokenRef, owner solanago.PublicKey) *db.Trade {
	params := db.CreateTradeParams{
		Wallet:     owner.String(),
		Direction:  string(tx.Order.Direction),
		NetworkID:  token.NetworkID,
		InputMint:  tx.Order.InputMint.String(),
		OutputMint: tx.Order.OutputMint.String(),
		Amount:     tx.Order.Amount.String(),
		RequestID:  tx.RequestID,
		State:      string(executor.StateBuilt),
	}
	now := s.now().UTC()
	rec := &db.Trade{
		Wallet:     params.Wallet,
		Direction:  params.Direction,
		NetworkID:  params.NetworkID,
		InputMint:  params.InputMint,
		OutputMint: params.OutputMint,
		Amount:     params.Amount,
		RequestID:  params.RequestID,
		State:      params.State,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.journal != nil {
		created, err := s.journal.CreateTrade(ctx, params)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to journal trade", "error", err)
		} else {
			rec = created
		}
	}
	s.publish(ctx, rec)
	return rec
}

func (s *Service) markSubmitted(ctx context.Context, rec *db.Trade, sig solanago.Signature) *db.Trade {
	signature := sig.String()
	if s.journal != nil && rec.ID != uuid.Nil {
		updated, err := s.journal.MarkSubmitted(ctx, rec.ID, signature)
		if err == nil {
			s.publish(ctx, updated)
			return updated
		}
		s.logger.ErrorContext(ctx, "failed to journal submission", "trade_id", rec.ID.String(), "signature", signature, "error", err)
	}
	next := *rec
	next.Signature = &signature
	next.State = string(executor.StateSubmitted)
	next.UpdatedAt = s.now().UTC()
	s.publish(ctx, &next)
	return &next
}

func (s *Service) updateState(ctx context.Context, rec *db.Trade, params db.UpdateTradeStateParams) *db.Trade {
	if s.journal != nil && rec.ID != uuid.Nil {
		updated, err := s.journal.UpdateTradeState(ctx, params)
		if err == nil {
			s.publish(ctx, updated)
			return updated
		}
		s.logger.ErrorContext(ctx, "failed to journal trade state", "trade_id", rec.ID.String(), "state", params.State, "error", err)
	}
	next := *rec
	next.State = params.State
	if params.LedgerStatus != nil {
		next.LedgerStatus = params.LedgerStatus
	}
	if params.Slot != nil {
		next.Slot = params.Slot
	}
	if params.Error != nil {
		next.Error = params.Error
	}
	next.UpdatedAt = s.now().UTC()
	s.publish(ctx, &next)
	return &next
}

func (s *Service) resolve(ctx context.Context, rec *db.Trade, signature string) {
	if s.resolver == nil || signature == "" {
		return
	}
	tradeID := ""
	if rec.ID != uuid.Nil {
		tradeID = rec.ID.String()
	}
	if err := s.resolver.Resolve(context.WithoutCancel(ctx), tradeID, signature); err != nil {
		s.logger.ErrorContext(ctx, "failed to hand trade to resolver", "signature", signature, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, rec *db.Trade) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTrade(context.WithoutCancel(ctx), natspkg.FromDBTrade(rec)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish trade event", "state", rec.State, "error", err)
	}
}
