package trade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/executor"
	"github.com/ethanlolomg/mini-trading-terminal/service/keys"
	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSig   = solanago.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	testToken = balance.TokenRef{
		Address:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:  6,
		NetworkID: balance.SolanaNetworkID,
	}
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// fakeJournal records every write in order.
type fakeJournal struct {
	mu        sync.Mutex
	ops       []string
	trades    map[uuid.UUID]*db.Trade
	createErr error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{trades: make(map[uuid.UUID]*db.Trade)}
}

func (j *fakeJournal) CreateTrade(ctx context.Context, p db.CreateTradeParams) (*db.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.createErr != nil {
		return nil, j.createErr
	}
	t := &db.Trade{
		ID: uuid.New(), Wallet: p.Wallet, Direction: p.Direction, NetworkID: p.NetworkID,
		InputMint: p.InputMint, OutputMint: p.OutputMint, Amount: p.Amount, RequestID: p.RequestID, State: p.State,
	}
	j.trades[t.ID] = t
	j.ops = append(j.ops, "create:"+p.State)
	return copyTrade(t), nil
}

func (j *fakeJournal) MarkSubmitted(ctx context.Context, id uuid.UUID, signature string) (*db.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.trades[id]
	if !ok {
		return nil, db.ErrTradeNotFound
	}
	t.Signature = &signature
	t.State = "submitted"
	j.ops = append(j.ops, "submitted")
	return copyTrade(t), nil
}

func (j *fakeJournal) UpdateTradeState(ctx context.Context, p db.UpdateTradeStateParams) (*db.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.trades[p.ID]
	if !ok {
		return nil, db.ErrTradeNotFound
	}
	t.State = p.State
	if p.LedgerStatus != nil {
		t.LedgerStatus = p.LedgerStatus
	}
	if p.Error != nil {
		t.Error = p.Error
	}
	if p.Slot != nil {
		t.Slot = p.Slot
	}
	j.ops = append(j.ops, "update:"+p.State)
	return copyTrade(t), nil
}

func (j *fakeJournal) GetTradeBySignature(ctx context.Context, signature string) (*db.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.trades {
		if t.Signature != nil && *t.Signature == signature {
			return copyTrade(t), nil
		}
	}
	return nil, db.ErrTradeNotFound
}

func (j *fakeJournal) lastState() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.trades {
		return t.State
	}
	return ""
}

func (j *fakeJournal) operations() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ops...)
}

func copyTrade(t *db.Trade) *db.Trade {
	c := *t
	return &c
}

// fakeLedger backs a real executor.
type fakeLedger struct {
	submitErr   error
	confirm     *solana.SubmissionResult
	confirmWait bool
	requery     *solana.SubmissionResult

	journal             *fakeJournal
	stateAtConfirmation string
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	if f.submitErr != nil {
		return solanago.Signature{}, f.submitErr
	}
	return testSig, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig solanago.Signature, commitment rpc.CommitmentType, deadline time.Time) (*solana.SubmissionResult, error) {
	if f.journal != nil {
		f.stateAtConfirmation = f.journal.lastState()
	}
	if f.confirmWait {
		<-ctx.Done()
		return &solana.SubmissionResult{Signature: sig, Status: solana.StatusTimedOut}, ctx.Err()
	}
	return f.confirm, nil
}

func (f *fakeLedger) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error) {
	if f.requery == nil {
		return nil, solana.ErrRPCUnavailable
	}
	return f.requery, nil
}

type fakeReconciler struct {
	mu        sync.Mutex
	result    balance.Result
	refreshes int
}

func (r *fakeReconciler) Reconcile(ctx context.Context, owner solanago.PublicKey, network int, token balance.TokenRef) balance.Result {
	return r.result
}

func (r *fakeReconciler) RefreshFor(owner solanago.PublicKey, network int, token balance.TokenRef, onResult func(balance.Result)) balance.RefreshFunc {
	return func(ctx context.Context) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.refreshes++
	}
}

type fakeBuilder struct {
	t      *testing.T
	err    error
	calls  int
	dir    swap.Direction
	atomic amount.Atomic
}

func (b *fakeBuilder) BuildOrder(ctx context.Context, dir swap.Direction, atomic amount.Atomic, token balance.TokenRef, signer solanago.PublicKey) (*swap.Transaction, error) {
	b.calls++
	b.dir = dir
	b.atomic = atomic
	if b.err != nil {
		return nil, b.err
	}
	mint, err := token.Mint()
	require.NoError(b.t, err)
	in, out, err := swap.MintsFor(dir, mint)
	require.NoError(b.t, err)

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, signer, solanago.SystemProgramID).Build()},
		solanago.Hash{},
		solanago.TransactionPayer(signer),
	)
	require.NoError(b.t, err)
	return &swap.Transaction{
		Order:     swap.Order{Direction: dir, InputMint: in, OutputMint: out, Amount: atomic, Signer: signer},
		Tx:        tx,
		RequestID: "req-1",
		InAmount:  atomic.String(),
		OutAmount: "42",
	}, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeResolver) Resolve(ctx context.Context, tradeID, signature string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tradeID+"|"+signature)
	return nil
}

type harness struct {
	svc        *Service
	ledger     *fakeLedger
	journal    *fakeJournal
	builder    *fakeBuilder
	reconciler *fakeReconciler
	resolver   *fakeResolver
	publisher  *natspkg.MockPublisher
	wallet     *keys.Wallet
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	wallet, err := keys.CreateKeypair(key.String(), keys.Base58)
	require.NoError(t, err)

	journal := newFakeJournal()
	h := &harness{
		ledger:  &fakeLedger{confirm: &solana.SubmissionResult{Signature: testSig, Status: solana.StatusConfirmed, Slot: 77}, journal: journal},
		journal: journal,
		builder: &fakeBuilder{t: t},
		reconciler: &fakeReconciler{result: balance.Result{
			Token: balance.Snapshot{Asset: testToken.AssetID(), Decimals: 6, Atomic: amount.NewAtomic(1001)},
		}},
		resolver:  &fakeResolver{},
		publisher: natspkg.NewMockPublisher(),
		wallet:    wallet,
	}
	h.svc = NewService(Deps{
		Wallet:         wallet,
		Reconciler:     h.reconciler,
		Builder:        h.builder,
		Executor:       executor.New(wallet, h.ledger, rpc.CommitmentConfirmed, discard, nil),
		Journal:        journal,
		Publisher:      h.publisher,
		Resolver:       h.resolver,
		ConfirmTimeout: time.Second,
		Logger:         discard,
	})
	return h
}

func TestService_Disabled(t *testing.T) {
	svc := NewService(Deps{Logger: discard})
	ctx := context.Background()

	assert.False(t, svc.Enabled())

	_, err := svc.Buy(ctx, testToken, "1")
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	_, err = svc.Sell(ctx, testToken, "50")
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	_, err = svc.Balances(ctx, testToken)
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	_, err = svc.Status(ctx, testSig.String())
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	_, err = svc.Wallet()
	assert.ErrorIs(t, err, ErrConfigurationMissing)

	assert.Equal(t, "Trading is disabled: no wallet is configured.", UserMessage(err))
}

func TestService_InvalidWalletKey(t *testing.T) {
	keyErr := fmt.Errorf("SOLANA_PRIVATE_KEY: %w: decoded 2 bytes", keys.ErrInvalidKeyEncoding)
	svc := NewService(Deps{WalletErr: keyErr, Logger: discard})
	ctx := context.Background()

	assert.False(t, svc.Enabled())

	_, err := svc.Wallet()
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	assert.ErrorIs(t, err, keys.ErrInvalidKeyEncoding)
	assert.Equal(t, "Trading is disabled: the configured wallet key is invalid.", UserMessage(err))

	_, err = svc.Buy(ctx, testToken, "1")
	assert.ErrorIs(t, err, keys.ErrInvalidKeyEncoding)
	_, err = svc.Sell(ctx, testToken, "50")
	assert.ErrorIs(t, err, keys.ErrInvalidKeyEncoding)
	_, err = svc.Balances(ctx, testToken)
	assert.ErrorIs(t, err, keys.ErrInvalidKeyEncoding)
	_, err = svc.Status(ctx, testSig.String())
	assert.ErrorIs(t, err, keys.ErrInvalidKeyEncoding)
}

func TestBuy_ConvertsSOLToLamports(t *testing.T) {
	h := newHarness(t)

	receipt, err := h.svc.Buy(context.Background(), testToken, "0.5")
	require.NoError(t, err)

	assert.Equal(t, 1, h.builder.calls)
	assert.Equal(t, swap.Buy, h.builder.dir)
	assert.Equal(t, "500000000", h.builder.atomic.String())

	assert.Equal(t, executor.StateConfirmed, receipt.State)
	assert.Equal(t, testSig.String(), receipt.Signature)
	assert.Equal(t, solana.StatusConfirmed, receipt.LedgerStatus)
	assert.Equal(t, uint64(77), receipt.Slot)
	assert.NotEmpty(t, receipt.TradeID)
	assert.Equal(t, "Buy confirmed.", receipt.Message)

	assert.Equal(t, []string{"create:built", "update:signed", "submitted", "update:confirmed"}, h.journal.operations())
	assert.Equal(t, []string{"built", "signed", "submitted", "confirmed"}, h.publisher.GetPublishedStates())
	assert.Equal(t, 1, h.reconciler.refreshes)
	assert.Empty(t, h.resolver.calls)
}

func TestBuy_JournalSeesSubmittedBeforeConfirmation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)
	assert.Equal(t, "submitted", h.ledger.stateAtConfirmation)
}

func TestBuy_RejectsBadAmounts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		also  error
	}{
		{name: "zero", input: "0"},
		{name: "negative", input: "-1"},
		{name: "not a number", input: "abc", also: amount.ErrInvalidAmount},
		{name: "empty", input: "", also: amount.ErrInvalidAmount},
		{name: "below one lamport", input: "0.0000000001", also: amount.ErrSubAtomicPrecision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Buy(context.Background(), testToken, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			if tt.also != nil {
				assert.ErrorIs(t, err, tt.also)
			}
			assert.Zero(t, h.builder.calls)
			assert.Empty(t, h.journal.operations())
		})
	}
}

func TestBuy_InvalidToken(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Buy(context.Background(), balance.TokenRef{Address: "nope", NetworkID: 1}, "1")
	assert.ErrorIs(t, err, balance.ErrInvalidTokenRef)
	assert.Zero(t, h.builder.calls)
}

func TestSell_Percentages(t *testing.T) {
	tests := []struct {
		percent string
		want    string
	}{
		{percent: "25", want: "250"},
		{percent: "50", want: "500"},
		{percent: "75", want: "750"},
		{percent: "100", want: "1001"},
		{percent: "33.3", want: "333"},
	}

	for _, tt := range tests {
		t.Run(tt.percent, func(t *testing.T) {
			h := newHarness(t)
			receipt, err := h.svc.Sell(context.Background(), testToken, tt.percent)
			require.NoError(t, err)
			assert.Equal(t, swap.Sell, h.builder.dir)
			assert.Equal(t, tt.want, h.builder.atomic.String())
			assert.Equal(t, "Sell confirmed.", receipt.Message)
		})
	}
}

func TestSell_Rejections(t *testing.T) {
	t.Run("percent out of range", func(t *testing.T) {
		for _, pct := range []string{"0", "-5", "100.01", "abc"} {
			h := newHarness(t)
			_, err := h.svc.Sell(context.Background(), testToken, pct)
			assert.ErrorIs(t, err, ErrInvalidAmount, pct)
			assert.Zero(t, h.builder.calls)
		}
	})

	t.Run("zero holdings", func(t *testing.T) {
		h := newHarness(t)
		h.reconciler.result.Token.Atomic = amount.Zero()
		_, err := h.svc.Sell(context.Background(), testToken, "100")
		assert.ErrorIs(t, err, ErrNoHoldings)
		assert.Zero(t, h.builder.calls)
	})

	t.Run("rounds to zero", func(t *testing.T) {
		h := newHarness(t)
		h.reconciler.result.Token.Atomic = amount.NewAtomic(1)
		_, err := h.svc.Sell(context.Background(), testToken, "25")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Zero(t, h.builder.calls)
	})

	t.Run("balance unavailable", func(t *testing.T) {
		h := newHarness(t)
		h.reconciler.result.Token.Err = fmt.Errorf("%w: %w", balance.ErrBalanceUnavailable, solana.ErrRPCUnavailable)
		_, err := h.svc.Sell(context.Background(), testToken, "50")
		assert.ErrorIs(t, err, balance.ErrBalanceUnavailable)
		assert.Zero(t, h.builder.calls)
	})
}

func TestTrade_TimedOutIsHandedToResolver(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}

	receipt, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)

	assert.Equal(t, executor.StateTimedOut, receipt.State)
	assert.Contains(t, receipt.Message, testSig.String())
	assert.Equal(t, "timed_out", h.journal.lastState())
	require.Len(t, h.resolver.calls, 1)
	assert.Equal(t, receipt.TradeID+"|"+testSig.String(), h.resolver.calls[0])
}

func TestTrade_FailedOnChain(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusFailed, Err: "slippage exceeded"}

	receipt, err := h.svc.Sell(context.Background(), testToken, "50")
	require.NoError(t, err)

	assert.Equal(t, executor.StateFailed, receipt.State)
	assert.Equal(t, "Sell failed on chain: slippage exceeded", receipt.Message)
	assert.Equal(t, "failed", h.journal.lastState())
	assert.Empty(t, h.resolver.calls)
}

func TestTrade_UnconfirmedStaysSubmitted(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirmWait = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	receipt, err := h.svc.Buy(ctx, testToken, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, executor.ErrUnconfirmed)

	require.NotNil(t, receipt)
	assert.Equal(t, executor.StateSubmitted, receipt.State)
	assert.Equal(t, testSig.String(), receipt.Signature)
	assert.Equal(t, "submitted", h.journal.lastState())
	assert.Len(t, h.resolver.calls, 1)
	assert.Zero(t, h.reconciler.refreshes)
	assert.Equal(t, UserMessage(err), receipt.Message)
}

func TestTrade_SubmissionRejected(t *testing.T) {
	h := newHarness(t)
	h.ledger.submitErr = fmt.Errorf("%w", &solana.SubmissionRejectedError{Code: -32002, Reason: "insufficient funds for fee"})

	receipt, err := h.svc.Buy(context.Background(), testToken, "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, solana.ErrSubmissionRejected)
	assert.Equal(t, executor.StateSigned, receipt.State)
	assert.Empty(t, receipt.Signature)
	assert.Equal(t, "The network rejected the transaction: insufficient funds for fee", receipt.Message)
	assert.Equal(t, "failed", h.journal.lastState())
	assert.Empty(t, h.resolver.calls)
}

func TestTrade_BuildFailureIsNotJournaled(t *testing.T) {
	h := newHarness(t)
	h.builder.err = fmt.Errorf("%w: no liquidity", swap.ErrNoRouteFound)

	receipt, err := h.svc.Buy(context.Background(), testToken, "1")
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, swap.ErrNoRouteFound)
	assert.Empty(t, h.journal.operations())
	assert.Empty(t, h.publisher.GetPublishedEvents())
}

func TestTrade_JournalOutageDoesNotBlockTrade(t *testing.T) {
	h := newHarness(t)
	h.journal.createErr = errors.New("connection refused")

	receipt, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)
	assert.Equal(t, executor.StateConfirmed, receipt.State)
	assert.Empty(t, receipt.TradeID)
	assert.Equal(t, []string{"built", "signed", "submitted", "confirmed"}, h.publisher.GetPublishedStates())
}

func TestTrade_WithoutOptionalCollaborators(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}
	svc := NewService(Deps{
		Wallet:     h.wallet,
		Reconciler: h.reconciler,
		Builder:    h.builder,
		Executor:   executor.New(h.wallet, h.ledger, rpc.CommitmentConfirmed, discard, nil),
		Logger:     discard,
	})

	receipt, err := svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)
	assert.Equal(t, executor.StateTimedOut, receipt.State)
}

func TestStatus_UpdatesJournal(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}

	_, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)
	require.Equal(t, "timed_out", h.journal.lastState())

	h.ledger.requery = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusFinalized, Slot: 99}
	report, err := h.svc.Status(context.Background(), testSig.String())
	require.NoError(t, err)

	assert.Equal(t, solana.StatusFinalized, report.LedgerStatus)
	assert.Equal(t, uint64(99), report.Slot)
	require.NotNil(t, report.Trade)
	assert.Equal(t, "confirmed", report.Trade.State)
	assert.Equal(t, "confirmed", h.journal.lastState())
	assert.Equal(t, "Transaction confirmed.", report.Message)
}

func TestStatus_ProcessedDoesNotConfirmJournal(t *testing.T) {
	h := newHarness(t)
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}

	_, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)
	require.Equal(t, "timed_out", h.journal.lastState())

	h.ledger.requery = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusProcessed, Slot: 98}
	report, err := h.svc.Status(context.Background(), testSig.String())
	require.NoError(t, err)

	assert.Equal(t, solana.StatusProcessed, report.LedgerStatus)
	require.NotNil(t, report.Trade)
	assert.Equal(t, "timed_out", report.Trade.State)
	assert.Equal(t, "timed_out", h.journal.lastState())
	assert.Equal(t, "Transaction processed, awaiting confirmation.", report.Message)

	// A later re-query that reaches the commitment still settles the trade.
	h.ledger.requery = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusConfirmed, Slot: 99}
	report, err = h.svc.Status(context.Background(), testSig.String())
	require.NoError(t, err)
	assert.Equal(t, "confirmed", report.Trade.State)
}

func TestStatus_ProcessedCommitmentConfirms(t *testing.T) {
	h := newHarness(t)
	h.svc.commitment = rpc.CommitmentProcessed
	h.ledger.confirm = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}

	_, err := h.svc.Buy(context.Background(), testToken, "1")
	require.NoError(t, err)

	h.ledger.requery = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusProcessed}
	report, err := h.svc.Status(context.Background(), testSig.String())
	require.NoError(t, err)
	assert.Equal(t, "confirmed", report.Trade.State)
}

func TestStatus_UnknownSignature(t *testing.T) {
	h := newHarness(t)
	h.ledger.requery = &solana.SubmissionResult{Signature: testSig, Status: solana.StatusTimedOut}

	report, err := h.svc.Status(context.Background(), testSig.String())
	require.NoError(t, err)
	assert.Nil(t, report.Trade)
	assert.Equal(t, "Transaction not found yet.", report.Message)
}

func TestStatus_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Status(context.Background(), "not-base58-!!")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = h.svc.Status(context.Background(), testSig.String())
	assert.ErrorIs(t, err, solana.ErrRPCUnavailable)
}

type fakeTokens struct {
	token    *codex.Token
	networks []codex.Network
	err      error
}

func (f *fakeTokens) Token(ctx context.Context, address string, networkID int) (*codex.Token, error) {
	return f.token, f.err
}

func (f *fakeTokens) Networks(ctx context.Context) ([]codex.Network, error) {
	return f.networks, f.err
}

type fakeMints struct {
	decimals uint8
	err      error
	calls    int
}

func (f *fakeMints) GetMint(ctx context.Context, mint solanago.PublicKey) (*solana.MintInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &solana.MintInfo{Address: mint, Decimals: f.decimals}, nil
}

func TestToken(t *testing.T) {
	ctx := context.Background()

	t.Run("from token data api", func(t *testing.T) {
		mints := &fakeMints{decimals: 9}
		svc := NewService(Deps{
			Tokens: &fakeTokens{token: &codex.Token{Address: testToken.Address, Symbol: "USDC", Decimals: 6, NetworkID: testToken.NetworkID}},
			Mints:  mints,
			Logger: discard,
		})
		ref, tok, err := svc.Token(ctx, testToken.NetworkID, testToken.Address)
		require.NoError(t, err)
		assert.Equal(t, testToken, ref)
		assert.Equal(t, "USDC", tok.Symbol)
		assert.Zero(t, mints.calls)
	})

	t.Run("falls back to chain without api key", func(t *testing.T) {
		mints := &fakeMints{decimals: 6}
		svc := NewService(Deps{Tokens: &fakeTokens{err: codex.ErrAPIKeyMissing}, Mints: mints, Logger: discard})
		ref, tok, err := svc.Token(ctx, testToken.NetworkID, testToken.Address)
		require.NoError(t, err)
		assert.Nil(t, tok)
		assert.Equal(t, testToken, ref)
		assert.Equal(t, 1, mints.calls)
	})

	t.Run("unknown token", func(t *testing.T) {
		svc := NewService(Deps{Tokens: &fakeTokens{err: codex.ErrNotFound}, Mints: &fakeMints{}, Logger: discard})
		_, _, err := svc.Token(ctx, testToken.NetworkID, testToken.Address)
		assert.ErrorIs(t, err, solana.ErrInvalidToken)
	})

	t.Run("bad address", func(t *testing.T) {
		svc := NewService(Deps{Mints: &fakeMints{}, Logger: discard})
		_, _, err := svc.Token(ctx, testToken.NetworkID, "xyz")
		assert.ErrorIs(t, err, balance.ErrInvalidTokenRef)
	})

	t.Run("missing mint", func(t *testing.T) {
		svc := NewService(Deps{Mints: &fakeMints{err: solana.ErrInvalidToken}, Logger: discard})
		_, _, err := svc.Token(ctx, testToken.NetworkID, testToken.Address)
		assert.ErrorIs(t, err, solana.ErrInvalidToken)
	})
}

func TestBalances(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Balances(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, "1001", res.Token.Atomic.String())

	_, err = h.svc.Balances(context.Background(), balance.TokenRef{Address: testToken.Address, Decimals: 30})
	assert.ErrorIs(t, err, balance.ErrInvalidTokenRef)
}

func TestNetworks(t *testing.T) {
	ctx := context.Background()

	_, err := NewService(Deps{Logger: discard}).Networks(ctx)
	assert.ErrorIs(t, err, codex.ErrAPIKeyMissing)
	assert.Equal(t, "Token data is unavailable: no API key is configured.", UserMessage(err))

	tokens := &fakeTokens{networks: []codex.Network{{ID: balance.SolanaNetworkID, Name: "Solana"}}}
	networks, err := NewService(Deps{Tokens: tokens, Logger: discard}).Networks(ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens.networks, networks)
}
