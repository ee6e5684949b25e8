package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/keys"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSig = solanago.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")

type fakeLedger struct {
	mu sync.Mutex

	submitErr error
	submits   int

	confirm     *solana.SubmissionResult
	confirmErr  error
	confirmWait bool // block until ctx is done
	confirms    int

	requery *solana.SubmissionResult
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return solanago.Signature{}, f.submitErr
	}
	return testSig, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig solanago.Signature, commitment rpc.CommitmentType, deadline time.Time) (*solana.SubmissionResult, error) {
	f.mu.Lock()
	f.confirms++
	f.mu.Unlock()
	if f.confirmWait {
		<-ctx.Done()
		return &solana.SubmissionResult{Signature: sig, Status: solana.StatusTimedOut}, ctx.Err()
	}
	return f.confirm, f.confirmErr
}

func (f *fakeLedger) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SubmissionResult, error) {
	return f.requery, nil
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	// seen records the ledger's confirm count at refresh time.
	seen   int
	ledger *fakeLedger
}

func (c *countingRefresher) Refresh(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.ledger != nil {
		c.seen = c.ledger.confirms
	}
}

func newWallet(t *testing.T) *keys.Wallet {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := keys.CreateKeypair(key.String(), keys.Base58)
	require.NoError(t, err)
	return w
}

func buildSwap(t *testing.T, payer solanago.PublicKey) *swap.Transaction {
	t.Helper()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, payer, solanago.SystemProgramID).Build()},
		solanago.Hash{},
		solanago.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return &swap.Transaction{Order: swap.Order{Direction: swap.Buy, Signer: payer}, Tx: tx, RequestID: "req"}
}

func newTestExecutor(w Signer, l Ledger) *Executor {
	return New(w, l, rpc.CommitmentConfirmed, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestExecute_Finalized(t *testing.T) {
	w := newWallet(t)
	ledger := &fakeLedger{confirm: &solana.SubmissionResult{Signature: testSig, Status: solana.StatusFinalized, Slot: 9}}
	refresher := &countingRefresher{ledger: ledger}

	var transitions []string
	hook := func(ctx context.Context, from, to State, sig solanago.Signature) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	}

	tx := buildSwap(t, w.PublicKey())
	out, err := newTestExecutor(w, ledger).Execute(context.Background(), tx, time.Now().Add(time.Second),
		WithRefresher(refresher), WithTransitionHook(hook))
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, out.State)
	assert.Equal(t, solana.StatusFinalized, out.Result.Status)
	assert.Equal(t, testSig, out.Signature)
	assert.Equal(t, []State{StateBuilt, StateSigned, StateSubmitted, StateConfirmed}, out.History)
	assert.Equal(t, []string{"built->signed", "signed->submitted", "submitted->confirmed"}, transitions)
	assert.NoError(t, tx.Tx.VerifySignatures())

	assert.Equal(t, 1, ledger.submits)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, refresher.seen, "refresh must happen after confirmation")
}

func TestExecute_TerminalOutcomes(t *testing.T) {
	tests := []struct {
		status solana.Status
		want   State
	}{
		{solana.StatusProcessed, StateConfirmed},
		{solana.StatusConfirmed, StateConfirmed},
		{solana.StatusFailed, StateFailed},
		{solana.StatusTimedOut, StateTimedOut},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			w := newWallet(t)
			ledger := &fakeLedger{confirm: &solana.SubmissionResult{Signature: testSig, Status: tt.status}}
			refresher := &countingRefresher{}

			out, err := newTestExecutor(w, ledger).Execute(context.Background(), buildSwap(t, w.PublicKey()), time.Time{}, WithRefresher(refresher))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.State)
			assert.True(t, out.State.Terminal())
			assert.Equal(t, 1, refresher.calls)
			assert.Equal(t, 1, ledger.submits)
		})
	}
}

func TestExecute_SigningFailed(t *testing.T) {
	w := newWallet(t)
	other := newWallet(t)
	ledger := &fakeLedger{}
	refresher := &countingRefresher{}

	out, err := newTestExecutor(w, ledger).Execute(context.Background(), buildSwap(t, other.PublicKey()), time.Time{}, WithRefresher(refresher))
	assert.ErrorIs(t, err, ErrSigningFailed)
	assert.ErrorIs(t, err, keys.ErrNotSigner)
	assert.Equal(t, StateBuilt, out.State)
	assert.Zero(t, ledger.submits)
	assert.Zero(t, refresher.calls)
}

func TestExecute_SubmissionRejected(t *testing.T) {
	w := newWallet(t)
	ledger := &fakeLedger{submitErr: &solana.SubmissionRejectedError{Reason: "Blockhash not found"}}
	refresher := &countingRefresher{}

	out, err := newTestExecutor(w, ledger).Execute(context.Background(), buildSwap(t, w.PublicKey()), time.Time{}, WithRefresher(refresher))
	var rejected *solana.SubmissionRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Blockhash not found", rejected.Reason)
	assert.Equal(t, StateSigned, out.State)
	assert.Equal(t, 1, ledger.submits)
	assert.Zero(t, ledger.confirms)
	assert.Zero(t, refresher.calls)
}

func TestExecute_CancelledBeforeSubmit(t *testing.T) {
	w := newWallet(t)
	ledger := &fakeLedger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newTestExecutor(w, ledger).Execute(ctx, buildSwap(t, w.PublicKey()), time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnconfirmed)
	assert.Equal(t, StateBuilt, out.State)
	assert.Zero(t, ledger.submits)
}

func TestExecute_CancelledAfterSubmit(t *testing.T) {
	w := newWallet(t)
	ledger := &fakeLedger{confirmWait: true}
	refresher := &countingRefresher{}
	ctx, cancel := context.WithCancel(context.Background())

	var submitted bool
	hook := func(_ context.Context, _, to State, sig solanago.Signature) {
		if to == StateSubmitted {
			submitted = true
			assert.Equal(t, testSig, sig)
			cancel()
		}
	}

	out, err := newTestExecutor(w, ledger).Execute(ctx, buildSwap(t, w.PublicKey()), time.Now().Add(time.Minute),
		WithRefresher(refresher), WithTransitionHook(hook))
	assert.True(t, submitted)
	assert.ErrorIs(t, err, ErrUnconfirmed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateSubmitted, out.State)
	assert.Equal(t, testSig, out.Signature)
	assert.Zero(t, refresher.calls)
}

func TestRequery(t *testing.T) {
	w := newWallet(t)
	ledger := &fakeLedger{requery: &solana.SubmissionResult{Signature: testSig, Status: solana.StatusConfirmed}}
	res, err := newTestExecutor(w, ledger).Requery(context.Background(), testSig)
	require.NoError(t, err)
	assert.Equal(t, solana.StatusConfirmed, res.Status)
}

func TestMachine(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.advance(StateSigned))
	require.NoError(t, m.advance(StateSubmitted))

	assert.ErrorIs(t, m.advance(StateSubmitted), ErrInvalidTransition, "no double submission")
	assert.ErrorIs(t, m.advance(StateSigned), ErrInvalidTransition, "no going back")

	require.NoError(t, m.advance(StateTimedOut))
	for _, s := range []State{StateBuilt, StateSigned, StateSubmitted, StateConfirmed, StateFailed, StateTimedOut} {
		assert.ErrorIs(t, m.advance(s), ErrInvalidTransition, "terminal state must not be left: %s", s)
	}
	assert.Equal(t, []State{StateBuilt, StateSigned, StateSubmitted, StateTimedOut}, m.history)

	fresh := newMachine()
	assert.ErrorIs(t, fresh.advance(StateSubmitted), ErrInvalidTransition, "cannot skip signing")
}
