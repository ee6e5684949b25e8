// Package balance produces native and token balance snapshots for a wallet.
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

const (
	PathBulk         = "bulk"
	PathRPC          = "rpc"
	PathBulkFallback = "bulk_fallback"
)

// Ledger is the subset of the Solana client the reconciler reads from.
type Ledger interface {
	GetNativeBalance(ctx context.Context, owner solanago.PublicKey) (amount.Atomic, error)
	GetMint(ctx context.Context, mint solanago.PublicKey) (*solana.MintInfo, error)
	LookupTokenAccount(ctx context.Context, info *solana.MintInfo, owner solanago.PublicKey) (solanago.PublicKey, error)
	GetTokenAccountBalance(ctx context.Context, account solanago.PublicKey) (amount.Atomic, error)
}

// BulkBalanceAPI returns all of a wallet's balances in one request.
type BulkBalanceAPI interface {
	Balances(ctx context.Context, input codex.BalancesInput) ([]codex.BalanceItem, error)
}

// Reconciler fetches balances. It keeps no cache: every call reads fresh.
type Reconciler struct {
	ledger  Ledger
	bulk    BulkBalanceAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReconciler creates a Reconciler. bulk may be nil, in which case every
// reconciliation goes straight to the ledger RPC.
func NewReconciler(ledger Ledger, bulk BulkBalanceAPI, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		bulk:    bulk,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Reconcile returns the native and token balances of owner. It never fails as
// a whole: each leg reports its own error wrapped in ErrBalanceUnavailable.
func (r *Reconciler) Reconcile(ctx context.Context, owner solanago.PublicKey, network int, token TokenRef) Result {
	if token.NetworkID == 0 {
		token.NetworkID = network
	}

	var res Result
	if r.bulk != nil {
		var err error
		res, err = r.reconcileBulk(ctx, owner, network, token)
		if err != nil {
			r.logger.WarnContext(ctx, "bulk balance query failed, falling back to rpc",
				"wallet", owner.String(),
				"error", err,
			)
			res = r.reconcileRPC(ctx, owner, network, token)
			res.Path = PathBulkFallback
		}
	} else {
		res = r.reconcileRPC(ctx, owner, network, token)
	}

	r.metrics.RecordReconcile(res.Path)
	if res.Native.Err != nil {
		r.metrics.RecordReconcileLegError("native", res.Path)
	}
	if res.Token.Err != nil {
		r.metrics.RecordReconcileLegError("token", res.Path)
	}
	return res
}

func (r *Reconciler) reconcileBulk(ctx context.Context, owner solanago.PublicKey, network int, token TokenRef) (Result, error) {
	items, err := r.bulk.Balances(ctx, codex.BalancesInput{
		Networks:      []int{network},
		WalletAddress: owner.String(),
		IncludeNative: true,
	})
	if err != nil {
		return Result{}, err
	}
	observed := r.now()

	byID := make(map[string]codex.BalanceItem, len(items))
	for _, item := range items {
		byID[item.TokenID] = item
	}

	res := Result{Path: PathBulk}

	nativeID := NativeAssetID(network)
	res.Native = snapshotFromItem(nativeID, NativeDecimals, byID, observed)

	if err := token.Validate(); err != nil {
		res.Token = failed(token.AssetID(), token.Decimals, err, observed)
	} else if _, held := byID[token.AssetID()]; held {
		res.Token = snapshotFromItem(token.AssetID(), token.Decimals, byID, observed)
	} else {
		res.Token = r.absentTokenLeg(ctx, token, observed)
	}
	return res, nil
}

// absentTokenLeg handles a token the bulk API did not list. The mint must
// exist on chain for that to mean a zero balance.
func (r *Reconciler) absentTokenLeg(ctx context.Context, token TokenRef, observed time.Time) Snapshot {
	mint, _ := token.Mint()
	if _, err := r.ledger.GetMint(ctx, mint); err != nil {
		return failed(token.AssetID(), token.Decimals, err, observed)
	}
	return snapshot(token.AssetID(), token.Decimals, amount.Zero(), observed)
}

// snapshotFromItem recomputes the shifted value from the atomic string; the
// API's float shiftedBalance is ignored. An absent item is a zero balance.
func snapshotFromItem(id string, decimals uint8, byID map[string]codex.BalanceItem, observed time.Time) Snapshot {
	item, ok := byID[id]
	if !ok {
		return snapshot(id, decimals, amount.Zero(), observed)
	}
	atomic, err := amount.ParseAtomic(item.Balance)
	if err != nil {
		return failed(id, decimals, err, observed)
	}
	return snapshot(id, decimals, atomic, observed)
}

func (r *Reconciler) reconcileRPC(ctx context.Context, owner solanago.PublicKey, network int, token TokenRef) Result {
	res := Result{Path: PathRPC}

	// The legs are independent: neither returns an error to the group, so a
	// failure on one never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		res.Native = r.nativeLeg(ctx, owner, network)
		return nil
	})
	g.Go(func() error {
		res.Token = r.tokenLeg(ctx, owner, token)
		return nil
	})
	_ = g.Wait()

	return res
}

func (r *Reconciler) nativeLeg(ctx context.Context, owner solanago.PublicKey, network int) Snapshot {
	id := NativeAssetID(network)
	lamports, err := r.ledger.GetNativeBalance(ctx, owner)
	if err != nil {
		return failed(id, NativeDecimals, err, r.now())
	}
	return snapshot(id, NativeDecimals, lamports, r.now())
}

func (r *Reconciler) tokenLeg(ctx context.Context, owner solanago.PublicKey, token TokenRef) Snapshot {
	id := token.AssetID()
	if err := token.Validate(); err != nil {
		return failed(id, token.Decimals, err, r.now())
	}
	mint, _ := token.Mint()

	info, err := r.ledger.GetMint(ctx, mint)
	if err != nil {
		return failed(id, token.Decimals, err, r.now())
	}
	if info.Decimals != token.Decimals {
		r.logger.WarnContext(ctx, "token decimals differ from chain",
			"mint", token.Address,
			"configured", token.Decimals,
			"on_chain", info.Decimals,
		)
	}

	account, err := r.ledger.LookupTokenAccount(ctx, info, owner)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return snapshot(id, token.Decimals, amount.Zero(), r.now())
	}
	if err != nil {
		return failed(id, token.Decimals, err, r.now())
	}

	raw, err := r.ledger.GetTokenAccountBalance(ctx, account)
	if err != nil {
		return failed(id, token.Decimals, err, r.now())
	}
	return snapshot(id, token.Decimals, raw, r.now())
}

func snapshot(id string, decimals uint8, atomic amount.Atomic, observed time.Time) Snapshot {
	return Snapshot{
		Asset:      id,
		Decimals:   decimals,
		Atomic:     atomic,
		Shifted:    amount.ToShifted(atomic, decimals),
		ObservedAt: observed,
	}
}

func failed(id string, decimals uint8, cause error, observed time.Time) Snapshot {
	s := snapshot(id, decimals, amount.Zero(), observed)
	s.Err = fmt.Errorf("%w: %w", ErrBalanceUnavailable, cause)
	return s
}

// RefreshFunc adapts a closure to the executor's refresher interface.
type RefreshFunc func(ctx context.Context)

// Refresh calls f.
func (f RefreshFunc) Refresh(ctx context.Context) {
	f(ctx)
}

// RefreshFor returns a RefreshFunc that reconciles owner's balances and hands
// the result to onResult (which may be nil).
func (r *Reconciler) RefreshFor(owner solanago.PublicKey, network int, token TokenRef, onResult func(Result)) RefreshFunc {
	return func(ctx context.Context) {
		res := r.Reconcile(ctx, owner, network, token)
		r.logger.DebugContext(ctx, "balances refreshed",
			"wallet", owner.String(),
			"native", res.Native.Shifted.String(),
			"token", res.Token.Shifted.String(),
		)
		if onResult != nil {
			onResult(res)
		}
	}
}
