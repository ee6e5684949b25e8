package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTradeParams(wallet string) CreateTradeParams {
	return CreateTradeParams{
		Wallet:     wallet,
		Direction:  "buy",
		NetworkID:  1399811149,
		InputMint:  "So11111111111111111111111111111111111111112",
		OutputMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:     "340282366920938463463374607431768211455",
		RequestID:  "req-1",
		State:      "built",
	}
}

func TestCreateTrade(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	params := newTradeParams("wallet123")

	trade, err := store.CreateTrade(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.NotEqual(t, uuid.Nil, trade.ID)
	assert.Equal(t, params.Wallet, trade.Wallet)
	assert.Equal(t, params.Direction, trade.Direction)
	assert.Equal(t, params.NetworkID, trade.NetworkID)
	assert.Equal(t, params.Amount, trade.Amount, "amounts wider than 64 bits must survive the round trip")
	assert.Equal(t, "built", trade.State)
	assert.Nil(t, trade.Signature)
	assert.Nil(t, trade.LedgerStatus)
	assert.Zero(t, trade.ResolveAttempts)
	assert.False(t, trade.CreatedAt.IsZero())
}

func TestCreateTrade_RejectsBadDirection(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	params := newTradeParams("wallet123")
	params.Direction = "hold"

	_, err := store.CreateTrade(context.Background(), params)
	require.Error(t, err)
}

func TestTradeLifecycle(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	trade, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)

	submitted, err := store.MarkSubmitted(ctx, trade.ID, "sig123")
	require.NoError(t, err)
	assert.Equal(t, "submitted", submitted.State)
	require.NotNil(t, submitted.Signature)
	assert.Equal(t, "sig123", *submitted.Signature)

	status := "confirmed"
	slot := int64(4242)
	confirmed, err := store.UpdateTradeState(ctx, UpdateTradeStateParams{
		ID:           trade.ID,
		State:        "confirmed",
		LedgerStatus: &status,
		Slot:         &slot,
	})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", confirmed.State)
	require.NotNil(t, confirmed.LedgerStatus)
	assert.Equal(t, "confirmed", *confirmed.LedgerStatus)
	require.NotNil(t, confirmed.Slot)
	assert.Equal(t, slot, *confirmed.Slot)
	assert.Nil(t, confirmed.Error)

	bySig, err := store.GetTradeBySignature(ctx, "sig123")
	require.NoError(t, err)
	assert.Equal(t, trade.ID, bySig.ID)
	assert.Equal(t, "confirmed", bySig.State)
}

func TestUpdateTradeState_KeepsUnsetFields(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	trade, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)
	_, err = store.MarkSubmitted(ctx, trade.ID, "sig123")
	require.NoError(t, err)

	status := "processed"
	_, err = store.UpdateTradeState(ctx, UpdateTradeStateParams{ID: trade.ID, State: "timed_out", LedgerStatus: &status})
	require.NoError(t, err)

	updated, err := store.UpdateTradeState(ctx, UpdateTradeStateParams{ID: trade.ID, State: "timed_out"})
	require.NoError(t, err)
	require.NotNil(t, updated.LedgerStatus)
	assert.Equal(t, "processed", *updated.LedgerStatus)
}

func TestGetTrade_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	_, err := store.GetTrade(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = store.GetTradeBySignature(ctx, "missing")
	assert.ErrorIs(t, err, ErrTradeNotFound)

	_, err = store.MarkSubmitted(ctx, uuid.New(), "sig")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestListTradesByWallet(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.CreateTrade(ctx, newTradeParams("walletA"))
		require.NoError(t, err)
	}
	_, err := store.CreateTrade(ctx, newTradeParams("walletB"))
	require.NoError(t, err)

	trades, err := store.ListTradesByWallet(ctx, "walletA", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
	for i := 1; i < len(trades); i++ {
		assert.False(t, trades[i].CreatedAt.After(trades[i-1].CreatedAt), "newest first")
	}

	limited, err := store.ListTradesByWallet(ctx, "walletA", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListUnresolvedTrades(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()

	built, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)

	submitted, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)
	_, err = store.MarkSubmitted(ctx, submitted.ID, "sig-submitted")
	require.NoError(t, err)

	timedOut, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)
	_, err = store.MarkSubmitted(ctx, timedOut.ID, "sig-timed-out")
	require.NoError(t, err)
	_, err = store.UpdateTradeState(ctx, UpdateTradeStateParams{ID: timedOut.ID, State: "timed_out"})
	require.NoError(t, err)

	confirmed, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)
	_, err = store.MarkSubmitted(ctx, confirmed.ID, "sig-confirmed")
	require.NoError(t, err)
	_, err = store.UpdateTradeState(ctx, UpdateTradeStateParams{ID: confirmed.ID, State: "confirmed"})
	require.NoError(t, err)

	trades, err := store.ListUnresolvedTrades(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for _, tr := range trades {
		ids[tr.ID] = true
	}
	assert.Len(t, trades, 2)
	assert.True(t, ids[submitted.ID])
	assert.True(t, ids[timedOut.ID])
	assert.False(t, ids[built.ID], "trades without a signature are not resolvable")
	assert.False(t, ids[confirmed.ID])

	none, err := store.ListUnresolvedTrades(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIncrementResolveAttempts(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	trade, err := store.CreateTrade(ctx, newTradeParams("wallet123"))
	require.NoError(t, err)

	n, err := store.IncrementResolveAttempts(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.IncrementResolveAttempts(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
