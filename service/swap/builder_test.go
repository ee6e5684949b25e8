package swap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/jupiter"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAggregator struct {
	mock.Mock
}

func (m *mockAggregator) GetOrder(ctx context.Context, req jupiter.OrderRequest) (*jupiter.Order, error) {
	args := m.Called(ctx, req)
	if o := args.Get(0); o != nil {
		return o.(*jupiter.Order), args.Error(1)
	}
	return nil, args.Error(1)
}

var (
	signer = solanago.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	usdc   = balance.TokenRef{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, NetworkID: balance.SolanaNetworkID}
)

func encodedTx(t *testing.T) string {
	t.Helper()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, signer, solanago.SystemProgramID).Build()},
		solanago.Hash{},
		solanago.TransactionPayer(signer),
	)
	require.NoError(t, err)
	b64, err := tx.ToBase64()
	require.NoError(t, err)
	return b64
}

func newTestBuilder(agg Aggregator) *Builder {
	return NewBuilder(agg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func strPtr(s string) *string { return &s }

func TestMintsFor(t *testing.T) {
	token := solanago.MustPublicKeyFromBase58(usdc.Address)

	in, out, err := MintsFor(Buy, token)
	require.NoError(t, err)
	assert.Equal(t, NativeMint, in)
	assert.Equal(t, token, out)

	in, out, err = MintsFor(Sell, token)
	require.NoError(t, err)
	assert.Equal(t, token, in)
	assert.Equal(t, NativeMint, out)

	_, _, err = MintsFor(Direction("hold"), token)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestBuildOrder_BuyHalfSol(t *testing.T) {
	lamports, err := amount.ShiftedToAtomic("0.5", balance.NativeDecimals)
	require.NoError(t, err)

	agg := &mockAggregator{}
	agg.On("GetOrder", mock.Anything, jupiter.OrderRequest{
		InputMint:  "So11111111111111111111111111111111111111112",
		OutputMint: usdc.Address,
		Amount:     "500000000",
		Taker:      signer.String(),
	}).Return(&jupiter.Order{Transaction: strPtr(encodedTx(t)), RequestID: "req-1", OutAmount: "75000000"}, nil).Once()

	tx, err := newTestBuilder(agg).BuildOrder(context.Background(), Buy, lamports, usdc, signer)
	require.NoError(t, err)
	agg.AssertExpectations(t)

	assert.Equal(t, "req-1", tx.RequestID)
	assert.Equal(t, Buy, tx.Order.Direction)
	assert.Equal(t, "500000000", tx.Order.Amount.String())
	require.NotNil(t, tx.Tx)
	assert.True(t, tx.Tx.IsSigner(signer))
}

func TestBuildOrder_SellReversesMints(t *testing.T) {
	agg := &mockAggregator{}
	agg.On("GetOrder", mock.Anything, mock.MatchedBy(func(req jupiter.OrderRequest) bool {
		return req.InputMint == usdc.Address && req.OutputMint == NativeMint.String() && req.Amount == "123456789012345678901"
	})).Return(&jupiter.Order{Transaction: strPtr(encodedTx(t))}, nil)

	raw, err := amount.ParseAtomic("123456789012345678901")
	require.NoError(t, err)
	tx, err := newTestBuilder(agg).BuildOrder(context.Background(), Sell, raw, usdc, signer)
	require.NoError(t, err)
	assert.Equal(t, NativeMint, tx.Order.OutputMint)
}

func TestBuildOrder_Errors(t *testing.T) {
	ctx := context.Background()
	one := amount.NewAtomic(1)

	tests := []struct {
		name  string
		order *jupiter.Order
		err   error
		want  error
	}{
		{"null transaction", &jupiter.Order{Transaction: nil}, nil, ErrNoRouteFound},
		{"empty transaction", &jupiter.Order{Transaction: strPtr("")}, nil, ErrNoRouteFound},
		{"undecodable transaction", &jupiter.Order{Transaction: strPtr("!!not base64!!")}, nil, ErrMalformedAggregatorResponse},
		{"truncated transaction", &jupiter.Order{Transaction: strPtr("AQID")}, nil, ErrMalformedAggregatorResponse},
		{"transport", nil, fmt.Errorf("%w: dial tcp", jupiter.ErrUnavailable), ErrAggregatorUnavailable},
		{"api rejection", nil, &jupiter.APIError{StatusCode: 400, Message: "Could not find any route"}, ErrNoRouteFound},
		{"bad json", nil, fmt.Errorf("failed to decode response: unexpected EOF"), ErrMalformedAggregatorResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := &mockAggregator{}
			agg.On("GetOrder", mock.Anything, mock.Anything).Return(tt.order, tt.err)

			tx, err := newTestBuilder(agg).BuildOrder(ctx, Buy, one, usdc, signer)
			assert.Nil(t, tx)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildOrder_RejectsBeforeCallingOut(t *testing.T) {
	agg := &mockAggregator{}
	b := newTestBuilder(agg)

	_, err := b.BuildOrder(context.Background(), Buy, amount.Zero(), usdc, signer)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = b.BuildOrder(context.Background(), Direction("x"), amount.NewAtomic(1), usdc, signer)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = b.BuildOrder(context.Background(), Buy, amount.NewAtomic(1), balance.TokenRef{Address: "nope"}, signer)
	assert.ErrorIs(t, err, ErrInvalidOrder)

	agg.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" BUY ")
	require.NoError(t, err)
	assert.Equal(t, Buy, d)
	d, err = ParseDirection("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, d)
	_, err = ParseDirection("short")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
