package mock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

func TestPlaceLimitReservesQuoteBalance(t *testing.T) {
	ex := New("mock", decimal.NewFromInt(1000))
	ctx := context.Background()

	order, err := ex.PlaceLimit(ctx, "BTCUSDT", core.SideBuy, decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	require.NoError(t, err)
	require.Equal(t, core.OrderStatusOpen, order.Status)

	balances, err := ex.FetchBalance(ctx)
	require.NoError(t, err)
	var quote core.Balance
	for _, b := range balances {
		if b.Asset == "USDT" {
			quote = b
		}
	}
	require.True(t, quote.Free.Equal(decimal.NewFromInt(900)))
}

func TestPlaceLimitRejectsInsufficientFunds(t *testing.T) {
	ex := New("mock", decimal.NewFromInt(10))
	_, err := ex.PlaceLimit(context.Background(), "BTCUSDT", core.SideBuy, decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestSimulateFillCreditsBaseAssetAndRecordsTrade(t *testing.T) {
	ex := New("mock", decimal.NewFromInt(1000))
	ctx := context.Background()

	order, err := ex.PlaceLimit(ctx, "BTCUSDT", core.SideBuy, decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	require.NoError(t, err)

	ex.SimulateFill(order.ID)

	balances, err := ex.FetchBalance(ctx)
	require.NoError(t, err)
	var btc core.Balance
	for _, b := range balances {
		if b.Asset == "BTC" {
			btc = b
		}
	}
	require.True(t, btc.Free.Equal(decimal.NewFromFloat(1)))

	trades, err := ex.FetchMyTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
}

func TestCancelRefundsReservedQuote(t *testing.T) {
	ex := New("mock", decimal.NewFromInt(1000))
	ctx := context.Background()

	order, err := ex.PlaceLimit(ctx, "BTCUSDT", core.SideBuy, decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	require.NoError(t, err)

	require.NoError(t, ex.Cancel(ctx, "BTCUSDT", order.ID))

	balances, err := ex.FetchBalance(ctx)
	require.NoError(t, err)
	var quote core.Balance
	for _, b := range balances {
		if b.Asset == "USDT" {
			quote = b
		}
	}
	require.True(t, quote.Free.Equal(decimal.NewFromInt(1000)))
}

func TestCancelUnknownOrderIsSuccess(t *testing.T) {
	ex := New("mock", decimal.NewFromInt(1000))
	require.NoError(t, ex.Cancel(context.Background(), "BTCUSDT", "nonexistent"))
}
