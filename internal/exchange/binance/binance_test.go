package binance

import (
	"testing"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	apperrors "gridbot/pkg/errors"
)

func TestParseDecimalInvalidReturnsZero(t *testing.T) {
	require.True(t, parseDecimal("not-a-number").IsZero())
	require.True(t, decimal.NewFromFloat(1.5).Equal(parseDecimal("1.5")))
}

func TestDecimalsOfTickSize(t *testing.T) {
	require.Equal(t, int32(2), decimalsOf("0.01"))
	require.Equal(t, int32(6), decimalsOf("0.000001"))
	require.Equal(t, int32(8), decimalsOf("0"))
}

func TestMapSide(t *testing.T) {
	require.Equal(t, "buy", string(mapSide(gobinance.SideTypeBuy)))
	require.Equal(t, "sell", string(mapSide(gobinance.SideTypeSell)))
}

func TestMapOrderStatus(t *testing.T) {
	require.Equal(t, "filled", string(mapOrderStatus(gobinance.OrderStatusTypeFilled)))
	require.Equal(t, "canceled", string(mapOrderStatus(gobinance.OrderStatusTypeCanceled)))
	require.Equal(t, "open", string(mapOrderStatus(gobinance.OrderStatusTypeNew)))
}

func TestClassifyPlacementErrorMapsKnownCodes(t *testing.T) {
	cases := map[int64]error{
		-2010: apperrors.ErrInsufficientFunds,
		-1013: apperrors.ErrInvalidOrderParameter,
		-2015: apperrors.ErrAuthenticationFailed,
		-1003: apperrors.ErrRateLimitExceeded,
		-2011: apperrors.ErrOrderNotFound,
	}
	for code, want := range cases {
		got := classifyPlacementError(&gobinance.APIError{Code: code, Message: "venue error"})
		require.ErrorIs(t, got, want)
	}
}

func TestClassifyPlacementErrorPassesThroughUnknown(t *testing.T) {
	apiErr := &gobinance.APIError{Code: -9999, Message: "weird"}
	require.Equal(t, apiErr, classifyPlacementError(apiErr))
}
