package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decStr(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGenerateLadderFourGrids(t *testing.T) {
	levels := GenerateLadder(decimal.NewFromInt(100), decimal.NewFromInt(1), 4, 2)

	want := []string{"98", "99", "101", "102"}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %d: %v", len(want), len(levels), levels)
	}
	for i, w := range want {
		if !levels[i].Equal(decStr(w)) {
			t.Errorf("level %d: want %s, got %s", i, w, levels[i].String())
		}
	}
}

func TestAntiWashFloorHalfSpreadAboveLastBuy(t *testing.T) {
	floor := AntiWashFloor(decimal.NewFromFloat(99.50), decimal.NewFromInt(1))
	want := decStr("99.9975")
	if !floor.Equal(want) {
		t.Errorf("want floor %s, got %s", want.String(), floor.String())
	}
}

func TestPricesEqualWithinRelativeTolerance(t *testing.T) {
	a := decimal.NewFromFloat(100.0)
	b := decimal.NewFromFloat(100.0009) // within 1e-5 relative tolerance
	if !PricesEqual(a, b) {
		t.Errorf("expected %s and %s to compare equal within tolerance", a, b)
	}

	c := decimal.NewFromFloat(100.01) // outside tolerance
	if PricesEqual(a, c) {
		t.Errorf("expected %s and %s to compare unequal", a, c)
	}
}

func TestLinkedBuyTarget(t *testing.T) {
	target := LinkedBuyTarget(decimal.NewFromFloat(101), decimal.NewFromInt(1))
	want := decStr("101").Div(decStr("1.01"))
	if !target.Equal(want) {
		t.Errorf("want %s, got %s", want.String(), target.String())
	}
}

func TestRSINeutralWhenInsufficientHistory(t *testing.T) {
	closes := []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(101)}
	rsi := RSI(closes, 14)
	if !rsi.Equal(decimal.NewFromInt(50)) {
		t.Errorf("want neutral 50, got %s", rsi.String())
	}
}

func TestRSIAllGainsSaturatesAt100(t *testing.T) {
	closes := make([]decimal.Decimal, 0, 16)
	for i := 0; i < 16; i++ {
		closes = append(closes, decimal.NewFromInt(int64(100+i)))
	}
	rsi := RSI(closes, 14)
	if !rsi.Equal(decimal.NewFromInt(100)) {
		t.Errorf("want 100 for monotonically rising closes, got %s", rsi.String())
	}
}
