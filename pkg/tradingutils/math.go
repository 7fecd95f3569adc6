// Package tradingutils holds pure decimal-precision helpers used by the
// grid engine: rounding, ladder generation, RSI.
package tradingutils

import (
	"sort"

	"github.com/shopspring/decimal"
)

const relTolerance = 1e-5

// RoundPrice rounds a price to a venue's price precision.
func RoundPrice(price decimal.Decimal, pricePrecision int32) decimal.Decimal {
	return price.Round(pricePrecision)
}

// RoundQuantityDown rounds a quantity down to a venue's amount precision;
// order sizing must never round up past what funds actually cover.
func RoundQuantityDown(qty decimal.Decimal, amountPrecision int32) decimal.Decimal {
	return qty.Truncate(amountPrecision)
}

// PricesEqual reports whether two prices match within the relative
// tolerance used throughout reconciliation (1e-5) to compare a ladder
// level against a resting order's price.
func PricesEqual(a, b decimal.Decimal) bool {
	if a.IsZero() && b.IsZero() {
		return true
	}
	diff := a.Sub(b).Abs()
	denom := a.Abs()
	if denom.IsZero() {
		denom = b.Abs()
	}
	return diff.Div(denom).LessThanOrEqual(decimal.NewFromFloat(relTolerance))
}

// GenerateLadder builds the symmetric grid around price for spreadPct
// (percent per step) and gridsQuantity levels (even). For i = 1..N/2 it
// produces both price*(1-s*i) and price*(1+s*i), rounds each to
// pricePrecision, and returns them deduplicated and sorted ascending.
func GenerateLadder(price, spreadPct decimal.Decimal, gridsQuantity int, pricePrecision int32) []decimal.Decimal {
	s := spreadPct.Div(decimal.NewFromInt(100))
	half := gridsQuantity / 2

	levels := make([]decimal.Decimal, 0, gridsQuantity)
	for i := 1; i <= half; i++ {
		step := s.Mul(decimal.NewFromInt(int64(i)))
		below := price.Mul(decimal.NewFromInt(1).Sub(step)).Round(pricePrecision)
		above := price.Mul(decimal.NewFromInt(1).Add(step)).Round(pricePrecision)
		levels = append(levels, below, above)
	}

	return dedupeSorted(levels)
}

func dedupeSorted(levels []decimal.Decimal) []decimal.Decimal {
	sort.Slice(levels, func(i, j int) bool { return levels[i].LessThan(levels[j]) })

	out := make([]decimal.Decimal, 0, len(levels))
	for _, l := range levels {
		if len(out) > 0 && PricesEqual(out[len(out)-1], l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// AntiWashFloor computes the minimum acceptable sell price relative to the
// last buy, set to (1 + 0.5*s) * lastBuyPrice.
func AntiWashFloor(lastBuyPrice, spreadPct decimal.Decimal) decimal.Decimal {
	s := spreadPct.Div(decimal.NewFromInt(100))
	half := s.Div(decimal.NewFromInt(2))
	return lastBuyPrice.Mul(decimal.NewFromInt(1).Add(half))
}

// LinkedBuyTarget computes the theoretical entry price a sell links back
// to: sellPrice / (1 + s/100).
func LinkedBuyTarget(sellPrice, spreadPct decimal.Decimal) decimal.Decimal {
	s := spreadPct.Div(decimal.NewFromInt(100))
	return sellPrice.Div(decimal.NewFromInt(1).Add(s))
}

// RSI computes the Wilder-smoothed relative strength index over the given
// period from a series of closing prices, oldest first. Returns 50 (neutral)
// when there is not enough history. No code outside this package's tests
// calls it: pair details carry no RSI field and no trading decision uses it.
func RSI(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) <= period {
		return decimal.NewFromInt(50)
	}

	var gainSum, lossSum decimal.Decimal
	for i := 1; i <= period; i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Abs())
		}
	}
	avgGain := gainSum.Div(decimal.NewFromInt(int64(period)))
	avgLoss := lossSum.Div(decimal.NewFromInt(int64(period)))

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		gain := decimal.Zero
		loss := decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Abs()
		}
		n := decimal.NewFromInt(int64(period))
		avgGain = avgGain.Mul(n.Sub(decimal.NewFromInt(1))).Add(gain).Div(n)
		avgLoss = avgLoss.Mul(n.Sub(decimal.NewFromInt(1))).Add(loss).Div(n)
	}

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
