package gridengine

import (
	"context"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// sessionCashFlowAndDelta folds session trades into (cash_flow, qty_delta):
// a sell adds its cost minus fee to cash flow and subtracts its amount from
// the running base quantity; a buy subtracts its cost plus fee from cash
// flow and adds its amount.
func sessionCashFlowAndDelta(trades []core.Trade) (cashFlow, qtyDelta decimal.Decimal) {
	for _, t := range trades {
		net := t.Cost.Sub(t.Fee)
		switch t.Side {
		case core.SideSell:
			cashFlow = cashFlow.Add(net)
			qtyDelta = qtyDelta.Sub(t.Amount)
		case core.SideBuy:
			cashFlow = cashFlow.Sub(t.Cost).Sub(t.Fee)
			qtyDelta = qtyDelta.Add(t.Amount)
		}
	}
	return cashFlow, qtyDelta
}

// sessionPnL computes the live per-symbol PnL (§4.4): session cash flow plus
// the net base-quantity delta valued at the current price.
func (e *Engine) sessionPnL(ctx context.Context, symbol string) decimal.Decimal {
	e.mu.Lock()
	sessionStart := e.sessionStartTS
	pr := e.pairs[symbol]
	e.mu.Unlock()

	if pr == nil {
		return decimal.Zero
	}

	trades, err := e.store.FetchMyTradesSince(ctx, symbol, sessionStart)
	if err != nil {
		e.logger.Warn("sessionPnL: fetch trades failed", "symbol", symbol, "error", err)
		return decimal.Zero
	}

	cashFlow, qtyDelta := sessionCashFlowAndDelta(trades)
	return cashFlow.Add(qtyDelta.Mul(pr.lastPrice))
}

// sessionPnLLocked is sessionPnL's no-store-roundtrip variant used by
// Status(), which already holds e.mu: instead of querying the store under
// lock it values the running cashFlow/qtyDelta totals at the last price,
// and reports 0 for a symbol with no runtime state yet.
func (e *Engine) sessionPnLLocked(symbol string) decimal.Decimal {
	pr := e.pairs[symbol]
	if pr == nil {
		return decimal.Zero
	}
	return pr.cashFlow.Add(pr.qtyDelta.Mul(pr.lastPrice))
}

// globalPnL computes archived-history sum plus the live session PnL.
func (e *Engine) globalPnL(ctx context.Context, symbol string) decimal.Decimal {
	archived, err := e.store.GetAccumulatedPnL(ctx, symbol)
	if err != nil {
		e.logger.Warn("globalPnL: fetch accumulated pnl failed", "symbol", symbol, "error", err)
		archived = decimal.Zero
	}
	return archived.Add(e.sessionPnL(ctx, symbol))
}

// refreshPnLBackup recomputes and persists the live session PnL for symbol;
// called on the 30s collector cadence and once more on Stop. It also
// refreshes the cached archived-PnL figure Status() reports.
func (e *Engine) refreshPnLBackup(ctx context.Context, symbol string) {
	value := e.sessionPnL(ctx, symbol)
	if err := e.store.UpdatePnLBackup(ctx, symbol, value); err != nil {
		e.logger.Warn("refreshPnLBackup: update failed", "symbol", symbol, "error", err)
	}

	archived, err := e.store.GetAccumulatedPnL(ctx, symbol)
	if err != nil {
		return
	}
	pr := e.pairRuntime(symbol)
	e.mu.Lock()
	pr.archivedPnL = archived
	e.mu.Unlock()
}

// bestCoin returns the symbol with the maximum cash flow over the session
// window, ties broken by first-seen order in symbols.
func (e *Engine) bestCoin(ctx context.Context, symbols []string) (string, decimal.Decimal) {
	e.mu.Lock()
	sessionStart := e.sessionStartTS
	e.mu.Unlock()

	var best string
	var bestFlow decimal.Decimal
	first := true

	for _, symbol := range symbols {
		trades, err := e.store.FetchMyTradesSince(ctx, symbol, sessionStart)
		if err != nil {
			continue
		}
		cashFlow, _ := sessionCashFlowAndDelta(trades)
		if first || cashFlow.GreaterThan(bestFlow) {
			best = symbol
			bestFlow = cashFlow
			first = false
		}
	}
	return best, bestFlow
}

// sellProfitEstimate is the informational-only figure shown in sell alerts;
// it is never used for accounting. Floored at 0.
func sellProfitEstimate(sellPrice, amount, spreadPct, feeInQuote decimal.Decimal) decimal.Decimal {
	entry := sellPrice.Div(decimal.NewFromInt(1).Add(spreadPct.Div(decimal.NewFromInt(100))))
	profit := sellPrice.Sub(entry).Mul(amount).Sub(feeInQuote.Mul(decimal.NewFromInt(2)))
	if profit.IsNegative() {
		return decimal.Zero
	}
	return profit
}
