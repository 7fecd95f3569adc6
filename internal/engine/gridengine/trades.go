package gridengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// ingestTrade processes one venue trade discovered by the collector loop:
// at-most-once via the processed-id set, session-start filtering, buy/sell
// linkage, persistence, alerting, and a forced PnL-backup refresh.
func (e *Engine) ingestTrade(ctx context.Context, symbol string, spreadPct decimal.Decimal, t core.Trade) {
	e.mu.Lock()
	if _, seen := e.processedTrades[t.ID]; seen {
		e.mu.Unlock()
		return
	}
	e.processedTrades[t.ID] = struct{}{}
	sessionStart := e.sessionStartTS
	e.mu.Unlock()

	if t.Timestamp < sessionStart {
		return
	}

	if t.Side == core.SideSell {
		if id, found, err := e.store.FindLinkedBuyID(ctx, symbol, t.Price, spreadPct); err != nil {
			e.logger.Warn("ingestTrade: find linked buy failed", "trade", t.ID, "error", err)
		} else if found {
			t.BuyID = &id
		}
	}

	if err := e.store.SaveTrade(ctx, t); err != nil {
		e.logger.Warn("ingestTrade: save failed", "symbol", symbol, "trade", t.ID, "error", err)
		return
	}

	if t.Side == core.SideBuy {
		if id, err := e.store.AssignBuyIDIfMissing(ctx, t.ID); err != nil {
			e.logger.Warn("ingestTrade: assign buy id failed", "trade", t.ID, "error", err)
		} else {
			t.BuyID = &id
		}
	}

	pr := e.pairRuntime(symbol)
	e.mu.Lock()
	switch t.Side {
	case core.SideBuy:
		pr.cashFlow = pr.cashFlow.Sub(t.Cost).Sub(t.Fee)
		pr.qtyDelta = pr.qtyDelta.Add(t.Amount)
		pr.lastBuyPrice = t.Price
		pr.lastBuyPriceSet = true
	case core.SideSell:
		pr.cashFlow = pr.cashFlow.Add(t.Cost.Sub(t.Fee))
		pr.qtyDelta = pr.qtyDelta.Sub(t.Amount)
	}
	e.mu.Unlock()

	e.notifyTrade(symbol, spreadPct, t)
	e.refreshPnLBackup(ctx, symbol)
}

func (e *Engine) notifyTrade(symbol string, spreadPct decimal.Decimal, t core.Trade) {
	feeQuote := t.Fee
	if !strings.HasSuffix(symbol, t.FeeAsset) && t.FeeAsset != "" {
		feeQuote = t.Fee.Mul(t.Price)
	}

	switch t.Side {
	case core.SideBuy:
		id := 0
		if t.BuyID != nil {
			id = *t.BuyID
		}
		e.notifier.Notify(core.AlertInfo, fmt.Sprintf("%s buy filled", symbol),
			fmt.Sprintf("bought %s %s @ %s (#%d)", t.Amount.String(), symbol, t.Price.String(), id))
	case core.SideSell:
		profit := sellProfitEstimate(t.Price, t.Amount, spreadPct, feeQuote)
		linkText := "unlinked"
		if t.BuyID != nil {
			linkText = fmt.Sprintf("#%d", *t.BuyID)
		}
		e.notifier.Notify(core.AlertInfo, fmt.Sprintf("%s sell filled", symbol),
			fmt.Sprintf("sold %s %s @ %s, linked %s, est. profit %s", t.Amount.String(), symbol, t.Price.String(), linkText, profit.String()))
	}
}
