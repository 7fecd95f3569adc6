package gridengine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/pkg/tradingutils"
)

const dustThresholdQuote = 5 // §4.3 step 2: inventory guard floor, in quote units

var (
	pctHundred  = decimal.NewFromInt(100)
	trailingPct = decimal.NewFromFloat(0.2) // trailing trigger: max_level * (1 + 0.2*s)
	bandPct     = decimal.NewFromFloat(0.1) // placement margin band: P * s * 0.1
)

// ReconcileRunner drives the reconciliation loop as a bootstrap.Runner.
type ReconcileRunner struct{ Engine *Engine }

func (r ReconcileRunner) Run(ctx context.Context) error { return r.Engine.reconcileLoop(ctx) }

func (e *Engine) reconcileLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.mu.Lock()
		delay := time.Duration(e.cfg.System.CycleDelay) * time.Second
		symbols := e.symbols
		running := e.state == core.EngineRunning
		e.mu.Unlock()

		if running {
			for _, sc := range symbols {
				if e.State() != core.EngineRunning {
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							e.logger.Error("reconcile: recovered from panic", "symbol", sc.Symbol, "panic", r)
						}
					}()
					e.reconcileSymbol(ctx, sc)
				}()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (e *Engine) reconcileSymbol(ctx context.Context, sc SymbolConfig) {
	symbol := sc.Symbol
	strat := sc.Strategy
	spreadPct := decimal.NewFromFloat(strat.GridSpread)
	sFrac := spreadPct.Div(pctHundred)

	market, err := e.exchange.Market(ctx, symbol)
	if err != nil {
		e.logger.Warn("reconcile: market lookup failed", "symbol", symbol, "error", err)
		return
	}

	price, err := e.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		e.logger.Warn("reconcile: ticker fetch failed", "symbol", symbol, "error", err)
		return
	}

	pr := e.pairRuntime(symbol)
	e.mu.Lock()
	pr.lastPrice = price
	setupDone := pr.grid.SetupDone
	e.mu.Unlock()

	// Step 1: first-time setup.
	if !setupDone {
		e.firstTimeSetup(ctx, symbol, strat, price)
		e.mu.Lock()
		pr.grid.SetupDone = true
		e.mu.Unlock()
		return
	}

	// Step 2: inventory guard.
	if e.inventoryBelowDust(ctx, symbol, price) {
		e.guardBuy(ctx, symbol, strat)
		return
	}

	openOrders, err := e.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.Warn("reconcile: open orders fetch failed", "symbol", symbol, "error", err)
		return
	}

	e.mu.Lock()
	levels := pr.grid.Levels
	e.mu.Unlock()

	// Step 3: materialize levels if absent.
	if len(levels) == 0 {
		levels = tradingutils.GenerateLadder(price, spreadPct, strat.GridsQuantity, market.PricePrecision)
		e.mu.Lock()
		pr.grid.Levels = levels
		e.mu.Unlock()
	}

	// Step 4: trailing up.
	if strat.TrailingEnabled && len(levels) > 0 {
		maxLevel := levels[len(levels)-1]
		threshold := maxLevel.Mul(decimal.NewFromInt(1).Add(trailingPct.Mul(sFrac)))
		if price.GreaterThan(threshold) {
			dropped := levels[0]
			newTop := tradingutils.RoundPrice(maxLevel.Mul(decimal.NewFromInt(1).Add(sFrac)), market.PricePrecision)
			next := append(append([]decimal.Decimal{}, levels[1:]...), newTop)
			next = sortedDecimals(next)

			for _, o := range openOrders {
				if tradingutils.PricesEqual(o.Price, dropped) {
					if err := e.exchange.Cancel(ctx, symbol, o.ID); err != nil {
						e.logger.Warn("trailing: cancel dropped level failed", "symbol", symbol, "error", err)
					}
				}
			}

			e.mu.Lock()
			pr.grid.Levels = next
			e.mu.Unlock()
			return
		}
	}

	// Step 5: per-level placement.
	margin := price.Mul(sFrac).Mul(bandPct)
	for _, level := range levels {
		e.placeLevel(ctx, symbol, strat, spreadPct, price, level, margin, market, openOrders, pr)
	}

	// Step 6: orphan cleanup.
	e.mu.Lock()
	current := pr.grid.Levels
	e.mu.Unlock()
	for _, o := range openOrders {
		matched := false
		for _, level := range current {
			if tradingutils.PricesEqual(o.Price, level) {
				matched = true
				break
			}
		}
		if !matched {
			if err := e.exchange.Cancel(ctx, symbol, o.ID); err != nil {
				e.logger.Warn("orphan cleanup: cancel failed", "symbol", symbol, "order", o.ID, "error", err)
			}
		}
	}
}

func (e *Engine) firstTimeSetup(ctx context.Context, symbol string, strat config.StrategyConfig, price decimal.Decimal) {
	quote := decimal.NewFromFloat(strat.AmountPerGrid)
	switch strat.StartMode {
	case "buy_1":
		e.marketBuyQuote(ctx, symbol, quote, price)
	case "buy_2":
		e.marketBuyQuote(ctx, symbol, quote.Mul(decimal.NewFromInt(2)), price)
	case "wait":
		// place no initial order
	}
}

func (e *Engine) marketBuyQuote(ctx context.Context, symbol string, quoteAmount, price decimal.Decimal) {
	if price.IsZero() {
		return
	}
	amount := e.exchange.AmountToPrecision(symbol, quoteAmount.Div(price))
	if amount.IsZero() {
		return
	}
	if _, err := e.exchange.PlaceMarket(ctx, symbol, core.SideBuy, amount); err != nil {
		e.logger.Warn("first-time setup: market buy failed", "symbol", symbol, "error", err)
	}
}

func (e *Engine) inventoryBelowDust(ctx context.Context, symbol string, price decimal.Decimal) bool {
	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return false
	}
	asset := baseAsset(symbol)
	for _, b := range balances {
		if b.Asset == asset {
			return b.Total.Mul(price).LessThan(decimal.NewFromInt(dustThresholdQuote))
		}
	}
	return true
}

func (e *Engine) guardBuy(ctx context.Context, symbol string, strat config.StrategyConfig) {
	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return
	}
	quoteAmount := decimal.NewFromFloat(strat.AmountPerGrid)
	var freeQuote decimal.Decimal
	for _, b := range balances {
		if b.Asset == quoteAsset(symbol) {
			freeQuote = b.Free
			break
		}
	}
	if freeQuote.LessThan(quoteAmount) {
		return
	}
	price, err := e.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		return
	}
	e.marketBuyQuote(ctx, symbol, quoteAmount, price)
}

// lastBuyPrice returns the most recent buy fill's price for symbol, read
// fresh from the trade ledger on every call (spec: anti-wash must survive
// a restart, not rely on a same-process cache). The in-memory value
// ingestTrade maintains on pr is used only as a fallback if the store read
// itself fails, so a transient DB error doesn't silently disable the guard.
func (e *Engine) lastBuyPrice(ctx context.Context, symbol string, pr *pairRuntime) (decimal.Decimal, bool) {
	if price, found, err := e.store.GetLastBuyPrice(ctx, symbol); err == nil {
		return price, found
	} else {
		e.logger.Warn("lastBuyPrice: store query failed, falling back to in-memory cache", "symbol", symbol, "error", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return pr.lastBuyPrice, pr.lastBuyPriceSet
}

// placeLevel implements §4.3 step 5 for a single ladder level.
func (e *Engine) placeLevel(ctx context.Context, symbol string, strat config.StrategyConfig, spreadPct, price, level, margin decimal.Decimal, market core.Market, openOrders []core.Order, pr *pairRuntime) {
	if level.Sub(price).Abs().LessThanOrEqual(margin) {
		return // margin band: skip this cycle
	}

	side := core.SideBuy
	if level.GreaterThan(price.Add(margin)) {
		side = core.SideSell
	}

	if side == core.SideSell {
		lastBuyPrice, haveBuy := e.lastBuyPrice(ctx, symbol, pr)
		if haveBuy {
			floor := tradingutils.AntiWashFloor(lastBuyPrice, spreadPct)
			if level.LessThan(floor) {
				return
			}
		}
	}

	var existing *core.Order
	for i := range openOrders {
		if tradingutils.PricesEqual(openOrders[i].Price, level) {
			existing = &openOrders[i]
			break
		}
	}
	if existing != nil {
		if existing.Side == side {
			return // already resting on the desired side
		}
		if err := e.exchange.Cancel(ctx, symbol, existing.ID); err != nil {
			e.logger.Warn("placeLevel: cancel stale side failed", "symbol", symbol, "order", existing.ID, "error", err)
			return
		}
	}

	amount := tradingutils.RoundQuantityDown(decimal.NewFromFloat(strat.AmountPerGrid).Div(level), market.AmountPrecision)
	if amount.LessThan(market.MinAmount) {
		return
	}

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return
	}

	if side == core.SideBuy {
		var freeQuote decimal.Decimal
		for _, b := range balances {
			if b.Asset == quoteAsset(symbol) {
				freeQuote = b.Free
				break
			}
		}
		if freeQuote.LessThan(amount.Mul(level)) {
			return
		}
	} else {
		var freeBase decimal.Decimal
		for _, b := range balances {
			if b.Asset == baseAsset(symbol) {
				freeBase = b.Free
				break
			}
		}
		e.mu.Lock()
		reserved := pr.reservedBase
		e.mu.Unlock()
		available := freeBase.Sub(reserved)
		required := amount.Mul(decimal.NewFromFloat(0.99))
		if available.LessThan(required) {
			if available.GreaterThanOrEqual(amount.Mul(decimal.NewFromFloat(0.9))) {
				amount = tradingutils.RoundQuantityDown(available, market.AmountPrecision)
			} else {
				return
			}
		}
	}

	if _, err := e.exchange.PlaceLimit(ctx, symbol, side, amount, level); err != nil {
		e.logger.Warn("placeLevel: place limit failed", "symbol", symbol, "side", side, "price", level.String(), "error", err)
	}
}

func quoteAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return quote
		}
	}
	return ""
}

func sortedDecimals(levels []decimal.Decimal) []decimal.Decimal {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].LessThan(levels[j-1]); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
	return levels
}
