package gridengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

const (
	candleLimit       = 500
	tradeFetchLimit   = 10
	pnlCadence        = 30 * time.Second
	activeSnapCadence = 60 * time.Second
	pruneCadence      = 24 * time.Hour
	dailyReportHour   = 8
)

// CollectorRunner drives the collector loop as a bootstrap.Runner. Unlike
// reconciliation, the collector keeps running while the engine is paused so
// PnL and balance snapshots keep accruing.
type CollectorRunner struct{ Engine *Engine }

func (r CollectorRunner) Run(ctx context.Context) error { return r.Engine.collectorLoop(ctx) }

// collectorLoop owns only the active venue's 60s equity snapshot; every
// other (passive) venue is sampled by the standalone internal/scheduler
// package at a 180s cadence, so the two never race the same balance_history
// row.
func (e *Engine) collectorLoop(ctx context.Context) error {
	var lastPnL, lastActiveSnap, lastPrune time.Time

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.mu.Lock()
		symbols := e.symbols
		delay := time.Duration(e.cfg.System.CycleDelay) * time.Second
		state := e.state
		e.mu.Unlock()

		if state != core.EngineStopped {
			e.collectAllSymbols(ctx, symbols)
		}

		now := time.Now()
		if now.Sub(lastPnL) >= pnlCadence {
			for _, sc := range symbols {
				e.refreshPnLBackup(ctx, sc.Symbol)
			}
			lastPnL = now
		}
		if now.Sub(lastActiveSnap) >= activeSnapCadence {
			e.snapshotActiveVenue(ctx)
			lastActiveSnap = now
		}
		if now.Sub(lastPrune) >= pruneCadence {
			days := e.cfg.System.DataRetainDays
			if days <= 0 {
				days = 30
			}
			if err := e.store.PruneOldData(ctx, days); err != nil {
				e.logger.Warn("collector: prune failed", "error", err)
			}
			lastPrune = now
		}
		e.maybeEmitDailyReport(ctx, now)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// collectAllSymbols fans the per-symbol collection work out across the
// bounded worker pool. Collection carries none of reconciliation's ordering
// invariant, so symbols are sampled concurrently rather than one at a time.
func (e *Engine) collectAllSymbols(ctx context.Context, symbols []SymbolConfig) {
	var wg sync.WaitGroup
	for _, sc := range symbols {
		sc := sc
		wg.Add(1)
		if err := e.collectorPool.Submit(func() {
			defer wg.Done()
			e.collectSymbol(ctx, sc)
		}); err != nil {
			e.logger.Warn("collector: submit failed", "symbol", sc.Symbol, "error", err)
			wg.Done()
		}
	}
	wg.Wait()
}

func (e *Engine) collectSymbol(ctx context.Context, sc SymbolConfig) {
	symbol := sc.Symbol
	spreadPct := decimal.NewFromFloat(sc.Strategy.GridSpread)

	price, err := e.exchange.FetchTicker(ctx, symbol)
	if err != nil {
		e.logger.Warn("collector: ticker fetch failed", "symbol", symbol, "error", err)
	} else {
		candles, err := e.exchange.FetchCandles(ctx, symbol, "1m", candleLimit)
		if err != nil {
			e.logger.Warn("collector: candle fetch failed", "symbol", symbol, "error", err)
		} else if err := e.store.UpdateMarketSnapshot(ctx, symbol, candles, price); err != nil {
			e.logger.Warn("collector: market snapshot persist failed", "symbol", symbol, "error", err)
		}
	}

	openOrders, err := e.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		e.logger.Warn("collector: open orders fetch failed", "symbol", symbol, "error", err)
	} else {
		e.mu.Lock()
		levels := []decimal.Decimal{}
		if pr, ok := e.pairs[symbol]; ok {
			levels = pr.grid.Levels
		}
		e.mu.Unlock()
		if err := e.store.UpdateGridStatus(ctx, symbol, openOrders, levels); err != nil {
			e.logger.Warn("collector: grid status persist failed", "symbol", symbol, "error", err)
		}
	}

	trades, err := e.exchange.FetchMyTrades(ctx, symbol, tradeFetchLimit)
	if err != nil {
		e.logger.Warn("collector: trade fetch failed", "symbol", symbol, "error", err)
		return
	}
	for _, t := range trades {
		e.ingestTrade(ctx, symbol, spreadPct, t)
	}
}

func (e *Engine) snapshotActiveVenue(ctx context.Context) {
	name, _, ok := e.cfg.ActiveExchange()
	if !ok {
		return
	}
	equity, err := e.computeTotalEquity(ctx)
	if err != nil {
		e.logger.Warn("collector: active-venue equity failed", "error", err)
		return
	}
	key := venueKey(name, e.cfg.System.UseTestnet)
	if _, err := e.store.LogBalanceSnapshot(ctx, key, equity, time.Now()); err != nil {
		e.logger.Warn("collector: active-venue snapshot failed", "error", err)
	}
}

func (e *Engine) maybeEmitDailyReport(ctx context.Context, now time.Time) {
	if now.Hour() != dailyReportHour {
		return
	}
	today := now.Format("2006-01-02")

	e.mu.Lock()
	if e.lastReportDate == today {
		e.mu.Unlock()
		return
	}
	e.lastReportDate = today
	symbols := e.symbols
	e.mu.Unlock()

	names := make([]string, 0, len(symbols))
	for _, sc := range symbols {
		names = append(names, sc.Symbol)
	}
	best, flow := e.bestCoin(ctx, names)
	e.notifier.Notify(core.AlertInfo, "Daily report",
		fmt.Sprintf("best performer %s, cash flow %s over the last session window", best, flow.String()))
}
