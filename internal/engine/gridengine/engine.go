package gridengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/pkg/concurrency"
)

// pairRuntime is the engine's mutable per-symbol working state: the
// materialized ladder, reserved inventory, and the last observed price.
// lastBuyPrice/lastBuyPriceSet are a same-process fallback for the
// anti-wash rule, consulted only if the durable store.GetLastBuyPrice
// query fails; the durable query is the source of truth since it must
// survive a restart.
type pairRuntime struct {
	grid            core.DesiredGrid
	reservedBase    decimal.Decimal
	lastPrice       decimal.Decimal
	lastBuyPrice    decimal.Decimal
	lastBuyPriceSet bool

	// cashFlow/qtyDelta are running session totals updated incrementally as
	// trades are ingested, mirroring what sessionPnL recomputes from the
	// store so Status() can report PnL without a store round trip.
	cashFlow decimal.Decimal
	qtyDelta decimal.Decimal

	// archivedPnL is refreshed by the collector's 30s PnL cadence so Status()
	// (which takes no context and cannot query the store) can still report a
	// global PnL figure.
	archivedPnL decimal.Decimal
}

// Engine is one grid-trading engine instance bound to a single active
// exchange. It owns the reconciliation and collector loops and implements
// core.EngineCommander / core.EngineStatusProvider for the external surface.
type Engine struct {
	exchange core.Exchange
	store    core.Store
	notifier core.Notifier
	logger   core.Logger

	mu             sync.Mutex
	cfg            *config.Config
	symbols        []SymbolConfig
	state          core.EngineState
	sessionStartTS int64

	pairs           map[string]*pairRuntime
	processedTrades map[string]struct{}

	lastReportDate string

	// collectorPool bounds the collector's per-symbol fan-out. Unlike
	// reconciliation, collection has no cross-symbol ordering invariant, so
	// it runs concurrently instead of one symbol at a time.
	collectorPool *concurrency.WorkerPool
}

// New constructs a disconnected-from-loops engine. ReconcileRunner and
// CollectorRunner must be started (by the caller's supervisor) to drive the
// reconciliation and collector loops; Launch transitions it into Running.
func New(exchange core.Exchange, store core.Store, notifier core.Notifier, logger core.Logger, cfg *config.Config) *Engine {
	return &Engine{
		exchange:        exchange,
		store:           store,
		notifier:        notifier,
		logger:          logger,
		cfg:             cfg,
		symbols:         resolveSymbols(cfg),
		state:           core.EngineStopped,
		pairs:           make(map[string]*pairRuntime),
		processedTrades: make(map[string]struct{}),
		collectorPool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "collector",
			MaxWorkers: 4,
		}, logger),
	}
}

// ApplyConfig implements the smart-reload policy (§4.3): a flipped testnet
// flag forces a full session reset; otherwise only the symbol set is diffed.
func (e *Engine) ApplyConfig(ctx context.Context, next *config.Config) {
	e.mu.Lock()
	old := e.cfg
	e.mu.Unlock()

	if old.System.UseTestnet != next.System.UseTestnet {
		e.handleTestnetFlip(ctx, next)
		return
	}
	e.handleSymbolDiff(ctx, next)
}

func (e *Engine) handleTestnetFlip(ctx context.Context, next *config.Config) {
	e.mu.Lock()
	symbols := e.symbols
	e.mu.Unlock()

	for _, sc := range symbols {
		if err := e.exchange.CancelAll(ctx, sc.Symbol); err != nil {
			e.logger.Warn("testnet flip: cancel-all failed", "symbol", sc.Symbol, "error", err)
		}
	}

	e.mu.Lock()
	e.cfg = next
	e.symbols = resolveSymbols(next)
	e.pairs = make(map[string]*pairRuntime)
	e.processedTrades = make(map[string]struct{})
	e.sessionStartTS = nowMillis()
	e.mu.Unlock()

	e.primeSessionBalances(ctx)
}

func (e *Engine) handleSymbolDiff(ctx context.Context, next *config.Config) {
	nextSymbols := resolveSymbols(next)
	nextSet := make(map[string]bool, len(nextSymbols))
	for _, sc := range nextSymbols {
		nextSet[sc.Symbol] = true
	}

	e.mu.Lock()
	removed := make([]string, 0)
	for sym := range e.pairs {
		if !nextSet[sym] {
			removed = append(removed, sym)
		}
	}
	e.cfg = next
	e.symbols = nextSymbols
	e.mu.Unlock()

	for _, sym := range removed {
		if err := e.exchange.CancelAll(ctx, sym); err != nil {
			e.logger.Warn("symbol removed: cancel-all failed", "symbol", sym, "error", err)
		}
		e.mu.Lock()
		delete(e.pairs, sym)
		e.mu.Unlock()
	}
}

// ActiveVenueKey reports the balance_history key for the engine's active
// venue and whether the engine is currently running it, so the background
// scheduler (§4.5) can skip the 60s path for a venue the engine itself owns.
func (e *Engine) ActiveVenueKey() (key string, owned bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, _, ok := e.cfg.ActiveExchange()
	if !ok || e.state == core.EngineStopped {
		return "", false
	}
	return venueKey(name, e.cfg.System.UseTestnet), true
}

// State returns the current engine state.
func (e *Engine) State() core.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Launch implements core.EngineCommander.
func (e *Engine) Launch(ctx context.Context) error {
	e.mu.Lock()
	if e.state != core.EngineStopped {
		e.mu.Unlock()
		return fmt.Errorf("gridengine: launch requires stopped state, got %s", e.state)
	}
	e.mu.Unlock()

	if moved, err := e.store.ArchiveSessionStats(ctx); err != nil {
		e.logger.Warn("launch: archive session stats failed", "error", err)
	} else if moved {
		e.logger.Info("launch: archived previous session's PnL backup")
	}

	e.mu.Lock()
	e.symbols = resolveSymbols(e.cfg)
	e.pairs = make(map[string]*pairRuntime)
	e.processedTrades = make(map[string]struct{})
	e.sessionStartTS = nowMillis()
	symbols := e.symbols
	e.mu.Unlock()

	e.primeSessionBalances(ctx)

	for _, sc := range symbols {
		if err := e.exchange.CancelAll(ctx, sc.Symbol); err != nil {
			e.logger.Warn("launch: residual cancel-all failed", "symbol", sc.Symbol, "error", err)
		}
	}

	e.mu.Lock()
	e.state = core.EngineRunning
	e.mu.Unlock()

	e.logger.Info("engine launched", "symbols", len(symbols))
	return nil
}

// primeSessionBalances computes initial equity, persists the session-start
// snapshot, ensures a global-start balance exists, and captures per-coin
// initial equity so later reports can compute deltas.
func (e *Engine) primeSessionBalances(ctx context.Context) {
	name, _, ok := e.cfg.ActiveExchange()
	if !ok {
		return
	}
	key := venueKey(name, e.cfg.System.UseTestnet)

	equity, err := e.computeTotalEquity(ctx)
	if err != nil {
		e.logger.Warn("primeSessionBalances: equity computation failed", "error", err)
		return
	}

	if _, err := e.store.LogBalanceSnapshot(ctx, key, equity, time.Now()); err != nil {
		e.logger.Warn("primeSessionBalances: session-start snapshot failed", "error", err)
	}

	if _, found, err := e.store.GetCounter(ctx, "global_start_balance"); err == nil && !found {
		_ = e.store.SetCounter(ctx, "global_start_balance", equity.String())
	}

	e.mu.Lock()
	symbols := e.symbols
	e.mu.Unlock()

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return
	}
	byAsset := make(map[string]decimal.Decimal, len(balances))
	for _, b := range balances {
		byAsset[b.Asset] = b.Total
	}
	for _, sc := range symbols {
		asset := baseAsset(sc.Symbol)
		qty := byAsset[asset]
		key := fmt.Sprintf("initial_equity_%s", sc.Symbol)
		if _, found, _ := e.store.GetCounter(ctx, key); !found {
			_ = e.store.SetCounter(ctx, key, qty.String())
		}
	}
}

// Pause implements core.EngineCommander: only the reconciliation loop
// suspends, the collector loop keeps sampling.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == core.EngineRunning {
		e.state = core.EnginePaused
	}
}

// Resume implements core.EngineCommander.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == core.EnginePaused {
		e.state = core.EngineRunning
	}
}

// Stop implements core.EngineCommander: flushes a final PnL backup per
// symbol before returning to Stopped.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == core.EngineStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = core.EngineStopping
	symbols := e.symbols
	e.mu.Unlock()

	for _, sc := range symbols {
		e.refreshPnLBackup(ctx, sc.Symbol)
	}

	e.mu.Lock()
	e.state = core.EngineStopped
	e.mu.Unlock()
	return nil
}

// CancelAll implements core.EngineCommander.
func (e *Engine) CancelAll(ctx context.Context) error {
	e.mu.Lock()
	symbols := e.symbols
	e.mu.Unlock()

	var firstErr error
	for _, sc := range symbols {
		if err := e.exchange.CancelAll(ctx, sc.Symbol); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LiquidateSymbol market-sells the entire free base-asset balance for symbol.
func (e *Engine) LiquidateSymbol(ctx context.Context, symbol string) error {
	if err := e.exchange.CancelAll(ctx, symbol); err != nil {
		e.logger.Warn("liquidate: cancel-all failed", "symbol", symbol, "error", err)
	}

	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("liquidate %s: fetch balance: %w", symbol, err)
	}
	asset := baseAsset(symbol)
	var free decimal.Decimal
	for _, b := range balances {
		if b.Asset == asset {
			free = b.Free
			break
		}
	}
	if free.IsZero() {
		return nil
	}

	amount := e.exchange.AmountToPrecision(symbol, free)
	if amount.IsZero() {
		return nil
	}
	_, err = e.exchange.PlaceMarket(ctx, symbol, core.SideSell, amount)
	return err
}

// CloseOrder implements core.EngineCommander: a resting buy is simply
// cancelled; a resting sell is cancelled then the held amount is
// market-sold immediately.
func (e *Engine) CloseOrder(ctx context.Context, symbol, orderID string) error {
	orders, err := e.exchange.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("close order: fetch open orders: %w", err)
	}

	var target *core.Order
	for i := range orders {
		if orders[i].ID == orderID {
			target = &orders[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("close order: %s not found on %s", orderID, symbol)
	}

	if err := e.exchange.Cancel(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("close order: cancel: %w", err)
	}
	if target.Side == core.SideBuy {
		return nil
	}

	_, err = e.exchange.PlaceMarket(ctx, symbol, core.SideSell, target.Quantity)
	return err
}

// SnapshotEquityNow samples total equity and writes it under the active
// venue key, bypassing the collector's cadence gate.
func (e *Engine) SnapshotEquityNow(ctx context.Context) error {
	name, _, ok := e.cfg.ActiveExchange()
	if !ok {
		return fmt.Errorf("snapshot equity: no active exchange configured")
	}
	equity, err := e.computeTotalEquity(ctx)
	if err != nil {
		return err
	}
	_, err = e.store.LogBalanceSnapshot(ctx, venueKey(name, e.cfg.System.UseTestnet), equity, time.Now())
	return err
}

// Status implements core.EngineStatusProvider.
func (e *Engine) Status() core.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make([]string, 0, len(e.symbols))
	sessionPnL := make(map[string]decimal.Decimal, len(e.symbols))
	globalPnL := make(map[string]decimal.Decimal, len(e.symbols))
	for _, sc := range e.symbols {
		symbols = append(symbols, sc.Symbol)
		live := e.sessionPnLLocked(sc.Symbol)
		sessionPnL[sc.Symbol] = live
		if pr, ok := e.pairs[sc.Symbol]; ok {
			globalPnL[sc.Symbol] = pr.archivedPnL.Add(live)
		}
	}

	name, _, _ := e.cfg.ActiveExchange()

	return core.Status{
		State:          e.state,
		SessionStartTS: e.sessionStartTS,
		ActiveVenue:    name,
		Symbols:        symbols,
		SessionPnL:     sessionPnL,
		GlobalPnL:      globalPnL,
		TradeCount:     len(e.processedTrades),
	}
}

// PairDetails implements core.EngineStatusProvider.
func (e *Engine) PairDetails(ctx context.Context, symbol string) (core.PairData, error) {
	return e.store.GetPairData(ctx, symbol)
}

func (e *Engine) pairRuntime(symbol string) *pairRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	pr, ok := e.pairs[symbol]
	if !ok {
		pr = &pairRuntime{}
		e.pairs[symbol] = pr
	}
	return pr
}

// computeTotalEquity prices every held asset in quote terms via the venue's
// ticker for <asset>USDT, using a 1:1 rate for USDT, USDC and BUSD; an
// asset whose ticker cannot be fetched is left out of the total.
func (e *Engine) computeTotalEquity(ctx context.Context) (decimal.Decimal, error) {
	balances, err := e.exchange.FetchBalance(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range balances {
		if b.Total.IsZero() {
			continue
		}
		if b.Asset == "USDT" || b.Asset == "USDC" || b.Asset == "BUSD" {
			total = total.Add(b.Total)
			continue
		}
		price, err := e.exchange.FetchTicker(ctx, b.Asset+"USDT")
		if err != nil {
			e.logger.Warn("computeTotalEquity: ticker unavailable, skipping asset", "asset", b.Asset)
			continue
		}
		total = total.Add(b.Total.Mul(price))
	}
	return total, nil
}

func baseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

var (
	_ core.EngineCommander      = (*Engine)(nil)
	_ core.EngineStatusProvider = (*Engine)(nil)
)
