package gridengine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/exchange/mock"
)

type fakeLogger struct{}

func (fakeLogger) Debug(msg string, f ...interface{}) {}
func (fakeLogger) Info(msg string, f ...interface{})  {}
func (fakeLogger) Warn(msg string, f ...interface{})  {}
func (fakeLogger) Error(msg string, f ...interface{}) {}
func (fakeLogger) Fatal(msg string, f ...interface{}) {}
func (f fakeLogger) WithField(k string, v interface{}) core.Logger   { return f }
func (f fakeLogger) WithFields(m map[string]interface{}) core.Logger { return f }

type fakeNotifier struct{ sent []string }

func (n *fakeNotifier) Notify(level core.AlertLevel, title, message string) {
	n.sent = append(n.sent, title)
}

type fakeStore struct {
	linkedBuyID    int
	linkedBuyFound bool
	savedTrades    []core.Trade
	assignedBuyID  int

	lastBuyPrice      decimal.Decimal
	lastBuyPriceFound bool
}

func (f *fakeStore) SaveTrade(ctx context.Context, t core.Trade) error {
	f.savedTrades = append(f.savedTrades, t)
	return nil
}
func (f *fakeStore) GetPairData(ctx context.Context, symbol string) (core.PairData, error) {
	return core.PairData{}, nil
}
func (f *fakeStore) FetchMyTradesSince(ctx context.Context, symbol string, fromTS int64) ([]core.Trade, error) {
	return f.savedTrades, nil
}
func (f *fakeStore) UpdateMarketSnapshot(ctx context.Context, symbol string, candles []core.Candle, lastPrice decimal.Decimal) error {
	return nil
}
func (f *fakeStore) UpdateGridStatus(ctx context.Context, symbol string, orders []core.Order, levels []decimal.Decimal) error {
	return nil
}
func (f *fakeStore) LogBalanceSnapshot(ctx context.Context, exchangeKey string, equity decimal.Decimal, at time.Time) (bool, error) {
	return true, nil
}
func (f *fakeStore) GetBalanceHistory(ctx context.Context, fromTS int64, exchangeKey string) ([]core.BalanceSample, error) {
	return nil, nil
}
func (f *fakeStore) GetLastBalanceSnapshot(ctx context.Context, exchangeKey string) (decimal.Decimal, bool, error) {
	return decimal.Decimal{}, false, nil
}
func (f *fakeStore) NextBuyID(ctx context.Context) (int, error) { return 1, nil }
func (f *fakeStore) AssignBuyIDIfMissing(ctx context.Context, tradeID string) (int, error) {
	f.assignedBuyID++
	return f.assignedBuyID, nil
}
func (f *fakeStore) FindLinkedBuyID(ctx context.Context, symbol string, sellPrice, spreadPct decimal.Decimal) (int, bool, error) {
	return f.linkedBuyID, f.linkedBuyFound, nil
}
func (f *fakeStore) GetLastBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return f.lastBuyPrice, f.lastBuyPriceFound, nil
}
func (f *fakeStore) UpdatePnLBackup(ctx context.Context, symbol string, value decimal.Decimal) error {
	return nil
}
func (f *fakeStore) ArchiveSessionStats(ctx context.Context) (bool, error) { return false, nil }
func (f *fakeStore) GetAccumulatedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeStore) ResetGlobalPnLForSymbol(ctx context.Context, symbol string) error { return nil }
func (f *fakeStore) ResetGlobalPnLHistory(ctx context.Context) error                  { return nil }
func (f *fakeStore) UpsertCredential(ctx context.Context, c core.StoredCredential) error {
	return nil
}
func (f *fakeStore) GetExchanges(ctx context.Context) ([]core.ExchangeSummary, error) {
	return nil, nil
}
func (f *fakeStore) GetCredential(ctx context.Context, name string) (core.Credential, error) {
	return core.Credential{}, nil
}
func (f *fakeStore) PruneOldData(ctx context.Context, daysKeep int) error { return nil }
func (f *fakeStore) GetCounter(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) SetCounter(ctx context.Context, key, value string) error { return nil }

var (
	_ core.Store    = (*fakeStore)(nil)
	_ core.Logger   = fakeLogger{}
	_ core.Notifier = (*fakeNotifier)(nil)
)

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		GridsQuantity:   4,
		GridSpread:      1,
		AmountPerGrid:   50,
		TrailingEnabled: true,
		StartMode:       "wait",
	}
}

func testCfg() *config.Config {
	return &config.Config{
		System: config.SystemConfig{CycleDelay: 5, LogLevel: "INFO"},
		Pairs:  []config.PairConfig{{Symbol: "BTCUSDT", Enabled: true}},
		Exchanges: map[string]config.ExchangeConfig{
			"mock": {Type: "mock", Active: true},
		},
		DefaultStrategy: testStrategy(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *mock.Exchange, *fakeStore) {
	t.Helper()
	ex := mock.New("mock", decimal.NewFromInt(100000))
	store := &fakeStore{}
	e := New(ex, store, &fakeNotifier{}, fakeLogger{}, testCfg())
	return e, ex, store
}

func TestPlaceLevelSkipsWithinMarginBand(t *testing.T) {
	e, ex, _ := newTestEngine(t)
	ex.SetPrice(decimal.NewFromFloat(100.05))
	pr := e.pairRuntime("BTCUSDT")

	market, _ := ex.Market(context.Background(), "BTCUSDT")
	strat := testStrategy()
	spreadPct := decimal.NewFromFloat(strat.GridSpread)
	price := decimal.NewFromFloat(100.05)
	margin := price.Mul(spreadPct.Div(pctHundred)).Mul(bandPct) // 0.10005

	// A level 0.05 away from price sits inside the margin band: skipped.
	within := decimal.NewFromFloat(100.10)
	e.placeLevel(context.Background(), "BTCUSDT", strat, spreadPct, price, within, margin, market, nil, pr)

	orders, _ := ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	if len(orders) != 0 {
		t.Fatalf("expected no order placed inside the margin band, got %d", len(orders))
	}
}

func TestPlaceLevelAssignsBuyBelowAndSellAbovePrice(t *testing.T) {
	e, ex, _ := newTestEngine(t)
	price := decimal.NewFromFloat(100.05)
	ex.SetPrice(price)
	ex.SetBalance("BTC", decimal.NewFromInt(10), decimal.NewFromInt(10))
	pr := e.pairRuntime("BTCUSDT")

	market, _ := ex.Market(context.Background(), "BTCUSDT")
	strat := testStrategy()
	spreadPct := decimal.NewFromFloat(strat.GridSpread)
	margin := price.Mul(spreadPct.Div(pctHundred)).Mul(bandPct)

	e.placeLevel(context.Background(), "BTCUSDT", strat, spreadPct, price, decimal.NewFromInt(99), margin, market, nil, pr)
	e.placeLevel(context.Background(), "BTCUSDT", strat, spreadPct, price, decimal.NewFromInt(101), margin, market, nil, pr)

	orders, _ := ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	if len(orders) != 2 {
		t.Fatalf("expected 2 resting orders, got %d", len(orders))
	}
	for _, o := range orders {
		if o.Price.Equal(decimal.NewFromInt(99)) && o.Side != core.SideBuy {
			t.Errorf("level below price should be a buy, got %s", o.Side)
		}
		if o.Price.Equal(decimal.NewFromInt(101)) && o.Side != core.SideSell {
			t.Errorf("level above price should be a sell, got %s", o.Side)
		}
	}
}

func TestPlaceLevelBlocksSellBelowAntiWashFloorFromStore(t *testing.T) {
	e, ex, store := newTestEngine(t)
	price := decimal.NewFromFloat(99)
	ex.SetPrice(price)
	ex.SetBalance("BTC", decimal.NewFromInt(10), decimal.NewFromInt(10))
	pr := e.pairRuntime("BTCUSDT")

	// Durable last-buy-price, as if restored after a restart with no
	// in-memory pr.lastBuyPrice ever set.
	store.lastBuyPrice = decimal.NewFromInt(100)
	store.lastBuyPriceFound = true

	market, _ := ex.Market(context.Background(), "BTCUSDT")
	strat := testStrategy()
	spreadPct := decimal.NewFromFloat(strat.GridSpread)
	margin := price.Mul(spreadPct.Div(pctHundred)).Mul(bandPct)

	// floor = 100 * (1 + 1/200) = 100.5; this level sits below the floor
	// and should be refused even though it is priced above the current
	// ticker and would otherwise be a valid sell placement.
	level := decimal.NewFromFloat(100.3)
	e.placeLevel(context.Background(), "BTCUSDT", strat, spreadPct, price, level, margin, market, nil, pr)

	orders, _ := ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	if len(orders) != 0 {
		t.Fatalf("expected anti-wash floor to block the sell, got %d orders: %v", len(orders), orders)
	}
}

func TestTrailingUpAdjustsLadderAndCancelsDroppedLevel(t *testing.T) {
	e, ex, _ := newTestEngine(t)
	ex.SetPrice(decimal.NewFromFloat(102.21))
	ex.SetBalance("BTC", decimal.NewFromInt(1), decimal.NewFromInt(1)) // clears the dust-inventory guard
	ex.SetMarket(core.Market{
		Symbol:          "BTCUSDT",
		PricePrecision:  0,
		AmountPrecision: 6,
		MinAmount:       decimal.NewFromFloat(0.0001),
		MinNotional:     decimal.NewFromInt(10),
	})
	pr := e.pairRuntime("BTCUSDT")
	pr.grid = core.DesiredGrid{
		Symbol: "BTCUSDT",
		Levels: []decimal.Decimal{
			decimal.NewFromInt(98), decimal.NewFromInt(99),
			decimal.NewFromInt(101), decimal.NewFromInt(102),
		},
		SetupDone: true,
	}

	order, err := ex.PlaceLimit(context.Background(), "BTCUSDT", core.SideBuy, decimal.NewFromFloat(0.5), decimal.NewFromInt(98))
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}

	strat := testStrategy()
	e.reconcileSymbol(context.Background(), SymbolConfig{Symbol: "BTCUSDT", Strategy: strat})

	want := []string{"99", "101", "102", "103"}
	if len(pr.grid.Levels) != len(want) {
		t.Fatalf("expected %d levels after trailing, got %d: %v", len(want), len(pr.grid.Levels), pr.grid.Levels)
	}
	for i, w := range want {
		wd, _ := decimal.NewFromString(w)
		if !pr.grid.Levels[i].Equal(wd) {
			t.Errorf("level %d: want %s, got %s", i, w, pr.grid.Levels[i].String())
		}
	}

	orders, _ := ex.FetchOpenOrders(context.Background(), "BTCUSDT")
	if len(orders) != 0 {
		t.Errorf("expected the order resting at the dropped level %s to be cancelled, still open: %v", order.ID, orders)
	}
}

func TestIngestTradeLinksSellToBuyBeforeSave(t *testing.T) {
	e, _, store := newTestEngine(t)
	store.linkedBuyID = 42
	store.linkedBuyFound = true

	sell := core.Trade{
		ID:        "sell-1",
		Symbol:    "BTCUSDT",
		Side:      core.SideSell,
		Price:     decimal.NewFromFloat(100.60),
		Amount:    decimal.NewFromFloat(0.5),
		Cost:      decimal.NewFromFloat(50.30),
		Fee:       decimal.NewFromFloat(0.05),
		Timestamp: 1,
	}
	e.ingestTrade(context.Background(), "BTCUSDT", decimal.NewFromInt(1), sell)

	if len(store.savedTrades) != 1 {
		t.Fatalf("expected 1 saved trade, got %d", len(store.savedTrades))
	}
	saved := store.savedTrades[0]
	if saved.BuyID == nil || *saved.BuyID != 42 {
		t.Fatalf("expected sell trade to carry buy_id=42 before save, got %v", saved.BuyID)
	}
}

func TestSessionCashFlowAndDelta(t *testing.T) {
	buy := core.Trade{Side: core.SideBuy, Cost: decimal.NewFromInt(100), Fee: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}
	sell := core.Trade{Side: core.SideSell, Cost: decimal.NewFromInt(110), Fee: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)}

	cashFlow, qtyDelta := sessionCashFlowAndDelta([]core.Trade{buy, sell})

	wantCash := decimal.NewFromInt(-101).Add(decimal.NewFromInt(109)) // -100-1 + (110-1)
	if !cashFlow.Equal(wantCash) {
		t.Errorf("want cash flow %s, got %s", wantCash.String(), cashFlow.String())
	}
	if !qtyDelta.IsZero() {
		t.Errorf("want zero net quantity delta after matched buy/sell, got %s", qtyDelta.String())
	}
}
