package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/config"
	"gridbot/internal/core"
)

type fakeStore struct {
	exchanges      []core.ExchangeSummary
	credentials    map[string]core.Credential
	snapshots      []string // venue keys logged, in call order
	lastSnapshot   decimal.Decimal
	lastSnapshotOK bool
	lastBuyPrice   decimal.Decimal
	lastBuyPriceOK bool
}

func (f *fakeStore) GetExchanges(ctx context.Context) ([]core.ExchangeSummary, error) {
	return f.exchanges, nil
}

func (f *fakeStore) GetCredential(ctx context.Context, name string) (core.Credential, error) {
	return f.credentials[name], nil
}

func (f *fakeStore) LogBalanceSnapshot(ctx context.Context, exchangeKey string, equity decimal.Decimal, at time.Time) (bool, error) {
	f.snapshots = append(f.snapshots, exchangeKey)
	return true, nil
}

func (f *fakeStore) SaveTrade(ctx context.Context, t core.Trade) error { return nil }
func (f *fakeStore) GetPairData(ctx context.Context, symbol string) (core.PairData, error) {
	return core.PairData{}, nil
}
func (f *fakeStore) FetchMyTradesSince(ctx context.Context, symbol string, fromTS int64) ([]core.Trade, error) {
	return nil, nil
}
func (f *fakeStore) UpdateMarketSnapshot(ctx context.Context, symbol string, candles []core.Candle, lastPrice decimal.Decimal) error {
	return nil
}
func (f *fakeStore) UpdateGridStatus(ctx context.Context, symbol string, orders []core.Order, levels []decimal.Decimal) error {
	return nil
}
func (f *fakeStore) GetBalanceHistory(ctx context.Context, fromTS int64, exchangeKey string) ([]core.BalanceSample, error) {
	return nil, nil
}
func (f *fakeStore) GetLastBalanceSnapshot(ctx context.Context, exchangeKey string) (decimal.Decimal, bool, error) {
	return f.lastSnapshot, f.lastSnapshotOK, nil
}
func (f *fakeStore) NextBuyID(ctx context.Context) (int, error) { return 1, nil }
func (f *fakeStore) AssignBuyIDIfMissing(ctx context.Context, tradeID string) (int, error) {
	return 1, nil
}
func (f *fakeStore) FindLinkedBuyID(ctx context.Context, symbol string, sellPrice, spreadPct decimal.Decimal) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeStore) GetLastBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	return f.lastBuyPrice, f.lastBuyPriceOK, nil
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
func (f *fakeStore) PruneOldData(ctx context.Context, daysKeep int) error { return nil }
func (f *fakeStore) GetCounter(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeStore) SetCounter(ctx context.Context, key, value string) error { return nil }

var _ core.Store = (*fakeStore)(nil)

type fakeSnapshotter struct {
	equity decimal.Decimal
	err    error
}

func (f fakeSnapshotter) SnapshotEquity(ctx context.Context, cred core.Credential) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	return f.equity, nil
}

type fakeOwner struct {
	key   string
	owned bool
}

func (f fakeOwner) ActiveVenueKey() (string, bool) { return f.key, f.owned }

func testConfig(activeName string) *config.Config {
	return &config.Config{
		Exchanges: map[string]config.ExchangeConfig{
			activeName: {Active: true},
		},
	}
}

func TestSchedulerSamplesActiveAndPassiveVenues(t *testing.T) {
	store := &fakeStore{
		exchanges: []core.ExchangeSummary{
			{Name: "binance", Type: "binance"},
			{Name: "kraken", Type: "binance"},
		},
		credentials: map[string]core.Credential{
			"binance": {},
			"kraken":  {},
		},
	}
	sched := New(testConfig("binance"), store, map[string]core.EquitySnapshotter{
		"binance": fakeSnapshotter{equity: decimal.NewFromInt(500)},
	}, nil, nil)

	sched.tick(context.Background())

	if len(store.snapshots) != 2 {
		t.Fatalf("expected 2 snapshots on first tick, got %d: %v", len(store.snapshots), store.snapshots)
	}
}

func TestSchedulerSkipsVenueOwnedByEngine(t *testing.T) {
	store := &fakeStore{
		exchanges: []core.ExchangeSummary{
			{Name: "binance", Type: "binance"},
		},
		credentials: map[string]core.Credential{"binance": {}},
	}
	owner := fakeOwner{key: "binance", owned: true}
	sched := New(testConfig("binance"), store, map[string]core.EquitySnapshotter{
		"binance": fakeSnapshotter{equity: decimal.NewFromInt(500)},
	}, []VenueOwner{owner}, nil)

	sched.tick(context.Background())

	if len(store.snapshots) != 0 {
		t.Fatalf("expected active venue owned by engine to be skipped, got %v", store.snapshots)
	}
}

func TestSchedulerRespectsCadenceGate(t *testing.T) {
	store := &fakeStore{
		exchanges: []core.ExchangeSummary{
			{Name: "binance", Type: "binance"},
		},
		credentials: map[string]core.Credential{"binance": {}},
	}
	sched := New(testConfig("binance"), store, map[string]core.EquitySnapshotter{
		"binance": fakeSnapshotter{equity: decimal.NewFromInt(500)},
	}, nil, nil)

	sched.tick(context.Background())
	sched.tick(context.Background())

	if len(store.snapshots) != 1 {
		t.Fatalf("expected second immediate tick to be gated, got %d samples", len(store.snapshots))
	}
}

func TestSchedulerCarriesForwardOnFetchFailure(t *testing.T) {
	store := &fakeStore{
		exchanges: []core.ExchangeSummary{
			{Name: "kraken", Type: "binance"},
		},
		credentials:    map[string]core.Credential{"kraken": {}},
		lastSnapshot:   decimal.NewFromInt(1234),
		lastSnapshotOK: true,
	}
	sched := New(testConfig("binance"), store, map[string]core.EquitySnapshotter{
		"binance": fakeSnapshotter{err: errors.New("fetch failed")},
	}, nil, nil)

	sched.tick(context.Background())

	if len(store.snapshots) != 1 || store.snapshots[0] != "kraken" {
		t.Fatalf("expected a carried-forward snapshot for kraken, got %v", store.snapshots)
	}
}

func TestSchedulerUnknownCredentialTypeSkipsVenue(t *testing.T) {
	store := &fakeStore{
		exchanges: []core.ExchangeSummary{
			{Name: "binance", Type: "unknown"},
		},
		credentials: map[string]core.Credential{"binance": {}},
	}
	sched := New(testConfig("binance"), store, map[string]core.EquitySnapshotter{
		"binance": fakeSnapshotter{equity: decimal.NewFromInt(500)},
	}, nil, nil)

	sched.tick(context.Background())

	if len(store.snapshots) != 0 {
		t.Fatalf("expected unregistered venue type to be skipped, got %v", store.snapshots)
	}
}
