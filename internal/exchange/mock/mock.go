// Package mock is an in-memory core.Exchange used by engine and
// reconciliation tests (§4.1, §8). It is grounded on the teacher's
// MockExchange (internal/mock/exchange.go): an order book keyed by
// synthetic IDs, an account balance map, and a SimulateFill hook tests use
// to drive reconciliation scenarios deterministically, adapted from the
// teacher's futures/position shape to a spot balance/order/trade shape.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

// Exchange is a deterministic in-memory stand-in for a live venue.
type Exchange struct {
	mu sync.Mutex

	name        string
	connected   bool
	balances    map[string]core.Balance
	orders      map[string]*core.Order
	trades      []core.Trade
	nextOrderID int
	price       decimal.Decimal
	market      core.Market
}

// New constructs a mock exchange seeded with a flat quote-asset balance.
func New(name string, startingQuote decimal.Decimal) *Exchange {
	return &Exchange{
		name:        name,
		orders:      make(map[string]*core.Order),
		nextOrderID: 1,
		price:       decimal.NewFromInt(100),
		balances: map[string]core.Balance{
			"USDT": {Asset: "USDT", Free: startingQuote, Total: startingQuote},
		},
		market: core.Market{
			Symbol:          "BTCUSDT",
			PricePrecision:  2,
			AmountPrecision: 6,
			MinAmount:       decimal.NewFromFloat(0.0001),
			MinNotional:     decimal.NewFromInt(10),
		},
	}
}

func (e *Exchange) Name() string { return e.name }

func (e *Exchange) Connect(ctx context.Context, cred core.Credential) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	return nil
}

func (e *Exchange) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

func (e *Exchange) FetchTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (e *Exchange) FetchBalance(ctx context.Context) ([]core.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.Balance, 0, len(e.balances))
	for _, b := range e.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// SetPrice is the test hook driving FetchTicker/FetchCandles.
func (e *Exchange) SetPrice(price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.price = price
}

// SetBalance is the test hook seeding an account balance directly, for
// scenarios (e.g. a resting sell needing base-asset inventory) that don't
// arise from a simulated fill.
func (e *Exchange) SetBalance(asset string, free, total decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = core.Balance{Asset: asset, Free: free, Total: total}
}

// SetMarket is the test hook overriding the synthetic market metadata (e.g.
// price precision) Market returns for every symbol.
func (e *Exchange) SetMarket(market core.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market = market
}

func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price, nil
}

func (e *Exchange) FetchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = e.price
	}
	return out, nil
}

func (e *Exchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.Candle, 0, limit)
	now := time.Now().UnixMilli()
	for i := 0; i < limit; i++ {
		out = append(out, core.Candle{
			Timestamp: now - int64(i)*60000,
			Open:      e.price,
			High:      e.price,
			Low:       e.price,
			Close:     e.price,
			Volume:    decimal.NewFromInt(1),
		})
	}
	return out, nil
}

func (e *Exchange) FetchMyTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matching []core.Trade
	for _, t := range e.trades {
		if t.Symbol == symbol {
			matching = append(matching, t)
		}
	}
	if limit > 0 && limit < len(matching) {
		matching = matching[len(matching)-limit:]
	}
	return matching, nil
}

func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []core.Order
	for _, o := range e.orders {
		if o.Symbol == symbol && o.Status == core.OrderStatusOpen {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (e *Exchange) PlaceLimit(ctx context.Context, symbol string, side core.Side, amount, price decimal.Decimal) (core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	notional := amount.Mul(price)
	if notional.LessThan(e.market.MinNotional) {
		return core.Order{}, apperrors.ErrInvalidOrderParameter
	}
	if side == core.SideBuy {
		quote := e.balances["USDT"]
		if quote.Free.LessThan(notional) {
			return core.Order{}, apperrors.ErrInsufficientFunds
		}
		quote.Free = quote.Free.Sub(notional)
		e.balances["USDT"] = quote
	}

	id := fmt.Sprintf("%d", e.nextOrderID)
	e.nextOrderID++
	order := &core.Order{ID: id, Symbol: symbol, Side: side, Price: price, Quantity: amount, Status: core.OrderStatusOpen}
	e.orders[id] = order
	return *order, nil
}

func (e *Exchange) PlaceMarket(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (core.Order, error) {
	e.mu.Lock()
	price := e.price
	e.mu.Unlock()

	order, err := e.PlaceLimit(ctx, symbol, side, amount, price)
	if err != nil {
		return core.Order{}, err
	}
	e.fill(order.ID, order.Quantity, price)
	order.Status = core.OrderStatusFilled
	return order, nil
}

func (e *Exchange) Cancel(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return nil // order-not-found on cancel is success (§7)
	}
	if order.Status == core.OrderStatusOpen {
		if order.Side == core.SideBuy {
			quote := e.balances["USDT"]
			quote.Free = quote.Free.Add(order.Price.Mul(order.Quantity))
			e.balances["USDT"] = quote
		}
		order.Status = core.OrderStatusCanceled
	}
	return nil
}

func (e *Exchange) CancelAll(ctx context.Context, symbol string) error {
	e.mu.Lock()
	ids := make([]string, 0)
	for id, o := range e.orders {
		if o.Symbol == symbol && o.Status == core.OrderStatusOpen {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.Cancel(ctx, symbol, id); err != nil {
			return err
		}
	}
	return nil
}

// SimulateFill is the test hook that marks a resting order filled and
// records the corresponding trade, mirroring SimulateOrderFill in spirit.
func (e *Exchange) SimulateFill(orderID string) {
	e.mu.Lock()
	order, ok := e.orders[orderID]
	if !ok || order.Status != core.OrderStatusOpen {
		e.mu.Unlock()
		return
	}
	price := order.Price
	qty := order.Quantity
	order.Status = core.OrderStatusFilled
	e.mu.Unlock()

	e.fill(orderID, qty, price)
}

func (e *Exchange) fill(orderID string, qty, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return
	}

	cost := qty.Mul(price)
	base := assetOf(order.Symbol)
	if order.Side == core.SideBuy {
		b := e.balances[base]
		b.Asset = base
		b.Free = b.Free.Add(qty)
		b.Total = b.Total.Add(qty)
		e.balances[base] = b
	} else {
		quote := e.balances["USDT"]
		quote.Free = quote.Free.Add(cost)
		quote.Total = quote.Total.Add(cost)
		e.balances["USDT"] = quote
	}

	e.trades = append(e.trades, core.Trade{
		ID:        fmt.Sprintf("t-%s", orderID),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     price,
		Amount:    qty,
		Cost:      cost,
		FeeAsset:  "USDT",
		Timestamp: time.Now().UnixMilli(),
	})
}

func assetOf(symbol string) string {
	if len(symbol) > 4 && symbol[len(symbol)-4:] == "USDT" {
		return symbol[:len(symbol)-4]
	}
	return symbol
}

func (e *Exchange) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	return price.Round(e.market.PricePrecision)
}

func (e *Exchange) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(e.market.AmountPrecision)
}

func (e *Exchange) Market(ctx context.Context, symbol string) (core.Market, error) {
	m := e.market
	m.Symbol = symbol
	return m, nil
}

var _ core.Exchange = (*Exchange)(nil)

// snapshotter is the core.EquitySnapshotter used for a mock-typed venue: a
// flat stand-in equity so the scheduler's passive-venue path has something
// deterministic to exercise in tests without a real balance endpoint.
type snapshotter struct{}

func (snapshotter) SnapshotEquity(ctx context.Context, cred core.Credential) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

// Snapshotter is the core.EquitySnapshotter implementation for mock venues.
var Snapshotter core.EquitySnapshotter = snapshotter{}
