// Package binance adapts github.com/adshao/go-binance/v2's spot client to
// the venue-agnostic core.Exchange interface. Grounded on the real SDK call
// shapes demonstrated by the teacher's live-server prototype
// (client.NewGetAccountService / NewListOpenOrdersService / NewKlinesService
// against a futures client) and on the teacher's own binance adapter's
// error-code-to-taxonomy mapping, adapted here to the spot error codes and
// to go-binance/v2's spot Client instead of hand-rolled HTTP signing.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/exchange/base"
	apperrors "gridbot/pkg/errors"
)

const (
	mainnetURL = "https://api.binance.com"
	testnetURL = "https://testnet.binance.vision"
)

// Exchange is the spot adapter for Binance.
type Exchange struct {
	base    *base.Adapter
	client  *gobinance.Client
	testnet bool

	markets map[string]core.Market
}

// New constructs a disconnected adapter; call Connect before use.
func New(logger core.Logger) *Exchange {
	return &Exchange{
		base:    base.NewAdapter("binance", logger, 10),
		markets: make(map[string]core.Market),
	}
}

func (e *Exchange) Name() string { return "binance" }

// Connect builds the underlying SDK client, optionally pointed at the
// testnet base URL, verifies reachability with a 3s-bounded FetchTime call
// (non-fatal on timeout), and loads symbol metadata in the background.
func (e *Exchange) Connect(ctx context.Context, cred core.Credential) error {
	client := gobinance.NewClient(cred.APIKey, cred.SecretKey)
	if cred.UseTestnet {
		client.BaseURL = testnetURL
	} else {
		client.BaseURL = mainnetURL
	}
	e.client = client
	e.testnet = cred.UseTestnet

	verifyCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := e.FetchTime(verifyCtx); err != nil {
		e.base.Logger.Warn("connect-time reachability check failed, continuing anyway", "error", err)
	}

	go e.loadMarkets(context.Background())
	return nil
}

// Disconnect drops the client handle; go-binance/v2 holds no persistent
// connection to close for the spot REST client.
func (e *Exchange) Disconnect() error {
	e.client = nil
	return nil
}

func (e *Exchange) loadMarkets(ctx context.Context) {
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		e.base.Logger.Warn("failed to load exchange info", "error", err)
		return
	}

	for _, sym := range info.Symbols {
		m := core.Market{
			Symbol:          sym.Symbol,
			PricePrecision:  int32(sym.QuotePrecision),
			AmountPrecision: int32(sym.BaseAssetPrecision),
		}
		for _, f := range sym.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				m.PricePrecision = decimalsOf(fmt.Sprint(f["tickSize"]))
			case "LOT_SIZE":
				m.AmountPrecision = decimalsOf(fmt.Sprint(f["stepSize"]))
				m.MinAmount = parseDecimal(fmt.Sprint(f["minQty"]))
			case "MIN_NOTIONAL", "NOTIONAL":
				m.MinNotional = parseDecimal(fmt.Sprint(f["minNotional"]))
			}
		}
		e.markets[sym.Symbol] = m
	}
}

func decimalsOf(tickOrStep string) int32 {
	d := parseDecimal(tickOrStep)
	if d.IsZero() {
		return 8
	}
	return int32(-d.Exponent())
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (e *Exchange) FetchTime(ctx context.Context) (time.Time, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewServerTimeService().Do(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	ms, _ := res.(int64)
	return time.UnixMilli(ms), nil
}

func (e *Exchange) FetchBalance(ctx context.Context) ([]core.Balance, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	account, _ := res.(*gobinance.Account)
	if account == nil {
		return nil, nil
	}

	out := make([]core.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free := parseDecimal(b.Free)
		locked := parseDecimal(b.Locked)
		out = append(out, core.Balance{
			Asset: b.Asset,
			Free:  free,
			Used:  locked,
			Total: free.Add(locked),
		})
	}
	return out, nil
}

func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}
	prices, _ := res.([]*gobinance.SymbolPrice)
	if len(prices) == 0 {
		return decimal.Zero, apperrors.ErrInvalidSymbol
	}
	return parseDecimal(prices[0].Price), nil
}

func (e *Exchange) FetchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		price, err := e.FetchTicker(ctx, s)
		if err != nil {
			continue
		}
		out[s] = price
	}
	return out, nil
}

func (e *Exchange) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	klines, _ := res.([]*gobinance.Kline)

	out := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, core.Candle{
			Timestamp: k.OpenTime,
			Open:      parseDecimal(k.Open),
			High:      parseDecimal(k.High),
			Low:       parseDecimal(k.Low),
			Close:     parseDecimal(k.Close),
			Volume:    parseDecimal(k.Volume),
		})
	}
	return out, nil
}

func (e *Exchange) FetchMyTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewListTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	trades, _ := res.([]*gobinance.TradeV3)

	out := make([]core.Trade, 0, len(trades))
	for _, t := range trades {
		side := core.SideSell
		if t.IsBuyer {
			side = core.SideBuy
		}
		price := parseDecimal(t.Price)
		qty := parseDecimal(t.Quantity)
		out = append(out, core.Trade{
			ID:        strconv.FormatInt(t.ID, 10),
			Symbol:    symbol,
			Side:      side,
			Price:     price,
			Amount:    qty,
			Cost:      price.Mul(qty),
			Fee:       parseDecimal(t.Commission),
			FeeAsset:  t.CommissionAsset,
			Timestamp: t.Time,
		})
	}
	return out, nil
}

func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	orders, _ := res.([]*gobinance.Order)

	out := make([]core.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, core.Order{
			ID:       strconv.FormatInt(o.OrderID, 10),
			Symbol:   o.Symbol,
			Side:     mapSide(o.Side),
			Price:    parseDecimal(o.Price),
			Quantity: parseDecimal(o.OrigQuantity),
			Status:   mapOrderStatus(o.Status),
		})
	}
	return out, nil
}

func (e *Exchange) PlaceLimit(ctx context.Context, symbol string, side core.Side, amount, price decimal.Decimal) (core.Order, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toBinanceSide(side)).
			Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Quantity(amount.String()).
			Price(price.String()).
			NewClientOrderID(newClientOrderID()).
			Do(ctx)
	})
	if err != nil {
		return core.Order{}, classifyPlacementError(err)
	}
	created, _ := res.(*gobinance.CreateOrderResponse)
	if created == nil {
		return core.Order{}, apperrors.ErrOrderRejected
	}
	return core.Order{
		ID:       strconv.FormatInt(created.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: amount,
		Status:   core.OrderStatusOpen,
	}, nil
}

func (e *Exchange) PlaceMarket(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (core.Order, error) {
	res, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewCreateOrderService().
			Symbol(symbol).
			Side(toBinanceSide(side)).
			Type(gobinance.OrderTypeMarket).
			Quantity(amount.String()).
			NewClientOrderID(newClientOrderID()).
			Do(ctx)
	})
	if err != nil {
		return core.Order{}, classifyPlacementError(err)
	}
	created, _ := res.(*gobinance.CreateOrderResponse)
	if created == nil {
		return core.Order{}, apperrors.ErrOrderRejected
	}
	return core.Order{
		ID:       strconv.FormatInt(created.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Quantity: amount,
		Status:   core.OrderStatusFilled,
	}, nil
}

func (e *Exchange) Cancel(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return apperrors.ErrInvalidOrderParameter
	}
	_, err = e.base.Execute(ctx, func() (any, error) {
		return e.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	// "order not found" on cancel is treated as success (§4.1, §7).
	if base.ClassifyError(err) == base.ErrorOrderNotFound {
		return nil
	}
	return err
}

func (e *Exchange) CancelAll(ctx context.Context, symbol string) error {
	_, err := e.base.Execute(ctx, func() (any, error) {
		return e.client.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if base.ClassifyError(err) == base.ErrorOrderNotFound {
		return nil
	}
	return err
}

func (e *Exchange) PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal {
	m, ok := e.markets[symbol]
	if !ok {
		return price.Round(2)
	}
	return price.Round(m.PricePrecision)
}

func (e *Exchange) AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal {
	m, ok := e.markets[symbol]
	if !ok {
		return amount.Truncate(6)
	}
	return amount.Truncate(m.AmountPrecision)
}

func (e *Exchange) Market(ctx context.Context, symbol string) (core.Market, error) {
	if m, ok := e.markets[symbol]; ok {
		return m, nil
	}
	e.loadMarkets(ctx)
	m, ok := e.markets[symbol]
	if !ok {
		return core.Market{}, apperrors.ErrInvalidSymbol
	}
	return m, nil
}

// SnapshotEquity is the static helper used by the scheduler to sample a
// non-active venue without mutating any live adapter's state (§4.1, §4.5):
// it constructs a throwaway client per call. Each asset's free+locked amount
// is valued in quote terms: USDT, USDC and BUSD at 1:1, any other asset at
// its <asset>USDT price; an asset with no such symbol is left out.
func SnapshotEquity(ctx context.Context, cred core.Credential) (decimal.Decimal, error) {
	client := gobinance.NewClient(cred.APIKey, cred.SecretKey)
	if cred.UseTestnet {
		client.BaseURL = testnetURL
	} else {
		client.BaseURL = mainnetURL
	}

	account, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	prices, err := client.NewListPricesService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	priceOf := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		priceOf[p.Symbol] = parseDecimal(p.Price)
	}

	total := decimal.Zero
	for _, b := range account.Balances {
		qty := parseDecimal(b.Free).Add(parseDecimal(b.Locked))
		if b.Asset == "USDT" || b.Asset == "USDC" || b.Asset == "BUSD" {
			total = total.Add(qty)
		} else if price, ok := priceOf[b.Asset+"USDT"]; ok {
			total = total.Add(qty.Mul(price))
		}
	}
	return total, nil
}

// newClientOrderID generates a fresh client order id for each placement so
// retried/duplicate placement attempts never collide on the venue side.
// Binance caps newClientOrderId at 36 characters, so a bare UUID is used
// rather than a prefixed one.
func newClientOrderID() string {
	return uuid.NewString()
}

func toBinanceSide(side core.Side) gobinance.SideType {
	if side == core.SideBuy {
		return gobinance.SideTypeBuy
	}
	return gobinance.SideTypeSell
}

func mapSide(side gobinance.SideType) core.Side {
	if side == gobinance.SideTypeBuy {
		return core.SideBuy
	}
	return core.SideSell
}

func mapOrderStatus(status gobinance.OrderStatusType) core.OrderStatus {
	switch status {
	case gobinance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired, gobinance.OrderStatusTypeRejected:
		return core.OrderStatusCanceled
	default:
		return core.OrderStatusOpen
	}
}

// classifyPlacementError maps Binance's numeric spot error codes onto the
// shared error taxonomy, grounded on the teacher's futures adapter's
// code table translated to the spot error codes (-2010 insufficient
// balance, -1013/-1111 invalid quantity/price, -2015 bad API key).
func classifyPlacementError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*gobinance.APIError)
	if !ok {
		return err
	}
	switch apiErr.Code {
	case -2010:
		return apperrors.ErrInsufficientFunds
	case -1013, -1111:
		return apperrors.ErrInvalidOrderParameter
	case -2015:
		return apperrors.ErrAuthenticationFailed
	case -1003:
		return apperrors.ErrRateLimitExceeded
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	case -2011:
		return apperrors.ErrOrderNotFound
	default:
		return err
	}
}

var _ core.Exchange = (*Exchange)(nil)

type snapshotter struct{}

func (snapshotter) SnapshotEquity(ctx context.Context, cred core.Credential) (decimal.Decimal, error) {
	return SnapshotEquity(ctx, cred)
}

// Snapshotter is the core.EquitySnapshotter implementation backed by SnapshotEquity.
var Snapshotter core.EquitySnapshotter = snapshotter{}
