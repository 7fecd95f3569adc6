// Package core holds domain types and the interfaces that decouple the
// grid engine from its collaborators (exchange adapter, store, notifier).
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus mirrors the venue's order lifecycle states.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Candle is one OHLCV row.
type Candle struct {
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Balance is the free/used/total holding of one asset.
type Balance struct {
	Asset string
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// Market carries the venue's precision and minimum-order limits for a symbol.
type Market struct {
	Symbol         string
	PricePrecision int32
	AmountPrecision int32
	MinAmount      decimal.Decimal
	MinNotional    decimal.Decimal
}

// Order is a placed or resting order, in venue-agnostic shape.
type Order struct {
	ID       string
	Symbol   string
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Status   OrderStatus
}

// Trade is one executed fill reported by the venue's my-trades feed.
type Trade struct {
	ID        string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Cost      decimal.Decimal
	Fee       decimal.Decimal
	FeeAsset  string
	Timestamp int64
	BuyID     *int
}

// DesiredGrid is the engine's materialized ladder for one symbol.
type DesiredGrid struct {
	Symbol    string
	Levels    []decimal.Decimal // ascending, rounded to price precision
	SetupDone bool
}

// PairState is the engine's in-memory view for one configured symbol,
// combining desired grid, reserved inventory and last known price.
type PairState struct {
	Symbol          string
	Grid            DesiredGrid
	ReservedBase    decimal.Decimal
	LastPrice       decimal.Decimal
	LastBuyPrice    decimal.Decimal
	LastBuyPriceSet bool
}

// Credential is a decrypted exchange credential, constructed only at venue
// connect time; it is never persisted in this shape.
type Credential struct {
	Name       string
	Type       string
	APIKey     string
	SecretKey  string
	Passphrase string
	UseTestnet bool
}

// BalanceSample is one accepted balance_history row.
type BalanceSample struct {
	ExchangeKey string
	Timestamp   time.Time
	Equity      decimal.Decimal
}

// EngineState is the state-machine position of a grid engine instance.
type EngineState string

const (
	EngineStopped  EngineState = "stopped"
	EngineRunning  EngineState = "running"
	EnginePaused   EngineState = "paused"
	EngineStopping EngineState = "stopping"
)

// Status is a read-only snapshot of the engine for the external surface.
type Status struct {
	State           EngineState
	SessionStartTS  int64
	ActiveVenue     string
	Symbols         []string
	SessionPnL      map[string]decimal.Decimal
	GlobalPnL       map[string]decimal.Decimal
	TradeCount      int
}
