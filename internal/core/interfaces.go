package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the venue-agnostic surface every adapter must present (§4.1).
type Exchange interface {
	Name() string
	Connect(ctx context.Context, cred Credential) error
	Disconnect() error

	FetchTime(ctx context.Context) (time.Time, error)
	FetchBalance(ctx context.Context) ([]Balance, error)
	FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchMyTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	PlaceLimit(ctx context.Context, symbol string, side Side, amount, price decimal.Decimal) (Order, error)
	PlaceMarket(ctx context.Context, symbol string, side Side, amount decimal.Decimal) (Order, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error

	PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal
	AmountToPrecision(symbol string, amount decimal.Decimal) decimal.Decimal
	Market(ctx context.Context, symbol string) (Market, error)
}

// EquitySnapshotter is the static helper used to sample non-active venues
// without mutating any adapter's connection state (§4.1, §4.5).
type EquitySnapshotter interface {
	SnapshotEquity(ctx context.Context, cred Credential) (decimal.Decimal, error)
}

// Store is the persistence surface (§4.2). Every method opens or reuses a
// short-lived connection and commits before returning.
type Store interface {
	SaveTrade(ctx context.Context, t Trade) error
	GetPairData(ctx context.Context, symbol string) (PairData, error)
	FetchMyTradesSince(ctx context.Context, symbol string, fromTS int64) ([]Trade, error)
	UpdateMarketSnapshot(ctx context.Context, symbol string, candles []Candle, lastPrice decimal.Decimal) error
	UpdateGridStatus(ctx context.Context, symbol string, orders []Order, levels []decimal.Decimal) error

	LogBalanceSnapshot(ctx context.Context, exchangeKey string, equity decimal.Decimal, at time.Time) (bool, error)
	GetLastBalanceSnapshot(ctx context.Context, exchangeKey string) (decimal.Decimal, bool, error)
	GetBalanceHistory(ctx context.Context, fromTS int64, exchangeKey string) ([]BalanceSample, error)

	NextBuyID(ctx context.Context) (int, error)
	AssignBuyIDIfMissing(ctx context.Context, tradeID string) (int, error)
	FindLinkedBuyID(ctx context.Context, symbol string, sellPrice, spreadPct decimal.Decimal) (int, bool, error)
	GetLastBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error)

	UpdatePnLBackup(ctx context.Context, symbol string, value decimal.Decimal) error
	ArchiveSessionStats(ctx context.Context) (bool, error)
	GetAccumulatedPnL(ctx context.Context, symbol string) (decimal.Decimal, error)
	ResetGlobalPnLForSymbol(ctx context.Context, symbol string) error
	ResetGlobalPnLHistory(ctx context.Context) error

	UpsertCredential(ctx context.Context, c StoredCredential) error
	GetExchanges(ctx context.Context) ([]ExchangeSummary, error)
	GetCredential(ctx context.Context, name string) (Credential, error)

	PruneOldData(ctx context.Context, daysKeep int) error

	GetCounter(ctx context.Context, key string) (string, bool, error)
	SetCounter(ctx context.Context, key, value string) error
}

// PairData is the read-model backing the pair-details API (§6).
type PairData struct {
	LastPrice  decimal.Decimal
	Candles    []Candle
	OpenOrders []Order
	GridLevels []decimal.Decimal
	LastTrades []Trade // at most 50, descending
}

// StoredCredential is the at-rest (encrypted) shape of an exchange credential.
type StoredCredential struct {
	Name             string
	Type             string
	EncryptedAPIKey  []byte
	EncryptedSecret  []byte
	EncryptedPassph  []byte
	UseTestnet       bool
	Active           bool
}

// ExchangeSummary is what GetExchanges exposes; it never carries secret material.
type ExchangeSummary struct {
	Name       string
	Type       string
	UseTestnet bool
	Active     bool
}

// Notifier is the fire-and-forget notification sink (§6); failures must
// never block the engine.
type Notifier interface {
	Notify(level AlertLevel, title, message string)
}

// AlertLevel classifies a notification's severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertError    AlertLevel = "error"
	AlertCritical AlertLevel = "critical"
)

// EngineCommander is the command half of the external surface (§6). The
// HTTP surface (out of scope) issues commands; the engine's own workers
// observe them at cycle boundaries.
type EngineCommander interface {
	Launch(ctx context.Context) error
	Pause()
	Resume()
	Stop(ctx context.Context) error
	CancelAll(ctx context.Context) error
	LiquidateSymbol(ctx context.Context, symbol string) error
	CloseOrder(ctx context.Context, symbol, orderID string) error
	SnapshotEquityNow(ctx context.Context) error
}

// EngineStatusProvider is the read half of the external surface (§6).
type EngineStatusProvider interface {
	Status() Status
	PairDetails(ctx context.Context, symbol string) (PairData, error)
}

// Logger is the structured logging contract used throughout the module.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}
