package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// UpdateMarketSnapshot persists the latest price and candle window for a symbol.
func (s *Store) UpdateMarketSnapshot(ctx context.Context, symbol string, candles []core.Candle, lastPrice decimal.Decimal) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal candles: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_data (symbol, last_price, candles, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET last_price = excluded.last_price,
			candles = excluded.candles, updated_at = excluded.updated_at`,
		symbol, lastPrice.String(), string(data), nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update market snapshot: %w", err)
	}
	return nil
}

// UpdateGridStatus persists the mirrored open orders and desired levels for
// a symbol, preserving whatever setup_done value is already stored.
func (s *Store) UpdateGridStatus(ctx context.Context, symbol string, orders []core.Order, levels []decimal.Decimal) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	ordersData, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("marshal orders: %w", err)
	}
	levelsData, err := json.Marshal(levels)
	if err != nil {
		return fmt.Errorf("marshal levels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO grid_status (symbol, open_orders, levels, setup_done, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(symbol) DO UPDATE SET open_orders = excluded.open_orders,
			levels = excluded.levels, updated_at = excluded.updated_at`,
		symbol, string(ordersData), string(levelsData), nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update grid status: %w", err)
	}
	return nil
}

// SetSetupDone marks a symbol's first-time-setup step complete.
func (s *Store) SetSetupDone(ctx context.Context, symbol string, done bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	flag := 0
	if done {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grid_status (symbol, open_orders, levels, setup_done, updated_at)
		VALUES (?, '[]', '[]', ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET setup_done = excluded.setup_done, updated_at = excluded.updated_at`,
		symbol, flag, nowUnixMilli(),
	)
	return err
}

// IsSetupDone reports a symbol's setup_done flag (false if no row exists).
func (s *Store) IsSetupDone(ctx context.Context, symbol string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var flag int
	row := s.db.QueryRowContext(ctx, `SELECT setup_done FROM grid_status WHERE symbol = ?`, symbol)
	if err := row.Scan(&flag); err != nil {
		return false, nil //nolint:nilerr // no row yet means not set up
	}
	return flag == 1, nil
}

// GetPairData assembles the pair-details read model (§6): last price,
// candles, mirrored open orders, desired levels, and the 50 most recent trades.
func (s *Store) GetPairData(ctx context.Context, symbol string) (core.PairData, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var out core.PairData

	var lastPriceStr, candlesData string
	row := s.db.QueryRowContext(ctx, `SELECT last_price, candles FROM market_data WHERE symbol = ?`, symbol)
	if err := row.Scan(&lastPriceStr, &candlesData); err == nil {
		out.LastPrice, _ = decimal.NewFromString(lastPriceStr)
		_ = json.Unmarshal([]byte(candlesData), &out.Candles)
	}

	var ordersData, levelsData string
	row = s.db.QueryRowContext(ctx, `SELECT open_orders, levels FROM grid_status WHERE symbol = ?`, symbol)
	if err := row.Scan(&ordersData, &levelsData); err == nil {
		_ = json.Unmarshal([]byte(ordersData), &out.OpenOrders)
		_ = json.Unmarshal([]byte(levelsData), &out.GridLevels)
	}

	trades, err := s.lastTrades(ctx, symbol, 50)
	if err != nil {
		return out, err
	}
	out.LastTrades = trades

	return out, nil
}
