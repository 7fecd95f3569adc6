package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// SaveTrade inserts a trade, idempotent on venue trade id; the fee is
// normalized to quote by multiplying by trade price when the fee currency
// is not already quote-denominated.
func (s *Store) SaveTrade(ctx context.Context, t core.Trade) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	fee := t.Fee
	if !isQuoteFeeAsset(t.Symbol, t.FeeAsset) {
		fee = fee.Mul(t.Price)
	}

	var buyID sql.NullInt64
	if t.BuyID != nil {
		buyID = sql.NullInt64{Int64: int64(*t.BuyID), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_history
			(trade_id, symbol, side, price, amount, cost, fee, timestamp, buy_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.Price.String(), t.Amount.String(),
		t.Cost.String(), fee.String(), t.Timestamp, buyID,
	)
	if err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// isQuoteFeeAsset assumes symbols of the form BASEQUOTE and treats a fee
// asset equal to the trailing quote segment (commonly USDT) as already
// quote-denominated; anything else needs converting via trade price.
func isQuoteFeeAsset(symbol, feeAsset string) bool {
	if feeAsset == "" {
		return true
	}
	return strings.HasSuffix(symbol, feeAsset)
}

// NextBuyID atomically increments and returns the next buy id, wrapping
// from 1000 back to 1 with no conflict detection against legacy rows.
func (s *Store) NextBuyID(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int
	row := tx.QueryRowContext(ctx, `SELECT value FROM bot_info WHERE key = 'next_buy_id'`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return 0, fmt.Errorf("read next_buy_id: %w", err)
	}
	fmt.Sscanf(raw, "%d", &current)

	next := current + 1
	if next > 1000 {
		next = 1
	}

	if _, err := tx.ExecContext(ctx, `UPDATE bot_info SET value = ? WHERE key = 'next_buy_id'`, fmt.Sprintf("%d", next)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return current, nil
}

// AssignBuyIDIfMissing returns the pre-existing buy_id for tradeID if set,
// otherwise mints a new one via NextBuyID and persists it.
func (s *Store) AssignBuyIDIfMissing(ctx context.Context, tradeID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var existing sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT buy_id FROM trade_history WHERE trade_id = ?`, tradeID)
	if err := row.Scan(&existing); err != nil {
		return 0, fmt.Errorf("read trade buy_id: %w", err)
	}
	if existing.Valid {
		return int(existing.Int64), nil
	}

	id, err := s.NextBuyID(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE trade_history SET buy_id = ? WHERE trade_id = ?`, id, tradeID); err != nil {
		return 0, err
	}
	return id, nil
}

// FindLinkedBuyID selects the most recent buy on symbol whose price lies
// within [target*0.99, target*1.01] where target = sellPrice/(1+s/100).
func (s *Store) FindLinkedBuyID(ctx context.Context, symbol string, sellPrice, spreadPct decimal.Decimal) (int, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	s100 := spreadPct.Div(decimal.NewFromInt(100))
	target := sellPrice.Div(decimal.NewFromInt(1).Add(s100))
	lo := target.Mul(decimal.NewFromFloat(0.99))
	hi := target.Mul(decimal.NewFromFloat(1.01))

	rows, err := s.db.QueryContext(ctx, `
		SELECT buy_id, price FROM trade_history
		WHERE symbol = ? AND side = 'buy' AND buy_id IS NOT NULL
		ORDER BY timestamp DESC`, symbol)
	if err != nil {
		return 0, false, fmt.Errorf("query linked buy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		var priceStr string
		if err := rows.Scan(&id, &priceStr); err != nil {
			return 0, false, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		if price.GreaterThanOrEqual(lo) && price.LessThanOrEqual(hi) {
			return id, true, nil
		}
	}
	return 0, false, rows.Err()
}

// GetLastBuyPrice returns the price of the most recent buy fill on symbol,
// queried fresh from the ledger every call so the anti-wash floor survives
// process restarts, mirroring original_source/core/database.py's
// get_last_buy_price.
func (s *Store) GetLastBuyPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var priceStr string
	row := s.db.QueryRowContext(ctx, `
		SELECT price FROM trade_history
		WHERE symbol = ? AND side = 'buy'
		ORDER BY timestamp DESC LIMIT 1`, symbol)
	if err := row.Scan(&priceStr); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("read last buy price: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse last buy price: %w", err)
	}
	return price, true, nil
}

func (s *Store) lastTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, side, price, amount, cost, fee, timestamp, buy_id
		FROM trade_history WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var t core.Trade
		var side, priceStr, amountStr, costStr, feeStr string
		var buyID sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &priceStr, &amountStr, &costStr, &feeStr, &t.Timestamp, &buyID); err != nil {
			return nil, err
		}
		t.Side = core.Side(side)
		t.Price, _ = decimal.NewFromString(priceStr)
		t.Amount, _ = decimal.NewFromString(amountStr)
		t.Cost, _ = decimal.NewFromString(costStr)
		t.Fee, _ = decimal.NewFromString(feeStr)
		if buyID.Valid {
			id := int(buyID.Int64)
			t.BuyID = &id
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FetchMyTradesSince returns trades for symbol with timestamp >= fromTS,
// used by the PnL accountant to compute session cash flow.
func (s *Store) FetchMyTradesSince(ctx context.Context, symbol string, fromTS int64) ([]core.Trade, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, symbol, side, price, amount, cost, fee, timestamp, buy_id
		FROM trade_history WHERE symbol = ? AND timestamp >= ? ORDER BY timestamp ASC`, symbol, fromTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var t core.Trade
		var side, priceStr, amountStr, costStr, feeStr string
		var buyID sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &priceStr, &amountStr, &costStr, &feeStr, &t.Timestamp, &buyID); err != nil {
			return nil, err
		}
		t.Side = core.Side(side)
		t.Price, _ = decimal.NewFromString(priceStr)
		t.Amount, _ = decimal.NewFromString(amountStr)
		t.Cost, _ = decimal.NewFromString(costStr)
		t.Fee, _ = decimal.NewFromString(feeStr)
		if buyID.Valid {
			id := int(buyID.Int64)
			t.BuyID = &id
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
