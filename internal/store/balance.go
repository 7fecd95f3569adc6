package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// minSnapshotInterval and minSnapshotDelta are the balance-history dedup
// thresholds (§3, §8 boundary scenario 6): a write is rejected unless it is
// at least minSnapshotInterval after the exchange's last row, or its equity
// differs from the last row's by more than minSnapshotDelta.
const (
	minSnapshotInterval = 50 * time.Second
	minSnapshotDelta    = 0.01
)

// LogBalanceSnapshot inserts a balance sample for exchangeKey, applying the
// dedup rule. Returns whether the row was actually inserted.
func (s *Store) LogBalanceSnapshot(ctx context.Context, exchangeKey string, equity decimal.Decimal, at time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var lastTS int64
	var lastEquityStr string
	row := tx.QueryRowContext(ctx, `
		SELECT timestamp, equity FROM balance_history
		WHERE exchange = ? ORDER BY timestamp DESC LIMIT 1`, exchangeKey)
	err = row.Scan(&lastTS, &lastEquityStr)

	if err == nil {
		lastEquity, _ := decimal.NewFromString(lastEquityStr)
		delta := equity.Sub(lastEquity).Abs()
		elapsed := at.Sub(time.UnixMilli(lastTS))
		if elapsed < minSnapshotInterval && delta.LessThanOrEqual(decimal.NewFromFloat(minSnapshotDelta)) {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO balance_history (timestamp, exchange, equity) VALUES (?, ?, ?)`,
		at.UnixMilli(), exchangeKey, equity.String(),
	)
	if err != nil {
		return false, fmt.Errorf("insert balance snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetLastBalanceSnapshot returns the most recent equity value logged for
// exchangeKey, used to carry a passive-venue snapshot forward unchanged
// when a live fetch fails, so chart readers see a continuous line rather
// than a gap.
func (s *Store) GetLastBalanceSnapshot(ctx context.Context, exchangeKey string) (decimal.Decimal, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var equityStr string
	row := s.db.QueryRowContext(ctx, `
		SELECT equity FROM balance_history
		WHERE exchange = ? ORDER BY timestamp DESC LIMIT 1`, exchangeKey)
	if err := row.Scan(&equityStr); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("read last balance snapshot: %w", err)
	}
	equity, err := decimal.NewFromString(equityStr)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse last balance snapshot: %w", err)
	}
	return equity, true, nil
}

// GetBalanceHistory returns ordered (timestamp, equity) rows at or after
// fromTS, optionally filtered to one exchange key.
func (s *Store) GetBalanceHistory(ctx context.Context, fromTS int64, exchangeKey string) ([]core.BalanceSample, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rows interface {
		Next() bool
		Scan(...any) error
		Close() error
		Err() error
	}

	if exchangeKey != "" {
		r, err := s.db.QueryContext(ctx, `
			SELECT timestamp, exchange, equity FROM balance_history
			WHERE timestamp >= ? AND exchange = ? ORDER BY timestamp ASC`, fromTS, exchangeKey)
		if err != nil {
			return nil, err
		}
		rows = r
	} else {
		r, err := s.db.QueryContext(ctx, `
			SELECT timestamp, exchange, equity FROM balance_history
			WHERE timestamp >= ? ORDER BY timestamp ASC`, fromTS)
		if err != nil {
			return nil, err
		}
		rows = r
	}
	defer rows.Close()

	var out []core.BalanceSample
	for rows.Next() {
		var ts int64
		var exch, equityStr string
		if err := rows.Scan(&ts, &exch, &equityStr); err != nil {
			return nil, err
		}
		equity, _ := decimal.NewFromString(equityStr)
		out = append(out, core.BalanceSample{
			ExchangeKey: exch,
			Timestamp:   time.UnixMilli(ts),
			Equity:      equity,
		})
	}
	return out, rows.Err()
}
