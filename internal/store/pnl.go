package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// UpdatePnLBackup overwrites the live-session PnL backup row for symbol.
func (s *Store) UpdatePnLBackup(ctx context.Context, symbol string, value decimal.Decimal) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl_backup (symbol, pnl_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET pnl_value = excluded.pnl_value, updated_at = excluded.updated_at`,
		symbol, value.String(), nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update pnl backup: %w", err)
	}
	return nil
}

// ArchiveSessionStats moves every non-zero backup row into pnl_history then
// truncates the backup table. Returns whether any row was moved.
func (s *Store) ArchiveSessionStats(ctx context.Context) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT symbol, pnl_value FROM pnl_backup`)
	if err != nil {
		return false, err
	}

	type row struct {
		symbol string
		value  string
	}
	var toArchive []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.symbol, &r.value); err != nil {
			rows.Close()
			return false, err
		}
		val, _ := decimal.NewFromString(r.value)
		if !val.IsZero() {
			toArchive = append(toArchive, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	if len(toArchive) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pnl_backup`); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	now := nowUnixMilli()
	for _, r := range toArchive {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pnl_history (symbol, pnl_value, timestamp) VALUES (?, ?, ?)`,
			r.symbol, r.value, now); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pnl_backup`); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// GetAccumulatedPnL returns the global PnL for symbol: archived history sum
// plus the current live-session backup value.
func (s *Store) GetAccumulatedPnL(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var historySumStr sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT SUM(CAST(pnl_value AS REAL)) FROM pnl_history WHERE symbol = ?`, symbol)
	_ = row.Scan(&historySumStr)

	historySum := decimal.Zero
	if historySumStr.Valid {
		historySum, _ = decimal.NewFromString(historySumStr.String)
	}

	var backupStr string
	row = s.db.QueryRowContext(ctx, `SELECT pnl_value FROM pnl_backup WHERE symbol = ?`, symbol)
	if err := row.Scan(&backupStr); err == nil {
		backup, _ := decimal.NewFromString(backupStr)
		historySum = historySum.Add(backup)
	}

	return historySum, nil
}

// ResetGlobalPnLForSymbol clears both the backup and archived history for one symbol.
func (s *Store) ResetGlobalPnLForSymbol(ctx context.Context, symbol string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pnl_backup WHERE symbol = ?`, symbol); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pnl_history WHERE symbol = ?`, symbol); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetGlobalPnLHistory clears all archived PnL history, keeping live backups.
func (s *Store) ResetGlobalPnLHistory(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM pnl_history`)
	return err
}
