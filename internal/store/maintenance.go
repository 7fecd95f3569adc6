package store

import (
	"context"
	"fmt"
	"time"
)

// PruneOldData deletes trade and balance history rows older than daysKeep
// days, then reclaims space outside any transaction (VACUUM must never run
// inside one).
func (s *Store) PruneOldData(ctx context.Context, daysKeep int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -daysKeep).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trade_history WHERE timestamp < ?`, cutoff); err != nil {
		tx.Rollback()
		return fmt.Errorf("prune trades: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM balance_history WHERE timestamp < ?`, cutoff); err != nil {
		tx.Rollback()
		return fmt.Errorf("prune balance history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
