package store

import (
	"context"
	"database/sql"
)

// GetCounter reads a value from the bot_info key/value area (first_run,
// session_start_<symbol>, global-start balance markers, etc).
func (s *Store) GetCounter(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM bot_info WHERE key = ?`, key)
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetCounter upserts a bot_info key/value pair.
func (s *Store) SetCounter(ctx context.Context, key, value string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_info (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
