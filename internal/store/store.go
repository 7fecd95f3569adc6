// Package store is the embedded relational persistence layer (§4.2): market
// snapshots, grid status, the trade ledger, balance history, PnL backup and
// history, encrypted credentials, and a small counters table. It holds no
// business logic except balance-snapshot deduplication. Schema and query
// shapes are grounded on the original system's sqlite schema; the
// connection idiom (one *sql.DB, WAL, short-lived per-call contexts) is
// grounded on the teacher's simple-engine sqlite store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gridbot/internal/core"
	"gridbot/internal/crypto"
)

// Store is the embedded sqlite-backed persistence layer.
type Store struct {
	db      *sql.DB
	keyring *crypto.Keyring
}

const opTimeout = 30 * time.Second

// Open opens (creating if absent) the database at path, enables WAL
// journaling, and applies the schema. keyring decrypts the credential
// material GetCredential reads (UpsertCredential expects it encrypted); it is
// constructed once by the caller and injected here rather than referenced
// as a package-level global.
func Open(path string, keyring *crypto.Keyring) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, keyring: keyring}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_data (
			symbol TEXT PRIMARY KEY,
			last_price TEXT NOT NULL,
			candles TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS grid_status (
			symbol TEXT PRIMARY KEY,
			open_orders TEXT NOT NULL DEFAULT '[]',
			levels TEXT NOT NULL DEFAULT '[]',
			setup_done INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_history (
			trade_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			amount TEXT NOT NULL,
			cost TEXT NOT NULL,
			fee TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			buy_id INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_ts ON trade_history(symbol, timestamp)`,
		`CREATE TABLE IF NOT EXISTS balance_history (
			timestamp INTEGER NOT NULL,
			exchange TEXT NOT NULL,
			equity TEXT NOT NULL,
			PRIMARY KEY (timestamp, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS bot_info (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pnl_backup (
			symbol TEXT PRIMARY KEY,
			pnl_value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pnl_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			pnl_value TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			name TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			api_key BLOB NOT NULL,
			secret_key BLOB NOT NULL,
			passphrase BLOB,
			use_testnet INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	if err := s.seedBotInfo(); err != nil {
		return err
	}
	return nil
}

func (s *Store) seedBotInfo() error {
	now := fmt.Sprintf("%d", nowUnixMilli())
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO bot_info (key, value) VALUES ('next_buy_id', '1'), ('first_run', ?)`,
		now,
	)
	return err
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

var _ core.Store = (*Store)(nil)
