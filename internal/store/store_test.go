package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
	"gridbot/internal/crypto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gridbot.db")
	keyring, err := crypto.NewKeyring(filepath.Join(t.TempDir(), ".encryption_key"))
	require.NoError(t, err)
	s, err := Open(dbPath, keyring)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveTradeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := core.Trade{
		ID: "t1", Symbol: "BTCUSDT", Side: core.SideBuy,
		Price: decimal.NewFromFloat(100), Amount: decimal.NewFromFloat(1),
		Cost: decimal.NewFromFloat(100), Fee: decimal.Zero, FeeAsset: "USDT",
		Timestamp: time.Now().UnixMilli(),
	}

	require.NoError(t, s.SaveTrade(ctx, trade))
	require.NoError(t, s.SaveTrade(ctx, trade))

	data, err := s.GetPairData(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, data.LastTrades, 1)
}

func TestNextBuyIDWrapsAt1000(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCounter(ctx, "next_buy_id", "1000"))

	id, err := s.NextBuyID(ctx)
	require.NoError(t, err)
	require.Equal(t, 1000, id)

	value, ok, err := s.GetCounter(ctx, "next_buy_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", value)
}

func TestArchiveSessionStatsNoOpOnEmptyBackup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	moved, err := s.ArchiveSessionStats(ctx)
	require.NoError(t, err)
	require.False(t, moved)
}

func TestArchiveSessionStatsMovesNonZeroRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdatePnLBackup(ctx, "BTCUSDT", decimal.NewFromFloat(12.5)))
	require.NoError(t, s.UpdatePnLBackup(ctx, "ETHUSDT", decimal.Zero))

	moved, err := s.ArchiveSessionStats(ctx)
	require.NoError(t, err)
	require.True(t, moved)

	pnl, err := s.GetAccumulatedPnL(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, pnl.Equal(decimal.NewFromFloat(12.5)))

	moved, err = s.ArchiveSessionStats(ctx)
	require.NoError(t, err)
	require.False(t, moved)
}

func TestBalanceSnapshotDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(0, 0)

	inserted, err := s.LogBalanceSnapshot(ctx, "ex", decimal.NewFromFloat(1000.00), base)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.LogBalanceSnapshot(ctx, "ex", decimal.NewFromFloat(1000.005), base.Add(30*time.Second))
	require.NoError(t, err)
	require.False(t, inserted, "within 50s and delta <= 0.01 must be rejected")

	inserted, err = s.LogBalanceSnapshot(ctx, "ex", decimal.NewFromFloat(1000.02), base.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, inserted, "delta > 0.01 must be accepted regardless of interval")

	inserted, err = s.LogBalanceSnapshot(ctx, "ex", decimal.NewFromFloat(1000.02), base.Add(120*time.Second))
	require.NoError(t, err)
	require.True(t, inserted, "interval >= 50s must be accepted regardless of delta")
}

func TestFindLinkedBuyID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	buyID := 42
	buy := core.Trade{
		ID: "buy1", Symbol: "BTCUSDT", Side: core.SideBuy,
		Price: decimal.NewFromFloat(99.60), Amount: decimal.NewFromFloat(1),
		Cost: decimal.NewFromFloat(99.60), Fee: decimal.Zero, FeeAsset: "USDT",
		Timestamp: time.Now().Add(-time.Minute).UnixMilli(), BuyID: &buyID,
	}
	require.NoError(t, s.SaveTrade(ctx, buy))

	id, ok, err := s.FindLinkedBuyID(ctx, "BTCUSDT", decimal.NewFromFloat(100.60), decimal.NewFromFloat(1.0))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, id)
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	apiKeyEnc, err := s.keyring.Encrypt([]byte("my-api-key"))
	require.NoError(t, err)
	secretEnc, err := s.keyring.Encrypt([]byte("my-secret"))
	require.NoError(t, err)

	require.NoError(t, s.UpsertCredential(ctx, core.StoredCredential{
		Name: "binance", Type: "binance",
		EncryptedAPIKey: apiKeyEnc, EncryptedSecret: secretEnc,
		Active: true,
	}))

	cred, err := s.GetCredential(ctx, "binance")
	require.NoError(t, err)
	require.Equal(t, "my-api-key", cred.APIKey)
	require.Equal(t, "my-secret", cred.SecretKey)

	summaries, err := s.GetExchanges(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.True(t, summaries[0].Active)
}
