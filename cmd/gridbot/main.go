// Command gridbot is the process entrypoint: it loads configuration, opens
// the store, wires the active exchange adapter, and runs the reconciliation
// loop, collector loop, background snapshot scheduler, and metrics reporter
// under one supervised errgroup, grounded on the teacher's cmd/live_server
// bootstrap wiring (internal/bootstrap.App.Run) adapted from the live HTTP
// server's runner set to the grid engine's own runners.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridbot/internal/alert"
	"gridbot/internal/bootstrap"
	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/crypto"
	"gridbot/internal/engine/gridengine"
	"gridbot/internal/exchange/binance"
	"gridbot/internal/exchange/mock"
	"gridbot/internal/scheduler"
	"gridbot/internal/store"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	dbPath := flag.String("db", "gridbot.db", "path to the sqlite database file")
	flag.Parse()

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gridbot: startup failed:", err)
		os.Exit(1)
	}
	logger := app.Logger

	keyring, err := crypto.NewKeyring(filepath.Join(filepath.Dir(*dbPath), ".encryption_key"))
	if err != nil {
		logger.Fatal("crypto keyring init failed", "error", err)
	}

	db, err := store.Open(*dbPath, keyring)
	if err != nil {
		logger.Fatal("store open failed", "error", err)
	}
	defer db.Close()

	if err := syncCredentials(context.Background(), db, app.Cfg, keyring); err != nil {
		logger.Fatal("credential sync failed", "error", err)
	}

	tel, err := telemetry.Setup("gridbot")
	if err != nil {
		logger.Fatal("telemetry setup failed", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	notifier := buildNotifier(app.Cfg, logger)

	exchangeName, exchangeCfg, ok := app.Cfg.ActiveExchange()
	if !ok {
		logger.Fatal("no active exchange configured")
	}
	venue := buildExchange(exchangeName, exchangeCfg, logger)

	cred, err := db.GetCredential(context.Background(), exchangeName)
	if err != nil {
		logger.Fatal("load active credential failed", "error", err)
	}
	if err := venue.Connect(context.Background(), cred); err != nil {
		logger.Fatal("exchange connect failed", "error", err)
	}

	engine := gridengine.New(venue, db, notifier, logger, app.Cfg)

	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		engine.ApplyConfig(context.Background(), next)
	})
	if err != nil {
		logger.Fatal("config watcher init failed", "error", err)
	}

	snapshotters := map[string]core.EquitySnapshotter{
		"binance": binance.Snapshotter,
		"mock":    mock.Snapshotter,
	}
	sched := scheduler.New(app.Cfg, db, snapshotters, []scheduler.VenueOwner{engine}, logger)

	if err := engine.Launch(context.Background()); err != nil {
		logger.Fatal("engine launch failed", "error", err)
	}

	runners := []bootstrap.Runner{
		gridengine.ReconcileRunner{Engine: engine},
		gridengine.CollectorRunner{Engine: engine},
		sched,
		watcherRunner{watcher},
		metricsReporter{engine: engine},
	}
	if app.Cfg.Telemetry.EnableMetrics {
		port := app.Cfg.Telemetry.MetricsPort
		if port == 0 {
			port = 9090
		}
		runners = append(runners, telemetry.NewServer(port, logger))
	}

	err = app.Run(runners...)
	if err != nil {
		logger.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

// syncCredentials mirrors every configured exchange into the store's
// encrypted credentials table so GetExchanges/GetCredential (used by both
// the engine's active venue and the background scheduler's passive venues)
// have something to read.
func syncCredentials(ctx context.Context, db *store.Store, cfg *config.Config, keyring *crypto.Keyring) error {
	for name, ex := range cfg.Exchanges {
		apiKey, err := keyring.Encrypt([]byte(string(ex.APIKey)))
		if err != nil {
			return fmt.Errorf("encrypt api key for %s: %w", name, err)
		}
		secret, err := keyring.Encrypt([]byte(string(ex.SecretKey)))
		if err != nil {
			return fmt.Errorf("encrypt secret key for %s: %w", name, err)
		}
		var passph []byte
		if ex.Passphrase != "" {
			passph, err = keyring.Encrypt([]byte(string(ex.Passphrase)))
			if err != nil {
				return fmt.Errorf("encrypt passphrase for %s: %w", name, err)
			}
		}
		stored := core.StoredCredential{
			Name:            name,
			Type:            ex.Type,
			EncryptedAPIKey: apiKey,
			EncryptedSecret: secret,
			EncryptedPassph: passph,
			UseTestnet:      cfg.System.UseTestnet,
			Active:          ex.Active,
		}
		if err := db.UpsertCredential(ctx, stored); err != nil {
			return fmt.Errorf("upsert credential %s: %w", name, err)
		}
	}
	return nil
}

func buildExchange(name string, ex *config.ExchangeConfig, logger core.Logger) core.Exchange {
	switch ex.Type {
	case "mock":
		return mock.New(name, decimal.NewFromInt(10000))
	default:
		return binance.New(logger)
	}
}

func buildNotifier(cfg *config.Config, logger core.Logger) *alert.Manager {
	manager := alert.NewManager(logger)
	if cfg.System.TelegramEnabled {
		if token := os.Getenv("GRIDBOT_TELEGRAM_TOKEN"); token != "" {
			manager.AddChannel(alert.NewTelegramChannel(token, os.Getenv("GRIDBOT_TELEGRAM_CHAT_ID")))
		}
	}
	if webhook := os.Getenv("GRIDBOT_SLACK_WEBHOOK"); webhook != "" {
		manager.AddChannel(alert.NewSlackChannel(webhook))
	}
	return manager
}

// watcherRunner adapts config.Watcher's stop-channel shape to bootstrap.Runner.
type watcherRunner struct{ w *config.Watcher }

func (r watcherRunner) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return r.w.Run(stop)
}

// metricsReporter periodically pushes the engine's Status() into the
// Prometheus-backed instrument set on a short, fixed cadence.
type metricsReporter struct{ engine *gridengine.Engine }

func (r metricsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	metrics := telemetry.GetGlobalMetrics()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status := r.engine.Status()
			for symbol, pnl := range status.SessionPnL {
				metrics.SetSessionPnL(symbol, pnl.InexactFloat64())
			}
			for symbol, pnl := range status.GlobalPnL {
				metrics.SetGlobalPnL(symbol, pnl.InexactFloat64())
			}
		}
	}
}

