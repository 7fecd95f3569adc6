// Package gridengine implements the grid-trading orchestrator: lazy ladder
// materialization, reconciliation against live exchange orders, trade
// ingestion with buy/sell PnL linkage, and the collector loop that keeps
// the store's read-models fresh.
package gridengine

import "gridbot/internal/config"

// SymbolConfig is one enabled pair with its resolved strategy.
type SymbolConfig struct {
	Symbol   string
	Strategy config.StrategyConfig
}

// resolveSymbols filters the enabled pairs out of cfg and resolves each
// pair's effective strategy (per-pair override merged over the default).
func resolveSymbols(cfg *config.Config) []SymbolConfig {
	out := make([]SymbolConfig, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		if !p.Enabled {
			continue
		}
		out = append(out, SymbolConfig{Symbol: p.Symbol, Strategy: p.Effective(cfg.DefaultStrategy)})
	}
	return out
}

// venueKey is the balance_history exchange identifier: the configured
// venue name, suffixed when the system-wide testnet flag is set.
func venueKey(name string, useTestnet bool) string {
	if useTestnet {
		return name + "-testnet"
	}
	return name
}
