// Package config handles configuration loading, validation and hot-reload.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration document.
type Config struct {
	System          SystemConfig              `yaml:"system"`
	DefaultStrategy StrategyConfig            `yaml:"default_strategy"`
	Pairs           []PairConfig              `yaml:"pairs"`
	Exchanges       map[string]ExchangeConfig `yaml:"exchanges"`
	Telemetry       TelemetryConfig           `yaml:"telemetry"`
}

// SystemConfig carries process-wide flags.
type SystemConfig struct {
	UseTestnet      bool   `yaml:"use_testnet"`
	CycleDelay      int    `yaml:"cycle_delay" validate:"required,min=1,max=3600"`
	LogLevel        string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	DataRetainDays  int    `yaml:"data_retain_days" validate:"min=1,max=3650"`
}

// StrategyConfig is the per-pair grid strategy; also used as the default.
type StrategyConfig struct {
	GridsQuantity   int     `yaml:"grids_quantity" validate:"required,min=2"`
	GridSpread      float64 `yaml:"grid_spread" validate:"required,gt=0"`
	AmountPerGrid   float64 `yaml:"amount_per_grid" validate:"required,gt=0"`
	TrailingEnabled bool    `yaml:"trailing_enabled"`
	StartMode       string  `yaml:"start_mode" validate:"oneof=wait buy_1 buy_2"`
}

// PairConfig is one entry in the enabled-pair list.
type PairConfig struct {
	Symbol   string          `yaml:"symbol" validate:"required"`
	Enabled  bool            `yaml:"enabled"`
	Strategy *StrategyConfig `yaml:"strategy,omitempty"`
}

// Effective returns the pair's strategy, default fields filled in from d.
func (p PairConfig) Effective(d StrategyConfig) StrategyConfig {
	if p.Strategy == nil {
		return d
	}
	s := *p.Strategy
	if s.GridsQuantity == 0 {
		s.GridsQuantity = d.GridsQuantity
	}
	if s.GridSpread == 0 {
		s.GridSpread = d.GridSpread
	}
	if s.AmountPerGrid == 0 {
		s.AmountPerGrid = d.AmountPerGrid
	}
	if s.StartMode == "" {
		s.StartMode = d.StartMode
	}
	return s
}

// ExchangeConfig holds one venue's connection parameters. APIKey/SecretKey
// are read in plaintext from the config file (after env-var expansion);
// cmd/gridbot copies them encrypted into the store's credentials table
// (see internal/crypto, internal/store).
type ExchangeConfig struct {
	Type       string `yaml:"type" validate:"required,oneof=binance mock"`
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	Passphrase Secret `yaml:"passphrase"`
	BaseURL    string `yaml:"base_url"`
	Active     bool   `yaml:"active"`
}

// TelemetryConfig controls the metrics exporter.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads filename, expands environment variables, parses and validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs structural validation beyond what struct tags check.
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateDefaultStrategy(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validatePairs(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchanges(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{Field: "system.log_level", Value: c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", "))}
	}
	if c.System.CycleDelay <= 0 {
		return ValidationError{Field: "system.cycle_delay", Value: c.System.CycleDelay,
			Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateDefaultStrategy() error {
	return validateStrategy("default_strategy", c.DefaultStrategy)
}

func validateStrategy(prefix string, s StrategyConfig) error {
	if s.GridsQuantity < 2 || s.GridsQuantity%2 != 0 {
		return ValidationError{Field: prefix + ".grids_quantity", Value: s.GridsQuantity,
			Message: "must be even and at least 2"}
	}
	if s.GridSpread <= 0 {
		return ValidationError{Field: prefix + ".grid_spread", Value: s.GridSpread,
			Message: "must be positive"}
	}
	if s.AmountPerGrid <= 0 {
		return ValidationError{Field: prefix + ".amount_per_grid", Value: s.AmountPerGrid,
			Message: "must be positive"}
	}
	switch s.StartMode {
	case "wait", "buy_1", "buy_2", "":
	default:
		return ValidationError{Field: prefix + ".start_mode", Value: s.StartMode,
			Message: "must be one of: wait, buy_1, buy_2"}
	}
	return nil
}

func (c *Config) validatePairs() error {
	if len(c.Pairs) == 0 {
		return ValidationError{Field: "pairs", Message: "at least one pair must be configured"}
	}
	for _, p := range c.Pairs {
		if p.Symbol == "" {
			return ValidationError{Field: "pairs[].symbol", Message: "symbol is required"}
		}
		if p.Strategy != nil {
			merged := p.Effective(c.DefaultStrategy)
			if err := validateStrategy(fmt.Sprintf("pairs.%s.strategy", p.Symbol), merged); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) validateExchanges() error {
	if len(c.Exchanges) == 0 {
		return ValidationError{Field: "exchanges", Message: "at least one exchange must be configured"}
	}
	for name, ex := range c.Exchanges {
		if ex.Type == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.type", name), Message: "type is required"}
		}
		if ex.Type != "mock" && (ex.APIKey == "" || ex.SecretKey == "") {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s", name),
				Message: "api_key and secret_key are required for non-mock venues"}
		}
	}
	return nil
}

// ActiveExchange returns the name and config of the single exchange marked active.
func (c *Config) ActiveExchange() (string, *ExchangeConfig, bool) {
	for name, ex := range c.Exchanges {
		if ex.Active {
			e := ex
			return name, &e, true
		}
	}
	return "", nil, false
}

// String renders the configuration with secrets redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a configuration suitable for tests.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			UseTestnet:     true,
			CycleDelay:     5,
			LogLevel:       "INFO",
			DataRetainDays: 30,
		},
		DefaultStrategy: StrategyConfig{
			GridsQuantity:   10,
			GridSpread:      1.0,
			AmountPerGrid:   20.0,
			TrailingEnabled: true,
			StartMode:       "wait",
		},
		Pairs: []PairConfig{
			{Symbol: "BTCUSDT", Enabled: true},
		},
		Exchanges: map[string]ExchangeConfig{
			"binance": {
				Type:      "mock",
				APIKey:    "test_api_key",
				SecretKey: "test_secret_key",
				Active:    true,
			},
		},
	}
}
