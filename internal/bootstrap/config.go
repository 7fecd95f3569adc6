package bootstrap

import (
	"fmt"

	"gridbot/internal/config"
)

// Config is an alias for the project's main configuration struct.
type Config = config.Config

// LoadConfig delegates to the project's config loader and runs the
// additional pre-flight checks a bare schema validation can't express.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation: the
// active exchange, if not mock, must carry both credential fields.
func checkPreFlight(cfg *Config) error {
	name, ex, ok := cfg.ActiveExchange()
	if !ok {
		return fmt.Errorf("no active exchange configured")
	}
	if ex.Type != "mock" && (ex.APIKey == "" || ex.SecretKey == "") {
		return fmt.Errorf("active exchange %q is missing api_key/secret_key", name)
	}
	return nil
}
