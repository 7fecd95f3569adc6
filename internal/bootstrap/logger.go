package bootstrap

import (
	"gridbot/internal/core"
	"gridbot/pkg/logging"
)

// InitLogger builds the process-wide structured logger from system.log_level.
func InitLogger(cfg *Config) core.Logger {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fallback, _ := logging.NewZapLogger("INFO")
		return fallback
	}
	logging.SetGlobalLogger(logger)
	return logger
}
