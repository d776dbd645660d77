package bootstrap

import (
	"omc/internal/config"
	"omc/internal/core"
	"omc/pkg/logging"
)

// InitLogger builds the zap-backed logger from configuration and installs it
// as the package-level default.
func InitLogger(cfg *config.Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel, cfg.System.LogFormat)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
