package bootstrap

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"omc/internal/config"
)

// LoadConfig reads the YAML config when the file exists, falling back to
// defaults otherwise, then applies the pre-flight checks.
func LoadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight verifies environment conditions beyond schema validation.
func checkPreFlight(cfg *config.Config) error {
	// The SQLite driver will not create missing parent directories.
	if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("database directory %s: %w", dir, err)
		}
	}

	if cfg.RefData.Provider == "http" {
		u, err := url.Parse(cfg.RefData.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("refdata base_url %q is not an absolute URL", cfg.RefData.BaseURL)
		}
	}

	if cfg.Alerts.Enabled &&
		!cfg.Alerts.SlackWebhookURL.IsSet() &&
		(!cfg.Alerts.TelegramBotToken.IsSet() || cfg.Alerts.TelegramChatID == "") {
		return fmt.Errorf("alerts enabled but no channel configured")
	}

	return nil
}
