package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:  "expand single env var",
			input: "api_key: ${TEST_API_KEY}",
			envVars: map[string]string{
				"TEST_API_KEY": "test_key_123",
			},
			expected: "api_key: test_key_123",
		},
		{
			name:  "expand multiple env vars",
			input: "base_url: ${REFDATA_URL}\napi_key: ${REFDATA_KEY}",
			envVars: map[string]string{
				"REFDATA_URL": "http://refdata.internal",
				"REFDATA_KEY": "secret_value",
			},
			expected: "base_url: http://refdata.internal\napi_key: secret_value",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "api_key: ",
		},
		{
			name:  "mixed static and env vars",
			input: "static_value: 123\napi_key: ${TEST_KEY}",
			envVars: map[string]string{
				"TEST_KEY": "dynamic_key",
			},
			expected: "static_value: 123\napi_key: dynamic_key",
		},
		{
			name:     "missing var falls back to default",
			input:    "port: ${UNSET_PORT:8080}",
			envVars:  map[string]string{},
			expected: "port: 8080",
		},
		{
			name:  "set var wins over default",
			input: "port: ${SET_PORT:8080}",
			envVars: map[string]string{
				"SET_PORT": "9000",
			},
			expected: "port: 9000",
		},
		{
			name:     "empty default yields empty string",
			input:    "webhook: ${UNSET_WEBHOOK:}",
			envVars:  map[string]string{},
			expected: "webhook: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set up environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	// Create a temporary config file with env var placeholders
	tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	configContent := `database:
  path: "${TEST_OMC_DB_PATH}"

refdata:
  provider: http
  base_url: "${TEST_REFDATA_URL}"
  api_key: "${TEST_REFDATA_KEY}"

settlement:
  delay_ms: 2500

system:
  log_level: "DEBUG"
  log_format: "json"
`

	_, err = tmpFile.Write([]byte(configContent))
	require.NoError(t, err)
	tmpFile.Close()

	// Set environment variables
	os.Setenv("TEST_OMC_DB_PATH", "/tmp/orders-test.db")
	os.Setenv("TEST_REFDATA_URL", "http://refdata.internal:7000")
	os.Setenv("TEST_REFDATA_KEY", "key_from_env")
	defer os.Unsetenv("TEST_OMC_DB_PATH")
	defer os.Unsetenv("TEST_REFDATA_URL")
	defer os.Unsetenv("TEST_REFDATA_KEY")

	// Load config
	config, err := LoadConfig(tmpFile.Name())
	require.NoError(t, err, "LoadConfig() error")

	// Verify environment variables were expanded
	assert.Equal(t, "/tmp/orders-test.db", config.Database.Path)
	assert.Equal(t, "http://refdata.internal:7000", config.RefData.BaseURL)
	assert.Equal(t, Secret("key_from_env"), config.RefData.APIKey)

	// Non-overridden sections keep their defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 4, config.Engine.Workers)
	assert.Equal(t, 500, config.Settlement.PollIntervalMS)

	// Overridden values win
	assert.Equal(t, 2500, config.Settlement.DelayMS)
	assert.Equal(t, "DEBUG", config.System.LogLevel)
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	// Demo seed data carries an active and a suspended investor plus an
	// active and an inactive asset.
	require.Len(t, cfg.RefData.Investors, 2)
	require.Len(t, cfg.RefData.Assets, 2)
	assert.Equal(t, "Active", cfg.RefData.Investors[0].AccountStatus)
	assert.True(t, cfg.RefData.Assets[0].Active)
	assert.False(t, cfg.RefData.Assets[1].Active)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{"bad server port", func(cfg *Config) { cfg.Server.Port = 0 }, "server.port"},
		{"negative submit rate", func(cfg *Config) { cfg.Server.SubmitRateLimit = -1 }, "server.submit_rate_limit"},
		{"missing db path", func(cfg *Config) { cfg.Database.Path = "" }, "database.path"},
		{"zero workers", func(cfg *Config) { cfg.Engine.Workers = 0 }, "engine.workers"},
		{"zero attempts", func(cfg *Config) { cfg.Engine.MaxAttempts = 0 }, "engine.max_attempts"},
		{"zero settlement delay", func(cfg *Config) { cfg.Settlement.DelayMS = 0 }, "settlement.delay_ms"},
		{"unknown provider", func(cfg *Config) { cfg.RefData.Provider = "ldap" }, "refdata.provider"},
		{"http provider without url", func(cfg *Config) { cfg.RefData.Provider = "http"; cfg.RefData.BaseURL = "" }, "refdata.base_url"},
		{"bad account status", func(cfg *Config) { cfg.RefData.Investors[0].AccountStatus = "Frozen" }, "refdata.investors[0].account_status"},
		{"bad asset price", func(cfg *Config) { cfg.RefData.Assets[0].CurrentPrice = "fifty" }, "refdata.assets[0].current_price"},
		{"bad log level", func(cfg *Config) { cfg.System.LogLevel = "VERBOSE" }, "system.log_level"},
		{"bad log format", func(cfg *Config) { cfg.System.LogFormat = "xml" }, "system.log_format"},
		{"stream enabled with zero clients", func(cfg *Config) { cfg.Stream.MaxClients = 0 }, "stream.max_clients"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_StreamDisabledSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Enabled = false
	cfg.Stream.Port = 0
	cfg.Stream.MaxClients = 0
	assert.NoError(t, cfg.Validate())
}

func TestConfig_String(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefData.APIKey = Secret("my_super_secret_api_key")

	output := cfg.String()

	// 1. Check the redaction marker is present
	assert.Contains(t, output, "[REDACTED]", "output should contain the redaction marker")

	// 2. Ensure full cleartext is GONE
	assert.NotContains(t, output, "my_super_secret_api_key", "output should NOT contain the API key")

	// 3. Ensure partial content is NOT leaked
	assert.NotContains(t, output, "my_s", "output should NOT contain partial secret parts")
}
