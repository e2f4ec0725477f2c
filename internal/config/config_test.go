package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "hr-import.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 10, cfg.Store.MaxConns)
	assert.Equal(t, "CI", cfg.Import.Country)
	assert.Equal(t, 168, cfg.Import.PlanTTLHours)
	assert.Equal(t, 7*24*time.Hour, cfg.Import.PlanTTL())
	assert.Equal(t, 4, cfg.Import.Concurrency)
	assert.InDelta(t, 2.0, cfg.Import.RatePerSec, 0.001)
	assert.Equal(t, 30*time.Second, cfg.Import.OracleTimeout)
	assert.True(t, cfg.Import.PlanCacheSweeps)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/hr
log:
  level: debug
  format: console
import:
  country: SN
  allow_partial: true
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/hr", cfg.Store.DatabaseURL)
	assert.Equal(t, "SN", cfg.Import.Country)
	assert.True(t, cfg.Import.AllowPartial)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Import.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HRIMPORT_STORE_DRIVER", "postgres")
	t.Setenv("HRIMPORT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("HRIMPORT_SERVER_PORT", "3000")
	t.Setenv("HRIMPORT_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "hr-import.db"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Import.Concurrency = 4
	cfg.Import.RatePerSec = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateImport_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("import"))
}

func TestValidateImport_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateImport_BadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateImport_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Import.Concurrency = 0
	err := cfg.Validate("import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be between 1 and 16")

	cfg.Import.Concurrency = 17
	err = cfg.Validate("import")
	require.Error(t, err)

	cfg.Import.Concurrency = 16
	assert.NoError(t, cfg.Validate("import"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
