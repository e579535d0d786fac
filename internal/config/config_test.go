package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaultsAndYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
jwt:
  secret: s3cret
risk:
  survival_runway_days: 3
  fee_buffer_rate: "0.0004"
  model_retry_backoff: 250ms
  store_retries: 5
market:
  feed: manual
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3.0, cfg.Risk.SurvivalRunwayDays)
	assert.True(t, cfg.Risk.FeeBufferRate.Equal(decimal.RequireFromString("0.0004")))
	assert.True(t, cfg.Risk.SurvivalSizeFactor.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 250*time.Millisecond, cfg.Risk.ModelRetryBackoff)
	assert.Equal(t, 5, cfg.Risk.StoreRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Risk.StoreRetryBackoff)
	assert.Equal(t, 2, cfg.Risk.PriceRetries)
	assert.Equal(t, "0 * * * * *", cfg.Rollover.Schedule)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: s3cret\n")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("MARKET_FEED", "manual")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "manual", cfg.Market.Feed)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "auth enabled without secret")

	cfg.JWT.Secret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	cfg.Risk.SurvivalSizeFactor = decimal.NewFromInt(2)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "survival_size_factor")
}

func TestIsAdmin(t *testing.T) {
	auth := AuthConfig{AdminUsers: []string{"ops"}}
	assert.True(t, auth.IsAdmin("ops"))
	assert.False(t, auth.IsAdmin("trader"))
}
