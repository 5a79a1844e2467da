package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 500, c.Engine.MaxHistorySize)
	assert.Equal(t, 10*time.Second, c.Engine.UpdateInterval)
	assert.Equal(t, 60*time.Second, c.Engine.PersistInterval)
	assert.Equal(t, 200, c.Binance.StreamLimit)
	assert.Equal(t, 5*time.Second, c.Binance.ReconnectDelay)
	assert.Equal(t, 3.0, c.Indicators.VolatileThreshold)
	assert.Equal(t, 0.01, c.Strategy.KellyMin)
	assert.Equal(t, 0.25, c.Strategy.KellyMax)
	assert.Equal(t, 1.2, c.Selector.ProfitMaxMultiplier)
	assert.Equal(t, 95.0, c.Selector.MaxConfidence)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Engine.Symbols)
	assert.Equal(t, BackendMemory, c.Storage.TickBackend)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
engine:
  symbols: [SOLUSDT]
  update_interval: 2s
selector:
  agreement_bonus: 7
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, []string{"SOLUSDT"}, c.Engine.Symbols)
	assert.Equal(t, 2*time.Second, c.Engine.UpdateInterval)
	assert.Equal(t, 7.0, c.Selector.AgreementBonus)
	assert.Equal(t, 500, c.Engine.MaxHistorySize)
}

func TestValidateCrossField(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"kafka without brokers", "storage:\n  tick_backend: kafka\n"},
		{"postgres without dsn", "storage:\n  state_backend: postgres\n"},
		{"redis cache without redis", "cache:\n  backend: redis\n"},
		{"kelly bounds inverted", "strategy:\n  kelly_min: 0.5\n  kelly_max: 0.2\n"},
		{"bad tick backend", "storage:\n  tick_backend: mongo\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("SYMBOLS", "btcusdt, xrpusdt ,")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"btcusdt", "xrpusdt"}, c.Engine.Symbols)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache:6380", c.RedisAddr())
	assert.Equal(t, "debug", c.Log.Level)
}
