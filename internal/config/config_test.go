package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")

	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ModeServe, c.Mode)
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, "S_DEPTH", c.DataType)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, 4*time.Hour, c.VolumeInterval)
	assert.Equal(t, 90*24*time.Hour, c.ReturnsLookback)
	assert.Equal(t, "1h", c.ReturnsTF)
	assert.Equal(t, "key", c.BinanceAPIKey)
	assert.True(t, c.HasBinanceKeys())
	assert.NoError(t, c.Validate())
}

func TestLoad_Flags(t *testing.T) {
	c, err := Load([]string{"-mode", "Returns", "-symbol", "ethusdt", "-top-n", "5", "-db-driver", "SQLite", "-db-conn-str", "x.db", "-returns-timeframe", "4H"})
	require.NoError(t, err)
	assert.Equal(t, ModeReturns, c.Mode)
	assert.Equal(t, "ETHUSDT", c.Symbol)
	assert.Equal(t, 5, c.TopN)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "4h", c.ReturnsTF)
	assert.NoError(t, c.Validate())

	_, err = Load([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestLoad_YAMLOverridesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: volume
symbol: solusdt
volume_interval: 2h
redis_addr: localhost:6379
enable_wallex: true
`), 0644))

	c, err := Load([]string{"-mode", "depth", "-top-n", "7", "-config", path})
	require.NoError(t, err)
	assert.Equal(t, ModeVolume, c.Mode)
	assert.Equal(t, "SOLUSDT", c.Symbol)
	assert.Equal(t, 2*time.Hour, c.VolumeInterval)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.True(t, c.EnableWallex)
	assert.Equal(t, 7, c.TopN, "keys absent from the file keep their flag values")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("top_n: [1"), 0644))

	_, err := Load([]string{"-config", path})
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c, err := Load(nil)
		require.NoError(t, err)
		c.BinanceAPIKey, c.BinanceSecretKey = "", ""
		c.DiscordToken, c.DiscordChannelID = "", ""
		c.TelegramToken, c.TelegramChatID = "", ""
		c.DBDriver, c.DBConnStr = "memory", ""
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "live" }, "unknown mode"},
		{"empty symbol", func(c *Config) { c.Symbol = "" }, "symbol"},
		{"depth without keys", func(c *Config) { c.Mode = ModeDepth }, "binance api key"},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, "max attempts"},
		{"postgres without dsn", func(c *Config) { c.DBDriver = "postgres" }, "db-conn-str"},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "unknown db driver"},
		{"discord half set", func(c *Config) { c.DiscordToken = "t" }, "discord"},
		{"telegram half set", func(c *Config) { c.TelegramChatID = "1" }, "telegram"},
		{"serve without addr", func(c *Config) { c.HTTPAddr = "" }, "http address"},
		{"zero schedule", func(c *Config) { c.VolumeInterval = 0 }, "schedule"},
		{"unknown timeframe", func(c *Config) { c.ReturnsTF = "2h" }, "1m, 5m, 15m, 30m, 1h, 4h, 1d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			require.NoError(t, c.Validate())
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
