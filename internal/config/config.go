// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/tfutils"
	"github.com/amirphl/depth-analytics/internal/utils"
	"gopkg.in/yaml.v3"
)

/*
YAML config example:
mode: "serve"
symbol: "BTCUSDT"
data_type: "S_DEPTH"
download_dir: "downloads"
binance_api_key: "..."
binance_secret_key: "..."
discord_token: "..."
discord_channel_id: "123456789"
db_driver: "sqlite"
db_conn_str: "depth.db"
redis_addr: "localhost:6379"
redis_ttl: "4h"
http_addr: ":8080"
depth_interval: "24h"
volume_interval: "4h"
returns_timeframe: "1h"
log_level: "info"
*/

const (
	ModeServe   = "serve"
	ModeDepth   = "depth"
	ModeVolume  = "volume"
	ModeReturns = "returns"
)

type Config struct {
	Mode     string `yaml:"mode"`
	Symbol   string `yaml:"symbol"`
	DataType string `yaml:"data_type"`

	DownloadDir    string        `yaml:"download_dir"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	KeepDayOnError bool          `yaml:"keep_day_on_error"`

	BinanceAPIKey    string        `yaml:"binance_api_key"`
	BinanceSecretKey string        `yaml:"binance_secret_key"`
	BinanceSpotURL   string        `yaml:"binance_spot_url"`
	BinanceUSDMURL   string        `yaml:"binance_usdm_url"`
	BinanceCOINMURL  string        `yaml:"binance_coinm_url"`
	BybitURL         string        `yaml:"bybit_url"`
	WallexAPIKey     string        `yaml:"wallex_api_key"`
	EnableWallex     bool          `yaml:"enable_wallex"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	DiscordToken        string        `yaml:"discord_token"`
	DiscordChannelID    string        `yaml:"discord_channel_id"`
	TelegramToken       string        `yaml:"telegram_token"`
	TelegramChatID      string        `yaml:"telegram_chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`

	DBDriver  string `yaml:"db_driver"`
	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	CacheFile     string        `yaml:"cache_file"`

	HTTPAddr        string        `yaml:"http_addr"`
	DepthInterval   time.Duration `yaml:"depth_interval"`
	VolumeInterval  time.Duration `yaml:"volume_interval"`
	VolumeMaxAge    time.Duration `yaml:"volume_max_age"`
	ReturnsLookback time.Duration `yaml:"returns_lookback"`
	ReturnsTF       string        `yaml:"returns_timeframe"`
	TopN            int           `yaml:"top_n"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// HasBinanceKeys reports whether signed Binance endpoints can be used.
func (c Config) HasBinanceKeys() bool {
	return c.BinanceAPIKey != "" && c.BinanceSecretKey != ""
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Load parses args (without the program name). Secrets default to their
// environment variables. A -config YAML file overrides whatever keys it sets.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("depth-analytics", flag.ContinueOnError)

	var c Config
	fs.StringVar(&c.Mode, "mode", ModeServe, "Mode: serve, depth, volume or returns")
	fs.StringVar(&c.Symbol, "symbol", "BTCUSDT", "Symbol for depth and returns")
	fs.StringVar(&c.DataType, "data-type", "S_DEPTH", "Binance historical data type")
	fs.StringVar(&c.DownloadDir, "download-dir", "downloads", "Directory for downloaded archives")
	fs.IntVar(&c.MaxAttempts, "max-attempts", 3, "Archive download attempts, one day back each time")
	fs.DurationVar(&c.RetryDelay, "retry-delay", 0, "Pause between download attempts")
	fs.BoolVar(&c.KeepDayOnError, "keep-day-on-error", false, "Retry the same day after transport errors instead of stepping back")

	fs.StringVar(&c.BinanceAPIKey, "binance-api-key", os.Getenv("BINANCE_API_KEY"), "Binance API key")
	fs.StringVar(&c.BinanceSecretKey, "binance-secret-key", os.Getenv("BINANCE_SECRET_KEY"), "Binance secret key")
	fs.StringVar(&c.BinanceSpotURL, "binance-spot-url", "", "Binance spot REST base URL")
	fs.StringVar(&c.BinanceUSDMURL, "binance-usdm-url", "", "Binance USD-M futures REST base URL")
	fs.StringVar(&c.BinanceCOINMURL, "binance-coinm-url", "", "Binance COIN-M futures REST base URL")
	fs.StringVar(&c.BybitURL, "bybit-url", "", "Bybit REST base URL")
	fs.StringVar(&c.WallexAPIKey, "wallex-api-key", os.Getenv("WALLEX_API_KEY"), "Wallex API key")
	fs.BoolVar(&c.EnableWallex, "enable-wallex", false, "Rank Wallex markets too")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 30*time.Second, "Exchange request timeout")

	fs.StringVar(&c.DiscordToken, "discord-token", os.Getenv("DISCORD_TOKEN"), "Discord bot token")
	fs.StringVar(&c.DiscordChannelID, "discord-channel", os.Getenv("DISCORD_CHANNEL_ID"), "Discord channel ID")
	fs.StringVar(&c.TelegramToken, "telegram-token", os.Getenv("TELEGRAM_TOKEN"), "Telegram bot token")
	fs.StringVar(&c.TelegramChatID, "telegram-chat", os.Getenv("TELEGRAM_CHAT_ID"), "Telegram chat ID")
	fs.IntVar(&c.NotificationRetries, "notification-retries", 3, "Number of notification send attempts")
	fs.DurationVar(&c.NotificationDelay, "notification-delay", 5*time.Second, "Delay between notification retries")

	fs.StringVar(&c.DBDriver, "db-driver", envOr("DB_DRIVER", "memory"), "Storage: memory, sqlite or postgres")
	fs.StringVar(&c.DBConnStr, "db-conn-str", os.Getenv("DB_CONN_STR"), "Postgres DSN or SQLite file path")
	fs.IntVar(&c.DBMaxOpen, "db-max-open", 10, "Max open DB connections")
	fs.IntVar(&c.DBMaxIdle, "db-max-idle", 5, "Max idle DB connections")

	fs.StringVar(&c.RedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address; empty uses the file cache")
	fs.StringVar(&c.RedisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", envInt("REDIS_DB", 0), "Redis database")
	fs.DurationVar(&c.RedisTTL, "redis-ttl", 8*time.Hour, "Redis cache TTL")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "depth-analytics:", "Redis key prefix")
	fs.StringVar(&c.CacheFile, "cache-file", "volume_data_cache.json", "Volume cache file")

	fs.StringVar(&c.HTTPAddr, "http-addr", ":8080", "Dashboard API listen address")
	fs.DurationVar(&c.DepthInterval, "depth-interval", 24*time.Hour, "Depth pipeline schedule")
	fs.DurationVar(&c.VolumeInterval, "volume-interval", 4*time.Hour, "Volume refresh schedule, aligned to UTC boundaries")
	fs.DurationVar(&c.VolumeMaxAge, "volume-max-age", 4*time.Hour, "Age after which a cached snapshot is refreshed")
	fs.DurationVar(&c.ReturnsLookback, "returns-lookback", 90*24*time.Hour, "Returns lookback window")
	fs.StringVar(&c.ReturnsTF, "returns-timeframe", "1h", "Kline timeframe for the returns analysis")
	fs.IntVar(&c.TopN, "top-n", 10, "Markets per volume ranking")

	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level")
	fs.StringVar(&c.LogFile, "log-file", "", "Also write logs to this file")

	configFile := fs.String("config", "", "Path to YAML config file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.ReturnsTF = strings.ToLower(strings.TrimSpace(c.ReturnsTF))
	return c, nil
}

// Validate checks the values the selected mode needs.
func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeServe, ModeDepth, ModeVolume, ModeReturns:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol cannot be empty"))
	}
	if c.Mode == ModeDepth && !c.HasBinanceKeys() {
		errs = append(errs, errors.New("depth mode needs binance api key and secret"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.TopN <= 0 {
		errs = append(errs, errors.New("top-n must be positive"))
	}
	if !tfutils.IsValidTimeframe(c.ReturnsTF) {
		errs = append(errs, fmt.Errorf("unsupported returns timeframe %q, use one of %s",
			c.ReturnsTF, strings.Join(tfutils.GetSupportedTimeframes(), ", ")))
	}

	switch c.DBDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.DBConnStr == "" {
			errs = append(errs, fmt.Errorf("%s storage needs db-conn-str", c.DBDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DBDriver))
	}

	if (c.DiscordToken == "") != (c.DiscordChannelID == "") {
		errs = append(errs, errors.New("discord needs both token and channel"))
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("telegram needs both token and chat"))
	}

	if c.Mode == ModeServe {
		if c.HTTPAddr == "" {
			errs = append(errs, errors.New("http address cannot be empty"))
		}
		if c.DepthInterval <= 0 || c.VolumeInterval <= 0 {
			errs = append(errs, errors.New("schedule intervals must be positive"))
		}
	}

	return errors.Join(errs...)
}

// MustLoadConfig loads and validates the command line configuration and
// exits on failure.
func MustLoadConfig() Config {
	c, err := Load(os.Args[1:])
	if err != nil {
		utils.GetLogger().Fatalf("Failed to load config: %v", err)
	}
	if err := c.Validate(); err != nil {
		utils.GetLogger().Fatalf("Invalid config: %v", err)
	}
	return c
}
