package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirphl/depth-analytics/internal/cache"
	"github.com/amirphl/depth-analytics/internal/config"
	"github.com/amirphl/depth-analytics/internal/db"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/downloader"
	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/notifier"
	"github.com/amirphl/depth-analytics/internal/scheduler"
	"github.com/amirphl/depth-analytics/internal/server"
	"github.com/amirphl/depth-analytics/internal/service"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg := config.MustLoadConfig()
	if err := utils.ConfigureLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		utils.GetLogger().Fatalf("Failed to configure logger: %v", err)
	}
	log := utils.GetLogger()
	log.Infof("Starting depth-analytics in mode: %s", cfg.Mode)

	broker := journal.NewBroker(500)
	log.AddHook(utils.NewEventHook(broker, logrus.InfoLevel))

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received signal %v, shutting down...", sig)
		cancel()
	}()

	m := metrics.New()

	storage, err := db.Open(ctx, cfg.DBDriver, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer storage.Close()
	log.Infof("Storage ready (%s)", cfg.DBDriver)

	n := buildNotifier(cfg, m)
	binance := exchange.NewBinance(exchange.BinanceConfig{
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		SpotURL:   cfg.BinanceSpotURL,
		USDMURL:   cfg.BinanceUSDMURL,
		COINMURL:  cfg.BinanceCOINMURL,
		Timeout:   cfg.RequestTimeout,
	})

	switch cfg.Mode {
	case config.ModeDepth:
		err = runDepth(ctx, cfg, binance, storage, n, m, os.Stdout)
	case config.ModeVolume:
		err = runVolume(ctx, cfg, binance, storage, n, m, os.Stdout)
	case config.ModeReturns:
		err = runReturns(ctx, cfg, binance, os.Stdout)
	case config.ModeServe:
		err = runServe(ctx, cfg, binance, storage, broker, n, m)
	default:
		err = fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%s failed: %v", cfg.Mode, err)
	}
	log.Info("Shutdown complete")
}

// buildNotifier fans out to every configured channel.
func buildNotifier(cfg config.Config, m *metrics.Metrics) notifier.Notifier {
	policy := notifier.RetryPolicy{Attempts: cfg.NotificationRetries, Delay: cfg.NotificationDelay}

	var channels []notifier.Notifier
	if cfg.DiscordToken != "" {
		channels = append(channels, notifier.NewDiscordNotifier(cfg.DiscordToken, cfg.DiscordChannelID, policy, m))
	}
	if cfg.TelegramToken != "" {
		channels = append(channels, notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, policy, m))
	}
	if len(channels) == 0 {
		utils.GetLogger().Warn("No notification channel configured")
		return notifier.Noop{}
	}
	return notifier.NewMulti(policy, channels...)
}

// buildCache prefers Redis and falls back to the JSON file cache.
func buildCache(cfg config.Config) cache.Cache {
	if cfg.RedisAddr != "" {
		r, err := cache.NewRedisAdapter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL, cfg.RedisPrefix)
		if err == nil {
			utils.GetLogger().Infof("Using Redis cache at %s", cfg.RedisAddr)
			return r
		}
		utils.GetLogger().Warnf("Redis unavailable, using %s: %v", cfg.CacheFile, err)
	}
	return cache.NewFile(cfg.CacheFile)
}

func newDepthService(cfg config.Config, binance *exchange.Binance, storage db.Storage, n notifier.Notifier, m *metrics.Metrics) *service.DepthService {
	dl := downloader.New(binance, downloader.Config{
		Dir:            cfg.DownloadDir,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
		KeepDayOnError: cfg.KeepDayOnError,
	}, m)
	prices := exchange.ClosePriceProvider{Source: binance, Symbol: cfg.Symbol}
	return service.NewDepthService(service.DepthConfig{Symbol: cfg.Symbol, DataType: cfg.DataType}, dl, prices, storage, n, m)
}

func newVolumeService(cfg config.Config, binance *exchange.Binance, c cache.Cache, storage db.Storage, n notifier.Notifier, m *metrics.Metrics) *service.VolumeService {
	src := service.VolumeSources{
		Binance: binance,
		Bybit:   exchange.NewBybit(exchange.BybitConfig{BaseURL: cfg.BybitURL, Timeout: cfg.RequestTimeout}),
	}
	if cfg.EnableWallex {
		src.Wallex = exchange.NewWallex(cfg.WallexAPIKey)
	}
	return service.NewVolumeService(src, cfg.TopN, c, storage, storage, n, m)
}

// runDepth processes the latest day once and prints the intervals as CSV.
func runDepth(ctx context.Context, cfg config.Config, binance *exchange.Binance, storage db.Storage, n notifier.Notifier, m *metrics.Metrics, out io.Writer) error {
	run, err := newDepthService(cfg, binance, storage, n, m).Run(ctx)
	if err != nil {
		return err
	}
	utils.GetLogger().Infof("Depth run %s: %d intervals for %s", run.ID, len(run.Results), run.Start.Format("2006-01-02"))
	return writeCSV(out, run.Results)
}

func writeCSV(out io.Writer, results []depth.IntervalResult) error {
	w := csv.NewWriter(out)
	if err := w.Write(depth.Columns); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(r.Record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func runVolume(ctx context.Context, cfg config.Config, binance *exchange.Binance, storage db.Storage, n notifier.Notifier, m *metrics.Metrics, out io.Writer) error {
	c := buildCache(cfg)
	defer c.Close()

	snap, err := newVolumeService(cfg, binance, c, storage, n, m).Refresh(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, volume.Format(*snap))
	return err
}

func runReturns(ctx context.Context, cfg config.Config, binance *exchange.Binance, out io.Writer) error {
	res, err := service.NewReturnsService(binance, cfg.ReturnsTF, cfg.ReturnsLookback).Compute(ctx, cfg.Symbol, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s returns, %d %s candles from %s to %s\n\n", res.Symbol, res.Candles, cfg.ReturnsTF,
		res.Start.Format("2006-01-02 15:04"), res.End.Format("2006-01-02 15:04"))
	_, err = fmt.Fprint(out, res.Result.Table())
	return err
}

// runServe starts the dashboard API with the depth and volume schedules
// until ctx is cancelled.
func runServe(ctx context.Context, cfg config.Config, binance *exchange.Binance, storage db.Storage, broker *journal.Broker, n notifier.Notifier, m *metrics.Metrics) error {
	log := utils.GetLogger()
	c := buildCache(cfg)
	defer c.Close()

	sched := scheduler.New()
	deps := server.Deps{
		Returns: service.NewReturnsService(binance, cfg.ReturnsTF, cfg.ReturnsLookback),
		Broker:  broker,
		Journal: storage,
		Metrics: m,
		Trigger: sched.RunNow,
	}

	if cfg.HasBinanceKeys() {
		depthSvc := newDepthService(cfg, binance, storage, n, m)
		deps.Depth = depthSvc

		var opts []scheduler.Option
		opts = append(opts, scheduler.Aligned())
		if _, err := depthSvc.Latest(ctx, ""); errors.Is(err, db.ErrNotFound) {
			opts = append(opts, scheduler.Immediately())
		}
		if err := sched.Every("depth", cfg.DepthInterval, func(ctx context.Context) error {
			_, err := depthSvc.Run(ctx)
			return err
		}, opts...); err != nil {
			return err
		}
	} else {
		log.Warn("Binance API key or secret missing, depth pipeline disabled")
	}

	volumeSvc := newVolumeService(cfg, binance, c, storage, n, m)
	deps.Volume = volumeSvc
	if err := sched.Every("volume", cfg.VolumeInterval, func(ctx context.Context) error {
		_, err := volumeSvc.Refresh(ctx)
		return err
	}, scheduler.Aligned()); err != nil {
		return err
	}

	go func() {
		if _, err := volumeSvc.RefreshIfStale(ctx, cfg.VolumeMaxAge); err != nil {
			log.Warnf("Initial volume refresh failed: %v", err)
		}
	}()
	go sched.Run(ctx)

	srv := server.New(server.Config{
		Addr:          cfg.HTTPAddr,
		DefaultSymbol: cfg.Symbol,
		Debug:         cfg.LogLevel == "debug",
	}, deps)
	return srv.Start(ctx)
}
