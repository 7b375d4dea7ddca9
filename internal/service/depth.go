// Package service wires the exchanges, storage and notifiers into the
// depth, volume and returns workflows.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/depth-analytics/internal/chart"
	"github.com/amirphl/depth-analytics/internal/db"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/amirphl/depth-analytics/internal/downloader"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/notifier"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when a depth run is requested while another
// one is still going.
var ErrRunInProgress = errors.New("depth run already in progress")

var errNoIntervals = errors.New("archive produced no intervals")

// ArchiveFetcher downloads an archive and hands it to process, retrying
// earlier days when process rejects it.
type ArchiveFetcher interface {
	FetchAndProcess(ctx context.Context, req downloader.Request, process func(downloader.Result) error) (downloader.Result, error)
}

type DepthConfig struct {
	Symbol   string
	DataType string
}

type DepthService struct {
	cfg      DepthConfig
	fetcher  ArchiveFetcher
	prices   depth.PriceProvider
	agg      depth.Aggregator
	store    db.Storage
	notifier notifier.Notifier
	metrics  *metrics.Metrics

	running sync.Mutex
	now     func() time.Time
}

func NewDepthService(cfg DepthConfig, fetcher ArchiveFetcher, prices depth.PriceProvider, store db.Storage, n notifier.Notifier, m *metrics.Metrics) *DepthService {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.DataType == "" {
		cfg.DataType = "S_DEPTH"
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &DepthService{
		cfg:      cfg,
		fetcher:  fetcher,
		prices:   prices,
		agg:      depth.NewAggregator(),
		store:    store,
		notifier: n,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *DepthService) Symbol() string {
	return s.cfg.Symbol
}

// Run processes the latest published day: download, parse, price and
// aggregate, then persist the run. An archive that yields no intervals
// counts as a failed attempt and the previous day is tried.
func (s *DepthService) Run(ctx context.Context) (*depth.Run, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	began := s.now()
	start, end := downloader.LatestWindow(began)
	req := downloader.Request{Symbol: s.cfg.Symbol, DataType: s.cfg.DataType, Start: start, End: end}

	var (
		tickCount int
		results   []depth.IntervalResult
	)
	res, err := s.fetcher.FetchAndProcess(ctx, req, func(r downloader.Result) error {
		n, out, err := s.process(ctx, r)
		if err != nil {
			return err
		}
		tickCount, results = n, out
		return nil
	})
	if err != nil {
		s.metrics.DepthRun(time.Since(began), 0, err)
		s.report(ctx, fmt.Sprintf("❌ Depth run for %s failed: %v", s.cfg.Symbol, err))
		return nil, fmt.Errorf("depth run for %s: %w", s.cfg.Symbol, err)
	}

	run := depth.Run{
		ID:         uuid.NewString(),
		Symbol:     s.cfg.Symbol,
		DataType:   s.cfg.DataType,
		Start:      res.Start,
		End:        res.End,
		SourcePath: res.Path,
		Attempts:   res.Attempts,
		CreatedAt:  s.now().UTC(),
		TickCount:  tickCount,
		Results:    results,
	}
	if err := s.store.SaveDepthRun(ctx, run); err != nil {
		s.metrics.DepthRun(time.Since(began), len(results), err)
		return nil, fmt.Errorf("failed to save depth run: %w", err)
	}
	s.metrics.DepthRun(time.Since(began), len(results), nil)

	utils.GetLogger().WithFields(logrus.Fields{
		"run_id":    run.ID,
		"symbol":    run.Symbol,
		"day":       run.Start.Format(time.DateOnly),
		"intervals": len(results),
		"ticks":     tickCount,
	}).Info("DepthService | run completed")

	if err := s.store.LogEvent(ctx, journal.Event{
		Time:        run.CreatedAt,
		Type:        "depth",
		Description: fmt.Sprintf("depth run %s for %s", run.ID, run.Symbol),
		Data:        map[string]any{"run_id": run.ID, "intervals": len(results), "attempts": run.Attempts},
	}); err != nil {
		utils.GetLogger().Warnf("DepthService | failed to journal run: %v", err)
	}

	s.report(ctx, Summary(run))
	return &run, nil
}

func (s *DepthService) process(ctx context.Context, r downloader.Result) (int, []depth.IntervalResult, error) {
	ticks, err := depth.ReadArchive(r.Path)
	if err != nil {
		return 0, nil, err
	}

	intervals := s.agg.Intervals(r.Start, r.End)
	starts := make([]time.Time, len(intervals))
	for i, iv := range intervals {
		starts[i] = iv.Start
	}
	prices, err := s.prices.GetPrices(ctx, starts)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get close prices: %w", err)
	}

	results := s.agg.Aggregate(ticks, r.Start, r.End, depth.LookupFromMap(prices))
	if len(results) == 0 {
		return 0, nil, errNoIntervals
	}
	return len(ticks), results, nil
}

func (s *DepthService) report(ctx context.Context, msg string) {
	if err := s.notifier.SendWithRetry(ctx, msg); err != nil {
		utils.GetLogger().Warnf("DepthService | notification failed: %v", err)
	}
}

// Latest returns the newest stored run for symbol, or the configured
// symbol when empty.
func (s *DepthService) Latest(ctx context.Context, symbol string) (*depth.Run, error) {
	if symbol == "" {
		symbol = s.cfg.Symbol
	}
	return s.store.LatestDepthRun(ctx, strings.ToUpper(symbol))
}

func (s *DepthService) History(ctx context.Context, symbol string, limit int) ([]depth.Run, error) {
	if symbol == "" {
		symbol = s.cfg.Symbol
	}
	return s.store.ListDepthRuns(ctx, strings.ToUpper(symbol), limit)
}

// Chart builds the ratio and price figure of the latest stored run.
func (s *DepthService) Chart(ctx context.Context, symbol string) (chart.Figure, error) {
	run, err := s.Latest(ctx, symbol)
	if err != nil {
		return chart.Figure{}, err
	}
	return chart.DepthChart(run.Symbol, run.Results), nil
}

// Summary is the notification text for a finished run.
func Summary(run depth.Run) string {
	var sum float64
	var finite, infinite int
	for _, r := range run.Results {
		v := float64(r.DepthRatio)
		if math.IsInf(v, 0) {
			infinite++
			continue
		}
		sum += v
		finite++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Depth run %s %s: %d intervals from %d ticks", run.Symbol, run.Start.Format(time.DateOnly), len(run.Results), run.TickCount)
	if finite > 0 {
		fmt.Fprintf(&b, ", mean ratio %.4f", sum/float64(finite))
	}
	if infinite > 0 {
		fmt.Fprintf(&b, ", %d without bids", infinite)
	}
	if run.Attempts > 1 {
		fmt.Fprintf(&b, " (attempt %d)", run.Attempts)
	}
	return b.String()
}
