package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/depth-analytics/internal/cache"
	"github.com/amirphl/depth-analytics/internal/db"
	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/metrics"
	"github.com/amirphl/depth-analytics/internal/notifier"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/amirphl/depth-analytics/internal/volume"
)

// ErrNoVenues is returned when every venue failed during a refresh.
var ErrNoVenues = errors.New("no venue returned data")

type BinanceMarkets interface {
	SpotTickers24h(ctx context.Context) ([]exchange.Ticker24h, error)
	SpotPrices(ctx context.Context) ([]exchange.PriceTicker, error)
	ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error)
	FuturesTickers24h(ctx context.Context, m exchange.Margin) ([]exchange.Ticker24h, error)
}

type BybitMarkets interface {
	Tickers(ctx context.Context, category string) ([]exchange.BybitTicker, error)
}

type WallexMarkets interface {
	MarketStats(ctx context.Context) ([]exchange.WallexMarket, error)
}

// VolumeSources lists the venues to rank. Nil venues are skipped.
type VolumeSources struct {
	Binance BinanceMarkets
	Bybit   BybitMarkets
	Wallex  WallexMarkets
}

type venue struct {
	title string
	name  string
	fetch func(ctx context.Context) ([]volume.Entry, error)
}

type VolumeService struct {
	venues   []venue
	topN     int
	cache    cache.Cache
	store    db.VolumeStore
	journal  journal.Journaler
	notifier notifier.Notifier
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	current *volume.Snapshot

	refreshing sync.Mutex
	now        func() time.Time
}

// NewVolumeService builds the service. c and store may be nil; j may be
// nil when events are not persisted.
func NewVolumeService(src VolumeSources, topN int, c cache.Cache, store db.VolumeStore, j journal.Journaler, n notifier.Notifier, m *metrics.Metrics) *VolumeService {
	if topN <= 0 {
		topN = volume.DefaultTopN
	}
	if n == nil {
		n = notifier.Noop{}
	}
	return &VolumeService{
		venues:   venues(src),
		topN:     topN,
		cache:    c,
		store:    store,
		journal:  j,
		notifier: n,
		metrics:  m,
		now:      time.Now,
	}
}

func venues(src VolumeSources) []venue {
	var out []venue
	if b := src.Binance; b != nil {
		out = append(out,
			venue{title: volume.TitleBinanceSpot, name: "binance", fetch: func(ctx context.Context) ([]volume.Entry, error) {
				tickers, err := b.SpotTickers24h(ctx)
				if err != nil {
					return nil, err
				}
				prices, err := b.SpotPrices(ctx)
				if err != nil {
					return nil, err
				}
				info, err := b.ExchangeInfo(ctx)
				if err != nil {
					return nil, err
				}
				return volume.BinanceSpot(tickers, info, volume.ExchangeRates(prices)), nil
			}},
			venue{title: volume.TitleBinancePerp, name: "binance", fetch: func(ctx context.Context) ([]volume.Entry, error) {
				usdm, err := b.FuturesTickers24h(ctx, exchange.USDMargined)
				if err != nil {
					return nil, err
				}
				coinm, err := b.FuturesTickers24h(ctx, exchange.CoinMargined)
				if err != nil {
					return nil, err
				}
				return volume.BinanceFutures(usdm, coinm), nil
			}},
		)
	}
	if b := src.Bybit; b != nil {
		out = append(out,
			venue{title: volume.TitleBybitSpot, name: "bybit", fetch: func(ctx context.Context) ([]volume.Entry, error) {
				spot, err := b.Tickers(ctx, exchange.BybitSpot)
				if err != nil {
					return nil, err
				}
				return volume.BybitSpot(spot), nil
			}},
			venue{title: volume.TitleBybitPerp, name: "bybit", fetch: func(ctx context.Context) ([]volume.Entry, error) {
				linear, err := b.Tickers(ctx, exchange.BybitLinear)
				if err != nil {
					return nil, err
				}
				inverse, err := b.Tickers(ctx, exchange.BybitInverse)
				if err != nil {
					return nil, err
				}
				return volume.BybitPerpetual(linear, inverse), nil
			}},
		)
	}
	if w := src.Wallex; w != nil {
		out = append(out, venue{title: volume.TitleWallexSpot, name: "wallex", fetch: func(ctx context.Context) ([]volume.Entry, error) {
			markets, err := w.MarketStats(ctx)
			if err != nil {
				return nil, err
			}
			return volume.WallexSpot(markets), nil
		}})
	}
	return out
}

// Refresh queries every venue concurrently and publishes a new snapshot.
// Failed venues are reported in the snapshot's Errors and left out of the
// rankings. When all venues fail the error text is sent to the notifier
// and ErrNoVenues is returned.
func (s *VolumeService) Refresh(ctx context.Context) (*volume.Snapshot, error) {
	s.refreshing.Lock()
	defer s.refreshing.Unlock()

	snap, err := s.collect(ctx)
	s.metrics.VolumeRefresh(err)
	if err != nil {
		utils.GetLogger().Errorf("VolumeService | refresh failed: %v", err)
		if nerr := s.notifier.SendWithRetry(ctx, fmt.Sprintf("Error while fetching volume data: %v", err)); nerr != nil {
			utils.GetLogger().Warnf("VolumeService | failed to send error notification: %v", nerr)
		}
		return nil, err
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Save(ctx, *snap); err != nil {
			utils.GetLogger().Warnf("VolumeService | failed to update cache: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.SaveVolumeSnapshot(ctx, *snap); err != nil {
			utils.GetLogger().Warnf("VolumeService | failed to store snapshot: %v", err)
		}
	}
	if s.journal != nil {
		if err := s.journal.LogEvent(ctx, journal.Event{
			Time:        snap.LastUpdated,
			Type:        "volume",
			Description: fmt.Sprintf("volume rankings refreshed, %d venues unavailable", len(snap.Errors)),
			Data:        map[string]any{"rankings": len(snap.Rankings)},
		}); err != nil {
			utils.GetLogger().Warnf("VolumeService | failed to journal refresh: %v", err)
		}
	}

	if err := s.notifier.SendWithRetry(ctx, volume.Format(*snap)); err != nil {
		utils.GetLogger().Warnf("VolumeService | failed to send rankings: %v", err)
	}
	utils.GetLogger().Infof("VolumeService | refreshed %d rankings", len(snap.Rankings))
	return snap, nil
}

func (s *VolumeService) collect(ctx context.Context) (*volume.Snapshot, error) {
	if len(s.venues) == 0 {
		return nil, ErrNoVenues
	}

	rankings := make([]*volume.Ranking, len(s.venues))
	errs := make([]error, len(s.venues))

	var wg sync.WaitGroup
	for i, v := range s.venues {
		wg.Add(1)
		go func(i int, v venue) {
			defer wg.Done()
			entries, err := v.fetch(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			rankings[i] = &volume.Ranking{Venue: v.name, Title: v.title, Entries: volume.Top(entries, s.topN)}
		}(i, v)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &volume.Snapshot{LastUpdated: s.now().UTC()}
	var failed []string
	for i, r := range rankings {
		if r != nil {
			snap.Rankings = append(snap.Rankings, *r)
			continue
		}
		if snap.Errors == nil {
			snap.Errors = make(map[string]string)
		}
		title := s.venues[i].title
		snap.Errors[title] = errs[i].Error()
		failed = append(failed, fmt.Sprintf("%s: %v", title, errs[i]))
		utils.GetLogger().Warnf("VolumeService | %s unavailable: %v", title, errs[i])
	}
	if len(snap.Rankings) == 0 {
		sort.Strings(failed)
		return nil, fmt.Errorf("%w: %s", ErrNoVenues, strings.Join(failed, "; "))
	}
	return snap, nil
}

// Current returns the in-memory snapshot, falling back to the cache and then
// the store. It returns nil, nil when nothing was ever refreshed.
func (s *VolumeService) Current(ctx context.Context) (*volume.Snapshot, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil {
		return cur, nil
	}

	if s.cache != nil {
		snap, err := s.cache.Load(ctx)
		if err != nil {
			utils.GetLogger().Warnf("VolumeService | failed to read cache: %v", err)
		} else if snap != nil {
			s.remember(snap)
			return snap, nil
		}
	}
	if s.store != nil {
		snap, err := s.store.LatestVolumeSnapshot(ctx)
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s.remember(snap)
		return snap, nil
	}
	return nil, nil
}

func (s *VolumeService) remember(snap *volume.Snapshot) {
	s.mu.Lock()
	if s.current == nil {
		s.current = snap
	}
	s.mu.Unlock()
}

// RefreshIfStale refreshes when the current snapshot is missing or older
// than maxAge, and returns whichever snapshot is current afterwards.
func (s *VolumeService) RefreshIfStale(ctx context.Context, maxAge time.Duration) (*volume.Snapshot, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		utils.GetLogger().Warnf("VolumeService | failed to load snapshot: %v", err)
	}
	if cur != nil && cur.Age(s.now()) <= maxAge {
		return cur, nil
	}
	return s.Refresh(ctx)
}
