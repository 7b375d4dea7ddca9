package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirphl/depth-analytics/internal/cache"
	"github.com/amirphl/depth-analytics/internal/db"
	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeBinance struct {
	calls atomic.Int32
	err   error
}

func (f *fakeBinance) SpotTickers24h(ctx context.Context) ([]exchange.Ticker24h, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []exchange.Ticker24h{
		{Symbol: "BTCUSDT", Volume: dec("10"), QuoteVolume: dec("500000")},
		{Symbol: "ETHBTC", Volume: dec("100"), QuoteVolume: dec("5")},
	}, nil
}

func (f *fakeBinance) SpotPrices(ctx context.Context) ([]exchange.PriceTicker, error) {
	return []exchange.PriceTicker{{Symbol: "BTCUSDT", Price: dec("50000")}}, nil
}

func (f *fakeBinance) ExchangeInfo(ctx context.Context) ([]exchange.SymbolInfo, error) {
	return []exchange.SymbolInfo{
		{Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT"},
		{Symbol: "ETHBTC", BaseAsset: "ETH", QuoteAsset: "BTC"},
	}, nil
}

func (f *fakeBinance) FuturesTickers24h(ctx context.Context, m exchange.Margin) ([]exchange.Ticker24h, error) {
	if f.err != nil {
		return nil, f.err
	}
	if m == exchange.CoinMargined {
		return []exchange.Ticker24h{{Symbol: "BTCUSD_PERP", Volume: dec("1000")}}, nil
	}
	return []exchange.Ticker24h{
		{Symbol: "BTCUSDT", QuoteVolume: dec("900000")},
		{Symbol: "BTCUSDT_240329", QuoteVolume: dec("999999999")},
	}, nil
}

type fakeBybit struct{ err error }

func (f fakeBybit) Tickers(ctx context.Context, category string) ([]exchange.BybitTicker, error) {
	return nil, f.err
}

type fakeWallex struct{}

func (fakeWallex) MarketStats(ctx context.Context) ([]exchange.WallexMarket, error) {
	return []exchange.WallexMarket{
		{Symbol: "BTCUSDT", QuoteVolume24h: dec("1200")},
		{Symbol: "BTCTMN", QuoteVolume24h: dec("99999999")},
	}, nil
}

var volumeNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestVolumeService_Refresh_PartialFailure(t *testing.T) {
	c := cache.NewFile(filepath.Join(t.TempDir(), cache.DefaultFile))
	store := db.NewMemory()
	n := &recordingNotifier{}
	s := NewVolumeService(VolumeSources{
		Binance: &fakeBinance{},
		Bybit:   fakeBybit{err: errors.New("bybit down")},
		Wallex:  fakeWallex{},
	}, 0, c, store, store, n, nil)
	s.now = fixedNow(volumeNow)

	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, volumeNow, snap.LastUpdated)

	titles := make([]string, len(snap.Rankings))
	for i, r := range snap.Rankings {
		titles[i] = r.Title
	}
	assert.Equal(t, []string{volume.TitleBinanceSpot, volume.TitleBinancePerp, volume.TitleWallexSpot}, titles)
	assert.Equal(t, "bybit down", snap.Errors[volume.TitleBybitSpot])
	assert.Equal(t, "bybit down", snap.Errors[volume.TitleBybitPerp])

	spot, ok := snap.Ranking(volume.TitleBinanceSpot)
	require.True(t, ok)
	require.Len(t, spot.Entries, 2)
	assert.Equal(t, "BTCUSDT", spot.Entries[0].Symbol)
	assert.True(t, dec("250000").Equal(spot.Entries[1].VolumeUSD), "ETHBTC quote volume priced in USDT")

	perp, _ := snap.Ranking(volume.TitleBinancePerp)
	require.Len(t, perp.Entries, 2, "dated contracts are excluded")
	assert.Equal(t, "BTCUSDT", perp.Entries[0].Symbol)
	assert.Equal(t, volume.ContractCoinMargined, perp.Entries[1].Contract)

	wallex, _ := snap.Ranking(volume.TitleWallexSpot)
	require.Len(t, wallex.Entries, 1)

	cached, err := c.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Len(t, cached.Rankings, 3)

	stored, err := store.LatestVolumeSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored.Rankings, 3)

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, volume.Format(*snap), msgs[0])
	assert.Contains(t, msgs[0], "Unavailable:")
}

func TestVolumeService_Refresh_AllFail(t *testing.T) {
	n := &recordingNotifier{}
	s := NewVolumeService(VolumeSources{
		Binance: &fakeBinance{err: errors.New("binance down")},
		Bybit:   fakeBybit{err: errors.New("bybit down")},
	}, 10, nil, nil, nil, n, nil)

	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoVenues)
	assert.Contains(t, err.Error(), "binance down")

	msgs := n.messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Error while fetching volume data: "))

	cur, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestVolumeService_NoVenues(t *testing.T) {
	s := NewVolumeService(VolumeSources{}, 10, nil, nil, nil, nil, nil)
	_, err := s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoVenues)
}

func TestVolumeService_CurrentFallsBackToCache(t *testing.T) {
	c := cache.NewFile(filepath.Join(t.TempDir(), "v.json"))
	saved := volume.Snapshot{LastUpdated: volumeNow, Rankings: []volume.Ranking{{Title: volume.TitleWallexSpot}}}
	require.NoError(t, c.Save(context.Background(), saved))

	s := NewVolumeService(VolumeSources{Wallex: fakeWallex{}}, 10, c, nil, nil, nil, nil)
	cur, err := s.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.True(t, volumeNow.Equal(cur.LastUpdated))
}

func TestVolumeService_CurrentFallsBackToStore(t *testing.T) {
	store := db.NewMemory()
	require.NoError(t, store.SaveVolumeSnapshot(context.Background(), volume.Snapshot{LastUpdated: volumeNow}))

	s := NewVolumeService(VolumeSources{}, 10, nil, store, nil, nil, nil)
	cur, err := s.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
}

func TestVolumeService_RefreshIfStale(t *testing.T) {
	b := &fakeBinance{}
	s := NewVolumeService(VolumeSources{Binance: b}, 10, nil, nil, nil, nil, nil)
	s.now = fixedNow(volumeNow)

	_, err := s.RefreshIfStale(context.Background(), 4*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.calls.Load(), "nothing cached yet")

	s.now = fixedNow(volumeNow.Add(time.Hour))
	_, err = s.RefreshIfStale(context.Background(), 4*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.calls.Load(), "fresh snapshot is reused")

	s.now = fixedNow(volumeNow.Add(5 * time.Hour))
	snap, err := s.RefreshIfStale(context.Background(), 4*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.calls.Load())
	assert.Equal(t, volumeNow.Add(5*time.Hour), snap.LastUpdated)
}
