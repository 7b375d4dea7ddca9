package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirphl/depth-analytics/internal/volume"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() volume.Snapshot {
	return volume.Snapshot{
		LastUpdated: time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC),
		Rankings: []volume.Ranking{{
			Venue:   "binance",
			Title:   volume.TitleBinanceSpot,
			Entries: []volume.Entry{{Rank: 1, Symbol: "BTCUSDT", VolumeUSD: decimal.RequireFromString("1000000.5")}},
		}},
	}
}

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFile(filepath.Join(t.TempDir(), "sub", DefaultFile))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "missing file is a miss")

	require.NoError(t, f.Save(ctx, snapshot()))
	got, err = f.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, snapshot().LastUpdated.Equal(got.LastUpdated))
	assert.Equal(t, "1000000.5", got.Rankings[0].Entries[0].VolumeUSD.String())

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFile(path).Load(context.Background())
	assert.Error(t, err)
}

func TestFile_DefaultPath(t *testing.T) {
	assert.Equal(t, DefaultFile, NewFile("").Path())
}

func TestRedisAdapter(t *testing.T) {
	prefix := fmt.Sprintf("test:%d:", time.Now().UnixNano())
	a, err := NewRedisAdapter("localhost:6379", "", 0, time.Minute, prefix)
	if err != nil {
		t.Skipf("Skipping test: Redis is not running or not accessible: %v", err)
	}
	defer a.Close()
	ctx := context.Background()
	defer a.client.Del(ctx, a.key())

	got, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, a.Save(ctx, snapshot()))
	got, err = a.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BTCUSDT", got.Rankings[0].Entries[0].Symbol)

	ttl, err := a.client.TTL(ctx, a.key()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
