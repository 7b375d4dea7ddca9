package chart

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/amirphl/depth-analytics/internal/analysis"
	"github.com/amirphl/depth-analytics/internal/candle"
	"github.com/amirphl/depth-analytics/internal/depth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYRange(t *testing.T) {
	assert.Equal(t, [2]float64{0, 1}, YRange(nil))
	assert.Equal(t, [2]float64{0, 1}, YRange([]float64{math.NaN(), math.Inf(1)}))

	r := YRange([]float64{-1, 3, math.Inf(1)})
	assert.InDelta(t, -1.4, r[0], 1e-9)
	assert.InDelta(t, 3.4, r[1], 1e-9)

	flat := YRange([]float64{2, 2})
	assert.Equal(t, [2]float64{2, 2}, flat)
}

func sample() analysis.Result {
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return analysis.Returns([]candle.Candle{
		{Timestamp: monday, Close: 100},
		{Timestamp: monday.Add(time.Hour), Close: 110},
		{Timestamp: monday.Add(2 * time.Hour), Close: 99},
	})
}

func TestWeekdayBar(t *testing.T) {
	fig := WeekdayBar(sample())
	require.Len(t, fig.Data, 1)
	assert.Equal(t, "bar", fig.Data[0].Type)
	assert.Equal(t, BarWidth, fig.Data[0].Width)
	assert.True(t, fig.Layout.YAxis.ZeroLine)
	assert.Len(t, fig.Layout.YAxis.Range, 2)
	assert.Equal(t, 400, fig.Layout.Height)
	assert.Equal(t, 500, fig.Layout.Width)

	y := fig.Data[0].Y.([]*float64)
	require.Len(t, y, 7)
	require.NotNil(t, y[0])
	assert.Nil(t, y[1])
}

func TestWeekdayBar_Empty(t *testing.T) {
	fig := WeekdayBar(analysis.Returns(nil))
	assert.Empty(t, fig.Data[0].X)
	assert.Empty(t, fig.Layout.YAxis.Range)
	assert.False(t, fig.Layout.YAxis.ZeroLine)

	b, err := json.Marshal(fig)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"x":[]`)
}

func TestHourlyBar(t *testing.T) {
	fig := HourlyBar(sample())
	assert.Equal(t, "linear", fig.Layout.XAxis.TickMode)
	assert.Equal(t, 1.0, fig.Layout.XAxis.DTick)
	assert.Len(t, fig.Data[0].X, 24)
}

func TestHeatmap(t *testing.T) {
	fig := Heatmap(sample())
	require.Len(t, fig.Data, 1)
	tr := fig.Data[0]
	assert.Equal(t, "heatmap", tr.Type)
	assert.Equal(t, "RdBu_r", tr.Colorscale)
	require.Len(t, tr.Z, 7)
	assert.Len(t, tr.Z[0], 24)
	assert.NotNil(t, tr.Z[0][1])
	assert.Nil(t, tr.Z[0][0])
	assert.Equal(t, 24*CellSize, fig.Layout.Width)
	assert.Equal(t, 7*CellSize, fig.Layout.Height)

	_, err := json.Marshal(fig)
	assert.NoError(t, err, "NaN cells must not reach the encoder")
}

func TestDepthChart_ExcludesInfiniteRatios(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	results := []depth.IntervalResult{
		{IntervalStart: start, ClosePrice: 100, DepthRatio: depth.Ratio(math.Inf(1))},
		{IntervalStart: start.Add(5 * time.Minute), ClosePrice: 110, DepthRatio: 2},
	}

	fig := DepthChart("BTCUSDT", results)
	require.Len(t, fig.Data, 2)

	ratios := fig.Data[0].Y.([]*float64)
	assert.Nil(t, ratios[0])
	require.NotNil(t, ratios[1])
	assert.Equal(t, 2.0, *ratios[1])
	assert.Equal(t, [2]float64{2, 2}, [2]float64(fig.Layout.YAxis.Range))

	assert.Equal(t, "y2", fig.Data[1].YAxis)
	require.NotNil(t, fig.Layout.YAxis2)
	assert.Equal(t, "y", fig.Layout.YAxis2.Overlaying)
	assert.Equal(t, "right", fig.Layout.YAxis2.Side)

	b, err := json.Marshal(fig)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"1970-01-01T00:05:00Z"`)
}
