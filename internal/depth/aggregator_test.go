package depth

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(0, 0).UTC()

func fixedPrices(prices map[time.Time]float64) PriceLookup {
	return LookupFromMap(prices)
}

func tick(offset time.Duration, price, qty float64, side Side) Tick {
	return Tick{Timestamp: epoch.Add(offset), Price: price, Qty: qty, Side: side}
}

func TestAggregate_Scenario(t *testing.T) {
	ticks := []Tick{
		tick(0, 100.5, 1, Ask),
		tick(0, 99.0, 2, Bid),
	}
	lookup := fixedPrices(map[time.Time]float64{epoch: 100})

	results := Aggregate(ticks, epoch, epoch.Add(5*time.Minute), lookup)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, epoch, r.IntervalStart)
	assert.Equal(t, epoch.Add(5*time.Minute), r.IntervalEnd)
	assert.Equal(t, 100.0, r.ClosePrice)
	assert.Equal(t, 0.0, r.AskQtySum, "100.5 lies outside the ask band [101, 102.5]")
	assert.Equal(t, 2.0, r.BidQtySum, "99.0 lies on the bid band's upper bound")
	assert.Equal(t, 0.0, float64(r.DepthRatio))
	assert.Equal(t, -100.0, float64(r.RelativeRatioPercent))
	assert.Equal(t, 3.0, r.TotalQtyWithin1Pct)
	assert.Equal(t, 3.0, r.TotalQtyWithin5Pct)
	assert.Equal(t, 1, r.TickCount)
}

func TestAggregate_EmptyInput(t *testing.T) {
	lookup := fixedPrices(map[time.Time]float64{epoch: 100})

	results := Aggregate(nil, epoch, epoch.Add(time.Hour), lookup)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	outside := []Tick{tick(2*time.Hour, 101, 1, Ask)}
	assert.Empty(t, Aggregate(outside, epoch, epoch.Add(time.Hour), lookup))
}

func TestAggregate_MissingPriceSkipsOnlyThatInterval(t *testing.T) {
	ticks := []Tick{
		tick(1*time.Minute, 101.5, 1, Ask),
		tick(1*time.Minute, 98, 1, Bid),
		tick(6*time.Minute, 101.5, 2, Ask),
		tick(6*time.Minute, 98, 1, Bid),
		tick(11*time.Minute, 101.5, 3, Ask),
		tick(11*time.Minute, 98, 1, Bid),
	}
	lookup := fixedPrices(map[time.Time]float64{
		epoch:                       100,
		epoch.Add(10 * time.Minute): 100,
	})

	results := Aggregate(ticks, epoch, epoch.Add(15*time.Minute), lookup)
	require.Len(t, results, 2)
	assert.Equal(t, epoch, results[0].IntervalStart)
	assert.Equal(t, epoch.Add(10*time.Minute), results[1].IntervalStart)
	assert.Equal(t, 1.0, float64(results[0].DepthRatio))
	assert.Equal(t, 3.0, float64(results[1].DepthRatio))
	assert.InDelta(t, 200.0, float64(results[1].RelativeRatioPercent), 1e-9)
}

func TestAggregate_InfiniteRatioIffNoBidQty(t *testing.T) {
	lookup := fixedPrices(map[time.Time]float64{epoch: 100, epoch.Add(5 * time.Minute): 100})
	ticks := []Tick{
		tick(0, 102, 4, Ask),
		tick(5*time.Minute, 102, 4, Ask),
		tick(5*time.Minute, 98, 0.5, Bid),
	}

	results := Aggregate(ticks, epoch, epoch.Add(10*time.Minute), lookup)
	require.Len(t, results, 2)

	assert.True(t, math.IsInf(float64(results[0].DepthRatio), 1))
	assert.Equal(t, 0.0, results[0].BidQtySum)
	assert.True(t, math.IsInf(float64(results[0].RelativeRatioPercent), 1))

	assert.False(t, math.IsInf(float64(results[1].DepthRatio), 0))
	assert.Equal(t, results[1].AskQtySum/results[1].BidQtySum, float64(results[1].DepthRatio))
}

func TestAggregate_BandBoundaries(t *testing.T) {
	price := 100.0
	bands := DefaultBands()
	lookup := fixedPrices(map[time.Time]float64{epoch: price})

	onAskLow := tick(0, price*bands.AskLow, 1, Ask)
	onAskHigh := tick(0, price*bands.AskHigh, 2, Ask)
	pastAskHigh := tick(0, math.Nextafter(price*bands.AskHigh, math.Inf(1)), 4, Ask)
	onBidLow := tick(0, price*bands.BidLow, 8, Bid)

	results := Aggregate([]Tick{onAskLow, onAskHigh, pastAskHigh, onBidLow}, epoch, epoch.Add(5*time.Minute), lookup)
	require.Len(t, results, 1)
	assert.Equal(t, 3.0, results[0].AskQtySum)
	assert.Equal(t, 8.0, results[0].BidQtySum)
	assert.Equal(t, 3, results[0].TickCount)
}

func TestAggregate_SideMustMatchBand(t *testing.T) {
	lookup := fixedPrices(map[time.Time]float64{epoch: 100})
	ticks := []Tick{
		tick(0, 98, 5, Ask),  // ask priced inside the bid band
		tick(0, 102, 5, Bid), // bid priced inside the ask band
	}

	results := Aggregate(ticks, epoch, epoch.Add(5*time.Minute), lookup)
	require.Len(t, results, 1)
	assert.Equal(t, 0.0, results[0].AskQtySum)
	assert.Equal(t, 0.0, results[0].BidQtySum)
	assert.Equal(t, 0, results[0].TickCount)
	assert.Equal(t, 10.0, results[0].TotalQtyWithin5Pct)
	assert.Equal(t, 0.0, results[0].TotalQtyWithin1Pct)
}

func TestAggregate_IntervalCountBoundedBySlots(t *testing.T) {
	start, end := epoch, epoch.Add(30*time.Minute)
	slots := len(NewAggregator().Intervals(start, end))
	require.Equal(t, 6, slots)

	prices := map[time.Time]float64{}
	var ticks []Tick
	for k := 0; k < slots; k++ {
		s := epoch.Add(time.Duration(k) * 5 * time.Minute)
		prices[s] = 100
		ticks = append(ticks, tick(time.Duration(k)*5*time.Minute+time.Second, 101, 1, Ask))
		ticks = append(ticks, tick(time.Duration(k)*5*time.Minute+time.Second, 98, 1, Bid))
	}

	full := Aggregate(ticks, start, end, fixedPrices(prices))
	assert.Len(t, full, slots, "every slot has ticks and a price")

	delete(prices, epoch.Add(15*time.Minute))
	partial := Aggregate(ticks[2:], start, end, fixedPrices(prices))
	assert.Less(t, len(partial), slots)
	assert.Len(t, partial, slots-2)
}

func TestAggregate_StartsAreIncreasingAndAligned(t *testing.T) {
	lookup := func(time.Time) (float64, bool) { return 100, true }
	var ticks []Tick
	for m := 59; m >= 0; m-- { // reversed on purpose
		ticks = append(ticks, tick(time.Duration(m)*time.Minute, 98.5, 1, Bid))
	}

	results := Aggregate(ticks, epoch, epoch.Add(time.Hour), lookup)
	require.Len(t, results, 12)
	for i, r := range results {
		assert.Zero(t, r.IntervalStart.UnixNano()%int64(5*time.Minute))
		if i > 0 {
			assert.True(t, r.IntervalStart.After(results[i-1].IntervalStart))
		}
		assert.Equal(t, 5, r.TickCount)
	}
	assert.Equal(t, epoch.Add(59*time.Minute), ticks[0].Timestamp, "input must not be reordered")
}

func TestAggregate_DropsTrailingPartialInterval(t *testing.T) {
	lookup := func(time.Time) (float64, bool) { return 100, true }
	ticks := []Tick{
		tick(1*time.Minute, 98.5, 1, Bid),
		tick(6*time.Minute, 98.5, 1, Bid),
	}

	results := Aggregate(ticks, epoch, epoch.Add(7*time.Minute), lookup)
	require.Len(t, results, 1)
	assert.Equal(t, epoch, results[0].IntervalStart)
}

func TestAggregate_Idempotent(t *testing.T) {
	lookup := fixedPrices(map[time.Time]float64{epoch: 100, epoch.Add(5 * time.Minute): 101})
	ticks := []Tick{
		tick(0, 101.3, 0.7, Ask),
		tick(time.Minute, 98.1, 0.3, Bid),
		tick(6*time.Minute, 103, 1.1, Ask),
		tick(7*time.Minute, 99.5, 2.2, Bid),
	}

	first := Aggregate(ticks, epoch, epoch.Add(10*time.Minute), lookup)
	second := Aggregate(ticks, epoch, epoch.Add(10*time.Minute), lookup)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestAggregate_NonPositivePriceIsTreatedAsMissing(t *testing.T) {
	lookup := fixedPrices(map[time.Time]float64{epoch: 0})
	results := Aggregate([]Tick{tick(0, 101, 1, Ask)}, epoch, epoch.Add(5*time.Minute), lookup)
	assert.Empty(t, results)
}

func TestLookupFromMap_IgnoresLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	lookup := LookupFromMap(map[time.Time]float64{epoch.In(tokyo): 42})

	p, ok := lookup(epoch)
	assert.True(t, ok)
	assert.Equal(t, 42.0, p)
}

func TestRatio_JSON(t *testing.T) {
	b, err := json.Marshal(IntervalResult{DepthRatio: Ratio(math.Inf(1)), RelativeRatioPercent: 12.5})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"depth_ratio":"Infinity"`)
	assert.Contains(t, string(b), `"relative_ratio_percent":12.5`)

	var back IntervalResult
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsInf(float64(back.DepthRatio), 1))
	assert.Equal(t, 12.5, float64(back.RelativeRatioPercent))
}

func TestIntervalResult_RecordMatchesColumns(t *testing.T) {
	r := IntervalResult{IntervalStart: epoch, IntervalEnd: epoch.Add(5 * time.Minute), DepthRatio: 1.5, TickCount: 7}
	rec := r.Record()
	require.Len(t, rec, len(Columns))
	assert.Equal(t, "1970-01-01T00:00:00Z", rec[0])
	assert.Equal(t, "1.5", rec[5])
	assert.Equal(t, "7", rec[8])
}

func TestInterval_ContainsIsHalfOpen(t *testing.T) {
	iv := NewAggregator().Intervals(epoch, epoch.Add(10*time.Minute))[1]
	assert.Equal(t, Interval{Start: epoch.Add(5 * time.Minute), End: epoch.Add(10 * time.Minute)}, iv)

	assert.True(t, iv.Contains(iv.Start))
	assert.True(t, iv.Contains(iv.End.Add(-time.Millisecond)))
	assert.False(t, iv.Contains(iv.End))
	assert.False(t, iv.Contains(iv.Start.Add(-time.Millisecond)))
}

func TestAggregate_TickOnBoundaryBelongsToNextInterval(t *testing.T) {
	lookup := func(time.Time) (float64, bool) { return 100, true }
	ticks := []Tick{
		tick(0, 98.5, 1, Bid),
		tick(5*time.Minute, 98.5, 2, Bid),
	}

	results := Aggregate(ticks, epoch, epoch.Add(10*time.Minute), lookup)
	require.Len(t, results, 2)
	assert.Equal(t, 1.0, results[0].BidQtySum)
	assert.Equal(t, 2.0, results[1].BidQtySum)
}
