package depth

import (
	"math"
	"sort"
	"time"

	"github.com/amirphl/depth-analytics/internal/tfutils"
)

// DefaultInterval is the aggregation window.
const DefaultInterval = 5 * time.Minute

// Bands are multipliers of the reference price. All bounds are inclusive.
// The ask and bid bands do not overlap, so a tick can never count toward
// both sums.
type Bands struct {
	AskLow, AskHigh float64
	BidLow, BidHigh float64
	Near            float64 // total_qty_within_1pct half-width
	Wide            float64 // total_qty_within_5pct half-width
}

func DefaultBands() Bands {
	return Bands{
		AskLow:  1.01,
		AskHigh: 1.025,
		BidLow:  0.975,
		BidHigh: 0.99,
		Near:    0.01,
		Wide:    0.05,
	}
}

// Aggregator interface for depth aggregation
type Aggregator interface {
	Intervals(start, end time.Time) []Interval
	Aggregate(ticks []Tick, start, end time.Time, lookup PriceLookup) []IntervalResult
}

type DefaultAggregator struct {
	interval time.Duration
	bands    Bands
}

// NewAggregator creates a 5-minute aggregator with the default bands
func NewAggregator() Aggregator {
	return &DefaultAggregator{interval: DefaultInterval, bands: DefaultBands()}
}

// Aggregate is a shorthand for NewAggregator().Aggregate.
func Aggregate(ticks []Tick, start, end time.Time, lookup PriceLookup) []IntervalResult {
	return NewAggregator().Aggregate(ticks, start, end, lookup)
}

// Intervals returns the aligned windows covering [start, end). The last one
// may extend past end.
func (a *DefaultAggregator) Intervals(start, end time.Time) []Interval {
	starts := tfutils.IntervalStarts(start, end, a.interval)
	out := make([]Interval, len(starts))
	for i, s := range starts {
		out[i] = Interval{Start: s, End: s.Add(a.interval)}
	}
	return out
}

// Aggregate buckets ticks in [start, end) into intervals and summarizes each
// one against its reference price. Intervals without ticks, without a usable
// price, or ending after end are omitted. The input is not modified.
func (a *DefaultAggregator) Aggregate(ticks []Tick, start, end time.Time, lookup PriceLookup) []IntervalResult {
	inRange := make([]Tick, 0, len(ticks))
	for _, t := range ticks {
		if !t.Timestamp.Before(start) && t.Timestamp.Before(end) {
			inRange = append(inRange, t)
		}
	}
	if len(inRange) == 0 {
		return []IntervalResult{}
	}

	if !sort.SliceIsSorted(inRange, func(i, j int) bool {
		return inRange[i].Timestamp.Before(inRange[j].Timestamp)
	}) {
		sort.SliceStable(inRange, func(i, j int) bool {
			return inRange[i].Timestamp.Before(inRange[j].Timestamp)
		})
	}

	results := []IntervalResult{}
	i := 0
	for _, iv := range a.Intervals(start, end) {
		for i < len(inRange) && inRange[i].Timestamp.Before(iv.Start) {
			i++
		}
		j := i
		for j < len(inRange) && iv.Contains(inRange[j].Timestamp) {
			j++
		}
		window := inRange[i:j]
		i = j

		if len(window) == 0 {
			continue
		}
		if iv.End.After(end) {
			continue
		}
		price, ok := lookup(iv.Start)
		if !ok || !(price > 0) || math.IsInf(price, 0) {
			continue
		}

		results = append(results, a.summarize(window, iv, price))
	}

	for k := range results {
		results[k].RelativeRatioPercent = Ratio((float64(results[k].DepthRatio) - 1) * 100)
	}

	return results
}

func (a *DefaultAggregator) summarize(window []Tick, iv Interval, price float64) IntervalResult {
	askLow, askHigh := price*a.bands.AskLow, price*a.bands.AskHigh
	bidLow, bidHigh := price*a.bands.BidLow, price*a.bands.BidHigh
	nearLow, nearHigh := price*(1-a.bands.Near), price*(1+a.bands.Near)
	wideLow, wideHigh := price*(1-a.bands.Wide), price*(1+a.bands.Wide)

	r := IntervalResult{
		IntervalStart: iv.Start,
		IntervalEnd:   iv.End,
		ClosePrice:    price,
	}

	for _, t := range window {
		switch t.Side {
		case Ask:
			if t.Price >= askLow && t.Price <= askHigh {
				r.AskQtySum += t.Qty
				r.TickCount++
			}
		case Bid:
			if t.Price >= bidLow && t.Price <= bidHigh {
				r.BidQtySum += t.Qty
				r.TickCount++
			}
		}

		if t.Price >= nearLow && t.Price <= nearHigh {
			r.TotalQtyWithin1Pct += t.Qty
		}
		if t.Price >= wideLow && t.Price <= wideHigh {
			r.TotalQtyWithin5Pct += t.Qty
		}
	}

	if r.BidQtySum == 0 {
		r.DepthRatio = Ratio(math.Inf(1))
	} else {
		r.DepthRatio = Ratio(r.AskQtySum / r.BidQtySum)
	}

	return r
}
