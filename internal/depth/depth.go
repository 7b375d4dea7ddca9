// Package depth computes order-book depth ratios from tick-level order-book
// dumps, bucketed into fixed intervals around a reference close price.
package depth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Side string

const (
	Ask Side = "ask"
	Bid Side = "bid"
)

// ParseSide accepts the archive's one-letter codes as well as the long form.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "ask":
		return Ask, nil
	case "b", "bid":
		return Bid, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Tick is one order-book entry.
type Tick struct {
	Timestamp time.Time
	Price     float64
	Qty       float64
	Side      Side
}

func (t Tick) Validate() error {
	if t.Timestamp.IsZero() {
		return errors.New("tick timestamp is zero")
	}
	if !(t.Price > 0) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("tick price must be positive, got %v", t.Price)
	}
	if !(t.Qty >= 0) || math.IsInf(t.Qty, 0) {
		return fmt.Errorf("tick qty must be non-negative, got %v", t.Qty)
	}
	if t.Side != Ask && t.Side != Bid {
		return fmt.Errorf("tick side must be ask or bid, got %q", t.Side)
	}
	return nil
}

// Interval is the half-open window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Ratio is a float that serializes +Inf and -Inf as "Infinity" and
// "-Infinity" instead of failing.
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(f):
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch s {
	case `"Infinity"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case "null":
		*r = Ratio(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid ratio %s: %w", s, err)
	}
	*r = Ratio(f)
	return nil
}

// IntervalResult is one aggregated row. DepthRatio is +Inf when BidQtySum
// is zero.
type IntervalResult struct {
	IntervalStart        time.Time `json:"interval_start"`
	IntervalEnd          time.Time `json:"interval_end"`
	ClosePrice           float64   `json:"close_price"`
	AskQtySum            float64   `json:"ask_qty_sum"`
	BidQtySum            float64   `json:"bid_qty_sum"`
	DepthRatio           Ratio     `json:"depth_ratio"`
	TotalQtyWithin1Pct   float64   `json:"total_qty_within_1pct"`
	TotalQtyWithin5Pct   float64   `json:"total_qty_within_5pct"`
	TickCount            int       `json:"tick_count"`
	RelativeRatioPercent Ratio     `json:"relative_ratio_percent"`
}

// Columns is the stable column order of the result table.
var Columns = []string{
	"interval_start",
	"interval_end",
	"close_price",
	"ask_qty_sum",
	"bid_qty_sum",
	"depth_ratio",
	"total_qty_within_1pct",
	"total_qty_within_5pct",
	"tick_count",
	"relative_ratio_percent",
}

// Record renders the row in Columns order.
func (r IntervalResult) Record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		r.IntervalStart.UTC().Format(time.RFC3339),
		r.IntervalEnd.UTC().Format(time.RFC3339),
		f(r.ClosePrice),
		f(r.AskQtySum),
		f(r.BidQtySum),
		f(float64(r.DepthRatio)),
		f(r.TotalQtyWithin1Pct),
		f(r.TotalQtyWithin5Pct),
		strconv.Itoa(r.TickCount),
		f(float64(r.RelativeRatioPercent)),
	}
}

// PriceLookup returns the reference close price for an interval start.
type PriceLookup func(intervalStart time.Time) (float64, bool)

// PriceProvider supplies reference prices for a set of interval starts. The
// returned mapping may be partial.
type PriceProvider interface {
	GetPrices(ctx context.Context, intervalStarts []time.Time) (map[time.Time]float64, error)
}

// LookupFromMap builds a PriceLookup keyed by instant, independent of the
// keys' locations.
func LookupFromMap(prices map[time.Time]float64) PriceLookup {
	byMillis := make(map[int64]float64, len(prices))
	for ts, p := range prices {
		byMillis[ts.UnixMilli()] = p
	}
	return func(start time.Time) (float64, bool) {
		p, ok := byMillis[start.UnixMilli()]
		return p, ok
	}
}

// Run is one completed pipeline execution.
type Run struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	DataType   string           `json:"data_type"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	SourcePath string           `json:"source_path"`
	Attempts   int              `json:"attempts"`
	CreatedAt  time.Time        `json:"created_at"`
	TickCount  int              `json:"tick_count"`
	Results    []IntervalResult `json:"results"`
}
