// Package analysis computes calendar seasonality of candle returns.
package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/candle"
)

var WeekdayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Result holds mean close-to-close returns in percent, grouped by the UTC
// weekday (Monday = 0) and hour of the later candle. Cells without samples
// are NaN.
type Result struct {
	Weekday [7]float64
	Hour    [24]float64
	Heatmap [7][24]float64
	Samples int
}

// Weekday maps time.Weekday to Monday = 0 ... Sunday = 6.
func Weekday(t time.Time) int {
	return (int(t.UTC().Weekday()) + 6) % 7
}

func emptyResult() Result {
	var r Result
	nan := math.NaN()
	for i := range r.Weekday {
		r.Weekday[i] = nan
	}
	for i := range r.Hour {
		r.Hour[i] = nan
	}
	for d := range r.Heatmap {
		for h := range r.Heatmap[d] {
			r.Heatmap[d][h] = nan
		}
	}
	return r
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) { m.sum += v; m.n++ }

func (m mean) value() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n) * 100
}

// Returns derives the seasonality of close-to-close returns. The
// input is sorted by time first; fewer than two candles give an empty
// result.
func Returns(candles []candle.Candle) Result {
	out := emptyResult()
	if len(candles) < 2 {
		return out
	}

	sorted := make([]candle.Candle, len(candles))
	copy(sorted, candles)
	candle.SortByTime(sorted)

	var byDay [7]mean
	var byHour [24]mean
	var cells [7][24]mean
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1].Close
		if prev == 0 || math.IsNaN(prev) {
			continue
		}
		ret := sorted[i].Close/prev - 1
		if math.IsNaN(ret) || math.IsInf(ret, 0) {
			continue
		}

		ts := sorted[i].Timestamp.UTC()
		d, h := Weekday(ts), ts.Hour()
		byDay[d].add(ret)
		byHour[h].add(ret)
		cells[d][h].add(ret)
		out.Samples++
	}

	for d := range byDay {
		out.Weekday[d] = byDay[d].value()
	}
	for h := range byHour {
		out.Hour[h] = byHour[h].value()
	}
	for d := range cells {
		for h := range cells[d] {
			out.Heatmap[d][h] = cells[d][h].value()
		}
	}
	return out
}

func (r Result) Empty() bool {
	return r.Samples == 0
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (r Result) MarshalJSON() ([]byte, error) {
	weekday := make([]*float64, len(r.Weekday))
	for i, v := range r.Weekday {
		weekday[i] = nullable(v)
	}
	hour := make([]*float64, len(r.Hour))
	for i, v := range r.Hour {
		hour[i] = nullable(v)
	}
	heatmap := make([][]*float64, len(r.Heatmap))
	for d := range r.Heatmap {
		heatmap[d] = make([]*float64, len(r.Heatmap[d]))
		for h, v := range r.Heatmap[d] {
			heatmap[d][h] = nullable(v)
		}
	}
	return json.Marshal(struct {
		Weekdays []string     `json:"weekdays"`
		Weekday  []*float64   `json:"weekday"`
		Hour     []*float64   `json:"hour"`
		Heatmap  [][]*float64 `json:"heatmap"`
		Samples  int          `json:"samples"`
	}{WeekdayNames[:], weekday, hour, heatmap, r.Samples})
}

// Table renders the weekday and hour means as plain text.
func (r Result) Table() string {
	var b strings.Builder
	cell := func(v float64) string {
		if math.IsNaN(v) {
			return "     n/a"
		}
		return fmt.Sprintf("%+8.4f", v)
	}

	b.WriteString("weekday  mean %\n")
	for d, v := range r.Weekday {
		fmt.Fprintf(&b, "%-7s %s\n", WeekdayNames[d], cell(v))
	}
	b.WriteString("\nhour     mean %\n")
	for h, v := range r.Hour {
		fmt.Fprintf(&b, "%02d:00   %s\n", h, cell(v))
	}
	return b.String()
}
