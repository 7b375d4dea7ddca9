// Package chart builds Plotly figure descriptions that the dashboard renders
// client-side with plotly.js.
package chart

import (
	"math"
	"strconv"
	"time"

	"github.com/amirphl/depth-analytics/internal/analysis"
	"github.com/amirphl/depth-analytics/internal/depth"
)

const (
	CellSize  = 75
	BarWidth  = 0.5
	ZeroColor = "lightgrey"
)

type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

type Trace struct {
	Type       string       `json:"type"`
	Name       string       `json:"name,omitempty"`
	Mode       string       `json:"mode,omitempty"`
	X          any          `json:"x"`
	Y          any          `json:"y"`
	Z          [][]*float64 `json:"z,omitempty"`
	Width      float64      `json:"width,omitempty"`
	YAxis      string       `json:"yaxis,omitempty"`
	Colorscale string       `json:"colorscale,omitempty"`
	ZMid       *float64     `json:"zmid,omitempty"`
}

type Title struct {
	Text string `json:"text"`
}

type Axis struct {
	Title         *Title    `json:"title,omitempty"`
	Range         []float64 `json:"range,omitempty"`
	ZeroLine      bool      `json:"zeroline,omitempty"`
	ZeroLineWidth int       `json:"zerolinewidth,omitempty"`
	ZeroLineColor string    `json:"zerolinecolor,omitempty"`
	TickMode      string    `json:"tickmode,omitempty"`
	Tick0         *float64  `json:"tick0,omitempty"`
	DTick         float64   `json:"dtick,omitempty"`
	TickVals      []any     `json:"tickvals,omitempty"`
	TickText      []string  `json:"ticktext,omitempty"`
	Overlaying    string    `json:"overlaying,omitempty"`
	Side          string    `json:"side,omitempty"`
}

type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
	B int `json:"b"`
}

type Layout struct {
	Title    Title   `json:"title"`
	XAxis    Axis    `json:"xaxis"`
	YAxis    Axis    `json:"yaxis"`
	YAxis2   *Axis   `json:"yaxis2,omitempty"`
	Margin   *Margin `json:"margin,omitempty"`
	Height   int     `json:"height,omitempty"`
	Width    int     `json:"width,omitempty"`
	AutoSize *bool   `json:"autosize,omitempty"`
}

// YRange pads the finite span of values by 10% on both sides. Without
// finite values it is [0, 1].
func YRange(values []float64) [2]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return [2]float64{0, 1}
	}
	pad := (hi - lo) * 0.1
	return [2]float64{lo - pad, hi + pad}
}

func titled(s string) *Title { return &Title{Text: s} }

func finite(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = &values[i]
	}
	return out
}

func defaultMargin() *Margin { return &Margin{L: 50, R: 50, T: 50, B: 50} }

func barFigure(title, xTitle string, x any, values []float64, empty bool) Figure {
	bar := Trace{Type: "bar", X: x, Y: finite(values), Width: BarWidth}
	yaxis := Axis{Title: titled("Mean return (%)")}
	if empty {
		bar.X, bar.Y = []any{}, []any{}
	} else {
		r := YRange(values)
		yaxis.Range = r[:]
		yaxis.ZeroLine = true
		yaxis.ZeroLineWidth = 2
		yaxis.ZeroLineColor = ZeroColor
	}

	return Figure{
		Data: []Trace{bar},
		Layout: Layout{
			Title:  Title{Text: title},
			XAxis:  Axis{Title: titled(xTitle)},
			YAxis:  yaxis,
			Margin: defaultMargin(),
			Height: 400,
			Width:  500,
		},
	}
}

func hours() []int {
	h := make([]int, 24)
	for i := range h {
		h[i] = i
	}
	return h
}

// WeekdayBar charts the mean return per weekday.
func WeekdayBar(r analysis.Result) Figure {
	return barFigure("Mean return by weekday", "Weekday", analysis.WeekdayNames[:], r.Weekday[:], r.Empty())
}

// HourlyBar charts the mean return per UTC hour.
func HourlyBar(r analysis.Result) Figure {
	fig := barFigure("Mean return by hour", "Hour (UTC)", hours(), r.Hour[:], r.Empty())
	zero := 0.0
	fig.Layout.XAxis.TickMode = "linear"
	fig.Layout.XAxis.Tick0 = &zero
	fig.Layout.XAxis.DTick = 1
	return fig
}

// Heatmap charts the weekday by hour means, one 75px cell each.
func Heatmap(r analysis.Result) Figure {
	z := make([][]*float64, len(r.Heatmap))
	for d := range r.Heatmap {
		z[d] = finite(r.Heatmap[d][:])
	}

	hs := hours()
	vals := make([]any, len(hs))
	text := make([]string, len(hs))
	for i, h := range hs {
		vals[i] = h
		text[i] = strconv.Itoa(h)
	}
	days := make([]any, len(analysis.WeekdayNames))
	for i, d := range analysis.WeekdayNames {
		days[i] = d
	}

	autosize := false
	return Figure{
		Data: []Trace{{
			Type:       "heatmap",
			X:          hs,
			Y:          analysis.WeekdayNames[:],
			Z:          z,
			Colorscale: "RdBu_r",
		}},
		Layout: Layout{
			Title:    Title{Text: "Mean return by weekday and hour"},
			XAxis:    Axis{TickMode: "array", TickVals: vals, TickText: text},
			YAxis:    Axis{TickMode: "array", TickVals: days, TickText: analysis.WeekdayNames[:]},
			Width:    len(hs) * CellSize,
			Height:   len(analysis.WeekdayNames) * CellSize,
			AutoSize: &autosize,
		},
	}
}

// DepthChart plots the depth ratio per interval as bars with the reference
// close price as a line on a secondary axis. Infinite ratios have no bar.
func DepthChart(symbol string, results []depth.IntervalResult) Figure {
	x := make([]string, len(results))
	ratios := make([]*float64, len(results))
	prices := make([]float64, len(results))
	var plotted []float64
	for i, r := range results {
		x[i] = r.IntervalStart.UTC().Format(time.RFC3339)
		prices[i] = r.ClosePrice
		v := float64(r.DepthRatio)
		if math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		ratios[i] = &v
		plotted = append(plotted, v)
	}

	ratioRange := YRange(plotted)
	priceRange := YRange(prices)
	return Figure{
		Data: []Trace{
			{Type: "bar", Name: "Depth ratio", X: x, Y: ratios},
			{Type: "scatter", Mode: "lines", Name: symbol + " close", X: x, Y: prices, YAxis: "y2"},
		},
		Layout: Layout{
			Title:  Title{Text: symbol + " depth ratio and price"},
			XAxis:  Axis{Title: titled("Interval start (UTC)")},
			YAxis:  Axis{Title: titled("Ask/bid depth ratio"), Range: ratioRange[:]},
			YAxis2: &Axis{Title: titled("Price"), Range: priceRange[:], Overlaying: "y", Side: "right"},
			Margin: defaultMargin(),
			Height: 500,
		},
	}
}
