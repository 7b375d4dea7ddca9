// Package volume ranks markets by 24h traded volume in USD across Binance,
// Bybit and Wallex.
package volume

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTopN is the number of markets kept per ranking.
	DefaultTopN = 10
	TimeLayout  = "2006-01-02 15:04:05 UTC"
)

type Entry struct {
	Rank      int             `json:"rank"`
	Symbol    string          `json:"symbol"`
	VolumeUSD decimal.Decimal `json:"volume_usd"`
	// Contract is set for futures, e.g. "USDT-Margined".
	Contract string `json:"contract,omitempty"`
}

// Ranking is the ordered top list of one venue and market type.
type Ranking struct {
	Venue   string  `json:"venue"`
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// Snapshot is one refresh of every ranking. Errors holds the venues that
// failed, keyed by venue name.
type Snapshot struct {
	Rankings    []Ranking         `json:"rankings"`
	LastUpdated time.Time         `json:"last_updated"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// Age reports how old the snapshot is at now. A zero snapshot is
// infinitely old.
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.LastUpdated.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.LastUpdated)
}

func (s Snapshot) Ranking(title string) (Ranking, bool) {
	for _, r := range s.Rankings {
		if r.Title == title {
			return r, true
		}
	}
	return Ranking{}, false
}

// Top sorts candidates by USD volume, descending, and keeps the first n
// with ranks assigned. Ties are broken by symbol. The input is not modified.
func Top(candidates []Entry, n int) []Entry {
	entries := make([]Entry, len(candidates))
	copy(entries, candidates)
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].VolumeUSD.Cmp(entries[j].VolumeUSD); c != 0 {
			return c > 0
		}
		return entries[i].Symbol < entries[j].Symbol
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// FormatUSD renders an amount with thousands separators and two decimals,
// e.g. $1,234,567.89.
func FormatUSD(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

// Format renders the snapshot as the message sent to notification channels.
func Format(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Volume top %d update (%s)\n", DefaultTopN, s.LastUpdated.UTC().Format(TimeLayout))
	for _, r := range s.Rankings {
		fmt.Fprintf(&b, "\n%s:\n```\n", r.Title)
		if len(r.Entries) == 0 {
			b.WriteString("no data\n")
		}
		for _, e := range r.Entries {
			fmt.Fprintf(&b, "%d. %-15s - %s", e.Rank, e.Symbol, FormatUSD(e.VolumeUSD))
			if e.Contract != "" {
				fmt.Fprintf(&b, " (%s)", e.Contract)
			}
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}
	if len(s.Errors) > 0 {
		venues := make([]string, 0, len(s.Errors))
		for v := range s.Errors {
			venues = append(venues, v)
		}
		sort.Strings(venues)
		b.WriteString("\nUnavailable:\n")
		for _, v := range venues {
			fmt.Fprintf(&b, "%s: %s\n", v, s.Errors[v])
		}
	}
	return b.String()
}
