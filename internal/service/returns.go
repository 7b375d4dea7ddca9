package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/analysis"
	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/amirphl/depth-analytics/internal/utils"
)

const (
	DefaultLookback         = 90 * 24 * time.Hour
	DefaultReturnsTimeframe = "1h"
)

// Returns is the seasonality of one symbol over a lookback window.
type Returns struct {
	Symbol  string          `json:"symbol"`
	Start   time.Time       `json:"start"`
	End     time.Time       `json:"end"`
	Candles int             `json:"candles"`
	Result  analysis.Result `json:"result"`
}

type ReturnsService struct {
	source    exchange.KlineSource
	timeframe string
	lookback  time.Duration
	now       func() time.Time
}

// NewReturnsService uses the defaults for an empty timeframe or a
// non-positive lookback.
func NewReturnsService(source exchange.KlineSource, timeframe string, lookback time.Duration) *ReturnsService {
	if timeframe == "" {
		timeframe = DefaultReturnsTimeframe
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &ReturnsService{source: source, timeframe: timeframe, lookback: lookback, now: time.Now}
}

// Compute fetches candles over the lookback ending now and groups
// their returns by weekday and hour. A non-positive lookback uses the
// service default.
func (s *ReturnsService) Compute(ctx context.Context, symbol string, lookback time.Duration) (*Returns, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if lookback <= 0 {
		lookback = s.lookback
	}

	end := s.now().UTC()
	start := end.Add(-lookback)
	candles, err := s.source.FetchCandles(ctx, symbol, s.timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s candles for %s: %w", s.timeframe, symbol, err)
	}
	utils.GetLogger().Debugf("ReturnsService | %d candles for %s from %s", len(candles), symbol, s.source.Name())

	return &Returns{
		Symbol:  symbol,
		Start:   start,
		End:     end,
		Candles: len(candles),
		Result:  analysis.Returns(candles),
	}, nil
}
