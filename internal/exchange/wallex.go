package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/candle"
	"github.com/amirphl/depth-analytics/internal/tfutils"
	"github.com/amirphl/depth-analytics/internal/utils"
	"github.com/shopspring/decimal"
	wallex "github.com/wallexchange/wallex-go"
)

// wallexAPI is the subset of the wallex-go client used here.
type wallexAPI interface {
	Markets() ([]*wallex.Market, error)
	Candles(symbol, resolution string, from, to time.Time) ([]*wallex.Candle, error)
}

type Wallex struct {
	client     wallexAPI
	retries    int
	retryDelay time.Duration
}

func NewWallex(apiKey string) *Wallex {
	return &Wallex{
		client:     wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		retries:    3,
		retryDelay: 2 * time.Second,
	}
}

func (w *Wallex) Name() string {
	return "wallex"
}

// WallexMarket holds the 24h statistics of one market.
type WallexMarket struct {
	Symbol         string
	LastPrice      decimal.Decimal
	Volume24h      decimal.Decimal
	QuoteVolume24h decimal.Decimal
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// wallexResolution maps a timeframe to the resolution strings of the
// Wallex candle endpoint.
func wallexResolution(timeframe string) string {
	switch timeframe {
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "1D"
	default:
		return strings.TrimSuffix(timeframe, "m")
	}
}

func (w *Wallex) FetchCandles(ctx context.Context, symbol string, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}

	var wallexCandles []*wallex.Candle
	select {
	case <-ctx.Done():
		utils.GetLogger().Printf("Exchange | %s FetchCandles timeout", w.Name())
		return nil, ctx.Err()
	default:
		err := retry(ctx, w.Name(), w.retries, w.retryDelay, func() error {
			var err error
			wallexCandles, err = w.client.Candles(NormalizeSymbol(symbol), wallexResolution(timeframe), start, end)
			if err != nil {
				return fmt.Errorf("fetching candles: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("FetchCandles failed: %w", err)
		}
	}

	var candles []candle.Candle
	for _, wc := range wallexCandles {
		open, _ := strconv.ParseFloat(string(wc.Open), 64)
		high, _ := strconv.ParseFloat(string(wc.High), 64)
		low, _ := strconv.ParseFloat(string(wc.Low), 64)
		closePrice, _ := strconv.ParseFloat(string(wc.Close), 64)
		volume, _ := strconv.ParseFloat(string(wc.Volume), 64)

		c := candle.Candle{
			Timestamp: wc.Timestamp.UTC().Truncate(time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    w.Name(),
		}
		if err := c.Validate(); err != nil {
			continue
		}
		candles = append(candles, c)
	}

	return candles, nil
}

// MarketStats returns the 24h statistics of every Wallex market.
func (w *Wallex) MarketStats(ctx context.Context) ([]WallexMarket, error) {
	var markets []*wallex.Market
	select {
	case <-ctx.Done():
		utils.GetLogger().Printf("Exchange | %s MarketStats timeout", w.Name())
		return nil, ctx.Err()
	default:
		err := retry(ctx, w.Name(), w.retries, w.retryDelay, func() error {
			var err error
			markets, err = w.client.Markets()
			if err != nil {
				return fmt.Errorf("fetching market stats: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("market stats failed: %w", err)
		}
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("no markets found")
	}

	out := make([]WallexMarket, 0, len(markets))
	for _, m := range markets {
		if m == nil {
			continue
		}
		out = append(out, WallexMarket{
			Symbol:         m.Symbol,
			LastPrice:      toDecimal(string(m.Stats.LastPrice)),
			Volume24h:      toDecimal(string(m.Stats.Volume24H)),
			QuoteVolume24h: toDecimal(string(m.Stats.QuoteVolume24H)),
		})
	}
	return out, nil
}
