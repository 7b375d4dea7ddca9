package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/amirphl/depth-analytics/internal/candle"
	"github.com/amirphl/depth-analytics/internal/tfutils"
)

const (
	DefaultBinanceSpotURL  = "https://api.binance.com"
	DefaultBinanceUSDMURL  = "https://fapi.binance.com"
	DefaultBinanceCOINMURL = "https://dapi.binance.com"

	binanceKlineLimit = 1000
)

// Margin selects a Binance futures venue.
type Margin string

const (
	USDMargined  Margin = "usdm"
	CoinMargined Margin = "coinm"
)

type BinanceConfig struct {
	APIKey     string
	SecretKey  string
	SpotURL    string
	USDMURL    string
	COINMURL   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type Binance struct {
	cfg  BinanceConfig
	rest restClient
	now  func() time.Time
}

func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.SpotURL == "" {
		cfg.SpotURL = DefaultBinanceSpotURL
	}
	if cfg.USDMURL == "" {
		cfg.USDMURL = DefaultBinanceUSDMURL
	}
	if cfg.COINMURL == "" {
		cfg.COINMURL = DefaultBinanceCOINMURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Binance{
		cfg:  cfg,
		rest: newRESTClient("binance", cfg.HTTPClient, cfg.Timeout),
		now:  time.Now,
	}
}

func (b *Binance) Name() string {
	return "binance"
}

func (b *Binance) get(ctx context.Context, base, path string, query url.Values, out any) error {
	return retry(ctx, b.Name(), b.cfg.Retries, b.cfg.RetryDelay, func() error {
		return b.rest.getJSON(ctx, base, path, query, nil, out)
	})
}

// FetchCandles pages through /api/v3/klines for candles opened in [start, end].
func (b *Binance) FetchCandles(ctx context.Context, symbol string, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}

	var candles []candle.Candle
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	for cursor <= endMs {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", timeframe)
		q.Set("startTime", strconv.FormatInt(cursor, 10))
		q.Set("endTime", strconv.FormatInt(endMs, 10))
		q.Set("limit", strconv.Itoa(binanceKlineLimit))

		var rows [][]any
		if err := b.get(ctx, b.cfg.SpotURL, "/api/v3/klines", q, &rows); err != nil {
			return nil, fmt.Errorf("FetchCandles failed: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		last := cursor
		for _, row := range rows {
			c, err := parseKline(row)
			if err != nil {
				return nil, err
			}
			c.Symbol = symbol
			c.Timeframe = timeframe
			c.Source = b.Name()
			candles = append(candles, c)
			last = c.Timestamp.UnixMilli()
		}

		if len(rows) < binanceKlineLimit || last < cursor {
			break
		}
		cursor = last + 1
	}

	return candles, nil
}

func parseKline(row []any) (candle.Candle, error) {
	if len(row) < 6 {
		return candle.Candle{}, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return candle.Candle{}, fmt.Errorf("kline open time %v is not a number", row[0])
	}

	var vals [5]float64
	for i := range vals {
		s, ok := row[i+1].(string)
		if !ok {
			return candle.Candle{}, fmt.Errorf("kline field %d is not a string", i+1)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return candle.Candle{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return candle.Candle{
		Timestamp: time.UnixMilli(int64(openTime)).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// HistDataLink is one downloadable order-book archive.
type HistDataLink struct {
	Day string `json:"day"`
	URL string `json:"url"`
}

// HistDataLinks asks the signed /sapi/v1/futures/histDataLink endpoint for
// archive links covering [start, end]. An empty slice means nothing has been
// published for the window yet.
func (b *Binance) HistDataLinks(ctx context.Context, symbol string, start, end time.Time, dataType string) ([]HistDataLink, error) {
	if b.cfg.APIKey == "" || b.cfg.SecretKey == "" {
		return nil, errors.New("binance api key and secret are required for historical data links")
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("dataType", dataType)
	q.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	q.Set("signature", sign(b.cfg.SecretKey, q.Encode()))

	header := http.Header{}
	header.Set("X-MBX-APIKEY", b.cfg.APIKey)

	var resp struct {
		Data []HistDataLink `json:"data"`
	}
	if err := b.rest.getJSON(ctx, b.cfg.SpotURL, "/sapi/v1/futures/histDataLink", q, header, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []HistDataLink{}, nil
	}
	return resp.Data, nil
}

// sign is the HMAC-SHA256 hex digest Binance expects over the query string.
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type binanceTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quoteVolume"`
}

func (t binanceTicker) toTicker() Ticker24h {
	return Ticker24h{
		Symbol:      t.Symbol,
		LastPrice:   toDecimal(t.LastPrice),
		Volume:      toDecimal(t.Volume),
		QuoteVolume: toDecimal(t.QuoteVolume),
	}
}

func (b *Binance) tickers(ctx context.Context, base, path string) ([]Ticker24h, error) {
	var raw []binanceTicker
	if err := b.get(ctx, base, path, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Ticker24h, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.toTicker())
	}
	return out, nil
}

func (b *Binance) SpotTickers24h(ctx context.Context) ([]Ticker24h, error) {
	return b.tickers(ctx, b.cfg.SpotURL, "/api/v3/ticker/24hr")
}

// FuturesTickers24h returns 24h tickers of the USD-M or COIN-M venue. For
// COIN-M, Volume counts contracts.
func (b *Binance) FuturesTickers24h(ctx context.Context, m Margin) ([]Ticker24h, error) {
	switch m {
	case USDMargined:
		return b.tickers(ctx, b.cfg.USDMURL, "/fapi/v1/ticker/24hr")
	case CoinMargined:
		return b.tickers(ctx, b.cfg.COINMURL, "/dapi/v1/ticker/24hr")
	default:
		return nil, fmt.Errorf("unknown futures margin %q", m)
	}
}

func (b *Binance) SpotPrices(ctx context.Context) ([]PriceTicker, error) {
	var raw []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := b.get(ctx, b.cfg.SpotURL, "/api/v3/ticker/price", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]PriceTicker, 0, len(raw))
	for _, p := range raw {
		out = append(out, PriceTicker{Symbol: p.Symbol, Price: toDecimal(p.Price)})
	}
	return out, nil
}

func (b *Binance) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var raw struct {
		Symbols []SymbolInfo `json:"symbols"`
	}
	if err := b.get(ctx, b.cfg.SpotURL, "/api/v3/exchangeInfo", nil, &raw); err != nil {
		return nil, err
	}
	return raw.Symbols, nil
}

// ClosePriceProvider resolves reference prices from candle close prices
// keyed by open time.
type ClosePriceProvider struct {
	Source    KlineSource
	Symbol    string
	Timeframe string
}

func (p ClosePriceProvider) GetPrices(ctx context.Context, starts []time.Time) (map[time.Time]float64, error) {
	if len(starts) == 0 {
		return map[time.Time]float64{}, nil
	}
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = "5m"
	}

	lo, hi := starts[0], starts[0]
	for _, s := range starts[1:] {
		if s.Before(lo) {
			lo = s
		}
		if s.After(hi) {
			hi = s
		}
	}

	candles, err := p.Source.FetchCandles(ctx, p.Symbol, timeframe, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch close prices for %s: %w", p.Symbol, err)
	}
	return candle.CloseByOpenTime(candles), nil
}
