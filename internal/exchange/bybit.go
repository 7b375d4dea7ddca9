package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBybitURL = "https://api.bybit.com"

// Bybit market categories.
const (
	BybitSpot    = "spot"
	BybitLinear  = "linear"
	BybitInverse = "inverse"
)

type BybitConfig struct {
	BaseURL    string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type Bybit struct {
	cfg  BybitConfig
	rest restClient
}

func NewBybit(cfg BybitConfig) *Bybit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBybitURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Bybit{cfg: cfg, rest: newRESTClient("bybit", cfg.HTTPClient, cfg.Timeout)}
}

func (b *Bybit) Name() string {
	return "bybit"
}

// BybitTicker is a v5 market ticker. Volume24h is in base units, except for
// inverse contracts where it is already USD.
type BybitTicker struct {
	Category    string
	Symbol      string
	LastPrice   decimal.Decimal
	Volume24h   decimal.Decimal
	Turnover24h decimal.Decimal
}

type bybitEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol      string `json:"symbol"`
			LastPrice   string `json:"lastPrice"`
			Volume24h   string `json:"volume24h"`
			Turnover24h string `json:"turnover24h"`
		} `json:"list"`
	} `json:"result"`
}

func (b *Bybit) Tickers(ctx context.Context, category string) ([]BybitTicker, error) {
	switch category {
	case BybitSpot, BybitLinear, BybitInverse:
	default:
		return nil, fmt.Errorf("unknown bybit category %q", category)
	}

	q := url.Values{}
	q.Set("category", category)

	var env bybitEnvelope
	err := retry(ctx, b.Name(), b.cfg.Retries, b.cfg.RetryDelay, func() error {
		env = bybitEnvelope{}
		if err := b.rest.getJSON(ctx, b.cfg.BaseURL, "/v5/market/tickers", q, nil, &env); err != nil {
			return err
		}
		if env.RetCode != 0 {
			return &APIError{Exchange: b.Name(), StatusCode: http.StatusOK, Code: env.RetCode, Message: env.RetMsg}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bybit %s tickers: %w", category, err)
	}

	out := make([]BybitTicker, 0, len(env.Result.List))
	for _, t := range env.Result.List {
		out = append(out, BybitTicker{
			Category:    category,
			Symbol:      t.Symbol,
			LastPrice:   toDecimal(t.LastPrice),
			Volume24h:   toDecimal(t.Volume24h),
			Turnover24h: toDecimal(t.Turnover24h),
		})
	}
	return out, nil
}
