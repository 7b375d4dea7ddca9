// Package exchange
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/candle"
	"github.com/shopspring/decimal"
)

// ErrAPI matches every *APIError via errors.Is.
var ErrAPI = errors.New("exchange api error")

// APIError is returned when a venue answers with a non-success status or an
// error envelope.
type APIError struct {
	Exchange   string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s api error: status %d, code %d: %s", e.Exchange, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: status %d: %s", e.Exchange, e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// KlineSource is implemented by every exchange that serves historical candles.
type KlineSource interface {
	Name() string
	FetchCandles(ctx context.Context, symbol string, timeframe string, start, end time.Time) ([]candle.Candle, error)
}

// Ticker24h is a rolling 24h ticker. Volume is in base units (contracts for
// coin-margined futures), QuoteVolume in quote units.
type Ticker24h struct {
	Symbol      string
	LastPrice   decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
}

// PriceTicker is a last traded price.
type PriceTicker struct {
	Symbol string
	Price  decimal.Decimal
}

// SymbolInfo describes a spot market.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Status     string `json:"status"`
}

const maxErrorBody = 512

type restClient struct {
	name string
	http *http.Client
}

func newRESTClient(name string, c *http.Client, timeout time.Duration) restClient {
	if c == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c = &http.Client{Timeout: timeout}
	}
	return restClient{name: name, http: c}
}

// getJSON issues a GET against base+path and decodes a 200 response into out.
func (c restClient) getJSON(ctx context.Context, base, path string, query url.Values, header http.Header, out any) error {
	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request %s failed: %w", c.name, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Exchange: c.name, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var envelope struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Msg != "" {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Msg
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// toDecimal parses exchange number strings. Empty or malformed values are zero.
func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
