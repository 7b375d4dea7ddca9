package volume

import (
	"strings"
	"unicode"

	"github.com/amirphl/depth-analytics/internal/exchange"
	"github.com/shopspring/decimal"
)

const (
	TitleBinanceSpot = "Binance Spot"
	TitleBinancePerp = "Binance Perpetual"
	TitleBybitSpot   = "Bybit Spot"
	TitleBybitPerp   = "Bybit Perpetual"
	TitleWallexSpot  = "Wallex Spot"

	ContractUSDTMargined = "USDT-Margined"
	ContractCoinMargined = "COIN-Margined"
)

var (
	btcContractSize   = decimal.NewFromInt(100)
	otherContractSize = decimal.NewFromInt(10)
)

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// ExchangeRates maps an asset to its USDT price, taken from every *USDT
// spot pair.
func ExchangeRates(prices []exchange.PriceTicker) map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal)
	for _, p := range prices {
		if base, ok := strings.CutSuffix(p.Symbol, "USDT"); ok && base != "" {
			rates[base] = p.Price
		}
	}
	return rates
}

// BinanceSpotUSD converts one spot ticker to USD volume. Pairs whose assets
// have no known rate count as zero.
func BinanceSpotUSD(t exchange.Ticker24h, info exchange.SymbolInfo, rates map[string]decimal.Decimal) decimal.Decimal {
	switch {
	case info.QuoteAsset == "USDT":
		return t.QuoteVolume
	case info.BaseAsset == "USDT":
		return t.Volume
	}
	if rate, ok := rates[info.QuoteAsset]; ok {
		return t.QuoteVolume.Mul(rate)
	}
	if rate, ok := rates[info.BaseAsset]; ok {
		return t.Volume.Mul(rate)
	}
	return decimal.Zero
}

// BinanceSpot prices every spot ticker in USD. Symbols missing from the
// exchange info are kept with zero volume.
func BinanceSpot(tickers []exchange.Ticker24h, info []exchange.SymbolInfo, rates map[string]decimal.Decimal) []Entry {
	bySymbol := make(map[string]exchange.SymbolInfo, len(info))
	for _, s := range info {
		bySymbol[s.Symbol] = s
	}

	out := make([]Entry, 0, len(tickers))
	for _, t := range tickers {
		v := decimal.Zero
		if si, ok := bySymbol[t.Symbol]; ok {
			v = BinanceSpotUSD(t, si, rates)
		}
		out = append(out, Entry{Symbol: t.Symbol, VolumeUSD: v})
	}
	return out
}

// IsBinancePerpetual reports whether a futures symbol is perpetual rather
// than dated.
func IsBinancePerpetual(symbol string) bool {
	return strings.HasSuffix(symbol, "PERP") || !hasDigit(symbol)
}

// CoinContractSize is the USD face value of one COIN-M contract.
func CoinContractSize(symbol string) decimal.Decimal {
	if strings.HasPrefix(symbol, "BTCUSD") {
		return btcContractSize
	}
	return otherContractSize
}

// BinanceFutures merges USDT-M and COIN-M perpetuals. USDT-M volume is the
// quote volume; COIN-M volume is contracts times contract size.
func BinanceFutures(usdm, coinm []exchange.Ticker24h) []Entry {
	out := make([]Entry, 0, len(usdm)+len(coinm))
	for _, t := range usdm {
		if IsBinancePerpetual(t.Symbol) {
			out = append(out, Entry{Symbol: t.Symbol, VolumeUSD: t.QuoteVolume, Contract: ContractUSDTMargined})
		}
	}
	for _, t := range coinm {
		if IsBinancePerpetual(t.Symbol) {
			out = append(out, Entry{Symbol: t.Symbol, VolumeUSD: t.Volume.Mul(CoinContractSize(t.Symbol)), Contract: ContractCoinMargined})
		}
	}
	return out
}

// IsBybitPerpetual reports whether a derivatives symbol has no delivery date.
func IsBybitPerpetual(symbol string) bool {
	return !hasDigit(symbol)
}

func bybitBTCPrice(tickers []exchange.BybitTicker) (decimal.Decimal, bool) {
	for _, t := range tickers {
		if t.Symbol == "BTCUSDT" {
			return t.LastPrice, true
		}
	}
	return decimal.Zero, false
}

// BybitUSD converts a ticker to USD volume. Denominated symbols (1000PEPE,
// 10000SATS) are rescaled first. BTC-quoted pairs go through the BTCUSDT
// price when one is known.
func BybitUSD(t exchange.BybitTicker, btcPrice decimal.Decimal, haveBTC bool, perp bool) decimal.Decimal {
	if perp && strings.HasSuffix(t.Symbol, "USD") && IsBybitPerpetual(t.Symbol) {
		return t.Volume24h
	}

	volume, price := t.Volume24h, t.LastPrice
	for _, prefix := range []string{"10000", "1000"} {
		if strings.HasPrefix(t.Symbol, prefix) {
			d := decimal.RequireFromString(prefix)
			volume = volume.Div(d)
			price = price.Mul(d)
			break
		}
	}

	switch {
	case strings.HasSuffix(t.Symbol, "USDT"), strings.HasSuffix(t.Symbol, "USDC"), strings.HasSuffix(t.Symbol, "USD"):
		return volume.Mul(price)
	case strings.HasSuffix(t.Symbol, "BTC") && haveBTC:
		return volume.Mul(btcPrice).Mul(price)
	default:
		return volume.Mul(price)
	}
}

func BybitSpot(tickers []exchange.BybitTicker) []Entry {
	btc, ok := bybitBTCPrice(tickers)
	out := make([]Entry, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, Entry{Symbol: t.Symbol, VolumeUSD: BybitUSD(t, btc, ok, false)})
	}
	return out
}

// BybitPerpetual ranks linear and inverse perpetuals together. Dated
// contracts are dropped.
func BybitPerpetual(linear, inverse []exchange.BybitTicker) []Entry {
	all := make([]exchange.BybitTicker, 0, len(linear)+len(inverse))
	all = append(all, linear...)
	all = append(all, inverse...)
	btc, ok := bybitBTCPrice(all)

	out := make([]Entry, 0, len(all))
	for _, t := range all {
		if !IsBybitPerpetual(t.Symbol) {
			continue
		}
		out = append(out, Entry{Symbol: t.Symbol, VolumeUSD: BybitUSD(t, btc, ok, true)})
	}
	return out
}

// WallexSpot keeps the USDT-quoted markets, valued at their quote volume.
func WallexSpot(markets []exchange.WallexMarket) []Entry {
	out := make([]Entry, 0, len(markets))
	for _, m := range markets {
		if strings.HasSuffix(strings.ToUpper(m.Symbol), "USDT") {
			out = append(out, Entry{Symbol: m.Symbol, VolumeUSD: m.QuoteVolume24h})
		}
	}
	return out
}
