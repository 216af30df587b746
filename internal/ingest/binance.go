package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketcache/internal/market"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const maxKlineLimit = 1500

// Ticker is the 24h rolling statistic of one contract.
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	ChangePct decimal.NullDecimal
	At        time.Time
}

// Exchange is what the feeder pulls from.
type Exchange interface {
	Ticker(ctx context.Context, pair string) (Ticker, error)
	Klines(ctx context.Context, pair string, g market.Granularity, limit int) ([]market.HistoryBar, error)
}

type BinanceConfig struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	c.RESTBaseURL = strings.TrimSpace(c.RESTBaseURL)
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// Binance 基于 go-binance futures REST 拉取 ticker 与 K线。
type Binance struct {
	client *futures.Client
}

var _ Exchange = (*Binance)(nil)

func NewBinance(cfg BinanceConfig) *Binance {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Binance{client: client}
}

func (b *Binance) Ticker(ctx context.Context, pair string) (Ticker, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return Ticker{}, fmt.Errorf("pair is required")
	}
	res, err := b.client.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return Ticker{}, fmt.Errorf("ticker %s: %w", pair, err)
	}
	for _, st := range res {
		if st == nil || !strings.EqualFold(st.Symbol, pair) {
			continue
		}
		return tickerFromStats(st)
	}
	return Ticker{}, fmt.Errorf("ticker %s: not in response", pair)
}

func tickerFromStats(st *futures.PriceChangeStats) (Ticker, error) {
	last, err := decimal.NewFromString(strings.TrimSpace(st.LastPrice))
	if err != nil {
		return Ticker{}, fmt.Errorf("ticker %s: bad last price %q: %w", st.Symbol, st.LastPrice, err)
	}
	t := Ticker{Symbol: st.Symbol, Last: last, At: time.UnixMilli(st.CloseTime).UTC()}
	if pct, err := decimal.NewFromString(strings.TrimSpace(st.PriceChangePercent)); err == nil {
		t.ChangePct = decimal.NewNullDecimal(pct)
	}
	return t, nil
}

// Klines returns bars oldest first, symbol left as the exchange pair.
func (b *Binance) Klines(ctx context.Context, pair string, g market.Granularity, limit int) ([]market.HistoryBar, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return nil, fmt.Errorf("pair is required")
	}
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownGranularity, g)
	}
	kls, err := b.client.NewKlinesService().Symbol(pair).Interval(g.Interval()).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", pair, g.Interval(), err)
	}
	out := make([]market.HistoryBar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		bar, err := barFromKline(pair, g, kl)
		if err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, nil
}

func barFromKline(pair string, g market.Granularity, kl *futures.Kline) (market.HistoryBar, error) {
	fields := []string{kl.Open, kl.High, kl.Low, kl.Close, kl.Volume, kl.QuoteAssetVolume}
	vals := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f))
		if err != nil {
			return market.HistoryBar{}, fmt.Errorf("kline %s@%d: bad number %q: %w", pair, kl.OpenTime, f, err)
		}
		vals[i] = d
	}
	return market.HistoryBar{
		Symbol:      pair,
		Granularity: g,
		Bucket:      time.UnixMilli(kl.OpenTime).UTC(),
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		Volume:      vals[4],
		QuoteVolume: vals[5],
	}, nil
}
