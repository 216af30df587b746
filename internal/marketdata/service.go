// Package marketdata is the cache-aside read path and the write path over
// the relational store. Reads never fail because of infrastructure: a cache
// miss falls through to the store, and a store that is down or empty yields
// synthesized placeholder data tagged with its provenance.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketcache/internal/cache"
	"marketcache/internal/cachekey"
	"marketcache/internal/logger"
	"marketcache/internal/market"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks caller mistakes; infrastructure errors are never
// wrapped with it.
var ErrInvalidInput = errors.New("invalid input")

// Store is the relational side of the service.
type Store interface {
	Migrate(ctx context.Context) error
	UpsertInstrument(ctx context.Context, inst market.Instrument) error
	Instruments(ctx context.Context) ([]market.Instrument, error)
	InsertPrice(ctx context.Context, p market.PricePoint) error
	UpsertBar(ctx context.Context, b market.HistoryBar) error
	LatestPrices(ctx context.Context) ([]market.Quote, error)
	LatestPrice(ctx context.Context, symbol string) (market.Quote, bool, error)
	History(ctx context.Context, symbol string, g market.Granularity, limit int) ([]market.HistoryBar, error)
}

type Options struct {
	Namespace string
	Tiers     cachekey.Tiers
	// Instruments is the reference list: seeded on startup and used for
	// synthesized snapshots.
	Instruments  []market.Instrument
	HistoryLimit int
	// MaxHistoryLimit caps every history request, including synthesized
	// and cached ones, so all three paths return the same size.
	MaxHistoryLimit int
	Seed            int64
}

type Service struct {
	store Store
	cache cache.Store
	keys  cachekey.Builder
	tiers cachekey.Tiers
	synth *Synthesizer

	instruments  []market.Instrument
	historyLimit int
	maxHistory   int
	now          func() time.Time
}

func NewService(store Store, c cache.Store, opts Options) *Service {
	if c == nil {
		c = cache.Disabled{}
	}
	insts := opts.Instruments
	if len(insts) == 0 {
		insts = []market.Instrument{{Symbol: "BTC", Name: "Bitcoin"}, {Symbol: "ETH", Name: "Ethereum"}}
	}
	maxHistory := opts.MaxHistoryLimit
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, maxHistory)
	return &Service{
		store:        store,
		cache:        c,
		keys:         cachekey.NewBuilder(opts.Namespace),
		tiers:        opts.Tiers,
		synth:        NewSynthesizer(opts.Seed),
		instruments:  insts,
		historyLimit: limit,
		maxHistory:   maxHistory,
		now:          time.Now,
	}
}

// ---------------------------------------------------------------- reads

// GetLatestPrices returns the newest price of every instrument.
func (s *Service) GetLatestPrices(ctx context.Context) []market.PricePointView {
	key := s.keys.LatestPrices()
	var cached []market.PricePointView
	if s.lookup(ctx, key, &cached) && len(cached) > 0 {
		for i := range cached {
			cached[i].Provenance = servedFromCache(cached[i].Provenance)
		}
		return cached
	}

	quotes, err := s.store.LatestPrices(ctx)
	if err != nil {
		logger.Warnf("marketdata: latest prices unavailable, serving synthesized: %v", err)
		return s.synth.Prices(s.instruments, s.now())
	}
	var views []market.PricePointView
	if len(quotes) == 0 {
		views = s.synth.Prices(s.instruments, s.now())
	} else {
		views = make([]market.PricePointView, 0, len(quotes))
		for _, q := range quotes {
			views = append(views, quoteView(q))
		}
	}
	s.cache.Set(ctx, key, views, s.tiers.For(cachekey.KindLatest))
	return views
}

// GetPrice returns the newest price of one instrument.
func (s *Service) GetPrice(ctx context.Context, symbol string) (market.PricePointView, error) {
	sym, err := cachekey.Symbol(symbol)
	if err != nil {
		return market.PricePointView{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	key, _ := s.keys.Price(sym)
	var cached market.PricePointView
	if s.lookup(ctx, key, &cached) && cached.Symbol != "" {
		cached.Provenance = servedFromCache(cached.Provenance)
		return cached, nil
	}

	q, ok, err := s.store.LatestPrice(ctx, sym)
	if err != nil {
		logger.Warnf("marketdata: price %s unavailable, serving synthesized: %v", sym, err)
		return s.synth.Price(s.instrument(sym), s.now()), nil
	}
	view := s.synth.Price(s.instrument(sym), s.now())
	if ok {
		view = quoteView(q)
	}
	s.cache.Set(ctx, key, view, s.tiers.For(cachekey.KindPrice))
	return view, nil
}

// chartEntry remembers how many bars were asked for, so a later request
// for more bars is not answered from a shorter cached window.
type chartEntry struct {
	Limit int                     `json:"limit"`
	Bars  []market.HistoryBarView `json:"bars"`
}

// GetHistory returns up to limit of the newest bars, oldest first.
func (s *Service) GetHistory(ctx context.Context, symbol string, granularity string, limit int) ([]market.HistoryBarView, error) {
	sym, err := cachekey.Symbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	g, err := market.ParseGranularity(granularity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	limit = min(limit, s.maxHistory)
	key, _ := s.keys.Chart(sym, g)

	var entry chartEntry
	if s.lookup(ctx, key, &entry) && entry.Limit >= limit && len(entry.Bars) > 0 {
		bars := tail(entry.Bars, limit)
		for i := range bars {
			bars[i].Provenance = servedFromCache(bars[i].Provenance)
		}
		return bars, nil
	}

	rows, err := s.store.History(ctx, sym, g, limit)
	if err != nil {
		logger.Warnf("marketdata: history %s/%s unavailable, serving synthesized: %v", sym, g, err)
		return s.synth.Bars(sym, g, limit, s.now()), nil
	}
	var bars []market.HistoryBarView
	if len(rows) == 0 {
		bars = s.synth.Bars(sym, g, limit, s.now())
	} else {
		bars = make([]market.HistoryBarView, 0, len(rows))
		for _, b := range rows {
			bars = append(bars, barView(b))
		}
	}
	s.cache.Set(ctx, key, chartEntry{Limit: limit, Bars: bars}, s.tiers.For(cachekey.KindChart))
	return bars, nil
}

// lookup reports a usable cache hit. Undecodable entries count as misses.
func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	v, ok := s.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := v.Decode(dest); err != nil {
		logger.Debugf("marketdata: ignore cache entry %s: %v", key, err)
		return false
	}
	return true
}

func (s *Service) instrument(symbol string) market.Instrument {
	for _, inst := range s.instruments {
		if inst.Symbol == symbol {
			return inst
		}
	}
	return market.Instrument{Symbol: symbol, Name: symbol}
}

// servedFromCache keeps the synthesized tag; anything else read back from
// the cache is reported as cached.
func servedFromCache(p market.Provenance) market.Provenance {
	if p == market.ProvenanceSynthesized {
		return p
	}
	return market.ProvenanceCached
}

func tail[T any](in []T, n int) []T {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}

func quoteView(q market.Quote) market.PricePointView {
	return market.PricePointView{
		Name:       q.Name,
		Symbol:     q.Symbol,
		Price:      market.Float(q.Price),
		Change24h:  market.NullFloat(q.Change24h),
		Timestamp:  market.FormatTime(q.Timestamp),
		Provenance: market.ProvenanceLive,
	}
}

func barView(b market.HistoryBar) market.HistoryBarView {
	return market.HistoryBarView{
		Symbol:      b.Symbol,
		Date:        market.FormatTime(b.Bucket),
		Open:        market.Float(b.Open),
		High:        market.Float(b.High),
		Low:         market.Float(b.Low),
		Close:       market.Float(b.Close),
		Volume:      market.Float(b.Volume),
		QuoteVolume: market.Float(b.QuoteVolume),
		Provenance:  market.ProvenanceLive,
	}
}

// ---------------------------------------------------------------- writes

// RegisterInstrument inserts or renames an instrument.
func (s *Service) RegisterInstrument(ctx context.Context, symbol, name string) error {
	sym, err := cachekey.Symbol(symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: instrument %s needs a name", ErrInvalidInput, sym)
	}
	return s.store.UpsertInstrument(ctx, market.Instrument{Symbol: sym, Name: name})
}

// RecordPrice appends a price observation. A zero timestamp means now.
func (s *Service) RecordPrice(ctx context.Context, symbol string, price decimal.Decimal, change24h decimal.NullDecimal, ts time.Time) error {
	sym, err := cachekey.Symbol(symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidInput, price)
	}
	if ts.IsZero() {
		ts = s.now()
	}
	return s.store.InsertPrice(ctx, market.PricePoint{
		Symbol:    sym,
		Price:     price,
		Change24h: change24h,
		Timestamp: ts.UTC(),
	})
}

// UpsertHistoryBar writes one bar; a second write to the same bucket
// replaces its values.
func (s *Service) UpsertHistoryBar(ctx context.Context, b market.HistoryBar) error {
	sym, err := cachekey.Symbol(b.Symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	b.Symbol = sym
	b.Bucket = b.Bucket.UTC()
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.store.UpsertBar(ctx, b)
}

// ---------------------------------------------------------------- admin

// Migrate creates the schema.
func (s *Service) Migrate(ctx context.Context) error {
	return s.store.Migrate(ctx)
}

// SeedInstruments registers the reference instruments.
func (s *Service) SeedInstruments(ctx context.Context) error {
	var errs []error
	for _, inst := range s.instruments {
		if err := s.RegisterInstrument(ctx, inst.Symbol, inst.Name); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", inst.Symbol, err))
			continue
		}
		logger.Infof("marketdata: instrument ready %s (%s)", inst.Symbol, inst.Name)
	}
	return errors.Join(errs...)
}

// Instruments lists registered instruments, falling back to the reference
// list when the store cannot answer.
func (s *Service) Instruments(ctx context.Context) []market.Instrument {
	list, err := s.store.Instruments(ctx)
	if err != nil || len(list) == 0 {
		if err != nil {
			logger.Warnf("marketdata: list instruments failed: %v", err)
		}
		return append([]market.Instrument(nil), s.instruments...)
	}
	return list
}

// PurgeCache deletes every key of a scope (all, price or chart) and
// returns how many were removed.
func (s *Service) PurgeCache(ctx context.Context, scope string) (int64, error) {
	patterns, err := s.keys.Patterns(cachekey.Scope(scope))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var keys []string
	for _, p := range patterns {
		keys = append(keys, s.cache.Keys(ctx, p)...)
	}
	n := s.cache.Delete(ctx, dedupe(keys)...)
	logger.Infof("marketdata: purged %d cache keys (scope=%s)", n, scope)
	return n, nil
}

// InvalidateInstrument drops the price and chart keys of one instrument.
func (s *Service) InvalidateInstrument(ctx context.Context, symbol string) (int64, error) {
	keys, err := s.keys.InstrumentKeys(symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.cache.Delete(ctx, keys...), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, k := range in {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// HealthReport is the backend health plus key counts per category.
type HealthReport struct {
	cache.Health
	TotalKeys int  `json:"total_keys"`
	PriceKeys int  `json:"price_keys"`
	ChartKeys int  `json:"chart_keys"`
	Latest    bool `json:"latest_prices_cached"`
}

// CacheHealth never fails; an unreachable cache reports zero keys.
func (s *Service) CacheHealth(ctx context.Context) HealthReport {
	report := HealthReport{Health: s.cache.Health(ctx)}
	if !report.Connected() {
		return report
	}
	ns := s.keys.Namespace()
	report.TotalKeys = len(s.cache.Keys(ctx, ns+":*"))
	report.PriceKeys = len(s.cache.Keys(ctx, ns+":"+string(cachekey.KindPrice)+":*"))
	report.ChartKeys = len(s.cache.Keys(ctx, ns+":"+string(cachekey.KindChart)+":*"))
	report.Latest = s.cache.Exists(ctx, s.keys.LatestPrices())
	return report
}
