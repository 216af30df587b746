// Package ingest pulls tickers and klines from the exchange into the write
// path on a schedule aligned to bar close.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marketcache/internal/config"
	"marketcache/internal/logger"
	"marketcache/internal/market"
	"marketcache/internal/pkg/symbol"
	"marketcache/internal/scheduler"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sink is the write path the feeder feeds.
type Sink interface {
	RecordPrice(ctx context.Context, symbol string, price decimal.Decimal, change24h decimal.NullDecimal, ts time.Time) error
	UpsertHistoryBar(ctx context.Context, b market.HistoryBar) error
}

type Options struct {
	Instruments    []market.Instrument
	Quote          string
	Granularities  []market.Granularity
	Interval       time.Duration
	Offset         time.Duration
	BarsPerFetch   int
	RequestsPerSec float64
	RunImmediately bool
	// Concurrency bounds instruments fetched in parallel; the rate limiter
	// still paces every request.
	Concurrency int
}

func OptionsFromConfig(cfg config.IngestConfig, insts []config.InstrumentConfig) (Options, error) {
	interval, err := scheduler.ParseInterval(cfg.Interval)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Quote:          cfg.Quote,
		Interval:       interval,
		Offset:         time.Duration(cfg.OffsetSeconds) * time.Second,
		BarsPerFetch:   cfg.BarsPerFetch,
		RequestsPerSec: cfg.RequestsPerSec,
		RunImmediately: cfg.RunImmediately,
		Concurrency:    cfg.Concurrency,
	}
	for _, raw := range cfg.Granularities {
		g, err := market.ParseGranularity(raw)
		if err != nil {
			return Options{}, err
		}
		opts.Granularities = append(opts.Granularities, g)
	}
	for _, inst := range insts {
		opts.Instruments = append(opts.Instruments, market.Instrument{Symbol: market.NormalizeSymbol(inst.Symbol), Name: inst.Name})
	}
	return opts, nil
}

func (o Options) withDefaults() Options {
	o.Quote = strings.ToUpper(strings.TrimSpace(o.Quote))
	if o.Quote == "" {
		o.Quote = "USDT"
	}
	if len(o.Granularities) == 0 {
		o.Granularities = market.Granularities()
	}
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.BarsPerFetch <= 0 {
		o.BarsPerFetch = 100
	}
	if o.RequestsPerSec <= 0 {
		o.RequestsPerSec = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	return o
}

// Stats counts what the feeder has written since start.
type Stats struct {
	Rounds int64
	Prices int64
	Bars   int64
	Errors int64
}

type Feeder struct {
	ex      Exchange
	sink    Sink
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	rounds, prices, bars, errs atomic.Int64
}

func NewFeeder(ex Exchange, sink Sink, opts Options) *Feeder {
	opts = opts.withDefaults()
	return &Feeder{
		ex:      ex,
		sink:    sink,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		now:     time.Now,
	}
}

// Pair maps an instrument code to its exchange contract, e.g. BTC -> BTCUSDT.
func (f *Feeder) Pair(sym string) string {
	return symbol.New(sym, f.opts.Quote).Binance()
}

// Run blocks until ctx is done, pulling once per interval boundary.
func (f *Feeder) Run(ctx context.Context) error {
	if len(f.opts.Instruments) == 0 {
		logger.Warnf("ingest: no instruments configured, feeder idle")
		<-ctx.Done()
		return nil
	}
	sched := scheduler.NewAlignedScheduler("ingest", f.opts.Interval, f.opts.Offset)
	sched.RunImmediately = f.opts.RunImmediately
	err := sched.Run(ctx, func(ctx context.Context) {
		if err := f.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warnf("ingest: round finished with errors: %v", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce pulls every instrument once. One failing instrument does not stop
// the others; all failures are joined.
func (f *Feeder) RunOnce(ctx context.Context) error {
	f.rounds.Add(1)
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, inst := range f.opts.Instruments {
		g.Go(func() error {
			if err := f.pull(gctx, inst); err != nil {
				f.errs.Add(1)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (f *Feeder) pull(ctx context.Context, inst market.Instrument) error {
	pair := f.Pair(inst.Symbol)
	var errs []error

	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	if t, err := f.ex.Ticker(ctx, pair); err != nil {
		errs = append(errs, err)
	} else if err := f.sink.RecordPrice(ctx, inst.Symbol, t.Last, t.ChangePct, t.At); err != nil {
		errs = append(errs, fmt.Errorf("record %s price: %w", inst.Symbol, err))
	} else {
		f.prices.Add(1)
	}

	for _, g := range f.opts.Granularities {
		if err := f.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := f.pullBars(ctx, inst.Symbol, pair, g)
		f.bars.Add(int64(n))
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		logger.Debugf("ingest: %s pulled", pair)
	}
	return errors.Join(errs...)
}

func (f *Feeder) pullBars(ctx context.Context, sym, pair string, g market.Granularity) (int, error) {
	bars, err := f.ex.Klines(ctx, pair, g, f.opts.BarsPerFetch)
	if err != nil {
		return 0, err
	}
	bars = scheduler.DropUnclosedBars(bars, f.now(), scheduler.DefaultKlineGrace)
	written := 0
	for _, b := range bars {
		b.Symbol = sym
		if err := f.sink.UpsertHistoryBar(ctx, b); err != nil {
			return written, fmt.Errorf("upsert %s %s bar %s: %w", sym, g, market.FormatTime(b.Bucket), err)
		}
		written++
	}
	return written, nil
}

func (f *Feeder) Stats() Stats {
	return Stats{
		Rounds: f.rounds.Load(),
		Prices: f.prices.Load(),
		Bars:   f.bars.Load(),
		Errors: f.errs.Load(),
	}
}
