package app

import (
	"context"
	"fmt"
	"strings"

	"marketcache/internal/cache"
	"marketcache/internal/config"
	cfgloader "marketcache/internal/config/loader"
	"marketcache/internal/ingest"
	"marketcache/internal/logger"
	"marketcache/internal/market"
	"marketcache/internal/marketdata"
	"marketcache/internal/store/pool"
	"marketcache/internal/store/repository"
	"marketcache/internal/store/sqlexec"
)

// ConfigPath is the file the watcher follows; empty disables hot reload.
type ConfigPath string

type AppBuilder struct {
	cfg  *config.Config
	path ConfigPath

	openerFn   func(config.DatabaseConfig) (pool.Opener, error)
	cacheFn    func(context.Context, config.CacheConfig) (cache.Store, error)
	exchangeFn func(config.IngestConfig) ingest.Exchange
}

type AppBuilderOption func(*AppBuilder)

// WithOpener replaces the database opener, e.g. with an in-memory SQLite one.
func WithOpener(fn func(config.DatabaseConfig) (pool.Opener, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.openerFn = fn }
}

func WithCache(fn func(context.Context, config.CacheConfig) (cache.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.cacheFn = fn }
}

func WithExchange(fn func(config.IngestConfig) ingest.Exchange) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

func NewAppBuilder(cfg *config.Config, path ConfigPath, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		path:       path,
		openerFn:   pool.OpenerFor,
		cacheFn:    buildCache,
		exchangeFn: buildExchange,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	opener, err := b.openerFn(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database opener: %w", err)
	}
	mgr := pool.NewManager(ctx, opener, pool.OptionsFromConfig(cfg.Database))
	exec := sqlexec.New(mgr, sqlexec.OptionsFromConfig(cfg.Database))
	repo := repository.New(exec)

	store, err := b.cacheFn(ctx, cfg.Cache)
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	instruments := referenceInstruments(cfg.Instruments)
	svc := marketdata.NewService(repo, store, marketdata.Options{
		Namespace:       cfg.Cache.Namespace,
		Tiers:           cfg.Cache.Tiers(),
		Instruments:     instruments,
		HistoryLimit:    repository.DefaultHistoryLimit,
		MaxHistoryLimit: repository.MaxHistoryLimit,
	})

	// 数据库不可用时只告警：读路径会降级为合成数据，下次访问时连接池自愈。
	if cfg.Database.AutoMigrate {
		if err := svc.Migrate(ctx); err != nil {
			logger.Warnf("schema migrate skipped: %v", err)
		} else if err := svc.SeedInstruments(ctx); err != nil {
			logger.Warnf("instrument seed incomplete: %v", err)
		}
	}

	app := &App{
		cfg:     cfg,
		pool:    mgr,
		cache:   store,
		service: svc,
	}

	if cfg.Ingest.Enabled {
		opts, err := ingest.OptionsFromConfig(cfg.Ingest, cfg.Instruments)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("ingest options: %w", err)
		}
		app.feeder = ingest.NewFeeder(b.exchangeFn(cfg.Ingest), svc, opts)
	}

	if path := strings.TrimSpace(string(b.path)); path != "" {
		w, err := cfgloader.NewWatcher(path)
		if err != nil {
			logger.Warnf("config watcher disabled: %v", err)
		} else {
			w.Subscribe(cfgloader.ApplyLogLevel)
			app.watcher = w
		}
	}

	registered := instruments
	if mgr.State() == pool.StateReady {
		registered = svc.Instruments(ctx)
	}
	app.Summary = newStartupSummary(cfg, mgr.State(), store.Health(ctx), registered)
	return app, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "redis":
		dial, read, write := cfg.Timeouts()
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:             cfg.Addr,
			Password:         cfg.Password,
			DB:               cfg.DB,
			DialTimeout:      dial,
			ReadTimeout:      read,
			WriteTimeout:     write,
			PoolSize:         cfg.PoolSize,
			BreakerThreshold: cfg.BreakerThreshold,
			BreakerCooldown:  cfg.BreakerCooldown(),
		}), nil
	case "memory":
		return cache.NewMemoryStore(), nil
	case "none", "":
		logger.Warnf("cache disabled, every read goes to the store")
		return cache.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

func buildExchange(cfg config.IngestConfig) ingest.Exchange {
	return ingest.NewBinance(ingest.BinanceConfig{
		RESTBaseURL: cfg.RESTBaseURL,
		HTTPTimeout: cfg.Timeout(),
	})
}

func referenceInstruments(list []config.InstrumentConfig) []market.Instrument {
	out := make([]market.Instrument, 0, len(list))
	for _, inst := range list {
		out = append(out, market.Instrument{Symbol: market.NormalizeSymbol(inst.Symbol), Name: strings.TrimSpace(inst.Name)})
	}
	return out
}
