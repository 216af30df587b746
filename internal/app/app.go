package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/cache"
	"marketcache/internal/config"
	cfgloader "marketcache/internal/config/loader"
	"marketcache/internal/ingest"
	"marketcache/internal/logger"
	"marketcache/internal/marketdata"
	"marketcache/internal/store/pool"

	"golang.org/x/sync/errgroup"
)

const statusInterval = time.Minute

// App 持有进程内唯一的连接池、缓存与服务实例，并负责它们的生命周期。
type App struct {
	cfg     *config.Config
	pool    *pool.Manager
	cache   cache.Store
	service *marketdata.Service
	feeder  *ingest.Feeder
	watcher *cfgloader.Watcher
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。cfgPath 为空时不监听配置变更。
func NewApp(ctx context.Context, cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, ConfigPath(cfgPath))
}

// Service exposes the data-access layer to API handlers and pipelines.
func (a *App) Service() *marketdata.Service {
	if a == nil {
		return nil
	}
	return a.service
}

// Run blocks until ctx is done: the feeder (if enabled) and the status
// reporter run side by side.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.feeder != nil {
		group.Go(func() error {
			if err := a.feeder.Run(ctx); err != nil {
				return fmt.Errorf("ingest feeder: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		a.reportStatus(ctx, statusInterval)
		return nil
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) reportStatus(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := a.pool.Stats()
		h := a.service.CacheHealth(ctx)
		logger.Infof("status: pool=%s leases=%d open=%d idle=%d | cache=%s keys=%d price=%d chart=%d",
			st.State, st.Leases, st.OpenConnections, st.Idle, h.Status, h.TotalKeys, h.PriceKeys, h.ChartKeys)
		if a.feeder != nil {
			fs := a.feeder.Stats()
			logger.Debugf("status: ingest rounds=%d prices=%d bars=%d errors=%d", fs.Rounds, fs.Prices, fs.Bars, fs.Errors)
		}
	}
}

// Close stops the config watcher and releases the pool and the cache client.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	return errors.Join(errs...)
}
