package config

import (
	"fmt"
	"strings"

	"marketcache/internal/cachekey"
	"marketcache/internal/logger"
	"marketcache/internal/market"
	"marketcache/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Ingest.validate(); err != nil {
		return err
	}
	return validateInstruments(c.Instruments)
}

func (a *AppConfig) validate() error {
	if _, err := logger.ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("app.log_level: %w", err)
	}
	if a.LogMaxSizeMB < 0 || a.LogMaxAgeDays < 0 {
		return fmt.Errorf("app.log_max_size_mb/log_max_age_days must be >= 0")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Driver {
	case "mysql":
		if strings.TrimSpace(d.Host) == "" {
			return fmt.Errorf("database.host cannot be empty for mysql")
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("database.port out of range: %d", d.Port)
		}
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("database.name cannot be empty for mysql")
		}
	case "sqlite":
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("database.path cannot be empty for sqlite")
		}
	default:
		return fmt.Errorf("database.driver unsupported: %s", d.Driver)
	}
	if d.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be > 0")
	}
	if d.ConnectTimeoutSeconds <= 0 || d.ReadTimeoutSeconds <= 0 || d.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("database connect/read/write timeouts must be > 0")
	}
	if d.AcquireTimeoutSeconds <= 0 || d.StatementTimeoutSeconds <= 0 {
		return fmt.Errorf("database acquire/statement timeouts must be > 0")
	}
	if d.PoolInitRetries <= 0 || d.AcquireRetries <= 0 || d.ProbeAttempts <= 0 || d.QueryRetries <= 0 {
		return fmt.Errorf("database retry counts must be > 0")
	}
	if d.PoolInitDelayMS < 0 || d.AcquireDelayMS < 0 || d.ProbeDelayMS < 0 || d.QueryRetryDelayMS < 0 {
		return fmt.Errorf("database retry delays must be >= 0")
	}
	if d.TooManyConnsFactor < 1 {
		return fmt.Errorf("database.too_many_conns_factor must be >= 1")
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch c.Backend {
	case "redis":
		if strings.TrimSpace(c.Addr) == "" {
			return fmt.Errorf("cache.addr cannot be empty for redis")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("cache.backend unsupported: %s", c.Backend)
	}
	if strings.Contains(strings.Trim(c.Namespace, ":"), ":") {
		return fmt.Errorf("cache.namespace must not contain ':' (%s)", c.Namespace)
	}
	if c.DB < 0 {
		return fmt.Errorf("cache.db must be >= 0")
	}
	if err := c.Tiers().Validate(); err != nil {
		return fmt.Errorf("cache ttl tiers: %w", err)
	}
	return nil
}

func (i *IngestConfig) validate() error {
	if !i.Enabled {
		return nil
	}
	if _, err := scheduler.ParseInterval(i.Interval); err != nil {
		return fmt.Errorf("ingest.interval: %w", err)
	}
	for _, g := range i.Granularities {
		if _, err := market.ParseGranularity(g); err != nil {
			return fmt.Errorf("ingest.granularities: %w", err)
		}
	}
	if i.BarsPerFetch <= 0 || i.BarsPerFetch > 1500 {
		return fmt.Errorf("ingest.bars_per_fetch must be in (0, 1500]")
	}
	if i.OffsetSeconds < 0 {
		return fmt.Errorf("ingest.offset_seconds must be >= 0")
	}
	if i.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be > 0")
	}
	if strings.TrimSpace(i.Quote) == "" {
		return fmt.Errorf("ingest.quote cannot be empty")
	}
	return nil
}

func validateInstruments(list []InstrumentConfig) error {
	seen := make(map[string]struct{}, len(list))
	for idx, inst := range list {
		sym, err := cachekey.Symbol(inst.Symbol)
		if err != nil {
			return fmt.Errorf("instruments[%d]: %w", idx, err)
		}
		if inst.Name == "" {
			return fmt.Errorf("instruments[%d] (%s) missing name", idx, sym)
		}
		if _, ok := seen[sym]; ok {
			return fmt.Errorf("instruments contains duplicate symbol: %s", sym)
		}
		seen[sym] = struct{}{}
	}
	return nil
}
