package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogPath    = "logs/marketcache.log"
	defaultLogMaxSizeMB  = 100
	defaultLogMaxAgeDays = 7

	defaultDBDriver          = "sqlite"
	defaultDBHost            = "127.0.0.1"
	defaultDBPort            = 3306
	defaultDBUser            = "root"
	defaultDBName            = "crypto_db"
	defaultDBPath            = "data/marketcache.db"
	defaultDBCharset         = "utf8mb4"
	defaultDBPoolSize        = 3
	defaultDBTimeout         = 30
	defaultPoolInitRetries   = 3
	defaultPoolInitDelayMS   = 2000
	defaultAcquireRetries    = 3
	defaultAcquireDelayMS    = 1000
	defaultProbeAttempts     = 3
	defaultProbeDelayMS      = 1000
	defaultTooManyConnFactor = 3
	defaultQueryRetries      = 3
	defaultQueryRetryDelayMS = 500
	defaultMaxBackoffMS      = 30000

	defaultCacheBackend     = "redis"
	defaultCacheAddr        = "localhost:6379"
	defaultCacheNamespace   = "crypto"
	defaultCachePoolSize    = 10
	defaultCacheTimeout     = 5
	defaultLatestTTL        = 60
	defaultPriceTTL         = 60
	defaultChartTTL         = 300
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 10

	defaultIngestREST     = "https://fapi.binance.com"
	defaultIngestQuote    = "USDT"
	defaultIngestInterval = "1m"
	defaultIngestOffset   = 5
	defaultIngestBars     = 100
	defaultIngestRPS      = 5
	defaultIngestTimeout  = 15
	defaultIngestWorkers  = 2
)

var defaultIngestGranularities = []string{"minute", "hour", "day"}

// 原始系统内置的两个参考品种。
var defaultInstruments = []InstrumentConfig{
	{Symbol: "BTC", Name: "Bitcoin"},
	{Symbol: "ETH", Name: "Ethereum"},
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Ingest.applyDefaults(keys)
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "instruments",
			need:  func() bool { return len(c.Instruments) == 0 },
			apply: func() { c.Instruments = append([]InstrumentConfig(nil), defaultInstruments...) },
		},
	)
	for i := range c.Instruments {
		c.Instruments[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Instruments[i].Symbol))
		c.Instruments[i].Name = strings.TrimSpace(c.Instruments[i].Name)
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultLogMaxSizeMB),
		intFieldDefault("app.log_max_age_days", &a.LogMaxAgeDays, defaultLogMaxAgeDays),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	d.Driver = strings.ToLower(strings.TrimSpace(d.Driver))
	applyFieldDefaults(keys,
		stringFieldDefault("database.driver", &d.Driver, defaultDBDriver),
		stringFieldDefault("database.host", &d.Host, defaultDBHost),
		intFieldDefault("database.port", &d.Port, defaultDBPort),
		stringFieldDefault("database.user", &d.User, defaultDBUser),
		stringFieldDefault("database.name", &d.Name, defaultDBName),
		stringFieldDefault("database.path", &d.Path, defaultDBPath),
		stringFieldDefault("database.charset", &d.Charset, defaultDBCharset),
		intFieldDefault("database.pool_size", &d.PoolSize, defaultDBPoolSize),
		intFieldDefault("database.connect_timeout_seconds", &d.ConnectTimeoutSeconds, defaultDBTimeout),
		intFieldDefault("database.read_timeout_seconds", &d.ReadTimeoutSeconds, defaultDBTimeout),
		intFieldDefault("database.write_timeout_seconds", &d.WriteTimeoutSeconds, defaultDBTimeout),
		intFieldDefault("database.acquire_timeout_seconds", &d.AcquireTimeoutSeconds, defaultDBTimeout),
		intFieldDefault("database.statement_timeout_seconds", &d.StatementTimeoutSeconds, defaultDBTimeout),
		intFieldDefault("database.pool_init_retries", &d.PoolInitRetries, defaultPoolInitRetries),
		intFieldDefault("database.pool_init_delay_ms", &d.PoolInitDelayMS, defaultPoolInitDelayMS),
		intFieldDefault("database.acquire_retries", &d.AcquireRetries, defaultAcquireRetries),
		intFieldDefault("database.acquire_delay_ms", &d.AcquireDelayMS, defaultAcquireDelayMS),
		intFieldDefault("database.probe_attempts", &d.ProbeAttempts, defaultProbeAttempts),
		intFieldDefault("database.probe_delay_ms", &d.ProbeDelayMS, defaultProbeDelayMS),
		fieldDefault{
			key:   "database.too_many_conns_factor",
			need:  func() bool { return d.TooManyConnsFactor <= 0 },
			apply: func() { d.TooManyConnsFactor = defaultTooManyConnFactor },
		},
		intFieldDefault("database.query_retries", &d.QueryRetries, defaultQueryRetries),
		intFieldDefault("database.query_retry_delay_ms", &d.QueryRetryDelayMS, defaultQueryRetryDelayMS),
		intFieldDefault("database.max_backoff_ms", &d.MaxBackoffMS, defaultMaxBackoffMS),
		boolFieldDefault("database.auto_migrate", &d.AutoMigrate, true),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	applyFieldDefaults(keys,
		stringFieldDefault("cache.backend", &c.Backend, defaultCacheBackend),
		stringFieldDefault("cache.addr", &c.Addr, defaultCacheAddr),
		stringFieldDefault("cache.namespace", &c.Namespace, defaultCacheNamespace),
		intFieldDefault("cache.pool_size", &c.PoolSize, defaultCachePoolSize),
		intFieldDefault("cache.dial_timeout_seconds", &c.DialTimeoutSeconds, defaultCacheTimeout),
		intFieldDefault("cache.read_timeout_seconds", &c.ReadTimeoutSeconds, defaultCacheTimeout),
		intFieldDefault("cache.write_timeout_seconds", &c.WriteTimeoutSeconds, defaultCacheTimeout),
		intFieldDefault("cache.latest_ttl_seconds", &c.LatestTTLSeconds, defaultLatestTTL),
		intFieldDefault("cache.price_ttl_seconds", &c.PriceTTLSeconds, defaultPriceTTL),
		intFieldDefault("cache.chart_ttl_seconds", &c.ChartTTLSeconds, defaultChartTTL),
		intFieldDefault("cache.breaker_threshold", &c.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("cache.breaker_cooldown_seconds", &c.BreakerCooldownSec, defaultBreakerCooldown),
	)
}

func (i *IngestConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ingest.rest_base_url", &i.RESTBaseURL, defaultIngestREST),
		stringFieldDefault("ingest.quote", &i.Quote, defaultIngestQuote),
		stringFieldDefault("ingest.interval", &i.Interval, defaultIngestInterval),
		fieldDefault{
			key:   "ingest.granularities",
			need:  func() bool { return len(i.Granularities) == 0 },
			apply: func() { i.Granularities = append([]string(nil), defaultIngestGranularities...) },
		},
		intFieldDefault("ingest.offset_seconds", &i.OffsetSeconds, defaultIngestOffset),
		intFieldDefault("ingest.bars_per_fetch", &i.BarsPerFetch, defaultIngestBars),
		fieldDefault{
			key:   "ingest.requests_per_sec",
			need:  func() bool { return i.RequestsPerSec <= 0 },
			apply: func() { i.RequestsPerSec = defaultIngestRPS },
		},
		intFieldDefault("ingest.timeout_seconds", &i.TimeoutSeconds, defaultIngestTimeout),
		intFieldDefault("ingest.concurrency", &i.Concurrency, defaultIngestWorkers),
		boolFieldDefault("ingest.run_immediately", &i.RunImmediately, true),
	)
	i.Quote = strings.ToUpper(strings.TrimSpace(i.Quote))
	for idx, g := range i.Granularities {
		i.Granularities[idx] = strings.ToLower(strings.TrimSpace(g))
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
