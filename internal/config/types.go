package config

import (
	"strings"
	"time"

	"marketcache/internal/cachekey"
)

// Config is the root of marketcache.yaml.
type Config struct {
	App         AppConfig          `toml:"app"`
	Database    DatabaseConfig     `toml:"database"`
	Cache       CacheConfig        `toml:"cache"`
	Ingest      IngestConfig       `toml:"ingest"`
	Instruments []InstrumentConfig `toml:"instruments"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
}

// DatabaseConfig covers the relational store and every retry knob of the
// pool and query layers.
type DatabaseConfig struct {
	Driver   string `toml:"driver"` // "mysql" | "sqlite"
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	Path     string `toml:"path"` // sqlite file
	Charset  string `toml:"charset"`

	PoolSize int `toml:"pool_size"`

	ConnectTimeoutSeconds   int `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds      int `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds     int `toml:"write_timeout_seconds"`
	AcquireTimeoutSeconds   int `toml:"acquire_timeout_seconds"`
	StatementTimeoutSeconds int `toml:"statement_timeout_seconds"`

	PoolInitRetries    int     `toml:"pool_init_retries"`
	PoolInitDelayMS    int     `toml:"pool_init_delay_ms"`
	AcquireRetries     int     `toml:"acquire_retries"`
	AcquireDelayMS     int     `toml:"acquire_delay_ms"`
	ProbeAttempts      int     `toml:"probe_attempts"`
	ProbeDelayMS       int     `toml:"probe_delay_ms"`
	TooManyConnsFactor float64 `toml:"too_many_conns_factor"`
	QueryRetries       int     `toml:"query_retries"`
	QueryRetryDelayMS  int     `toml:"query_retry_delay_ms"`
	MaxBackoffMS       int     `toml:"max_backoff_ms"`
	AutoMigrate        bool    `toml:"auto_migrate"`
}

func (d DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

func (d DatabaseConfig) ReadTimeout() time.Duration {
	return time.Duration(d.ReadTimeoutSeconds) * time.Second
}

func (d DatabaseConfig) WriteTimeout() time.Duration {
	return time.Duration(d.WriteTimeoutSeconds) * time.Second
}

func (d DatabaseConfig) AcquireTimeout() time.Duration {
	return time.Duration(d.AcquireTimeoutSeconds) * time.Second
}

func (d DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(d.StatementTimeoutSeconds) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (d DatabaseConfig) PoolInitDelay() time.Duration   { return ms(d.PoolInitDelayMS) }
func (d DatabaseConfig) AcquireDelay() time.Duration    { return ms(d.AcquireDelayMS) }
func (d DatabaseConfig) ProbeDelay() time.Duration      { return ms(d.ProbeDelayMS) }
func (d DatabaseConfig) QueryRetryDelay() time.Duration { return ms(d.QueryRetryDelayMS) }
func (d DatabaseConfig) MaxBackoff() time.Duration      { return ms(d.MaxBackoffMS) }

// CacheConfig describes the cache backend and TTL tiers.
type CacheConfig struct {
	Backend             string `toml:"backend"` // "redis" | "memory" | "none"
	Addr                string `toml:"addr"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	Namespace           string `toml:"namespace"`
	PoolSize            int    `toml:"pool_size"`
	DialTimeoutSeconds  int    `toml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
	LatestTTLSeconds    int    `toml:"latest_ttl_seconds"`
	PriceTTLSeconds     int    `toml:"price_ttl_seconds"`
	ChartTTLSeconds     int    `toml:"chart_ttl_seconds"`
	BreakerThreshold    int    `toml:"breaker_threshold"`
	BreakerCooldownSec  int    `toml:"breaker_cooldown_seconds"`
}

// Tiers converts the configured expirations.
func (c CacheConfig) Tiers() cachekey.Tiers {
	return cachekey.Tiers{
		Latest: time.Duration(c.LatestTTLSeconds) * time.Second,
		Price:  time.Duration(c.PriceTTLSeconds) * time.Second,
		Chart:  time.Duration(c.ChartTTLSeconds) * time.Second,
	}
}

func (c CacheConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSec) * time.Second
}

func (c CacheConfig) Timeouts() (dial, read, write time.Duration) {
	return time.Duration(c.DialTimeoutSeconds) * time.Second,
		time.Duration(c.ReadTimeoutSeconds) * time.Second,
		time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// IngestConfig controls the optional exchange feeder.
type IngestConfig struct {
	Enabled        bool     `toml:"enabled"`
	RESTBaseURL    string   `toml:"rest_base_url"`
	Quote          string   `toml:"quote"`
	Granularities  []string `toml:"granularities"`
	Interval       string   `toml:"interval"`
	OffsetSeconds  int      `toml:"offset_seconds"`
	BarsPerFetch   int      `toml:"bars_per_fetch"`
	RequestsPerSec float64  `toml:"requests_per_sec"`
	Concurrency    int      `toml:"concurrency"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	RunImmediately bool     `toml:"run_immediately"`
}

func (i IngestConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

type InstrumentConfig struct {
	Symbol string `toml:"symbol"`
	Name   string `toml:"name"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
