package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "marketcache.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Database.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Database.ConnectTimeout())
	assert.Equal(t, 2*time.Second, cfg.Database.PoolInitDelay())
	assert.Equal(t, 500*time.Millisecond, cfg.Database.QueryRetryDelay())
	assert.Equal(t, 3.0, cfg.Database.TooManyConnsFactor)
	assert.True(t, cfg.Database.AutoMigrate)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "crypto", cfg.Cache.Namespace)
	tiers := cfg.Cache.Tiers()
	assert.Equal(t, 60*time.Second, tiers.Latest)
	assert.Equal(t, 300*time.Second, tiers.Chart)

	assert.False(t, cfg.Ingest.Enabled)
	assert.Equal(t, []string{"minute", "hour", "day"}, cfg.Ingest.Granularities)
	assert.True(t, cfg.Ingest.RunImmediately)
	assert.Equal(t, 2, cfg.Ingest.Concurrency)

	require.Len(t, cfg.Instruments, 2)
	assert.Equal(t, "BTC", cfg.Instruments[0].Symbol)
	assert.Equal(t, "Ethereum", cfg.Instruments[1].Name)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "db.yaml", `
database:
  driver: mysql
  host: db.internal
  port: 3307
  name: crypto_db
  pool_size: 5
  auto_migrate: false
`)
	path := writeFile(t, dir, "main.yaml", `
include:
  - db.yaml
database:
  pool_size: 4
cache:
  backend: memory
  namespace: "mkt:"
instruments:
  - symbol: sol
    name: Solana
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, 4, cfg.Database.PoolSize, "main file overrides include")
	assert.False(t, cfg.Database.AutoMigrate, "explicit false survives defaults")
	assert.Equal(t, "memory", cfg.Cache.Backend)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, "SOL", cfg.Instruments[0].Symbol)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"driver":     "database:\n  driver: oracle\n",
		"pool size":  "database:\n  pool_size: 0\n",
		"ttl order":  "cache:\n  latest_ttl_seconds: 600\n  chart_ttl_seconds: 300\n",
		"backend":    "cache:\n  backend: memcached\n",
		"log level":  "app:\n  log_level: chatty\n",
		"instrument": "instruments:\n  - symbol: BTC\n    name: Bitcoin\n  - symbol: btc\n    name: Again\n",
		"ingest":     "ingest:\n  enabled: true\n  granularities: [week]\n",
		"workers":    "ingest:\n  enabled: true\n  concurrency: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, defaultConfigPath, ResolvePath(""))
	t.Setenv(EnvConfigPath, "/etc/mc.yaml")
	assert.Equal(t, "/etc/mc.yaml", ResolvePath(""))
	assert.Equal(t, "x.yaml", ResolvePath(" x.yaml "))
}
