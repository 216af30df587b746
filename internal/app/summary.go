package app

import (
	"fmt"
	"strings"

	"marketcache/internal/cache"
	"marketcache/internal/config"
	"marketcache/internal/market"
	"marketcache/internal/store/pool"
)

type StartupSummary struct {
	Database DatabaseSummary
	Cache    CacheSummary
	Ingest   IngestSummary
	Symbols  []string
}

type DatabaseSummary struct {
	Driver   string
	Target   string
	PoolSize int
	State    pool.State
}

type CacheSummary struct {
	Backend   string
	Namespace string
	TTL       string
	Health    cache.Health
}

type IngestSummary struct {
	Enabled       bool
	Interval      string
	Granularities []string
}

// newStartupSummary lists the instruments the store actually holds, not the
// configured seed list.
func newStartupSummary(cfg *config.Config, state pool.State, health cache.Health, insts []market.Instrument) *StartupSummary {
	target := cfg.Database.Path
	if strings.EqualFold(cfg.Database.Driver, "mysql") {
		target = fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	}
	tiers := cfg.Cache.Tiers()
	s := &StartupSummary{
		Database: DatabaseSummary{
			Driver:   cfg.Database.Driver,
			Target:   target,
			PoolSize: cfg.Database.PoolSize,
			State:    state,
		},
		Cache: CacheSummary{
			Backend:   cfg.Cache.Backend,
			Namespace: cfg.Cache.Namespace,
			TTL:       fmt.Sprintf("latest=%s price=%s chart=%s", tiers.Latest, tiers.Price, tiers.Chart),
			Health:    health,
		},
		Ingest: IngestSummary{
			Enabled:       cfg.Ingest.Enabled,
			Interval:      cfg.Ingest.Interval,
			Granularities: cfg.Ingest.Granularities,
		},
	}
	for _, inst := range insts {
		s.Symbols = append(s.Symbols, inst.Symbol)
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[数据库 (DATABASE)]")
	fmt.Printf("  驱动: %s\n", s.Database.Driver)
	fmt.Printf("  目标: %s\n", s.Database.Target)
	fmt.Printf("  连接池: %d (%s)\n", s.Database.PoolSize, s.Database.State)
	fmt.Println()

	fmt.Println("[缓存 (CACHE)]")
	fmt.Printf("  后端: %s (%s)\n", s.Cache.Backend, s.Cache.Health.Status)
	fmt.Printf("  命名空间: %s\n", s.Cache.Namespace)
	fmt.Printf("  过期时间: %s\n", s.Cache.TTL)
	if s.Cache.Health.Error != "" {
		fmt.Printf("  错误: %s\n", s.Cache.Health.Error)
	}
	fmt.Println()

	fmt.Println("[行情采集 (INGEST)]")
	if !s.Ingest.Enabled {
		fmt.Println("  (未启用)")
	} else {
		fmt.Printf("  周期: %s\n", s.Ingest.Interval)
		fmt.Printf("  粒度: %s\n", formatList(s.Ingest.Granularities))
	}
	fmt.Println()

	fmt.Printf("[币种 (SYMBOLS)] %s\n", formatList(s.Symbols))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
