package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "MARKETCACHE_CONFIG"

const defaultConfigPath = "configs/marketcache.yaml"

// ResolvePath 依次取参数、环境变量、默认路径。
func ResolvePath(flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load 读取主配置及其 include 文件，合并后应用默认值并校验。
// include 中的文件先合并，主文件最后合并，因此主文件中的键优先。
func Load(path string) (*Config, error) {
	files, err := includeOrder(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	// 只有文件中未出现的键才会套用默认值，显式的 0/false 保留。
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		setKeys.mark(key)
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// includeWalker orders config files depth-first: includes before the file
// that names them, each file once.
type includeWalker struct {
	done    map[string]bool
	visited map[string]bool
	order   []string
}

func includeOrder(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{done: map[string]bool{}, visited: map[string]bool{}}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.order, nil
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case w.done[path]:
		return nil
	case w.visited[path]:
		return fmt.Errorf("include cycle detected: %s", path)
	}
	w.visited[path] = true

	v, err := readFile(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range v.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.order = append(w.order, path)
	return nil
}
