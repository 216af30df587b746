package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marketcache/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RuntimeSettings 是允许热更新的配置子集，其余配置改动需要重启生效。
type RuntimeSettings struct {
	Version  int64
	LoadedAt time.Time
	LogLevel string
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(RuntimeSettings)

// Watcher 监听主配置文件，变更时重新读取可热更新字段。
// viper 的 WatchConfig 无法停止，这里直接持有 fsnotify watcher，Close 时退出。
type Watcher struct {
	path string
	v    *viper.Viper
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once

	mu        sync.RWMutex
	snapshot  RuntimeSettings
	listeners []ChangeListener
}

// NewWatcher 读取配置文件并开始监听 FS 事件。
func NewWatcher(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	w := &Watcher{path: filepath.Clean(path), v: v, done: make(chan struct{})}
	if err := w.reload(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	// 监听目录而不是文件：编辑器保存时常常是 rename + create。
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if filepath.Clean(evt.Name) != w.path {
		return
	}
	if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
		return
	}
	if err := w.v.ReadInConfig(); err != nil {
		logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		return
	}
	if err := w.reload(); err != nil {
		logger.Errorf("config reload failed (%s): %v", evt.Name, err)
		return
	}
	w.notify()
}

// Close 停止监听并等待事件循环退出，可重复调用。
func (w *Watcher) Close() error {
	if w == nil || w.fsw == nil {
		return nil
	}
	var err error
	w.once.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

// Snapshot 返回当前可热更新配置。
func (w *Watcher) Snapshot() RuntimeSettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Subscribe 注册监听器。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := w.snapshot
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (w *Watcher) reload() error {
	lvl, err := logger.ParseLevel(w.v.GetString("app.log_level"))
	if err != nil {
		return fmt.Errorf("app.log_level: %w", err)
	}
	level := strings.ToLower(lvl.String())
	w.mu.Lock()
	w.snapshot = RuntimeSettings{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		LogLevel: level,
	}
	w.mu.Unlock()
	logger.Infof("config watcher reloaded %s (log_level=%s)", filepath.Base(w.path), level)
	return nil
}

// ApplyLogLevel 是最常用的监听器：把新日志级别写入全局 logger。
func ApplyLogLevel(s RuntimeSettings) {
	if s.LogLevel == "" || s.LogLevel == logger.Level() {
		return
	}
	logger.SetLevel(s.LogLevel)
	logger.Infof("log level switched to %s", s.LogLevel)
}
