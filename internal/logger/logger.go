package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	rotator    *lumberjack.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

// SetRotatingFile tees log output to stdout and a size/age rotated file.
// An empty path keeps stdout only.
func SetRotatingFile(path string, maxSizeMB, maxAgeDays int) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	lj := &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		MaxAge:   maxAgeDays,
		Compress: true,
	}
	loggerMu.Lock()
	prev := rotator
	rotator = lj
	baseLogger = newLogger(io.MultiWriter(os.Stdout, lj))
	loggerMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Close flushes and closes the rotating file, if any.
func Close() error {
	loggerMu.Lock()
	lj := rotator
	rotator = nil
	loggerMu.Unlock()
	if lj == nil {
		return nil
	}
	return lj.Close()
}

// ParseLevel accepts debug, info, warn (or warning) and error; empty means info.
func ParseLevel(level string) (slog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil || strings.ContainsAny(level, "+-") {
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", level)
	}
	return l, nil
}

// SetLevel switches the level at runtime; unknown names fall back to info.
func SetLevel(level string) {
	l, _ := ParseLevel(level)
	levelVar.Set(l)
}

// Level reports the active level name.
func Level() string {
	return strings.ToLower(levelVar.Level().String())
}

// With returns a structured logger carrying the given attributes, e.g.
// logger.With("component", "pool").
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

func current() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return baseLogger
}

func logf(level slog.Level, format string, v ...any) {
	l := current()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }
