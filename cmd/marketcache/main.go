package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"marketcache/internal/app"
	"marketcache/internal/config"
	"marketcache/internal/logger"
)

func main() {
	flagPath := flag.String("config", "", "config file (default $"+config.EnvConfigPath+" or configs/marketcache.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := config.ResolvePath(*flagPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	if err := logger.SetRotatingFile(cfg.App.LogPath, cfg.App.LogMaxSizeMB, cfg.App.LogMaxAgeDays); err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	defer logger.Close()
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, cfgPath)

	a, err := app.NewApp(ctx, cfg, cfgPath)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()
	if err := a.Run(ctx); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logger.Infof("marketcache stopped")
}
