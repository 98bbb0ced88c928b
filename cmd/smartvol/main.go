package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"smartvol/internal/app"
	"smartvol/internal/config"
	"smartvol/internal/logger"
)

// 入口程序：
// 1) 加载 TOML 配置
// 2) 装配机器人、交易所网关、通知频道与存储
// 3) 启动 HTTP webhook 入口、统治扫描、量能缓存清理与定时报告
func main() {
	// 从环境变量或默认路径读取配置文件路径
	cfgPath := os.Getenv("SMARTVOL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，机器人=%d，HTTP=%s）", cfg.App.Env, len(cfg.Bots), cfg.App.HTTPAddr)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("运行失败: %v", err)
	}
	logger.Infof("smartvol 已退出")
}
