package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"smartvol/internal/config"
	"smartvol/internal/engine"
	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
	"smartvol/internal/scheduler"
	"smartvol/internal/transport/httpapi"
	"smartvol/internal/volume"
)

// App 应用级编排：加载配置→初始化依赖→启动 HTTP、扫描与调度服务。
type App struct {
	cfg     *config.Config
	db      *database.Store
	httpSrv *httpapi.Server
	sched   *scheduler.Scheduler
	bots    []*engine.Bot
	cache   *volume.Cache
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部长生命周期服务，任一出错或 ctx 取消则整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.db.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.httpSrv.Run(ctx)
	})
	group.Go(func() error {
		engine.RunDominationSweep(ctx, a.bots)
		return nil
	})
	group.Go(func() error {
		a.cache.RunCleanup(ctx)
		return nil
	})
	group.Go(func() error {
		a.sched.Run(ctx)
		return nil
	})

	logger.Infof("✓ smartvol 启动完成（%d 个机器人）", len(a.bots))
	return group.Wait()
}
