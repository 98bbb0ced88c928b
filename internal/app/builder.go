package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"smartvol/internal/coins"
	"smartvol/internal/config"
	"smartvol/internal/engine"
	"smartvol/internal/gateway/binance"
	"smartvol/internal/gateway/bitget"
	"smartvol/internal/gateway/database"
	"smartvol/internal/gateway/notifier"
	"smartvol/internal/logger"
	"smartvol/internal/positions"
	"smartvol/internal/report"
	"smartvol/internal/scheduler"
	"smartvol/internal/transport/httpapi"
	"smartvol/internal/trend"
	"smartvol/internal/volume"
)

// AppBuilder 把配置逐步装配成可运行的 App。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// exchangeRegistry 按档案名索引 Bitget 服务，适配 engine.Exchanges。
type exchangeRegistry struct {
	services map[string]*bitget.Service
}

func (r *exchangeRegistry) Gateway(profile string) engine.ExchangeGateway {
	svc, ok := r.services[profile]
	if !ok {
		return nil
	}
	return svc
}

// notifierAdapter 把频道注册表适配成 engine.Notifiers（吞错通知）。
type notifierAdapter struct {
	reg *notifier.Registry
}

func (a *notifierAdapter) Notifier(channel string) engine.Notifier {
	tg := a.reg.Channel(channel)
	if tg == nil {
		logger.Warnf("telegram 频道 %s 未配置，该机器人将无通知", channel)
	}
	return notifier.NewChannelNotifier(tg, channel)
}

// Build 装配全部依赖。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	db, err := database.NewStore(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	logger.Infof("✓ sqlite 就绪: %s", cfg.App.DBPath)

	trendSvc := trend.NewService(db)
	posStore := positions.NewStore(db)
	cache := volume.NewCache()
	notifReg := notifier.NewRegistry(cfg.Telegram)

	exchanges, err := b.buildExchanges(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bots, err := engine.BuildBots(cfg, posStore, trendSvc, cache,
		exchanges, &notifierAdapter{reg: notifReg})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	router := engine.NewRouter(bots, cache)

	var price *binance.PriceProvider
	var funding report.FundingSource
	if cfg.Binance.Enabled {
		price = binance.NewPriceProvider()
		funding = price
		logger.Infof("✓ 币安最新价来源已启用")
	}

	var candles report.CandleSource
	if svc := firstExchange(exchanges); svc != nil {
		candles = svc
	}

	sched := scheduler.New(router, trendSvc, notifReg, candles, funding, cfg.Report)
	httpSrv := httpapi.NewServer(cfg.App.HTTPAddr, router, trendSvc, posStore,
		cache, notifReg, sched, price, cfg.App.Env)

	return &App{
		cfg:     cfg,
		db:      db,
		httpSrv: httpSrv,
		sched:   sched,
		bots:    bots,
		cache:   cache,
	}, nil
}

// buildExchanges 为每个 bitget 档案解析允许币种并构建签名服务。
func (b *AppBuilder) buildExchanges(ctx context.Context) (*exchangeRegistry, error) {
	reg := &exchangeRegistry{services: make(map[string]*bitget.Service)}
	for name, profile := range b.cfg.Bitget {
		allowed, err := resolveAllowed(ctx, profile)
		if err != nil {
			logger.Warnf("bitget 档案 %s 允许列表解析失败（放行所有符号）: %v", name, err)
			allowed = nil
		}
		svc, err := bitget.NewService(profile, allowed)
		if err != nil {
			return nil, fmt.Errorf("bitget 档案 %s 初始化失败: %w", name, err)
		}
		reg.services[name] = svc
		logger.Infof("✓ bitget 档案就绪: %s（白名单 %d 个符号）", name, len(allowed))
	}
	return reg, nil
}

func resolveAllowed(ctx context.Context, profile config.BitgetProfile) ([]string, error) {
	var provider coins.SymbolProvider
	switch {
	case profile.AllowedURL != "":
		provider = coins.NewHTTPSymbolProvider(profile.AllowedURL)
	case len(profile.Allowed) > 0:
		provider = coins.NewDefaultProvider(profile.Allowed)
	default:
		return nil, nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return provider.List(fetchCtx)
}

// firstExchange 报告用行情来源：取档案名字典序第一个（确定性）。
func firstExchange(reg *exchangeRegistry) *bitget.Service {
	names := make([]string, 0, len(reg.services))
	for name := range reg.services {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return reg.services[names[0]]
}
