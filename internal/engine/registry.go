package engine

import (
	"fmt"

	"smartvol/internal/config"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/sliceutil"
	"smartvol/internal/pkg/symbols"
	"smartvol/internal/positions"
	"smartvol/internal/volume"
)

// Exchanges 按档案名取交易所网关；未配置档案的机器人走纸面模式。
type Exchanges interface {
	Gateway(profile string) ExchangeGateway
}

// Notifiers 按频道名取通知器；nil 表示该机器人无通知。
type Notifiers interface {
	Notifier(channel string) Notifier
}

// BuildBots 按配置实例化所有启用的机器人及其策略状态机。
func BuildBots(cfg *config.Config, posStore *positions.Store, trendSvc TrendProvider,
	cache *volume.Cache, exchanges Exchanges, notifiers Notifiers) ([]*Bot, error) {

	var bots []*Bot
	for _, bc := range cfg.Bots {
		if !bc.Enabled {
			logger.Infof("机器人 %s 已禁用，跳过", bc.Name)
			continue
		}
		// 过滤列表取副本后标准化，不回写共享配置
		filter := sliceutil.Strings(bc.SymbolFilter)
		for i, sym := range filter {
			filter[i] = symbols.Normalize(sym)
		}
		bc.SymbolFilter = filter
		b := &Bot{
			Cfg:       bc,
			Trend:     trendSvc,
			Positions: posStore,
			Volume:    cache,
		}
		if exchanges != nil && bc.ExchangeProfile != "" {
			b.Exchange = exchanges.Gateway(bc.ExchangeProfile)
		}
		if notifiers != nil && bc.TelegramChannel != "" {
			b.Notifier = notifiers.Notifier(bc.TelegramChannel)
		}
		strategy, err := buildStrategy(b)
		if err != nil {
			return nil, fmt.Errorf("机器人 %s: %w", bc.Name, err)
		}
		b.strategy = strategy
		logger.Infof("✓ 机器人就绪: %s 策略=%s 方向=%s 周期=%v prod=%v",
			bc.Name, strategy.Name(), bc.Direction, bc.TimeframeTrend, bc.Prod)
		bots = append(bots, b)
	}
	return bots, nil
}

func buildStrategy(b *Bot) (Strategy, error) {
	switch b.Cfg.Strategy {
	case "", "default":
		return newDefaultStrategy(b), nil
	case "partial-close":
		return newPartialCloseStrategy(b), nil
	case "smartvolume":
		return newSmartVolumeStrategy(b), nil
	case "domination":
		return newDominationStrategy(b), nil
	case "trend-pivot":
		return newTrendPivotStrategy(b), nil
	case "three-alerts":
		return newThreeAlertsStrategy(b), nil
	default:
		return nil, fmt.Errorf("未知策略: %s", b.Cfg.Strategy)
	}
}

// SetStrategy 测试注入口。
func (b *Bot) SetStrategy(s Strategy) { b.strategy = s }
