package engine

import (
	"context"

	"smartvol/internal/logger"
	"smartvol/internal/volume"
)

// Router 告警路由：归一化校验 → 分类 → 按策略族扇出。
// 单个机器人的处理失败只记日志，绝不中断对其余机器人的派发。
type Router struct {
	bots   []*Bot
	volume *volume.Cache
}

func NewRouter(bots []*Bot, cache *volume.Cache) *Router {
	return &Router{bots: bots, volume: cache}
}

// Bots 已注册的机器人（调度器/HTTP 查询用）。
func (r *Router) Bots() []*Bot { return r.bots }

// Bot 按名取机器人。
func (r *Router) Bot(name string) *Bot {
	for _, b := range r.bots {
		if b.Cfg.Name == name {
			return b
		}
	}
	return nil
}

// Handle 处理一条 webhook payload。
// 校验失败返回错误且不触达任何机器人；派发阶段永远返回 nil。
func (r *Router) Handle(ctx context.Context, payload map[string]any) error {
	a, err := ParseAlert(payload)
	if err != nil {
		return err
	}
	logger.Debugf("告警入站: %s symbol=%s tf=%s", a.Type, a.Symbol, a.Timeframe)

	// VolumeUp 先无条件入缓存，再照常派发给策略
	if a.Type == AlertVolumeUp {
		r.volume.Save(a.Symbol, a.Timeframe, a.Volume)
	}

	for _, b := range r.bots {
		if !r.matches(b, a) {
			continue
		}
		if err := b.Process(ctx, a); err != nil {
			logger.Errorf("机器人 %s 处理告警 %s 失败: %v", b.Cfg.Name, a.Name, err)
		}
	}
	return nil
}

// matches 扇出规则：smartvol 族发给所有符号匹配的机器人；
// domination / trend-pivot / three-alerts 族只发给对应策略的机器人。
func (r *Router) matches(b *Bot, a Alert) bool {
	if !b.Cfg.Enabled {
		return false
	}
	switch a.Family {
	case FamilyDomination:
		if b.Cfg.Strategy != "domination" {
			return false
		}
	case FamilyTrendPivot:
		if b.Cfg.Strategy != "trend-pivot" {
			return false
		}
	case FamilyThreeAlerts:
		if b.Cfg.Strategy != "three-alerts" {
			return false
		}
	}
	return symbolAllowed(b.Cfg.SymbolFilter, a.Symbol)
}

// symbolAllowed 空过滤列表 = 全部放行。
func symbolAllowed(filter []string, symbol string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == symbol {
			return true
		}
	}
	return false
}
