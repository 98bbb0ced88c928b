package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smartvol/internal/logger"
	"smartvol/internal/trend"
)

const patternWindow = 30 * time.Minute

var patternSet = []string{"relsi", "marubozu", "pogloshenie"}

// threeAlertsStrategy K 线形态三联：relsi + marubozu + pogloshenie
// 三个同向信号在 30 分钟窗口内集齐 → 多头三联开仓 / 空头三联平仓。
// 信号集合是进程内状态，重启丢失可接受。
type threeAlertsStrategy struct {
	baseStrategy
	bot *Bot

	mu   sync.Mutex
	seen map[string]map[string]time.Time // symbol|side -> pattern -> 最近触发时间
	now  func() time.Time
}

func newThreeAlertsStrategy(b *Bot) *threeAlertsStrategy {
	return &threeAlertsStrategy{bot: b, seen: make(map[string]map[string]time.Time), now: time.Now}
}

func (s *threeAlertsStrategy) Name() string { return "three-alerts" }

func (s *threeAlertsStrategy) record(symbol string, side trend.Direction, pattern string) bool {
	key := symbol + "|" + string(side)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.seen[key]
	if !ok {
		m = make(map[string]time.Time)
		s.seen[key] = m
	}
	m[pattern] = now
	for _, p := range patternSet {
		ts, ok := m[p]
		if !ok || now.Sub(ts) > patternWindow {
			return false
		}
	}
	delete(s.seen, key)
	return true
}

func (s *threeAlertsStrategy) OnPatternSignal(ctx context.Context, a Alert, side trend.Direction, pattern string) error {
	b := s.bot
	complete := s.record(a.Symbol, side, pattern)
	logger.Debugf("机器人 %s: %s %s %s 形态信号（三联%s）",
		b.Cfg.Name, a.Symbol, side, pattern, map[bool]string{true: "已集齐", false: "未集齐"}[complete])
	if !complete {
		return nil
	}

	pos, open, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if side == trend.Long {
		if open {
			return nil
		}
		if want := b.Direction(); want != trend.Neutral && want != trend.Long {
			return nil
		}
		b.notify(fmt.Sprintf("📊 <b>%s</b> %s 多头形态三联集齐", b.Cfg.Name, a.Symbol))
		_, err := b.openPosition(ctx, a, trend.Long, b.BaseUsd(), nil)
		return err
	}
	// 空头三联：有仓则平
	if !open {
		return nil
	}
	return b.closePosition(ctx, a, pos, trend.Long, "空头形态三联集齐")
}
