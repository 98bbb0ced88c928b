package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"smartvol/internal/logger"
)

const (
	partialOpenTimeframe = "1h"
	partialFullTimeframe = "4h"
)

// partialCloseStrategy 梯度退出：1h 平仓信号按计数推进
// 1（武装，无动作）→ 2（市价卖出 50% 名义）→ 3+（闪电平掉剩余并清零）；
// 4h 平仓信号无条件全平。计数为进程内状态，重启丢失可接受。
type partialCloseStrategy struct {
	baseStrategy
	bot *Bot

	mu       sync.Mutex
	counters map[string]int
}

func newPartialCloseStrategy(b *Bot) *partialCloseStrategy {
	return &partialCloseStrategy{bot: b, counters: make(map[string]int)}
}

func (s *partialCloseStrategy) Name() string { return "partial-close" }

func (s *partialCloseStrategy) bump(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[symbol]++
	return s.counters[symbol]
}

func (s *partialCloseStrategy) reset(symbol string) {
	s.mu.Lock()
	delete(s.counters, symbol)
	s.mu.Unlock()
}

// OnOpen 只接受 1h 周期的开仓信号（缺省按 1h 处理）；
// 已有仓位未达 max_fills 则转为加仓。
func (s *partialCloseStrategy) OnOpen(ctx context.Context, a Alert) error {
	b := s.bot
	tf := a.Timeframe
	if tf == "" {
		tf = partialOpenTimeframe
	}
	if tf != partialOpenTimeframe {
		logger.Debugf("机器人 %s: partial-close 只在 %s 开仓，忽略 %q", b.Cfg.Name, partialOpenTimeframe, tf)
		return nil
	}
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if ok {
		if pos.FillsCount >= b.Cfg.MaxFills {
			b.notify(fmt.Sprintf("⚠️ <b>%s</b> %s 已达最大加仓次数 %d，忽略开仓信号", b.Cfg.Name, a.Symbol, b.Cfg.MaxFills))
			return nil
		}
		return b.addToPosition(ctx, a, pos, b.Direction(), b.AddUsd())
	}
	s.reset(a.Symbol)
	_, err = b.openPosition(ctx, a, b.Direction(), b.BaseUsd(), nil)
	return err
}

func (s *partialCloseStrategy) OnAdd(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil || !ok {
		return err
	}
	if pos.FillsCount >= b.Cfg.MaxFills {
		return nil
	}
	return b.addToPosition(ctx, a, pos, b.Direction(), b.AddUsd())
}

func (s *partialCloseStrategy) OnClose(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	// 缺省按 1h 处理；除 4h 外一律走梯度退出
	if a.Timeframe == partialFullTimeframe {
		// 4h 信号无条件全平
		if err := b.closePosition(ctx, a, pos, b.Direction(), "4h 平仓信号"); err != nil {
			return err
		}
		s.reset(a.Symbol)
		return nil
	}
	switch n := s.bump(a.Symbol); n {
	case 1:
		b.notify(fmt.Sprintf("🕐 <b>%s</b> %s 第 1 次平仓信号，武装梯度退出", b.Cfg.Name, a.Symbol))
		return nil
	case 2:
		return b.reducePosition(ctx, a, pos, decimal.NewFromFloat(0.5))
	default:
		if err := b.closePosition(ctx, a, pos, b.Direction(), fmt.Sprintf("第 %d 次平仓信号，闪电平掉剩余", n)); err != nil {
			return err
		}
		s.reset(a.Symbol)
		return nil
	}
}

func (s *partialCloseStrategy) OnBigClose(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil || !ok {
		return err
	}
	if err := b.closePosition(ctx, a, pos, b.Direction(), "SmartBigClose"); err != nil {
		return err
	}
	s.reset(a.Symbol)
	return nil
}
