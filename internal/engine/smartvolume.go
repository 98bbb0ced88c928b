package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smartvol/internal/logger"
)

const (
	smartVolumeOpenTimeframe = "30m"
	smartVolumeSyncTimeframe = "1h"
	bullishArmWindow         = 30 * time.Minute
	entryLockoutDuration     = time.Hour
)

type armState struct {
	lastVolume float64
	hasVolume  bool
	armedAt    time.Time
}

// smartVolumeStrategy 量能衰减平仓状态机：
// BullishVolume 武装 30 分钟观察窗；窗内 VolumeUp 读数严格低于缓存值
// 触发全平，否则只抬高缓存（ratchet-up，横盘/放量不平仓）。
// Fixed/LiveShortSynchronization（1h）设置 1 小时入场封锁。
type smartVolumeStrategy struct {
	baseStrategy
	bot *Bot

	mu       sync.Mutex
	armed    map[string]armState  // symbol -> 武装状态
	lockouts map[string]time.Time // symbol -> 封锁截止
	now      func() time.Time
}

func newSmartVolumeStrategy(b *Bot) *smartVolumeStrategy {
	return &smartVolumeStrategy{
		bot:      b,
		armed:    make(map[string]armState),
		lockouts: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *smartVolumeStrategy) Name() string { return "smartvolume" }

func (s *smartVolumeStrategy) lockoutRemaining(symbol string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.lockouts[symbol]
	if !ok {
		return 0
	}
	rem := until.Sub(s.now())
	if rem <= 0 {
		delete(s.lockouts, symbol)
		return 0
	}
	return rem
}

// OnSmartVolumeOpen 只接受 30m 周期（缺省按 30m 处理）；
// 入场封锁期内拒绝并播报剩余时间；已有仓位未达 max_fills 则转为加仓。
func (s *smartVolumeStrategy) OnSmartVolumeOpen(ctx context.Context, a Alert) error {
	b := s.bot
	tf := a.Timeframe
	if tf == "" {
		tf = smartVolumeOpenTimeframe
	}
	if tf != smartVolumeOpenTimeframe {
		logger.Debugf("机器人 %s: smartvolume 只在 %s 开仓，忽略 %q", b.Cfg.Name, smartVolumeOpenTimeframe, tf)
		return nil
	}
	if rem := s.lockoutRemaining(a.Symbol); rem > 0 {
		b.notify(fmt.Sprintf("🔒 <b>%s</b> %s 入场封锁中，剩余 %s", b.Cfg.Name, a.Symbol, rem.Round(time.Second)))
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
	_, err = b.openPosition(ctx, a, b.Direction(), b.BaseUsd(), nil)
	return err
}

// OnBullishVolume 武装观察窗，用当前缓存读数做种子。
func (s *smartVolumeStrategy) OnBullishVolume(ctx context.Context, a Alert) error {
	b := s.bot
	st := armState{armedAt: s.now()}
	if r, ok := b.Volume.Get(a.Symbol, a.Timeframe); ok {
		st.lastVolume = r.Volume
		st.hasVolume = true
	}
	s.mu.Lock()
	s.armed[a.Symbol] = st
	s.mu.Unlock()
	logger.Infof("机器人 %s: %s BullishVolume 武装（种子量能 %.2f）", b.Cfg.Name, a.Symbol, st.lastVolume)
	return nil
}

// OnVolumeUp 武装窗内比较读数：严格下降 → 全平并解除武装；
// 持平或上升 → 抬高缓存继续观察。
func (s *smartVolumeStrategy) OnVolumeUp(ctx context.Context, a Alert) error {
	b := s.bot
	now := s.now()

	s.mu.Lock()
	st, ok := s.armed[a.Symbol]
	if !ok || now.Sub(st.armedAt) > bullishArmWindow {
		if ok {
			delete(s.armed, a.Symbol)
		}
		s.mu.Unlock()
		return nil
	}
	if !st.hasVolume {
		st.lastVolume = a.Volume
		st.hasVolume = true
		s.armed[a.Symbol] = st
		s.mu.Unlock()
		return nil
	}
	decreasing := a.Volume < st.lastVolume
	if !decreasing {
		st.lastVolume = a.Volume
		s.armed[a.Symbol] = st
		s.mu.Unlock()
		return nil
	}
	prev := st.lastVolume
	delete(s.armed, a.Symbol)
	s.mu.Unlock()

	pos, exists, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return b.closePosition(ctx, a, pos, b.Direction(),
		fmt.Sprintf("量能衰减 %.2f → %.2f", prev, a.Volume))
}

func (s *smartVolumeStrategy) setLockout(a Alert, source string) error {
	b := s.bot
	tf := a.Timeframe
	if tf == "" {
		tf = smartVolumeSyncTimeframe
	}
	if tf != smartVolumeSyncTimeframe {
		return nil
	}
	until := s.now().Add(entryLockoutDuration)
	s.mu.Lock()
	s.lockouts[a.Symbol] = until
	s.mu.Unlock()
	b.notify(fmt.Sprintf("🔒 <b>%s</b> %s 触发 %s，入场封锁至 %s",
		b.Cfg.Name, a.Symbol, source, until.Format("15:04:05")))
	return nil
}

func (s *smartVolumeStrategy) OnFixedShortSync(ctx context.Context, a Alert) error {
	return s.setLockout(a, "FixedShortSynchronization")
}

func (s *smartVolumeStrategy) OnLiveShortSync(ctx context.Context, a Alert) error {
	return s.setLockout(a, "LiveShortSynchronization")
}

// OnClose 本策略不消费 SmartClose：平仓只走量能衰减路径或 SmartBigClose。
func (s *smartVolumeStrategy) OnClose(ctx context.Context, a Alert) error {
	logger.Debugf("机器人 %s: smartvolume 不处理 SmartClose（%s）", s.bot.Cfg.Name, a.Symbol)
	return nil
}

// OnBigClose 紧急全平，解除武装状态。
func (s *smartVolumeStrategy) OnBigClose(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil || !ok {
		return err
	}
	if err := b.closePosition(ctx, a, pos, b.Direction(), "SmartBigClose"); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.armed, a.Symbol)
	s.mu.Unlock()
	return nil
}
