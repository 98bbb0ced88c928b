package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
	"smartvol/internal/positions"
	"smartvol/internal/trend"
)

const (
	dominationEntryUsd   = 200 // 固定名义入场
	dominationStaleAfter = 30 * time.Minute
	dominationSweepEvery = 5 * time.Minute
)

// dominationStrategy 二元多空入场：买/卖方统治信号开仓（固定 $200），
// 同向 continuation 信号刷新 lastContinuation；过期平仓交给后台扫描。
type dominationStrategy struct {
	baseStrategy
	bot *Bot
}

func newDominationStrategy(b *Bot) *dominationStrategy { return &dominationStrategy{bot: b} }

func (s *dominationStrategy) Name() string { return "domination" }

func sideLabel(dir trend.Direction) string {
	if dir == trend.Short {
		return "seller"
	}
	return "buyer"
}

func (s *dominationStrategy) OnDomination(ctx context.Context, a Alert, side trend.Direction) error {
	b := s.bot
	if want := b.Direction(); want != trend.Neutral && side != want {
		logger.Debugf("机器人 %s: 统治信号方向 %s 与配置 %s 不符，忽略", b.Cfg.Name, side, b.Cfg.Direction)
		return nil
	}
	if pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol); err != nil {
		return err
	} else if ok {
		logger.Debugf("机器人 %s: %s 已有统治仓位(id=%d)，忽略重复入场", b.Cfg.Name, a.Symbol, pos.ID)
		return nil
	}
	meta := positions.DominationMeta{Side: sideLabel(side), LastContinuation: time.Now()}
	_, err := b.openPosition(ctx, a, side, decimal.NewFromInt(dominationEntryUsd), meta.ToMap())
	return err
}

// OnContinuation 同向续期信号只刷新 lastContinuation 时间戳。
func (s *dominationStrategy) OnContinuation(ctx context.Context, a Alert, side trend.Direction) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil || !ok {
		return err
	}
	meta, ok := positions.ParseDominationMeta(pos)
	if !ok || meta.Side != sideLabel(side) {
		return nil
	}
	meta.LastContinuation = time.Now()
	if err := b.Positions.SetMeta(ctx, pos, meta.ToMap()); err != nil {
		return err
	}
	logger.Debugf("机器人 %s: %s 续期 %s 统治", b.Cfg.Name, a.Symbol, meta.Side)
	return nil
}

// RunDominationSweep 固定 5 分钟扫描所有统治仓位，
// lastContinuation（无则 openedAt）早于 30 分钟的强制平仓。
// 独立于告警流量运行，直到 ctx 取消。
func RunDominationSweep(ctx context.Context, bots []*Bot) {
	var targets []*Bot
	for _, b := range bots {
		if b.Cfg.Strategy == "domination" {
			targets = append(targets, b)
		}
	}
	if len(targets) == 0 {
		return
	}
	logger.Infof("✓ 统治策略扫描启动（间隔 %s，超时 %s）", dominationSweepEvery, dominationStaleAfter)
	ticker := time.NewTicker(dominationSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range targets {
				sweepBot(ctx, b)
			}
		}
	}
}

func sweepBot(ctx context.Context, b *Bot) {
	open, err := b.Positions.ListOpen(ctx, b.Cfg.Name)
	if err != nil {
		logger.Errorf("统治扫描读取仓位失败 bot=%s: %v", b.Cfg.Name, err)
		return
	}
	now := time.Now()
	for _, pos := range open {
		meta, ok := positions.ParseDominationMeta(pos)
		if !ok {
			continue
		}
		last := meta.LastContinuation
		if last.IsZero() && pos.OpenedAt != nil {
			last = *pos.OpenedAt
		}
		if last.IsZero() || now.Sub(last) <= dominationStaleAfter {
			continue
		}

		lock := getKeyLock(b.Cfg.Name, pos.Symbol)
		lock.Lock()
		closeStale(ctx, b, pos, meta, now.Sub(last))
		lock.Unlock()
	}
}

func closeStale(ctx context.Context, b *Bot, pos database.PositionRecord, meta positions.DominationMeta, age time.Duration) {
	// 锁内重读，避免和告警路径的平仓互踩
	fresh, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, pos.Symbol)
	if err != nil || !ok || fresh.ID != pos.ID {
		return
	}
	dir := trend.Long
	if meta.Side == "seller" {
		dir = trend.Short
	}
	if b.Cfg.Prod && b.Exchange != nil {
		if _, err := b.Exchange.FlashClose(ctx, pos.Symbol, holdSideFor(dir)); err != nil {
			logger.Errorf("统治扫描平仓失败 bot=%s %s: %v", b.Cfg.Name, pos.Symbol, err)
			return
		}
	}
	if err := b.Positions.Close(ctx, fresh); err != nil {
		logger.Errorf("统治扫描落库失败 bot=%s %s: %v", b.Cfg.Name, pos.Symbol, err)
		return
	}
	b.notify(fmt.Sprintf("⏰ <b>%s</b> %s 统治续期超时（%s 未续期），强制平仓",
		b.Cfg.Name, pos.Symbol, age.Round(time.Minute)))
}
