package engine

import (
	"context"
	"fmt"

	"smartvol/internal/logger"
	"smartvol/internal/trend"
	"smartvol/internal/volume"
)

// defaultStrategy 趋势门控的开/加/平状态机（SmartVol 基础策略）。
// 可选变体：volume_gated_close=true 时平仓信号先进入量能等待状态，
// 量能闸门（≥19）确认后才真正平仓。
type defaultStrategy struct {
	baseStrategy
	bot *Bot
}

func newDefaultStrategy(b *Bot) *defaultStrategy { return &defaultStrategy{bot: b} }

func (s *defaultStrategy) Name() string { return "default" }

// resolveDirection 开仓方向：趋势门控时用层级一致性，且须与配置方向相容。
func (s *defaultStrategy) resolveDirection(ctx context.Context, symbol string) (trend.Direction, error) {
	b := s.bot
	if !b.Cfg.IsTrended {
		if d := b.Direction(); d != trend.Neutral {
			return d, nil
		}
		return trend.Long, nil
	}
	dir, err := b.Trend.AgreeAllWithHierarchy(ctx, symbol, b.Cfg.TimeframeTrend)
	if err != nil {
		return trend.Neutral, err
	}
	if dir == trend.Neutral {
		return trend.Neutral, nil
	}
	if want := b.Direction(); want != trend.Neutral && dir != want {
		return trend.Neutral, nil
	}
	return dir, nil
}

func (s *defaultStrategy) OnOpen(ctx context.Context, a Alert) error {
	b := s.bot
	if pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol); err != nil {
		return err
	} else if ok {
		logger.Debugf("机器人 %s: %s 已有仓位(id=%d)，忽略重复开仓", b.Cfg.Name, a.Symbol, pos.ID)
		return nil
	}
	dir, err := s.resolveDirection(ctx, a.Symbol)
	if err != nil {
		return err
	}
	if dir == trend.Neutral {
		b.notify(fmt.Sprintf("⚪️ <b>%s</b> 趋势不一致，放弃开仓 %s", b.Cfg.Name, a.Symbol))
		return nil
	}
	_, err = b.openPosition(ctx, a, dir, b.BaseUsd(), nil)
	return err
}

func (s *defaultStrategy) OnAdd(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debugf("机器人 %s: %s 无仓位，忽略加仓信号", b.Cfg.Name, a.Symbol)
		return nil
	}
	if pos.FillsCount >= b.Cfg.MaxFills {
		b.notify(fmt.Sprintf("⚠️ <b>%s</b> %s 已达最大加仓次数 %d，拒绝加仓", b.Cfg.Name, a.Symbol, b.Cfg.MaxFills))
		return nil
	}
	dir := b.Direction()
	if dir == trend.Neutral {
		dir = trend.Long
	}
	if b.Cfg.IsTrended {
		// 加仓闸门比层级一致性更严：所有周期必须严格同向
		ok, err := b.Trend.CanAddPosition(ctx, a.Symbol, b.Cfg.TimeframeTrend, dir)
		if err != nil {
			return err
		}
		if !ok {
			b.notify(fmt.Sprintf("⚪️ <b>%s</b> 趋势不支持加仓 %s", b.Cfg.Name, a.Symbol))
			return nil
		}
	}
	return b.addToPosition(ctx, a, pos, dir, b.AddUsd())
}

// OnBigAdd 大额加仓：追加整个 base_usd 而非 add_usd，同样受 maxFills 约束。
func (s *defaultStrategy) OnBigAdd(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if pos.FillsCount >= b.Cfg.MaxFills {
		b.notify(fmt.Sprintf("⚠️ <b>%s</b> %s 已达最大加仓次数 %d，拒绝大额加仓", b.Cfg.Name, a.Symbol, b.Cfg.MaxFills))
		return nil
	}
	dir := b.Direction()
	if dir == trend.Neutral {
		dir = trend.Long
	}
	return b.addToPosition(ctx, a, pos, dir, b.BaseUsd())
}

func (s *defaultStrategy) OnClose(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !b.Cfg.VolumeGatedClose {
		return b.closePosition(ctx, a, pos, b.Direction(), "SmartClose")
	}

	// 量能门控变体：首个平仓信号只入等待态，后续信号查闸门
	if _, waiting := b.Volume.GetCloseState(a.Symbol, b.Cfg.Name); !waiting {
		initial := 0.0
		if r, ok := b.Volume.Get(a.Symbol, b.MainTimeframe()); ok {
			initial = r.Volume
		}
		b.Volume.InitCloseState(a.Symbol, b.Cfg.Name, initial)
		b.notify(fmt.Sprintf("⏳ <b>%s</b> %s 收到平仓信号，等待量能确认（当前 %.2f，阈值 ≥%.0f）",
			b.Cfg.Name, a.Symbol, initial, volume.CloseGateThreshold))
		return nil
	}
	if !b.Volume.CanClose(a.Symbol, b.Cfg.Name) {
		st, _ := b.Volume.GetCloseState(a.Symbol, b.Cfg.Name)
		b.notify(fmt.Sprintf("⏳ <b>%s</b> %s 量能未达标（当前 %.2f，阈值 ≥%.0f），继续等待",
			b.Cfg.Name, a.Symbol, st.CurrentVolume, volume.CloseGateThreshold))
		return nil
	}
	if err := b.closePosition(ctx, a, pos, b.Direction(), "量能确认平仓"); err != nil {
		return err
	}
	b.Volume.ClearCloseState(a.Symbol, b.Cfg.Name)
	return nil
}

// OnBigClose 无视量能闸门，直接全平。
func (s *defaultStrategy) OnBigClose(ctx context.Context, a Alert) error {
	b := s.bot
	pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := b.closePosition(ctx, a, pos, b.Direction(), "SmartBigClose"); err != nil {
		return err
	}
	b.Volume.ClearCloseState(a.Symbol, b.Cfg.Name)
	return nil
}
