package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/timeframe"
	"smartvol/internal/positions"
	"smartvol/internal/trend"
)

const anchorTimeframe = "4h"

// trendPivotStrategy 双周期趋势确认台账：
// 每个趋势/拐点信号先写入趋势台账（同 (symbol, timeframe) 身份原地覆盖），
// 再重估进出场。入场要求 4h 锚定方向非 neutral 且与主周期一致；
// 4h 锚定翻转（相对入场时记录的 originalDirection）全平；
// 仅主周期翻转时按主周期确认条数梯度减仓（1 条→100%，2 条→50%，3 条及以上→33%）。
// 梯度计数包含 meta 里累计的已减仓次数，连续翻转退出时档位随之下移。
type trendPivotStrategy struct {
	baseStrategy
	bot *Bot
}

func newTrendPivotStrategy(b *Bot) *trendPivotStrategy { return &trendPivotStrategy{bot: b} }

func (s *trendPivotStrategy) Name() string { return "trend-pivot" }

func (s *trendPivotStrategy) OnTrendSignal(ctx context.Context, a Alert, dir trend.Direction, strong bool) error {
	b := s.bot
	tf := a.Timeframe
	if tf == "" || !timeframe.Valid(tf) {
		tf = b.MainTimeframe()
	}
	// 同一 (symbol, timeframe) 的拐点信号覆盖自己的上一次状态
	_, err := b.Trend.Confirm(ctx, trend.ConfirmArgs{
		Symbol:    a.Symbol,
		Timeframe: tf,
		Direction: dir,
		Source:    "trend-pivot",
		Meta:      map[string]any{"name": "trend-pivot:" + tf, "strong": strong},
	})
	if err != nil {
		return err
	}
	return s.evaluate(ctx, a)
}

func (s *trendPivotStrategy) evaluate(ctx context.Context, a Alert) error {
	b := s.bot
	mainTF := b.MainTimeframe()
	anchor, err := b.Trend.GetCurrent(ctx, a.Symbol, anchorTimeframe)
	if err != nil {
		return err
	}
	mainDir, err := b.Trend.GetCurrent(ctx, a.Symbol, mainTF)
	if err != nil {
		return err
	}

	pos, open, err := b.Positions.FindOpen(ctx, b.Cfg.Name, a.Symbol)
	if err != nil {
		return err
	}
	if !open {
		return s.tryEnter(ctx, a, anchor, mainDir)
	}

	meta, ok := positions.ParseTrendPivotMeta(pos)
	if !ok {
		logger.Warnf("机器人 %s: %s 仓位缺少趋势拐点元数据，跳过重估", b.Cfg.Name, a.Symbol)
		return nil
	}
	original, err := trend.ParseDirection(meta.OriginalDirection)
	if err != nil {
		return err
	}

	// 4h 锚定翻转：全平
	if anchor != trend.Neutral && anchor != original {
		return b.closePosition(ctx, a, pos, original,
			fmt.Sprintf("4h 锚定翻转 %s → %s", original, anchor))
	}
	// 仅主周期翻转：梯度减仓
	if mainDir != trend.Neutral && mainDir != original {
		return s.partialExit(ctx, a, pos, meta, original, mainTF)
	}
	return nil
}

// tryEnter 入场：4h 锚定非 neutral 且与主周期方向一致。
func (s *trendPivotStrategy) tryEnter(ctx context.Context, a Alert, anchor, mainDir trend.Direction) error {
	b := s.bot
	if anchor == trend.Neutral || anchor != mainDir {
		logger.Debugf("机器人 %s: %s 锚定/主周期不一致（4h=%s main=%s），不入场", b.Cfg.Name, a.Symbol, anchor, mainDir)
		return nil
	}
	if want := b.Direction(); want != trend.Neutral && anchor != want {
		return nil
	}
	meta := positions.TrendPivotMeta{OriginalDirection: string(anchor)}
	_, err := b.openPosition(ctx, a, anchor, b.BaseUsd(), meta.ToMap())
	return err
}

// closeFraction 主周期确认条数 → 减仓比例。
func closeFraction(confirmations int) decimal.Decimal {
	switch {
	case confirmations <= 1:
		return decimal.NewFromInt(1)
	case confirmations == 2:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.NewFromFloat(0.33)
	}
}

func (s *trendPivotStrategy) partialExit(ctx context.Context, a Alert, pos database.PositionRecord, meta positions.TrendPivotMeta, original trend.Direction, mainTF string) error {
	b := s.bot
	active, err := b.Trend.ConfirmationCount(ctx, a.Symbol, mainTF)
	if err != nil {
		return err
	}
	// 命名确认原地覆盖，活跃条数常年为 1；叠加已减仓次数让档位可达
	count := active + meta.ClosedConfirmations
	fraction := closeFraction(count)
	if fraction.Equal(decimal.NewFromInt(1)) {
		return b.closePosition(ctx, a, pos, original,
			fmt.Sprintf("主周期(%s)翻转，确认数 %d → 全平", mainTF, count))
	}
	if err := b.reducePosition(ctx, a, pos, fraction); err != nil {
		return err
	}
	meta.ClosedConfirmations++
	return b.Positions.SetMeta(ctx, pos, meta.ToMap())
}
