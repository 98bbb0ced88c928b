package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smartvol/internal/config"
	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/symbols"
	"smartvol/internal/pkg/timeframe"
	"smartvol/internal/positions"
	"smartvol/internal/trend"
	"smartvol/internal/volume"
)

// Bot 一个配置条目对应的引擎实例：静态配置 + 协作方 + 策略状态机。
type Bot struct {
	Cfg       config.BotConfig
	Exchange  ExchangeGateway
	Notifier  Notifier
	Trend     TrendProvider
	Positions *positions.Store
	Volume    *volume.Cache

	strategy Strategy
}

// Name 机器人标识。
func (b *Bot) Name() string { return b.Cfg.Name }

// MainTimeframe 趋势层级的主周期（分钟当量最大者）。
func (b *Bot) MainTimeframe() string { return timeframe.Main(b.Cfg.TimeframeTrend) }

// BaseUsd 单次开仓名义金额。
func (b *Bot) BaseUsd() decimal.Decimal { return decimal.NewFromFloat(b.Cfg.BaseUsd) }

// AddUsd 加仓名义金额 = round(base_usd × add_fraction)。
func (b *Bot) AddUsd() decimal.Decimal {
	return b.BaseUsd().Mul(decimal.NewFromFloat(b.Cfg.AddFraction)).Round(0)
}

// Direction 配置方向；both 时由趋势判定给出实际方向。
func (b *Bot) Direction() trend.Direction {
	switch b.Cfg.Direction {
	case "short":
		return trend.Short
	case "both":
		return trend.Neutral
	default:
		return trend.Long
	}
}

func (b *Bot) notify(msg string) {
	if b.Notifier != nil {
		b.Notifier.Send(msg)
	}
}

// Process 按告警类型派发给策略。未识别类型记日志后丢弃（不报错）。
// 持有 (bot, symbol) 锁，阻止并发投递对同一仓位的读-改-写竞争。
func (b *Bot) Process(ctx context.Context, a Alert) error {
	if !b.Cfg.Enabled || b.strategy == nil {
		return nil
	}
	// 配置缺失退化为 no-op，不让单个配置错误炸掉整个扇出
	if b.Cfg.BaseUsd <= 0 && b.Cfg.Strategy != "domination" {
		logger.Warnf("机器人 %s base_usd 缺失，忽略告警 %s", b.Cfg.Name, a.Name)
		return nil
	}

	lock := getKeyLock(b.Cfg.Name, a.Symbol)
	lock.Lock()
	defer lock.Unlock()

	switch a.Type {
	case AlertOpen:
		return b.strategy.OnOpen(ctx, a)
	case AlertAdd:
		return b.strategy.OnAdd(ctx, a)
	case AlertClose:
		return b.strategy.OnClose(ctx, a)
	case AlertBigClose:
		return b.strategy.OnBigClose(ctx, a)
	case AlertBigAdd:
		return b.strategy.OnBigAdd(ctx, a)
	case AlertSmartVolumeOpen:
		return b.strategy.OnSmartVolumeOpen(ctx, a)
	case AlertBullishVolume:
		return b.strategy.OnBullishVolume(ctx, a)
	case AlertVolumeUp:
		return b.strategy.OnVolumeUp(ctx, a)
	case AlertFixedShortSync:
		return b.strategy.OnFixedShortSync(ctx, a)
	case AlertLiveShortSync:
		return b.strategy.OnLiveShortSync(ctx, a)

	case AlertTrendLong:
		return b.strategy.OnTrendSignal(ctx, a, trend.Long, false)
	case AlertTrendShort:
		return b.strategy.OnTrendSignal(ctx, a, trend.Short, false)
	case AlertPivotLong:
		return b.strategy.OnTrendSignal(ctx, a, trend.Long, false)
	case AlertPivotShort:
		return b.strategy.OnTrendSignal(ctx, a, trend.Short, false)
	case AlertStrongPivotLong:
		return b.strategy.OnTrendSignal(ctx, a, trend.Long, true)
	case AlertStrongPivotShort:
		return b.strategy.OnTrendSignal(ctx, a, trend.Short, true)

	case AlertBuyerDomination:
		return b.strategy.OnDomination(ctx, a, trend.Long)
	case AlertSellerDomination:
		return b.strategy.OnDomination(ctx, a, trend.Short)
	case AlertBuyerContinuation:
		return b.strategy.OnContinuation(ctx, a, trend.Long)
	case AlertSellerContinuation:
		return b.strategy.OnContinuation(ctx, a, trend.Short)

	case AlertBullRelsi:
		return b.strategy.OnPatternSignal(ctx, a, trend.Long, "relsi")
	case AlertBearRelsi:
		return b.strategy.OnPatternSignal(ctx, a, trend.Short, "relsi")
	case AlertBullMarubozu:
		return b.strategy.OnPatternSignal(ctx, a, trend.Long, "marubozu")
	case AlertBearMarubozu:
		return b.strategy.OnPatternSignal(ctx, a, trend.Short, "marubozu")
	case AlertBullPogloshenie:
		return b.strategy.OnPatternSignal(ctx, a, trend.Long, "pogloshenie")
	case AlertBearPogloshenie:
		return b.strategy.OnPatternSignal(ctx, a, trend.Short, "pogloshenie")
	}
	logger.Debugf("机器人 %s 忽略未处理的告警类型 %s", b.Cfg.Name, a.Type)
	return nil
}

// sideFor 方向 → 市价单 side。
func sideFor(dir trend.Direction) string {
	if dir == trend.Short {
		return "sell"
	}
	return "buy"
}

// holdSideFor 方向 → flashClose holdSide。
func holdSideFor(dir trend.Direction) string {
	if dir == trend.Short {
		return "short"
	}
	return "long"
}

// openPosition 共享开仓路径：白名单 → 杠杆 → 换算张数 → 市价单 → 落库。
// prod=false 时跳过交易所调用（纸面仓位）。
func (b *Bot) openPosition(ctx context.Context, a Alert, dir trend.Direction, usd decimal.Decimal, meta map[string]any) (database.PositionRecord, error) {
	symbolID := symbols.BitgetSymbolID(a.Symbol)
	if b.Cfg.Prod && b.Exchange != nil {
		if !b.Exchange.IsAllowed(symbolID) {
			b.notify(fmt.Sprintf("⛔️ %s: %s 不在允许列表，拒绝开仓", b.Cfg.Name, a.Symbol))
			return database.PositionRecord{}, nil
		}
		if err := b.Exchange.EnsureLeverage(ctx, symbolID, fmt.Sprintf("%d", b.Cfg.Leverage)); err != nil {
			return database.PositionRecord{}, err
		}
		size, err := b.Exchange.CalcSizeFromUsd(ctx, symbolID, a.Price, usd)
		if err != nil {
			return database.PositionRecord{}, err
		}
		if err := b.Exchange.PlaceMarket(ctx, symbolID, sideFor(dir), size, uuid.NewString()); err != nil {
			return database.PositionRecord{}, fmt.Errorf("开仓下单失败: %w", err)
		}
	}
	pos, err := b.Positions.Open(ctx, b.Cfg.Name, a.Symbol, a.Price, usd, meta)
	if err != nil {
		return database.PositionRecord{}, err
	}
	b.notify(fmt.Sprintf("🟢 <b>%s</b> 开仓 %s\n方向: %s\n价格: %s\n名义: %s USDT",
		b.Cfg.Name, a.Symbol, dir, a.Price, usd))
	return pos, nil
}

// addToPosition 共享加仓路径。
func (b *Bot) addToPosition(ctx context.Context, a Alert, pos database.PositionRecord, dir trend.Direction, usd decimal.Decimal) error {
	if b.Cfg.Prod && b.Exchange != nil {
		symbolID := symbols.BitgetSymbolID(a.Symbol)
		size, err := b.Exchange.CalcSizeFromUsd(ctx, symbolID, a.Price, usd)
		if err != nil {
			return err
		}
		if err := b.Exchange.PlaceMarket(ctx, symbolID, sideFor(dir), size, uuid.NewString()); err != nil {
			return fmt.Errorf("加仓下单失败: %w", err)
		}
	}
	updated, err := b.Positions.Add(ctx, pos, a.Price, usd)
	if err != nil {
		return err
	}
	b.notify(fmt.Sprintf("➕ <b>%s</b> 加仓 %s\n价格: %s\n追加: %s USDT\n新均价: %s (fills %d/%d)",
		b.Cfg.Name, a.Symbol, a.Price, usd, updated.AvgEntryPrice, updated.FillsCount, b.Cfg.MaxFills))
	return nil
}

// closePosition 共享全平路径：flashClose 的“无仓位”视为幂等成功。
func (b *Bot) closePosition(ctx context.Context, a Alert, pos database.PositionRecord, dir trend.Direction, reason string) error {
	if b.Cfg.Prod && b.Exchange != nil {
		noop, err := b.Exchange.FlashClose(ctx, a.Symbol, holdSideFor(dir))
		if err != nil {
			return err
		}
		if noop {
			logger.Infof("机器人 %s: %s 交易所侧已无仓位，仅落库", b.Cfg.Name, a.Symbol)
		}
	}
	if err := b.Positions.Close(ctx, pos); err != nil {
		return err
	}
	msg := fmt.Sprintf("🔴 <b>%s</b> 平仓 %s\n价格: %s", b.Cfg.Name, a.Symbol, a.Price)
	if reason != "" {
		msg += "\n原因: " + reason
	}
	if pnl, _, err := positions.CalculatePnL(pos, a.Price); err == nil {
		msg += fmt.Sprintf("\nPnL: %s USDT", pnl)
	}
	b.notify(msg)
	return nil
}

// reducePosition 按剩余名义金额的 fraction 市价减仓。
func (b *Bot) reducePosition(ctx context.Context, a Alert, pos database.PositionRecord, fraction decimal.Decimal) error {
	amt, err := decimal.NewFromString(pos.AmountUsd)
	if err != nil {
		return fmt.Errorf("解析名义金额失败: %w", err)
	}
	closeUsd := amt.Mul(fraction)
	if b.Cfg.Prod && b.Exchange != nil {
		symbolID := symbols.BitgetSymbolID(a.Symbol)
		size, err := b.Exchange.CalcSizeFromUsd(ctx, symbolID, a.Price, closeUsd)
		if err != nil {
			return err
		}
		if err := b.Exchange.ReduceMarket(ctx, symbolID, size, uuid.NewString()); err != nil {
			return fmt.Errorf("减仓下单失败: %w", err)
		}
	}
	if err := b.Positions.ReduceAmount(ctx, pos, amt.Sub(closeUsd)); err != nil {
		return err
	}
	b.notify(fmt.Sprintf("🟠 <b>%s</b> 部分平仓 %s\n比例: %s%%\n剩余名义: %s USDT",
		b.Cfg.Name, a.Symbol, fraction.Mul(decimal.NewFromInt(100)).Round(0), amt.Sub(closeUsd).Round(2)))
	return nil
}
