package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"smartvol/internal/trend"
)

// ExchangeGateway 策略层需要的交易所能力。
// flashClose 返回的 noop=true 表示交易所侧本就没有仓位（幂等成功）。
type ExchangeGateway interface {
	IsAllowed(symbolID string) bool
	EnsureLeverage(ctx context.Context, symbolID, leverage string) error
	CalcSizeFromUsd(ctx context.Context, symbolID string, lastPrice, usdAmount decimal.Decimal) (string, error)
	PlaceMarket(ctx context.Context, symbolID, side, size, clientOid string) error
	ReduceMarket(ctx context.Context, symbolID, size, clientOid string) error
	FlashClose(ctx context.Context, symbol, holdSide string) (bool, error)
}

// Notifier 吞错的通知能力：通知故障不得阻断交易逻辑。
type Notifier interface {
	Send(msg string)
}

// TrendProvider 趋势判定能力（见 trend.Service）。
type TrendProvider interface {
	Confirm(ctx context.Context, args trend.ConfirmArgs) (time.Time, error)
	GetCurrent(ctx context.Context, symbol, tf string) (trend.Direction, error)
	AgreeAll(ctx context.Context, symbol string, tfs []string) (trend.Direction, error)
	AgreeAllWithHierarchy(ctx context.Context, symbol string, tfs []string) (trend.Direction, error)
	CanAddPosition(ctx context.Context, symbol string, tfs []string, expected trend.Direction) (bool, error)
	ConfirmationCount(ctx context.Context, symbol, tf string) (int, error)
	ShouldClosePosition(ctx context.Context, symbol string, tfs []string, current trend.Direction) (bool, error)
}

// Strategy 单个机器人的仓位生命周期状态机。
// 不消费某信号族的实现继承 baseStrategy 的空实现。
type Strategy interface {
	Name() string

	OnOpen(ctx context.Context, a Alert) error
	OnAdd(ctx context.Context, a Alert) error
	OnClose(ctx context.Context, a Alert) error
	OnBigClose(ctx context.Context, a Alert) error
	OnBigAdd(ctx context.Context, a Alert) error
	OnSmartVolumeOpen(ctx context.Context, a Alert) error
	OnBullishVolume(ctx context.Context, a Alert) error
	OnVolumeUp(ctx context.Context, a Alert) error
	OnFixedShortSync(ctx context.Context, a Alert) error
	OnLiveShortSync(ctx context.Context, a Alert) error

	OnTrendSignal(ctx context.Context, a Alert, dir trend.Direction, strong bool) error
	OnDomination(ctx context.Context, a Alert, side trend.Direction) error
	OnContinuation(ctx context.Context, a Alert, side trend.Direction) error
	OnPatternSignal(ctx context.Context, a Alert, side trend.Direction, pattern string) error
}

// baseStrategy 全空实现，具体策略按需覆盖。
type baseStrategy struct{}

func (baseStrategy) OnOpen(context.Context, Alert) error            { return nil }
func (baseStrategy) OnAdd(context.Context, Alert) error             { return nil }
func (baseStrategy) OnClose(context.Context, Alert) error           { return nil }
func (baseStrategy) OnBigClose(context.Context, Alert) error        { return nil }
func (baseStrategy) OnBigAdd(context.Context, Alert) error          { return nil }
func (baseStrategy) OnSmartVolumeOpen(context.Context, Alert) error { return nil }
func (baseStrategy) OnBullishVolume(context.Context, Alert) error   { return nil }
func (baseStrategy) OnVolumeUp(context.Context, Alert) error        { return nil }
func (baseStrategy) OnFixedShortSync(context.Context, Alert) error  { return nil }
func (baseStrategy) OnLiveShortSync(context.Context, Alert) error   { return nil }

func (baseStrategy) OnTrendSignal(context.Context, Alert, trend.Direction, bool) error { return nil }
func (baseStrategy) OnDomination(context.Context, Alert, trend.Direction) error        { return nil }
func (baseStrategy) OnContinuation(context.Context, Alert, trend.Direction) error      { return nil }
func (baseStrategy) OnPatternSignal(context.Context, Alert, trend.Direction, string) error {
	return nil
}
