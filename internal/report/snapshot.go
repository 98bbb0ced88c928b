package report

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"smartvol/internal/gateway/bitget"
	"smartvol/internal/pkg/format"
)

const (
	emaPeriod = 20
	rsiPeriod = 14
)

// Snapshot 报告用的行情快照：最近收盘序列 + EMA/RSI。
type Snapshot struct {
	Symbol      string
	Times       []string
	Closes      []float64
	EMA         []float64
	LastClose   float64
	LastEMA     float64
	LastRSI     float64
	FundingRate float64
}

// CandleSource 快照需要的 K 线来源（Bitget 公共行情）。
type CandleSource interface {
	Candles(ctx context.Context, symbol string, granularitySec, limit int) ([]bitget.Candle, error)
}

// FundingSource 资金费率来源（失败返回 0，可选）。
type FundingSource interface {
	FundingRate(ctx context.Context, symbol string) float64
}

// BuildSnapshot 拉取 1h K 线并计算指标。数据不足以计算指标时报错。
func BuildSnapshot(ctx context.Context, candles CandleSource, funding FundingSource, symbol string, limit int) (Snapshot, error) {
	rows, err := candles.Candles(ctx, symbol, 3600, limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("拉取 K 线失败: %w", err)
	}
	if len(rows) < rsiPeriod+1 {
		return Snapshot{}, fmt.Errorf("K 线不足（%d 条），无法计算指标", len(rows))
	}
	snap := Snapshot{Symbol: symbol}
	for _, c := range rows {
		snap.Times = append(snap.Times, c.Timestamp.Format("01-02 15:04"))
		snap.Closes = append(snap.Closes, c.Close)
	}
	snap.EMA = talib.Ema(snap.Closes, emaPeriod)
	rsi := talib.Rsi(snap.Closes, rsiPeriod)
	snap.LastClose = snap.Closes[len(snap.Closes)-1]
	snap.LastEMA = snap.EMA[len(snap.EMA)-1]
	snap.LastRSI = rsi[len(rsi)-1]
	if funding != nil {
		snap.FundingRate = funding.FundingRate(ctx, symbol)
	}
	return snap, nil
}

// Text 快照的通知文本片段。
func (s Snapshot) Text() string {
	out := fmt.Sprintf("收盘: %s\nEMA%d: %s\nRSI%d: %s",
		format.Float(s.LastClose, 6), emaPeriod, format.Float(s.LastEMA, 6), rsiPeriod, format.Float(s.LastRSI, 2))
	if s.FundingRate != 0 {
		out += fmt.Sprintf("\n资金费率: %s", format.Percent(s.FundingRate))
	}
	return out
}
