package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"smartvol/internal/gateway/bitget"
)

type fakeCandles struct {
	rows []bitget.Candle
	err  error
}

func (f fakeCandles) Candles(_ context.Context, _ string, _, _ int) ([]bitget.Candle, error) {
	return f.rows, f.err
}

type fakeFunding float64

func (f fakeFunding) FundingRate(context.Context, string) float64 { return float64(f) }

func candles(n int) []bitget.Candle {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]bitget.Candle, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, bitget.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Close:     100 + float64(i),
		})
	}
	return rows
}

func TestBuildSnapshot(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), fakeCandles{rows: candles(30)}, fakeFunding(0.0001), "BTCUSDT", 30)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "BTCUSDT" || len(snap.Closes) != 30 || len(snap.Times) != 30 {
		t.Errorf("快照序列异常: %+v", snap)
	}
	if snap.LastClose != 129 {
		t.Errorf("LastClose = %v", snap.LastClose)
	}
	// 单调上涨序列：EMA 低于最新收盘，RSI 打满
	if snap.LastEMA <= 0 || snap.LastEMA >= snap.LastClose {
		t.Errorf("LastEMA = %v", snap.LastEMA)
	}
	if snap.LastRSI != 100 {
		t.Errorf("单边上涨 RSI 应为 100, got %v", snap.LastRSI)
	}
	if snap.FundingRate != 0.0001 {
		t.Errorf("FundingRate = %v", snap.FundingRate)
	}
}

func TestBuildSnapshotErrors(t *testing.T) {
	if _, err := BuildSnapshot(context.Background(), fakeCandles{err: errors.New("boom")}, nil, "BTCUSDT", 30); err == nil {
		t.Error("行情来源报错应上抛")
	}
	if _, err := BuildSnapshot(context.Background(), fakeCandles{rows: candles(10)}, nil, "BTCUSDT", 30); err == nil {
		t.Error("K 线不足应报错")
	}
}

func TestSnapshotText(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), fakeCandles{rows: candles(30)}, nil, "BTCUSDT", 30)
	if err != nil {
		t.Fatal(err)
	}
	text := snap.Text()
	if !strings.Contains(text, "收盘: 129") || !strings.Contains(text, "EMA20") || !strings.Contains(text, "RSI14") {
		t.Errorf("报告文本异常: %q", text)
	}
	if strings.Contains(text, "资金费率") {
		t.Errorf("资金费率为 0 不应出现在文本中: %q", text)
	}

	snap.FundingRate = 0.0001
	if !strings.Contains(snap.Text(), "资金费率") {
		t.Error("资金费率非 0 应出现在文本中")
	}
}
