package positions

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"smartvol/internal/gateway/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewStore(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOpenAndFindOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.FindOpen(ctx, "bot-a", "BTCUSDT"); err != nil || ok {
		t.Fatalf("空库不应有 open 仓位: ok=%v err=%v", ok, err)
	}

	pos, err := s.Open(ctx, "bot-a", "btcusdt", dec("50000"), dec("200"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Symbol != "BTCUSDT" || pos.FillsCount != 1 || pos.Status != database.PositionStatusOpen {
		t.Errorf("开仓行异常: %+v", pos)
	}
	if pos.OpenedAt == nil {
		t.Error("opened_at 应自动填充")
	}

	got, ok, err := s.FindOpen(ctx, "bot-a", "BTCUSDT")
	if err != nil || !ok || got.ID != pos.ID {
		t.Fatalf("FindOpen 未命中: ok=%v err=%v got=%+v", ok, err, got)
	}
	// 其它机器人不可见
	if _, ok, _ := s.FindOpen(ctx, "bot-b", "BTCUSDT"); ok {
		t.Error("仓位按 bot 隔离")
	}
}

func TestOpenValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Open(context.Background(), "bot-a", "BTCUSDT", dec("0"), dec("200"), nil); err == nil {
		t.Error("价格为 0 应报错")
	}
	if _, err := s.Open(context.Background(), "bot-a", "BTCUSDT", dec("50000"), dec("-1"), nil); err == nil {
		t.Error("负名义金额应报错")
	}
}

func TestAddWeightedAverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos, err := s.Open(ctx, "bot-a", "BTCUSDT", dec("50000"), dec("200"), nil)
	if err != nil {
		t.Fatal(err)
	}
	// (200×50000 + 100×51000) / 300 = 50333.333...
	updated, err := s.Add(ctx, pos, dec("51000"), dec("100"))
	if err != nil {
		t.Fatal(err)
	}
	wantAvg := dec("200").Mul(dec("50000")).Add(dec("100").Mul(dec("51000"))).Div(dec("300")).Round(12)
	if updated.AvgEntryPrice != wantAvg.String() {
		t.Errorf("加权均价 = %s, want %s", updated.AvgEntryPrice, wantAvg)
	}
	if updated.AmountUsd != "300" || updated.FillsCount != 2 {
		t.Errorf("名义/次数异常: %+v", updated)
	}

	// 回读核对持久化
	got, ok, err := s.FindOpen(ctx, "bot-a", "BTCUSDT")
	if err != nil || !ok {
		t.Fatal(err)
	}
	if got.AvgEntryPrice != wantAvg.String() || got.FillsCount != 2 {
		t.Errorf("持久化回读异常: %+v", got)
	}
}

func TestClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos, err := s.Open(ctx, "bot-a", "BTCUSDT", dec("50000"), dec("200"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx, pos); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.FindOpen(ctx, "bot-a", "BTCUSDT"); ok {
		t.Error("平仓后不应再查到 open 行")
	}
	// 平仓后可重新开仓（一仓不变量按 open 行约束）
	if _, err := s.Open(ctx, "bot-a", "BTCUSDT", dec("48000"), dec("200"), nil); err != nil {
		t.Errorf("平仓后重新开仓失败: %v", err)
	}
}

func TestReduceAmount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos, err := s.Open(ctx, "bot-a", "BTCUSDT", dec("50000"), dec("200"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReduceAmount(ctx, pos, dec("100")); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.FindOpen(ctx, "bot-a", "BTCUSDT")
	if got.AmountUsd != "100" {
		t.Errorf("剩余名义 = %s, want 100", got.AmountUsd)
	}
	// 负数截断到 0
	if err := s.ReduceAmount(ctx, pos, dec("-5")); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.FindOpen(ctx, "bot-a", "BTCUSDT")
	if got.AmountUsd != "0" {
		t.Errorf("负剩余应截断为 0: %s", got.AmountUsd)
	}
}

func TestSetMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := DominationMeta{Side: "seller"}
	pos, err := s.Open(ctx, "bot-a", "SOLUSDT", dec("150"), dec("200"), meta.ToMap())
	if err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.FindOpen(ctx, "bot-a", "SOLUSDT")
	parsed, ok := ParseDominationMeta(got)
	if !ok || parsed.Side != "seller" {
		t.Fatalf("统治元数据解析失败: %+v ok=%v", parsed, ok)
	}

	tp := TrendPivotMeta{OriginalDirection: "long", ClosedConfirmations: 2}
	if err := s.SetMeta(ctx, pos, tp.ToMap()); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.FindOpen(ctx, "bot-a", "SOLUSDT")
	tpGot, ok := ParseTrendPivotMeta(got)
	if !ok || tpGot.OriginalDirection != "long" || tpGot.ClosedConfirmations != 2 {
		t.Fatalf("趋势拐点元数据解析失败: %+v ok=%v", tpGot, ok)
	}
}

func TestCalculatePnL(t *testing.T) {
	rec := database.PositionRecord{AvgEntryPrice: "50000", AmountUsd: "200"}

	// 币量 = 200/50000 = 0.004；现价 51000 → pnl = 0.004×51000 − 200 = 4
	pnl, qty, err := CalculatePnL(rec, dec("51000"))
	if err != nil {
		t.Fatal(err)
	}
	if !qty.Equal(dec("0.004")) {
		t.Errorf("qty = %s, want 0.004", qty)
	}
	if !pnl.Equal(dec("4")) {
		t.Errorf("pnl = %s, want 4", pnl)
	}

	// 价格下跌亏损
	pnl, _, err = CalculatePnL(rec, dec("49000"))
	if err != nil {
		t.Fatal(err)
	}
	if !pnl.Equal(dec("-4")) {
		t.Errorf("pnl = %s, want -4", pnl)
	}

	if _, _, err := CalculatePnL(database.PositionRecord{AvgEntryPrice: "0", AmountUsd: "200"}, dec("1")); err == nil {
		t.Error("均价为 0 应报错")
	}
}

func TestBotSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Open(ctx, "bot-a", "BTCUSDT", dec("50000"), dec("200"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, "bot-a", "ETHUSDT", dec("3000"), dec("100"), nil); err != nil {
		t.Fatal(err)
	}
	sum, err := s.BotSummary(ctx, "bot-a")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 2 || !sum.TotalUsd.Equal(dec("300")) {
		t.Errorf("汇总异常: %+v", sum)
	}
}
