package engine

import (
	"context"
	"testing"
	"time"

	"smartvol/internal/config"
)

func newThreeAlertsBot(t *testing.T) (*testBot, *threeAlertsStrategy, *time.Time) {
	t.Helper()
	tb := newTestBot(t, config.BotConfig{
		Strategy: "three-alerts", Prod: true, Direction: "long",
		BaseUsd: 200, TimeframeTrend: []string{"1h"},
	})
	s := tb.bot.strategy.(*threeAlertsStrategy)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return tb, s, &now
}

func TestThreeAlertsLongTripleOpens(t *testing.T) {
	tb, _, now := newThreeAlertsBot(t)
	ctx := context.Background()

	if err := tb.bot.Process(ctx, mkAlert(AlertBullRelsi, "BTCUSDT", "50000", "1h")); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(5 * time.Minute)
	if err := tb.bot.Process(ctx, mkAlert(AlertBullMarubozu, "BTCUSDT", "50100", "1h")); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("两个形态不应触发开仓")
	}

	*now = now.Add(5 * time.Minute)
	if err := tb.bot.Process(ctx, mkAlert(AlertBullPogloshenie, "BTCUSDT", "50200", "1h")); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); !ok {
		t.Fatal("三联集齐应开仓")
	}
}

func TestThreeAlertsWindowExpiry(t *testing.T) {
	tb, _, now := newThreeAlertsBot(t)
	ctx := context.Background()

	if err := tb.bot.Process(ctx, mkAlert(AlertBullRelsi, "BTCUSDT", "50000", "1h")); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(20 * time.Minute)
	if err := tb.bot.Process(ctx, mkAlert(AlertBullMarubozu, "BTCUSDT", "50100", "1h")); err != nil {
		t.Fatal(err)
	}
	// relsi 已超出 30 分钟窗口
	*now = now.Add(15 * time.Minute)
	if err := tb.bot.Process(ctx, mkAlert(AlertBullPogloshenie, "BTCUSDT", "50200", "1h")); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("窗口外的形态不应计入三联")
	}
}

func TestThreeAlertsSidesIndependent(t *testing.T) {
	tb, _, _ := newThreeAlertsBot(t)
	ctx := context.Background()

	// 多空形态互不混算
	if err := tb.bot.Process(ctx, mkAlert(AlertBullRelsi, "BTCUSDT", "50000", "1h")); err != nil {
		t.Fatal(err)
	}
	if err := tb.bot.Process(ctx, mkAlert(AlertBearMarubozu, "BTCUSDT", "50000", "1h")); err != nil {
		t.Fatal(err)
	}
	if err := tb.bot.Process(ctx, mkAlert(AlertBullPogloshenie, "BTCUSDT", "50000", "1h")); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("跨方向的形态不应拼成三联")
	}
}

func TestThreeAlertsShortTripleCloses(t *testing.T) {
	tb, _, _ := newThreeAlertsBot(t)
	ctx := context.Background()

	// 先凑一个多头三联开仓
	for _, typ := range []AlertType{AlertBullRelsi, AlertBullMarubozu, AlertBullPogloshenie} {
		if err := tb.bot.Process(ctx, mkAlert(typ, "BTCUSDT", "50000", "1h")); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); !ok {
		t.Fatal("多头三联应开仓")
	}

	// 空头三联 → 平掉既有仓位
	for _, typ := range []AlertType{AlertBearRelsi, AlertBearMarubozu, AlertBearPogloshenie} {
		if err := tb.bot.Process(ctx, mkAlert(typ, "BTCUSDT", "49000", "1h")); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("空头三联应平仓")
	}
}

func TestThreeAlertsTripleResetsAfterFire(t *testing.T) {
	tb, s, _ := newThreeAlertsBot(t)
	ctx := context.Background()

	for _, typ := range []AlertType{AlertBullRelsi, AlertBullMarubozu, AlertBullPogloshenie} {
		if err := tb.bot.Process(ctx, mkAlert(typ, "BTCUSDT", "50000", "1h")); err != nil {
			t.Fatal(err)
		}
	}
	s.mu.Lock()
	_, exists := s.seen["BTCUSDT|long"]
	s.mu.Unlock()
	if exists {
		t.Error("三联触发后信号集合应清空")
	}
}
