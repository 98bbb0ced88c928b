package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"smartvol/internal/config"
	"smartvol/internal/engine"
	"smartvol/internal/gateway/database"
	"smartvol/internal/gateway/notifier"
	"smartvol/internal/positions"
	"smartvol/internal/report"
	"smartvol/internal/trend"
	"smartvol/internal/volume"
)

func newTestScheduler(t *testing.T) (*Scheduler, *positions.Store, *trend.Service) {
	t.Helper()
	db, err := database.NewStore(filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	trendSvc := trend.NewService(db)
	posStore := positions.NewStore(db)
	router := engine.NewRouter(nil, volume.NewCache())
	s := New(router, trendSvc, notifier.NewRegistry(nil), nil, nil, config.ReportConfig{})
	return s, posStore, trendSvc
}

func TestReportSymbolsPrefersFilter(t *testing.T) {
	s, posStore, _ := newTestScheduler(t)
	b := &engine.Bot{
		Cfg:       config.BotConfig{Name: "r1", SymbolFilter: []string{"BTCUSDT", "ETHUSDT"}},
		Positions: posStore,
	}
	syms, err := s.reportSymbols(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 || syms[0] != "BTCUSDT" || syms[1] != "ETHUSDT" {
		t.Errorf("应优先使用过滤列表: %v", syms)
	}
}

func TestReportSymbolsFallsBackToOpenPositions(t *testing.T) {
	s, posStore, _ := newTestScheduler(t)
	ctx := context.Background()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		if _, err := posStore.Open(ctx, "r1", sym,
			decimal.RequireFromString("100"), decimal.RequireFromString("200"), nil); err != nil {
			t.Fatal(err)
		}
	}
	b := &engine.Bot{Cfg: config.BotConfig{Name: "r1"}, Positions: posStore}
	syms, err := s.reportSymbols(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 {
		t.Errorf("持仓符号应去重: %v", syms)
	}
}

func TestBuildTextCoversTrendAndPosition(t *testing.T) {
	s, posStore, trendSvc := newTestScheduler(t)
	ctx := context.Background()

	if _, err := trendSvc.Confirm(ctx, trend.ConfirmArgs{
		Symbol: "BTCUSDT", Timeframe: "1h", Direction: trend.Long, Source: "test",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := posStore.Open(ctx, "r1", "BTCUSDT",
		decimal.RequireFromString("50000"), decimal.RequireFromString("200"), nil); err != nil {
		t.Fatal(err)
	}

	b := &engine.Bot{
		Cfg:       config.BotConfig{Name: "r1", TimeframeTrend: []string{"1h"}},
		Positions: posStore,
	}
	text, err := s.buildText(ctx, b, "BTCUSDT", report.Snapshot{}, errors.New("无行情"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "1h: 🟢 long") || !strings.Contains(text, "综合: 🟢 long") {
		t.Errorf("趋势行异常: %q", text)
	}
	if !strings.Contains(text, "均价=50000") {
		t.Errorf("持仓行异常: %q", text)
	}
}

func TestTrendEmoji(t *testing.T) {
	if got := trendEmoji(trend.Long); got != "🟢 long" {
		t.Errorf("long = %q", got)
	}
	if got := trendEmoji(trend.Short); got != "🔴 short" {
		t.Errorf("short = %q", got)
	}
	if got := trendEmoji(trend.Neutral); got != "⚪️ neutral" {
		t.Errorf("neutral = %q", got)
	}
}
