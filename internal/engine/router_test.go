package engine

import (
	"context"
	"errors"
	"testing"

	"smartvol/internal/config"
	"smartvol/internal/volume"
)

func TestRouterRejectsInvalidPayload(t *testing.T) {
	tb := newTestBot(t, config.BotConfig{Name: "bot-a", Strategy: "default", Direction: "long"})
	r := NewRouter([]*Bot{tb.bot}, volume.NewCache())

	err := r.Handle(context.Background(), map[string]any{
		"alertName": "FooBar", "symbol": "BTCUSDT", "price": "1",
	})
	if err == nil {
		t.Fatal("未知告警应在校验层拒绝")
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("校验失败不应触达任何机器人")
	}
}

func TestRouterVolumeUpFeedsCache(t *testing.T) {
	cache := volume.NewCache()
	r := NewRouter(nil, cache)

	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "VolumeUp", "symbol": "BTCUSDT", "volume": 21.0, "timeframe": "30m",
	}); err != nil {
		t.Fatal(err)
	}
	if reading, ok := cache.Get("BTCUSDT", "30m"); !ok || reading.Volume != 21.0 {
		t.Errorf("VolumeUp 应先入缓存: %+v ok=%v", reading, ok)
	}
}

func TestRouterFamilyFanout(t *testing.T) {
	def := newTestBot(t, config.BotConfig{Name: "bot-default", Strategy: "default", Direction: "long"})
	dom := newTestBot(t, config.BotConfig{Name: "bot-dom", Strategy: "domination", Direction: "both"})
	r := NewRouter([]*Bot{def.bot, dom.bot}, volume.NewCache())

	// 统治族告警只触达统治策略机器人
	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "BuyerDomination", "symbol": "SOLUSDT", "price": "150",
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := dom.findOpen(t, "SOLUSDT"); !ok {
		t.Fatal("统治机器人应收到统治告警")
	}
	if _, ok := def.findOpen(t, "SOLUSDT"); ok {
		t.Fatal("default 机器人不应收到统治告警")
	}

	// smartvol 族告警触达所有机器人（统治策略继承空实现，无动作）
	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "SmartOpen", "symbol": "BTCUSDT", "price": "50000",
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := def.findOpen(t, "BTCUSDT"); !ok {
		t.Fatal("default 机器人应收到 SmartOpen")
	}
	if _, ok := dom.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("统治策略对 SmartOpen 是空实现")
	}
}

func TestRouterSymbolFilter(t *testing.T) {
	tb := newTestBot(t, config.BotConfig{
		Name: "bot-filtered", Strategy: "default", Direction: "long",
		SymbolFilter: []string{"ETHUSDT"},
	})
	r := NewRouter([]*Bot{tb.bot}, volume.NewCache())

	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "SmartOpen", "symbol": "BTCUSDT", "price": "50000",
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("过滤列表外的符号应被跳过")
	}

	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "SmartOpen", "symbol": "ETH_USDT", "price": "3000",
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "ETHUSDT"); !ok {
		t.Fatal("过滤列表内的符号应放行")
	}
}

func TestRouterFanoutIsolation(t *testing.T) {
	broken := newTestBot(t, config.BotConfig{Name: "bot-broken", Strategy: "default", Direction: "long", Prod: true})
	healthy := newTestBot(t, config.BotConfig{Name: "bot-healthy", Strategy: "default", Direction: "long"})
	broken.gateway.placeErr = errors.New("下单被拒")
	r := NewRouter([]*Bot{broken.bot, healthy.bot}, volume.NewCache())

	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "SmartOpen", "symbol": "BTCUSDT", "price": "50000",
	}); err != nil {
		t.Fatalf("单个机器人失败不应让 Handle 报错: %v", err)
	}
	if _, ok := broken.findOpen(t, "BTCUSDT"); ok {
		t.Error("下单失败的机器人不应落库")
	}
	if _, ok := healthy.findOpen(t, "BTCUSDT"); !ok {
		t.Error("其余机器人应照常处理")
	}
}

func TestRouterSkipsDisabledBots(t *testing.T) {
	tb := newTestBot(t, config.BotConfig{Name: "bot-off", Strategy: "default", Direction: "long"})
	tb.bot.Cfg.Enabled = false
	r := NewRouter([]*Bot{tb.bot}, volume.NewCache())

	if err := r.Handle(context.Background(), map[string]any{
		"alertName": "SmartOpen", "symbol": "BTCUSDT", "price": "50000",
	}); err != nil {
		t.Fatal(err)
	}
	if _, ok := tb.findOpen(t, "BTCUSDT"); ok {
		t.Fatal("禁用机器人不应收到告警")
	}
}

func TestRouterBotLookup(t *testing.T) {
	tb := newTestBot(t, config.BotConfig{Name: "bot-a", Strategy: "default", Direction: "long"})
	r := NewRouter([]*Bot{tb.bot}, volume.NewCache())
	if r.Bot("bot-a") == nil {
		t.Error("按名查询应命中")
	}
	if r.Bot("nope") != nil {
		t.Error("未知名字应返回 nil")
	}
}
