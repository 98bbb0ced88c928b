package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"smartvol/internal/config"
	"smartvol/internal/gateway/database"
	"smartvol/internal/pkg/timeframe"
	"smartvol/internal/positions"
	"smartvol/internal/trend"
	"smartvol/internal/volume"
)

// ---- 测试替身 ----

type marketOrder struct {
	symbolID  string
	side      string
	size      string
	clientOid string
}

type flashCall struct {
	symbol   string
	holdSide string
}

type fakeGateway struct {
	mu        sync.Mutex
	denied    map[string]bool
	leverages []string
	placed    []marketOrder
	reduced   []marketOrder
	flashes   []flashCall
	flashNoop bool
	flashErr  error
	placeErr  error
}

func (g *fakeGateway) IsAllowed(symbolID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.denied[symbolID]
}

func (g *fakeGateway) EnsureLeverage(_ context.Context, symbolID, leverage string) error {
	g.mu.Lock()
	g.leverages = append(g.leverages, symbolID+":"+leverage)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) CalcSizeFromUsd(_ context.Context, _ string, lastPrice, usdAmount decimal.Decimal) (string, error) {
	return usdAmount.Div(lastPrice).Round(6).String(), nil
}

func (g *fakeGateway) PlaceMarket(_ context.Context, symbolID, side, size, clientOid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return g.placeErr
	}
	g.placed = append(g.placed, marketOrder{symbolID, side, size, clientOid})
	return nil
}

func (g *fakeGateway) ReduceMarket(_ context.Context, symbolID, size, clientOid string) error {
	g.mu.Lock()
	g.reduced = append(g.reduced, marketOrder{symbolID: symbolID, size: size, clientOid: clientOid})
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) FlashClose(_ context.Context, symbol, holdSide string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flashErr != nil {
		return false, g.flashErr
	}
	g.flashes = append(g.flashes, flashCall{symbol, holdSide})
	return g.flashNoop, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Send(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// fakeTrend 用内存方向表复刻层级一致性语义。
type fakeTrend struct {
	mu       sync.Mutex
	current  map[string]trend.Direction // symbol|tf -> 方向
	counts   map[string]int             // symbol|tf -> 确认条数
	canAdd   bool
	confirms []trend.ConfirmArgs
}

func newFakeTrend() *fakeTrend {
	return &fakeTrend{
		current: make(map[string]trend.Direction),
		counts:  make(map[string]int),
	}
}

func (f *fakeTrend) set(symbol, tf string, d trend.Direction) {
	f.mu.Lock()
	f.current[symbol+"|"+tf] = d
	f.mu.Unlock()
}

func (f *fakeTrend) Confirm(_ context.Context, args trend.ConfirmArgs) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := args.Symbol + "|" + args.Timeframe
	f.current[key] = args.Direction
	f.counts[key]++
	f.confirms = append(f.confirms, args)
	return time.Now().Add(timeframe.TTL(args.Timeframe)), nil
}

func (f *fakeTrend) GetCurrent(_ context.Context, symbol, tf string) (trend.Direction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.current[symbol+"|"+tf]; ok {
		return d, nil
	}
	return trend.Neutral, nil
}

func (f *fakeTrend) AgreeAll(ctx context.Context, symbol string, tfs []string) (trend.Direction, error) {
	first := trend.Neutral
	for i, tf := range tfs {
		d, _ := f.GetCurrent(ctx, symbol, tf)
		if d == trend.Neutral {
			return trend.Neutral, nil
		}
		if i == 0 {
			first = d
		} else if d != first {
			return trend.Neutral, nil
		}
	}
	return first, nil
}

func (f *fakeTrend) AgreeAllWithHierarchy(ctx context.Context, symbol string, tfs []string) (trend.Direction, error) {
	if len(tfs) == 0 {
		return trend.Neutral, nil
	}
	sorted := timeframe.SortByPriority(tfs)
	main, _ := f.GetCurrent(ctx, symbol, sorted[0])
	if main == trend.Neutral {
		return trend.Neutral, nil
	}
	for _, tf := range sorted[1:] {
		d, _ := f.GetCurrent(ctx, symbol, tf)
		if d != trend.Neutral && d != main {
			return trend.Neutral, nil
		}
	}
	return main, nil
}

func (f *fakeTrend) CanAddPosition(context.Context, string, []string, trend.Direction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canAdd, nil
}

func (f *fakeTrend) ConfirmationCount(_ context.Context, symbol, tf string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[symbol+"|"+tf], nil
}

func (f *fakeTrend) ShouldClosePosition(ctx context.Context, symbol string, tfs []string, current trend.Direction) (bool, error) {
	d, _ := f.GetCurrent(ctx, symbol, timeframe.Main(tfs))
	return d != trend.Neutral && d != current, nil
}

// ---- 组装 ----

type testBot struct {
	bot      *Bot
	gateway  *fakeGateway
	notifier *fakeNotifier
	trend    *fakeTrend
}

func newTestBot(t *testing.T, cfg config.BotConfig) *testBot {
	t.Helper()
	db, err := database.NewStore(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if cfg.Name == "" {
		cfg.Name = "test-bot"
	}
	cfg.Enabled = true
	if cfg.BaseUsd == 0 && cfg.Strategy != "domination" {
		cfg.BaseUsd = 200
	}
	if cfg.AddFraction == 0 {
		cfg.AddFraction = 0.5
	}
	if cfg.MaxFills == 0 {
		cfg.MaxFills = 4
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 10
	}
	if len(cfg.TimeframeTrend) == 0 {
		cfg.TimeframeTrend = []string{"1h", "1m"}
	}

	gw := &fakeGateway{denied: make(map[string]bool)}
	nt := &fakeNotifier{}
	tr := newFakeTrend()
	b := &Bot{
		Cfg:       cfg,
		Exchange:  gw,
		Notifier:  nt,
		Trend:     tr,
		Positions: positions.NewStore(db),
		Volume:    volume.NewCache(),
	}
	strategy, err := buildStrategy(b)
	if err != nil {
		t.Fatalf("构建策略失败: %v", err)
	}
	b.strategy = strategy
	return &testBot{bot: b, gateway: gw, notifier: nt, trend: tr}
}

func (tb *testBot) findOpen(t *testing.T, symbol string) (database.PositionRecord, bool) {
	t.Helper()
	pos, ok, err := tb.bot.Positions.FindOpen(context.Background(), tb.bot.Cfg.Name, symbol)
	if err != nil {
		t.Fatalf("FindOpen 失败: %v", err)
	}
	return pos, ok
}

func mkAlert(typ AlertType, symbol, price, tf string) Alert {
	a := Alert{Type: typ, Family: familyIndex[typ], Symbol: symbol, Timeframe: tf}
	if price != "" {
		a.Price = decimal.RequireFromString(price)
	}
	return a
}
