package volume

import (
	"testing"
	"time"
)

// 可控时钟：测试里手动拨动 now。
func newTestCache(start time.Time) (*Cache, *time.Time) {
	c := NewCache()
	now := start
	c.now = func() time.Time { return now }
	return c, &now
}

func TestReadingTTL(t *testing.T) {
	c, now := newTestCache(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	c.Save("btc_usdt", "30m", 12.5)
	r, ok := c.Get("BTCUSDT", "30m")
	if !ok || r.Volume != 12.5 {
		t.Fatalf("Get = %+v ok=%v", r, ok)
	}

	*now = now.Add(119 * time.Second)
	if _, ok := c.Get("BTCUSDT", "30m"); !ok {
		t.Fatal("119 秒后读数不应过期")
	}

	*now = now.Add(2 * time.Second)
	if _, ok := c.Get("BTCUSDT", "30m"); ok {
		t.Fatal("超过 2 分钟的读数应视为不存在")
	}
	// 过期条目读路径顺手清除
	readings, _ := c.Stats()
	if readings != 0 {
		t.Errorf("过期读数未被清除: %d", readings)
	}
}

func TestSaveRefreshesWaitingCloseStates(t *testing.T) {
	c, now := newTestCache(time.Now())

	c.InitCloseState("ETHUSDT", "bot-a", 10)
	if c.CanClose("ETHUSDT", "bot-a") {
		t.Fatal("初始量能 10 未达阈值，不应放行")
	}

	*now = now.Add(30 * time.Second)
	c.Save("ETHUSDT", "30m", 25)
	st, ok := c.GetCloseState("ETHUSDT", "bot-a")
	if !ok || st.CurrentVolume != 25 {
		t.Fatalf("Save 未刷新等待状态: %+v ok=%v", st, ok)
	}
	if !c.CanClose("ETHUSDT", "bot-a") {
		t.Fatal("当前量能 25 ≥ 19，应放行平仓")
	}
	// 其它符号不受影响
	c.InitCloseState("SOLUSDT", "bot-a", 5)
	c.Save("ETHUSDT", "30m", 30)
	if st, _ := c.GetCloseState("SOLUSDT", "bot-a"); st.CurrentVolume != 5 {
		t.Errorf("无关符号的等待状态被刷新: %+v", st)
	}
}

func TestCloseStateTTL(t *testing.T) {
	c, now := newTestCache(time.Now())
	c.InitCloseState("BTCUSDT", "bot-a", 20)
	if !c.CanClose("BTCUSDT", "bot-a") {
		t.Fatal("初始量能 20 ≥ 19，应放行")
	}
	*now = now.Add(3 * time.Minute)
	if c.CanClose("BTCUSDT", "bot-a") {
		t.Fatal("等待状态过期后不应放行")
	}
	if _, ok := c.GetCloseState("BTCUSDT", "bot-a"); ok {
		t.Fatal("过期等待状态应被清除")
	}
}

func TestClearCloseState(t *testing.T) {
	c, _ := newTestCache(time.Now())
	c.InitCloseState("BTCUSDT", "bot-a", 19)
	c.ClearCloseState("BTCUSDT", "bot-a")
	if _, ok := c.GetCloseState("BTCUSDT", "bot-a"); ok {
		t.Fatal("ClearCloseState 后仍可读到状态")
	}
}

func TestFilters(t *testing.T) {
	c, _ := newTestCache(time.Now())
	c.Save("BTCUSDT", "30m", 1)
	c.Save("BTCUSDT", "1h", 2)
	c.Save("ETHUSDT", "30m", 3)

	if got := len(c.BySymbol("BTCUSDT")); got != 2 {
		t.Errorf("BySymbol(BTCUSDT) = %d 条, want 2", got)
	}
	if got := len(c.ByTimeframe("30m")); got != 2 {
		t.Errorf("ByTimeframe(30m) = %d 条, want 2", got)
	}
	if got := len(c.AllActive()); got != 3 {
		t.Errorf("AllActive = %d 条, want 3", got)
	}
}

func TestSweepAndClearAll(t *testing.T) {
	c, now := newTestCache(time.Now())
	c.Save("BTCUSDT", "30m", 1)
	c.InitCloseState("BTCUSDT", "bot-a", 1)

	*now = now.Add(5 * time.Minute)
	if removed := c.sweep(); removed != 2 {
		t.Errorf("sweep 移除 %d 条, want 2", removed)
	}

	c.Save("ETHUSDT", "1h", 9)
	c.ClearAll()
	readings, closes := c.Stats()
	if readings != 0 || closes != 0 {
		t.Errorf("ClearAll 后仍有残留: readings=%d closes=%d", readings, closes)
	}
}
