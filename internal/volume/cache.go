package volume

import (
	"context"
	"strings"
	"sync"
	"time"

	"smartvol/internal/logger"
)

// 中文说明：
// VolumeUp 内存缓存：最近一次量能读数（symbol+timeframe）与
// “等待平仓”状态（symbol+bot）。两类数据都有 2 分钟 TTL，
// 读路径把过期条目视为不存在并顺手清除；进程重启即丢失（可接受）。

const (
	readingTTL    = 2 * time.Minute
	closeStateTTL = 2 * time.Minute
	// 平仓闸门：等待状态下的当前量能达到该值才允许平仓
	CloseGateThreshold = 19.0
	cleanupInterval    = time.Minute
)

type readingKey struct {
	Symbol    string
	Timeframe string
}

type closeKey struct {
	Symbol string
	Bot    string
}

// Reading 一次量能读数。
type Reading struct {
	Symbol    string
	Timeframe string
	Volume    float64
	Timestamp time.Time
}

// CloseState 等待平仓状态。
type CloseState struct {
	Symbol          string
	Bot             string
	InitialVolume   float64
	CurrentVolume   float64
	Timestamp       time.Time
	WaitingForClose bool
}

// Cache VolumeUp 服务本体。
type Cache struct {
	mu       sync.RWMutex
	readings map[readingKey]Reading
	closes   map[closeKey]CloseState
	now      func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		readings: make(map[readingKey]Reading),
		closes:   make(map[closeKey]CloseState),
		now:      time.Now,
	}
}

func normSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Save 记录一次量能读数，并刷新该符号所有等待平仓状态的当前量能。
func (c *Cache) Save(symbol, tf string, vol float64) {
	symbol = normSymbol(symbol)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings[readingKey{symbol, tf}] = Reading{Symbol: symbol, Timeframe: tf, Volume: vol, Timestamp: now}
	for k, st := range c.closes {
		if k.Symbol != symbol || !st.WaitingForClose {
			continue
		}
		st.CurrentVolume = vol
		st.Timestamp = now
		c.closes[k] = st
	}
}

// Get 取某 (symbol, timeframe) 的读数；过期视为不存在并清除。
func (c *Cache) Get(symbol, tf string) (Reading, bool) {
	symbol = normSymbol(symbol)
	key := readingKey{symbol, tf}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.readings[key]
	if !ok {
		return Reading{}, false
	}
	if now.Sub(r.Timestamp) > readingTTL {
		delete(c.readings, key)
		return Reading{}, false
	}
	return r, true
}

// BySymbol 某符号所有未过期读数。
func (c *Cache) BySymbol(symbol string) []Reading {
	symbol = normSymbol(symbol)
	return c.filterReadings(func(r Reading) bool { return r.Symbol == symbol })
}

// ByTimeframe 某周期所有未过期读数。
func (c *Cache) ByTimeframe(tf string) []Reading {
	return c.filterReadings(func(r Reading) bool { return r.Timeframe == tf })
}

// AllActive 全部未过期读数。
func (c *Cache) AllActive() []Reading {
	return c.filterReadings(func(Reading) bool { return true })
}

func (c *Cache) filterReadings(keep func(Reading) bool) []Reading {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Reading
	for k, r := range c.readings {
		if now.Sub(r.Timestamp) > readingTTL {
			delete(c.readings, k)
			continue
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// InitCloseState 进入等待平仓状态（记录初始量能）。
func (c *Cache) InitCloseState(symbol, bot string, initialVolume float64) {
	symbol = normSymbol(symbol)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes[closeKey{symbol, bot}] = CloseState{
		Symbol:          symbol,
		Bot:             bot,
		InitialVolume:   initialVolume,
		CurrentVolume:   initialVolume,
		Timestamp:       now,
		WaitingForClose: true,
	}
}

// GetCloseState 取等待平仓状态；过期清除并返回 false。
func (c *Cache) GetCloseState(symbol, bot string) (CloseState, bool) {
	symbol = normSymbol(symbol)
	key := closeKey{symbol, bot}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.closes[key]
	if !ok {
		return CloseState{}, false
	}
	if now.Sub(st.Timestamp) > closeStateTTL {
		delete(c.closes, key)
		return CloseState{}, false
	}
	return st, true
}

// CanClose 等待状态存在、未过期且当前量能达到闸门（≥19）时为真。
func (c *Cache) CanClose(symbol, bot string) bool {
	st, ok := c.GetCloseState(symbol, bot)
	if !ok || !st.WaitingForClose {
		return false
	}
	return st.CurrentVolume >= CloseGateThreshold
}

// ClearCloseState 移除等待平仓状态。
func (c *Cache) ClearCloseState(symbol, bot string) {
	symbol = normSymbol(symbol)
	c.mu.Lock()
	delete(c.closes, closeKey{symbol, bot})
	c.mu.Unlock()
}

// AllCloseStates 全部未过期的等待平仓状态。
func (c *Cache) AllCloseStates() []CloseState {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CloseState
	for k, st := range c.closes {
		if now.Sub(st.Timestamp) > closeStateTTL {
			delete(c.closes, k)
			continue
		}
		out = append(out, st)
	}
	return out
}

// Stats 缓存规模（用于查询接口）。
func (c *Cache) Stats() (readings int, closeStates int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.readings), len(c.closes)
}

// ClearAll 清空全部读数与等待状态。
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.readings = make(map[readingKey]Reading)
	c.closes = make(map[closeKey]CloseState)
	c.mu.Unlock()
}

// RunCleanup 每分钟清理一次过期条目，直到 ctx 取消。
func (c *Cache) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.sweep()
			if removed > 0 {
				logger.Debugf("量能缓存清理: 移除 %d 条过期数据", removed)
			}
		}
	}
}

func (c *Cache) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, r := range c.readings {
		if now.Sub(r.Timestamp) > readingTTL {
			delete(c.readings, k)
			removed++
		}
	}
	for k, st := range c.closes {
		if now.Sub(st.Timestamp) > closeStateTTL {
			delete(c.closes, k)
			removed++
		}
	}
	return removed
}
