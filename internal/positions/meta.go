package positions

import (
	"time"

	"smartvol/internal/gateway/database"
)

// meta 袋的类型化读写。物理上仍是一张 positions 表 + JSON meta，
// 以 type 字段区分策略专属数据。

const (
	metaTypeKey        = "type"
	MetaTypeDomination = "domination"
	MetaTypeTrendPivot = "trend-pivot"
)

// DominationMeta 统治策略的仓位元数据。
type DominationMeta struct {
	Side             string // buyer | seller
	LastContinuation time.Time
}

func (m DominationMeta) ToMap() map[string]any {
	out := map[string]any{
		metaTypeKey: MetaTypeDomination,
		"side":      m.Side,
	}
	if !m.LastContinuation.IsZero() {
		out["lastContinuation"] = m.LastContinuation.UnixMilli()
	}
	return out
}

// ParseDominationMeta 从仓位行解出统治元数据；类型不匹配时返回 false。
func ParseDominationMeta(rec database.PositionRecord) (DominationMeta, bool) {
	if rec.Meta == nil || rec.Meta[metaTypeKey] != MetaTypeDomination {
		return DominationMeta{}, false
	}
	m := DominationMeta{}
	if v, ok := rec.Meta["side"].(string); ok {
		m.Side = v
	}
	if ts, ok := asMillis(rec.Meta["lastContinuation"]); ok {
		m.LastContinuation = time.UnixMilli(ts)
	}
	return m, true
}

// TrendPivotMeta 趋势拐点策略的仓位元数据。
// OriginalDirection 记录入场时的方向，后续反转判断都以它为基准。
type TrendPivotMeta struct {
	OriginalDirection   string
	ClosedConfirmations int
}

func (m TrendPivotMeta) ToMap() map[string]any {
	return map[string]any{
		metaTypeKey:           MetaTypeTrendPivot,
		"originalDirection":   m.OriginalDirection,
		"closedConfirmations": m.ClosedConfirmations,
	}
}

// ParseTrendPivotMeta 从仓位行解出趋势拐点元数据。
func ParseTrendPivotMeta(rec database.PositionRecord) (TrendPivotMeta, bool) {
	if rec.Meta == nil || rec.Meta[metaTypeKey] != MetaTypeTrendPivot {
		return TrendPivotMeta{}, false
	}
	m := TrendPivotMeta{}
	if v, ok := rec.Meta["originalDirection"].(string); ok {
		m.OriginalDirection = v
	}
	switch v := rec.Meta["closedConfirmations"].(type) {
	case float64: // JSON round-trip
		m.ClosedConfirmations = int(v)
	case int:
		m.ClosedConfirmations = v
	}
	return m, true
}

func asMillis(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}
