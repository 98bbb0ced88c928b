package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"smartvol/internal/pkg/symbols"
	"smartvol/internal/pkg/timeframe"
)

// AlertType 告警分类后的封闭类型集。
type AlertType string

const (
	// smartvol 家族
	AlertOpen            AlertType = "open"
	AlertAdd             AlertType = "add"
	AlertClose           AlertType = "close"
	AlertBigClose        AlertType = "big-close"
	AlertBigAdd          AlertType = "big-add"
	AlertSmartVolumeOpen AlertType = "smart-volume-open"
	AlertBullishVolume   AlertType = "bullish-volume"
	AlertVolumeUp        AlertType = "volume-up"
	AlertFixedShortSync  AlertType = "fixed-short-sync"
	AlertLiveShortSync   AlertType = "live-short-sync"

	// trend-pivot 家族
	AlertTrendLong        AlertType = "trend-long"
	AlertTrendShort       AlertType = "trend-short"
	AlertPivotLong        AlertType = "pivot-long"
	AlertPivotShort       AlertType = "pivot-short"
	AlertStrongPivotLong  AlertType = "strong-pivot-long"
	AlertStrongPivotShort AlertType = "strong-pivot-short"

	// domination 家族
	AlertBuyerDomination    AlertType = "buyer-domination"
	AlertSellerDomination   AlertType = "seller-domination"
	AlertBuyerContinuation  AlertType = "buyer-continuation"
	AlertSellerContinuation AlertType = "seller-continuation"

	// three-alerts 家族（K 线形态三联）
	AlertBullRelsi       AlertType = "bull-relsi"
	AlertBearRelsi       AlertType = "bear-relsi"
	AlertBullMarubozu    AlertType = "bull-marubozu"
	AlertBearMarubozu    AlertType = "bear-marubozu"
	AlertBullPogloshenie AlertType = "bull-pogloshenie"
	AlertBearPogloshenie AlertType = "bear-pogloshenie"
)

// Family 决定路由扇出策略。
type Family string

const (
	FamilySmartVol    Family = "smartvol"
	FamilyTrendPivot  Family = "trend-pivot"
	FamilyDomination  Family = "domination"
	FamilyThreeAlerts Family = "three-alerts"
)

// alertName（webhook 原文）→ 类型映射。未知名称一律拒绝。
var alertNameIndex = map[string]AlertType{
	"SmartOpen":       AlertOpen,
	"SmartVolAdd":     AlertAdd,
	"SmartClose":      AlertClose,
	"SmartBigClose":   AlertBigClose,
	"SmartBigAdd":     AlertBigAdd,
	"SmartVolumeOpen": AlertSmartVolumeOpen,
	"BullishVolume":   AlertBullishVolume,
	"VolumeUp":        AlertVolumeUp,

	"FixedShortSynchronization": AlertFixedShortSync,
	"LiveShortSynchronization":  AlertLiveShortSync,

	"SSL Cross Alert Long":   AlertTrendLong,
	"SSL Cross Alert Short":  AlertTrendShort,
	"Buy Continuation":       AlertPivotLong,
	"Sell Continuation":      AlertPivotShort,
	"Strong Long Entry":      AlertStrongPivotLong,
	"Strong Short Entry":     AlertStrongPivotShort,

	"BuyerDomination":    AlertBuyerDomination,
	"SellerDomination":   AlertSellerDomination,
	"BuyerContinuation":  AlertBuyerContinuation,
	"SellerContinuation": AlertSellerContinuation,

	"BullRelsi":       AlertBullRelsi,
	"BearRelsi":       AlertBearRelsi,
	"BullMarubozu":    AlertBullMarubozu,
	"BearMarubozu":    AlertBearMarubozu,
	"BullPogloshenie": AlertBullPogloshenie,
	"BearPogloshenie": AlertBearPogloshenie,
}

var familyIndex = map[AlertType]Family{
	AlertOpen:            FamilySmartVol,
	AlertAdd:             FamilySmartVol,
	AlertClose:           FamilySmartVol,
	AlertBigClose:        FamilySmartVol,
	AlertBigAdd:          FamilySmartVol,
	AlertSmartVolumeOpen: FamilySmartVol,
	AlertBullishVolume:   FamilySmartVol,
	AlertVolumeUp:        FamilySmartVol,
	AlertFixedShortSync:  FamilySmartVol,
	AlertLiveShortSync:   FamilySmartVol,

	AlertTrendLong:        FamilyTrendPivot,
	AlertTrendShort:       FamilyTrendPivot,
	AlertPivotLong:        FamilyTrendPivot,
	AlertPivotShort:       FamilyTrendPivot,
	AlertStrongPivotLong:  FamilyTrendPivot,
	AlertStrongPivotShort: FamilyTrendPivot,

	AlertBuyerDomination:    FamilyDomination,
	AlertSellerDomination:   FamilyDomination,
	AlertBuyerContinuation:  FamilyDomination,
	AlertSellerContinuation: FamilyDomination,

	AlertBullRelsi:       FamilyThreeAlerts,
	AlertBearRelsi:       FamilyThreeAlerts,
	AlertBullMarubozu:    FamilyThreeAlerts,
	AlertBearMarubozu:    FamilyThreeAlerts,
	AlertBullPogloshenie: FamilyThreeAlerts,
	AlertBearPogloshenie: FamilyThreeAlerts,
}

// Alert 归一化后的告警。
type Alert struct {
	Type      AlertType
	Family    Family
	Name      string
	Symbol    string
	Price     decimal.Decimal
	Volume    float64
	Timeframe string
	Raw       map[string]any
}

// ParseAlert 把 webhook 原始 payload 归一化成类型化告警，
// 缺字段/未知 alertName 直接报错（到不了任何策略）。
func ParseAlert(payload map[string]any) (Alert, error) {
	name := stringField(payload, "alertName")
	if name == "" {
		return Alert{}, fmt.Errorf("缺少 alertName")
	}
	typ, ok := alertNameIndex[name]
	if !ok {
		return Alert{}, fmt.Errorf("未知 alertName: %q", name)
	}
	a := Alert{
		Type:      typ,
		Family:    familyIndex[typ],
		Name:      name,
		Symbol:    symbols.Normalize(stringField(payload, "symbol")),
		Timeframe: strings.TrimSpace(stringField(payload, "timeframe")),
		Raw:       payload,
	}
	if a.Symbol == "" {
		return Alert{}, fmt.Errorf("告警 %q 缺少 symbol", name)
	}
	if typ == AlertVolumeUp {
		vol, ok := floatField(payload, "volume")
		if !ok {
			return Alert{}, fmt.Errorf("VolumeUp 缺少 volume")
		}
		if a.Timeframe == "" || !timeframe.Valid(a.Timeframe) {
			return Alert{}, fmt.Errorf("VolumeUp 缺少有效 timeframe: %q", a.Timeframe)
		}
		a.Volume = vol
		return a, nil
	}
	price, err := priceField(payload)
	if err != nil {
		return Alert{}, fmt.Errorf("告警 %q: %w", name, err)
	}
	a.Price = price
	return a, nil
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	default:
		return 0, false
	}
}

// priceField 允许 string 或 number 两种形式。
func priceField(payload map[string]any) (decimal.Decimal, error) {
	switch v := payload["price"].(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("price 非法: %q", v)
		}
		if d.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("price 必须大于 0")
		}
		return d, nil
	case float64:
		if v <= 0 {
			return decimal.Zero, fmt.Errorf("price 必须大于 0")
		}
		return decimal.NewFromFloat(v), nil
	case nil:
		return decimal.Zero, fmt.Errorf("缺少 price")
	default:
		return decimal.Zero, fmt.Errorf("price 类型非法")
	}
}
