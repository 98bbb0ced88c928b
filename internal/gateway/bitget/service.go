package bitget

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smartvol/internal/config"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/symbols"
)

const contractCacheTTL = 10 * time.Minute

// contractInfo 合约精度/步长元数据（/market/contracts）。
type contractInfo struct {
	Symbol            string
	VolumePlace       int32
	PricePlace        int32
	SizeMultiplier    decimal.Decimal
	MinTradeNum       decimal.Decimal
	MaxMarketOrderQty decimal.Decimal
	FetchedAt         time.Time
}

// Service 封装下单所需的 Bitget 操作：杠杆、精度换算、市价单、闪电平仓。
type Service struct {
	client      *Client
	productType string
	marginCoin  string

	mu            sync.Mutex
	contracts     map[string]contractInfo
	leverageCache map[string]bool
	allowed       map[string]bool
}

// NewService 按档案构建服务；allowed 为允许交易的基础符号列表（XXXUSDT）。
func NewService(profile config.BitgetProfile, allowed []string) (*Service, error) {
	client, err := NewClient(profile.BaseURL, profile.Key, profile.Secret, profile.Passphrase)
	if err != nil {
		return nil, err
	}
	s := &Service{
		client:        client,
		productType:   strings.ToLower(profile.ProductType),
		marginCoin:    strings.ToUpper(profile.MarginCoin),
		contracts:     make(map[string]contractInfo),
		leverageCache: make(map[string]bool),
		allowed:       make(map[string]bool, len(allowed)),
	}
	for _, sym := range allowed {
		if id := symbols.BitgetSymbolID(sym); id != "" {
			s.allowed[id] = true
		}
	}
	return s, nil
}

// IsAllowed 判断 v1 合约符号是否在白名单内；空白名单放行所有。
func (s *Service) IsAllowed(symbolID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[strings.ToUpper(strings.TrimSpace(symbolID))]
}

func (s *Service) loadContract(ctx context.Context, symbolID string) (contractInfo, error) {
	now := time.Now()
	s.mu.Lock()
	if info, ok := s.contracts[symbolID]; ok && now.Sub(info.FetchedAt) < contractCacheTTL {
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	var rows []struct {
		Symbol            string `json:"symbol"`
		VolumePlace       string `json:"volumePlace"`
		PricePlace        string `json:"pricePlace"`
		SizeMultiplier    string `json:"sizeMultiplier"`
		MinTradeNum       string `json:"minTradeNum"`
		MaxMarketOrderQty string `json:"maxMarketOrderQty"`
	}
	err := s.client.Call(ctx, http.MethodGet, "/api/mix/v1/market/contracts",
		map[string]string{"productType": s.productType}, nil, &rows)
	if err != nil {
		return contractInfo{}, err
	}
	for _, row := range rows {
		if row.Symbol != symbolID {
			continue
		}
		info := contractInfo{Symbol: row.Symbol, FetchedAt: now}
		if v, err := strconv.ParseInt(row.VolumePlace, 10, 32); err == nil {
			info.VolumePlace = int32(v)
		}
		if v, err := strconv.ParseInt(row.PricePlace, 10, 32); err == nil {
			info.PricePlace = int32(v)
		}
		info.SizeMultiplier, _ = decimal.NewFromString(row.SizeMultiplier)
		info.MinTradeNum, _ = decimal.NewFromString(row.MinTradeNum)
		if row.MaxMarketOrderQty != "" {
			info.MaxMarketOrderQty, _ = decimal.NewFromString(row.MaxMarketOrderQty)
		}
		s.mu.Lock()
		s.contracts[symbolID] = info
		s.mu.Unlock()
		return info, nil
	}
	return contractInfo{}, fmt.Errorf("未找到合约配置: %s", symbolID)
}

// CalcSizeFromUsd 名义金额换算成合约张数字符串：
// 按步长向下取整，夹在 [minTradeNum, maxMarketOrderQty] 内。
func (s *Service) CalcSizeFromUsd(ctx context.Context, symbolID string, lastPrice, usdAmount decimal.Decimal) (string, error) {
	if usdAmount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("usdAmount 必须大于 0")
	}
	if lastPrice.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("lastPrice 必须大于 0")
	}
	cfg, err := s.loadContract(ctx, symbolID)
	if err != nil {
		return "", err
	}
	raw := usdAmount.Div(lastPrice)
	step := cfg.SizeMultiplier
	if step.LessThanOrEqual(decimal.Zero) {
		step = decimal.New(1, -cfg.VolumePlace)
	}
	floored := raw.Div(step).Floor().Mul(step)
	size := decimal.Max(floored, cfg.MinTradeNum)
	if cfg.MaxMarketOrderQty.GreaterThan(decimal.Zero) {
		size = decimal.Min(size, cfg.MaxMarketOrderQty)
	}
	size = size.Round(cfg.VolumePlace)
	if size.LessThan(cfg.MinTradeNum) {
		return "", fmt.Errorf("换算后张数 %s 小于最小下单量 %s", size, cfg.MinTradeNum)
	}
	return size.StringFixed(cfg.VolumePlace), nil
}

// EnsureLeverage 设置杠杆，同参数只下发一次。
func (s *Service) EnsureLeverage(ctx context.Context, symbolID, leverage string) error {
	key := symbolID + ":" + leverage
	s.mu.Lock()
	if s.leverageCache[key] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	body := map[string]string{
		"symbol":     symbolID,
		"marginCoin": s.marginCoin,
		"leverage":   leverage,
	}
	if err := s.client.Call(ctx, http.MethodPost, "/api/mix/v1/account/setLeverage", nil, body, nil); err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}
	s.mu.Lock()
	s.leverageCache[key] = true
	s.mu.Unlock()
	return nil
}

func isSideMismatch(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "400172" || strings.Contains(strings.ToLower(apiErr.Message), "side mismatch")
}

// IsNoPositionErr 识别“交易所侧已无仓位”类错误（22002 等），
// 调用方应把它当作幂等平仓成功。
func IsNoPositionErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "22002" {
			return true
		}
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "no position to close") || strings.Contains(msg, "position not found")
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no position to close") || strings.Contains(msg, "position not found")
}

// PlaceMarket 市价单；单向持仓模式报 side mismatch 时自动改双向 side 重试。
func (s *Service) PlaceMarket(ctx context.Context, symbolID, side, size, clientOid string) error {
	body := map[string]string{
		"symbol":     symbolID,
		"marginCoin": s.marginCoin,
		"size":       size,
		"side":       side,
		"orderType":  "market",
	}
	if clientOid != "" {
		body["clientOid"] = clientOid
	}
	err := s.client.Call(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", nil, body, nil)
	if err == nil {
		return nil
	}
	if !isSideMismatch(err) {
		return err
	}
	logger.Warnf("单向持仓下单 side mismatch，改双向重试: %s %s", symbolID, side)
	hedgeSide := "open_long"
	if side == "sell" {
		hedgeSide = "open_short"
	}
	body["side"] = hedgeSide
	return s.client.Call(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", nil, body, nil)
}

// ReduceMarket 市价减仓（close_long）。
func (s *Service) ReduceMarket(ctx context.Context, symbolID, size, clientOid string) error {
	body := map[string]string{
		"symbol":     symbolID,
		"marginCoin": s.marginCoin,
		"size":       size,
		"side":       "close_long",
		"orderType":  "market",
	}
	if clientOid != "" {
		body["clientOid"] = clientOid
	}
	return s.client.Call(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", nil, body, nil)
}

func (s *Service) v2ProductType() string {
	switch s.productType {
	case "dmcbl", "coin":
		return "COIN-FUTURES"
	case "cmcbl", "usdc":
		return "USDC-FUTURES"
	default:
		return "USDT-FUTURES"
	}
}

// FlashClose 一键全平（v2 close-positions）。
// 交易所侧无仓位返回 noop=true 且 err=nil（幂等成功）。
func (s *Service) FlashClose(ctx context.Context, symbol, holdSide string) (bool, error) {
	symbolID := symbols.BitgetSymbolID(symbol)
	if !s.IsAllowed(symbolID) {
		logger.Warnf("flashClose 跳过：符号不在白名单 %s", symbolID)
		return true, nil
	}
	body := map[string]string{
		"symbol":      symbols.BitgetV2Symbol(symbol),
		"productType": s.v2ProductType(),
	}
	if holdSide != "" {
		body["holdSide"] = holdSide
	}
	err := s.client.Call(ctx, http.MethodPost, "/api/v2/mix/order/close-positions", nil, body, nil)
	if err == nil {
		return false, nil
	}
	if IsNoPositionErr(err) {
		logger.Infof("flashClose: %s 交易所侧无仓位，按成功处理", symbol)
		return true, nil
	}
	return false, fmt.Errorf("flashClose 失败: %w", err)
}

// Candle 一根 K 线（报告用）。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Candles 拉取最近 limit 根 K 线（公共接口，granularity 秒）。
func (s *Service) Candles(ctx context.Context, symbol string, granularitySec, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 60
	}
	end := time.Now()
	start := end.Add(-time.Duration(granularitySec*limit) * time.Second)
	var rows [][]string
	err := s.client.Call(ctx, http.MethodGet, "/api/mix/v1/market/candles", map[string]string{
		"symbol":      symbols.BitgetSymbolID(symbol),
		"granularity": strconv.Itoa(granularitySec),
		"startTime":   strconv.FormatInt(start.UnixMilli(), 10),
		"endTime":     strconv.FormatInt(end.UnixMilli(), 10),
	}, nil, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		o, _ := strconv.ParseFloat(row[1], 64)
		h, _ := strconv.ParseFloat(row[2], 64)
		l, _ := strconv.ParseFloat(row[3], 64)
		cl, _ := strconv.ParseFloat(row[4], 64)
		v, _ := strconv.ParseFloat(row[5], 64)
		out = append(out, Candle{Timestamp: time.UnixMilli(ts), Open: o, High: h, Low: l, Close: cl, Volume: v})
	}
	return out, nil
}
