package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"smartvol/internal/logger"
	"smartvol/internal/pkg/symbols"
)

const priceCacheTTL = 5 * time.Second

// PriceProvider 基于币安合约行情的最新价来源。
// 只用公共行情接口，不需要 API key。
type PriceProvider struct {
	client *futures.Client

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

func NewPriceProvider() *PriceProvider {
	return &PriceProvider{
		client: futures.NewClient("", ""),
		cache:  make(map[string]cachedPrice),
	}
}

// LastPrice 查询某合约最新成交价，带 5s 缓存抑制同符号并发请求。
func (p *PriceProvider) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = symbols.Normalize(symbol)
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("符号为空")
	}

	p.mu.Lock()
	if c, ok := p.cache[symbol]; ok && time.Since(c.fetchedAt) < priceCacheTTL {
		p.mu.Unlock()
		return c.price, nil
	}
	p.mu.Unlock()

	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询币安最新价失败 %s: %w", symbol, err)
	}
	for _, row := range prices {
		if !strings.EqualFold(row.Symbol, symbol) {
			continue
		}
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("解析价格失败 %s=%q: %w", symbol, row.Price, err)
		}
		p.mu.Lock()
		p.cache[symbol] = cachedPrice{price: price, fetchedAt: time.Now()}
		p.mu.Unlock()
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("币安未返回 %s 的价格", symbol)
}

// FundingRate 最新资金费率（报告展示用，失败返回 0 不中断）。
func (p *PriceProvider) FundingRate(ctx context.Context, symbol string) float64 {
	symbol = symbols.Normalize(symbol)
	rows, err := p.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil || len(rows) == 0 {
		logger.Debugf("资金费率查询失败 %s: %v", symbol, err)
		return 0
	}
	v, err := decimal.NewFromString(rows[0].LastFundingRate)
	if err != nil {
		return 0
	}
	f, _ := v.Float64()
	return f
}
