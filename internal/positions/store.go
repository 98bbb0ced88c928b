package positions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
)

// Store 仓位领域层：在 sqlite 行之上做十进制金额运算。
// 不变量：每个 (bot, symbol) 至多一行 open 仓位。
type Store struct {
	db *database.Store
}

func NewStore(db *database.Store) *Store {
	return &Store{db: db}
}

// FindOpen 查询当前 open 仓位。
func (s *Store) FindOpen(ctx context.Context, bot, symbol string) (database.PositionRecord, bool, error) {
	return s.db.FindOpenPosition(ctx, bot, symbol)
}

// Open 新建仓位（fills_count=1）。调用前应确认无 open 行。
func (s *Store) Open(ctx context.Context, bot, symbol string, price, amountUsd decimal.Decimal, meta map[string]any) (database.PositionRecord, error) {
	if price.LessThanOrEqual(decimal.Zero) || amountUsd.LessThanOrEqual(decimal.Zero) {
		return database.PositionRecord{}, fmt.Errorf("price/amountUsd 必须大于 0")
	}
	rec := database.PositionRecord{
		BotName:       bot,
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		Status:        database.PositionStatusOpen,
		AvgEntryPrice: price.String(),
		AmountUsd:     amountUsd.String(),
		FillsCount:    1,
		Meta:          meta,
	}
	id, err := s.db.InsertPosition(ctx, rec)
	if err != nil {
		return database.PositionRecord{}, err
	}
	out, ok, err := s.db.GetPosition(ctx, id)
	if err != nil {
		return database.PositionRecord{}, err
	}
	if !ok {
		return database.PositionRecord{}, fmt.Errorf("仓位写入后未找到 id=%d", id)
	}
	logger.Infof("✓ 开仓: bot=%s %s 均价=%s 名义=%s", bot, out.Symbol, out.AvgEntryPrice, out.AmountUsd)
	return out, nil
}

// Add 加仓：名义加权均价 (A1·P1 + A2·P2)/(A1+A2)，fills_count+1。
func (s *Store) Add(ctx context.Context, pos database.PositionRecord, addPrice, addUsd decimal.Decimal) (database.PositionRecord, error) {
	currAvg, err := decimal.NewFromString(pos.AvgEntryPrice)
	if err != nil {
		return database.PositionRecord{}, fmt.Errorf("解析均价失败: %w", err)
	}
	currAmt, err := decimal.NewFromString(pos.AmountUsd)
	if err != nil {
		return database.PositionRecord{}, fmt.Errorf("解析名义金额失败: %w", err)
	}
	if addPrice.LessThanOrEqual(decimal.Zero) || addUsd.LessThanOrEqual(decimal.Zero) {
		return database.PositionRecord{}, fmt.Errorf("addPrice/addUsd 必须大于 0")
	}
	total := currAmt.Add(addUsd)
	avg := currAmt.Mul(currAvg).Add(addUsd.Mul(addPrice)).Div(total).Round(12)
	fills := pos.FillsCount + 1
	if err := s.db.UpdatePositionFill(ctx, pos.ID, avg.String(), total.String(), fills); err != nil {
		return database.PositionRecord{}, err
	}
	pos.AvgEntryPrice = avg.String()
	pos.AmountUsd = total.String()
	pos.FillsCount = fills
	logger.Infof("✓ 加仓: bot=%s %s 新均价=%s 新名义=%s fills=%d", pos.BotName, pos.Symbol, pos.AvgEntryPrice, pos.AmountUsd, fills)
	return pos, nil
}

// Close 置为 closed（不要求交易所成交回执，交易所侧由调用方负责）。
func (s *Store) Close(ctx context.Context, pos database.PositionRecord) error {
	if err := s.db.ClosePosition(ctx, pos.ID, time.Now()); err != nil {
		return err
	}
	logger.Infof("✓ 平仓落库: bot=%s %s id=%d", pos.BotName, pos.Symbol, pos.ID)
	return nil
}

// ReduceAmount 部分平仓后回写剩余名义金额。
func (s *Store) ReduceAmount(ctx context.Context, pos database.PositionRecord, newAmount decimal.Decimal) error {
	if newAmount.LessThan(decimal.Zero) {
		newAmount = decimal.Zero
	}
	return s.db.UpdatePositionAmount(ctx, pos.ID, newAmount.String())
}

// SetMeta 覆盖仓位 meta 袋。
func (s *Store) SetMeta(ctx context.Context, pos database.PositionRecord, meta map[string]any) error {
	return s.db.UpdatePositionMeta(ctx, pos.ID, meta)
}

// ListOpen 某机器人的全部 open 仓位。
func (s *Store) ListOpen(ctx context.Context, bot string) ([]database.PositionRecord, error) {
	return s.db.ListOpenPositions(ctx, bot)
}

// CalculatePnL 以名义金额推导币量（amountUsd/avgEntry），
// pnl = 币量×现价 − 名义金额。返回 (pnl, 币量)。
func CalculatePnL(pos database.PositionRecord, currentPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	avg, err := decimal.NewFromString(pos.AvgEntryPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("解析均价失败: %w", err)
	}
	amt, err := decimal.NewFromString(pos.AmountUsd)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("解析名义金额失败: %w", err)
	}
	if avg.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("均价非法: %s", pos.AvgEntryPrice)
	}
	qty := amt.Div(avg).Round(12)
	pnl := qty.Mul(currentPrice).Sub(amt).Round(8)
	return pnl, qty, nil
}

// Summary 某机器人的持仓汇总。
type Summary struct {
	Bot      string
	Count    int
	TotalUsd decimal.Decimal
}

// BotSummary 统计机器人的 open 仓位数量与总名义金额。
func (s *Store) BotSummary(ctx context.Context, bot string) (Summary, error) {
	recs, err := s.db.ListOpenPositions(ctx, bot)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Bot: bot, Count: len(recs), TotalUsd: decimal.Zero}
	for _, r := range recs {
		amt, err := decimal.NewFromString(r.AmountUsd)
		if err != nil {
			continue
		}
		sum.TotalUsd = sum.TotalUsd.Add(amt)
	}
	return sum, nil
}

// Info 人读的仓位摘要，用于通知文本。
func Info(pos database.PositionRecord) string {
	opened := "-"
	if pos.OpenedAt != nil {
		opened = pos.OpenedAt.Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("bot=%s symbol=%s 均价=%s 名义=%s fills=%d 开仓时间=%s",
		pos.BotName, pos.Symbol, pos.AvgEntryPrice, pos.AmountUsd, pos.FillsCount, opened)
}
