package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 仓位状态
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// PositionRecord 对应 positions 表的一行。
// 金额字段以十进制字符串存储，精度换算在上层用 decimal 完成。
type PositionRecord struct {
	ID            int64
	BotName       string
	Symbol        string
	Status        string
	AvgEntryPrice string
	AmountUsd     string
	FillsCount    int
	OpenedAt      *time.Time
	ClosedAt      *time.Time
	Meta          map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InsertPosition 新建仓位行（status=open，fills_count 按记录值写入）。
func (s *Store) InsertPosition(ctx context.Context, rec PositionRecord) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	bot := strings.TrimSpace(rec.BotName)
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if bot == "" || symbol == "" {
		return 0, fmt.Errorf("bot_name/symbol 必填")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.OpenedAt == nil || rec.OpenedAt.IsZero() {
		tmp := now
		rec.OpenedAt = &tmp
	}
	status := rec.Status
	if status == "" {
		status = PositionStatusOpen
	}
	if rec.FillsCount <= 0 {
		rec.FillsCount = 1
	}
	meta, err := marshalMeta(rec.Meta)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO positions
			(bot_name, symbol, status, avg_entry_price, amount_usd, fills_count,
			 opened_at, closed_at, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bot, symbol, status, rec.AvgEntryPrice, rec.AmountUsd, rec.FillsCount,
		timeToMillisPtr(rec.OpenedAt), timeToMillisPtr(rec.ClosedAt), meta,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FindOpenPosition 查询 (bot, symbol) 当前的 open 仓位；不存在时返回 false。
func (s *Store) FindOpenPosition(ctx context.Context, bot, symbol string) (PositionRecord, bool, error) {
	db, err := s.handle()
	if err != nil {
		return PositionRecord{}, false, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	row := db.QueryRowContext(ctx, `
		SELECT id, bot_name, symbol, status, avg_entry_price, amount_usd, fills_count,
		       opened_at, closed_at, meta, created_at, updated_at
		FROM positions
		WHERE bot_name=? AND symbol=? AND status=?
		ORDER BY id DESC LIMIT 1`,
		strings.TrimSpace(bot), symbol, PositionStatusOpen)
	rec, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PositionRecord{}, false, nil
		}
		return PositionRecord{}, false, err
	}
	return rec, true, nil
}

// GetPosition 按 id 查询仓位；不存在返回 false。
func (s *Store) GetPosition(ctx context.Context, id int64) (PositionRecord, bool, error) {
	db, err := s.handle()
	if err != nil {
		return PositionRecord{}, false, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, bot_name, symbol, status, avg_entry_price, amount_usd, fills_count,
		       opened_at, closed_at, meta, created_at, updated_at
		FROM positions WHERE id=?`, id)
	rec, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PositionRecord{}, false, nil
		}
		return PositionRecord{}, false, err
	}
	return rec, true, nil
}

// UpdatePositionFill 加仓后回写均价/名义金额/次数。
func (s *Store) UpdatePositionFill(ctx context.Context, id int64, avgEntryPrice, amountUsd string, fillsCount int) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE positions SET avg_entry_price=?, amount_usd=?, fills_count=?, updated_at=?
		WHERE id=?`,
		avgEntryPrice, amountUsd, fillsCount, time.Now().UnixMilli(), id)
	return err
}

// UpdatePositionMeta 覆盖仓位的 meta 袋。
func (s *Store) UpdatePositionMeta(ctx context.Context, id int64, metaBag map[string]any) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	meta, err := marshalMeta(metaBag)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE positions SET meta=?, updated_at=? WHERE id=?`,
		meta, time.Now().UnixMilli(), id)
	return err
}

// UpdatePositionAmount 部分平仓后回写剩余名义金额。
func (s *Store) UpdatePositionAmount(ctx context.Context, id int64, amountUsd string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE positions SET amount_usd=?, updated_at=? WHERE id=?`,
		amountUsd, time.Now().UnixMilli(), id)
	return err
}

// ClosePosition 将仓位置为 closed 并记录时间；行永不删除。
func (s *Store) ClosePosition(ctx context.Context, id int64, closedAt time.Time) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		UPDATE positions SET status=?, closed_at=?, updated_at=? WHERE id=?`,
		PositionStatusClosed, closedAt.UnixMilli(), time.Now().UnixMilli(), id)
	return err
}

// ListOpenPositions 列出某机器人当前全部 open 仓位（bot 为空则不过滤）。
func (s *Store) ListOpenPositions(ctx context.Context, bot string) ([]PositionRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var args []interface{}
	q := `
		SELECT id, bot_name, symbol, status, avg_entry_price, amount_usd, fills_count,
		       opened_at, closed_at, meta, created_at, updated_at
		FROM positions WHERE status=?`
	args = append(args, PositionStatusOpen)
	if strings.TrimSpace(bot) != "" {
		q += ` AND bot_name=?`
		args = append(args, strings.TrimSpace(bot))
	}
	q += ` ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PositionRecord
	for rows.Next() {
		rec, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPositionRow(row *sql.Row) (PositionRecord, error) { return scanPosition(row) }
func scanPositionRows(rows *sql.Rows) (PositionRecord, error) { return scanPosition(rows) }

func scanPosition(r rowScanner) (PositionRecord, error) {
	var (
		rec                PositionRecord
		openedTs, closedTs sql.NullInt64
		meta               sql.NullString
		createdTs, updTs   int64
	)
	if err := r.Scan(&rec.ID, &rec.BotName, &rec.Symbol, &rec.Status,
		&rec.AvgEntryPrice, &rec.AmountUsd, &rec.FillsCount,
		&openedTs, &closedTs, &meta, &createdTs, &updTs); err != nil {
		return PositionRecord{}, err
	}
	if openedTs.Valid {
		ts := time.UnixMilli(openedTs.Int64)
		rec.OpenedAt = &ts
	}
	if closedTs.Valid {
		ts := time.UnixMilli(closedTs.Int64)
		rec.ClosedAt = &ts
	}
	if meta.Valid && strings.TrimSpace(meta.String) != "" {
		_ = json.Unmarshal([]byte(meta.String), &rec.Meta)
	}
	rec.CreatedAt = time.UnixMilli(createdTs)
	rec.UpdatedAt = time.UnixMilli(updTs)
	return rec, nil
}

func marshalMeta(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("序列化 meta 失败: %w", err)
	}
	return string(buf), nil
}
