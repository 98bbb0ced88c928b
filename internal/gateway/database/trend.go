package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TrendConfirmationRecord 对应 trend_confirmations 表的一行。
// 携带 meta.name 的确认在 (symbol, name) 上唯一，upsert 原地覆盖；
// 不带 name 的确认允许多行并存，供多数投票使用。
type TrendConfirmationRecord struct {
	ID        int64
	Symbol    string
	Timeframe string
	Direction string
	Source    string
	Meta      map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time
}

func metaName(m map[string]any) string {
	if m == nil {
		return ""
	}
	if v, ok := m["name"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// SaveConfirmation 写入一条趋势确认。
// meta.name 存在时走 ON CONFLICT 覆盖路径（方向/周期/时间戳全部刷新）。
func (s *Store) SaveConfirmation(ctx context.Context, rec TrendConfirmationRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return fmt.Errorf("symbol 必填")
	}
	if rec.Timeframe == "" {
		return fmt.Errorf("timeframe 必填")
	}
	switch rec.Direction {
	case "long", "short":
	default:
		return fmt.Errorf("direction 非法: %s", rec.Direction)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var meta interface{}
	if len(rec.Meta) > 0 {
		buf, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("序列化 meta 失败: %w", err)
		}
		meta = string(buf)
	}
	var expires interface{}
	if !rec.ExpiresAt.IsZero() {
		expires = rec.ExpiresAt.UnixMilli()
	}
	name := metaName(rec.Meta)
	if name == "" {
		_, err = db.ExecContext(ctx, `
			INSERT INTO trend_confirmations
				(symbol, timeframe, direction, source, meta, meta_name, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
			symbol, rec.Timeframe, rec.Direction, nullIfEmptyString(rec.Source),
			meta, rec.CreatedAt.UnixMilli(), expires)
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO trend_confirmations
			(symbol, timeframe, direction, source, meta, meta_name, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, meta_name) WHERE meta_name IS NOT NULL DO UPDATE SET
			timeframe=excluded.timeframe,
			direction=excluded.direction,
			source=excluded.source,
			meta=excluded.meta,
			created_at=excluded.created_at,
			expires_at=excluded.expires_at;`,
		symbol, rec.Timeframe, rec.Direction, nullIfEmptyString(rec.Source),
		meta, name, rec.CreatedAt.UnixMilli(), expires)
	return err
}

// ListActiveConfirmations 返回 (symbol, timeframe) 未过期的确认，按时间倒序。
func (s *Store) ListActiveConfirmations(ctx context.Context, symbol, tf string, now time.Time) ([]TrendConfirmationRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	rows, err := db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, direction, source, meta, created_at, expires_at
		FROM trend_confirmations
		WHERE symbol=? AND timeframe=? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC, id DESC`,
		symbol, tf, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrendConfirmationRecord
	for rows.Next() {
		var (
			rec       TrendConfirmationRecord
			source    sql.NullString
			meta      sql.NullString
			createdTs int64
			expiresTs sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Timeframe, &rec.Direction,
			&source, &meta, &createdTs, &expiresTs); err != nil {
			return nil, err
		}
		rec.Source = source.String
		if meta.Valid && strings.TrimSpace(meta.String) != "" {
			_ = json.Unmarshal([]byte(meta.String), &rec.Meta)
		}
		rec.CreatedAt = time.UnixMilli(createdTs)
		if expiresTs.Valid {
			rec.ExpiresAt = time.UnixMilli(expiresTs.Int64)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteExpiredConfirmations 清理已过期的确认行，返回删除条数。
func (s *Store) DeleteExpiredConfirmations(ctx context.Context, now time.Time) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		DELETE FROM trend_confirmations WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
