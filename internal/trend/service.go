package trend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartvol/internal/gateway/database"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/timeframe"
)

// Direction 趋势方向。neutral 表示无法判定。
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// ConfirmArgs 一条趋势确认。meta["name"] 存在时按 (symbol, name) 原地覆盖。
type ConfirmArgs struct {
	Symbol    string
	Timeframe string
	Direction Direction
	Source    string
	Meta      map[string]any
}

// Service 趋势判定：确认写入 + 多数投票 + 多周期一致性。
type Service struct {
	store *database.Store
	now   func() time.Time
}

func NewService(store *database.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Confirm 写入确认并返回过期时间（TTL = 2×周期）。
func (s *Service) Confirm(ctx context.Context, args ConfirmArgs) (time.Time, error) {
	ttl := timeframe.TTL(args.Timeframe)
	if ttl <= 0 {
		return time.Time{}, fmt.Errorf("非法周期: %s", args.Timeframe)
	}
	if args.Direction != Long && args.Direction != Short {
		return time.Time{}, fmt.Errorf("direction 非法: %s", args.Direction)
	}
	now := s.now()
	expires := now.Add(ttl)
	err := s.store.SaveConfirmation(ctx, database.TrendConfirmationRecord{
		Symbol:    args.Symbol,
		Timeframe: args.Timeframe,
		Direction: string(args.Direction),
		Source:    args.Source,
		Meta:      args.Meta,
		CreatedAt: now,
		ExpiresAt: expires,
	})
	if err != nil {
		return time.Time{}, err
	}
	logger.Debugf("趋势确认: %s %s -> %s (过期 %s)", args.Symbol, args.Timeframe, args.Direction, expires.Format(time.RFC3339))
	return expires, nil
}

// GetCurrent 当前趋势：未过期确认的多数票；平票时只看最近 3 条再投；
// 仍平或无数据返回 neutral。对相同输入幂等。
func (s *Service) GetCurrent(ctx context.Context, symbol, tf string) (Direction, error) {
	recs, err := s.store.ListActiveConfirmations(ctx, symbol, tf, s.now())
	if err != nil {
		return Neutral, err
	}
	if len(recs) == 0 {
		return Neutral, nil
	}
	if d := vote(recs); d != Neutral {
		return d, nil
	}
	recent := recs
	if len(recent) > 3 {
		recent = recent[:3] // 已按时间倒序
	}
	return vote(recent), nil
}

func vote(recs []database.TrendConfirmationRecord) Direction {
	longs, shorts := 0, 0
	for _, r := range recs {
		switch r.Direction {
		case string(Long):
			longs++
		case string(Short):
			shorts++
		}
	}
	switch {
	case longs > shorts:
		return Long
	case shorts > longs:
		return Short
	default:
		return Neutral
	}
}

// AgreeAll 所有周期趋势完全一致且非 neutral 时返回该方向，否则 neutral。
func (s *Service) AgreeAll(ctx context.Context, symbol string, tfs []string) (Direction, error) {
	if len(tfs) == 0 {
		return Neutral, nil
	}
	first := Neutral
	for i, tf := range tfs {
		d, err := s.GetCurrent(ctx, symbol, tf)
		if err != nil {
			return Neutral, err
		}
		if d == Neutral {
			return Neutral, nil
		}
		if i == 0 {
			first = d
			continue
		}
		if d != first {
			return Neutral, nil
		}
	}
	return first, nil
}

// AgreeAllWithHierarchy 层级一致性：主周期（优先级最高）定方向；
// 主周期 neutral 直接 neutral；其余周期须等于主方向或 neutral。
func (s *Service) AgreeAllWithHierarchy(ctx context.Context, symbol string, tfs []string) (Direction, error) {
	if len(tfs) == 0 {
		return Neutral, nil
	}
	sorted := timeframe.SortByPriority(tfs)
	main, err := s.GetCurrent(ctx, symbol, sorted[0])
	if err != nil {
		return Neutral, err
	}
	if main == Neutral {
		return Neutral, nil
	}
	for _, tf := range sorted[1:] {
		d, err := s.GetCurrent(ctx, symbol, tf)
		if err != nil {
			return Neutral, err
		}
		if d != Neutral && d != main {
			return Neutral, nil
		}
	}
	return main, nil
}

// CanAddPosition 加仓闸门：所有周期都严格等于期望方向（不容忍 neutral）。
func (s *Service) CanAddPosition(ctx context.Context, symbol string, tfs []string, expected Direction) (bool, error) {
	if len(tfs) == 0 || (expected != Long && expected != Short) {
		return false, nil
	}
	for _, tf := range tfs {
		d, err := s.GetCurrent(ctx, symbol, tf)
		if err != nil {
			return false, err
		}
		if d != expected {
			return false, nil
		}
	}
	return true, nil
}

// ShouldClosePosition 主周期趋势非 neutral 且与持仓方向相反时为真。
func (s *Service) ShouldClosePosition(ctx context.Context, symbol string, tfs []string, current Direction) (bool, error) {
	main := timeframe.Main(tfs)
	if main == "" {
		return false, nil
	}
	d, err := s.GetCurrent(ctx, symbol, main)
	if err != nil {
		return false, err
	}
	return d != Neutral && d != current, nil
}

// ConfirmationCount 某 (symbol, timeframe) 当前未过期的确认条数。
func (s *Service) ConfirmationCount(ctx context.Context, symbol, tf string) (int, error) {
	recs, err := s.store.ListActiveConfirmations(ctx, symbol, tf, s.now())
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// ParseDirection 解析外部输入的方向字符串。
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long":
		return Long, nil
	case "short":
		return Short, nil
	default:
		return Neutral, fmt.Errorf("direction 非法: %s", s)
	}
}
