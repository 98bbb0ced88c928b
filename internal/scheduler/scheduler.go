package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"smartvol/internal/config"
	"smartvol/internal/engine"
	"smartvol/internal/gateway/notifier"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/sliceutil"
	"smartvol/internal/pkg/timeframe"
	"smartvol/internal/report"
	"smartvol/internal/trend"
)

// Scheduler 周期性趋势报告：每个开启 scheduled_report 的机器人
// 按自己的 scheduled_time 间隔推送一份趋势 + 行情快照报告。
type Scheduler struct {
	router    *engine.Router
	trend     engine.TrendProvider
	notifiers *notifier.Registry
	candles   report.CandleSource
	funding   report.FundingSource
	reportCfg config.ReportConfig
}

func New(router *engine.Router, trendSvc engine.TrendProvider, notifiers *notifier.Registry,
	candles report.CandleSource, funding report.FundingSource, reportCfg config.ReportConfig) *Scheduler {
	return &Scheduler{
		router:    router,
		trend:     trendSvc,
		notifiers: notifiers,
		candles:   candles,
		funding:   funding,
		reportCfg: reportCfg,
	}
}

// Run 启动所有机器人的报告定时器，直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range s.router.Bots() {
		if !b.Cfg.ScheduledReport {
			continue
		}
		interval := timeframe.Duration(b.Cfg.ScheduledTime)
		if interval <= 0 {
			logger.Warnf("机器人 %s scheduled_time 非法: %q，跳过定时报告", b.Cfg.Name, b.Cfg.ScheduledTime)
			continue
		}
		wg.Add(1)
		go func(b *engine.Bot, interval time.Duration) {
			defer wg.Done()
			logger.Infof("✓ 定时报告启动: %s 每 %s", b.Cfg.Name, interval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := s.SendTrendReport(ctx, b); err != nil {
						logger.Errorf("定时报告失败 bot=%s: %v", b.Cfg.Name, err)
					}
				}
			}
		}(b, interval)
	}
	wg.Wait()
}

// SendTrendReport 给一个机器人推送趋势报告（HTTP 测试接口也走这里）。
func (s *Scheduler) SendTrendReport(ctx context.Context, b *engine.Bot) error {
	syms, err := s.reportSymbols(ctx, b)
	if err != nil {
		return err
	}
	if len(syms) == 0 {
		logger.Debugf("机器人 %s 无可报告符号", b.Cfg.Name)
		return nil
	}
	tg := s.notifiers.Channel(b.Cfg.TelegramChannel)
	for _, symbol := range syms {
		snap, snapErr := s.buildSnapshot(ctx, symbol)
		text, err := s.buildText(ctx, b, symbol, snap, snapErr)
		if err != nil {
			logger.Warnf("报告构建失败 bot=%s %s: %v", b.Cfg.Name, symbol, err)
			continue
		}
		png := s.buildChart(ctx, symbol, snap, snapErr)
		if tg == nil {
			logger.Infof("报告（无频道）:\n%s", text)
			continue
		}
		if len(png) > 0 {
			if err := tg.SendPhoto(text, png); err == nil {
				continue
			}
			logger.Warnf("报告图片发送失败，降级为文本: %s", symbol)
		}
		if err := tg.SendText(text); err != nil {
			logger.Warnf("报告发送失败 bot=%s %s: %v", b.Cfg.Name, symbol, err)
		}
	}
	return nil
}

// SendAll 给所有启用机器人推送一轮报告。
func (s *Scheduler) SendAll(ctx context.Context) {
	for _, b := range s.router.Bots() {
		if err := s.SendTrendReport(ctx, b); err != nil {
			logger.Errorf("报告失败 bot=%s: %v", b.Cfg.Name, err)
		}
	}
}

// reportSymbols 报告覆盖的符号：优先 symbol_filter，否则当前持仓符号。
func (s *Scheduler) reportSymbols(ctx context.Context, b *engine.Bot) ([]string, error) {
	if len(b.Cfg.SymbolFilter) > 0 {
		return sliceutil.Strings(b.Cfg.SymbolFilter), nil
	}
	open, err := b.Positions.ListOpen(ctx, b.Cfg.Name)
	if err != nil {
		return nil, err
	}
	var syms []string
	seen := map[string]bool{}
	for _, p := range open {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			syms = append(syms, p.Symbol)
		}
	}
	return syms, nil
}

func trendEmoji(d trend.Direction) string {
	switch d {
	case trend.Long:
		return "🟢 long"
	case trend.Short:
		return "🔴 short"
	default:
		return "⚪️ neutral"
	}
}

func (s *Scheduler) buildSnapshot(ctx context.Context, symbol string) (report.Snapshot, error) {
	if s.candles == nil {
		return report.Snapshot{}, fmt.Errorf("未配置行情来源")
	}
	return report.BuildSnapshot(ctx, s.candles, s.funding, symbol, s.reportCfg.CandleLimit)
}

func (s *Scheduler) buildText(ctx context.Context, b *engine.Bot, symbol string, snap report.Snapshot, snapErr error) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📈 <b>%s</b> 趋势报告 — %s\n", b.Cfg.Name, symbol)
	for _, tf := range b.Cfg.TimeframeTrend {
		d, err := s.trend.GetCurrent(ctx, symbol, tf)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s: %s\n", tf, trendEmoji(d))
	}
	overall, err := s.trend.AgreeAllWithHierarchy(ctx, symbol, b.Cfg.TimeframeTrend)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "综合: %s\n", trendEmoji(overall))

	if pos, ok, err := b.Positions.FindOpen(ctx, b.Cfg.Name, symbol); err == nil && ok {
		fmt.Fprintf(&sb, "持仓: 均价=%s 名义=%s fills=%d\n", pos.AvgEntryPrice, pos.AmountUsd, pos.FillsCount)
	}

	if snapErr != nil {
		logger.Debugf("行情快照失败 %s: %v", symbol, snapErr)
	} else {
		sb.WriteString("\n")
		sb.WriteString(snap.Text())
	}
	return sb.String(), nil
}

// buildChart 尽力而为：图表或截图失败都降级为纯文本。
func (s *Scheduler) buildChart(ctx context.Context, symbol string, snap report.Snapshot, snapErr error) []byte {
	if !s.reportCfg.EnableChart || snapErr != nil {
		return nil
	}
	htmlPath, err := report.RenderChart(snap, s.reportCfg.ChartDir)
	if err != nil {
		logger.Debugf("图表渲染失败 %s: %v", symbol, err)
		return nil
	}
	png, err := report.ScreenshotHTML(ctx, htmlPath)
	if err != nil {
		logger.Debugf("图表截图失败 %s: %v", symbol, err)
		return nil
	}
	return png
}
