package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderChart 把快照渲染成自包含 HTML 折线图（收盘 + EMA 叠加），
// 返回生成的文件路径。
func RenderChart(snap Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建图表目录失败: %w", err)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    snap.Symbol + " 1h",
			Subtitle: fmt.Sprintf("EMA%d / RSI%d=%.1f", emaPeriod, rsiPeriod, snap.LastRSI),
		}),
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
	)

	closeData := make([]opts.LineData, len(snap.Closes))
	for i, v := range snap.Closes {
		closeData[i] = opts.LineData{Value: v}
	}
	emaData := make([]opts.LineData, len(snap.EMA))
	for i, v := range snap.EMA {
		emaData[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(snap.Times).
		AddSeries("close", closeData).
		AddSeries(fmt.Sprintf("ema%d", emaPeriod), emaData)

	name := strings.ToLower(snap.Symbol) + "_report.html"
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("创建图表文件失败: %w", err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return "", fmt.Errorf("渲染图表失败: %w", err)
	}
	return path, nil
}
