package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"smartvol/internal/pkg/timeframe"
)

// 配置结构体（与规划一致，保留必要字段，便于后续扩展）
type Config struct {
	App struct {
		Env      string `toml:"env"`
		LogLevel string `toml:"log_level"`
		HTTPAddr string `toml:"http_addr"`
		DBPath   string `toml:"db_path"`
	} `toml:"app"`

	// 机器人列表：每个条目实例化一个 BotEngine
	Bots []BotConfig `toml:"bots"`

	// Telegram 频道：channel 名 -> token/chat_id
	Telegram map[string]TelegramChannel `toml:"telegram"`

	// Bitget 交易所档案：profile 名 -> 鉴权与产品配置
	Bitget map[string]BitgetProfile `toml:"bitget"`

	Binance struct {
		Enabled bool `toml:"enabled"` // 用作 PnL/报告的最新价来源
	} `toml:"binance"`

	Report ReportConfig `toml:"report"`
}

// ReportConfig 定时趋势报告的行情快照与图表配置。
type ReportConfig struct {
	CandleLimit int    `toml:"candle_limit"` // 快照使用的 K 线条数
	ChartDir    string `toml:"chart_dir"`    // 图表 HTML/PNG 输出目录
	EnableChart bool   `toml:"enable_chart"` // 需要 headless Chrome
}

// BotConfig 单个机器人的静态配置，加载后不可变。
type BotConfig struct {
	Name            string   `toml:"name"`
	Enabled         bool     `toml:"enabled"`
	Strategy        string   `toml:"strategy"` // 空=default / partial-close / smartvolume / domination / trend-pivot / three-alerts
	Prod            bool     `toml:"prod"`
	IsTrended       bool     `toml:"is_trended"`
	Direction       string   `toml:"direction"` // long | short | both
	TimeframeTrend  []string `toml:"timeframe_trend"`
	SymbolFilter    []string `toml:"symbol_filter"`
	ScheduledReport bool     `toml:"scheduled_report"`
	ScheduledTime   string   `toml:"scheduled_time"`
	ExchangeProfile string   `toml:"exchange_profile"`
	TelegramChannel string   `toml:"telegram_channel"`
	// 平仓前要求 VolumeUp 量能闸门确认（default 策略的可选变体）
	VolumeGatedClose bool `toml:"volume_gated_close"`

	BaseUsd     float64 `toml:"base_usd"`
	AddFraction float64 `toml:"add_fraction"`
	Leverage    int     `toml:"leverage"`
	MaxFills    int     `toml:"max_fills"`
}

type TelegramChannel struct {
	Token  string `toml:"token"`
	ChatID string `toml:"chat_id"`
	Name   string `toml:"name"`
}

type BitgetProfile struct {
	BaseURL     string `toml:"base_url"`
	Key         string `toml:"key"`
	Secret      string `toml:"secret"`
	Passphrase  string `toml:"passphrase"`
	ProductType string `toml:"product_type"`
	MarginCoin  string `toml:"margin_coin"`
	// 允许交易的合约符号；支持静态列表或 HTTP 源二选一
	Allowed    []string `toml:"allowed"`
	AllowedURL string   `toml:"allowed_url"`
}

// Load 读取并解析 TOML 配置文件，并设置缺省值与基本校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// 默认值设置
func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8080"
	}
	if c.App.DBPath == "" {
		c.App.DBPath = "data/smartvol.db"
	}
	if c.Report.CandleLimit <= 0 {
		c.Report.CandleLimit = 60
	}
	if c.Report.ChartDir == "" {
		c.Report.ChartDir = "data/charts"
	}
	for i := range c.Bots {
		b := &c.Bots[i]
		if b.Direction == "" {
			b.Direction = "long"
		}
		if b.MaxFills <= 0 {
			b.MaxFills = 4
		}
		if b.AddFraction <= 0 {
			b.AddFraction = 0.5
		}
		if b.Leverage <= 0 {
			b.Leverage = 10
		}
		if b.ScheduledReport && b.ScheduledTime == "" {
			b.ScheduledTime = "1h"
		}
	}
	for name, p := range c.Bitget {
		if p.BaseURL == "" {
			p.BaseURL = "https://api.bitget.com"
		}
		if p.ProductType == "" {
			p.ProductType = "umcbl"
		}
		if p.MarginCoin == "" {
			p.MarginCoin = "USDT"
		}
		c.Bitget[name] = p
	}
}

// 基础校验
func validate(c *Config) error {
	seen := map[string]bool{}
	for _, b := range c.Bots {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("bots 条目缺少 name")
		}
		if seen[b.Name] {
			return fmt.Errorf("机器人名重复: %s", b.Name)
		}
		seen[b.Name] = true
		if !b.Enabled {
			continue
		}
		switch b.Direction {
		case "long", "short", "both":
		default:
			return fmt.Errorf("机器人 %s direction 非法: %s", b.Name, b.Direction)
		}
		switch b.Strategy {
		case "", "default", "partial-close", "smartvolume", "domination", "trend-pivot", "three-alerts":
		default:
			return fmt.Errorf("机器人 %s strategy 未知: %s", b.Name, b.Strategy)
		}
		if len(b.TimeframeTrend) == 0 {
			return fmt.Errorf("机器人 %s timeframe_trend 至少需要一个周期", b.Name)
		}
		for _, tf := range b.TimeframeTrend {
			if !timeframe.Valid(tf) {
				return fmt.Errorf("机器人 %s 非法周期: %s", b.Name, tf)
			}
		}
		if b.ScheduledTime != "" && !timeframe.Valid(b.ScheduledTime) {
			return fmt.Errorf("机器人 %s scheduled_time 非法: %s", b.Name, b.ScheduledTime)
		}
		if b.BaseUsd <= 0 && b.Strategy != "domination" {
			return fmt.Errorf("机器人 %s base_usd 必须大于 0", b.Name)
		}
		if b.TelegramChannel != "" {
			if _, ok := c.Telegram[b.TelegramChannel]; !ok {
				return fmt.Errorf("机器人 %s 引用了未配置的 telegram 频道 %s", b.Name, b.TelegramChannel)
			}
		}
		if b.ExchangeProfile != "" {
			if _, ok := c.Bitget[b.ExchangeProfile]; !ok {
				return fmt.Errorf("机器人 %s 引用了未配置的 bitget 档案 %s", b.Name, b.ExchangeProfile)
			}
		}
	}
	for name, ch := range c.Telegram {
		if ch.Token == "" || ch.ChatID == "" {
			return fmt.Errorf("telegram 频道 %s 缺少 token 或 chat_id", name)
		}
		if !strings.Contains(ch.Token, ":") {
			return fmt.Errorf("telegram 频道 %s token 格式非法（应包含 ':'）", name)
		}
		if !strings.HasPrefix(ch.ChatID, "-") && !strings.HasPrefix(ch.ChatID, "@") {
			return fmt.Errorf("telegram 频道 %s chat_id 应以 '-' 或 '@' 开头", name)
		}
	}
	return nil
}
