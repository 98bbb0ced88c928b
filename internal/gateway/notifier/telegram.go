package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"smartvol/internal/config"
	"smartvol/internal/logger"
	"smartvol/internal/pkg/text"
)

// Telegram 单个频道的推送器。失败只记日志不上抛，
// 通知故障不能阻断交易逻辑。
type Telegram struct {
	token  string
	chatID string
	name   string
	client *http.Client
}

func NewTelegram(token, chatID, name string) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		name:   name,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendText 发送 HTML 格式文本，超长自动截断。
func (t *Telegram) SendText(msg string) error {
	if t == nil {
		return nil
	}
	msg = text.Truncate(msg, 3500)
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	body, _ := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       msg,
		"parse_mode": "HTML",
	})
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram 请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram 返回 %s: %s", resp.Status, string(raw))
	}
	logger.Debugf("✓ Telegram 已发送 (%s)", t.name)
	return nil
}

// SendPhoto 发送 PNG 图片（multipart），caption 超长自动截断。
func (t *Telegram) SendPhoto(caption string, png []byte) error {
	if t == nil || len(png) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", t.chatID)
	_ = w.WriteField("caption", text.Truncate(caption, 1000))
	fw, err := w.CreateFormFile("photo", "report.png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(png); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendPhoto", t.token)
	resp, err := t.client.Post(url, w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("telegram 图片请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram 返回 %s: %s", resp.Status, string(raw))
	}
	return nil
}

// TestConnection 调 getMe 验证 token 是否可用。
func (t *Telegram) TestConnection(ctx context.Context) (bool, error) {
	if t == nil {
		return false, nil
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/getMe", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var r struct {
		OK     bool `json:"ok"`
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return false, err
	}
	if r.OK {
		logger.Infof("✓ Telegram 连接正常 (%s): @%s", t.name, r.Result.Username)
	}
	return r.OK, nil
}

// Registry 按频道名管理推送器。
type Registry struct {
	channels map[string]*Telegram
}

func NewRegistry(cfg map[string]config.TelegramChannel) *Registry {
	r := &Registry{channels: make(map[string]*Telegram, len(cfg))}
	for name, ch := range cfg {
		r.channels[name] = NewTelegram(ch.Token, ch.ChatID, ch.Name)
	}
	return r
}

// Channel 取频道推送器；未配置返回 nil（调用侧按无通知处理）。
func (r *Registry) Channel(name string) *Telegram {
	if r == nil {
		return nil
	}
	return r.channels[name]
}

// Channels 已配置的频道名列表。
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}

// ChannelNotifier 把单个频道适配成吞错的 Notifier 能力。
type ChannelNotifier struct {
	tg      *Telegram
	channel string
}

func NewChannelNotifier(tg *Telegram, channel string) *ChannelNotifier {
	return &ChannelNotifier{tg: tg, channel: channel}
}

// Send 失败只记日志，不向策略层传播。
func (n *ChannelNotifier) Send(msg string) {
	if n == nil || n.tg == nil {
		return
	}
	if err := n.tg.SendText(msg); err != nil {
		logger.Warnf("Telegram 推送失败 (%s): %v", n.channel, err)
	}
}
