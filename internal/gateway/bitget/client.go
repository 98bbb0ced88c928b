package bitget

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client wraps the signed Bitget mix REST API (v1/v2 paths).
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	apiSecret  string
	passphrase string
}

// NewClient constructs a Bitget client.
func NewClient(baseURL, key, secret, passphrase string) (*Client, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		raw = "https://api.bitget.com"
	}
	if _, err := url.Parse(raw); err != nil {
		return nil, fmt.Errorf("解析 bitget base_url 失败: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(raw, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     strings.TrimSpace(key),
		apiSecret:  strings.TrimSpace(secret),
		passphrase: strings.TrimSpace(passphrase),
	}, nil
}

// APIError carries Bitget's business error code alongside the message.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitget 错误 code=%s msg=%s (http %d)", e.Code, e.Message, e.StatusCode)
}

// buildQuery renders query params in deterministic order (签名需要稳定串)。
func buildQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func (c *Client) sign(timestampMs, method, requestPath, query, body string) string {
	prehash := timestampMs + method + requestPath
	if query != "" {
		prehash += "?" + query
	}
	prehash += body
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Call issues one signed request and decodes the envelope into out.
// Bitget 把业务码放在 body 的 code 字段，"00000" 才是成功。
func (c *Client) Call(ctx context.Context, method, requestPath string, query map[string]string, body any, out any) error {
	qs := buildQuery(query)
	var bodyStr string
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyStr = string(buf)
	}
	fullURL := c.baseURL + requestPath
	if qs != "" {
		fullURL += "?" + qs
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader([]byte(bodyStr)))
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("ACCESS-KEY", c.apiKey)
	req.Header.Set("ACCESS-SIGN", c.sign(ts, method, requestPath, qs, bodyStr))
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("locale", "en-US")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bitget 请求失败: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	var envelope struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.Code != "" && envelope.Code != "00000" {
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Msg}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Msg}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("解析 data 失败: %w", err)
		}
	}
	return nil
}
