package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"

	"cloudflare-waf-sync/internal/config"
	"cloudflare-waf-sync/internal/logging"
)

// TelegramClient Telegram Bot 通知客户端
type TelegramClient struct {
	baseURL   string
	token     string
	chatID    string
	parseMode string
	client    *http.Client
}

// NewTelegramClient 创建通知客户端
func NewTelegramClient(cfg *config.TelegramConfig) *TelegramClient {
	httpc := cleanhttp.DefaultClient()
	httpc.Timeout = 10 * time.Second
	return &TelegramClient{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		token:     cfg.BotToken,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		client:    httpc,
	}
}

// Enabled Bot Token 与 Chat ID 均已配置
func (t *TelegramClient) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// ParseMode 消息格式（HTML / Markdown / 空）
func (t *TelegramClient) ParseMode() string {
	return t.parseMode
}

// SendMessage 发送消息
func (t *TelegramClient) SendMessage(ctx context.Context, text string) error {
	payload := struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode,omitempty"`
	}{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: t.parseMode,
	}
	byt, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	uri := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(byt))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, err := t.client.Do(req)
	if err != nil {
		return &RequestError{Op: "发送 Telegram 通知", Err: redact(err, t.token)}
	}
	defer func() { _ = rsp.Body.Close() }()

	if rsp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxBodySize))
		return fmt.Errorf("bad status code %d: %s", rsp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Notify 尽力发送，失败只记录日志
func (t *TelegramClient) Notify(ctx context.Context, text string) {
	logger := logging.FromContext(ctx)
	if !t.Enabled() {
		logger.Debug(ctx, "Telegram Bot Token 或 Chat ID 未配置，跳过通知")
		return
	}
	if err := t.SendMessage(ctx, text); err != nil {
		logger.Warnf(ctx, "发送 Telegram 通知失败: %v", err)
		return
	}
	logger.Info(ctx, "Telegram 通知已发送")
}

// redact 避免 Bot Token 随请求 URL 出现在日志中
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
