package alerter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"

	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
)

// Client отправляет алерты в Telegram группу через Bot API sendMessage
type Client struct {
	http            *resty.Client
	chatID          int64
	messageThreadID *int64
	log             *slog.Logger
}

type sendMessageRequest struct {
	ChatID          int64  `json:"chat_id"`
	Text            string `json:"text"`
	MessageThreadID *int64 `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewClient создаёт клиент алертов; nil, если алерты не настроены
func NewClient(cfg *Config, log *slog.Logger) *Client {
	if cfg == nil || !cfg.Enabled() {
		return nil
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL+"/bot"+cfg.BotToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{
		http:            httpClient,
		chatID:          cfg.ChatID,
		messageThreadID: cfg.MessageThreadID,
		log:             log,
	}
}

// SendAlert отправляет алерт в Telegram группу (или топик форума)
func (c *Client) SendAlert(ctx context.Context, message string) error {
	if c == nil || c.http == nil {
		return fmt.Errorf("alerter client is not initialized")
	}

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendMessageRequest{
			ChatID:          c.chatID,
			Text:            message,
			MessageThreadID: c.messageThreadID,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		c.log.Warn("failed to send alert", "error", err, "chat_id", c.chatID)
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if resp.IsError() || !out.OK {
		c.log.Warn("telegram rejected alert",
			"status", resp.StatusCode(),
			"error_code", out.ErrorCode,
			"description", out.Description,
			"chat_id", c.chatID,
			"message_thread_id", c.messageThreadID,
		)
		return fmt.Errorf("telegram api error %d: %s", resp.StatusCode(), out.Description)
	}

	c.log.Debug("alert sent successfully",
		"chat_id", c.chatID,
		"message_thread_id", c.messageThreadID,
	)
	return nil
}

var _ service.IAlerterService = (*Client)(nil)
