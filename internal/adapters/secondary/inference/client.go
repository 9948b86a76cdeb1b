package inference

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
)

const chatCompletions = "/chat/completions"

// truncateString обрезает строку до maxLen байт, не разрезая руну
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Client клиент внешней модели. Одна попытка на запрос, без повторов.
type Client struct {
	cfg  *Config
	http *resty.Client
	Log  *slog.Logger
}

func NewClient(cfg *Config, log *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}
	if cfg.ShouldSkipSSL() {
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Client{
		cfg:  cfg,
		http: httpClient,
		Log:  log,
	}
}

// Complete отправляет запрос и возвращает текст первого варианта ответа
func (c *Client) Complete(ctx context.Context, req service.InferenceRequest) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    buildMessages(req),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	var (
		out    chatResponse
		apiErr errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(chatCompletions)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("inference request aborted: %w", errors.Join(ctxErr, err))
		}
		return "", fmt.Errorf("inference request failed: %w", err)
	}
	if resp.IsError() {
		c.Log.Debug("inference provider returned error",
			"status", resp.StatusCode(),
			"error_type", apiErr.Error.Type,
			"body", truncateString(resp.String(), 500),
		)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = truncateString(resp.String(), 200)
		}
		return "", fmt.Errorf("inference provider status %d: %s", resp.StatusCode(), msg)
	}

	if len(out.Choices) == 0 {
		return "", errors.New("inference provider returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("inference provider returned empty content")
	}

	c.Log.Debug("inference completed",
		"model", c.cfg.Model,
		"finish_reason", out.Choices[0].FinishReason,
		"answer_len", len(text),
	)
	return text, nil
}

func buildMessages(req service.InferenceRequest) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: req.SystemInstructions}}
	if req.Image == nil {
		return append(messages, chatMessage{Role: "user", Content: req.UserText})
	}

	dataURL := "data:" + req.Image.MimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)
	parts := []contentPart{
		{Type: "text", Text: req.UserText},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
	}
	return append(messages, chatMessage{Role: "user", Content: parts})
}

var _ service.IInferenceProvider = (*Client)(nil)
