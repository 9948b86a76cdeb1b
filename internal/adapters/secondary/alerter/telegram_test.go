package alerter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Disabled(t *testing.T) {
	assert.Nil(t, NewClient(nil, slog.New(slog.DiscardHandler)))
	assert.Nil(t, NewClient(&Config{ChatID: 1}, slog.New(slog.DiscardHandler)))

	var c *Client
	assert.Error(t, c.SendAlert(context.Background(), "x"))
}

func TestSendAlert(t *testing.T) {
	thread := int64(7)
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := NewClient(&Config{
		BotToken:        "secret",
		ChatID:          -100,
		MessageThreadID: &thread,
		BaseURL:         srv.URL,
		Timeout:         time.Second,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, c.SendAlert(context.Background(), "ledger repaired"))

	assert.EqualValues(t, -100, got.ChatID)
	assert.Equal(t, "ledger repaired", got.Text)
	require.NotNil(t, got.MessageThreadID)
	assert.EqualValues(t, 7, *got.MessageThreadID)
}

func TestSendAlert_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := NewClient(&Config{BotToken: "t", ChatID: 1, BaseURL: srv.URL, Timeout: time.Second}, slog.New(slog.DiscardHandler))
	err := c.SendAlert(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
