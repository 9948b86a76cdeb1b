package alerter

import "time"

// Config алерты в Telegram; пустой BotToken отключает алерты
type Config struct {
	BotToken        string        `envconfig:"BOT_TOKEN"`
	ChatID          int64         `envconfig:"CHAT_ID"`
	MessageThreadID *int64        `envconfig:"MESSAGE_THREAD_ID"`
	BaseURL         string        `envconfig:"BASE_URL" default:"https://api.telegram.org"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"10s"`
	Cooldown        time.Duration `envconfig:"COOLDOWN" default:"15m"` // одинаковый алерт не чаще раза в Cooldown
}

func (c *Config) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}
