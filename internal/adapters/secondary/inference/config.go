package inference

import "time"

// Config OpenAI-совместимый chat completions API
type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	APIKey      string        `envconfig:"API_KEY"`
	Model       string        `envconfig:"MODEL" default:"gpt-4o-mini"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"800"`
	Temperature float64       `envconfig:"TEMPERATURE" default:"0.4"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"60s"` // верхняя граница транспорта, запрос ограничен ещё и контекстом
	SkipSSL     string        `envconfig:"SKIP_SSL"`
}

func (c *Config) ShouldSkipSSL() bool {
	return c.SkipSSL == "true" || c.SkipSSL == "1" || c.SkipSSL == "True"
}
