package app

import (
	"fmt"
	"time"

	server "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http"
	alerterAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/alerter"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/inference"
	kafkaAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/kafka"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/pg"
	redisAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/redis"
	s3Adapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/s3"
	"github.com/admin/agro-bots/farm-insights/internal/pkg/logger"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/insight"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/ledger"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/reward"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/telemetry"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory" // данные живут до рестарта, для локальной разработки
)

type Config struct {
	StorageDriver string                    `envconfig:"STORAGE_DRIVER" default:"postgres"`
	Postgres      *pg.Config                `envconfig:"POSTGRES"`
	Log           *logger.Config            `envconfig:"LOG"`
	Server        *server.Config            `envconfig:"APISERVER"`
	Redis         *redisAdapter.Config      `envconfig:"REDIS"`
	S3            *s3Adapter.Config         `envconfig:"S3"`
	Inference     *inference.Config         `envconfig:"INFERENCE"`
	Kafka         kafkaAdapter.KafkaConfigs `envconfig:"KAFKA"`
	Alerter       *alerterAdapter.Config    `envconfig:"ALERTER"`
	Telemetry     telemetry.Config          `envconfig:"TELEMETRY"`
	Insight       insight.Config            `envconfig:"INSIGHT"`
	Reward        reward.Config             `envconfig:"REWARD"`
	Ledger        ledger.Config             `envconfig:"LEDGER"`
	Jobs          JobsConfig                `envconfig:"JOBS"`
}

// JobsConfig расписание фоновых джоб
type JobsConfig struct {
	ReaperInterval time.Duration   `envconfig:"REAPER_INTERVAL" default:"1m"`
	ReconcileHour  int             `envconfig:"RECONCILE_HOUR" default:"3"` // час по REWARD_TIMEZONE
	RetryDelays    []time.Duration `envconfig:"RETRY_DELAYS" default:"1m,10m,30m"`
}

func NewEnvConfig(envPrefix string) (*Config, error) {
	cfg := &Config{}

	_ = godotenv.Load("deployments/local/.env")

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, err
	}

	// Загружаем Kafka конфигурацию вручную (envconfig не умеет определять размер слайса)
	if err := cfg.Kafka.Load(envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load kafka config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.Postgres == nil {
			return fmt.Errorf("postgres config is required for storage driver %q", c.StorageDriver)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.Insight.CostText < 0 || c.Insight.CostImage < 0 {
		return fmt.Errorf("insight costs must not be negative")
	}
	if c.Insight.ProviderTimeoutMS <= 0 {
		return fmt.Errorf("insight provider timeout must be positive")
	}
	// иначе сборщик закроет и вернёт токены по запросу, который ещё ждёт модель
	if inFlight := c.Insight.MaxInFlight(); c.Insight.StaleAfter <= inFlight {
		return fmt.Errorf("insight stale after (%s) must exceed prepare plus provider timeout (%s)",
			c.Insight.StaleAfter, inFlight)
	}
	if c.Jobs.ReaperInterval <= 0 {
		return fmt.Errorf("reaper interval must be positive")
	}
	if c.Jobs.ReconcileHour < 0 || c.Jobs.ReconcileHour > 23 {
		return fmt.Errorf("reconcile hour must be within [0, 23]")
	}
	return nil
}
