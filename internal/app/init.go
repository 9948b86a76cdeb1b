package app

import (
	"context"
	"fmt"
	"net/http"

	server "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http"
	farmController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/farm"
	healthcheckController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/healthcheck"
	insightController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/insight"
	ledgerController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/ledger"
	rewardController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/reward"
	telemetryController "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/http/controllers/telemetry"
	kafkaConsumerAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/kafka"
	kafkaHandlers "github.com/admin/agro-bots/farm-insights/internal/adapters/primary/kafka/handlers"
	alerterAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/alerter"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/inference"
	kafkaAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/kafka"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/inmemory"
	"github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/pg"
	redisAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/redis"
	s3Adapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/storage/s3"
	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
	"github.com/admin/agro-bots/farm-insights/internal/ports/kafka"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
	"github.com/admin/agro-bots/farm-insights/internal/ports/storage"
	farmRepo "github.com/admin/agro-bots/farm-insights/internal/repository/farm"
	insightRepo "github.com/admin/agro-bots/farm-insights/internal/repository/insight"
	ledgerRepo "github.com/admin/agro-bots/farm-insights/internal/repository/ledger"
	observationRepo "github.com/admin/agro-bots/farm-insights/internal/repository/observation"
	rewardRepo "github.com/admin/agro-bots/farm-insights/internal/repository/reward"
	alerterService "github.com/admin/agro-bots/farm-insights/internal/services/alerter"
	jobScheduler "github.com/admin/agro-bots/farm-insights/internal/services/jobs"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/farm"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/insight"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/ledger"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/reward"
	"github.com/admin/agro-bots/farm-insights/internal/usecases/telemetry"
	"github.com/jmoiron/sqlx"
)

type Dependencies struct {
	DB             *sqlx.DB // nil для STORAGE_DRIVER=memory
	HTTPServer     *http.Server
	KafkaProducers map[string]*kafkaAdapter.Producer
	KafkaConsumers map[string]*kafkaConsumerAdapter.Consumer
	Cache          cache.Cache
	JobScheduler   *jobScheduler.Scheduler
}

// initDependencies инициализирует все зависимости приложения
func (a *App) initDependencies(ctx context.Context) (*Dependencies, error) {
	repos, db, err := a.initRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	external := a.initExternalServices(ctx)
	producers := a.initKafkaProducers()

	useCases, err := a.initUseCases(repos, external, producers)
	if err != nil {
		return nil, fmt.Errorf("failed to init use cases: %w", err)
	}

	consumers := a.initKafkaConsumers(useCases)
	httpServer := a.initHTTP(db, external, useCases)
	scheduler := a.initJobScheduler(external.Alerter, useCases)

	return &Dependencies{
		DB:             db,
		HTTPServer:     httpServer,
		KafkaProducers: producers,
		KafkaConsumers: consumers,
		Cache:          external.Cache,
		JobScheduler:   scheduler,
	}, nil
}

// repositories содержит инициализированные репозитории
type repositories struct {
	Farm        repository.IFarmRepo
	Observation repository.IObservationRepo
	Ledger      repository.ILedgerRepo
	Insight     repository.IInsightRepo
	Reward      repository.IRewardRepo
}

// initRepositories выбирает хранилище по STORAGE_DRIVER
func (a *App) initRepositories(ctx context.Context) (*repositories, *sqlx.DB, error) {
	if a.Cfg.StorageDriver == StorageDriverMemory {
		a.Log.Warn("in-memory storage enabled - data is lost on restart")
		store := inmemory.New()
		return &repositories{
			Farm:        store.Farms(),
			Observation: store.Observations(),
			Ledger:      store.Ledger(),
			Insight:     store.Insights(),
			Reward:      store.Rewards(),
		}, nil, nil
	}

	db, err := a.initPostgres(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init postgres: %w", err)
	}

	persistenceLayer := pg.NewDB(db)
	return &repositories{
		Farm:        farmRepo.New(persistenceLayer, a.Log),
		Observation: observationRepo.New(persistenceLayer, a.Log),
		Ledger:      ledgerRepo.New(persistenceLayer, a.Log),
		Insight:     insightRepo.New(persistenceLayer, a.Log),
		Reward:      rewardRepo.New(persistenceLayer, a.Log),
	}, db, nil
}

// externalServices содержит внешние сервисы; опциональные равны nil, если не настроены
type externalServices struct {
	Inference service.IInferenceProvider
	Alerter   service.IAlerterService
	Cache     cache.Cache
	Images    storage.IImageStore
	Redis     *redisAdapter.Client
}

// initExternalServices инициализирует модель, алерты, кэш и S3
func (a *App) initExternalServices(ctx context.Context) *externalServices {
	services := &externalServices{}

	// Inference - обязательный, без ключа каждый запрос завершится failed с возвратом токенов
	if a.Cfg.Inference.APIKey == "" {
		a.Log.Warn("inference API key is missing, insight requests will fail")
	}
	services.Inference = inference.NewClient(a.Cfg.Inference, a.Log)

	// Alerter - опциональный
	if client := alerterAdapter.NewClient(a.Cfg.Alerter, a.Log); client != nil {
		services.Alerter = alerterService.New(client, a.Name, a.Cfg.Alerter.Cooldown, a.Log)
		a.Log.Info("telegram alerts enabled", "chat_id", a.Cfg.Alerter.ChatID)
	}

	// Redis Cache - опциональный
	if a.Cfg.Redis.Enabled() {
		redisClient, err := a.Cfg.Redis.NewConnection(ctx)
		if err != nil {
			a.Log.Warn("failed to init redis cache, continuing without cache", "error", err)
		} else {
			services.Redis = redisAdapter.NewClient(redisClient, a.Cfg.Redis.KeyPrefix)
			services.Cache = services.Redis
			a.Log.Info("redis cache connected successfully")
		}
	}

	// S3 - опциональный, без него изображения не сохраняются, в запросе остаётся хэш
	if a.Cfg.S3.Enabled() {
		minioClient, err := a.Cfg.S3.NewClient(ctx)
		if err != nil {
			a.Log.Warn("failed to init s3 image store, continuing without it", "error", err)
		} else {
			services.Images = s3Adapter.NewClient(minioClient, a.Cfg.S3.Bucket, a.Log)
			a.Log.Info("s3 image store connected successfully", "bucket", a.Cfg.S3.Bucket)
		}
	}

	return services
}

// initKafkaProducers создаёт producers для подключений без consumer group
func (a *App) initKafkaProducers() map[string]*kafkaAdapter.Producer {
	producers := make(map[string]*kafkaAdapter.Producer)
	for _, kafkaCfg := range a.Cfg.Kafka.List {
		if kafkaCfg.Config.ConsumerGroup != "" {
			continue
		}
		prod, err := kafkaAdapter.NewProducer(kafkaCfg.Config, a.Log)
		if err != nil {
			a.Log.Warn("failed to create kafka producer", "error", err, "name", kafkaCfg.Name)
			continue
		}
		producers[kafkaCfg.Name] = prod
	}
	return producers
}

type useCases struct {
	Farm      *farm.Service
	Telemetry *telemetry.Service
	Ledger    *ledger.Service
	Insight   *insight.Service
	Reward    *reward.Service
}

// initUseCases инициализирует UseCases приложения
func (a *App) initUseCases(
	repos *repositories,
	external *externalServices,
	producers map[string]*kafkaAdapter.Producer,
) (*useCases, error) {
	var events kafka.IEventPublisher
	if prod, ok := producers[kafkaAdapter.InsightEventsName]; ok {
		events = prod
	}

	telemetryUseCase := telemetry.New(repos.Farm, repos.Observation, external.Cache, a.Cfg.Telemetry, a.Log)
	rewardUseCase, err := reward.New(repos.Reward, a.Cfg.Reward, a.Log)
	if err != nil {
		return nil, err
	}

	return &useCases{
		Farm:      farm.New(repos.Farm, telemetryUseCase, a.Log),
		Telemetry: telemetryUseCase,
		Ledger:    ledger.New(repos.Ledger, external.Alerter, a.Cfg.Ledger, a.Log),
		Insight: insight.New(
			repos.Farm,
			repos.Insight,
			telemetryUseCase,
			external.Inference,
			external.Images, // может быть nil
			events,          // может быть nil
			a.Cfg.Insight,
			a.Log,
		),
		Reward: rewardUseCase,
	}, nil
}

// initKafkaConsumers создаёт consumers для подключений с consumer group
func (a *App) initKafkaConsumers(uc *useCases) map[string]*kafkaConsumerAdapter.Consumer {
	consumers := make(map[string]*kafkaConsumerAdapter.Consumer)
	for _, kafkaCfg := range a.Cfg.Kafka.List {
		if kafkaCfg.Config.ConsumerGroup == "" {
			continue
		}
		handler := a.createHandlerForTopic(kafkaCfg.Name, uc)
		if handler == nil {
			a.Log.Warn("no handler for kafka topic, skipping consumer", "name", kafkaCfg.Name)
			continue
		}

		consumer, err := kafkaConsumerAdapter.NewConsumer(kafkaCfg.Config, handler, a.Log)
		if err != nil {
			a.Log.Warn("failed to create kafka consumer", "error", err, "name", kafkaCfg.Name)
			continue
		}
		consumers[kafkaCfg.Name] = consumer
	}
	return consumers
}

// createHandlerForTopic создаёт handler для указанного подключения Kafka
func (a *App) createHandlerForTopic(name string, uc *useCases) kafka.MessageHandler {
	switch name {
	case kafkaAdapter.ObservationsName:
		return kafkaHandlers.NewObservationHandler(uc.Telemetry, a.Log)
	default:
		return nil
	}
}

// initHTTP инициализирует HTTP сервер и контроллеры
func (a *App) initHTTP(db *sqlx.DB, external *externalServices, uc *useCases) *http.Server {
	checks := map[string]healthcheckController.Pinger{}
	if db != nil {
		checks["database"] = healthcheckController.PingFunc(db.PingContext)
	}
	if external.Redis != nil {
		checks["redis"] = external.Redis
	}

	controllers := []server.Controller{
		healthcheckController.New(checks, a.Log),
		farmController.New(uc.Farm, a.Log),
		telemetryController.New(uc.Telemetry, a.Log),
		ledgerController.New(uc.Ledger, a.Log),
		insightController.New(uc.Insight, a.Log),
		rewardController.New(uc.Reward, a.Log),
	}

	return server.NewHTTPServer(a.Cfg.Server, a.Log, controllers...)
}

// initJobScheduler инициализирует планировщик джоб
func (a *App) initJobScheduler(alerterSvc service.IAlerterService, uc *useCases) *jobScheduler.Scheduler {
	scheduler := jobScheduler.NewScheduler(a.Log, alerterSvc, a.Cfg.Jobs.RetryDelays)

	scheduler.Register(jobScheduler.NewInsightReaper(uc.Insight, a.Cfg.Jobs.ReaperInterval, a.Log))
	a.Log.Info("insight reaper job registered", "interval", a.Cfg.Jobs.ReaperInterval)

	scheduler.Register(jobScheduler.NewLedgerReconciler(uc.Ledger, a.Cfg.Jobs.ReconcileHour, uc.Reward.Location, a.Log))
	a.Log.Info("ledger reconciler job registered", "hour", a.Cfg.Jobs.ReconcileHour)

	return scheduler
}

// initPostgres инициализирует подключение к PostgreSQL и запускает миграции
func (a *App) initPostgres(ctx context.Context) (*sqlx.DB, error) {
	db, err := a.Cfg.Postgres.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	a.Log.Info("postgres connected successfully")

	if err := pg.RunMigrations(ctx, db, a.Log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
