package insight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/kafka"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
	"github.com/admin/agro-bots/farm-insights/internal/ports/storage"
	"github.com/google/uuid"
)

const maxHistoryLimit = 200

type Config struct {
	CostText          int64         `envconfig:"COST_TEXT" default:"1"`
	CostImage         int64         `envconfig:"COST_IMAGE" default:"10"`
	ProviderTimeoutMS int           `envconfig:"PROVIDER_TIMEOUT_MS" default:"30000"`
	PrepareTimeout    time.Duration `envconfig:"PREPARE_TIMEOUT" default:"10s"` // загрузка изображения и снимок фермы
	MaxImageBytes     int           `envconfig:"MAX_IMAGE_BYTES" default:"5242880"`
	StaleAfter        time.Duration `envconfig:"STALE_AFTER" default:"10m"`
	ReapBatch         int           `envconfig:"REAP_BATCH" default:"100"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"20"`
	ImageURLTTL       time.Duration `envconfig:"IMAGE_URL_TTL" default:"15m"`
}

func (c Config) providerTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

func (c Config) prepareTimeout() time.Duration {
	if c.PrepareTimeout <= 0 {
		return c.providerTimeout()
	}
	return c.PrepareTimeout
}

// MaxInFlight верхняя граница жизни pending-запроса: подготовка плюс вызов модели
func (c Config) MaxInFlight() time.Duration {
	return c.prepareTimeout() + c.providerTimeout()
}

// SnapshotReader последние наблюдения фермы для контекста запроса
type SnapshotReader interface {
	Snapshot(ctx context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error)
}

// Service координатор запросов к внешней модели: списание, вызов, компенсация
type Service struct {
	FarmRepo    repository.IFarmRepo
	InsightRepo repository.IInsightRepo
	Snapshots   SnapshotReader // может быть nil
	Provider    service.IInferenceProvider
	Images      storage.IImageStore   // может быть nil
	Events      kafka.IEventPublisher // может быть nil
	Cfg         Config
	Log         *slog.Logger
	Now         func() time.Time
}

func New(
	farmRepo repository.IFarmRepo,
	insightRepo repository.IInsightRepo,
	snapshots SnapshotReader,
	provider service.IInferenceProvider,
	images storage.IImageStore,
	events kafka.IEventPublisher,
	cfg Config,
	log *slog.Logger,
) *Service {
	return &Service{
		FarmRepo:    farmRepo,
		InsightRepo: insightRepo,
		Snapshots:   snapshots,
		Provider:    provider,
		Images:      images,
		Events:      events,
		Cfg:         cfg,
		Log:         log,
		Now:         time.Now,
	}
}

// SubmitInput вход запроса: текст, изображение или оба
type SubmitInput struct {
	FarmID *uuid.UUID
	Text   string
	Image  *domain.Image
}

// Submit списывает стоимость, вызывает модель и фиксирует итог.
// Ошибки провайдера не возвращаются: запрос приходит в статусе failed, токены возвращены.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*domain.InsightRequest, error) {
	text := strings.TrimSpace(in.Text)
	if err := s.validateInput(text, in.Image); err != nil {
		return nil, err
	}

	var farm *domain.Farm
	if in.FarmID != nil {
		f, err := s.FarmRepo.GetByID(ctx, *in.FarmID)
		if err != nil {
			return nil, err
		}
		if !f.OwnedBy(userID) {
			return nil, fmt.Errorf("farm %s: %w", f.ID, domain.ErrAuthorization)
		}
		farm = f
	}

	req := &domain.InsightRequest{
		ID:          uuid.New(),
		UserID:      userID,
		FarmID:      in.FarmID,
		Status:      domain.InsightStatusPending,
		CostDebited: s.Cfg.CostText,
		CreatedAt:   s.Now().UTC(),
	}
	if text != "" {
		req.InputText = &text
	}
	if in.Image != nil {
		req.CostDebited = s.Cfg.CostImage
		ref := s.imageRef(req, *in.Image)
		req.InputImageRef = &ref
	}

	var debit *domain.LedgerEntry
	if req.CostDebited > 0 {
		var err error
		debit, err = domain.NewDebit(userID, req.CostDebited, domain.ReasonInsightRequest, req.CreatedAt)
		if err != nil {
			return nil, err
		}
	}
	if err := s.InsightRepo.Create(ctx, req, debit); err != nil {
		return nil, err
	}
	s.Log.Info("insight request accepted",
		"request_id", req.ID,
		"user_id", userID,
		"cost", req.CostDebited,
		"with_image", in.Image != nil)

	outcome := s.dispatch(ctx, req, text, in.Image, farm)
	return s.complete(context.WithoutCancel(ctx), req, outcome)
}

func (s *Service) validateInput(text string, image *domain.Image) error {
	if text == "" && image == nil {
		return domain.NewValidationError("input", "text or image is required")
	}
	if image == nil {
		return nil
	}
	if len(image.Data) == 0 {
		return domain.NewValidationError("image", "image is empty")
	}
	if image.Extension() == "" {
		return domain.NewValidationError("image", fmt.Sprintf("unsupported image type %q", image.MimeType))
	}
	if s.Cfg.MaxImageBytes > 0 && len(image.Data) > s.Cfg.MaxImageBytes {
		return domain.NewValidationError("image", fmt.Sprintf("image exceeds %d bytes", s.Cfg.MaxImageBytes))
	}
	return nil
}

// imageRef ключ объекта в S3 либо хэш содержимого, если хранилище не настроено
func (s *Service) imageRef(req *domain.InsightRequest, image domain.Image) string {
	if s.Images != nil {
		return fmt.Sprintf("insights/%s/%s.%s", req.UserID, req.ID, image.Extension())
	}
	sum := sha256.Sum256(image.Data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// dispatch единственная попытка вызова модели
func (s *Service) dispatch(ctx context.Context, req *domain.InsightRequest, text string, image *domain.Image, farm *domain.Farm) domain.InsightOutcome {
	log := s.Log.With("request_id", req.ID, "user_id", req.UserID)

	snapshot, ok := s.prepare(ctx, log, req, image, farm)
	if !ok {
		return domain.FailedOutcome("failed to store image", s.Now())
	}

	callCtx, cancel := context.WithTimeout(ctx, s.Cfg.providerTimeout())
	defer cancel()

	started := s.Now()
	answer, err := s.Provider.Complete(callCtx, buildPrompt(text, image, farm, snapshot))
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrExternalProvider, err)
		message := "inference provider failed"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			message = "inference provider timed out"
		}
		log.Warn(message, "error", err, "elapsed", s.Now().Sub(started))
		return domain.FailedOutcome(message, s.Now())
	}

	log.Debug("inference provider answered", "elapsed", s.Now().Sub(started), "answer_len", len(answer))
	return domain.SucceededOutcome(strings.TrimSpace(answer), s.Now())
}

// prepare загружает изображение и читает снимок фермы под PrepareTimeout.
// false, если изображение сохранить не удалось; без снимка запрос уходит как есть.
func (s *Service) prepare(
	ctx context.Context,
	log *slog.Logger,
	req *domain.InsightRequest,
	image *domain.Image,
	farm *domain.Farm,
) (*domain.FarmSnapshot, bool) {
	prepCtx, cancel := context.WithTimeout(ctx, s.Cfg.prepareTimeout())
	defer cancel()

	if image != nil && s.Images != nil {
		if err := s.Images.PutImage(prepCtx, *req.InputImageRef, *image); err != nil {
			log.Error("failed to store insight image", "error", err)
			return nil, false
		}
	}

	if farm == nil || s.Snapshots == nil {
		return nil, true
	}
	snapshot, err := s.Snapshots.Snapshot(prepCtx, farm.ID)
	if err != nil {
		log.Warn("farm snapshot unavailable, sending request without telemetry", "error", err, "farm_id", farm.ID)
		return nil, true
	}
	return snapshot, true
}

// complete фиксирует итог. Если запрос уже закрыт сборщиком зависших, возвращает его текущее состояние.
func (s *Service) complete(ctx context.Context, req *domain.InsightRequest, outcome domain.InsightOutcome) (*domain.InsightRequest, error) {
	refund, err := s.refundFor(req, outcome)
	if err != nil {
		return nil, err
	}

	done, err := s.InsightRepo.Complete(ctx, req.ID, outcome, refund)
	if errors.Is(err, domain.ErrConflict) {
		s.Log.Warn("insight request was completed concurrently", "request_id", req.ID)
		return s.InsightRepo.GetByID(ctx, req.ID)
	}
	if err != nil {
		s.Log.Error("failed to complete insight request, left for stale reaper",
			"error", err,
			"request_id", req.ID,
			"status", outcome.Status)
		return nil, err
	}

	s.Log.Info("insight request completed",
		"request_id", done.ID,
		"user_id", done.UserID,
		"status", done.Status,
		"refunded", refund != nil)
	s.publish(ctx, done, refund != nil)
	return done, nil
}

func (s *Service) refundFor(req *domain.InsightRequest, outcome domain.InsightOutcome) (*domain.LedgerEntry, error) {
	if outcome.Status != domain.InsightStatusFailed || req.CostDebited <= 0 {
		return nil, nil
	}
	return domain.NewCredit(req.UserID, req.CostDebited, domain.ReasonInsightRefund, outcome.CompletedAt)
}

func (s *Service) publish(ctx context.Context, req *domain.InsightRequest, refunded bool) {
	if s.Events == nil {
		return
	}
	event := domain.InsightEvent{
		Type:        domain.InsightEventCompleted,
		RequestID:   req.ID,
		UserID:      req.UserID,
		FarmID:      req.FarmID,
		Status:      req.Status,
		CostDebited: req.CostDebited,
		Refunded:    refunded,
		WithImage:   req.InputImageRef != nil,
	}
	if req.CompletedAt != nil {
		event.CompletedAt = *req.CompletedAt
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.Log.Error("failed to marshal insight event", "error", err, "request_id", req.ID)
		return
	}
	if err := s.Events.Send(ctx, req.UserID.String(), payload); err != nil {
		s.Log.Warn("failed to publish insight event", "error", err, "request_id", req.ID)
	}
}

// Get запрос пользователя; чужой запрос неотличим от отсутствующего
func (s *Service) Get(ctx context.Context, id, caller uuid.UUID) (*domain.InsightRequest, error) {
	req, err := s.InsightRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != caller {
		return nil, fmt.Errorf("insight request %s: %w", id, domain.ErrNotFound)
	}
	return req, nil
}

// ListByUser история запросов пользователя, новые первыми
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.InsightRequest, error) {
	if limit <= 0 {
		limit = s.Cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.InsightRepo.ListByUser(ctx, userID, limit)
}

// ImageURL временная ссылка на изображение запроса; пусто, если изображения нет в S3
func (s *Service) ImageURL(ctx context.Context, req *domain.InsightRequest) (string, error) {
	if s.Images == nil || req.InputImageRef == nil || strings.HasPrefix(*req.InputImageRef, "sha256:") {
		return "", nil
	}
	return s.Images.GetPresignedURL(ctx, *req.InputImageRef, s.Cfg.ImageURLTTL)
}

// ReapStale закрывает запросы, зависшие в pending (процесс упал во время вызова модели),
// и возвращает токены. Возвращает число закрытых запросов.
func (s *Service) ReapStale(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.Cfg.StaleAfter)
	stale, err := s.InsightRepo.ListStalePending(ctx, cutoff, s.Cfg.ReapBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale insight requests: %w", err)
	}

	reaped := 0
	for _, req := range stale {
		outcome := domain.FailedOutcome("request abandoned before provider answered", s.Now())
		refund, err := s.refundFor(req, outcome)
		if err != nil {
			return reaped, err
		}
		done, err := s.InsightRepo.Complete(ctx, req.ID, outcome, refund)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("reap insight request %s: %w", req.ID, err)
		}
		s.Log.Warn("stale insight request failed and refunded",
			"request_id", req.ID,
			"user_id", req.UserID,
			"created_at", req.CreatedAt)
		s.publish(ctx, done, refund != nil)
		reaped++
	}
	return reaped, nil
}
