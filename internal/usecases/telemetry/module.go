package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

type Config struct {
	LatestCacheTTL time.Duration `envconfig:"LATEST_CACHE_TTL" default:"10m"`
}

// Service хранилище наблюдений по фермам
type Service struct {
	FarmRepo        repository.IFarmRepo
	ObservationRepo repository.IObservationRepo
	Cache           cache.Cache // может быть nil
	Cfg             Config
	Log             *slog.Logger
}

func New(
	farmRepo repository.IFarmRepo,
	observationRepo repository.IObservationRepo,
	cacheClient cache.Cache,
	cfg Config,
	log *slog.Logger,
) *Service {
	return &Service{
		FarmRepo:        farmRepo,
		ObservationRepo: observationRepo,
		Cache:           cacheClient,
		Cfg:             cfg,
		Log:             log,
	}
}

// RecordObservation записывает наблюдение. Повтор с тем же payload возвращает
// существующую запись и created=false, с другим payload - ErrConflict.
func (s *Service) RecordObservation(
	ctx context.Context,
	farmID uuid.UUID,
	kind domain.ObservationKind,
	payload domain.ObservationPayload,
	observedAt time.Time,
) (*domain.Observation, bool, error) {
	obs, err := domain.NewObservation(farmID, kind, payload, observedAt)
	if err != nil {
		return nil, false, err
	}

	stored, created, err := s.ObservationRepo.CreateOrGet(ctx, obs)
	if err != nil {
		return nil, false, err
	}
	if !created {
		if !stored.Payload.Equal(obs.Payload) {
			s.Log.Warn("conflicting observation rejected",
				"farm_id", farmID,
				"kind", kind,
				"observed_at", obs.ObservedAt,
				"existing_id", stored.ID)
			return nil, false, fmt.Errorf("observation %s already recorded with a different payload: %w",
				stored.ID, domain.ErrConflict)
		}
		return stored, false, nil
	}

	s.dropLatest(ctx, farmID, kind)
	s.Log.Debug("observation recorded", "observation_id", stored.ID, "farm_id", farmID, "kind", kind)
	return stored, true, nil
}

// Latest наблюдение с наибольшим observed_at или nil
func (s *Service) Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error) {
	if !kind.IsValid() {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown observation kind %q", kind))
	}

	if cached, ok := s.cachedLatest(ctx, farmID, kind); ok {
		return cached, nil
	}

	// версию читаем до запроса в БД: запись, закоммиченная после, её поднимет и заполнение не пройдёт
	version, versionOK := s.latestVersion(ctx, farmID, kind)

	obs, err := s.ObservationRepo.Latest(ctx, farmID, kind)
	if err != nil {
		return nil, err
	}
	if obs != nil && versionOK {
		s.storeLatest(ctx, obs, version)
	}
	return obs, nil
}

// Range ленивая последовательность наблюдений по возрастанию observed_at.
// Невалидные аргументы отдаются ошибкой на первом шаге итерации.
func (s *Service) Range(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) iter.Seq2[*domain.Observation, error] {
	if err := validateRange(kind, from, to); err != nil {
		return func(yield func(*domain.Observation, error) bool) { yield(nil, err) }
	}
	return s.ObservationRepo.Range(ctx, farmID, kind, from, to)
}

func validateRange(kind domain.ObservationKind, from, to time.Time) error {
	if !kind.IsValid() {
		return domain.NewValidationError("kind", fmt.Sprintf("unknown observation kind %q", kind))
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return domain.NewValidationError("from", "must not be after to")
	}
	return nil
}

// Snapshot последние показатели почвы и погоды
func (s *Service) Snapshot(ctx context.Context, farmID uuid.UUID) (*domain.FarmSnapshot, error) {
	soil, err := s.Latest(ctx, farmID, domain.ObservationKindSoil)
	if err != nil {
		return nil, err
	}
	weather, err := s.Latest(ctx, farmID, domain.ObservationKindWeather)
	if err != nil {
		return nil, err
	}
	return &domain.FarmSnapshot{FarmID: farmID, Soil: soil, Weather: weather}, nil
}

// AuthorizeFarm проверяет, что ферма существует и принадлежит caller
func (s *Service) AuthorizeFarm(ctx context.Context, farmID, caller uuid.UUID) error {
	farm, err := s.FarmRepo.GetByID(ctx, farmID)
	if err != nil {
		return err
	}
	if !farm.OwnedBy(caller) {
		return fmt.Errorf("farm %s: %w", farmID, domain.ErrAuthorization)
	}
	return nil
}

// InvalidateFarm сбрасывает кэш последних наблюдений удалённой фермы
func (s *Service) InvalidateFarm(ctx context.Context, farmID uuid.UUID) {
	s.dropLatest(ctx, farmID, domain.ObservationKindSoil)
	s.dropLatest(ctx, farmID, domain.ObservationKindWeather)
}

// versionTTL переживает любую запись latest, чтобы счётчик не обнулился под живым значением
const versionTTL = 24 * time.Hour

func latestKey(farmID uuid.UUID, kind domain.ObservationKind) string {
	return fmt.Sprintf("telemetry:latest:%s:%s", farmID, kind)
}

func latestVersionKey(farmID uuid.UUID, kind domain.ObservationKind) string {
	return fmt.Sprintf("telemetry:latest-version:%s:%s", farmID, kind)
}

func (s *Service) latestVersion(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (int64, bool) {
	if s.Cache == nil {
		return 0, false
	}
	version, err := s.Cache.Version(ctx, latestVersionKey(farmID, kind))
	if err != nil {
		s.Log.Warn("latest observation cache version read failed", "error", err, "farm_id", farmID, "kind", kind)
		return 0, false
	}
	return version, true
}

func (s *Service) cachedLatest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, bool) {
	if s.Cache == nil {
		return nil, false
	}
	raw, err := s.Cache.Get(ctx, latestKey(farmID, kind))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.Log.Warn("latest observation cache read failed", "error", err, "farm_id", farmID, "kind", kind)
		}
		return nil, false
	}
	var obs domain.Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		s.Log.Warn("corrupted latest observation cache entry", "error", err, "farm_id", farmID, "kind", kind)
		return nil, false
	}
	return &obs, true
}

// storeLatest кладёт obs в кэш, только если с момента чтения version никто не записал наблюдение
func (s *Service) storeLatest(ctx context.Context, obs *domain.Observation, version int64) {
	raw, err := json.Marshal(obs)
	if err != nil {
		return
	}
	stored, err := s.Cache.SetIfVersion(ctx, latestVersionKey(obs.FarmID, obs.Kind), version,
		latestKey(obs.FarmID, obs.Kind), string(raw), s.Cfg.LatestCacheTTL)
	if err != nil {
		s.Log.Warn("latest observation cache write failed", "error", err, "farm_id", obs.FarmID, "kind", obs.Kind)
		return
	}
	if !stored {
		s.Log.Debug("latest observation cache fill skipped, newer write", "farm_id", obs.FarmID, "kind", obs.Kind)
	}
}

func (s *Service) dropLatest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Bump(ctx, latestVersionKey(farmID, kind), versionTTL, latestKey(farmID, kind)); err != nil {
		s.Log.Warn("failed to invalidate latest observation cache", "error", err, "farm_id", farmID, "kind", kind)
	}
}
