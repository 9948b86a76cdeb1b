package farm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

// CacheInvalidator сбрасывает закэшированные данные фермы после удаления
type CacheInvalidator interface {
	InvalidateFarm(ctx context.Context, farmID uuid.UUID)
}

// Service реестр ферм
type Service struct {
	FarmRepo    repository.IFarmRepo
	Invalidator CacheInvalidator // может быть nil
	Log         *slog.Logger
	Now         func() time.Time
}

func New(farmRepo repository.IFarmRepo, invalidator CacheInvalidator, log *slog.Logger) *Service {
	return &Service{
		FarmRepo:    farmRepo,
		Invalidator: invalidator,
		Log:         log,
		Now:         time.Now,
	}
}

// CreateFarmInput параметры новой фермы
type CreateFarmInput struct {
	Name         string
	LocationText string
	Latitude     *float64
	Longitude    *float64
	Size         *float64
}

// CreateFarm создаёт ферму, владелец - caller
func (s *Service) CreateFarm(ctx context.Context, caller uuid.UUID, in CreateFarmInput) (*domain.Farm, error) {
	farm, err := domain.NewFarm(caller, in.Name, in.LocationText, in.Latitude, in.Longitude, in.Size, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.FarmRepo.Create(ctx, farm); err != nil {
		return nil, fmt.Errorf("create farm: %w", err)
	}
	s.Log.Info("farm created", "farm_id", farm.ID, "owner_user_id", caller)
	return farm, nil
}

// UpdateFarm применяет патч под блокировкой фермы
func (s *Service) UpdateFarm(ctx context.Context, id, caller uuid.UUID, patch domain.FarmPatch) (*domain.Farm, error) {
	if patch.IsEmpty() {
		return nil, domain.NewValidationError("", "patch has no fields")
	}
	farm, err := s.FarmRepo.Update(ctx, id, func(f *domain.Farm) error {
		if !f.OwnedBy(caller) {
			return fmt.Errorf("farm %s: %w", id, domain.ErrAuthorization)
		}
		return patch.Apply(f)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("farm updated", "farm_id", id, "user_id", caller)
	return farm, nil
}

// DeleteFarm удаляет ферму вместе с наблюдениями
func (s *Service) DeleteFarm(ctx context.Context, id, caller uuid.UUID) error {
	err := s.FarmRepo.Delete(ctx, id, func(f *domain.Farm) error {
		if !f.OwnedBy(caller) {
			return fmt.Errorf("farm %s: %w", id, domain.ErrAuthorization)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.Invalidator != nil {
		s.Invalidator.InvalidateFarm(ctx, id)
	}
	s.Log.Info("farm deleted", "farm_id", id, "user_id", caller)
	return nil
}

// ListFarms фермы owner, либо все фермы с гостевым представлением чужих
func (s *Service) ListFarms(ctx context.Context, caller uuid.UUID, owner *uuid.UUID) ([]*domain.Farm, error) {
	farms, err := s.FarmRepo.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list farms: %w", err)
	}
	out := make([]*domain.Farm, 0, len(farms))
	for _, f := range farms {
		out = append(out, f.ViewFor(caller))
	}
	return out, nil
}

// GetFarm ферма в представлении для caller
func (s *Service) GetFarm(ctx context.Context, id, caller uuid.UUID) (*domain.Farm, error) {
	farm, err := s.FarmRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return farm.ViewFor(caller), nil
}

// GetOwnedFarm ферма, принадлежащая caller; для чужой ErrAuthorization
func (s *Service) GetOwnedFarm(ctx context.Context, id, caller uuid.UUID) (*domain.Farm, error) {
	farm, err := s.FarmRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !farm.OwnedBy(caller) {
		return nil, fmt.Errorf("farm %s: %w", id, domain.ErrAuthorization)
	}
	return farm, nil
}
