package repository

import (
	"context"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

// IFarmRepo интерфейс для работы с фермами
type IFarmRepo interface {
	Create(ctx context.Context, farm *domain.Farm) error
	// GetByID возвращает domain.ErrNotFound, если фермы нет
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Farm, error)
	// List фермы владельца (owner != nil) или все, от новых к старым
	List(ctx context.Context, owner *uuid.UUID) ([]*domain.Farm, error)
	// Update блокирует ферму, вызывает mutate над копией и сохраняет результат атомарно
	Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Farm) error) (*domain.Farm, error)
	// Delete блокирует ферму, вызывает check и удаляет ферму вместе с наблюдениями
	Delete(ctx context.Context, id uuid.UUID, check func(*domain.Farm) error) error
}
