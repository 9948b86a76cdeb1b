package repository

import (
	"context"
	"iter"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

// IObservationRepo интерфейс для работы с наблюдениями
type IObservationRepo interface {
	// CreateOrGet вставляет наблюдение; если (farm_id, kind, observed_at) уже есть,
	// возвращает существующую запись и created=false. ErrNotFound, если фермы нет.
	CreateOrGet(ctx context.Context, obs *domain.Observation) (stored *domain.Observation, created bool, err error)
	// Latest последнее наблюдение или nil
	Latest(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind) (*domain.Observation, error)
	// Range наблюдения в [from, to] по возрастанию observed_at; нулевая граница не ограничивает.
	// Каждый проход по последовательности выполняет запрос заново.
	Range(ctx context.Context, farmID uuid.UUID, kind domain.ObservationKind, from, to time.Time) iter.Seq2[*domain.Observation, error]
}
