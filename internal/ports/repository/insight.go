package repository

import (
	"context"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

// IInsightRepo интерфейс для работы с запросами к модели
type IInsightRepo interface {
	// Create сохраняет запрос и списывает debit одной операцией.
	// domain.ErrInsufficientBalance, если токенов не хватает; запрос при этом не создаётся.
	Create(ctx context.Context, request *domain.InsightRequest, debit *domain.LedgerEntry) error
	// Complete переводит запрос из pending в терминальный статус и, если refund != nil,
	// возвращает токены той же операцией. domain.ErrConflict, если запрос уже завершён.
	Complete(ctx context.Context, id uuid.UUID, outcome domain.InsightOutcome, refund *domain.LedgerEntry) (*domain.InsightRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.InsightRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.InsightRequest, error)
	// ListStalePending запросы в pending, созданные раньше olderThan
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.InsightRequest, error)
}
