package repository

import (
	"context"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

// IRewardRepo интерфейс ежедневных бонусов
type IRewardRepo interface {
	// Claim атомарно отмечает day как день последнего бонуса и добавляет entry в журнал.
	// granted=false, если бонус за day уже выдан; журнал при этом не меняется.
	Claim(ctx context.Context, userID uuid.UUID, day time.Time, entry *domain.LedgerEntry) (granted bool, balance int64, err error)
	// LastClaimDay день последнего бонуса или nil
	LastClaimDay(ctx context.Context, userID uuid.UUID) (*time.Time, error)
}
