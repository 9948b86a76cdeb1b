package repository

import (
	"context"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

// ILedgerRepo интерфейс журнала токенов
type ILedgerRepo interface {
	// Append добавляет запись без проверки баланса (начисления)
	Append(ctx context.Context, entry *domain.LedgerEntry) (balance int64, err error)
	// Debit добавляет отрицательную запись, если баланс не уйдёт в минус.
	// Проверка и запись атомарны в пределах пользователя.
	Debit(ctx context.Context, entry *domain.LedgerEntry) (balance int64, err error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	// History записи пользователя от новых к старым
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error)
	// OpenAccount создаёт счёт и начисляет grant, если счёта ещё не было
	OpenAccount(ctx context.Context, userID uuid.UUID, grant *domain.LedgerEntry) (opened bool, err error)
	// Accounts сохранённые балансы счетов вместе с балансом по журналу
	Accounts(ctx context.Context) ([]domain.AccountBalance, error)
	// RepairAccount выставляет сохранённый баланс равным балансу по журналу
	RepairAccount(ctx context.Context, userID uuid.UUID) error
}
