package rewardRepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/persistence"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	ledgerRepo "github.com/admin/agro-bots/farm-insights/internal/repository/ledger"
	"github.com/google/uuid"
)

type Repository struct {
	db  persistence.Transactor
	Log *slog.Logger
}

// New создаёт новый репозиторий ежедневных бонусов
func New(db persistence.Transactor, log *slog.Logger) ports.IRewardRepo {
	return &Repository{db: db, Log: log}
}

// Claim compare-and-set по last_claim_day и начисление в одной транзакции
func (r *Repository) Claim(ctx context.Context, userID uuid.UUID, day time.Time, entry *domain.LedgerEntry) (bool, int64, error) {
	var (
		granted bool
		balance int64
	)
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		if err := tx.Exec(ctx,
			`INSERT INTO user_rewards (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return fmt.Errorf("failed to ensure reward row: %w", err)
		}

		affected, err := tx.ExecWithResult(ctx, `
			UPDATE user_rewards SET last_claim_day = $2::date
			WHERE user_id = $1 AND last_claim_day IS DISTINCT FROM $2::date`, userID, day.Format(time.DateOnly))
		if err != nil {
			return fmt.Errorf("failed to mark claim day: %w", err)
		}
		if affected == 0 {
			return tx.Get(ctx, &balance, `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`, userID)
		}

		granted = true
		balance, err = ledgerRepo.AppendTx(ctx, tx, entry, false)
		return err
	})
	if err != nil {
		r.Log.Error("failed to claim daily reward", "error", err, "user_id", userID, "day", day.Format(time.DateOnly))
		return false, 0, fmt.Errorf("failed to claim daily reward: %w", err)
	}
	r.Log.Debug("daily reward claim processed", "user_id", userID, "granted", granted, "balance", balance)
	return granted, balance, nil
}

// LastClaimDay день последнего бонуса
func (r *Repository) LastClaimDay(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var day sql.NullTime
	err := r.db.Get(ctx, &day, `SELECT last_claim_day FROM user_rewards WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.Log.Error("failed to get last claim day", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get last claim day: %w", err)
	}
	if !day.Valid {
		return nil, nil
	}
	d := time.Date(day.Time.Year(), day.Time.Month(), day.Time.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}
