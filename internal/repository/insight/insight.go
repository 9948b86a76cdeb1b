package insightRepo

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

const columns = `id, user_id, farm_id, input_text, input_image_ref, status,
	response_text, error_message, cost_debited, created_at, completed_at`

type Repository struct {
	db  persistence.Transactor
	Log *slog.Logger
}

// New создаёт новый репозиторий запросов к модели
func New(db persistence.Transactor, log *slog.Logger) ports.IInsightRepo {
	return &Repository{db: db, Log: log}
}

// Create списывает токены и сохраняет запрос в одной транзакции
func (r *Repository) Create(ctx context.Context, req *domain.InsightRequest, debit *domain.LedgerEntry) error {
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		if debit != nil {
			if _, err := ledgerRepo.AppendTx(ctx, tx, debit, true); err != nil {
				return err
			}
		}
		return tx.NamedExec(ctx, `
			INSERT INTO insight_requests (`+columns+`)
			VALUES (:id, :user_id, :farm_id, :input_text, :input_image_ref, :status,
				:response_text, :error_message, :cost_debited, :created_at, :completed_at)`, req)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			r.Log.Debug("insight request rejected", "user_id", req.UserID, "error", err)
			return err
		}
		r.Log.Error("failed to create insight request", "error", err, "request_id", req.ID, "user_id", req.UserID)
		return fmt.Errorf("failed to create insight request: %w", err)
	}
	r.Log.Debug("insight request created", "request_id", req.ID, "user_id", req.UserID)
	return nil
}

// Complete условный переход pending -> terminal вместе с возвратом токенов.
// Второй переход не пройдёт по WHERE, поэтому возврат случится не больше одного раза.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, outcome domain.InsightOutcome, refund *domain.LedgerEntry) (*domain.InsightRequest, error) {
	var (
		req     domain.InsightRequest
		missing bool
	)
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		err := tx.Get(ctx, &req, `
			UPDATE insight_requests
			SET status = $2, response_text = $3, error_message = $4, completed_at = $5
			WHERE id = $1 AND status = 'pending'
			RETURNING `+columns,
			id, outcome.Status, outcome.ResponseText, outcome.ErrorMessage, outcome.CompletedAt)
		if errors.Is(err, sql.ErrNoRows) {
			missing = true
			return nil
		}
		if err != nil {
			return err
		}
		if refund != nil {
			if _, err := ledgerRepo.AppendTx(ctx, tx, refund, false); err != nil {
				return fmt.Errorf("failed to refund: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.Log.Error("failed to complete insight request", "error", err, "request_id", id)
		return nil, fmt.Errorf("failed to complete insight request: %w", err)
	}
	if !missing {
		r.Log.Debug("insight request completed", "request_id", id, "status", outcome.Status, "refunded", refund != nil)
		return &req, nil
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Log.Warn("insight request already completed", "request_id", id, "status", existing.Status)
	return nil, fmt.Errorf("insight request %s is %s: %w", id, existing.Status, domain.ErrConflict)
}

// GetByID получает запрос по ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.InsightRequest, error) {
	var req domain.InsightRequest
	err := r.db.Get(ctx, &req, `SELECT `+columns+` FROM insight_requests WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.Log.Warn("insight request not found", "request_id", id)
			return nil, fmt.Errorf("insight request %s: %w", id, domain.ErrNotFound)
		}
		r.Log.Error("failed to get insight request", "error", err, "request_id", id)
		return nil, fmt.Errorf("failed to get insight request: %w", err)
	}
	return &req, nil
}

// ListByUser запросы пользователя от новых к старым
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.InsightRequest, error) {
	var reqs []*domain.InsightRequest
	err := r.db.Select(ctx, &reqs, `
		SELECT `+columns+` FROM insight_requests
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		r.Log.Error("failed to list insight requests", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list insight requests: %w", err)
	}
	return reqs, nil
}

// ListStalePending зависшие в pending запросы, старые первыми
func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.InsightRequest, error) {
	var reqs []*domain.InsightRequest
	err := r.db.Select(ctx, &reqs, `
		SELECT `+columns+` FROM insight_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, olderThan, limit)
	if err != nil {
		r.Log.Error("failed to list stale insight requests", "error", err)
		return nil, fmt.Errorf("failed to list stale insight requests: %w", err)
	}
	return reqs, nil
}
