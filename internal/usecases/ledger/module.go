package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
	"github.com/google/uuid"
)

const maxHistoryLimit = 500

type Config struct {
	SignupGrant  int64 `envconfig:"SIGNUP_GRANT" default:"100"`
	HistoryLimit int   `envconfig:"HISTORY_LIMIT" default:"50"`
}

// Service журнал токенов пользователя
type Service struct {
	LedgerRepo repository.ILedgerRepo
	Alerter    service.IAlerterService // может быть nil
	Cfg        Config
	Log        *slog.Logger
	Now        func() time.Time
}

func New(ledgerRepo repository.ILedgerRepo, alerter service.IAlerterService, cfg Config, log *slog.Logger) *Service {
	return &Service{
		LedgerRepo: ledgerRepo,
		Alerter:    alerter,
		Cfg:        cfg,
		Log:        log,
		Now:        time.Now,
	}
}

// Balance сумма всех записей пользователя
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.LedgerRepo.Balance(ctx, userID)
}

// Credit начисление; всегда проходит для валидного входа
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount int64, reason string) (*domain.LedgerEntry, error) {
	entry, err := domain.NewCredit(userID, amount, reason, s.Now())
	if err != nil {
		return nil, err
	}
	balance, err := s.LedgerRepo.Append(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.Log.Info("tokens credited", "user_id", userID, "amount", amount, "reason", entry.Reason, "balance", balance)
	return entry, nil
}

// Debit списание; ErrInsufficientBalance, если баланс уйдёт в минус
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, amount int64, reason string) (*domain.LedgerEntry, error) {
	entry, err := domain.NewDebit(userID, amount, reason, s.Now())
	if err != nil {
		return nil, err
	}
	balance, err := s.LedgerRepo.Debit(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.Log.Info("tokens debited", "user_id", userID, "amount", amount, "reason", entry.Reason, "balance", balance)
	return entry, nil
}

// History последние записи пользователя, от новых к старым
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = s.Cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.LedgerRepo.History(ctx, userID, limit)
}

// OpenAccount открывает счёт и однократно начисляет приветственные токены
func (s *Service) OpenAccount(ctx context.Context, userID uuid.UUID) (int64, bool, error) {
	var grant *domain.LedgerEntry
	if s.Cfg.SignupGrant > 0 {
		var err error
		grant, err = domain.NewCredit(userID, s.Cfg.SignupGrant, domain.ReasonSignupGrant, s.Now())
		if err != nil {
			return 0, false, err
		}
	}

	opened, err := s.LedgerRepo.OpenAccount(ctx, userID, grant)
	if err != nil {
		return 0, false, err
	}
	if opened {
		s.Log.Info("ledger account opened", "user_id", userID, "grant", s.Cfg.SignupGrant)
	}

	balance, err := s.LedgerRepo.Balance(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return balance, opened, nil
}

// Reconcile сверяет сохранённые балансы с журналом и чинит расхождения
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	accounts, err := s.LedgerRepo.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	repaired := 0
	for _, acc := range accounts {
		if acc.Consistent() {
			continue
		}
		s.Log.Error("ledger balance mismatch",
			"user_id", acc.UserID,
			"memo_balance", acc.Memo,
			"replayed_balance", acc.Replayed)

		if err := s.LedgerRepo.RepairAccount(ctx, acc.UserID); err != nil {
			return repaired, fmt.Errorf("repair account %s: %w", acc.UserID, err)
		}
		repaired++
	}

	if repaired > 0 && s.Alerter != nil {
		msg := fmt.Sprintf("⚠️ Ledger reconciliation repaired %d of %d accounts", repaired, len(accounts))
		if err := s.Alerter.SendAlert(ctx, msg); err != nil {
			s.Log.Warn("failed to send reconciliation alert", "error", err)
		}
	}
	s.Log.Info("ledger reconciliation finished", "accounts", len(accounts), "repaired", repaired)
	return repaired, nil
}
