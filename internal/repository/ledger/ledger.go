package ledgerRepo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/persistence"
	ports "github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

const entryColumns = "id, user_id, delta, reason, created_at"

// Repository журнал токенов. Строка ledger_accounts служит замком пользователя:
// любое добавление записи берёт её FOR UPDATE.
type Repository struct {
	db  persistence.Transactor
	Log *slog.Logger
}

// New создаёт новый репозиторий журнала токенов
func New(db persistence.Transactor, log *slog.Logger) ports.ILedgerRepo {
	return &Repository{db: db, Log: log}
}

// Append добавляет начисление
func (r *Repository) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	var balance int64
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		var err error
		balance, err = AppendTx(ctx, tx, entry, false)
		return err
	})
	if err != nil {
		r.Log.Error("failed to append ledger entry", "error", err, "user_id", entry.UserID, "reason", entry.Reason)
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	r.Log.Debug("ledger entry appended", "user_id", entry.UserID, "delta", entry.Delta, "reason", entry.Reason)
	return balance, nil
}

// Debit списывает токены, если баланс позволяет
func (r *Repository) Debit(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	var balance int64
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		var err error
		balance, err = AppendTx(ctx, tx, entry, true)
		return err
	})
	if err != nil {
		if domain.IsBusinessError(err) {
			r.Log.Debug("debit rejected", "user_id", entry.UserID, "amount", -entry.Delta, "error", err)
			return 0, err
		}
		r.Log.Error("failed to debit", "error", err, "user_id", entry.UserID, "reason", entry.Reason)
		return 0, fmt.Errorf("failed to debit: %w", err)
	}
	r.Log.Debug("debit applied", "user_id", entry.UserID, "delta", entry.Delta, "balance", balance)
	return balance, nil
}

// AppendTx добавляет запись в переданной транзакции под блокировкой счёта.
// При requireCover отрицательный итог отклоняется с domain.ErrInsufficientBalance.
func AppendTx(ctx context.Context, tx persistence.Transaction, entry *domain.LedgerEntry, requireCover bool) (int64, error) {
	if err := tx.Exec(ctx,
		`INSERT INTO ledger_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		entry.UserID); err != nil {
		return 0, fmt.Errorf("failed to ensure account: %w", err)
	}

	var locked int64
	if err := tx.Get(ctx, &locked,
		`SELECT memo_balance FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`,
		entry.UserID); err != nil {
		return 0, fmt.Errorf("failed to lock account: %w", err)
	}

	var balance int64
	if err := tx.Get(ctx, &balance,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`,
		entry.UserID); err != nil {
		return 0, fmt.Errorf("failed to replay balance: %w", err)
	}

	next := balance + entry.Delta
	if requireCover && next < 0 {
		return 0, fmt.Errorf("balance %d, requested %d: %w", balance, -entry.Delta, domain.ErrInsufficientBalance)
	}

	if err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Delta, entry.Reason, entry.CreatedAt); err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Exec(ctx,
		`UPDATE ledger_accounts SET memo_balance = $2, updated_at = NOW() WHERE user_id = $1`,
		entry.UserID, next); err != nil {
		return 0, fmt.Errorf("failed to update account balance: %w", err)
	}
	return next, nil
}

// Balance сумма всех записей пользователя
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.Get(ctx, &balance, `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`, userID)
	if err != nil {
		r.Log.Error("failed to get balance", "error", err, "user_id", userID)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// History записи пользователя от новых к старым
func (r *Repository) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := r.db.Select(ctx, &entries, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		r.Log.Error("failed to get ledger history", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get ledger history: %w", err)
	}
	return entries, nil
}

// OpenAccount отмечает счёт открытым и начисляет grant ровно один раз
func (r *Repository) OpenAccount(ctx context.Context, userID uuid.UUID, grant *domain.LedgerEntry) (bool, error) {
	var opened bool
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		affected, err := tx.ExecWithResult(ctx, `
			INSERT INTO ledger_accounts (user_id, opened_at) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET opened_at = EXCLUDED.opened_at
			WHERE ledger_accounts.opened_at IS NULL`,
			userID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to open account: %w", err)
		}
		if affected == 0 {
			return nil
		}
		opened = true
		if grant == nil {
			return nil
		}
		_, err = AppendTx(ctx, tx, grant, false)
		return err
	})
	if err != nil {
		r.Log.Error("failed to open account", "error", err, "user_id", userID)
		return false, fmt.Errorf("failed to open account: %w", err)
	}
	if opened {
		r.Log.Info("ledger account opened", "user_id", userID)
	}
	return opened, nil
}

// Accounts сохранённые и пересчитанные балансы всех счетов одним снимком
func (r *Repository) Accounts(ctx context.Context) ([]domain.AccountBalance, error) {
	var accounts []domain.AccountBalance
	err := r.db.Select(ctx, &accounts, `
		SELECT a.user_id, a.memo_balance, COALESCE(SUM(e.delta), 0) AS replayed_balance
		FROM ledger_accounts a
		LEFT JOIN ledger_entries e ON e.user_id = a.user_id
		GROUP BY a.user_id, a.memo_balance`)
	if err != nil {
		r.Log.Error("failed to list ledger accounts", "error", err)
		return nil, fmt.Errorf("failed to list ledger accounts: %w", err)
	}
	return accounts, nil
}

// RepairAccount пересчитывает сохранённый баланс под блокировкой счёта
func (r *Repository) RepairAccount(ctx context.Context, userID uuid.UUID) error {
	err := r.db.WithTransaction(ctx, func(ctx context.Context, tx persistence.Transaction) error {
		var locked int64
		if err := tx.Get(ctx, &locked,
			`SELECT memo_balance FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
			return err
		}
		return tx.Exec(ctx, `
			UPDATE ledger_accounts
			SET memo_balance = (SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1),
			    updated_at = NOW()
			WHERE user_id = $1`, userID)
	})
	if err != nil {
		r.Log.Error("failed to repair ledger account", "error", err, "user_id", userID)
		return fmt.Errorf("failed to repair ledger account: %w", err)
	}
	return nil
}
