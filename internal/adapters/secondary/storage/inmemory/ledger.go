package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

type ledgerRepo Store

func (r *ledgerRepo) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	unlock := r.userLocks.Lock(entry.UserID)
	defer unlock()
	return (*Store)(r).appendLocked(entry, false)
}

func (r *ledgerRepo) Debit(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	unlock := r.userLocks.Lock(entry.UserID)
	defer unlock()
	return (*Store)(r).appendLocked(entry, true)
}

// appendLocked вызывается под userLocks пользователя записи
func (s *Store) appendLocked(entry *domain.LedgerEntry, requireCover bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendHeld(entry, requireCover)
}

// appendHeld вызывается под userLocks и s.mu
func (s *Store) appendHeld(entry *domain.LedgerEntry, requireCover bool) (int64, error) {
	balance := domain.Replay(s.entries[entry.UserID])
	next := balance + entry.Delta
	if requireCover && next < 0 {
		return 0, fmt.Errorf("balance %d, requested %d: %w", balance, -entry.Delta, domain.ErrInsufficientBalance)
	}

	stored := *entry
	s.entries[entry.UserID] = append(s.entries[entry.UserID], &stored)
	acc, ok := s.accounts[entry.UserID]
	if !ok {
		acc = &account{}
		s.accounts[entry.UserID] = acc
	}
	acc.memo = next
	return next, nil
}

func (r *ledgerRepo) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Replay(r.entries[userID]), nil
}

func (r *ledgerRepo) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	r.mu.RLock()
	entries := r.entries[userID]
	out := make([]*domain.LedgerEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := *entries[i]
		out = append(out, &e)
	}
	r.mu.RUnlock()

	// порядок добавления уже от старых к новым; stable сохраняет его при равных created_at
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ledgerRepo) OpenAccount(ctx context.Context, userID uuid.UUID, grant *domain.LedgerEntry) (bool, error) {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	acc, ok := r.accounts[userID]
	if !ok {
		acc = &account{memo: domain.Replay(r.entries[userID])}
		r.accounts[userID] = acc
	}
	if acc.opened {
		r.mu.Unlock()
		return false, nil
	}
	acc.opened = true
	r.mu.Unlock()

	if grant == nil {
		return true, nil
	}
	if _, err := (*Store)(r).appendLocked(grant, false); err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) Accounts(ctx context.Context) ([]domain.AccountBalance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AccountBalance, 0, len(r.accounts))
	for userID, acc := range r.accounts {
		out = append(out, domain.AccountBalance{
			UserID:   userID,
			Memo:     acc.memo,
			Replayed: domain.Replay(r.entries[userID]),
		})
	}
	return out, nil
}

func (r *ledgerRepo) RepairAccount(ctx context.Context, userID uuid.UUID) error {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return fmt.Errorf("ledger account %s: %w", userID, domain.ErrNotFound)
	}
	acc.memo = domain.Replay(r.entries[userID])
	return nil
}

// CorruptMemo портит сохранённый баланс; используется в тестах сверки
func (s *Store) CorruptMemo(userID uuid.UUID, memo int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[userID]; ok {
		acc.memo = memo
	}
}
