package inmemory

import (
	"context"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/google/uuid"
)

type rewardRepo Store

// Claim проверка дня и начисление под замком пользователя, тем же, что у списаний
func (r *rewardRepo) Claim(ctx context.Context, userID uuid.UUID, day time.Time, entry *domain.LedgerEntry) (bool, int64, error) {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.RLock()
	last, ok := r.lastClaim[userID]
	balance := domain.Replay(r.entries[userID])
	r.mu.RUnlock()
	if ok && last.Equal(day) {
		return false, balance, nil
	}

	balance, err := (*Store)(r).appendLocked(entry, false)
	if err != nil {
		return false, 0, err
	}

	r.mu.Lock()
	r.lastClaim[userID] = day
	r.mu.Unlock()
	return true, balance, nil
}

func (r *rewardRepo) LastClaimDay(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	last, ok := r.lastClaim[userID]
	if !ok {
		return nil, nil
	}
	return &last, nil
}
