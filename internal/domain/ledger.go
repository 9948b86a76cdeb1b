package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Причины движения токенов
const (
	ReasonSignupGrant     = "signup-grant"
	ReasonDailyLoginBonus = "daily-login-bonus"
	ReasonInsightRequest  = "insight-request"
	ReasonInsightRefund   = "insight-request-failed-refund"
)

// LedgerEntry запись журнала токенов. Только добавление, delta != 0.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Delta     int64     `json:"delta" db:"delta"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func NewCredit(userID uuid.UUID, amount int64, reason string, now time.Time) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, NewValidationError("amount", "must be positive")
	}
	return newEntry(userID, amount, reason, now)
}

func NewDebit(userID uuid.UUID, amount int64, reason string, now time.Time) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, NewValidationError("amount", "must be positive")
	}
	return newEntry(userID, -amount, reason, now)
}

func newEntry(userID uuid.UUID, delta int64, reason string, now time.Time) (*LedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, NewValidationError("user_id", "must be set")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, NewValidationError("reason", "must not be empty")
	}
	return &LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}, nil
}

// Replay баланс как сумма всех delta
func Replay(entries []*LedgerEntry) int64 {
	var balance int64
	for _, e := range entries {
		balance += e.Delta
	}
	return balance
}

// AccountBalance сохранённый баланс счёта и баланс по журналу
type AccountBalance struct {
	UserID   uuid.UUID `db:"user_id"`
	Memo     int64     `db:"memo_balance"`
	Replayed int64     `db:"replayed_balance"`
}

func (a AccountBalance) Consistent() bool {
	return a.Memo == a.Replayed
}
