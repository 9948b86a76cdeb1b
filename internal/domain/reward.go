package domain

import "time"

// CalendarDay календарная дата момента t в зоне loc, как полночь UTC
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// RewardClaim результат попытки получить ежедневный бонус
type RewardClaim struct {
	Granted bool      `json:"granted"`
	Balance int64     `json:"balance"`
	Day     time.Time `json:"day"`
}

// RewardStatus состояние ежедневного бонуса пользователя
type RewardStatus struct {
	LastClaimDay   *time.Time `json:"last_claim_day,omitempty"`
	Today          time.Time  `json:"today"`
	ClaimableToday bool       `json:"claimable_today"`
}
