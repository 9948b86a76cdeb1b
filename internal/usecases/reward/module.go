package reward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/repository"
	"github.com/google/uuid"
)

type Config struct {
	Amount   int64  `envconfig:"AMOUNT" default:"1"`
	Timezone string `envconfig:"TIMEZONE" default:"UTC"`
}

// Service ежедневный бонус: не больше одного начисления в календарный день
type Service struct {
	RewardRepo repository.IRewardRepo
	Cfg        Config
	Location   *time.Location
	Log        *slog.Logger
	Now        func() time.Time
}

func New(rewardRepo repository.IRewardRepo, cfg Config, log *slog.Logger) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reward timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.Amount <= 0 {
		return nil, fmt.Errorf("reward amount must be positive, got %d", cfg.Amount)
	}
	return &Service{
		RewardRepo: rewardRepo,
		Cfg:        cfg,
		Location:   loc,
		Log:        log,
		Now:        time.Now,
	}, nil
}

func (s *Service) today() time.Time {
	return domain.CalendarDay(s.Now(), s.Location)
}

// ClaimDaily начисляет бонус, если сегодня он ещё не выдавался
func (s *Service) ClaimDaily(ctx context.Context, userID uuid.UUID) (*domain.RewardClaim, error) {
	day := s.today()
	entry, err := domain.NewCredit(userID, s.Cfg.Amount, domain.ReasonDailyLoginBonus, s.Now())
	if err != nil {
		return nil, err
	}

	granted, balance, err := s.RewardRepo.Claim(ctx, userID, day, entry)
	if err != nil {
		return nil, err
	}
	if granted {
		s.Log.Info("daily reward granted", "user_id", userID, "day", day.Format(time.DateOnly), "balance", balance)
	} else {
		s.Log.Debug("daily reward already claimed", "user_id", userID, "day", day.Format(time.DateOnly))
	}
	return &domain.RewardClaim{Granted: granted, Balance: balance, Day: day}, nil
}

// Status день последнего бонуса и доступен ли бонус сегодня
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*domain.RewardStatus, error) {
	last, err := s.RewardRepo.LastClaimDay(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := s.today()
	return &domain.RewardStatus{
		LastClaimDay:   last,
		Today:          today,
		ClaimableToday: last == nil || !last.Equal(today),
	}, nil
}
