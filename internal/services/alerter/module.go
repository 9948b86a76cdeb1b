package alerter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/ports/service"
)

// Sender транспорт алертов (adapters/secondary/alerter)
type Sender interface {
	SendAlert(ctx context.Context, message string) error
}

// Service реализует IAlerterService: подписывает алерт источником
// и не повторяет одинаковый текст чаще, чем раз в cooldown.
type Service struct {
	sender   Sender
	source   string
	cooldown time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]time.Time
}

// New создаёт сервис алертов поверх sender; cooldown 0 отключает подавление
func New(sender Sender, source string, cooldown time.Duration, log *slog.Logger) service.IAlerterService {
	return &Service{
		sender:   sender,
		source:   source,
		cooldown: cooldown,
		log:      log,
		now:      time.Now,
		sent:     make(map[string]time.Time),
	}
}

// SendAlert отправляет алерт
func (s *Service) SendAlert(ctx context.Context, message string) error {
	if s.sender == nil {
		return fmt.Errorf("alerter sender is not initialized")
	}

	if s.suppressed(message) {
		s.log.Debug("duplicate alert suppressed", "cooldown", s.cooldown)
		return nil
	}

	text := message
	if s.source != "" {
		text = fmt.Sprintf("[%s]\n%s", s.source, message)
	}
	if err := s.sender.SendAlert(ctx, text); err != nil {
		s.forget(message)
		return err
	}
	return nil
}

func (s *Service) suppressed(message string) bool {
	if s.cooldown <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for msg, at := range s.sent {
		if now.Sub(at) >= s.cooldown {
			delete(s.sent, msg)
		}
	}
	if _, ok := s.sent[message]; ok {
		return true
	}
	s.sent[message] = now
	return false
}

func (s *Service) forget(message string) {
	s.mu.Lock()
	delete(s.sent, message)
	s.mu.Unlock()
}
