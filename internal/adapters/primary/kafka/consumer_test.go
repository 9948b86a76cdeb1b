package kafka

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/stretchr/testify/assert"
)

type handlerFunc func(ctx context.Context, key string, value []byte) error

func (f handlerFunc) HandleMessage(ctx context.Context, key string, value []byte) error {
	return f(ctx, key, value)
}

func TestConsumerGroupHandler_Process(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		commit bool
	}{
		{name: "handled", commit: true},
		{name: "business error skipped", err: domain.NewValidationError("kind", "unknown"), commit: true},
		{name: "not found skipped", err: domain.ErrNotFound, commit: true},
		{name: "infrastructure error retried", err: errors.New("db down"), commit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey string
			h := &consumerGroupHandler{
				handler: handlerFunc(func(_ context.Context, key string, _ []byte) error {
					gotKey = key
					return tt.err
				}),
				log:   slog.New(slog.DiscardHandler),
				topic: "observations",
			}
			msg := &sarama.ConsumerMessage{Topic: "observations", Key: []byte("farm-1"), Value: []byte("{}")}
			assert.Equal(t, tt.commit, h.process(context.Background(), msg))
			assert.Equal(t, "farm-1", gotKey)
		})
	}
}

func TestConsumerGroupHandler_DeliverRetriesInfrastructureErrors(t *testing.T) {
	attempts := 0
	h := &consumerGroupHandler{
		handler: handlerFunc(func(context.Context, string, []byte) error {
			attempts++
			if attempts < 3 {
				return errors.New("db down")
			}
			return nil
		}),
		log:          slog.New(slog.DiscardHandler),
		topic:        "observations",
		retryBackoff: time.Millisecond,
	}
	msg := &sarama.ConsumerMessage{Topic: "observations", Value: []byte("{}")}

	assert.True(t, h.deliver(context.Background(), msg))
	assert.Equal(t, 3, attempts)
}

func TestConsumerGroupHandler_DeliverStopsWithSession(t *testing.T) {
	h := &consumerGroupHandler{
		handler: handlerFunc(func(context.Context, string, []byte) error {
			return errors.New("db down")
		}),
		log:          slog.New(slog.DiscardHandler),
		topic:        "observations",
		retryBackoff: time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.False(t, h.deliver(ctx, &sarama.ConsumerMessage{Topic: "observations"}))
}
