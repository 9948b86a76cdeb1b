package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	kafkaAdapter "github.com/admin/agro-bots/farm-insights/internal/adapters/secondary/kafka"
	"github.com/admin/agro-bots/farm-insights/internal/domain"
	kafkaPorts "github.com/admin/agro-bots/farm-insights/internal/ports/kafka"
)

// Consumer читает топик в составе consumer group и передаёт сообщения handler
type Consumer struct {
	consumer sarama.ConsumerGroup
	cfg      *kafkaAdapter.Config
	handler  kafkaPorts.MessageHandler
	log      *slog.Logger
}

// NewConsumer создаёт новый Kafka consumer
func NewConsumer(cfg *kafkaAdapter.Config, handler kafkaPorts.MessageHandler, log *slog.Logger) (*Consumer, error) {
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer for topic %s: consumer group is required", cfg.Topic)
	}
	config := cfg.SaramaConfig("farm-insights-consumer")
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup(cfg.GetBrokers(), cfg.ConsumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	log.Info("kafka consumer created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"consumer_group", cfg.ConsumerGroup,
	)

	return &Consumer{
		consumer: consumer,
		cfg:      cfg,
		handler:  handler,
		log:      log,
	}, nil
}

const (
	minRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

// Start читает топик до отмены ctx; Consume возвращается при каждой ребалансировке
func (c *Consumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler:      c.handler,
		log:          c.log,
		topic:        c.cfg.Topic,
		retryBackoff: minRetryBackoff,
	}

	for {
		if err := c.consumer.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.log.Error("error from consumer",
				"error", err,
				"topic", c.cfg.Topic,
			)
			return fmt.Errorf("consumer error: %w", err)
		}
		if ctx.Err() != nil {
			c.log.Info("kafka consumer stopping", "topic", c.cfg.Topic)
			return nil
		}
	}
}

// Close закрывает consumer
func (c *Consumer) Close() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.log.Info("kafka consumer closed", "topic", c.cfg.Topic)
	return nil
}

// consumerGroupHandler реализует sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	handler      kafkaPorts.MessageHandler
	log          *slog.Logger
	topic        string
	retryBackoff time.Duration
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.log.Info("kafka consumer group session setup", "topic", h.topic)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("kafka consumer group session cleanup", "topic", h.topic)
	return nil
}

// ConsumeClaim обрабатывает сообщения из Kafka
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			// offset следующего сообщения коммитит и это, поэтому дальше идём только после успеха
			if !h.deliver(session.Context(), message) {
				return nil
			}
			session.MarkMessage(message, "")
		}
	}
}

// deliver повторяет инфраструктурные ошибки с экспоненциальной паузой.
// false, если сессия закончилась раньше: сообщение перечитает следующая сессия.
func (h *consumerGroupHandler) deliver(ctx context.Context, message *sarama.ConsumerMessage) bool {
	delay := h.retryBackoff
	for {
		if h.process(ctx, message) {
			return true
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryBackoff)
	}
}

// process true, если offset можно закоммитить. Бизнес-ошибки не исправятся повтором,
// такие сообщения пропускаются.
func (h *consumerGroupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) bool {
	key := string(message.Key)
	err := h.handler.HandleMessage(ctx, key, message.Value)
	if err == nil {
		return true
	}
	if domain.IsBusinessError(err) {
		h.log.Warn("kafka message rejected",
			"error", err,
			"topic", message.Topic,
			"key", key,
			"offset", message.Offset,
		)
		return true
	}
	h.log.Error("failed to handle kafka message",
		"error", err,
		"topic", message.Topic,
		"key", key,
		"partition", message.Partition,
		"offset", message.Offset,
	)
	return false
}
