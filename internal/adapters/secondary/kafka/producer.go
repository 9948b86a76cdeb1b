package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

const contentTypeHeader = "content-type"

// Producer синхронно публикует JSON-события в один топик
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

// NewProducer ждёт подтверждения от всех реплик; retries внутри sarama
func NewProducer(cfg *Config, log *slog.Logger) (*Producer, error) {
	sc := cfg.SaramaConfig("farm-insights-producer")
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	sp, err := sarama.NewSyncProducer(cfg.GetBrokers(), sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer for topic %s: %w", cfg.Topic, err)
	}
	log.Info("kafka producer ready", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return newProducer(sp, cfg, log), nil
}

func newProducer(sp sarama.SyncProducer, cfg *Config, log *slog.Logger) *Producer {
	return &Producer{
		producer: sp,
		topic:    cfg.Topic,
		log:      log.With("topic", cfg.Topic),
	}
}

// Send публикует value с ключом партиционирования key.
// sarama.SyncProducer не принимает контекст, поэтому отмена проверяется до отправки.
func (p *Producer) Send(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(p.message(key, value))
	if err != nil {
		return fmt.Errorf("kafka send failed [topic=%s, key=%s]: %w", p.topic, key, err)
	}

	p.log.Debug("event published", "key", key, "partition", partition, "offset", offset)
	return nil
}

func (p *Producer) message(key string, value []byte) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now().UTC(),
		Headers: []sarama.RecordHeader{
			{Key: []byte(contentTypeHeader), Value: []byte("application/json")},
		},
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	p.log.Info("kafka producer closed")
	return nil
}
