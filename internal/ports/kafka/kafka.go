package kafka

import "context"

// MessageHandler разбирает одно сообщение топика.
// Ошибки из domain.IsBusinessError означают, что повтор не поможет.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, value []byte) error
}

// IEventPublisher публикует событие; key выбирает партицию
type IEventPublisher interface {
	Send(ctx context.Context, key string, value []byte) error
}
