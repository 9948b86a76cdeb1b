package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss ключ отсутствует в кэше
var ErrMiss = errors.New("cache miss")

// Cache интерфейс для работы с кэшем
type Cache interface {
	// Get возвращает ErrMiss, если ключа нет
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Version счётчик ключа versionKey; 0, если его нет
	Version(ctx context.Context, versionKey string) (int64, error)
	// Bump атомарно увеличивает versionKey и удаляет keys
	Bump(ctx context.Context, versionKey string, ttl time.Duration, keys ...string) error
	// SetIfVersion пишет value, только если versionKey всё ещё равен version.
	// false без ошибки, если версию успели поднять.
	SetIfVersion(ctx context.Context, versionKey string, version int64, key, value string, ttl time.Duration) (bool, error)

	Close() error
}
