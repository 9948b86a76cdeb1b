package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/ports/cache"
	"github.com/redis/go-redis/v9"
)

// Client реализует cache.Cache поверх redis.Client, все ключи с общим префиксом
type Client struct {
	client *redis.Client
	prefix string
}

func NewClient(client *redis.Client, prefix string) *Client {
	return &Client{
		client: client,
		prefix: prefix,
	}
}

// Get значение по ключу; cache.ErrMiss, если ключа нет
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (c *Client) Version(ctx context.Context, versionKey string) (int64, error) {
	v, err := c.client.Get(ctx, c.prefix+versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

func (c *Client) Bump(ctx context.Context, versionKey string, ttl time.Duration, keys ...string) error {
	vk := c.prefix + versionKey
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vk)
		if ttl > 0 {
			pipe.Expire(ctx, vk, ttl)
		}
		if len(keys) > 0 {
			full := make([]string, len(keys))
			for i, k := range keys {
				full[i] = c.prefix + k
			}
			pipe.Del(ctx, full...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis bump version failed: %w", err)
	}
	return nil
}

var errVersionChanged = errors.New("version changed")

// SetIfVersion WATCH на versionKey: MULTI/EXEC не выполнится, если версию подняли между чтением и записью
func (c *Client) SetIfVersion(ctx context.Context, versionKey string, version int64, key, value string, ttl time.Duration) (bool, error) {
	vk := c.prefix + versionKey
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return errVersionChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.prefix+key, value, ttl)
			return nil
		})
		return err
	}, vk)
	if errors.Is(err, errVersionChanged) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis conditional set failed: %w", err)
	}
	return true, nil
}

// Ping для проверки готовности
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}

var _ cache.Cache = (*Client)(nil)
