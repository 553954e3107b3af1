package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// Количество ключей, запрашиваемых за одну итерацию SCAN при
// префиксной инвалидации.
const scanBatchSize = 200

// redisCache — Redis-реализация domain.Cache. Все ключи получают общий
// namespace-префикс, чтобы несколько сервисов могли делить один
// инстанс Redis.
type redisCache struct {
	client    *redis.Client
	namespace string
	logger    *log.Entry
}

// NewRedis создаёт Redis-кэш поверх готового клиента.
func NewRedis(client *redis.Client, namespace string, logger *log.Entry) domain.Cache {
	return &redisCache{
		client:    client,
		namespace: namespace,
		logger:    logger.WithField("component", "redis_cache"),
	}
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.namespaced(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = c.namespaced(key)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePrefix удаляет все ключи с данным префиксом через SCAN.
// KEYS не используется: на больших базах он блокирует Redis.
func (c *redisCache) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := c.namespaced(prefix) + "*"

	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del by prefix %q: %w", prefix, err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if removed > 0 {
		c.logger.WithFields(log.Fields{
			"prefix":  prefix,
			"removed": removed,
		}).Debug("cache prefix evicted")
	}
	return nil
}

func (c *redisCache) namespaced(key string) string {
	return c.namespace + ":" + key
}

var _ domain.Cache = (*redisCache)(nil)
