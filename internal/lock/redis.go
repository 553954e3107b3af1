package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// Сравнить токен и удалить ключ атомарно: чужую блокировку
// (перехваченную после истечения нашего lease) снимать нельзя.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisLocker — распределённая блокировка фоновых задач поверх Redis.
// Acquire ставит ключ через SET NX PX со случайным токеном владельца;
// Release снимает ключ только если токен совпадает. Lease истекает сам,
// поэтому упавший экземпляр не держит блокировку вечно.
type redisLocker struct {
	client *redis.Client
	prefix string
	logger *log.Entry

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLocker создаёт Redis-реализацию JobLocker.
func NewRedisLocker(client *redis.Client, prefix string, logger *log.Entry) domain.JobLocker {
	return &redisLocker{
		client: client,
		prefix: prefix,
		logger: logger.WithField("component", "job_locker"),
		tokens: make(map[string]string),
	}
}

func (l *redisLocker) Acquire(ctx context.Context, name string, lease time.Duration) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key(name), token, lease).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	if !ok {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[name] = token
	l.mu.Unlock()

	l.logger.WithFields(log.Fields{
		"lock":  name,
		"lease": lease.String(),
	}).Debug("lock acquired")
	return true, nil
}

func (l *redisLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, held := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()

	if !held {
		return nil
	}

	released, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	if released == 0 {
		// Lease истёк и ключ успел перехватить другой экземпляр.
		l.logger.WithField("lock", name).Warn("lock already expired on release")
	}
	return nil
}

func (l *redisLocker) key(name string) string {
	return l.prefix + ":lock:" + name
}

var _ domain.JobLocker = (*redisLocker)(nil)
