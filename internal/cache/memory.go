package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// memoryCache — in-memory реализация domain.Cache для локальной
// разработки и тестов. TTL проверяется лениво при чтении.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory возвращает in-memory кэш.
func NewMemory() domain.Cache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
	return nil
}

// Len возвращает количество записей; используется в тестах.
func (c *memoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ domain.Cache = (*memoryCache)(nil)
