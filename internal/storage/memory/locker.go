package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// lockerInMemory — внутрипроцессная реализация JobLocker. Годится для
// локальной разработки и тестов; в многоэкземплярной конфигурации
// используется распределённый lock (internal/lock).
type lockerInMemory struct {
	mu     sync.Mutex
	leases map[string]time.Time
}

// NewLocker возвращает in-memory реализацию JobLocker.
func NewLocker() domain.JobLocker {
	return &lockerInMemory{leases: make(map[string]time.Time)}
}

func (l *lockerInMemory) Acquire(_ context.Context, name string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.leases[name]; held && expiry.After(now) {
		return false, nil
	}
	l.leases[name] = now.Add(lease)
	return true, nil
}

func (l *lockerInMemory) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.leases, name)
	return nil
}

var _ domain.JobLocker = (*lockerInMemory)(nil)
