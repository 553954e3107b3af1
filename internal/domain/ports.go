package domain

import (
	"context"
	"time"
)

// Cache описывает key-value кэш с TTL и массовой инвалидацией по префиксу.
// Репозиторий всегда остаётся источником истины: содержимое кэша не
// считается авторитетным ни одним из потребителей.
type Cache interface {
	// Get возвращает значение и флаг попадания. Промах — не ошибка.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set сохраняет значение с ограниченным временем жизни.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет перечисленные ключи; отсутствующие ключи игнорируются.
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix удаляет все ключи с заданным префиксом. Используется
	// для тегов с неограниченным пространством ключей (поиск, статистика).
	DeletePrefix(ctx context.Context, prefix string) error
}

// JobLocker — межэкземплярная взаимная блокировка по имени задачи.
// Lease ограничивает время удержания независимо от живости держателя,
// чтобы упавший экземпляр не блокировал задачу навсегда.
type JobLocker interface {
	// Acquire пытается захватить блокировку; false без ошибки означает,
	// что задачу уже выполняет другой экземпляр.
	Acquire(ctx context.Context, name string, lease time.Duration) (bool, error)
	// Release освобождает блокировку, если она всё ещё принадлежит
	// текущему держателю.
	Release(ctx context.Context, name string) error
}

// Типы событий жизненного цикла заказа.
const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCancelled     = "OrderCancelled"
)

// OrderEvent — уведомление о событии жизненного цикла заказа.
type OrderEvent struct {
	Type       string      `json:"type"`
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Status     OrderStatus `json:"status"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventPublisher публикует события заказа наружу. Публикация best-effort:
// сбой публикации не должен приводить к сбою бизнес-операции.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}
