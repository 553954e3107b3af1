package domain

import (
	"context"
	"time"
)

// Page задаёт параметры страничной выборки.
type Page struct {
	// Number — номер страницы, начиная с нуля.
	Number int
	// Size — размер страницы; значения <= 0 заменяются дефолтом хранилища.
	Size int
}

// OrderPage — страница заказов со сведениями о полном объёме выборки.
type OrderPage struct {
	Orders     []Order
	TotalCount int64
	Number     int
	Size       int
}

// SearchFilter описывает критерии поиска заказов. Nil-поле означает
// отсутствие фильтра по этому критерию.
type SearchFilter struct {
	CustomerID     *string
	Status         *OrderStatus
	CreatedFrom    *time.Time
	CreatedTo      *time.Time
	MinAmountMinor *int64
	MaxAmountMinor *int64
}

// CustomerStatistics — агрегированная статистика заказов клиента.
type CustomerStatistics struct {
	CustomerID         string
	TotalOrders        int64
	CountByStatus      map[OrderStatus]int64
	TotalAmountMinor   int64
	AverageAmountMinor float64
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями в одной транзакции.
	Create(ctx context.Context, order Order) error
	// GetByID возвращает заказ с позициями или ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// при несовпадении Version возвращает ErrOrderVersionConflict.
	Save(ctx context.Context, order Order) error

	// List возвращает все заказы постранично, новые первыми.
	List(ctx context.Context, page Page) (OrderPage, error)
	// ListByCustomer возвращает заказы клиента постранично.
	ListByCustomer(ctx context.Context, customerID string, page Page) (OrderPage, error)
	// ListByStatus возвращает заказы в заданном статусе постранично.
	ListByStatus(ctx context.Context, status OrderStatus, page Page) (OrderPage, error)
	// ListByCustomerAndStatus комбинирует оба фильтра.
	ListByCustomerAndStatus(ctx context.Context, customerID string, status OrderStatus, page Page) (OrderPage, error)
	// Search применяет произвольную комбинацию фильтров; отсутствующий
	// фильтр пропускает все строки.
	Search(ctx context.Context, filter SearchFilter, page Page) (OrderPage, error)

	// ExistsForCustomer проверяет принадлежность заказа клиенту.
	ExistsForCustomer(ctx context.Context, orderID, customerID string) (bool, error)

	// AdvancePendingOlderThan атомарно находит до batchSize PENDING-заказов,
	// созданных раньше cutoff, переводит их в status и возвращает
	// обновлённые заказы. Выборка и перевод выполняются как одна операция
	// под эксклюзивным неблокирующим захватом: строки, захваченные
	// параллельным вызовом, молча пропускаются, поэтому конкурирующие
	// воркеры получают непересекающиеся батчи и ни одна строка не
	// возвращается дважды — без внешней блокировки.
	AdvancePendingOlderThan(ctx context.Context, cutoff time.Time, batchSize int, status OrderStatus, updatedAt time.Time) ([]Order, error)
	// DeleteCancelledBefore удаляет отменённые заказы со временем отмены
	// раньше cutoff и возвращает количество удалённых.
	DeleteCancelledBefore(ctx context.Context, cutoff time.Time) (int, error)

	// StatisticsByCustomer возвращает количество, сумму и среднее по
	// заказам клиента, включая разбивку по статусам.
	StatisticsByCustomer(ctx context.Context, customerID string) (CustomerStatistics, error)
}

// UserRepository описывает требования к хранилищу пользователей.
type UserRepository interface {
	// Create сохраняет нового пользователя или возвращает ErrLoginTaken.
	Create(ctx context.Context, user User) error
	// GetByLogin возвращает пользователя или ErrUserNotFound.
	GetByLogin(ctx context.Context, login string) (User, error)
	// GetByID возвращает пользователя или ErrUserNotFound.
	GetByID(ctx context.Context, id string) (User, error)
}
