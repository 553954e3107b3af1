package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// orderRepositoryInMemory — in-memory реализация OrderRepository для
// локальной разработки и тестов.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// GetByID возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) GetByID(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepositoryInMemory) List(ctx context.Context, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{}, page)
}

func (r *orderRepositoryInMemory) ListByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{CustomerID: &customerID}, page)
}

func (r *orderRepositoryInMemory) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{Status: &status}, page)
}

func (r *orderRepositoryInMemory) ListByCustomerAndStatus(ctx context.Context, customerID string, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return r.Search(ctx, domain.SearchFilter{CustomerID: &customerID, Status: &status}, page)
}

func (r *orderRepositoryInMemory) Search(_ context.Context, filter domain.SearchFilter, page domain.Page) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if matchesFilter(order, filter) {
			matched = append(matched, order)
		}
	}

	sortNewestFirst(matched)

	size := page.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	number := page.Number
	if number < 0 {
		number = 0
	}

	total := int64(len(matched))
	start := number * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	pageOrders := make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		pageOrders = append(pageOrders, cloneOrder(order))
	}

	return domain.OrderPage{
		Orders:     pageOrders,
		TotalCount: total,
		Number:     number,
		Size:       size,
	}, nil
}

func (r *orderRepositoryInMemory) ExistsForCustomer(_ context.Context, orderID, customerID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[orderID]
	return ok && order.CustomerID == customerID, nil
}

// AdvancePendingOlderThan находит батч PENDING-заказов, созданных раньше
// cutoff, и переводит их в новый статус. Выборка и перевод выполняются
// под одним захватом мьютекса — аналог однооператорного UPDATE с
// SKIP LOCKED в PostgreSQL: строка достаётся ровно одному вызову.
func (r *orderRepositoryInMemory) AdvancePendingOlderThan(_ context.Context, cutoff time.Time, batchSize int, status domain.OrderStatus, updatedAt time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eligible := make([]domain.Order, 0, batchSize)
	for _, order := range r.items {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if !order.CreatedAt.Before(cutoff) {
			continue
		}
		eligible = append(eligible, order)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	if batchSize > 0 && len(eligible) > batchSize {
		eligible = eligible[:batchSize]
	}

	result := make([]domain.Order, 0, len(eligible))
	for _, order := range eligible {
		order.Status = status
		order.UpdatedAt = updatedAt
		order.Version++
		r.items[order.ID] = cloneOrder(order)
		result = append(result, cloneOrder(order))
	}

	return result, nil
}

func (r *orderRepositoryInMemory) DeleteCancelledBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, order := range r.items {
		if order.Status != domain.OrderStatusCancelled {
			continue
		}
		if order.CancelledAt == nil || !order.CancelledAt.Before(cutoff) {
			continue
		}
		delete(r.items, id)
		deleted++
	}
	return deleted, nil
}

func (r *orderRepositoryInMemory) StatisticsByCustomer(_ context.Context, customerID string) (domain.CustomerStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.CustomerStatistics{
		CustomerID:    customerID,
		CountByStatus: make(map[domain.OrderStatus]int64, len(domain.AllOrderStatuses)),
	}
	for _, status := range domain.AllOrderStatuses {
		stats.CountByStatus[status] = 0
	}

	var total int64
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		stats.TotalOrders++
		stats.CountByStatus[order.Status]++
		total += order.TotalAmountMinor
	}
	stats.TotalAmountMinor = total
	if stats.TotalOrders > 0 {
		stats.AverageAmountMinor = float64(total) / float64(stats.TotalOrders)
	}

	return stats, nil
}

func matchesFilter(order domain.Order, filter domain.SearchFilter) bool {
	if filter.CustomerID != nil && order.CustomerID != *filter.CustomerID {
		return false
	}
	if filter.Status != nil && order.Status != *filter.Status {
		return false
	}
	if filter.CreatedFrom != nil && order.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedTo != nil && order.CreatedAt.After(*filter.CreatedTo) {
		return false
	}
	if filter.MinAmountMinor != nil && order.TotalAmountMinor < *filter.MinAmountMinor {
		return false
	}
	if filter.MaxAmountMinor != nil && order.TotalAmountMinor > *filter.MaxAmountMinor {
		return false
	}
	return true
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = make([]domain.OrderItem, len(order.Items))
	copy(clone.Items, order.Items)
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
