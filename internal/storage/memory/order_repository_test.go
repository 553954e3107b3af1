package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/storage/memory"
)

func newOrder(id, customerID string, status domain.OrderStatus, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: customerID,
		Status:     status,
		Currency:   "USD",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	order.AddItem(domain.OrderItem{
		ID:             id + "-item",
		ProductID:      "product-1",
		ProductName:    "Widget",
		Quantity:       1,
		UnitPriceMinor: 1000,
		CreatedAt:      createdAt,
	})
	return order
}

func TestOrderRepositoryCreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", "customer-1", domain.OrderStatusPending, time.Now().UTC())

	require.NoError(t, repo.Create(ctx, order))
	require.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderVersionConflict)

	got, err := repo.GetByID(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, order.CustomerID, got.CustomerID)
	require.Len(t, got.Items, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepositorySaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", "customer-1", domain.OrderStatusPending, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	fresh, err := repo.GetByID(ctx, "order-1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, fresh))

	// Повторное сохранение с устаревшей версией должно конфликтовать.
	require.ErrorIs(t, repo.Save(ctx, fresh), domain.ErrOrderVersionConflict)
}

// Конкурентные сохранения одной версии: ровно один победитель,
// остальные получают конфликт версий.
func TestOrderRepositoryConcurrentSaveSingleWinner(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	order := newOrder("order-1", "customer-1", domain.OrderStatusPending, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	stale, err := repo.GetByID(ctx, "order-1")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.Save(ctx, stale)
		}()
	}
	wg.Wait()
	close(results)

	winners, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case domain.IsVersionConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, winners)
	require.Equal(t, writers-1, conflicts)
}

func TestOrderRepositorySearchFilters(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, newOrder("order-1", "customer-1", domain.OrderStatusPending, base)))
	require.NoError(t, repo.Create(ctx, newOrder("order-2", "customer-1", domain.OrderStatusProcessing, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newOrder("order-3", "customer-2", domain.OrderStatusPending, base.Add(2*time.Minute))))

	customer := "customer-1"
	page, err := repo.Search(ctx, domain.SearchFilter{CustomerID: &customer}, domain.Page{Size: 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.TotalCount)
	// Сортировка: новые первыми.
	require.Equal(t, "order-2", page.Orders[0].ID)

	status := domain.OrderStatusPending
	page, err = repo.Search(ctx, domain.SearchFilter{Status: &status}, domain.Page{Size: 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.TotalCount)

	minAmount := int64(2000)
	page, err = repo.Search(ctx, domain.SearchFilter{MinAmountMinor: &minAmount}, domain.Page{Size: 10})
	require.NoError(t, err)
	require.EqualValues(t, 0, page.TotalCount)

	from := base.Add(90 * time.Second)
	page, err = repo.Search(ctx, domain.SearchFilter{CreatedFrom: &from}, domain.Page{Size: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.TotalCount)
	require.Equal(t, "order-3", page.Orders[0].ID)
}

func TestOrderRepositoryPagination(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("order-%d", i)
		require.NoError(t, repo.Create(ctx, newOrder(id, "customer-1", domain.OrderStatusPending, base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := repo.List(ctx, domain.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.EqualValues(t, 5, page.TotalCount)
	require.Len(t, page.Orders, 2)
	require.Equal(t, "order-2", page.Orders[0].ID)
	require.Equal(t, "order-1", page.Orders[1].ID)
}

func TestAdvancePendingOlderThan(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	// Созревший PENDING, свежий PENDING и заказ в другом статусе.
	require.NoError(t, repo.Create(ctx, newOrder("order-old", "customer-1", domain.OrderStatusPending, now.Add(-10*time.Minute))))
	require.NoError(t, repo.Create(ctx, newOrder("order-new", "customer-1", domain.OrderStatusPending, now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, newOrder("order-done", "customer-1", domain.OrderStatusDelivered, now.Add(-10*time.Minute))))

	advanced, err := repo.AdvancePendingOlderThan(ctx, now.Add(-5*time.Minute), 100, domain.OrderStatusProcessing, now)
	require.NoError(t, err)
	require.Len(t, advanced, 1)
	require.Equal(t, "order-old", advanced[0].ID)
	// Возвращается уже обновлённое состояние.
	require.Equal(t, domain.OrderStatusProcessing, advanced[0].Status)

	order, err := repo.GetByID(ctx, "order-old")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.True(t, order.UpdatedAt.Equal(now))
	require.EqualValues(t, 1, order.Version)

	// Переведённая строка не возвращается повторным вызовом.
	again, err := repo.AdvancePendingOlderThan(ctx, now.Add(-5*time.Minute), 100, domain.OrderStatusProcessing, now)
	require.NoError(t, err)
	require.Empty(t, again)
}

// Параллельные вызовы должны разобрать созревшие строки без пересечений:
// каждая строка достаётся ровно одному вызову.
func TestAdvancePendingOlderThanConcurrentDisjoint(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	const eligible = 50
	for i := 0; i < eligible; i++ {
		id := fmt.Sprintf("order-%02d", i)
		require.NoError(t, repo.Create(ctx, newOrder(id, "customer-1", domain.OrderStatusPending, now.Add(-time.Hour))))
	}

	const workers = 8
	var wg sync.WaitGroup
	batches := make(chan []domain.Order, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := repo.AdvancePendingOlderThan(ctx, now, 10, domain.OrderStatusProcessing, now)
			require.NoError(t, err)
			batches <- batch
		}()
	}
	wg.Wait()
	close(batches)

	seen := make(map[string]int)
	advancedTotal := 0
	for batch := range batches {
		for _, order := range batch {
			seen[order.ID]++
			advancedTotal++
		}
	}

	// Ёмкости вызовов (8 x 10) хватает на все созревшие строки: каждая
	// переведена ровно один раз, ни одна не возвращена дважды.
	require.Equal(t, eligible, advancedTotal)
	for id, count := range seen {
		require.Equalf(t, 1, count, "order %s advanced more than once", id)
	}
}

func TestDeleteCancelledBefore(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	oldCancelled := newOrder("order-old", "customer-1", domain.OrderStatusPending, now.Add(-40*24*time.Hour))
	require.NoError(t, oldCancelled.Cancel("stale", "ops", now.Add(-35*24*time.Hour)))
	require.NoError(t, repo.Create(ctx, oldCancelled))

	freshCancelled := newOrder("order-fresh", "customer-1", domain.OrderStatusPending, now.Add(-2*24*time.Hour))
	require.NoError(t, freshCancelled.Cancel("recent", "ops", now.Add(-24*time.Hour)))
	require.NoError(t, repo.Create(ctx, freshCancelled))

	require.NoError(t, repo.Create(ctx, newOrder("order-live", "customer-1", domain.OrderStatusPending, now.Add(-40*24*time.Hour))))

	deleted, err := repo.DeleteCancelledBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, err = repo.GetByID(ctx, "order-old")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	for _, id := range []string{"order-fresh", "order-live"} {
		_, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
	}
}

func TestStatisticsByCustomer(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	first := newOrder("order-1", "customer-1", domain.OrderStatusPending, now)
	require.NoError(t, repo.Create(ctx, first))

	second := newOrder("order-2", "customer-1", domain.OrderStatusDelivered, now)
	second.Items[0].UnitPriceMinor = 3000
	second.Items[0].CalculateSubtotal()
	second.RecalculateTotal()
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, repo.Create(ctx, newOrder("order-3", "customer-2", domain.OrderStatusPending, now)))

	stats, err := repo.StatisticsByCustomer(ctx, "customer-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalOrders)
	require.EqualValues(t, 1, stats.CountByStatus[domain.OrderStatusPending])
	require.EqualValues(t, 1, stats.CountByStatus[domain.OrderStatusDelivered])
	require.EqualValues(t, 0, stats.CountByStatus[domain.OrderStatusCancelled])
	require.EqualValues(t, 4000, stats.TotalAmountMinor)
	require.InDelta(t, 2000, stats.AverageAmountMinor, 0.001)
}

func TestLockerLease(t *testing.T) {
	locker := memory.NewLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = locker.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	// После истечения lease блокировка снова доступна.
	time.Sleep(60 * time.Millisecond)
	ok, err = locker.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "job"))
	ok, err = locker.Acquire(ctx, "job", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
}
