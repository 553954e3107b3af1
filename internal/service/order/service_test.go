package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/estore/internal/cache"
	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/metrics"
	"github.com/vladislavdragonenkov/estore/internal/service/order"
	"github.com/vladislavdragonenkov/estore/internal/storage/memory"
)

// countingRepo считает обращения к хранилищу, чтобы проверять, что
// повторные чтения обслуживаются кэшем.
type countingRepo struct {
	domain.OrderRepository

	mu       sync.Mutex
	getCalls int
}

func (r *countingRepo) GetByID(ctx context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	r.getCalls++
	r.mu.Unlock()
	return r.OrderRepository.GetByID(ctx, id)
}

func (r *countingRepo) gets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

// flakyRepo отдаёт транзиентную ошибку на первые failures чтений.
type flakyRepo struct {
	domain.OrderRepository

	mu       sync.Mutex
	failures int
}

func (r *flakyRepo) GetByID(ctx context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()

	if fail {
		return domain.Order{}, domain.ErrStorageUnavailable
	}
	return r.OrderRepository.GetByID(ctx, id)
}

// brokenRepo всегда недоступен.
type brokenRepo struct {
	domain.OrderRepository
}

func (r *brokenRepo) Create(context.Context, domain.Order) error {
	return domain.ErrStorageUnavailable
}

// failingCache имитирует полностью недоступный кэш.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) Delete(context.Context, ...string) error { return errors.New("cache down") }
func (failingCache) DeletePrefix(context.Context, string) error {
	return errors.New("cache down")
}

// recordingPublisher копит опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) all() []domain.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OrderEvent(nil), p.events...)
}

func newService(t *testing.T, repo domain.OrderRepository, c domain.Cache) (*order.Service, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	svc := order.NewService(repo, c, publisher, metrics.NewOrderMetrics(), nil)
	return svc, publisher
}

func createRequest() order.CreateOrderRequest {
	return order.CreateOrderRequest{
		CustomerID:    "customer-1",
		CustomerEmail: "customer@example.com",
		CustomerName:  "Customer One",
		Currency:      "USD",
		Items: []order.CreateItemRequest{
			{
				ProductID:      "product-1",
				ProductName:    "Widget",
				Quantity:       2,
				UnitPriceMinor: 9999, // 99.99
			},
		},
	}
}

func TestCreateComputesTotals(t *testing.T) {
	svc, publisher := newService(t, memory.NewOrderRepository(), cache.NewMemory())

	result, err := svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	require.False(t, result.Degraded)

	created := result.Order
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	require.Len(t, created.Items, 1)
	// 2 x 99.99 = 199.98
	assert.EqualValues(t, 19998, created.Items[0].SubtotalMinor)
	assert.EqualValues(t, 19998, created.TotalAmountMinor)

	events := publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.Equal(t, created.ID, events[0].OrderID)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	noCustomer := createRequest()
	noCustomer.CustomerID = ""
	_, err := svc.Create(ctx, noCustomer)
	require.ErrorIs(t, err, domain.ErrCustomerRequired)

	noItems := createRequest()
	noItems.Items = nil
	_, err = svc.Create(ctx, noItems)
	require.ErrorIs(t, err, domain.ErrItemsRequired)

	badQty := createRequest()
	badQty.Items[0].Quantity = 0
	_, err = svc.Create(ctx, badQty)
	require.ErrorIs(t, err, domain.ErrItemQtyInvalid)
}

func TestCreateDegradedOnStorageFailure(t *testing.T) {
	repo := &brokenRepo{OrderRepository: memory.NewOrderRepository()}
	svc, publisher := newService(t, repo, cache.NewMemory())

	result, err := svc.Create(context.Background(), createRequest())
	require.NoError(t, err)
	require.True(t, result.Degraded)
	assert.NotEmpty(t, result.Order.ID)
	assert.EqualValues(t, 19998, result.Order.TotalAmountMinor)

	// Несохранённый заказ не порождает событий.
	assert.Empty(t, publisher.all())
}

func TestGetByIDCacheAside(t *testing.T) {
	repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
	svc, _ := newService(t, repo, cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	orderID := result.Order.ID

	first, err := svc.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets())

	// Повторное чтение обслуживается кэшем.
	second, err := svc.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.gets())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TotalAmountMinor, second.TotalAmountMinor)
}

func TestGetByIDRetriesTransientErrors(t *testing.T) {
	base := memory.NewOrderRepository()
	svc0, _ := newService(t, base, cache.NewMemory())
	result, err := svc0.Create(context.Background(), createRequest())
	require.NoError(t, err)

	repo := &flakyRepo{OrderRepository: base, failures: 2}
	svc, _ := newService(t, repo, cache.NewMemory())

	got, err := svc.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, got.ID)
}

func TestGetByIDNotFoundIsNotRetried(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())

	_, err := svc.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetByIDWorksWithBrokenCache(t *testing.T) {
	base := memory.NewOrderRepository()
	seed, _ := newService(t, base, cache.NewMemory())
	result, err := seed.Create(context.Background(), createRequest())
	require.NoError(t, err)

	svc, _ := newService(t, base, failingCache{})
	got, err := svc.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, got.ID)
}

func TestGetByIDForCustomerOwnership(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	got, err := svc.GetByIDForCustomer(ctx, result.Order.ID, "customer-1")
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, got.ID)

	// Чужой заказ неотличим от несуществующего.
	_, err = svc.GetByIDForCustomer(ctx, result.Order.ID, "customer-2")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestUpdateStatusWriteThrough(t *testing.T) {
	repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
	svc, publisher := newService(t, repo, cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	orderID := result.Order.ID

	updated, err := svc.UpdateStatus(ctx, orderID, order.UpdateStatusRequest{Status: domain.OrderStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, updated.Status)
	assert.NotNil(t, updated.ProcessedAt)

	getsAfterUpdate := repo.gets()

	// Write-through: следующий GetByID обслуживается кэшем и видит
	// свежий статус.
	got, err := svc.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, getsAfterUpdate, repo.gets())
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)

	events := publisher.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderStatusChanged, events[1].Type)
}

func TestUpdateStatusTrackingNumberOnlyOnShipped(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	orderID := result.Order.ID

	// Трек-номер на переходе в PROCESSING игнорируется.
	updated, err := svc.UpdateStatus(ctx, orderID, order.UpdateStatusRequest{
		Status:         domain.OrderStatusProcessing,
		TrackingNumber: "TRACK-1",
	})
	require.NoError(t, err)
	assert.Empty(t, updated.TrackingNumber)

	updated, err = svc.UpdateStatus(ctx, orderID, order.UpdateStatusRequest{
		Status:         domain.OrderStatusShipped,
		TrackingNumber: "TRACK-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRACK-1", updated.TrackingNumber)
	assert.NotNil(t, updated.ShippedAt)
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, result.Order.ID, order.UpdateStatusRequest{Status: domain.OrderStatusDelivered})
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	var transitionErr *domain.StatusTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, domain.OrderStatusPending, transitionErr.From)
	assert.Equal(t, domain.OrderStatusDelivered, transitionErr.To)
}

func TestCancelOrder(t *testing.T) {
	svc, publisher := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	orderID := result.Order.ID

	cancelled, err := svc.CancelOrder(ctx, orderID, "customer request", "customer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer request", cancelled.CancelledReason)
	require.NotNil(t, cancelled.CancelledAt)

	// Повторная отмена отклоняется.
	_, err = svc.CancelOrder(ctx, orderID, "again", "customer-1")
	require.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	events := publisher.all()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderCancelled, events[1].Type)
}

func TestProcessPendingOrders(t *testing.T) {
	repo := memory.NewOrderRepository()
	svc, _ := newService(t, repo, cache.NewMemory())
	ctx := context.Background()
	now := time.Now().UTC()

	stale := domain.Order{
		ID: "order-stale", CustomerID: "customer-1", Status: domain.OrderStatusPending,
		Currency: "USD", CreatedAt: now.Add(-10 * time.Minute), UpdatedAt: now.Add(-10 * time.Minute),
	}
	fresh := domain.Order{
		ID: "order-fresh", CustomerID: "customer-1", Status: domain.OrderStatusPending,
		Currency: "USD", CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, fresh))

	updated, err := svc.ProcessPendingOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := repo.GetByID(ctx, "order-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)

	got, err = repo.GetByID(ctx, "order-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)

	// Повторный запуск без созревших заказов ничего не делает.
	updated, err = svc.ProcessPendingOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestDeleteOldCancelledOrders(t *testing.T) {
	repo := memory.NewOrderRepository()
	svc, _ := newService(t, repo, cache.NewMemory())
	ctx := context.Background()
	now := time.Now().UTC()

	old := domain.Order{
		ID: "order-old", CustomerID: "customer-1", Status: domain.OrderStatusPending,
		Currency: "USD", CreatedAt: now.Add(-60 * 24 * time.Hour), UpdatedAt: now,
	}
	require.NoError(t, old.Cancel("stale", "ops", now.Add(-45*24*time.Hour)))
	require.NoError(t, repo.Create(ctx, old))

	recent := domain.Order{
		ID: "order-recent", CustomerID: "customer-1", Status: domain.OrderStatusPending,
		Currency: "USD", CreatedAt: now.Add(-5 * 24 * time.Hour), UpdatedAt: now,
	}
	require.NoError(t, recent.Cancel("recent", "ops", now.Add(-24*time.Hour)))
	require.NoError(t, repo.Create(ctx, recent))

	deleted, err := svc.DeleteOldCancelledOrders(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.GetByID(ctx, "order-old")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = repo.GetByID(ctx, "order-recent")
	require.NoError(t, err)
}

func TestSearchInvalidatedByStatusChange(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	result, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)

	status := domain.OrderStatusPending
	page, err := svc.Search(ctx, domain.SearchFilter{Status: &status}, domain.Page{Size: 10})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.TotalCount)

	_, err = svc.UpdateStatus(ctx, result.Order.ID, order.UpdateStatusRequest{Status: domain.OrderStatusProcessing})
	require.NoError(t, err)

	// Смена статуса сбрасывает поисковый кэш: PENDING-выборка пуста.
	page, err = svc.Search(ctx, domain.SearchFilter{Status: &status}, domain.Page{Size: 10})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestStatistics(t *testing.T) {
	svc, _ := newService(t, memory.NewOrderRepository(), cache.NewMemory())
	ctx := context.Background()

	_, err := svc.Create(ctx, createRequest())
	require.NoError(t, err)
	_, err = svc.Create(ctx, createRequest())
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx, "customer-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalOrders)
	assert.EqualValues(t, 2, stats.CountByStatus[domain.OrderStatusPending])
	assert.EqualValues(t, 2*19998, stats.TotalAmountMinor)
	assert.InDelta(t, 19998, stats.AverageAmountMinor, 0.001)
}
