package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/metrics"
)

const (
	// TTL одиночных заказов; записи обновляются write-through, поэтому
	// TTL здесь лишь страховка от осиротевших ключей.
	orderTTL = 15 * time.Minute
	// Поисковые и статистические ответы живут недолго: их пространство
	// ключей неперечислимо и сбрасывается по префиксу при любой записи.
	searchTTL     = time.Minute
	statisticsTTL = time.Minute

	// Параметры фонового продвижения зависших PENDING-заказов.
	pendingCutoff    = 5 * time.Minute
	pendingBatchSize = 100
)

// CreateItemRequest описывает позицию создаваемого заказа.
type CreateItemRequest struct {
	ProductID          string
	ProductName        string
	ProductDescription string
	ProductSKU         string
	Quantity           int32
	UnitPriceMinor     int64
	DiscountMinor      int64
	TaxMinor           int64
	Notes              string
}

// CreateOrderRequest описывает создаваемый заказ.
type CreateOrderRequest struct {
	CustomerID      string
	CustomerEmail   string
	CustomerName    string
	Currency        string
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
	Notes           string
	Items           []CreateItemRequest
}

// UpdateStatusRequest описывает смену статуса заказа. TrackingNumber
// применяется только при переходе в SHIPPED.
type UpdateStatusRequest struct {
	Status         domain.OrderStatus
	TrackingNumber string
}

// CreateResult — результат создания заказа. Degraded=true означает, что
// хранилище было недоступно и заказ НЕ сохранён: клиент получает
// построенный агрегат как деградированный ответ вместо жёсткой ошибки.
type CreateResult struct {
	Order    domain.Order
	Degraded bool
}

// Service реализует прикладные операции над заказами: кэширование
// чтений, write-through запись, ретраи транзиентных ошибок, circuit
// breaker на пути создания и публикацию событий жизненного цикла.
type Service struct {
	repo      domain.OrderRepository
	cache     domain.Cache
	publisher domain.EventPublisher
	metrics   *metrics.OrderMetrics
	breaker   *gobreaker.CircuitBreaker
	retry     RetryConfig
	logger    *log.Entry
	now       func() time.Time
}

// NewService создаёт сервис заказов.
func NewService(
	repo domain.OrderRepository,
	cache domain.Cache,
	publisher domain.EventPublisher,
	orderMetrics *metrics.OrderMetrics,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}

	svc := &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		metrics:   orderMetrics,
		retry:     DefaultRetryConfig(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}

	svc.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "order-create",
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Бизнес-ошибки не считаются отказом хранилища.
			return err == nil || !domain.IsTransient(err)
		},
	})

	return svc
}

// Create собирает агрегат из запроса и сохраняет его. Путь записи
// защищён circuit breaker-ом: при открытом breaker-e или исчерпанных
// транзиентных ошибках клиент получает деградированный ответ с
// несохранённым заказом вместо 5xx.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (CreateResult, error) {
	started := s.now()
	defer func() { s.metrics.RecordOperationDuration("create", time.Since(started)) }()

	order, err := s.buildOrder(req)
	if err != nil {
		return CreateResult{}, err
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.repo.Create(ctx, order)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) ||
			domain.IsTransient(err) {
			s.metrics.RecordDegradedCreate()
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"error":    err,
			}).Error("storage unavailable, returning degraded create response")
			return CreateResult{Order: order, Degraded: true}, nil
		}
		return CreateResult{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.evictPrefixes(ctx, ordersPrefix, searchPrefix, statisticsPrefix)
	s.publish(ctx, domain.EventOrderCreated, order)

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.TotalAmountMinor,
	}).Info("order created")

	return CreateResult{Order: order}, nil
}

// GetByID возвращает заказ, используя cache-aside: попадание обслуживается
// из кэша, промах читает хранилище с ретраями и наполняет кэш. Отказ
// кэша не фатален: чтение уходит напрямую в хранилище.
func (s *Service) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	key := orderKey(orderID)

	if cached, ok := s.cacheGet(ctx, key); ok {
		var order domain.Order
		if err := json.Unmarshal(cached, &order); err == nil {
			s.metrics.RecordCacheHit("orders")
			return order, nil
		}
		// Повреждённую запись выбрасываем и читаем хранилище.
		s.cacheDelete(ctx, key)
	}
	s.metrics.RecordCacheMiss("orders")

	var order domain.Order
	err := s.withRetry(ctx, "get_order", func() error {
		var err error
		order, err = s.repo.GetByID(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.cacheSet(ctx, key, order, orderTTL)
	return order, nil
}

// GetByIDForCustomer возвращает заказ только его владельцу. Чужой или
// несуществующий заказ неразличимы: оба отвечают ErrOrderNotFound.
func (s *Service) GetByIDForCustomer(ctx context.Context, orderID, customerID string) (domain.Order, error) {
	var owns bool
	err := s.withRetry(ctx, "check_ownership", func() error {
		var err error
		owns, err = s.repo.ExistsForCustomer(ctx, orderID, customerID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !owns {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.GetByID(ctx, orderID)
}

// List возвращает страницу всех заказов.
func (s *Service) List(ctx context.Context, page domain.Page) (domain.OrderPage, error) {
	return s.cachedPage(ctx, listKey(page), func() (domain.OrderPage, error) {
		return s.repo.List(ctx, page)
	})
}

// ListByCustomer возвращает страницу заказов клиента.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.OrderPage, error) {
	return s.cachedPage(ctx, customerListKey(customerID, page), func() (domain.OrderPage, error) {
		return s.repo.ListByCustomer(ctx, customerID, page)
	})
}

// ListByStatus возвращает страницу заказов в данном статусе.
func (s *Service) ListByStatus(ctx context.Context, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return s.cachedPage(ctx, statusListKey(status, page), func() (domain.OrderPage, error) {
		return s.repo.ListByStatus(ctx, status, page)
	})
}

// ListByCustomerAndStatus возвращает страницу заказов клиента в данном статусе.
func (s *Service) ListByCustomerAndStatus(ctx context.Context, customerID string, status domain.OrderStatus, page domain.Page) (domain.OrderPage, error) {
	return s.cachedPage(ctx, customerStatusListKey(customerID, status, page), func() (domain.OrderPage, error) {
		return s.repo.ListByCustomerAndStatus(ctx, customerID, status, page)
	})
}

// Search возвращает страницу заказов по произвольной комбинации фильтров.
func (s *Service) Search(ctx context.Context, filter domain.SearchFilter, page domain.Page) (domain.OrderPage, error) {
	return s.cachedPage(ctx, searchKey(filter, page), func() (domain.OrderPage, error) {
		return s.repo.Search(ctx, filter, page)
	})
}

// UpdateStatus переводит заказ в новый статус по машине состояний.
// Трек-номер применяется только при переходе в SHIPPED. Конфликт версий
// отдаётся вызывающему как есть: решение о повторе за клиентом.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, req UpdateStatusRequest) (domain.Order, error) {
	started := s.now()
	defer func() { s.metrics.RecordOperationDuration("update_status", time.Since(started)) }()

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	from := order.Status
	if err := order.UpdateStatus(req.Status, s.now()); err != nil {
		return domain.Order{}, err
	}
	if req.Status == domain.OrderStatusShipped && req.TrackingNumber != "" {
		order.TrackingNumber = req.TrackingNumber
	}

	if err := s.repo.Save(ctx, order); err != nil {
		if domain.IsVersionConflict(err) {
			s.metrics.RecordVersionConflict()
		}
		return domain.Order{}, err
	}
	// Save инкрементирует версию в хранилище; локальная копия должна
	// совпадать с сохранённой, иначе write-through закэширует устаревшую.
	order.Version++

	s.metrics.RecordStatusTransition(string(from), string(order.Status))
	s.writeThrough(ctx, order)
	s.evictPrefixes(ctx, searchPrefix, statisticsPrefix)
	s.publish(ctx, domain.EventOrderStatusChanged, order)

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       order.Status,
	}).Info("order status updated")

	return order, nil
}

// CancelOrder отменяет заказ, если его текущий статус это допускает.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason, cancelledBy string) (domain.Order, error) {
	started := s.now()
	defer func() { s.metrics.RecordOperationDuration("cancel", time.Since(started)) }()

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	from := order.Status
	if err := order.Cancel(reason, cancelledBy, s.now()); err != nil {
		return domain.Order{}, err
	}

	if err := s.repo.Save(ctx, order); err != nil {
		if domain.IsVersionConflict(err) {
			s.metrics.RecordVersionConflict()
		}
		return domain.Order{}, err
	}
	order.Version++

	s.metrics.RecordStatusTransition(string(from), string(order.Status))
	s.writeThrough(ctx, order)
	s.evictPrefixes(ctx, searchPrefix, statisticsPrefix)
	s.publish(ctx, domain.EventOrderCancelled, order)

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"reason":       reason,
		"cancelled_by": cancelledBy,
	}).Info("order cancelled")

	return order, nil
}

// ProcessPendingOrders продвигает зависшие PENDING-заказы (старше пяти
// минут) в PROCESSING пакетом. Выборка и перевод атомарны на уровне
// хранилища, поэтому конкурирующие экземпляры получают непересекающиеся
// батчи и ни один заказ не продвигается дважды.
func (s *Service) ProcessPendingOrders(ctx context.Context) (int, error) {
	started := s.now()
	defer func() { s.metrics.RecordOperationDuration("process_pending", time.Since(started)) }()

	cutoff := s.now().Add(-pendingCutoff)
	advanced, err := s.repo.AdvancePendingOlderThan(ctx, cutoff, pendingBatchSize, domain.OrderStatusProcessing, s.now())
	if err != nil {
		return 0, fmt.Errorf("advance pending orders: %w", err)
	}
	if len(advanced) == 0 {
		return 0, nil
	}

	s.metrics.RecordOrdersAdvanced(len(advanced))
	s.evictPrefixes(ctx, ordersPrefix, searchPrefix, statisticsPrefix)
	for _, order := range advanced {
		s.publish(ctx, domain.EventOrderStatusChanged, order)
	}

	s.logger.WithField("advanced", len(advanced)).Info("stale pending orders advanced to processing")

	return len(advanced), nil
}

// DeleteOldCancelledOrders удаляет отменённые заказы старше daysOld дней.
func (s *Service) DeleteOldCancelledOrders(ctx context.Context, daysOld int) (int, error) {
	started := s.now()
	defer func() { s.metrics.RecordOperationDuration("delete_cancelled", time.Since(started)) }()

	cutoff := s.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	deleted, err := s.repo.DeleteCancelledBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete cancelled orders: %w", err)
	}
	if deleted == 0 {
		return 0, nil
	}

	s.metrics.RecordOrdersPurged(deleted)
	s.evictPrefixes(ctx, ordersPrefix, searchPrefix, statisticsPrefix)

	s.logger.WithFields(log.Fields{
		"deleted":  deleted,
		"days_old": daysOld,
	}).Info("old cancelled orders deleted")

	return deleted, nil
}

// Statistics возвращает агрегаты по заказам клиента с коротким кэшем.
func (s *Service) Statistics(ctx context.Context, customerID string) (domain.CustomerStatistics, error) {
	key := statisticsKey(customerID)

	if cached, ok := s.cacheGet(ctx, key); ok {
		var stats domain.CustomerStatistics
		if err := json.Unmarshal(cached, &stats); err == nil {
			s.metrics.RecordCacheHit("order-statistics")
			return stats, nil
		}
		s.cacheDelete(ctx, key)
	}
	s.metrics.RecordCacheMiss("order-statistics")

	var stats domain.CustomerStatistics
	err := s.withRetry(ctx, "customer_statistics", func() error {
		var err error
		stats, err = s.repo.StatisticsByCustomer(ctx, customerID)
		return err
	})
	if err != nil {
		return domain.CustomerStatistics{}, err
	}

	s.cacheSet(ctx, key, stats, statisticsTTL)
	return stats, nil
}

func (s *Service) buildOrder(req CreateOrderRequest) (domain.Order, error) {
	if req.CustomerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if req.Currency == "" {
		return domain.Order{}, domain.ErrCurrencyRequired
	}
	if len(req.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	now := s.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      req.CustomerID,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
		Status:          domain.OrderStatusPending,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, domain.ErrItemQtyInvalid
		}
		if item.UnitPriceMinor < 0 || item.DiscountMinor < 0 || item.TaxMinor < 0 {
			return domain.Order{}, domain.ErrItemPriceInvalid
		}
		order.AddItem(domain.OrderItem{
			ID:                 uuid.NewString(),
			ProductID:          item.ProductID,
			ProductName:        item.ProductName,
			ProductDescription: item.ProductDescription,
			ProductSKU:         item.ProductSKU,
			Quantity:           item.Quantity,
			UnitPriceMinor:     item.UnitPriceMinor,
			DiscountMinor:      item.DiscountMinor,
			TaxMinor:           item.TaxMinor,
			Notes:              item.Notes,
			CreatedAt:          now,
		})
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errs[0]
	}
	return order, nil
}

// cacheGet читает ключ; ошибка кэша логируется и трактуется как промах.
func (s *Service) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithFields(log.Fields{"key": key, "error": err}).Warn("cache read failed, bypassing")
		return nil, false
	}
	return value, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithFields(log.Fields{"key": key, "error": err}).Warn("cache marshal failed")
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.WithFields(log.Fields{"key": key, "error": err}).Warn("cache write failed")
	}
}

func (s *Service) cacheDelete(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WithField("error", err).Warn("cache delete failed")
	}
}

func (s *Service) evictPrefixes(ctx context.Context, prefixes ...string) {
	for _, prefix := range prefixes {
		if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
			s.logger.WithFields(log.Fields{"prefix": prefix, "error": err}).Warn("cache eviction failed")
		}
	}
}

func (s *Service) writeThrough(ctx context.Context, order domain.Order) {
	s.cacheSet(ctx, orderKey(order.ID), order, orderTTL)
}

func (s *Service) cachedPage(ctx context.Context, key string, fetch func() (domain.OrderPage, error)) (domain.OrderPage, error) {
	if cached, ok := s.cacheGet(ctx, key); ok {
		var page domain.OrderPage
		if err := json.Unmarshal(cached, &page); err == nil {
			s.metrics.RecordCacheHit("order-search")
			return page, nil
		}
		s.cacheDelete(ctx, key)
	}
	s.metrics.RecordCacheMiss("order-search")

	var page domain.OrderPage
	err := s.withRetry(ctx, "search_orders", func() error {
		var err error
		page, err = fetch()
		return err
	})
	if err != nil {
		return domain.OrderPage{}, err
	}

	s.cacheSet(ctx, key, page, searchTTL)
	return page, nil
}

// publish отправляет событие жизненного цикла best-effort: отказ брокера
// логируется и не влияет на исход операции.
func (s *Service) publish(ctx context.Context, eventType string, order domain.Order) {
	if s.publisher == nil {
		return
	}
	event := domain.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(log.Fields{
			"event":    eventType,
			"order_id": order.ID,
			"error":    err,
		}).Warn("event publication failed")
	}
}
