package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики сервиса заказов.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated     prometheus.Counter
	statusTransitions *prometheus.CounterVec
	versionConflicts  prometheus.Counter
	degradedCreates   prometheus.Counter

	// Кэш
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Фоновые задачи
	sweepRuns      *prometheus.CounterVec
	ordersAdvanced prometheus.Counter
	ordersPurged   prometheus.Counter

	// Гистограмма времени выполнения операций
	operationDuration *prometheus.HistogramVec
}

// NewOrderMetrics создаёт новый экземпляр метрик сервиса заказов.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "estore_orders_created_total",
			Help: "Total number of orders created",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "estore_order_status_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "estore_order_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts",
		}),
		degradedCreates: registerCounter(registerer, prometheus.CounterOpts{
			Name: "estore_order_degraded_creates_total",
			Help: "Total number of order creations answered by the degraded fallback",
		}),
		cacheHits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "estore_cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"cache"}),
		cacheMisses: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "estore_cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"cache"}),
		sweepRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "estore_sweep_runs_total",
			Help: "Total number of background sweep runs",
		}, []string{"job", "outcome"}),
		ordersAdvanced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "estore_sweep_orders_advanced_total",
			Help: "Total number of stale pending orders advanced to processing",
		}),
		ordersPurged: registerCounter(registerer, prometheus.CounterOpts{
			Name: "estore_sweep_orders_purged_total",
			Help: "Total number of old cancelled orders deleted",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "estore_order_operation_duration_seconds",
			Help:    "Duration of order service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordStatusTransition увеличивает счётчик переходов статуса.
func (m *OrderMetrics) RecordStatusTransition(from, to string) {
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordVersionConflict увеличивает счётчик конфликтов версий.
func (m *OrderMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// RecordDegradedCreate увеличивает счётчик деградированных созданий.
func (m *OrderMetrics) RecordDegradedCreate() {
	m.degradedCreates.Inc()
}

// RecordCacheHit увеличивает счётчик попаданий в кэш.
func (m *OrderMetrics) RecordCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss увеличивает счётчик промахов кэша.
func (m *OrderMetrics) RecordCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordSweepRun фиксирует запуск фоновой задачи с её исходом.
func (m *OrderMetrics) RecordSweepRun(job, outcome string) {
	m.sweepRuns.WithLabelValues(job, outcome).Inc()
}

// RecordOrdersAdvanced увеличивает счётчик продвинутых sweep-ом заказов.
func (m *OrderMetrics) RecordOrdersAdvanced(n int) {
	m.ordersAdvanced.Add(float64(n))
}

// RecordOrdersPurged увеличивает счётчик удалённых отменённых заказов.
func (m *OrderMetrics) RecordOrdersPurged(n int) {
	m.ordersPurged.Add(float64(n))
}

// RecordOperationDuration записывает время выполнения операции сервиса.
func (m *OrderMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
