package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/cache"
	"github.com/vladislavdragonenkov/estore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/estore/internal/health"
	"github.com/vladislavdragonenkov/estore/internal/lock"
	"github.com/vladislavdragonenkov/estore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/estore/internal/metrics"
	"github.com/vladislavdragonenkov/estore/internal/scheduler"
	"github.com/vladislavdragonenkov/estore/internal/service/auth"
	"github.com/vladislavdragonenkov/estore/internal/service/order"
	"github.com/vladislavdragonenkov/estore/internal/storage/memory"
	"github.com/vladislavdragonenkov/estore/internal/storage/postgres"
	transport "github.com/vladislavdragonenkov/estore/internal/transport/http"
	"github.com/vladislavdragonenkov/estore/internal/version"
)

const cacheNamespace = "estore"

// dependencies агрегирует подключения и реализации портов, выбранные
// по конфигурации: postgres/redis/kafka в проде, in-memory без них.
type dependencies struct {
	orderRepo domain.OrderRepository
	userRepo  domain.UserRepository
	cache     domain.Cache
	locker    domain.JobLocker
	publisher domain.EventPublisher

	store   *postgres.Store
	closers []io.Closer
}

// Run собирает приложение и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	orderMetrics := metrics.NewOrderMetrics()
	orderSvc := order.NewService(deps.orderRepo, deps.cache, deps.publisher, orderMetrics,
		logger.WithField("component", "order-service"))
	authSvc := auth.NewService(deps.userRepo, []byte(cfg.JWTSecret), cfg.JWTTTL,
		logger.WithField("component", "auth-service"))

	sched := scheduler.New(deps.locker, orderMetrics, logger.WithField("component", "scheduler"))
	sched.Register(scheduler.Job{
		Name:     "status-advance",
		Interval: cfg.StatusAdvanceInterval,
		Lease:    cfg.StatusAdvanceLease,
		MinHold:  cfg.StatusAdvanceMinHold,
		Run:      orderSvc.ProcessPendingOrders,
	})
	sched.Register(scheduler.Job{
		Name:     "cancelled-cleanup",
		Interval: cfg.CleanupInterval,
		Lease:    cfg.CleanupLease,
		MinHold:  cfg.CleanupMinHold,
		Run: func(ctx context.Context) (int, error) {
			return orderSvc.DeleteOldCancelledOrders(ctx, cfg.CleanupRetentionDays)
		},
	})
	sched.Start(ctx)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.store != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewProbe("postgres", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.store.Ping(checkCtx)
		}))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	handler := transport.NewHandler(orderSvc, authSvc, logger.WithField("component", "http"))
	router := transport.NewRouter(handler, authSvc, logger.WithField("component", "http"))
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		sched.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.DatabaseDSN != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.store = store
		deps.closers = append(deps.closers, store)
		deps.orderRepo = postgres.NewOrderRepository(store)
		deps.userRepo = postgres.NewUserRepository(store)
		logger.Info("postgres storage initialized")
	} else {
		deps.orderRepo = memory.NewOrderRepository()
		deps.userRepo = memory.NewUserRepository()
		logger.Warn("DATABASE_URI is not set, using in-memory storage")
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
		deps.closers = append(deps.closers, client)
		deps.cache = cache.NewRedis(client, cacheNamespace, logger)
		deps.locker = lock.NewRedisLocker(client, cacheNamespace, logger)
		logger.WithField("addr", cfg.RedisAddr).Info("redis cache and job lock initialized")
	} else {
		deps.cache = cache.NewMemory()
		deps.locker = memory.NewLocker()
		logger.Warn("REDIS_ADDR is not set, using in-memory cache and locker")
	}

	// Kafka опционален: без брокеров события просто не публикуются.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka publisher, continuing without kafka")
			deps.publisher = kafka.NoopPublisher{}
		} else {
			deps.closers = append(deps.closers, publisher)
			deps.publisher = publisher
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka publisher initialized")
		}
	} else {
		deps.publisher = kafka.NoopPublisher{}
	}

	return deps, nil
}

func (d *dependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
