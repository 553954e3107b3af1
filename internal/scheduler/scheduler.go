package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/metrics"
)

// Job — периодическая фоновая задача. Lease задаёт срок распределённой
// блокировки и должен быть меньше интервала, чтобы блокировка истекала
// до следующего запуска даже при упавшем держателе. MinHold — минимальное
// время удержания блокировки: тикеры реплик сдвинуты по фазе на время их
// старта, и без минимального удержания реплика с чуть более поздним тиком
// перезапустила бы только что завершённую задачу в том же интервале.
type Job struct {
	Name     string
	Interval time.Duration
	Lease    time.Duration
	MinHold  time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Scheduler запускает задачи по тикеру, ограждая каждый запуск
// распределённой блокировкой: в многоэкземплярной конфигурации тело
// задачи исполняет ровно один экземпляр за интервал. Ошибки задач
// логируются и считаются, но никогда не останавливают цикл.
type Scheduler struct {
	locker  domain.JobLocker
	metrics *metrics.OrderMetrics
	logger  *log.Entry
	jobs    []Job
	wg      sync.WaitGroup
}

// New создаёт планировщик.
func New(locker domain.JobLocker, orderMetrics *metrics.OrderMetrics, logger *log.Entry) *Scheduler {
	if logger == nil {
		logger = log.New().WithField("component", "scheduler")
	}
	return &Scheduler{
		locker:  locker,
		metrics: orderMetrics,
		logger:  logger,
	}
}

// Register добавляет задачу. Вызывается до Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start запускает по горутине на задачу: первый запуск сразу, затем по
// интервалу до отмены ctx.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	s.logger.WithField("jobs", len(s.jobs)).Info("scheduler started")
}

// Wait блокируется до завершения всех циклов задач.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordSweepRun(job.Name, "panic")
			s.logger.WithFields(log.Fields{
				"job":   job.Name,
				"panic": r,
			}).Error("job panicked")
		}
	}()

	started := time.Now()
	acquired, err := s.locker.Acquire(ctx, job.Name, job.Lease)
	if err != nil {
		s.metrics.RecordSweepRun(job.Name, "lock_error")
		s.logger.WithFields(log.Fields{
			"job":   job.Name,
			"error": err,
		}).Warn("failed to acquire job lock")
		return
	}
	if !acquired {
		// Задачу исполняет другой экземпляр.
		s.metrics.RecordSweepRun(job.Name, "skipped")
		s.logger.WithField("job", job.Name).Debug("job lock held elsewhere, skipping run")
		return
	}
	defer func() {
		// Блокировка держится не меньше MinHold: после короткого запуска
		// она не снимается и доживает до истечения lease.
		if time.Since(started) < job.MinHold {
			return
		}
		if err := s.locker.Release(ctx, job.Name); err != nil {
			s.logger.WithFields(log.Fields{
				"job":   job.Name,
				"error": err,
			}).Warn("failed to release job lock")
		}
	}()

	affected, err := job.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.metrics.RecordSweepRun(job.Name, "error")
		s.logger.WithFields(log.Fields{
			"job":   job.Name,
			"error": err,
		}).Warn("job run failed")
		return
	}

	s.metrics.RecordSweepRun(job.Name, "ok")
	if affected > 0 {
		s.logger.WithFields(log.Fields{
			"job":      job.Name,
			"affected": affected,
		}).Info("job run completed")
	}
}
