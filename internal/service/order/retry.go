package order

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// RetryConfig конфигурация для retry логики читающих операций.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// withRetry выполняет fn с экспоненциальной задержкой между попытками.
// Повторяются только транзиентные ошибки хранилища: бизнес-ошибки
// (not found, конфликт версий, недопустимый переход) возвращаются сразу.
func (s *Service) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := s.retry.InitialDelay

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				s.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}

		if !domain.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == s.retry.MaxAttempts {
			break
		}

		s.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay.String(),
			"error":     err,
		}).Warn("transient storage error, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}

	s.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": s.retry.MaxAttempts,
		"error":        lastErr,
	}).Error("operation failed after all retry attempts")
	return lastErr
}
