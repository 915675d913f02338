package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/metrics"
)

// BestEffort runs side effects that must never block or fail the request
// that triggered them. Each task gets its own context with a timeout, so it
// outlives request cancellation. Failures are logged and counted.
type BestEffort struct {
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewBestEffort(timeout time.Duration, log *zap.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BestEffort{timeout: timeout, log: log}
}

func (b *BestEffort) Go(task string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.BestEffortFailures.WithLabelValues(task).Inc()
				b.log.Error("best-effort task panicked", zap.String("task", task), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			metrics.BestEffortFailures.WithLabelValues(task).Inc()
			b.log.Warn("best-effort task failed", zap.String("task", task), zap.Error(err))
		}
	}()
}

// Wait blocks until every started task has returned. Used on shutdown and in tests.
func (b *BestEffort) Wait() {
	b.wg.Wait()
}
