package proxy

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service manages proxy leases on top of the proxy store. Workers use
// it for the blocking acquire and for the error-budget bookkeeping the
// detector policies drive.
type Service struct {
	storage      interfaces.ProxyStorage
	logger       arbor.ILogger
	waitInterval time.Duration
	maxErrors    int
}

// NewService creates a new proxy service
func NewService(storage interfaces.ProxyStorage, config *common.ProxyConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage:      storage,
		logger:       logger,
		waitInterval: common.ParseDurationOr(config.WaitInterval, 10*time.Second),
		maxErrors:    config.MaxConsecutiveErrors,
	}
}

// Acquire leases a proxy without waiting. Returns nil when the pool is dry.
func (s *Service) Acquire(ctx context.Context, workerID string) (*models.Proxy, error) {
	return s.storage.Acquire(ctx, workerID)
}

// AcquireWithWait leases a proxy, polling until one becomes available
// or the context is cancelled. The wait is unbounded: a dry pool parks
// the worker rather than failing its task.
func (s *Service) AcquireWithWait(ctx context.Context, workerID string) (*models.Proxy, error) {
	proxy, err := s.storage.Acquire(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		return proxy, nil
	}

	s.logger.Info().
		Str("worker_id", workerID).
		Dur("interval", s.waitInterval).
		Msg("No proxy available, waiting")

	ticker := time.NewTicker(s.waitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			proxy, err := s.storage.Acquire(ctx, workerID)
			if err != nil {
				return nil, err
			}
			if proxy != nil {
				return proxy, nil
			}
		}
	}
}

// Release returns the proxy to the pool. Blocked proxies stay blocked.
func (s *Service) Release(ctx context.Context, proxy *models.Proxy) error {
	if proxy == nil {
		return nil
	}
	return s.storage.Release(ctx, proxy.ID)
}

// Block permanently retires the proxy.
func (s *Service) Block(ctx context.Context, proxy *models.Proxy, reason string) error {
	if proxy == nil {
		return nil
	}
	return s.storage.Block(ctx, proxy.ID, reason)
}

// RecordError bumps the proxy's consecutive error counter; the proxy is
// blocked when the configured budget is exhausted, released otherwise.
// Returns whether it was blocked.
func (s *Service) RecordError(ctx context.Context, proxy *models.Proxy, description string) (bool, error) {
	if proxy == nil {
		return false, nil
	}
	return s.storage.IncrementError(ctx, proxy.ID, description, s.maxErrors)
}

// RecordSuccess resets the proxy's error budget.
func (s *Service) RecordSuccess(ctx context.Context, proxy *models.Proxy) error {
	if proxy == nil {
		return nil
	}
	return s.storage.ResetErrorCounter(ctx, proxy.ID)
}

// ReleaseByWorker clears every lease held by the worker.
func (s *Service) ReleaseByWorker(ctx context.Context, workerID string) (int64, error) {
	return s.storage.ReleaseByWorker(ctx, workerID)
}

// Stats returns a pool census.
func (s *Service) Stats(ctx context.Context) (*models.ProxyStats, error) {
	return s.storage.Stats(ctx)
}
