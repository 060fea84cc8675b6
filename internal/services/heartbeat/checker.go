// -----------------------------------------------------------------------
// Heartbeat Checker
// Periodic rescue of tasks and proxy leases abandoned by dead workers
// -----------------------------------------------------------------------

package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

const (
	sweepJobName = "heartbeat_sweep"
	statsJobName = "proxy_stats"

	defaultTimeout       = 30 * time.Minute
	defaultCheckInterval = time.Minute
	statsSchedule        = "@every 5m"
)

// Checker sweeps both task queues for processing rows whose heartbeat
// went stale, returns them to pending, and reaps leaked proxy leases.
// A worker is presumed dead once its stamps stop for longer than
// heartbeat.timeout; the sweep itself runs every check_interval, so a
// SIGKILLed worker's task and proxy are back in their free pools
// within timeout+interval.
type Checker struct {
	storage     interfaces.StorageManager
	logger      arbor.ILogger
	timeout     time.Duration
	interval    time.Duration
	liveWorkers []string
}

// NewChecker creates a heartbeat checker. liveWorkers is the fixed set
// of worker ids this process runs; a lease held by any other id is a
// leftover from a dead process and fair game for the reap.
func NewChecker(cfg *common.Config, storage interfaces.StorageManager, liveWorkers []string, logger arbor.ILogger) *Checker {
	return &Checker{
		storage:     storage,
		logger:      logger,
		timeout:     common.ParseDurationOr(cfg.Heartbeat.Timeout, defaultTimeout),
		interval:    common.ParseDurationOr(cfg.Heartbeat.CheckInterval, defaultCheckInterval),
		liveWorkers: append([]string(nil), liveWorkers...),
	}
}

// Register wires the sweep and the stats job onto the scheduler. No
// sweep runs at registration time: rescue waits for the first tick so
// a restarted worker with the same identity gets a chance to resume
// its lease first.
func (c *Checker) Register(sched interfaces.SchedulerService) error {
	sweepSchedule := fmt.Sprintf("@every %s", c.interval)
	if err := sched.RegisterJob(sweepJobName, sweepSchedule,
		"Return tasks and proxies of dead workers to their pools", c.Sweep); err != nil {
		return fmt.Errorf("registering heartbeat sweep: %w", err)
	}
	if err := sched.RegisterJob(statsJobName, statsSchedule,
		"Log a census of the proxy pool", c.LogProxyStats); err != nil {
		return fmt.Errorf("registering proxy stats job: %w", err)
	}

	c.logger.Info().
		Str("check_interval", c.interval.String()).
		Str("timeout", c.timeout.String()).
		Msg("Heartbeat checker scheduled")
	return nil
}

// Sweep runs one full rescue pass. Expired catalog tasks go first
// because their rescue also rolls articulum state back; the orphan
// pass then catches articuli whose task never left pending; object
// tasks and leaked proxy leases follow. A failed step is logged and
// the later steps still run.
func (c *Checker) Sweep(ctx context.Context) error {
	recovery := c.storage.RecoveryStorage()

	var firstErr error

	catalog, err := recovery.RescueCatalogTasks(ctx, c.timeout)
	if err != nil {
		c.logger.Error().Err(err).Msg("Catalog task rescue failed")
		firstErr = err
	}

	orphans, err := recovery.RescueOrphanedArticulums(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Orphaned articulum rescue failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	objects, err := recovery.RescueObjectTasks(ctx, c.timeout)
	if err != nil {
		c.logger.Error().Err(err).Msg("Object task rescue failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	proxies, err := recovery.ReapStaleProxies(ctx, c.liveWorkers)
	if err != nil {
		c.logger.Error().Err(err).Msg("Stale proxy reap failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	if total := int64(catalog+orphans+objects) + proxies; total > 0 {
		c.logger.Info().
			Int("catalog_tasks", catalog).
			Int("object_tasks", objects).
			Int("orphaned_articulums", orphans).
			Int64("stale_proxies", proxies).
			Msg("Heartbeat sweep rescued abandoned work")
	}

	return firstErr
}

// LogProxyStats writes a census of the proxy pool to the log.
func (c *Checker) LogProxyStats(ctx context.Context) error {
	stats, err := c.storage.ProxyStorage().Stats(ctx)
	if err != nil {
		return fmt.Errorf("collecting proxy stats: %w", err)
	}

	c.logger.Info().
		Int("total", stats.Total).
		Int("available", stats.Available).
		Int("in_use", stats.InUse).
		Int("blocked", stats.Blocked).
		Msg("Proxy pool census")
	return nil
}
