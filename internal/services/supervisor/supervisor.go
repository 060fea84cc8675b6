// -----------------------------------------------------------------------
// Supervisor
// Boots the worker fleet, restarts crashed workers, drains on shutdown
// -----------------------------------------------------------------------

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/validation"
)

const (
	// shutdownTimeout bounds the wait for workers after the root context
	// is cancelled. Workers past the deadline are abandoned; the
	// heartbeat sweep reclaims whatever they held.
	shutdownTimeout = 10 * time.Second

	// releaseGrace bounds the resource release for a crashed worker. The
	// release runs on a detached context so a shutdown racing the crash
	// cannot strand the worker's proxies until the next sweep.
	releaseGrace = 5 * time.Second

	defaultRestartDelay = 3 * time.Second
)

// Worker is a long-running unit the supervisor keeps alive. Run blocks
// until the context is cancelled or the worker gives up; the identity
// returned by ID is stable across restarts, which is what lets a
// relaunched worker resume its proxy lease and heartbeat rows.
type Worker interface {
	ID() string
	Run(ctx context.Context) error
}

type exit struct {
	worker Worker
	err    error
}

// Supervisor owns the process lifecycle between pool-open and
// pool-close: it starts the scheduler, seeds the task queues, launches
// the fleet, and restarts any worker that returns while the root
// context is still alive.
type Supervisor struct {
	config       *common.Config
	storage      interfaces.StorageManager
	scheduler    interfaces.SchedulerService
	workers      []Worker
	logger       arbor.ILogger
	restartDelay time.Duration
}

// New assembles a supervisor over an already-wired fleet. Scheduler
// jobs must be registered before Run; the supervisor only starts and
// stops the scheduler.
func New(cfg *common.Config, storage interfaces.StorageManager, scheduler interfaces.SchedulerService, workers []Worker, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		config:       cfg,
		storage:      storage,
		scheduler:    scheduler,
		workers:      workers,
		logger:       logger,
		restartDelay: common.ParseDurationOr(cfg.Workers.RestartDelay, defaultRestartDelay),
	}
}

// Run blocks until ctx is cancelled. The startup order is scheduler,
// then queue seeding, then workers: sweeps must already be scheduled
// when the first worker claims a task, and seeding before launch keeps
// the first idle-poll from racing the seed inserts.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	if err := s.seed(ctx); err != nil {
		s.stopScheduler()
		return err
	}

	exits := make(chan exit, len(s.workers))
	var wg sync.WaitGroup
	for _, w := range s.workers {
		s.launch(ctx, w, &wg, exits)
	}
	s.logger.Info().Int("workers", len(s.workers)).Msg("Worker fleet launched")

	for {
		select {
		case <-ctx.Done():
			return s.drain(&wg)
		case e := <-exits:
			if ctx.Err() != nil {
				// Shutdown already in progress; drain owns the rest.
				continue
			}
			s.handleExit(ctx, e)
			if ctx.Err() == nil {
				s.logger.Info().Str("worker_id", e.worker.ID()).Msg("Restarting worker")
				s.launch(ctx, e.worker, &wg, exits)
			}
		}
	}
}

// seed fills the task queues before any worker starts polling. In
// re-parse mode the history seed is the whole point of the run, so its
// failure is fatal; the normal-mode seeds only accelerate pickup of
// pre-existing rows and a failure there just defers work to the next
// boot.
func (s *Supervisor) seed(ctx context.Context) error {
	if s.config.Reparse.Enabled {
		minInterval := time.Duration(s.config.Reparse.MinIntervalHours) * time.Hour
		created, err := s.storage.ObjectTaskStorage().SeedForReparse(ctx, minInterval)
		if err != nil {
			return fmt.Errorf("seeding re-parse tasks: %w", err)
		}
		s.logger.Info().
			Int64("tasks", created).
			Int("min_interval_hours", s.config.Reparse.MinIntervalHours).
			Msg("Seeded object queue from parse history")
		return nil
	}

	if created, err := s.storage.CatalogTaskStorage().EnqueueMissing(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to seed catalog queue")
	} else if created > 0 {
		s.logger.Info().Int64("tasks", created).Msg("Seeded catalog queue for new articuli")
	}

	if created, err := s.storage.ObjectTaskStorage().SeedFromValidated(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to seed object queue")
	} else if created > 0 {
		s.logger.Info().Int64("tasks", created).Msg("Seeded object queue from validated backlog")
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, w Worker, wg *sync.WaitGroup, exits chan<- exit) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := s.runWorker(ctx, w)
		// Never blocks: each identity has at most one in-flight exit,
		// and the buffer holds one slot per identity.
		exits <- exit{worker: w, err: err}
	}()
}

// runWorker converts a panicking Run into an error exit, so a bad page
// or driver bug restarts the worker instead of killing the process.
func (s *Supervisor) runWorker(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.logger.Error().
				Str("worker_id", w.ID()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(buf[:n])).
				Msg("Worker panicked")
			err = fmt.Errorf("worker %s panicked: %v", w.ID(), r)
		}
	}()
	return w.Run(ctx)
}

// handleExit logs the abnormal return, frees whatever the dead run
// still held, and waits out the restart delay. The caller relaunches.
func (s *Supervisor) handleExit(ctx context.Context, e exit) {
	switch {
	case errors.Is(e.err, validation.ErrAIShutdown):
		s.logger.Error().
			Str("worker_id", e.worker.ID()).
			Msg("Worker stopped after repeated AI provider failures, will probe again after restart")
	case e.err != nil:
		s.logger.Error().
			Err(e.err).
			Str("worker_id", e.worker.ID()).
			Msg("Worker crashed")
	default:
		s.logger.Warn().Str("worker_id", e.worker.ID()).Msg("Worker stopped without error")
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseGrace)
	defer cancel()
	if err := s.storage.RecoveryStorage().ReleaseWorkerResources(releaseCtx, e.worker.ID()); err != nil {
		s.logger.Error().
			Err(err).
			Str("worker_id", e.worker.ID()).
			Msg("Failed to release dead worker resources, heartbeat sweep will reclaim them")
	}

	select {
	case <-ctx.Done():
	case <-time.After(s.restartDelay):
	}
}

// drain stops the scheduler and waits for the fleet to finish its
// cleanup paths, bounded by shutdownTimeout. A graceful stop returns
// nil even when the deadline fires: the process is exiting either way
// and the sweep covers stragglers.
func (s *Supervisor) drain(wg *sync.WaitGroup) error {
	s.logger.Info().Msg("Shutting down worker fleet")
	s.stopScheduler()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("All workers stopped")
	case <-time.After(shutdownTimeout):
		s.logger.Warn().
			Dur("timeout", shutdownTimeout).
			Msg("Workers still busy at shutdown deadline, abandoning wait")
	}
	return nil
}

func (s *Supervisor) stopScheduler() {
	if err := s.scheduler.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduler stop reported an error")
	}
}
