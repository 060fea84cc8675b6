package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func(ctx context.Context) error
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// Service runs the maintenance jobs: heartbeat rescue sweeps and proxy
// pool stats. Executions are serialized so a slow sweep never overlaps
// the next one.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex // Protects jobs map
	runMu   sync.Mutex // Prevents concurrent job execution
	jobs    map[string]*jobEntry
	ctx     context.Context
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name, schedule, description string, handler func(ctx context.Context) error) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins the scheduler. The context is handed to every job run.
func (s *Service) Start(ctx context.Context) error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx = ctx
	s.cron.Start()
	s.running = true

	s.jobMu.Lock()
	jobs := len(s.jobs)
	s.jobMu.Unlock()

	s.logger.Info().Int("jobs", jobs).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs
func (s *Service) Stop() error {
	if !s.running {
		return nil
	}

	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	return s.running
}

// executeJob wraps job execution with panic recovery and status tracking
func (s *Service) executeJob(name string) {
	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job execution")

			s.jobMu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.jobMu.Unlock()
		}
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().
			Str("job_name", name).
			Msg("Job not found")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	err := handler(s.ctx)

	completed := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Job execution failed")
	} else {
		s.logger.Debug().
			Str("job_name", name).
			Dur("duration", time.Since(started)).
			Msg("Job execution completed")
	}
}
