package interfaces

import "context"

// SchedulerService runs named maintenance jobs on cron schedules.
// Register all jobs before Start; the scheduler never picks up a job
// added later.
type SchedulerService interface {
	// RegisterJob adds a job. Schedules use cron syntax, including the
	// @every form.
	RegisterJob(name, schedule, description string, handler func(ctx context.Context) error) error

	// Start launches the schedule loop. The context is handed to every
	// job run; cancelling it cancels in-flight jobs.
	Start(ctx context.Context) error

	// Stop halts scheduling and waits for in-flight jobs to finish.
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool
}
