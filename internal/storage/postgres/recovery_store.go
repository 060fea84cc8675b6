package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// RecoveryStorage implements heartbeat-driven rescue of work abandoned
// by hung or dead workers
type RecoveryStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewRecoveryStorage creates a new recovery storage instance
func NewRecoveryStorage(db *PostgresDB, logger arbor.ILogger) interfaces.RecoveryStorage {
	return &RecoveryStorage{
		db:     db,
		logger: logger,
	}
}

type staleTask struct {
	id          int64
	articulumID int64
	workerID    string
}

func (s *RecoveryStorage) staleTasks(ctx context.Context, table string, timeout time.Duration) ([]staleTask, error) {
	query := fmt.Sprintf(`
		SELECT id, articulum_id, COALESCE(worker_id, '')
		FROM %s
		WHERE status = $1
		  AND heartbeat_at < NOW() - make_interval(secs => $2)`, table)

	rows, err := s.db.pool.Query(ctx, query,
		string(models.TaskStatusProcessing), timeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to find stale %s: %w", table, err)
	}
	defer rows.Close()

	var tasks []staleTask
	for rows.Next() {
		var t staleTask
		if err := rows.Scan(&t.id, &t.articulumID, &t.workerID); err != nil {
			return nil, fmt.Errorf("failed to scan stale task: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// RescueCatalogTasks returns every processing catalog task with an
// expired heartbeat to pending. Per task, one transaction: the owning
// worker's proxies are released first, the articulum is rolled
// CATALOG_PARSING -> NEW if it is still there, then the task is reset.
func (s *RecoveryStorage) RescueCatalogTasks(ctx context.Context, timeout time.Duration) (int, error) {
	tasks, err := s.staleTasks(ctx, "catalog_tasks", timeout)
	if err != nil {
		return 0, err
	}

	rescued := 0
	for _, t := range tasks {
		if err := s.rescueCatalogTask(ctx, t); err != nil {
			s.logger.Error().Err(err).Int64("task_id", t.id).Msg("Failed to rescue catalog task")
			continue
		}

		s.logger.Warn().
			Int64("task_id", t.id).
			Int64("articulum_id", t.articulumID).
			Str("worker_id", t.workerID).
			Msg("Catalog task returned to queue after heartbeat timeout")
		rescued++
	}

	return rescued, nil
}

func (s *RecoveryStorage) rescueCatalogTask(ctx context.Context, t staleTask) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Proxies first, so no later claimer can race a half-released worker.
	if t.workerID != "" {
		_, err = tx.Exec(ctx, `
			UPDATE proxies
			SET is_in_use = FALSE, worker_id = NULL
			WHERE worker_id = $1`, t.workerID)
		if err != nil {
			return fmt.Errorf("failed to release proxies of worker %s: %w", t.workerID, err)
		}
	}

	// Roll the articulum back only if it is still in CATALOG_PARSING;
	// any other state means someone else already moved it on.
	_, err = tx.Exec(ctx, `
		UPDATE articulums
		SET state = $1, state_updated_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND state = $3`,
		string(models.ArticulumStateNew), t.articulumID,
		string(models.ArticulumStateCatalogParsing))
	if err != nil {
		return fmt.Errorf("failed to roll back articulum %d: %w", t.articulumID, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE catalog_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusPending), t.id)
	if err != nil {
		return fmt.Errorf("failed to reset catalog task %d: %w", t.id, err)
	}

	return tx.Commit(ctx)
}

// RescueObjectTasks returns every processing object task with an
// expired heartbeat to pending, releasing the owner's proxies. No
// articulum rollback: OBJECT_PARSING is terminal.
func (s *RecoveryStorage) RescueObjectTasks(ctx context.Context, timeout time.Duration) (int, error) {
	tasks, err := s.staleTasks(ctx, "object_tasks", timeout)
	if err != nil {
		return 0, err
	}

	rescued := 0
	for _, t := range tasks {
		if err := s.rescueObjectTask(ctx, t); err != nil {
			s.logger.Error().Err(err).Int64("task_id", t.id).Msg("Failed to rescue object task")
			continue
		}

		s.logger.Warn().
			Int64("task_id", t.id).
			Int64("articulum_id", t.articulumID).
			Str("worker_id", t.workerID).
			Msg("Object task returned to queue after heartbeat timeout")
		rescued++
	}

	return rescued, nil
}

func (s *RecoveryStorage) rescueObjectTask(ctx context.Context, t staleTask) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if t.workerID != "" {
		_, err = tx.Exec(ctx, `
			UPDATE proxies
			SET is_in_use = FALSE, worker_id = NULL
			WHERE worker_id = $1`, t.workerID)
		if err != nil {
			return fmt.Errorf("failed to release proxies of worker %s: %w", t.workerID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE object_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusPending), t.id)
	if err != nil {
		return fmt.Errorf("failed to reset object task %d: %w", t.id, err)
	}

	return tx.Commit(ctx)
}

// RescueOrphanedArticulums rolls CATALOG_PARSING articulums whose task
// is still pending back to NEW. This state pairing appears when a claim
// transitioned the articulum but died before stamping the task.
func (s *RecoveryStorage) RescueOrphanedArticulums(ctx context.Context) (int, error) {
	result, err := s.db.pool.Exec(ctx, `
		UPDATE articulums
		SET state = $1, state_updated_at = NOW(), updated_at = NOW()
		WHERE state = $2
		  AND EXISTS (
			SELECT 1 FROM catalog_tasks t
			WHERE t.articulum_id = articulums.id AND t.status = $3
		  )`,
		string(models.ArticulumStateNew),
		string(models.ArticulumStateCatalogParsing),
		string(models.TaskStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to rescue orphaned articulums: %w", err)
	}

	fixed := int(result.RowsAffected())
	if fixed > 0 {
		s.logger.Warn().Int("articulums", fixed).Msg("Rolled orphaned articulums back to NEW")
	}
	return fixed, nil
}

// ReapStaleProxies releases every lease whose worker id is not in
// liveWorkers. Catches leases leaked by a previous process whose
// workers held no in-flight task, which the task rescues never see.
// Live workers keep their leases even when idle between tasks.
func (s *RecoveryStorage) ReapStaleProxies(ctx context.Context, liveWorkers []string) (int64, error) {
	result, err := s.db.pool.Exec(ctx, `
		UPDATE proxies
		SET is_in_use = FALSE, worker_id = NULL
		WHERE is_in_use = TRUE
		  AND is_blocked = FALSE
		  AND NOT (worker_id = ANY($1))`, liveWorkers)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale proxy leases: %w", err)
	}

	reaped := result.RowsAffected()
	if reaped > 0 {
		s.logger.Warn().Int64("proxies", reaped).Msg("Released stale proxy leases")
	}
	return reaped, nil
}

// ReleaseWorkerResources frees everything a dead worker held: its proxy
// leases and its processing tasks in both queues, in one transaction.
func (s *RecoveryStorage) ReleaseWorkerResources(ctx context.Context, workerID string) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE proxies
		SET is_in_use = FALSE, worker_id = NULL
		WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("failed to release proxies of worker %s: %w", workerID, err)
	}

	catalog, err := tx.Exec(ctx, `
		UPDATE catalog_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE worker_id = $2 AND status = $3`,
		string(models.TaskStatusPending), workerID, string(models.TaskStatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to return catalog tasks of worker %s: %w", workerID, err)
	}

	object, err := tx.Exec(ctx, `
		UPDATE object_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE worker_id = $2 AND status = $3`,
		string(models.TaskStatusPending), workerID, string(models.TaskStatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to return object tasks of worker %s: %w", workerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info().
		Str("worker_id", workerID).
		Int64("catalog_tasks", catalog.RowsAffected()).
		Int64("object_tasks", object.RowsAffected()).
		Msg("Released worker resources")
	return nil
}
