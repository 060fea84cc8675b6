package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// objectQueueLockID serializes object-task claims so the processing cap
// cannot be overshot by concurrent acquirers. Transaction-scoped, so the
// lock is held only for the claim itself.
const objectQueueLockID = 874001

// ObjectTaskStorage implements the PostgreSQL detail-parse work queue
type ObjectTaskStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewObjectTaskStorage creates a new object task storage instance
func NewObjectTaskStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ObjectTaskStorage {
	return &ObjectTaskStorage{
		db:     db,
		logger: logger,
	}
}

// Acquire claims the oldest pending task unless maxProcessing tasks are
// already in flight. Count check and claim run under an advisory lock in
// one transaction.
func (s *ObjectTaskStorage) Acquire(ctx context.Context, workerID string, maxProcessing int) (*models.ObjectTask, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", objectQueueLockID); err != nil {
		return nil, fmt.Errorf("failed to take queue lock: %w", err)
	}

	var processing int
	err = tx.QueryRow(ctx, "SELECT COUNT(*) FROM object_tasks WHERE status = $1",
		string(models.TaskStatusProcessing)).Scan(&processing)
	if err != nil {
		return nil, fmt.Errorf("failed to count processing object tasks: %w", err)
	}
	if processing >= maxProcessing {
		return nil, nil
	}

	task := &models.ObjectTask{}
	err = tx.QueryRow(ctx, `
		SELECT t.id, t.articulum_id, a.articulum, t.avito_item_id, t.created_at
		FROM object_tasks t
		JOIN articulums a ON a.id = t.articulum_id
		WHERE t.status = $1
		ORDER BY t.created_at, t.id
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED`,
		string(models.TaskStatusPending)).
		Scan(&task.ID, &task.ArticulumID, &task.Articulum, &task.AvitoItemID, &task.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select object task: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE object_tasks
		SET status = $1, worker_id = $2, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $3
		RETURNING heartbeat_at, updated_at`,
		string(models.TaskStatusProcessing), workerID, task.ID).
		Scan(&task.HeartbeatAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp object task %d: %w", task.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	task.Status = models.TaskStatusProcessing
	task.WorkerID = workerID

	s.logger.Debug().
		Int64("task_id", task.ID).
		Str("articulum", task.Articulum).
		Str("avito_item_id", task.AvitoItemID).
		Str("worker_id", workerID).
		Msg("Acquired object task")
	return task, nil
}

// createObjectTasksForArticulum inserts one task per listing of the
// articulum that has a passed result for every required validation
// stage. The ai stage is required only when ai rows exist for the
// articulum at all. Existing (articulum, item) pairs are left alone.
func createObjectTasksForArticulum(ctx context.Context, db execer, articulumID int64) (int64, error) {
	result, err := db.Exec(ctx, `
		INSERT INTO object_tasks (articulum_id, avito_item_id)
		SELECT v.articulum_id, v.avito_item_id
		FROM validation_results v
		WHERE v.articulum_id = $1
		GROUP BY v.articulum_id, v.avito_item_id
		HAVING bool_or(v.validation_type = 'price_filter' AND v.passed)
		   AND bool_or(v.validation_type = 'mechanical' AND v.passed)
		   AND (bool_or(v.validation_type = 'ai' AND v.passed)
			OR NOT EXISTS (
				SELECT 1 FROM validation_results x
				WHERE x.articulum_id = v.articulum_id AND x.validation_type = 'ai'
			))
		ON CONFLICT (articulum_id, avito_item_id) DO NOTHING`,
		articulumID)
	if err != nil {
		return 0, fmt.Errorf("failed to create object tasks for articulum %d: %w", articulumID, err)
	}
	return result.RowsAffected(), nil
}

// CreateForArticulum materializes object tasks for every fully passed
// listing of the articulum. Idempotent.
func (s *ObjectTaskStorage) CreateForArticulum(ctx context.Context, articulumID int64) (int64, error) {
	return createObjectTasksForArticulum(ctx, s.db.pool, articulumID)
}

// Complete marks the task completed. The articulum moved to
// OBJECT_PARSING when its first task was picked up, so no transition
// happens here.
func (s *ObjectTaskStorage) Complete(ctx context.Context, taskID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE object_tasks
		SET status = $1, worker_id = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusCompleted), taskID)
	if err != nil {
		return fmt.Errorf("failed to complete object task %d: %w", taskID, err)
	}
	return nil
}

// Fail marks the task failed with a reason.
func (s *ObjectTaskStorage) Fail(ctx context.Context, taskID int64, reason string) error {
	return s.finish(ctx, taskID, models.TaskStatusFailed, reason)
}

// Invalidate marks the task invalid, used when the marketplace removed
// the listing or it turned out unusable.
func (s *ObjectTaskStorage) Invalidate(ctx context.Context, taskID int64, reason string) error {
	return s.finish(ctx, taskID, models.TaskStatusInvalid, reason)
}

func (s *ObjectTaskStorage) finish(ctx context.Context, taskID int64, status models.TaskStatus, reason string) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE object_tasks
		SET status = $1, error_message = $2, worker_id = NULL, updated_at = NOW()
		WHERE id = $3`,
		string(status), reason, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark object task %d %s: %w", taskID, status, err)
	}
	return nil
}

// ReturnToQueue puts the task back to pending and clears ownership.
func (s *ObjectTaskStorage) ReturnToQueue(ctx context.Context, taskID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE object_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusPending), taskID)
	if err != nil {
		return fmt.Errorf("failed to return object task %d to queue: %w", taskID, err)
	}
	return nil
}

// UpdateHeartbeat stamps the task as alive.
func (s *ObjectTaskStorage) UpdateHeartbeat(ctx context.Context, taskID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE object_tasks
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for object task %d: %w", taskID, err)
	}
	return nil
}

// SeedFromValidated re-materializes tasks for every articulum in
// VALIDATED. States are not transitioned; the first claimed task does
// that lazily.
func (s *ObjectTaskStorage) SeedFromValidated(ctx context.Context) (int64, error) {
	result, err := s.db.pool.Exec(ctx, `
		INSERT INTO object_tasks (articulum_id, avito_item_id)
		SELECT v.articulum_id, v.avito_item_id
		FROM validation_results v
		JOIN articulums a ON a.id = v.articulum_id
		WHERE a.state = $1
		GROUP BY v.articulum_id, v.avito_item_id
		HAVING bool_or(v.validation_type = 'price_filter' AND v.passed)
		   AND bool_or(v.validation_type = 'mechanical' AND v.passed)
		   AND (bool_or(v.validation_type = 'ai' AND v.passed)
			OR NOT EXISTS (
				SELECT 1 FROM validation_results x
				WHERE x.articulum_id = v.articulum_id AND x.validation_type = 'ai'
			))
		ON CONFLICT (articulum_id, avito_item_id) DO NOTHING`,
		string(models.ArticulumStateValidated))
	if err != nil {
		return 0, fmt.Errorf("failed to seed object tasks from validated articulums: %w", err)
	}
	return result.RowsAffected(), nil
}

// SeedForReparse re-queues detail parses from object_data history.
// Eligible pairs are those whose most recent parse is at least
// minInterval old, narrowed by the filter tables when either is
// non-empty. Finished task rows are flipped back to pending; pending or
// processing rows are left alone.
func (s *ObjectTaskStorage) SeedForReparse(ctx context.Context, minInterval time.Duration) (int64, error) {
	var filtered bool
	err := s.db.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reparse_filter_items
			UNION ALL
			SELECT 1 FROM reparse_filter_articulums
			LIMIT 1
		)`).Scan(&filtered)
	if err != nil {
		return 0, fmt.Errorf("failed to check reparse filters: %w", err)
	}

	filterClause := ""
	if filtered {
		filterClause = `
		  AND od.avito_item_id IN (
			SELECT avito_item_id FROM reparse_filter_items
			UNION
			SELECT cl.avito_item_id
			FROM catalog_listings cl
			JOIN articulums fa ON fa.id = cl.articulum_id
			JOIN reparse_filter_articulums rfa ON rfa.articulum = fa.articulum
		  )`
	}

	query := fmt.Sprintf(`
		INSERT INTO object_tasks (articulum_id, avito_item_id)
		SELECT od.articulum_id, od.avito_item_id
		FROM object_data od
		WHERE TRUE%s
		GROUP BY od.articulum_id, od.avito_item_id
		HAVING EXTRACT(EPOCH FROM (NOW() - MAX(od.parsed_at))) >= $1
		ON CONFLICT (articulum_id, avito_item_id) DO UPDATE
		SET status = $2, worker_id = NULL, heartbeat_at = NULL,
		    error_message = NULL, updated_at = NOW()
		WHERE object_tasks.status NOT IN ($2, $3)`, filterClause)

	result, err := s.db.pool.Exec(ctx, query,
		minInterval.Seconds(),
		string(models.TaskStatusPending), string(models.TaskStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to seed reparse object tasks: %w", err)
	}

	s.logger.Info().
		Int64("tasks", result.RowsAffected()).
		Bool("filtered", filtered).
		Msg("Seeded object tasks for reparse")
	return result.RowsAffected(), nil
}

// ValidatedBufferCount counts distinct VALIDATED articulums that still
// have pending object tasks. Browser workers use it to decide whether
// catalog or object work comes first.
func (s *ObjectTaskStorage) ValidatedBufferCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT a.id)
		FROM articulums a
		JOIN object_tasks t ON t.articulum_id = a.id
		WHERE a.state = $1 AND t.status = $2`,
		string(models.ArticulumStateValidated), string(models.TaskStatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count validated buffer: %w", err)
	}
	return count, nil
}

// PendingCount returns the number of pending object tasks.
func (s *ObjectTaskStorage) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM object_tasks WHERE status = $1",
		string(models.TaskStatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending object tasks: %w", err)
	}
	return count, nil
}
