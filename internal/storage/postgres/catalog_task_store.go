package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// CatalogTaskStorage implements the PostgreSQL catalog-parse work queue
type CatalogTaskStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewCatalogTaskStorage creates a new catalog task storage instance
func NewCatalogTaskStorage(db *PostgresDB, logger arbor.ILogger) interfaces.CatalogTaskStorage {
	return &CatalogTaskStorage{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a pending task with checkpoint_page=1. Articulum state
// is not touched.
func (s *CatalogTaskStorage) Enqueue(ctx context.Context, articulumID int64) error {
	_, err := s.db.pool.Exec(ctx,
		"INSERT INTO catalog_tasks (articulum_id) VALUES ($1)", articulumID)
	if err != nil {
		return fmt.Errorf("failed to enqueue catalog task for articulum %d: %w", articulumID, err)
	}
	return nil
}

// EnqueueMissing inserts pending tasks for every NEW articulum without a
// live task. Returns the number of tasks created.
func (s *CatalogTaskStorage) EnqueueMissing(ctx context.Context) (int64, error) {
	result, err := s.db.pool.Exec(ctx, `
		INSERT INTO catalog_tasks (articulum_id)
		SELECT a.id FROM articulums a
		WHERE a.state = $1
		  AND NOT EXISTS (
			SELECT 1 FROM catalog_tasks t
			WHERE t.articulum_id = a.id AND t.status IN ($2, $3)
		  )`,
		string(models.ArticulumStateNew),
		string(models.TaskStatusPending), string(models.TaskStatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue missing catalog tasks: %w", err)
	}
	return result.RowsAffected(), nil
}

// Acquire claims the oldest pending task whose articulum is NEW. The
// claim and the NEW -> CATALOG_PARSING transition happen in one
// transaction; losing the transition race rolls back and returns nil.
func (s *CatalogTaskStorage) Acquire(ctx context.Context, workerID string) (*models.CatalogTask, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	task := &models.CatalogTask{}
	err = tx.QueryRow(ctx, `
		SELECT t.id, t.articulum_id, a.articulum, t.checkpoint_page, t.created_at
		FROM catalog_tasks t
		JOIN articulums a ON a.id = t.articulum_id
		WHERE t.status = $1 AND a.state = $2
		ORDER BY t.created_at, t.id
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED`,
		string(models.TaskStatusPending), string(models.ArticulumStateNew)).
		Scan(&task.ID, &task.ArticulumID, &task.Articulum, &task.CheckpointPage, &task.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select catalog task: %w", err)
	}

	ok, err := transitionState(ctx, tx, task.ArticulumID, models.ArticulumStateNew, models.ArticulumStateCatalogParsing)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another claimer moved the articulum between our join and the
		// transition. Benign: roll back and report nothing to do.
		return nil, nil
	}

	err = tx.QueryRow(ctx, `
		UPDATE catalog_tasks
		SET status = $1, worker_id = $2, heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $3
		RETURNING heartbeat_at, updated_at`,
		string(models.TaskStatusProcessing), workerID, task.ID).
		Scan(&task.HeartbeatAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp catalog task %d: %w", task.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	task.Status = models.TaskStatusProcessing
	task.WorkerID = workerID

	s.logger.Debug().
		Int64("task_id", task.ID).
		Str("articulum", task.Articulum).
		Str("worker_id", workerID).
		Int("checkpoint_page", task.CheckpointPage).
		Msg("Acquired catalog task")
	return task, nil
}

// CompleteWithListings persists listings, marks the task completed and
// transitions the articulum CATALOG_PARSING -> CATALOG_PARSED, all in
// one transaction. Returns the number of listings actually inserted;
// listings already known under another articulum are dropped by the
// unique avito_item_id constraint.
func (s *CatalogTaskStorage) CompleteWithListings(ctx context.Context, task *models.CatalogTask, listings []models.CatalogListing) (int, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	if len(listings) > 0 {
		batch := &pgx.Batch{}
		for _, l := range listings {
			keys := l.ImageKeys
			if keys == nil {
				keys = []string{}
			}
			batch.Queue(`
				INSERT INTO catalog_listings (
					articulum_id, avito_item_id, title, price, snippet_text,
					seller_name, seller_id, seller_rating, seller_reviews,
					image_keys, images_count
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (avito_item_id) DO NOTHING`,
				task.ArticulumID, l.AvitoItemID, l.Title, l.Price, l.SnippetText,
				l.SellerName, l.SellerID, l.SellerRating, l.SellerReviews,
				keys, l.ImagesCount)
		}

		results := tx.SendBatch(ctx, batch)
		for range listings {
			ct, err := results.Exec()
			if err != nil {
				results.Close()
				return 0, fmt.Errorf("failed to insert catalog listing: %w", err)
			}
			inserted += int(ct.RowsAffected())
		}
		if err := results.Close(); err != nil {
			return 0, fmt.Errorf("failed to close listing batch: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE catalog_tasks
		SET status = $1, worker_id = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusCompleted), task.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to complete catalog task %d: %w", task.ID, err)
	}

	ok, err := transitionState(ctx, tx, task.ArticulumID, models.ArticulumStateCatalogParsing, models.ArticulumStateCatalogParsed)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("articulum %d is no longer CATALOG_PARSING, aborting completion of task %d", task.ArticulumID, task.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info().
		Int64("task_id", task.ID).
		Str("articulum", task.Articulum).
		Int("listings", inserted).
		Int("duplicates", len(listings)-inserted).
		Msg("Catalog task completed")
	return inserted, nil
}

// Fail marks the task failed with a reason. Articulum state is untouched.
func (s *CatalogTaskStorage) Fail(ctx context.Context, taskID int64, reason string) error {
	return s.finish(ctx, taskID, models.TaskStatusFailed, reason)
}

// Invalidate marks the task invalid with a reason. Articulum state is
// untouched.
func (s *CatalogTaskStorage) Invalidate(ctx context.Context, taskID int64, reason string) error {
	return s.finish(ctx, taskID, models.TaskStatusInvalid, reason)
}

func (s *CatalogTaskStorage) finish(ctx context.Context, taskID int64, status models.TaskStatus, reason string) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE catalog_tasks
		SET status = $1, error_message = $2, worker_id = NULL, updated_at = NOW()
		WHERE id = $3`,
		string(status), reason, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark catalog task %d %s: %w", taskID, status, err)
	}
	return nil
}

// ReturnToQueue puts the task back to pending and clears ownership. The
// checkpoint survives so the next claimer resumes pagination.
func (s *CatalogTaskStorage) ReturnToQueue(ctx context.Context, taskID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE catalog_tasks
		SET status = $1, worker_id = NULL, heartbeat_at = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.TaskStatusPending), taskID)
	if err != nil {
		return fmt.Errorf("failed to return catalog task %d to queue: %w", taskID, err)
	}
	return nil
}

// UpdateCheckpoint records pagination progress.
func (s *CatalogTaskStorage) UpdateCheckpoint(ctx context.Context, taskID int64, page int) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE catalog_tasks
		SET checkpoint_page = $1, updated_at = NOW()
		WHERE id = $2`, page, taskID)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint for catalog task %d: %w", taskID, err)
	}
	return nil
}

// UpdateHeartbeat stamps the task as alive.
func (s *CatalogTaskStorage) UpdateHeartbeat(ctx context.Context, taskID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE catalog_tasks
		SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat for catalog task %d: %w", taskID, err)
	}
	return nil
}

// PendingCount returns the number of pending catalog tasks.
func (s *CatalogTaskStorage) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM catalog_tasks WHERE status = $1",
		string(models.TaskStatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending catalog tasks: %w", err)
	}
	return count, nil
}
