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

// ErrTerminalState is returned when a transition out of a terminal
// lifecycle state is attempted. No typed transition leaves a terminal
// state, so hitting this means a caller bug, not a data race.
var ErrTerminalState = errors.New("articulum is in a terminal state")

const articulumColumns = "id, articulum, state, state_updated_at, created_at, updated_at"

// ArticulumStorage implements PostgreSQL storage for the articulum
// lifecycle state machine
type ArticulumStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewArticulumStorage creates a new articulum storage instance
func NewArticulumStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ArticulumStorage {
	return &ArticulumStorage{
		db:     db,
		logger: logger,
	}
}

func scanArticulum(row pgx.Row) (*models.Articulum, error) {
	var a models.Articulum
	err := row.Scan(&a.ID, &a.Articulum, &a.State, &a.StateUpdatedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create registers an articulum in state NEW. Registering an existing
// articulum returns the existing row unchanged.
func (s *ArticulumStorage) Create(ctx context.Context, articulum string) (*models.Articulum, error) {
	query := fmt.Sprintf(`
		INSERT INTO articulums (articulum)
		VALUES ($1)
		ON CONFLICT (articulum) DO NOTHING
		RETURNING %s`, articulumColumns)

	a, err := scanArticulum(s.db.pool.QueryRow(ctx, query, articulum))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.GetByName(ctx, articulum)
		}
		return nil, fmt.Errorf("failed to create articulum: %w", err)
	}

	return a, nil
}

// CreateBatch registers articulums in bulk, skipping ones already
// present. Returns the number of rows actually inserted.
func (s *ArticulumStorage) CreateBatch(ctx context.Context, articulums []string) (int64, error) {
	if len(articulums) == 0 {
		return 0, nil
	}

	result, err := s.db.pool.Exec(ctx, `
		INSERT INTO articulums (articulum)
		SELECT unnest($1::text[])
		ON CONFLICT (articulum) DO NOTHING`, articulums)
	if err != nil {
		return 0, fmt.Errorf("failed to create articulums: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetByID retrieves an articulum by primary key. Returns nil when not found.
func (s *ArticulumStorage) GetByID(ctx context.Context, id int64) (*models.Articulum, error) {
	query := fmt.Sprintf("SELECT %s FROM articulums WHERE id = $1", articulumColumns)

	a, err := scanArticulum(s.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get articulum %d: %w", id, err)
	}

	return a, nil
}

// GetByName retrieves an articulum by its part number. Returns nil when
// not found.
func (s *ArticulumStorage) GetByName(ctx context.Context, articulum string) (*models.Articulum, error) {
	query := fmt.Sprintf("SELECT %s FROM articulums WHERE articulum = $1", articulumColumns)

	a, err := scanArticulum(s.db.pool.QueryRow(ctx, query, articulum))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get articulum %q: %w", articulum, err)
	}

	return a, nil
}

// StateCounts returns the number of articulums per lifecycle state.
func (s *ArticulumStorage) StateCounts(ctx context.Context) (map[models.ArticulumState]int, error) {
	rows, err := s.db.pool.Query(ctx, "SELECT state, COUNT(*) FROM articulums GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count articulum states: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ArticulumState]int)
	for rows.Next() {
		var state models.ArticulumState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = count
	}

	return counts, rows.Err()
}

// transitionState performs one conditional state update. The boolean
// result reports whether the row was in the expected source state.
// Runs against the pool or an open transaction.
func transitionState(ctx context.Context, db execer, id int64, from, to models.ArticulumState) (bool, error) {
	if from.IsTerminal() {
		return false, fmt.Errorf("%w: articulum %d cannot leave %s", ErrTerminalState, id, from)
	}

	result, err := db.Exec(ctx, `
		UPDATE articulums
		SET state = $1, state_updated_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND state = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition articulum %d to %s: %w", id, to, err)
	}

	return result.RowsAffected() == 1, nil
}

// ToCatalogParsing transitions NEW -> CATALOG_PARSING
func (s *ArticulumStorage) ToCatalogParsing(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateNew, models.ArticulumStateCatalogParsing)
}

// ToCatalogParsed transitions CATALOG_PARSING -> CATALOG_PARSED
func (s *ArticulumStorage) ToCatalogParsed(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateCatalogParsing, models.ArticulumStateCatalogParsed)
}

// ToValidating transitions CATALOG_PARSED -> VALIDATING
func (s *ArticulumStorage) ToValidating(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateCatalogParsed, models.ArticulumStateValidating)
}

// ToValidated transitions VALIDATING -> VALIDATED
func (s *ArticulumStorage) ToValidated(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateValidating, models.ArticulumStateValidated)
}

// ToObjectParsing transitions VALIDATED -> OBJECT_PARSING
func (s *ArticulumStorage) ToObjectParsing(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateValidated, models.ArticulumStateObjectParsing)
}

// Reject transitions VALIDATING -> REJECTED_BY_MIN_COUNT
func (s *ArticulumStorage) Reject(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateValidating, models.ArticulumStateRejected)
}

// RollbackToCatalogParsed transitions VALIDATING -> CATALOG_PARSED, used
// when a validation run cannot finish and the articulum must become
// claimable again.
func (s *ArticulumStorage) RollbackToCatalogParsed(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateValidating, models.ArticulumStateCatalogParsed)
}

// RollbackToNew transitions CATALOG_PARSING -> NEW, used when abandoned
// catalog work is rescued.
func (s *ArticulumStorage) RollbackToNew(ctx context.Context, id int64) (bool, error) {
	return transitionState(ctx, s.db.pool, id, models.ArticulumStateCatalogParsing, models.ArticulumStateNew)
}

// ClaimForValidation atomically claims the oldest CATALOG_PARSED
// articulum by moving it to VALIDATING. Concurrent claimers skip rows
// locked by each other. Returns nil when none are eligible.
func (s *ArticulumStorage) ClaimForValidation(ctx context.Context) (*models.Articulum, error) {
	query := fmt.Sprintf(`
		UPDATE articulums
		SET state = $1, state_updated_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM articulums
			WHERE state = $2
			ORDER BY state_updated_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, articulumColumns)

	a, err := scanArticulum(s.db.pool.QueryRow(ctx, query,
		string(models.ArticulumStateValidating), string(models.ArticulumStateCatalogParsed)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim articulum for validation: %w", err)
	}

	s.logger.Debug().
		Int64("articulum_id", a.ID).
		Str("articulum", a.Articulum).
		Msg("Claimed articulum for validation")
	return a, nil
}

// MarkValidated transitions VALIDATING -> VALIDATED and, when
// materialize is true, creates object tasks for every listing that
// passed all required stages. Both happen in one transaction: losing
// the transition aborts without creating tasks.
func (s *ArticulumStorage) MarkValidated(ctx context.Context, id int64, materialize bool) (int64, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := transitionState(ctx, tx, id, models.ArticulumStateValidating, models.ArticulumStateValidated)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("articulum %d is no longer VALIDATING", id)
	}

	var created int64
	if materialize {
		created, err = createObjectTasksForArticulum(ctx, tx, id)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info().
		Int64("articulum_id", id).
		Int64("object_tasks", created).
		Msg("Articulum validated")
	return created, nil
}
