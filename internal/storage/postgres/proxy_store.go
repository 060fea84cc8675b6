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

const proxyColumns = `id, host, port, username, password, is_blocked, is_in_use,
	COALESCE(worker_id, ''), consecutive_errors, last_error_at, COALESCE(block_reason, ''), created_at`

// ProxyStorage implements the PostgreSQL exclusive-lease proxy pool
type ProxyStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewProxyStorage creates a new proxy storage instance
func NewProxyStorage(db *PostgresDB, logger arbor.ILogger) interfaces.ProxyStorage {
	return &ProxyStorage{
		db:     db,
		logger: logger,
	}
}

func scanProxy(row pgx.Row) (*models.Proxy, error) {
	var p models.Proxy
	err := row.Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password,
		&p.IsBlocked, &p.IsInUse, &p.WorkerID, &p.ConsecutiveErrors,
		&p.LastErrorAt, &p.BlockReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Acquire leases the lowest-id unblocked, unleased proxy for workerID.
// A lease already held under workerID is resumed instead; that is how a
// restarted worker with the same identity picks up where the dead
// process left off. Returns nil when the pool is dry.
func (s *ProxyStorage) Acquire(ctx context.Context, workerID string) (*models.Proxy, error) {
	resume := fmt.Sprintf(`
		SELECT %s FROM proxies
		WHERE worker_id = $1 AND is_in_use = TRUE AND is_blocked = FALSE
		ORDER BY id
		LIMIT 1`, proxyColumns)

	proxy, err := scanProxy(s.db.pool.QueryRow(ctx, resume, workerID))
	if err == nil {
		s.logger.Info().
			Int64("proxy_id", proxy.ID).
			Str("proxy", proxy.Addr()).
			Str("worker_id", workerID).
			Msg("Resumed existing proxy lease")
		return proxy, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up existing lease: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE proxies
		SET is_in_use = TRUE, worker_id = $1
		WHERE id = (
			SELECT id FROM proxies
			WHERE is_blocked = FALSE AND is_in_use = FALSE
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, proxyColumns)

	proxy, err = scanProxy(s.db.pool.QueryRow(ctx, query, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire proxy: %w", err)
	}

	s.logger.Debug().
		Int64("proxy_id", proxy.ID).
		Str("proxy", proxy.Addr()).
		Str("worker_id", workerID).
		Msg("Acquired proxy")
	return proxy, nil
}

// Release clears the lease. Blocked proxies are left untouched so a
// block can never be undone by a late release.
func (s *ProxyStorage) Release(ctx context.Context, proxyID int64) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE proxies
		SET is_in_use = FALSE, worker_id = NULL
		WHERE id = $1 AND is_blocked = FALSE`, proxyID)
	if err != nil {
		return fmt.Errorf("failed to release proxy %d: %w", proxyID, err)
	}
	return nil
}

// Block permanently retires the proxy and clears the lease.
func (s *ProxyStorage) Block(ctx context.Context, proxyID int64, reason string) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE proxies
		SET is_blocked = TRUE, is_in_use = FALSE, worker_id = NULL,
		    block_reason = $1, last_error_at = NOW()
		WHERE id = $2`, reason, proxyID)
	if err != nil {
		return fmt.Errorf("failed to block proxy %d: %w", proxyID, err)
	}

	s.logger.Warn().
		Int64("proxy_id", proxyID).
		Str("reason", reason).
		Msg("Proxy blocked")
	return nil
}

// IncrementError bumps consecutive_errors atomically. Reaching
// maxErrors blocks the proxy; below it the proxy is released with the
// counter kept. Returns whether the proxy ended up blocked.
func (s *ProxyStorage) IncrementError(ctx context.Context, proxyID int64, description string, maxErrors int) (bool, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	err = tx.QueryRow(ctx, `
		UPDATE proxies
		SET consecutive_errors = consecutive_errors + 1, last_error_at = NOW()
		WHERE id = $1
		RETURNING consecutive_errors`, proxyID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("proxy %d not found", proxyID)
		}
		return false, fmt.Errorf("failed to increment proxy %d errors: %w", proxyID, err)
	}

	blocked := count >= maxErrors
	if blocked {
		_, err = tx.Exec(ctx, `
			UPDATE proxies
			SET is_blocked = TRUE, is_in_use = FALSE, worker_id = NULL, block_reason = $1
			WHERE id = $2`,
			fmt.Sprintf("%d consecutive errors: %s", count, description), proxyID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE proxies
			SET is_in_use = FALSE, worker_id = NULL
			WHERE id = $1 AND is_blocked = FALSE`, proxyID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update proxy %d after error: %w", proxyID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if blocked {
		s.logger.Warn().
			Int64("proxy_id", proxyID).
			Int("consecutive_errors", count).
			Str("error", description).
			Msg("Proxy blocked after repeated errors")
	} else {
		s.logger.Debug().
			Int64("proxy_id", proxyID).
			Int("consecutive_errors", count).
			Str("error", description).
			Msg("Proxy error recorded")
	}
	return blocked, nil
}

// ResetErrorCounter zeroes the error budget after a confirmed success.
func (s *ProxyStorage) ResetErrorCounter(ctx context.Context, proxyID int64) error {
	_, err := s.db.pool.Exec(ctx,
		"UPDATE proxies SET consecutive_errors = 0 WHERE id = $1", proxyID)
	if err != nil {
		return fmt.Errorf("failed to reset error counter for proxy %d: %w", proxyID, err)
	}
	return nil
}

// ReleaseByWorker clears every lease held by workerID. Returns the
// number of proxies released.
func (s *ProxyStorage) ReleaseByWorker(ctx context.Context, workerID string) (int64, error) {
	result, err := s.db.pool.Exec(ctx, `
		UPDATE proxies
		SET is_in_use = FALSE, worker_id = NULL
		WHERE worker_id = $1`, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to release proxies of worker %s: %w", workerID, err)
	}
	return result.RowsAffected(), nil
}

// Upsert registers a proxy or refreshes its password. Existing rows
// keep their block and lease state; a loader run never unblocks.
func (s *ProxyStorage) Upsert(ctx context.Context, proxy *models.Proxy) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO proxies (host, port, username, password)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (host, port, username) DO UPDATE SET password = EXCLUDED.password`,
		proxy.Host, proxy.Port, proxy.Username, proxy.Password)
	if err != nil {
		return fmt.Errorf("failed to upsert proxy %s: %w", proxy.Addr(), err)
	}
	return nil
}

// Stats returns a census of the pool for periodic logging.
func (s *ProxyStorage) Stats(ctx context.Context) (*models.ProxyStats, error) {
	stats := &models.ProxyStats{}
	err := s.db.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_blocked = FALSE AND is_in_use = FALSE),
		       COUNT(*) FILTER (WHERE is_in_use = TRUE),
		       COUNT(*) FILTER (WHERE is_blocked = TRUE)
		FROM proxies`).
		Scan(&stats.Total, &stats.Available, &stats.InUse, &stats.Blocked)
	if err != nil {
		return nil, fmt.Errorf("failed to collect proxy stats: %w", err)
	}
	return stats, nil
}
