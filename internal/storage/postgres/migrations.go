package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migration represents a single schema migration
type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx pgx.Tx) error
}

// migrate runs all pending migrations in order
func (p *PostgresDB) migrate(ctx context.Context) error {
	if err := p.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: migrateV1},
		{version: 2, name: "task_indexes", up: migrateV2},
		{version: 3, name: "reparse_filters", up: migrateV3},
	}

	for _, m := range migrations {
		if err := p.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

// createMigrationsTable ensures the schema_migrations tracking table exists
func (p *PostgresDB) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	_, err := p.pool.Exec(ctx, query)
	return err
}

// runMigration applies a single migration if it has not been applied yet
func (p *PostgresDB) runMigration(ctx context.Context, m migration) error {
	var count int
	err := p.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = $1", m.version).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if count > 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := m.up(ctx, tx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.version, m.name)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	p.logger.Info().Int("version", m.version).Str("name", m.name).Msg("Applied migration")
	return nil
}

// migrateV1 creates the core tables: articulums, tasks, proxies, listings,
// validation results and object data.
func migrateV1(ctx context.Context, tx pgx.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS articulums (
			id BIGSERIAL PRIMARY KEY,
			articulum TEXT NOT NULL UNIQUE,
			state TEXT NOT NULL DEFAULT 'NEW',
			state_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_tasks (
			id BIGSERIAL PRIMARY KEY,
			articulum_id BIGINT NOT NULL REFERENCES articulums(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'pending',
			checkpoint_page INTEGER NOT NULL DEFAULT 1,
			worker_id TEXT,
			heartbeat_at TIMESTAMPTZ,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS object_tasks (
			id BIGSERIAL PRIMARY KEY,
			articulum_id BIGINT NOT NULL REFERENCES articulums(id) ON DELETE CASCADE,
			avito_item_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			worker_id TEXT,
			heartbeat_at TIMESTAMPTZ,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (articulum_id, avito_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS proxies (
			id BIGSERIAL PRIMARY KEY,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
			is_in_use BOOLEAN NOT NULL DEFAULT FALSE,
			worker_id TEXT,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			last_error_at TIMESTAMPTZ,
			block_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (host, port, username)
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_listings (
			id BIGSERIAL PRIMARY KEY,
			articulum_id BIGINT NOT NULL REFERENCES articulums(id) ON DELETE CASCADE,
			avito_item_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION,
			snippet_text TEXT NOT NULL DEFAULT '',
			seller_name TEXT NOT NULL DEFAULT '',
			seller_id TEXT NOT NULL DEFAULT '',
			seller_rating DOUBLE PRECISION,
			seller_reviews INTEGER,
			image_keys TEXT[] NOT NULL DEFAULT '{}',
			images_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS validation_results (
			id BIGSERIAL PRIMARY KEY,
			articulum_id BIGINT NOT NULL REFERENCES articulums(id) ON DELETE CASCADE,
			avito_item_id TEXT NOT NULL,
			validation_type TEXT NOT NULL,
			passed BOOLEAN NOT NULL,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS object_data (
			id BIGSERIAL PRIMARY KEY,
			articulum_id BIGINT NOT NULL REFERENCES articulums(id) ON DELETE CASCADE,
			avito_item_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION,
			seller_name TEXT NOT NULL DEFAULT '',
			seller_id TEXT NOT NULL DEFAULT '',
			seller_rating DOUBLE PRECISION,
			published_at TIMESTAMPTZ,
			description TEXT NOT NULL DEFAULT '',
			location_name TEXT NOT NULL DEFAULT '',
			location_coords TEXT NOT NULL DEFAULT '',
			characteristics JSONB NOT NULL DEFAULT '{}',
			views_total INTEGER,
			raw_html TEXT,
			parsed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// migrateV2 adds the indexes the queue and recovery queries depend on
func migrateV2(ctx context.Context, tx pgx.Tx) error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_articulums_state ON articulums(state)`,
		`CREATE INDEX IF NOT EXISTS idx_articulums_state_updated ON articulums(state, state_updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_tasks_status ON catalog_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_tasks_articulum ON catalog_tasks(articulum_id)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_tasks_heartbeat ON catalog_tasks(status, heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_object_tasks_status ON object_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_object_tasks_articulum ON object_tasks(articulum_id)`,
		`CREATE INDEX IF NOT EXISTS idx_object_tasks_heartbeat ON object_tasks(status, heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_proxies_available ON proxies(is_blocked, is_in_use)`,
		`CREATE INDEX IF NOT EXISTS idx_proxies_worker ON proxies(worker_id) WHERE worker_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_listings_articulum ON catalog_listings(articulum_id)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_results_articulum ON validation_results(articulum_id)`,
		`CREATE INDEX IF NOT EXISTS idx_validation_results_item ON validation_results(articulum_id, avito_item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_object_data_articulum ON object_data(articulum_id)`,
		`CREATE INDEX IF NOT EXISTS idx_object_data_item ON object_data(avito_item_id)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

// migrateV3 creates the re-parse filter tables. Rows in these tables scope
// re-parse seeding to an explicit subset; empty tables mean no filter.
func migrateV3(ctx context.Context, tx pgx.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reparse_filter_items (
			avito_item_id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS reparse_filter_articulums (
			articulum TEXT PRIMARY KEY
		)`,
	}

	for _, query := range queries {
		if _, err := tx.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}
