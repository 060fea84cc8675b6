package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
)

const defaultConnectTimeout = 10 * time.Second

// execer abstracts the connection pool and a transaction so helpers can
// run under either.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB manages the PostgreSQL connection pool
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
	config *common.DatabaseConfig
}

// NewPostgresDB creates a new PostgreSQL connection pool
func NewPostgresDB(logger arbor.ILogger, config *common.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = int32(config.MinConns)
	}

	connectTimeout := common.ParseDurationOr(config.ConnectTimeout, defaultConnectTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	p := &PostgresDB{
		pool:   pool,
		logger: logger,
		config: config,
	}

	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().
		Str("host", config.Host).
		Str("database", config.Name).
		Msg("PostgreSQL database initialized")
	return p, nil
}

// Pool returns the underlying connection pool
func (p *PostgresDB) Pool() *pgxpool.Pool {
	return p.pool
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// BeginTx starts a new transaction
func (p *PostgresDB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return p.pool.Begin(ctx)
}

// Ping verifies the database connection
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
