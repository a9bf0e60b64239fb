// Package database provides the Event Store's Postgres connection pool and
// embedded schema migrations.
//
// The pack's retrieved teacher snapshot only ships ent/schema/*.go (entgo.io/ent
// schema definitions), never the generated client — that generated code only
// exists after `go generate ./ent` runs, which this exercise cannot do. Event
// Store access here is therefore hand-written SQL over jackc/pgx/v5, the same
// driver ent itself would sit on top of; see DESIGN.md for the full rationale.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	fcconfig "github.com/fuel-code/server/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the pgx connection pool used by every Event Store repository.
type Client struct {
	pool *pgxpool.Pool
}

// Pool returns the underlying connection pool for repositories and health checks.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// NewClientFromPool wraps an existing pool. Used by tests that build their
// own pool against a testcontainers-managed Postgres instance.
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// NewClient opens a pooled connection to DatabaseConfig.URL and applies
// pending migrations before returning.
func NewClient(ctx context.Context, cfg fcconfig.DatabaseConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(migrationDSN(cfg.URL)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// runMigrations applies pending migrations from the embedded migrations
// directory, following tarsy's NewClient workflow: embed at build time,
// auto-apply on startup, so a deployed binary never depends on an external
// migrations directory being present on disk.
func runMigrations(dsn string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("checking embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("closing migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration db handle: %w", dbErr)
	}
	return nil
}

// migrationDSN rewrites a standard postgres://... URL into the scheme the
// golang-migrate pgx/v5 database driver registers itself under.
func migrationDSN(dsn string) string {
	switch {
	case len(dsn) >= len("postgres://") && dsn[:len("postgres://")] == "postgres://":
		return "pgx5://" + dsn[len("postgres://"):]
	case len(dsn) >= len("postgresql://") && dsn[:len("postgresql://")] == "postgresql://":
		return "pgx5://" + dsn[len("postgresql://"):]
	default:
		return dsn
	}
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
