// Package boot holds the small amount of startup plumbing every cmd/ binary
// repeats: open a migrated Postgres pool from a DatabaseConfig. The pattern
// mirrors what every package's store_test.go already does by hand
// (pg.Open+pg.Migrate+pg.OpenPool); this just gives main() one call instead
// of three.
package boot

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/pg"
)

// OpenPool migrates (if cfg.AutoMigrate) and opens a runtime pool against
// cfg.DSN using fsys/dir as the embedded goose migration source.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig, fsys embed.FS, dir string) (*pgxpool.Pool, error) {
	if cfg.AutoMigrate {
		db, err := pg.Open(ctx, pg.PoolConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, fmt.Errorf("open migration connection: %w", err)
		}
		if err := pg.Migrate(db, fsys, dir); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if err := db.Close(); err != nil {
			return nil, fmt.Errorf("close migration connection: %w", err)
		}
	}

	pool, err := pg.OpenPool(ctx, cfg.DSN,
		cfg.MaxOpenConns, cfg.MaxIdleConns,
		time.Duration(cfg.ConnMaxLifetime)*time.Second,
		time.Duration(cfg.ConnMaxIdleTime)*time.Second,
	)
	if err != nil {
		return nil, fmt.Errorf("open runtime pool: %w", err)
	}
	return pool, nil
}

// OpenAdminSourcePool opens a plain pool against another service's database
// for the Task API's dead letter admin surface. It never migrates: the
// owning service's binary is responsible for its own schema, and the admin
// surface only reads and updates rows in a table that already exists.
func OpenAdminSourcePool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pg.OpenPool(ctx, dsn, 0, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open admin source pool: %w", err)
	}
	return pool, nil
}

// OpenBusPool migrates and opens the shared durable bus's pool. Every
// binary that publishes or subscribes calls this against the same
// TASKMESH_BUS_DSN; goose migrations are idempotent, so running them from
// more than one process at startup is safe.
func OpenBusPool(ctx context.Context, cfg config.BusConfig) (*pgxpool.Pool, error) {
	db, err := pg.Open(ctx, pg.PoolConfig{DSN: cfg.DSN})
	if err != nil {
		return nil, fmt.Errorf("open bus migration connection: %w", err)
	}
	if err := pg.Migrate(db, bus.Migrations, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate bus schema: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close bus migration connection: %w", err)
	}

	pool, err := pg.OpenPool(ctx, cfg.DSN, 0, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("open bus runtime pool: %w", err)
	}
	return pool, nil
}
