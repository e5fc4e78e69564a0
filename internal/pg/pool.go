package pg

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool opens a pgxpool.Pool for runtime queries. Pool size auto-scales
// off GOMAXPROCS when maxOpen/minIdle are zero, since containers rarely set
// an explicit pool size that matches their CPU limit. Every connection is
// pinned to UTC so timestamp arithmetic never depends on the server's locale.
func OpenPool(ctx context.Context, dsn string, maxOpen, minIdle int, maxLifetime, maxIdleTime time.Duration) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	maxConns := int32(maxOpen)
	if maxConns <= 0 {
		maxConns = int32(runtime.GOMAXPROCS(0) * 4)
	}
	minConns := int32(minIdle)
	if minConns <= 0 {
		minConns = int32(runtime.GOMAXPROCS(0))
	}
	if maxLifetime <= 0 {
		maxLifetime = 30 * time.Minute
	}
	if maxIdleTime <= 0 {
		maxIdleTime = 5 * time.Minute
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = maxLifetime
	poolConfig.MaxConnIdleTime = maxIdleTime
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET TIMEZONE='UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
