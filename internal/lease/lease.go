// Package lease provides exclusive-run leasing for singleton background
// loops, so running more than one instance of a process for high
// availability doesn't let two instances poll the same work at once.
// Ground: the teacher's TryAcquireExclusiveRun/cron_job_leases, generalized
// from a release-func API to a renew-each-tick API that fits a cron poll
// loop better than a long-lived held lock.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Manager holds exclusive-run leases in a single cron_job_leases table.
type Manager struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Manager {
	return &Manager{pool: pool}
}

// TryAcquire extends holderID's lease on runType through duration if no
// other holder currently has a live lease on it, and reports whether
// holderID now holds it. Safe to call every poll tick: a lease that has
// expired is reclaimed atomically by whichever caller asks next.
func (m *Manager) TryAcquire(ctx context.Context, runType, holderID string, duration time.Duration) (bool, error) {
	tag, err := m.pool.Exec(ctx, `
		INSERT INTO cron_job_leases (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
		WHERE cron_job_leases.expires_at < now() OR cron_job_leases.holder_id = EXCLUDED.holder_id
	`, runType, holderID, time.Now().Add(duration))
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", runType, err)
	}
	return tag.RowsAffected() > 0, nil
}
