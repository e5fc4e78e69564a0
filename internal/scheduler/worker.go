package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/lease"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// runTypeSchedulerFire is the cron_job_leases row this worker contends for
// when leasing is enabled.
const runTypeSchedulerFire = "scheduler-fire"

// Worker polls scheduled_jobs on a fixed cadence and POSTs each due job's
// payload to its callback URL, at-least-once. A visibility-timeout style
// claim (claimed_at) stands in for a lease: a job that fails to complete
// within AvailabilityTimeout becomes reclaimable again without an explicit
// retry counter reset.
type Worker struct {
	pool     *pgxpool.Pool
	client   *http.Client
	cfg      config.SchedulerConfig
	cron     *cron.Cron
	leaseMgr *lease.Manager
	holderID string
}

// NewWorker builds a Worker. Call Start to begin polling.
func NewWorker(pool *pgxpool.Pool, cfg config.SchedulerConfig) *Worker {
	return &Worker{
		pool:   pool,
		client: &http.Client{Timeout: cfg.CallbackTimeout},
		cfg:    cfg,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// WithLease makes the worker's poll tick a no-op unless it holds the
// scheduler-fire lease, so running several Worker instances for high
// availability never has two of them claiming the same jobs table at once.
func (w *Worker) WithLease(mgr *lease.Manager, holderID string) *Worker {
	w.leaseMgr = mgr
	w.holderID = holderID
	return w
}

// Start schedules the poll loop at cfg.PollInterval and begins running it
// in the background. Call Stop to drain in-flight polls and halt.
func (w *Worker) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", w.cfg.PollInterval)
	_, err := w.cron.AddFunc(spec, func() { w.poll(ctx) })
	if err != nil {
		return fmt.Errorf("schedule poll loop: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the poll loop, waiting for any in-flight poll to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

type scheduledJob struct {
	Handle      string
	CallbackURL string
	Payload     json.RawMessage
	Attempts    int
}

func (w *Worker) poll(ctx context.Context) {
	if w.leaseMgr != nil {
		held, err := w.leaseMgr.TryAcquire(ctx, runTypeSchedulerFire, w.holderID, 2*w.cfg.PollInterval)
		if err != nil {
			slog.ErrorContext(ctx, "acquire scheduler-fire lease", "error", err)
			return
		}
		if !held {
			return
		}
	}

	jobs, err := w.claim(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "claim scheduled jobs", "error", err)
		return
	}
	for _, j := range jobs {
		w.fire(ctx, j)
	}
}

// claim locks up to BatchSize due, unclaimed-or-expired jobs and marks them
// claimed, returning them for delivery outside the transaction (the HTTP
// call is not part of the atomic claim). Each returned job's Attempts
// counts this claim.
func (w *Worker) claim(ctx context.Context) ([]scheduledJob, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT handle, callback_url, payload, attempts + 1
		FROM scheduled_jobs
		WHERE done = false AND run_at <= now()
		  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $1))
		ORDER BY run_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, w.cfg.AvailabilityTimeout.Seconds(), w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}

	var jobs []scheduledJob
	var handles []string
	for rows.Next() {
		var j scheduledJob
		if err := rows.Scan(&j.Handle, &j.CallbackURL, &j.Payload, &j.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		jobs = append(jobs, j)
		handles = append(handles, j.Handle)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, h := range handles {
		if _, err := tx.Exec(ctx, `
			UPDATE scheduled_jobs SET claimed_at = now(), attempts = attempts + 1 WHERE handle = $1
		`, h); err != nil {
			return nil, fmt.Errorf("mark job claimed: %w", err)
		}
	}

	return jobs, tx.Commit(ctx)
}

// fire POSTs j's payload to its callback URL. Success marks the job done;
// exhausting MaxAttempts also marks it done (give up) rather than retrying
// forever. Anything in between is left claimed and becomes reclaimable
// once AvailabilityTimeout elapses.
func (w *Worker) fire(ctx context.Context, j scheduledJob) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, j.CallbackURL, bytes.NewReader(j.Payload))
	if err != nil {
		slog.ErrorContext(ctx, "build scheduler callback request", "handle", j.Handle, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.handleFailure(ctx, j, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.RemindersFired.Inc()
		w.markDone(ctx, j.Handle)
		return
	}
	w.handleFailure(ctx, j, fmt.Sprintf("callback returned status %d", resp.StatusCode))
}

func (w *Worker) handleFailure(ctx context.Context, j scheduledJob, reason string) {
	slog.WarnContext(ctx, "scheduler callback failed", "handle", j.Handle, "attempts", j.Attempts, "reason", reason)
	if j.Attempts >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "scheduler job exhausted retries, giving up", "handle", j.Handle)
		w.markDone(ctx, j.Handle)
	}
	// Otherwise leave it claimed; it becomes reclaimable after AvailabilityTimeout.
}

func (w *Worker) markDone(ctx context.Context, handle string) {
	if _, err := w.pool.Exec(ctx, `UPDATE scheduled_jobs SET done = true WHERE handle = $1`, handle); err != nil {
		slog.ErrorContext(ctx, "mark scheduled job done", "handle", handle, "error", err)
	}
}
