package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/robfig/cron/v3"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/lease"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// runTypeOutboxDispatch is the cron_job_leases row this dispatcher contends
// for when leasing is enabled.
const runTypeOutboxDispatch = "outbox-dispatch"

// Dispatcher polls Store for unpublished rows and publishes each one to Bus,
// at-least-once. A row that keeps failing backs off exponentially (capped)
// until it exhausts cfg.RetryCap, at which point it is dead-lettered in
// place: the row is never deleted, only flagged, so it stays available for
// manual replay.
type Dispatcher struct {
	store    Store
	bus      bus.Bus
	cfg      config.OutboxConfig
	cron     *cron.Cron
	leaseMgr *lease.Manager
	holderID string
}

// NewDispatcher builds a Dispatcher. Call Start to begin polling.
func NewDispatcher(store Store, b bus.Bus, cfg config.OutboxConfig) *Dispatcher {
	return &Dispatcher{store: store, bus: b, cfg: cfg, cron: cron.New(cron.WithSeconds())}
}

// WithLease makes the dispatcher's poll tick a no-op unless it holds the
// outbox-dispatch lease, so running several Dispatcher instances for high
// availability never has two of them publishing the same backlog at once.
func (d *Dispatcher) WithLease(mgr *lease.Manager, holderID string) *Dispatcher {
	d.leaseMgr = mgr
	d.holderID = holderID
	return d
}

// Start schedules the poll loop at cfg.PollInterval and runs it in the
// background. Call Stop to drain in-flight polls and halt.
func (d *Dispatcher) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", d.cfg.PollInterval)
	_, err := d.cron.AddFunc(spec, func() { d.poll(ctx) })
	if err != nil {
		return fmt.Errorf("schedule outbox poll loop: %w", err)
	}
	d.cron.Start()
	return nil
}

// Stop halts the poll loop, waiting for any in-flight poll to finish.
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
}

func (d *Dispatcher) poll(ctx context.Context) {
	if d.leaseMgr != nil {
		held, err := d.leaseMgr.TryAcquire(ctx, runTypeOutboxDispatch, d.holderID, 2*d.cfg.PollInterval)
		if err != nil {
			slog.ErrorContext(ctx, "acquire outbox-dispatch lease", "error", err)
			return
		}
		if !held {
			return
		}
	}

	rows, err := d.store.Claim(ctx, d.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "claim outbox backlog", "error", err)
		return
	}
	for _, r := range rows {
		d.dispatch(ctx, r)
	}

	if backlog, err := d.store.CountBacklog(ctx); err == nil {
		metrics.OutboxBacklog.Set(float64(backlog))
		if d.cfg.HighWaterMark > 0 && backlog > d.cfg.HighWaterMark {
			slog.WarnContext(ctx, "outbox backlog above high water mark", "backlog", backlog, "high_water_mark", d.cfg.HighWaterMark)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, r Row) {
	timer := metrics.NewTimer()
	env := events.Envelope{
		SpecVersion:     "1.0",
		ID:              r.EventID,
		Type:            r.Type,
		Source:          events.SourceApp,
		Time:            r.CreatedAt,
		DataContentType: "application/json",
		PartitionKey:    r.PartitionKey,
		Data:            r.Envelope,
	}

	if err := d.bus.Publish(ctx, r.Topic, env); err != nil {
		d.handleFailure(ctx, r, err)
		return
	}
	timer.ObserveDuration(metrics.OutboxDispatchDuration)
	metrics.EventsPublished.WithLabelValues(r.Topic).Inc()
	if err := d.store.MarkPublished(ctx, r.EventID); err != nil {
		slog.ErrorContext(ctx, "mark outbox row published", "event_id", r.EventID, "error", err)
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, r Row, cause error) {
	attempt := r.Attempts + 1
	if attempt >= d.cfg.RetryCap {
		slog.ErrorContext(ctx, "outbox row exhausted retries, dead-lettering", "event_id", r.EventID, "topic", r.Topic, "error", cause)
		if err := d.store.MarkDeadLettered(ctx, r.EventID, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "dead-letter outbox row", "event_id", r.EventID, "error", err)
		}
		return
	}

	delay := retryDelay(attempt)
	slog.WarnContext(ctx, "outbox publish failed, backing off", "event_id", r.EventID, "attempt", attempt, "delay", delay, "error", cause)
	if err := d.store.MarkFailed(ctx, r.EventID, time.Now().Add(delay), cause.Error()); err != nil {
		slog.ErrorContext(ctx, "record outbox publish failure", "event_id", r.EventID, "error", err)
	}
}

// retryDelay computes the nth exponential-backoff interval using
// backoff.ExponentialBackOff's own sequence, rather than hand-rolling one.
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = time.Minute
	b.Multiplier = 2

	if attempt > 20 {
		attempt = 20
	}
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
