// Package consumer is the shared polling loop every bus consumer group runs:
// claim a delivery, hand it to a Handler, and Ack/Nack/dead-letter based on
// how the Handler failed. Generalizes the teacher's generation-job
// claim/process/retry loop (internal/application/worker) from jobs to bus
// deliveries.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/events"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// Handler applies one envelope's effect. Return nil on success, bus.ErrDuplicate
// (or an error satisfying bus.IsDuplicate) when the event was already applied,
// bus.Transient(err) for anything that should be redelivered, or any other
// error to mark the delivery poison (dead-lettered after this one attempt).
type Handler func(ctx context.Context, env events.Envelope) error

// DeadLetterSink persists a message a Handler could not apply, for operator
// review (ground: teacher's MoveToDeadLetter/ListDeadLetterJobs).
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg domain.DeadLetterMessage) error
}

// Loop drives a single (topic, group) subscription on a poll cadence.
type Loop struct {
	topic   string
	group   string
	sub     bus.Subscription
	handle  Handler
	dlq     DeadLetterSink
	cfg     config.BusConfig
	cron    *cron.Cron
}

// NewLoop builds a Loop. Call Start to begin polling.
func NewLoop(topic, group string, sub bus.Subscription, handle Handler, dlq DeadLetterSink, cfg config.BusConfig) *Loop {
	return &Loop{topic: topic, group: group, sub: sub, handle: handle, dlq: dlq, cfg: cfg, cron: cron.New(cron.WithSeconds())}
}

// Start schedules the poll loop at cfg.PollInterval and runs it in the
// background. Call Stop to drain in-flight polls and halt.
func (l *Loop) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", l.cfg.PollInterval)
	_, err := l.cron.AddFunc(spec, func() { l.drain(ctx) })
	if err != nil {
		return fmt.Errorf("schedule consumer poll loop: %w", err)
	}
	l.cron.Start()
	return nil
}

// Stop halts the poll loop, waiting for any in-flight poll to finish.
func (l *Loop) Stop() {
	<-l.cron.Stop().Done()
}

// drain processes up to BatchSize deliveries per tick, stopping early once
// the subscription reports empty.
func (l *Loop) drain(ctx context.Context) {
	for i := 0; i < l.cfg.BatchSize; i++ {
		if !l.processOne(ctx) {
			return
		}
	}
}

func (l *Loop) processOne(ctx context.Context) bool {
	d, err := l.sub.Next(ctx)
	if err != nil {
		if err != bus.ErrNoMessage {
			slog.ErrorContext(ctx, "claim delivery", "topic", l.topic, "group", l.group, "error", err)
		}
		return false
	}

	herr := l.safeHandle(ctx, d.Envelope)
	switch {
	case herr == nil:
		metrics.EventsConsumed.WithLabelValues(l.group, "ack").Inc()
		if err := d.Ack(ctx); err != nil {
			slog.ErrorContext(ctx, "ack delivery", "event_id", d.Envelope.ID, "error", err)
		}
	case bus.IsDuplicate(herr):
		metrics.DedupHits.WithLabelValues(l.group).Inc()
		slog.DebugContext(ctx, "duplicate delivery, acking without reapplying", "event_id", d.Envelope.ID, "group", l.group)
		if err := d.Ack(ctx); err != nil {
			slog.ErrorContext(ctx, "ack duplicate delivery", "event_id", d.Envelope.ID, "error", err)
		}
	case bus.IsRetryable(herr):
		if d.Attempts >= l.cfg.MaxAttempts {
			metrics.EventsConsumed.WithLabelValues(l.group, "dead_letter").Inc()
			slog.ErrorContext(ctx, "delivery exhausted retries, dead-lettering", "event_id", d.Envelope.ID, "group", l.group, "error", herr)
			l.deadLetter(ctx, d, herr)
			_ = d.Ack(ctx)
			break
		}
		metrics.EventsConsumed.WithLabelValues(l.group, "nack").Inc()
		slog.WarnContext(ctx, "handler failed, nacking for redelivery", "event_id", d.Envelope.ID, "group", l.group, "attempt", d.Attempts, "error", herr)
		if err := d.Nack(ctx, herr.Error()); err != nil {
			slog.ErrorContext(ctx, "nack delivery", "event_id", d.Envelope.ID, "error", err)
		}
	default:
		metrics.EventsConsumed.WithLabelValues(l.group, "dead_letter").Inc()
		slog.ErrorContext(ctx, "poison delivery, dead-lettering", "event_id", d.Envelope.ID, "group", l.group, "error", herr)
		l.deadLetter(ctx, d, herr)
		_ = d.Ack(ctx)
	}
	return true
}

// safeHandle recovers a Handler panic into an error, matching the teacher's
// PanicError idiom: programming errors go straight to dead-letter, never retried.
func (l *Loop) safeHandle(ctx context.Context, env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handle(ctx, env)
}

func (l *Loop) deadLetter(ctx context.Context, d bus.Delivery, cause error) {
	if l.dlq == nil {
		return
	}
	raw, err := json.Marshal(d.Envelope)
	if err != nil {
		slog.ErrorContext(ctx, "marshal envelope for dead letter", "event_id", d.Envelope.ID, "error", err)
		return
	}
	msg := domain.DeadLetterMessage{
		ID:       uuid.NewString(),
		Topic:    l.topic,
		Group:    l.group,
		EventID:  d.Envelope.ID,
		Envelope: raw,
		Reason:   cause.Error(),
		Attempts: d.Attempts,
		FailedAt: time.Now().UTC(),
	}
	if err := l.dlq.DeadLetter(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "persist dead letter", "event_id", d.Envelope.ID, "error", err)
	}
}
