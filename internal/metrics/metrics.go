// Package metrics defines the Prometheus metrics shared across every
// taskmesh binary: the Task API, the outbox dispatcher, the scheduler
// worker, and each bus consumer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "taskmesh_events_published_total", Help: "Envelopes published to the bus, by topic."},
		[]string{"topic"},
	)

	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "taskmesh_events_consumed_total", Help: "Envelopes a consumer group acked, nacked, or dead-lettered."},
		[]string{"group", "outcome"},
	)

	DedupHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "taskmesh_dedup_hits_total", Help: "Deliveries recognized as already processed, by consumer group."},
		[]string{"group"},
	)

	OutboxBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "taskmesh_outbox_backlog", Help: "Unpublished outbox rows not yet dead-lettered."},
	)

	OutboxDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "taskmesh_outbox_dispatch_duration_seconds", Help: "Time to publish a single outbox row.", Buckets: prometheus.DefBuckets},
	)

	RemindersFired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "taskmesh_reminders_fired_total", Help: "Reminders the scheduler handed to the callback."},
	)

	DeadLetterDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "taskmesh_dead_letter_depth", Help: "Rows currently sitting in a consumer's dead letter table.", ConstLabels: nil},
		[]string{"group"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "taskmesh_http_requests_total", Help: "HTTP requests served, by route and status."},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "taskmesh_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsPublished,
		EventsConsumed,
		DedupHits,
		OutboxBacklog,
		OutboxDispatchDuration,
		RemindersFired,
		DeadLetterDepth,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports it to a histogram on ObserveDuration.
type Timer struct {
	start time.Time
}

func NewTimer() Timer {
	return Timer{start: time.Now()}
}

func (t Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(time.Since(t.start).Seconds())
}
