package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh/internal/events"
)

// Sink delivers one reminder-fire notification. The minimum viable sink is
// a structured log line; a webhook sink is pluggable via SinkKind.
type Sink interface {
	Send(ctx context.Context, data events.ReminderFireData) error
}

// LogSink writes the notification as a structured log line. This is the
// default sink: it requires no external dependency and still gives every
// fired reminder an observable, idempotent effect.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, data events.ReminderFireData) error {
	slog.InfoContext(ctx, "reminder fired",
		"reminder_id", data.ReminderID, "task_id", data.TaskID, "user_id", data.UserID,
		"title", data.Title, "remind_at", data.RemindAt)
	return nil
}

// WebhookSink POSTs the notification payload to a fixed URL. A non-2xx
// response or network error is treated as a transient failure so the
// consumer loop nacks the delivery for redelivery rather than dropping it.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink builds a WebhookSink with a bounded request timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Send(ctx context.Context, data events.ReminderFireData) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink returned status %d", resp.StatusCode)
	}
	return nil
}
