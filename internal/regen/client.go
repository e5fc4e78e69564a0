package regen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/taskmesh/taskmesh/internal/auth"
	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/domain"
)

// ErrTaskAPIRejected marks a 4xx response from the Task API: the request
// itself was malformed or invalid, so retrying it verbatim would never
// succeed. The caller acks the delivery rather than looping forever.
var ErrTaskAPIRejected = errors.New("task api rejected create-task request")

// newTaskRequest mirrors taskapi's createTaskRequest wire shape exactly;
// the regenerator is just another client of the public create-task endpoint.
type newTaskRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       *string  `json:"priority"`
	Tags           []string `json:"tags"`
	DueAt          *string  `json:"due_at"`
	IsRecurring    bool     `json:"is_recurring"`
	RecurrenceRule *string  `json:"recurrence_rule"`
}

// TaskAPIClient creates the next occurrence of a recurring task by calling
// the Task API's own HTTP surface, guarded by a circuit breaker so a
// struggling Task API doesn't pile up goroutines and retries here.
type TaskAPIClient struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// NewTaskAPIClient builds a TaskAPIClient from RecurConfig.
func NewTaskAPIClient(cfg config.RecurConfig) *TaskAPIClient {
	settings := gobreaker.Settings{
		Name:        "task-api",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailureRate
		},
	}
	return &TaskAPIClient{
		baseURL: cfg.TaskAPIBaseURL,
		secret:  cfg.Auth.JWTSigningSecret,
		http:    &http.Client{Timeout: cfg.TaskAPITimeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// CreateTask creates the next occurrence of a recurring task on behalf of
// userID. It retries transient failures (network errors, 5xx) a bounded
// number of times through the breaker; a 4xx response is never retried and
// is reported as ErrTaskAPIRejected.
func (c *TaskAPIClient) CreateTask(ctx context.Context, userID string, fields domain.NewTaskFields) (*domain.Task, error) {
	token, err := auth.Mint(c.secret, userID, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("mint service token: %w", err)
	}

	body, err := json.Marshal(toNewTaskRequest(fields))
	if err != nil {
		return nil, fmt.Errorf("marshal create-task request: %w", err)
	}

	op := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/%s/tasks", c.baseURL, userID), bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.breaker.Execute(func() (*http.Response, error) { return c.http.Do(req) })
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			resp.Body.Close()
			return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrTaskAPIRejected, resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("task api returned status %d", resp.StatusCode)
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op, backoff.WithMaxTries(4))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read create-task response: %w", err)
	}
	var t domain.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode create-task response: %w", err)
	}
	return &t, nil
}

func toNewTaskRequest(f domain.NewTaskFields) newTaskRequest {
	req := newTaskRequest{
		Title:          f.Title,
		Description:    f.Description,
		Priority:       f.Priority,
		Tags:           f.Tags,
		IsRecurring:    f.IsRecurring,
		RecurrenceRule: f.RecurrenceRule,
	}
	if f.DueAt != nil {
		s := f.DueAt.UTC().Format(time.RFC3339)
		req.DueAt = &s
	}
	return req
}
