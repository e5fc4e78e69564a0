package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/httpx"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// Handlers serves the Audit Consumer's read-only HTTP surface.
type Handlers struct {
	store *Store
	list  config.ListConfig
}

// NewHandlers builds Handlers.
func NewHandlers(store *Store, list config.ListConfig) *Handlers {
	return &Handlers{store: store, list: list}
}

// NewRouter wires /health and /audit.
func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"}) })
	r.Handle("/metrics", metrics.Handler())
	r.Get("/audit", h.ListAuditEntries)
	return r
}

// ListAuditEntries serves GET /audit?user&task?&event_type?&limit?&offset.
// user is required: the read side always scopes to a single user, matching
// the Task API's per-user isolation.
func (h *Handlers) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user")
	if userID == "" {
		httpx.Error(w, domain.ErrUnauthenticated)
		return
	}

	p := domain.ListAuditParams{
		UserID: userID,
		Limit:  h.list.DefaultPageSize,
	}
	if v := q.Get("task"); v != "" {
		p.TaskID = &v
	}
	if v := q.Get("event_type"); v != "" {
		et := domain.EventType(v)
		p.EventType = &et
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.Error(w, domain.ErrInvalidFieldType)
			return
		}
		p.Limit = n
	}
	if p.Limit > domain.MaxAuditLimit {
		p.Limit = domain.MaxAuditLimit
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpx.Error(w, domain.ErrInvalidFieldType)
			return
		}
		p.Offset = n
	}

	entries, err := h.store.ListAuditEntries(r.Context(), p)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
