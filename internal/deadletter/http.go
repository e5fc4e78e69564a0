package deadletter

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/taskmesh/internal/bus"
	"github.com/taskmesh/taskmesh/internal/httpx"
)

// Handlers serves the Task API's operator-facing dead letter surface. It
// sits under /internal, assumed network-isolated from end users rather than
// gated by the per-user bearer token every other route requires: a dead
// letter review spans every user's data by nature.
type Handlers struct {
	registry *Registry
	bus      bus.Bus
}

func NewHandlers(registry *Registry, b bus.Bus) *Handlers {
	return &Handlers{registry: registry, bus: b}
}

// Mount wires the dead letter routes onto an existing router under /internal.
func Mount(r chi.Router, h *Handlers) {
	r.Get("/internal/dead-letters", h.List)
	r.Post("/internal/dead-letters/{id}/retry", h.Retry)
	r.Post("/internal/dead-letters/{id}/discard", h.Discard)
}

const defaultListLimit = 50

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid limit"})
			return
		}
		limit = n
	}

	source := r.URL.Query().Get("source")
	names := h.registry.Names()
	if source != "" {
		names = []string{source}
	}

	result := map[string]any{}
	for _, name := range names {
		store, err := h.registry.Get(name)
		if err != nil {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		entries, err := store.List(r.Context(), limit)
		if err != nil {
			httpx.JSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
			return
		}
		result[name] = entries
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	store, reviewedBy, ok := h.resolveParams(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := store.Retry(r.Context(), h.bus, id, reviewedBy); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "retried"})
}

func (h *Handlers) Discard(w http.ResponseWriter, r *http.Request) {
	store, reviewedBy, ok := h.resolveParams(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := store.Discard(r.Context(), id, reviewedBy); err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (h *Handlers) resolveParams(w http.ResponseWriter, r *http.Request) (*Store, string, bool) {
	source := r.URL.Query().Get("source")
	if source == "" {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "source query param is required"})
		return nil, "", false
	}
	reviewedBy := r.URL.Query().Get("reviewed_by")
	if reviewedBy == "" {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": "reviewed_by query param is required"})
		return nil, "", false
	}
	store, err := h.registry.Get(source)
	if err != nil {
		httpx.JSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return nil, "", false
	}
	return store, reviewedBy, true
}
