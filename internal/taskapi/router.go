package taskapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskmesh/taskmesh/internal/deadletter"
	"github.com/taskmesh/taskmesh/internal/httpx"
	"github.com/taskmesh/taskmesh/internal/metrics"
)

// NewRouter builds the Task API's chi router: a public, authenticated
// /api/{user_id}/... tree plus an unauthenticated internal callback used
// only by the embedded scheduler.
func NewRouter(h *Handlers, validator TokenValidator, maxBodyBytes int64) *chi.Mux {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(httpx.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/internal/jobs", func(r chi.Router) {
		r.Post("/reminder-trigger", h.ReminderTrigger)
	})

	r.Route("/api/{user_id}", func(r chi.Router) {
		r.Use(RequireAuth(validator))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.CreateTask)
			r.Get("/", h.ListTasks)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Put("/", h.UpdateTask)
				r.Delete("/", h.DeleteTask)
				r.Patch("/complete", h.ToggleComplete)

				r.Route("/reminders", func(r chi.Router) {
					r.Post("/", h.CreateReminder)
					r.Get("/", h.ListReminders)
					r.Delete("/{rid}", h.DeleteReminder)
				})
			})
		})
	})

	return r
}

// MountAdmin wires the operator dead letter surface onto r. It is kept
// separate from NewRouter because the dead letter registry depends on
// per-consumer database connections that are optional and assembled only in
// main, after the core router is already built and tested.
func MountAdmin(r chi.Router, dl *deadletter.Handlers) {
	deadletter.Mount(r, dl)
}
