package changereq

import "github.com/go-chi/chi/v5"

// Routes mounts the workflow endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/change-requests", h.Queue)
	r.Post("/change-requests", h.Submit)
	r.Get("/change-requests/{id}", h.Get)
	r.Post("/change-requests/{id}/decision", h.Decide)
}
