package vendors

import "github.com/go-chi/chi/v5"

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/vendors", h.List)
	r.Post("/vendors", h.Create)
	r.Get("/vendors/{id}", h.Detail)
	r.Post("/vendors/{id}/changes", h.Change)
}
