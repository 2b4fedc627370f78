package scopes

import "github.com/go-chi/chi/v5"

// Routes mounts the admin-portal endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/scopes", h.List)
	r.Post("/scopes", h.Grant)
	r.Delete("/scopes", h.Revoke)
	r.Post("/override", h.SetOverride)
	r.Delete("/override", h.ClearOverride)
}
