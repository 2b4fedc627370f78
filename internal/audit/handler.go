package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/platform/httpx"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Handler exposes the audit timeline to admin-portal members.
type Handler struct {
	logger  *slog.Logger
	service *Service
	catalog *authz.Catalog
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, catalog *authz.Catalog) *Handler {
	return &Handler{logger: logger, service: service, catalog: catalog}
}

// Routes mounts the timeline endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit", h.Timeline)
	r.Get("/audit/export", h.Export)
}

// Timeline handles GET /admin/audit.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	result, err := h.service.Timeline(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Export handles GET /admin/audit/export as CSV.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	data, err := h.service.ExportTimeline(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	snap := shared.PolicyFromContext(r.Context())
	if snap == nil || !h.catalog.IsAdminPortal(snap.Record.RawRoles) {
		httpx.Problem(w, http.StatusForbidden, "Permission Denied", "admin portal membership required")
		return false
	}
	return true
}

func parseFilters(r *http.Request) TimelineFilters {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	f := TimelineFilters{
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		Action:   q.Get("action"),
		Page:     page,
		PageSize: pageSize,
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		f.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		f.To = to
	}
	return f
}
