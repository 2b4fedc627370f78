package changereq

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/calyx-catalog/calyx/internal/platform/httpx"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Handler exposes the change-request workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	queue    *QueueView
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, queue *QueueView) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		queue:    queue,
		validate: validator.New(),
	}
}

type submitRequest struct {
	ChangeType  string         `json:"change_type" validate:"required"`
	VendorScope string         `json:"vendor_scope"`
	Payload     map[string]any `json:"payload"`
	LOBs        []string       `json:"lobs"`
	Assignee    string         `json:"assignee"`
}

type decideRequest struct {
	Decision string `json:"decision" validate:"required"`
	Notes    string `json:"notes"`
}

// Submit handles POST /change-requests.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap := shared.PolicyFromContext(r.Context())
	created, err := h.service.Submit(r.Context(), snap, SubmitInput{
		ChangeType:  req.ChangeType,
		VendorScope: req.VendorScope,
		Payload:     req.Payload,
		LOBs:        req.LOBs,
		Assignee:    req.Assignee,
	})
	if err != nil {
		h.logger.Error("submit change request", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

// Get handles GET /change-requests/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed id")
		return
	}
	req, err := h.service.repo.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

// Decide handles POST /change-requests/{id}/decision. Re-deciding a
// terminal request returns 200 with already_decided set rather than an
// error.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed id")
		return
	}
	var req decideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snap := shared.PolicyFromContext(r.Context())
	result, err := h.service.Decide(r.Context(), snap, id, req.Decision, req.Notes)
	if err != nil {
		h.logger.Error("decide change request", slog.String("id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Queue handles GET /change-requests.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap := shared.PolicyFromContext(r.Context())
	page, err := h.queue.Queue(r.Context(), snap, Filter{
		Status:    q.Get("status"),
		Queue:     q.Get("queue"),
		LOB:       q.Get("lob"),
		Requestor: q.Get("requestor"),
		Assignee:  q.Get("assignee"),
		Search:    q.Get("search"),
	})
	if err != nil {
		h.logger.Error("list approval queue", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}
