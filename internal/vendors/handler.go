package vendors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/changereq"
	"github.com/calyx-catalog/calyx/internal/platform/httpx"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Handler exposes the catalog read endpoints and the apply-or-queue
// mutation endpoint.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	workflow *changereq.Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, workflow *changereq.Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		workflow: workflow,
		validate: validator.New(),
	}
}

type createRequest struct {
	Name     string `json:"name" validate:"required"`
	OwnerOrg string `json:"owner_org" validate:"required"`
	Website  string `json:"website"`
	Contact  string `json:"contact"`
}

type changeRequest struct {
	ChangeType string         `json:"change_type" validate:"required"`
	Payload    map[string]any `json:"payload"`
	LOBs       []string       `json:"lobs"`
}

// List handles GET /vendors.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	items, total, err := h.service.List(r.Context(), ListFilter{
		Search:          q.Get("search"),
		OwnerOrg:        q.Get("owner_org"),
		IncludeArchived: q.Get("archived") == "true",
		Page:            page,
		Limit:           limit,
	})
	if err != nil {
		h.logger.Error("list vendors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"vendors":    items,
		"pagination": shared.NewPagination(page, limit, total),
	})
}

// Detail handles GET /vendors/{id}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed id")
		return
	}
	detail, err := h.service.Detail(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

// Create handles POST /vendors. Introducing a vendor is not a reviewed
// change type; it is reserved for direct-apply holders.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	snap := shared.PolicyFromContext(r.Context())
	if snap == nil || !snap.Record.CanDirectApply {
		httpx.Problem(w, http.StatusForbidden, "Permission Denied", "creating vendors requires direct-apply authority")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	vendor, err := h.service.Create(r.Context(), Vendor{
		Name:     req.Name,
		OwnerOrg: req.OwnerOrg,
		Website:  req.Website,
		Contact:  req.Contact,
	})
	if err != nil {
		h.logger.Error("create vendor", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vendor)
}

// Change handles POST /vendors/{id}/changes: the mutation is applied
// immediately when the caller's policy allows direct apply, otherwise
// it is queued as a change request for review.
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(vendorID); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed id")
		return
	}
	var req changeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	snap := shared.PolicyFromContext(r.Context())
	input := changereq.SubmitInput{
		ChangeType:  req.ChangeType,
		VendorScope: vendorID,
		Payload:     req.Payload,
		LOBs:        req.LOBs,
	}

	if snap != nil && snap.Record.CanDirectApply {
		err := h.workflow.DirectApply(r.Context(), snap, input, func(ctx context.Context) error {
			return h.service.Apply(ctx, changereq.ChangeRequest{
				ChangeType:  req.ChangeType,
				VendorScope: vendorID,
				Requestor:   snap.Principal,
				DecidedBy:   snap.Principal,
				Payload:     req.Payload,
			})
		})
		switch {
		case err == nil:
			httpx.JSON(w, http.StatusOK, map[string]any{"applied": true})
			return
		case !errors.Is(err, authz.ErrPermissionDenied):
			h.logger.Error("direct apply", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		// Not enough authority for this change type; fall through to the
		// review queue.
	}

	created, err := h.workflow.Submit(r.Context(), snap, input)
	if err != nil {
		h.logger.Error("submit change", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"applied": false, "request": created})
}
