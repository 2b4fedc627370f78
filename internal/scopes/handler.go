package scopes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/platform/httpx"
	"github.com/calyx-catalog/calyx/internal/shared"
)

// Handler exposes the admin-portal endpoints: scope grant management
// and the session-local role override.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	directory authz.Directory
	catalog   *authz.Catalog
	validate  *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, directory authz.Directory, catalog *authz.Catalog) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		directory: directory,
		catalog:   catalog,
		validate:  validator.New(),
	}
}

type grantRequest struct {
	Principal string `json:"principal" validate:"required"`
	Org       string `json:"org" validate:"required"`
	Level     string `json:"level" validate:"required,oneof=view edit admin"`
}

type revokeRequest struct {
	Principal string `json:"principal" validate:"required"`
	Org       string `json:"org" validate:"required"`
}

type overrideRequest struct {
	Role string `json:"role" validate:"required"`
}

// Grant handles POST /admin/scopes.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := authz.ParseScopeLevel(req.Level)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := shared.IdentityFromContext(r.Context()).Principal
	err = h.service.Grant(r.Context(), authz.ScopeGrant{
		Principal: req.Principal,
		Org:       req.Org,
		Level:     level,
		GrantedBy: actor,
	})
	if err != nil {
		h.logger.Error("grant scope", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

// Revoke handles DELETE /admin/scopes.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	actor := shared.IdentityFromContext(r.Context()).Principal
	if err := h.service.Revoke(r.Context(), req.Principal, req.Org, actor); err != nil {
		h.logger.Error("revoke scope", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// List handles GET /admin/scopes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	principal := strings.TrimSpace(r.URL.Query().Get("principal"))
	var (
		grants []authz.ScopeGrant
		err    error
	)
	if principal != "" {
		grants, err = h.service.ListGrants(r.Context(), principal)
	} else {
		grants, err = h.service.ListAll(r.Context())
	}
	if err != nil {
		h.logger.Error("list scopes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

// SetOverride handles POST /admin/override: stores a session-local role
// override for admin-portal members.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	var req overrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	known, err := h.directory.ListKnownRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: list known roles: %v", authz.ErrCollaborator, err))
		return
	}
	valid := false
	for _, role := range known {
		if role == req.Role {
			valid = true
			break
		}
	}
	if !valid {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role "+req.Role)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no session")
		return
	}
	sess.SetRoleOverride(req.Role)
	httpx.JSON(w, http.StatusOK, map[string]string{"override": req.Role})
}

// ClearOverride handles DELETE /admin/override.
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "no session")
		return
	}
	sess.ClearRoleOverride()
	httpx.JSON(w, http.StatusOK, map[string]string{"override": ""})
}

// The admin portal is gated on raw roles, not the effective override:
// an admin previewing a viewer role must keep access to clear it.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*authz.PolicySnapshot, bool) {
	snap := shared.PolicyFromContext(r.Context())
	if snap == nil || !h.catalog.IsAdminPortal(snap.Record.RawRoles) {
		httpx.Problem(w, http.StatusForbidden, "Permission Denied", "admin portal membership required")
		return nil, false
	}
	return snap, true
}
