package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calyx-catalog/calyx/internal/audit"
	"github.com/calyx-catalog/calyx/internal/authz"
	"github.com/calyx-catalog/calyx/internal/changereq"
	"github.com/calyx-catalog/calyx/internal/observability"
	"github.com/calyx-catalog/calyx/internal/platform/httpx"
	"github.com/calyx-catalog/calyx/internal/scopes"
	"github.com/calyx-catalog/calyx/internal/shared"
	"github.com/calyx-catalog/calyx/internal/vendors"
	"github.com/calyx-catalog/calyx/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Policy         *authz.SnapshotCache

	VendorsHandler   *vendors.Handler
	ChangeReqHandler *changereq.Handler
	ScopesHandler    *scopes.Handler
	AuditHandler     *audit.Handler
	JobHandler       *jobs.Handler

	Pool    *pgxpool.Pool
	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Calyx defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Policy:         params.Policy,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// Who-am-I: the caller's resolved policy, as the UI renders it. Also
	// hands out the CSRF token mutation calls must echo back.
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		snap := shared.PolicyFromContext(r.Context())
		if snap == nil {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "no policy resolved")
			return
		}
		var csrfToken string
		if params.CSRFManager != nil {
			if sess := shared.SessionFromContext(r.Context()); sess != nil {
				csrfToken, _ = params.CSRFManager.EnsureToken(r.Context(), sess)
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"principal":  snap.Principal,
			"policy":     snap.Record,
			"grants":     snap.Grants,
			"override":   snap.RoleOverride,
			"csrf_token": csrfToken,
		})
	})

	if params.VendorsHandler != nil {
		params.VendorsHandler.Routes(r)
	}
	if params.ChangeReqHandler != nil {
		params.ChangeReqHandler.Routes(r)
	}
	if params.ScopesHandler != nil {
		r.Route("/admin", func(r chi.Router) {
			params.ScopesHandler.Routes(r)
			if params.AuditHandler != nil {
				params.AuditHandler.Routes(r)
			}
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
