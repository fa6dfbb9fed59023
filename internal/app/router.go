package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/inventory"
	"github.com/odyssey-erp/resto-ledger/internal/masterdata/branches"
	"github.com/odyssey-erp/resto-ledger/internal/observability"
	"github.com/odyssey-erp/resto-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/resto-ledger/internal/rbac"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
	"github.com/odyssey-erp/resto-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	AccountingHandler  *accounting.Handler
	InventoryHandler   *inventory.Handler
	BranchHandler      *branches.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.CSRFManager != nil {
		r.Get("/session/csrf", func(w http.ResponseWriter, r *http.Request) {
			token, err := params.CSRFManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
			if err != nil {
				httpx.RespondError(w, shared.Forbiddenf("session required"))
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
		})
	}

	// Every business route requires a branch context taken from the session.
	r.Group(func(r chi.Router) {
		r.Use(branchscope.Middleware{Logger: params.Logger}.Require)
		if params.AccountingHandler != nil {
			r.Route("/ledger", params.AccountingHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.BranchHandler != nil {
			r.Route("/branches", params.BranchHandler.MountRoutes)
		}
	})
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}

	return r
}
