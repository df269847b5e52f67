// Package httpapi assembles the HTTP surface: platform middleware, the admin
// surface, public auth routes and the authenticated /v1 API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	approvalhandler "corebank/internal/approval/handler"
	audithandler "corebank/internal/audit/handler"
	authhandler "corebank/internal/auth/handler"
	classificationhandler "corebank/internal/classification/handler"
	deposithandler "corebank/internal/deposit/handler"
	ledgerhandler "corebank/internal/ledger/handler"
	loanhandler "corebank/internal/loan/handler"
	platformmetrics "corebank/internal/platform/metrics"
	ratelimit "corebank/internal/ratelimit/middleware"
	tenanthandler "corebank/internal/tenant/handler"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/admin"
	authmw "corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/metadata"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/platform/middleware/requesttime"
)

// Handlers are the module route sets. Nil entries are not mounted.
type Handlers struct {
	Tenant         *tenanthandler.Handler
	Auth           *authhandler.Handler
	Ledger         *ledgerhandler.Handler
	Deposit        *deposithandler.Handler
	Loan           *loanhandler.Handler
	Classification *classificationhandler.Handler
	Approval       *approvalhandler.Handler
	Audit          *audithandler.Handler
}

// Guards are the cross-cutting checks applied in front of the handlers.
type Guards struct {
	AdminToken string
	Tokens     authmw.JWTValidator
	Revocation authmw.TokenRevocationChecker
	Tenants    authmw.TenantStatusChecker
	RateLimit  *ratelimit.Middleware
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger   *slog.Logger
	Metrics  *platformmetrics.Metrics
	Gatherer prometheus.Gatherer
	Health   map[string]HealthCheck
}

func NewRouter(h Handlers, g Guards, cfg Config) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(g.AdminToken, logger))
		if h.Tenant != nil {
			h.Tenant.Register(r)
		}
		if h.Auth != nil {
			h.Auth.RegisterAdmin(r)
		}
	})

	// Login is rate limited per IP since there is no principal yet.
	r.Group(func(r chi.Router) {
		if g.RateLimit != nil {
			r.Use(g.RateLimit.Limit)
		}
		if h.Auth != nil {
			h.Auth.RegisterPublic(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(g.Tokens, g.Revocation, g.Tenants, logger))
		if g.RateLimit != nil {
			r.Use(g.RateLimit.Limit)
		}
		if h.Auth != nil {
			h.Auth.RegisterAuthenticated(r)
		}
		r.Route("/v1", func(r chi.Router) {
			if h.Ledger != nil {
				h.Ledger.Register(r)
			}
			if h.Deposit != nil {
				h.Deposit.Register(r)
			}
			if h.Loan != nil {
				h.Loan.Register(r)
			}
			if h.Classification != nil {
				h.Classification.Register(r)
			}
			if h.Approval != nil {
				h.Approval.Register(r)
			}
			if h.Audit != nil {
				h.Audit.Register(r)
			}
		})
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
