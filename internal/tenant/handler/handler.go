package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"corebank/internal/tenant/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/request"
)

// Service is the tenant administration surface. Routes are mounted behind
// the admin token, never behind staff JWTs.
type Service interface {
	CreateTenant(ctx context.Context, req *models.CreateTenantRequest) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	DeactivateTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	ReactivateTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/tenants", h.handleCreateTenant)
	r.Get("/tenants/{id}", h.handleGetTenant)
	r.Post("/tenants/{id}/deactivate", h.handleDeactivateTenant)
	r.Post("/tenants/{id}/reactivate", h.handleReactivateTenant)
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateTenantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	tenant, err := h.service.CreateTenant(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create tenant", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tenant)
}

func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	tenant, err := h.service.GetTenant(ctx, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) handleDeactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "deactivate", h.service.DeactivateTenant)
}

func (h *Handler) handleReactivateTenant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reactivate", h.service.ReactivateTenant)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, id.TenantID) (*models.Tenant, error)) {
	ctx := r.Context()
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}
	tenant, err := fn(ctx, tenantID)
	if err != nil {
		h.logger.WarnContext(ctx, "tenant status change failed",
			"request_id", request.GetRequestID(ctx),
			"tenant_id", tenantID.String(),
			"action", action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func tenantIDParam(w http.ResponseWriter, r *http.Request) (id.TenantID, bool) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return tenantID, false
	}
	return tenantID, true
}
