package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"corebank/internal/classification/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

// Service defines the read side of provisioning. Runs are posted through
// approvals (kind provision.post).
type Service interface {
	Preview(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Preview, error)
	Report(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Report, error)
	ListRuns(ctx context.Context, tenantID id.TenantID, limit int) ([]*models.Run, error)
	Policy() models.Policy
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

const defaultRunLimit = 20

type runsResponse struct {
	Items []*models.Run `json:"items"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/provisioning", func(r chi.Router) {
		r.Use(auth.RequireRole(h.logger, rbac.Readers()...))
		r.Get("/policy", h.handlePolicy)
		r.Get("/preview", h.handlePreview)
		r.Get("/report", h.handleReport)
		r.Get("/runs", h.handleRuns)
	})
}

func (h *Handler) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Policy())
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf, ok := asOfParam(w, r)
	if !ok {
		return
	}
	preview, err := h.service.Preview(ctx, requestcontext.TenantID(ctx), asOf)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf, ok := asOfParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.Report(ctx, requestcontext.TenantID(ctx), asOf)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := httputil.QueryInt(r, "limit", defaultRunLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	runs, err := h.service.ListRuns(ctx, requestcontext.TenantID(ctx), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runsResponse{Items: runs})
}

func asOfParam(w http.ResponseWriter, r *http.Request) (id.Date, bool) {
	t, err := httputil.QueryDate(r, "as_of")
	if err != nil {
		httputil.WriteError(w, err)
		return id.Date{}, false
	}
	if t.IsZero() {
		return id.Date{}, true
	}
	return id.DateOf(t), true
}
