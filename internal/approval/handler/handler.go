package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"corebank/internal/approval/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

// Service is the maker-checker workflow. Role and maker/checker separation
// checks live in the service; routes only gate on broad role groups.
type Service interface {
	Submit(ctx context.Context, tenantID id.TenantID, req *models.SubmitRequest) (*models.Request, error)
	Approve(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, req *models.DecisionRequest) (*models.Request, error)
	Reject(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, req *models.DecisionRequest) (*models.Request, error)
	Cancel(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error)
	Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error)
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Request, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type listResponse struct {
	Items []*models.Request `json:"items"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Readers()...))
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Makers()...))
			r.Post("/", h.handleSubmit)
			r.Post("/{id}/cancel", h.handleCancel)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Checkers()...))
			r.Post("/{id}/approve", h.handleApprove)
			r.Post("/{id}/reject", h.handleReject)
		})
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	created, err := h.service.Submit(ctx, requestcontext.TenantID(ctx), req)
	if err != nil {
		h.logger.WarnContext(ctx, "approval submission failed",
			"request_id", requestID,
			"kind", string(req.Kind),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := httputil.QueryInt(r, "limit", models.DefaultListLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter := models.ListFilter{
		Status: models.Status(r.URL.Query().Get("status")),
		Kind:   models.Kind(r.URL.Query().Get("kind")),
		Limit:  min(limit, models.DefaultListLimit),
	}
	items, err := h.service.List(ctx, requestcontext.TenantID(ctx), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if items == nil {
		items = []*models.Request{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := approvalIDParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(ctx, requestcontext.TenantID(ctx), approvalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "approve", h.service.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "reject", h.service.Reject)
}

type decision func(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, req *models.DecisionRequest) (*models.Request, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, action string, fn decision) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	approvalID, ok := approvalIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	out, err := fn(ctx, requestcontext.TenantID(ctx), approvalID, req)
	if err != nil {
		h.logger.WarnContext(ctx, "approval decision failed",
			"request_id", requestID,
			"approval_id", approvalID.String(),
			"action", action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := approvalIDParam(w, r)
	if !ok {
		return
	}
	out, err := h.service.Cancel(ctx, requestcontext.TenantID(ctx), approvalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func approvalIDParam(w http.ResponseWriter, r *http.Request) (id.ApprovalID, bool) {
	approvalID, err := id.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return approvalID, false
	}
	return approvalID, true
}
