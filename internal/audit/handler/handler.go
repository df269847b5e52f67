// Package handler serves the tenant's audit trail to checkers and admins.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

const maxListLimit = 500

type Reader interface {
	List(ctx context.Context, tenantID id.TenantID, filter audit.Filter) ([]audit.Event, error)
}

type Handler struct {
	reader Reader
	logger *slog.Logger
}

func New(reader Reader, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, logger: logger}
}

type listResponse struct {
	Items []audit.Event `json:"items"`
}

func (h *Handler) Register(r chi.Router) {
	r.With(auth.RequireRole(h.logger, rbac.Checkers()...)).Get("/audit/events", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.reader.List(ctx, requestcontext.TenantID(ctx), filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: events})
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Category:   audit.Category(q.Get("category")),
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	switch filter.Category {
	case "", audit.CategoryCompliance, audit.CategorySecurity, audit.CategoryOperations:
	default:
		return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "category must be compliance, security or operations")
	}
	since, err := httputil.QueryDate(r, "since")
	if err != nil {
		return audit.Filter{}, err
	}
	filter.Since = since
	limit, err := httputil.QueryInt(r, "limit", audit.DefaultListLimit)
	if err != nil {
		return audit.Filter{}, err
	}
	filter.Limit = min(limit, maxListLimit)
	return filter, nil
}
