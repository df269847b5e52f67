package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"corebank/internal/ledger/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

// Service defines the ledger operations exposed over HTTP.
type Service interface {
	CreateAccount(ctx context.Context, tenantID id.TenantID, req *models.CreateAccountRequest) (*models.Account, error)
	DeactivateAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error)
	ListAccounts(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error)
	GetJournal(ctx context.Context, tenantID id.TenantID, journalID id.JournalID) (*models.Journal, error)
	Reverse(ctx context.Context, tenantID id.TenantID, journalID id.JournalID, reason string) (*models.Journal, error)
	Balance(ctx context.Context, tenantID id.TenantID, code string, asOf time.Time) (*models.Balance, error)
	TrialBalance(ctx context.Context, tenantID id.TenantID, asOf time.Time) (*models.TrialBalance, error)
	Statement(ctx context.Context, tenantID id.TenantID, code string, from, to time.Time) (*models.Statement, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the GL routes. Callers apply authentication beforehand.
func (h *Handler) Register(r chi.Router) {
	r.Route("/gl", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Readers()...))
			r.Get("/accounts", h.handleListAccounts)
			r.Get("/accounts/{code}/balance", h.handleBalance)
			r.Get("/accounts/{code}/statement", h.handleStatement)
			r.Get("/journals/{id}", h.handleGetJournal)
			r.Get("/trial-balance", h.handleTrialBalance)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Admin))
			r.Post("/accounts", h.handleCreateAccount)
			r.Post("/accounts/{code}/deactivate", h.handleDeactivateAccount)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Checkers()...))
			r.Post("/journals/{id}/reverse", h.handleReverse)
		})
	})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	account, err := h.service.CreateAccount(ctx, requestcontext.TenantID(ctx), req)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create gl account", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account)
}

func (h *Handler) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.service.DeactivateAccount(ctx, requestcontext.TenantID(ctx), chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := h.service.ListAccounts(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf, err := httputil.QueryDate(r, "as_of")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	balance, err := h.service.Balance(ctx, requestcontext.TenantID(ctx), chi.URLParam(r, "code"), asOf)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, balance)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, err := httputil.QueryDate(r, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := httputil.QueryDate(r, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if to.IsZero() {
		to = requestcontext.Now(ctx)
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	st, err := h.service.Statement(ctx, requestcontext.TenantID(ctx), chi.URLParam(r, "code"), from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	journalID, err := id.ParseJournalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	j, err := h.service.GetJournal(ctx, requestcontext.TenantID(ctx), journalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, j)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	journalID, err := id.ParseJournalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.ReverseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	reversal, err := h.service.Reverse(ctx, requestcontext.TenantID(ctx), journalID, req.Reason)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to reverse journal",
			"request_id", requestID,
			"journal_id", journalID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, reversal)
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf, err := httputil.QueryDate(r, "as_of")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tb, err := h.service.TrialBalance(ctx, requestcontext.TenantID(ctx), asOf)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tb)
}
