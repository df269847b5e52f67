package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"corebank/internal/deposit/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

// Service defines the deposit operations exposed over HTTP.
type Service interface {
	Open(ctx context.Context, tenantID id.TenantID, req *models.OpenRequest) (*models.Account, error)
	Get(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)
	GetByNumber(ctx context.Context, tenantID id.TenantID, number string) (*models.Account, error)
	Deposit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error)
	Withdraw(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error)
	ChargeFee(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error)
	Freeze(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)
	Unfreeze(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)
	Close(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type movementFunc func(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error)

type transitionFunc func(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)

// Register mounts the deposit routes. Callers apply authentication beforehand.
func (h *Handler) Register(r chi.Router) {
	r.Route("/deposits", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Readers()...))
			r.Get("/{id}", h.handleGet)
			r.Get("/by-number/{number}", h.handleGetByNumber)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Makers()...))
			r.Post("/", h.handleOpen)
			r.Post("/{id}/deposit", h.handleMovement("deposit", h.service.Deposit))
			r.Post("/{id}/withdraw", h.handleMovement("withdraw", h.service.Withdraw))
			r.Post("/{id}/fees", h.handleMovement("fee", h.service.ChargeFee))
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Checkers()...))
			r.Post("/{id}/freeze", h.handleTransition("freeze", h.service.Freeze))
			r.Post("/{id}/unfreeze", h.handleTransition("unfreeze", h.service.Unfreeze))
			r.Post("/{id}/close", h.handleTransition("close", h.service.Close))
		})
	})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.OpenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	account, err := h.service.Open(ctx, requestcontext.TenantID(ctx), req)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to open deposit account", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := h.service.Get(ctx, requestcontext.TenantID(ctx), accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) handleGetByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := h.service.GetByNumber(ctx, requestcontext.TenantID(ctx), chi.URLParam(r, "number"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (h *Handler) handleMovement(kind string, fn movementFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := request.GetRequestID(ctx)

		accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		req, ok := httputil.DecodeAndPrepare[models.MovementRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		movement, err := fn(ctx, requestcontext.TenantID(ctx), accountID, req)
		if err != nil {
			h.logger.WarnContext(ctx, "deposit movement failed",
				"request_id", requestID,
				"kind", kind,
				"account_id", accountID.String(),
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, movement)
	}
}

func (h *Handler) handleTransition(name string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		accountID, err := id.ParseAccountID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		account, err := fn(ctx, requestcontext.TenantID(ctx), accountID)
		if err != nil {
			h.logger.WarnContext(ctx, "deposit account transition failed",
				"request_id", request.GetRequestID(ctx),
				"transition", name,
				"account_id", accountID.String(),
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, account)
	}
}
