package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"corebank/internal/loan/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/platform/middleware/auth"
	"corebank/pkg/platform/middleware/idempotency"
	"corebank/pkg/platform/middleware/request"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

// Service defines the loan operations exposed over HTTP. Disbursement and
// write-off go through approvals.
type Service interface {
	Apply(ctx context.Context, tenantID id.TenantID, req *models.ApplyRequest) (*models.Loan, error)
	Get(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error)
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Loan, error)
	Schedule(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]models.Installment, error)
	Repay(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, req *models.RepayRequest) (*models.RepaymentResult, error)
	Repayments(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]*models.Repayment, error)
	Position(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, asOf id.Date) (*models.Position, error)
}

type Handler struct {
	service     Service
	idempotency idempotency.Store
	logger      *slog.Logger
}

// New builds the handler. A nil idempotency store disables Idempotency-Key
// handling on repayments; the reference field still deduplicates them.
func New(service Service, idem idempotency.Store, logger *slog.Logger) *Handler {
	return &Handler{service: service, idempotency: idem, logger: logger}
}

type scheduleResponse struct {
	LoanID       id.LoanID            `json:"loan_id"`
	Installments []models.Installment `json:"installments"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/loans", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Readers()...))
			r.Get("/", h.handleList)
			r.Get("/{id}", h.handleGet)
			r.Get("/{id}/schedule", h.handleSchedule)
			r.Get("/{id}/payoff", h.handlePayoff)
			r.Get("/{id}/repayments", h.handleListRepayments)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(h.logger, rbac.Makers()...))
			r.Post("/", h.handleApply)
			r.Group(func(r chi.Router) {
				if h.idempotency != nil {
					r.Use(idempotency.Middleware(h.idempotency, idempotency.DefaultTTL, h.logger))
				}
				r.Post("/{id}/repayments", h.handleRepay)
			})
		})
	})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ApplyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	loan, err := h.service.Apply(ctx, requestcontext.TenantID(ctx), req)
	if err != nil {
		h.logger.WarnContext(ctx, "loan application failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := models.ListFilter{
		Status:     models.Status(r.URL.Query().Get("status")),
		CustomerID: r.URL.Query().Get("customer_id"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown status "+string(filter.Status)))
		return
	}
	loans, err := h.service.List(ctx, requestcontext.TenantID(ctx), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse[*models.Loan]{Items: loans})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	loan, err := h.service.Get(ctx, requestcontext.TenantID(ctx), loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	schedule, err := h.service.Schedule(ctx, requestcontext.TenantID(ctx), loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, scheduleResponse{LoanID: loanID, Installments: schedule})
}

// handlePayoff reports payoff and delinquency as of ?as_of (default today).
func (h *Handler) handlePayoff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	asOf, err := httputil.QueryDate(r, "as_of")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var date id.Date
	if !asOf.IsZero() {
		date = id.DateOf(asOf)
	}
	pos, err := h.service.Position(ctx, requestcontext.TenantID(ctx), loanID, date)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

func (h *Handler) handleRepay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.RepayRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Repay(ctx, requestcontext.TenantID(ctx), loanID, req)
	if err != nil {
		h.logger.WarnContext(ctx, "loan repayment failed",
			"request_id", requestID,
			"loan_id", loanID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

func (h *Handler) handleListRepayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	loanID, ok := loanIDParam(w, r)
	if !ok {
		return
	}
	repayments, err := h.service.Repayments(ctx, requestcontext.TenantID(ctx), loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if repayments == nil {
		repayments = []*models.Repayment{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse[*models.Repayment]{Items: repayments})
}

func loanIDParam(w http.ResponseWriter, r *http.Request) (id.LoanID, bool) {
	loanID, err := id.ParseLoanID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return loanID, false
	}
	return loanID, true
}
