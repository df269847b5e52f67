// Package service runs the maker-checker workflow. A maker submits a request
// for a registered kind, a different checker approves or rejects it, and an
// approval runs the kind's executor inside the same transaction that marks
// the request approved.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"corebank/internal/approval/metrics"
	"corebank/internal/approval/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

var tracer = otel.Tracer("corebank/approval")

// DefaultTTL is how long a request stays approvable.
const DefaultTTL = 72 * time.Hour

type Store interface {
	Create(ctx context.Context, req *models.Request) error
	Update(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error)
	FindPending(ctx context.Context, tenantID id.TenantID, kind models.Kind, entityID string) (*models.Request, error)
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Request, error)
}

// Executor performs the operation behind one request kind. Validate runs at
// submission and must not write; Execute runs on approval.
type Executor interface {
	Validate(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error
	Execute(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store     Store
	tx        txcontext.Manager
	executors map[models.Kind]Executor
	ttl       time.Duration
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tx:        tx,
		executors: make(map[models.Kind]Executor),
		ttl:       DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register binds an executor to kind. It is called during wiring, before
// the service handles requests.
func (s *Service) Register(kind models.Kind, exec Executor) {
	s.executors[kind] = exec
}

func (s *Service) Submit(ctx context.Context, tenantID id.TenantID, req *models.SubmitRequest) (*models.Request, error) {
	if !requestcontext.HasAnyRole(ctx, rbac.Makers()...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "maker role required to submit approval requests")
	}
	maker := requestcontext.UserID(ctx)
	if maker.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated user required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := s.executor(req.Kind)
	if err != nil {
		return nil, err
	}
	if err := exec.Validate(ctx, tenantID, req.EntityID, req.Payload); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	r := &models.Request{
		ID:        id.ApprovalID(uuid.New()),
		TenantID:  tenantID,
		Kind:      req.Kind,
		EntityID:  req.EntityID,
		Payload:   req.Payload,
		Status:    models.StatusPending,
		MakerID:   maker,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.expireStale(ctx, tenantID, req.Kind, req.EntityID, now); err != nil {
			return err
		}
		if err := s.store.Create(ctx, r); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return pendingConflict()
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record approval request")
		}
		return s.emit(ctx, audit.ActionApprovalSubmitted, r, nil)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSubmitted(string(r.Kind))
	}
	s.logger.InfoContext(ctx, "approval request submitted",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"approval_id", r.ID.String(),
		"kind", string(r.Kind),
		"entity_id", r.EntityID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return r, nil
}

// expireStale withdraws an expired pending request for the same entity so a
// fresh one can take its place. A live pending request is a conflict.
func (s *Service) expireStale(ctx context.Context, tenantID id.TenantID, kind models.Kind, entityID string, now time.Time) error {
	existing, err := s.store.FindPending(ctx, tenantID, kind, entityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending approval requests")
	}
	if !existing.IsExpired(now) {
		return pendingConflict()
	}
	existing.Withdraw("expired", now)
	if err := s.store.Update(ctx, existing); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire approval request")
	}
	return s.emit(ctx, audit.ActionApprovalCancelled, existing, map[string]string{"reason": "expired"})
}

// executionError carries an executor failure out of the transaction so it
// can be recorded after rollback.
type executionError struct {
	err error
}

func (e *executionError) Error() string { return e.err.Error() }
func (e *executionError) Unwrap() error { return e.err }

// Approve executes the request. When the executor fails the request stays
// pending with LastError set and the executor's error is returned.
func (s *Service) Approve(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, req *models.DecisionRequest) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "approval.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("approval.id", approvalID.String()))

	if !requestcontext.HasAnyRole(ctx, rbac.Checkers()...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "checker role required to approve")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	checker := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)

	var approved *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.loadDecidable(ctx, tenantID, approvalID, checker)
		if err != nil {
			return err
		}
		if r.IsExpired(now) {
			return dErrors.New(dErrors.CodeInvariantViolation, "approval request has expired")
		}
		exec, err := s.executor(r.Kind)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("approval.kind", string(r.Kind)))
		if err := exec.Execute(ctx, tenantID, r.EntityID, r.Payload); err != nil {
			approved = r
			return &executionError{err: err}
		}
		r.Decide(models.StatusApproved, checker, req.Comment, now)
		if err := s.update(ctx, r); err != nil {
			return err
		}
		approved = r
		return s.emit(ctx, audit.ActionApprovalApproved, r, nil)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var execErr *executionError
		if errors.As(err, &execErr) {
			s.recordFailure(ctx, approved, execErr.err)
			return nil, execErr.err
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementDecision(string(approved.Kind), string(models.StatusApproved))
	}
	s.logger.InfoContext(ctx, "approval request approved",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"approval_id", approved.ID.String(),
		"kind", string(approved.Kind),
		"request_id", requestcontext.RequestID(ctx),
	)
	return approved, nil
}

// recordFailure runs after the approval transaction rolled back. Failures to
// record are logged; the executor error is what the caller sees.
func (s *Service) recordFailure(ctx context.Context, r *models.Request, execErr error) {
	if s.metrics != nil {
		s.metrics.IncrementExecutionFailure(string(r.Kind))
	}
	s.logger.WarnContext(ctx, "approval execution failed",
		"log_type", "audit",
		"tenant_id", r.TenantID.String(),
		"approval_id", r.ID.String(),
		"kind", string(r.Kind),
		"error", execErr.Error(),
		"request_id", requestcontext.RequestID(ctx),
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r.LastError = execErr.Error()
		if err := s.update(ctx, r); err != nil {
			return err
		}
		return s.emit(ctx, audit.ActionApprovalExecutionFailed, r, map[string]string{"error": r.LastError})
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record approval execution failure",
			"approval_id", r.ID.String(),
			"error", err,
		)
	}
}

// Reject closes the request without executing it. A comment is required.
func (s *Service) Reject(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, req *models.DecisionRequest) (*models.Request, error) {
	if !requestcontext.HasAnyRole(ctx, rbac.Checkers()...) {
		return nil, dErrors.New(dErrors.CodeForbidden, "checker role required to reject")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Comment == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comment is required when rejecting")
	}
	checker := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)

	var rejected *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.loadDecidable(ctx, tenantID, approvalID, checker)
		if err != nil {
			return err
		}
		r.Decide(models.StatusRejected, checker, req.Comment, now)
		if err := s.update(ctx, r); err != nil {
			return err
		}
		rejected = r
		return s.emit(ctx, audit.ActionApprovalRejected, r, map[string]string{"comment": r.Comment})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(rejected.Kind), string(models.StatusRejected))
	}
	s.logger.InfoContext(ctx, "approval request rejected",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"approval_id", rejected.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return rejected, nil
}

// Cancel lets the maker withdraw their own pending request.
func (s *Service) Cancel(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error) {
	user := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx)

	var cancelled *models.Request
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.load(ctx, tenantID, approvalID)
		if err != nil {
			return err
		}
		if r.MakerID != user {
			return dErrors.New(dErrors.CodeForbidden, "only the maker can cancel an approval request")
		}
		if !r.IsPending() {
			return dErrors.New(dErrors.CodeConflict, "approval request is already "+string(r.Status))
		}
		r.Withdraw("", now)
		if err := s.update(ctx, r); err != nil {
			return err
		}
		cancelled = r
		return s.emit(ctx, audit.ActionApprovalCancelled, r, nil)
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(cancelled.Kind), string(models.StatusCancelled))
	}
	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error) {
	return s.load(ctx, tenantID, approvalID)
}

func (s *Service) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Request, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status "+string(filter.Status))
	}
	out, err := s.store.List(ctx, tenantID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approval requests")
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error) {
	r, err := s.store.FindByID(ctx, tenantID, approvalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	return r, nil
}

// loadDecidable returns a pending request the checker is allowed to decide.
func (s *Service) loadDecidable(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, checker id.UserID) (*models.Request, error) {
	r, err := s.load(ctx, tenantID, approvalID)
	if err != nil {
		return nil, err
	}
	if !r.IsPending() {
		return nil, dErrors.New(dErrors.CodeConflict, "approval request is already "+string(r.Status))
	}
	if checker.IsNil() || checker == r.MakerID {
		return nil, dErrors.New(dErrors.CodeForbidden, "a request must be decided by someone other than its maker")
	}
	return r, nil
}

func (s *Service) update(ctx context.Context, r *models.Request) error {
	if err := s.store.Update(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "approval request was decided concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update approval request")
	}
	return nil
}

func (s *Service) executor(kind models.Kind) (Executor, error) {
	exec, ok := s.executors[kind]
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unsupported approval kind "+string(kind))
	}
	return exec, nil
}

func pendingConflict() error {
	return dErrors.New(dErrors.CodeConflict, "a pending approval request already exists for this entity")
}

func (s *Service) emit(ctx context.Context, action audit.Action, r *models.Request, extra map[string]string) error {
	if s.auditor == nil {
		return nil
	}
	details := map[string]string{
		"kind":      string(r.Kind),
		"entity_id": r.EntityID,
	}
	maps.Copy(details, extra)
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   r.TenantID,
		Action:     action,
		EntityType: "approval_request",
		EntityID:   r.ID.String(),
		Details:    details,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
