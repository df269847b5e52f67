package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	tenantmetrics "corebank/internal/tenant/metrics"
	"corebank/internal/tenant/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

type TenantStore interface {
	CreateIfNameAvailable(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindByName(ctx context.Context, name string) (*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
}

// ChartSeeder installs the default chart of accounts for a new tenant.
type ChartSeeder interface {
	SeedDefaultChart(ctx context.Context, tenantID id.TenantID, currency string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates tenant lifecycle management.
type Service struct {
	tenants TenantStore
	chart   ChartSeeder
	tx      txcontext.Manager
	auditor AuditPublisher
	metrics *tenantmetrics.Metrics
	logger  *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(tenants TenantStore, chart ChartSeeder, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{tenants: tenants, chart: chart, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTenant registers a tenant and seeds its chart of accounts in the
// same unit of work.
func (s *Service) CreateTenant(ctx context.Context, req *models.CreateTenantRequest) (*models.Tenant, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var tenant *models.Tenant
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		t, err := models.NewTenant(id.TenantID(uuid.New()), req.Name, req.BaseCurrency, requestcontext.Now(txCtx))
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if err := s.tenants.CreateIfNameAvailable(txCtx, t); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "tenant name must be unique")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create tenant")
		}
		if err := s.chart.SeedDefaultChart(txCtx, t.ID, t.BaseCurrency); err != nil {
			return err
		}
		if err := s.emit(txCtx, audit.ActionTenantCreated, t); err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementTenantCreated()
	}
	s.logger.InfoContext(ctx, "tenant created",
		"log_type", "audit",
		"tenant_id", tenant.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return tenant, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

// GetTenantByName looks a tenant up by name, ignoring case. Login uses it to
// resolve the tenant a user signs in to.
func (s *Service) GetTenantByName(ctx context.Context, name string) (*models.Tenant, error) {
	if models.NameKey(name) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant name is required")
	}
	tenant, err := s.tenants.FindByName(ctx, name)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return tenant, nil
}

// IsTenantActive backs the per-request tenant check in RequireAuth.
func (s *Service) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveStatusCheck(time.Now())
	}
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return tenant.IsActive(), nil
}

// DeactivateTenant blocks logins and API access for the tenant. A tenant
// that is already inactive yields a conflict.
func (s *Service) DeactivateTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID, audit.ActionTenantDeactivated,
		(*models.Tenant).CanDeactivate,
		(*models.Tenant).ApplyDeactivation,
	)
}

func (s *Service) ReactivateTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID, audit.ActionTenantReactivated,
		(*models.Tenant).CanReactivate,
		(*models.Tenant).ApplyReactivation,
	)
}

// transition validates then mutates under the row lock held by FindByID.
func (s *Service) transition(
	ctx context.Context,
	tenantID id.TenantID,
	action audit.Action,
	validate func(*models.Tenant) error,
	apply func(*models.Tenant, time.Time),
) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var tenant *models.Tenant
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		t, err := s.tenants.FindByID(txCtx, tenantID)
		if err != nil {
			return wrapTenantErr(err)
		}
		if err := validate(t); err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
				return dErrors.New(dErrors.CodeConflict, err.Error())
			}
			return err
		}
		apply(t, now)
		if err := s.tenants.Update(txCtx, t); err != nil {
			return wrapTenantErr(err)
		}
		if err := s.emit(txCtx, action, t); err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementStatusChange(string(tenant.Status))
	}
	s.logger.InfoContext(ctx, "tenant status changed",
		"log_type", "audit",
		"tenant_id", tenant.ID.String(),
		"status", string(tenant.Status),
		"request_id", requestcontext.RequestID(ctx),
	)
	return tenant, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, t *models.Tenant) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   t.ID,
		Action:     action,
		EntityType: "tenant",
		EntityID:   t.ID.String(),
		Details:    map[string]string{"name": t.Name, "status": string(t.Status)},
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func requireTenantID(tenantID id.TenantID) error {
	if tenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant ID is required")
	}
	return nil
}

func wrapTenantErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant")
}
