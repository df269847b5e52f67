package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	authmetrics "corebank/internal/auth/metrics"
	"corebank/internal/auth/models"
	"corebank/internal/auth/token"
	tenantmodels "corebank/internal/tenant/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

var tracer = otel.Tracer("corebank/auth")

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error)
}

// TenantDirectory resolves the tenant a user belongs to or signs in to.
type TenantDirectory interface {
	GetTenant(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*tenantmodels.Tenant, error)
}

type TokenIssuer interface {
	Issue(userID id.UserID, tenantID id.TenantID, roles []string, now time.Time) (*token.Issued, error)
}

type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service handles staff users, login and logout.
type Service struct {
	users      UserStore
	tenants    TenantDirectory
	tokens     TokenIssuer
	revocation RevocationList
	tx         txcontext.Manager
	auditor    AuditPublisher
	metrics    *authmetrics.Metrics
	logger     *slog.Logger
	bcryptCost int
	// dummyHash is compared against when the user is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
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

func WithMetrics(m *authmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBcryptCost overrides bcrypt.DefaultCost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

func New(users UserStore, tenants TenantDirectory, tokens TokenIssuer, revocation RevocationList, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{
		users:      users,
		tenants:    tenants,
		tokens:     tokens,
		revocation: revocation,
		tx:         tx,
		logger:     slog.Default(),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("corebank-dummy-password"), s.bcryptCost)
	return s
}

// CreateUser adds a staff user to an existing tenant.
func (s *Service) CreateUser(ctx context.Context, tenantID id.TenantID, req *models.CreateUserRequest) (*models.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.tenants.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	user := &models.User{
		ID:           id.UserID(uuid.New()),
		TenantID:     tenantID,
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Roles:        req.Roles,
		Status:       models.UserStatusActive,
		CreatedAt:    requestcontext.Now(ctx),
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.users.Create(txCtx, user); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "email already registered for tenant")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
		}
		return s.emit(txCtx, audit.Event{
			TenantID:   tenantID,
			Action:     audit.ActionUserCreated,
			EntityType: "user",
			EntityID:   user.ID.String(),
			Details:    map[string]string{"email": user.Email},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementUserCreated()
	}
	s.logger.InfoContext(ctx, "user created",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return user, nil
}

// Login verifies credentials and issues an access token. Unknown tenants,
// unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.TokenResponse, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenant, err := s.resolveTenant(ctx, req.Tenant)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeValidation) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			s.loginFailed(ctx, nil, req.Email, "unknown_tenant")
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if !tenant.IsActive() {
		s.loginFailed(ctx, tenant, req.Email, "tenant_inactive")
		return nil, dErrors.New(dErrors.CodeForbidden, "tenant is inactive")
	}

	user, err := s.users.FindByEmail(ctx, tenant.ID, req.Email)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		s.loginFailed(ctx, tenant, req.Email, "unknown_user")
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.loginFailed(ctx, tenant, req.Email, "bad_password")
		return nil, errInvalidCredentials
	}
	if !user.IsActive() {
		s.loginFailed(ctx, tenant, req.Email, "user_disabled")
		return nil, errInvalidCredentials
	}

	now := requestcontext.Now(ctx)
	issued, err := s.tokens.Issue(user.ID, tenant.ID, user.Roles, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	if err := s.emit(ctx, audit.Event{
		TenantID:   tenant.ID,
		Action:     audit.ActionLogin,
		ActorID:    user.ID.String(),
		EntityType: "user",
		EntityID:   user.ID.String(),
	}); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementLogin()
	}
	s.logger.InfoContext(ctx, "user logged in",
		"log_type", "audit",
		"tenant_id", tenant.ID.String(),
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &models.TokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(issued.ExpiresAt.Sub(now).Seconds()),
		ExpiresAt:   issued.ExpiresAt,
		User:        user,
	}, nil
}

// Logout revokes jti until the token would have expired anyway.
func (s *Service) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "token has no id")
	}
	ttl := expiresAt.Sub(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil
	}
	if err := s.revocation.RevokeToken(ctx, jti, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
	}
	userID := requestcontext.UserID(ctx)
	if err := s.emit(ctx, audit.Event{
		TenantID:   requestcontext.TenantID(ctx),
		Action:     audit.ActionLogout,
		EntityType: "user",
		EntityID:   userID.String(),
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncrementLogout()
	}
	s.logger.InfoContext(ctx, "user logged out",
		"log_type", "audit",
		"tenant_id", requestcontext.TenantID(ctx).String(),
		"user_id", userID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// IsTokenRevoked backs the revocation check in RequireAuth.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if s.metrics != nil {
		defer s.metrics.ObserveRevocationCheck(time.Now())
	}
	return s.revocation.IsRevoked(ctx, jti)
}

func (s *Service) resolveTenant(ctx context.Context, ref string) (*tenantmodels.Tenant, error) {
	if tenantID, err := id.ParseTenantID(ref); err == nil {
		return s.tenants.GetTenant(ctx, tenantID)
	}
	return s.tenants.GetTenantByName(ctx, ref)
}

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// loginFailed records the attempt. Audit failures here are logged, not
// returned, so the caller still sees invalid credentials.
func (s *Service) loginFailed(ctx context.Context, tenant *tenantmodels.Tenant, email, reason string) {
	if s.metrics != nil {
		s.metrics.IncrementLoginFailure(reason)
	}
	s.logger.WarnContext(ctx, "login failed",
		"log_type", "audit",
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	if tenant == nil {
		return
	}
	if err := s.emit(ctx, audit.Event{
		TenantID:   tenant.ID,
		Action:     audit.ActionLoginFailed,
		EntityType: "user",
		Details:    map[string]string{"email": email, "reason": reason},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit login failure", "error", err)
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
