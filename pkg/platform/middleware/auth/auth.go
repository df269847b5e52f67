package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/platform/httputil"
	"corebank/pkg/requestcontext"
)

// JWTValidator validates bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker reports whether a token id was revoked by logout.
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TenantStatusChecker reports whether a tenant may still transact.
type TenantStatusChecker interface {
	IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error)
}

// JWTClaims is what the middleware needs out of a validated token.
type JWTClaims struct {
	UserID    id.UserID
	TenantID  id.TenantID
	Roles     []string
	JTI       string
	ExpiresAt time.Time
}

// RequireAuth validates the bearer token, rejects revoked or inactive-tenant
// tokens and injects the principal into the request context.
func RequireAuth(validator JWTValidator, revocationChecker TokenRevocationChecker, tenants TenantStatusChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			if revocationChecker != nil {
				if claims.JTI == "" {
					logger.WarnContext(ctx, "unauthorized access - missing token jti",
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
					return
				}
				revoked, err := revocationChecker.IsTokenRevoked(ctx, claims.JTI)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token"))
					return
				}
				if revoked {
					logger.WarnContext(ctx, "unauthorized access - token revoked",
						"jti", claims.JTI,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked"))
					return
				}
			}

			if tenants != nil {
				active, err := tenants.IsTenantActive(ctx, claims.TenantID)
				if err != nil {
					if dErrors.HasCode(err, dErrors.CodeNotFound) {
						httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unknown tenant"))
						return
					}
					logger.ErrorContext(ctx, "failed to check tenant status",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate tenant"))
					return
				}
				if !active {
					logger.WarnContext(ctx, "forbidden - tenant inactive",
						"tenant_id", claims.TenantID,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "tenant is inactive"))
					return
				}
			}

			ctx = requestcontext.WithPrincipal(ctx, claims.TenantID, claims.UserID, claims.Roles)
			ctx = requestcontext.WithToken(ctx, claims.JTI, claims.ExpiresAt)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits principals holding at least one of roles.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !requestcontext.HasAnyRole(ctx, roles...) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"required", roles,
					"user_id", requestcontext.UserID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
