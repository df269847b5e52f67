package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) { return s.claims, s.err }

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsTokenRevoked(context.Context, string) (bool, error) { return s.revoked, s.err }

type stubTenants struct {
	active bool
	err    error
}

func (s stubTenants) IsTenantActive(context.Context, id.TenantID) (bool, error) {
	return s.active, s.err
}

func TestRequireAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	claims := &JWTClaims{
		UserID:    id.UserID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		Roles:     []string{"maker"},
		JTI:       "jti-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	tests := []struct {
		name      string
		header    string
		validator stubValidator
		revoked   stubRevocation
		tenants   stubTenants
		want      int
	}{
		{"missing header", "", stubValidator{claims: claims}, stubRevocation{}, stubTenants{active: true}, http.StatusUnauthorized},
		{"invalid token", "Bearer x", stubValidator{err: errors.New("bad sig")}, stubRevocation{}, stubTenants{active: true}, http.StatusUnauthorized},
		{"revoked token", "Bearer x", stubValidator{claims: claims}, stubRevocation{revoked: true}, stubTenants{active: true}, http.StatusUnauthorized},
		{"revocation store down", "Bearer x", stubValidator{claims: claims}, stubRevocation{err: errors.New("redis down")}, stubTenants{active: true}, http.StatusInternalServerError},
		{"inactive tenant", "Bearer x", stubValidator{claims: claims}, stubRevocation{}, stubTenants{active: false}, http.StatusForbidden},
		{"unknown tenant", "Bearer x", stubValidator{claims: claims}, stubRevocation{}, stubTenants{err: dErrors.New(dErrors.CodeNotFound, "tenant not found")}, http.StatusUnauthorized},
		{"valid", "Bearer x", stubValidator{claims: claims}, stubRevocation{}, stubTenants{active: true}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTenant id.TenantID
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTenant = requestcontext.TenantID(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodGet, "/v1/loans", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireAuth(tt.validator, tt.revoked, tt.tenants, logger)(next).ServeHTTP(rr, req)

			require.Equal(t, tt.want, rr.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, claims.TenantID, gotTenant)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := RequireRole(logger, "checker", "admin")

	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/x/approve", nil)
	ctx := requestcontext.WithRoles(req.Context(), []string{"maker"})
	rr := httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req.WithContext(ctx))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	ctx = requestcontext.WithRoles(req.Context(), []string{"checker"})
	rr = httptest.NewRecorder()
	mw(next).ServeHTTP(rr, req.WithContext(ctx))
	assert.Equal(t, http.StatusOK, rr.Code)
}
