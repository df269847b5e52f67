package testutil

import (
	"net/http"

	"github.com/google/uuid"

	id "corebank/pkg/domain"
	"corebank/pkg/requestcontext"
)

// Principal is an authenticated staff member for handler tests.
type Principal struct {
	TenantID id.TenantID
	UserID   id.UserID
	Roles    []string
}

// NewPrincipal returns a principal with fresh IDs and the given roles.
func NewPrincipal(roles ...string) Principal {
	return Principal{
		TenantID: id.TenantID(uuid.New()),
		UserID:   id.UserID(uuid.New()),
		Roles:    roles,
	}
}

// As returns a second principal in the same tenant with different roles.
func (p Principal) As(roles ...string) Principal {
	return Principal{TenantID: p.TenantID, UserID: id.UserID(uuid.New()), Roles: roles}
}

// WithPrincipal simulates what the auth middleware does for an authenticated request.
func WithPrincipal(req *http.Request, p Principal) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), p.TenantID, p.UserID, p.Roles)
	return req.WithContext(ctx)
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
