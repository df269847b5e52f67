package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "corebank/pkg/domain-errors"
)

func TestCreateUserRequest(t *testing.T) {
	valid := func() CreateUserRequest {
		return CreateUserRequest{
			Email:    " Teller@Example.com ",
			Name:     "Ada Teller",
			Password: "correct horse battery",
			Roles:    []string{"Maker", "maker", " viewer"},
		}
	}

	t.Run("normalizes email and roles", func(t *testing.T) {
		req := valid()
		req.Normalize()
		require.NoError(t, req.Validate())
		assert.Equal(t, "teller@example.com", req.Email)
		assert.Equal(t, []string{"maker", "viewer"}, req.Roles)
	})

	tests := []struct {
		name   string
		mutate func(*CreateUserRequest)
	}{
		{"bad email", func(r *CreateUserRequest) { r.Email = "not-an-email" }},
		{"display name in email", func(r *CreateUserRequest) { r.Email = "Ada <ada@example.com>" }},
		{"short password", func(r *CreateUserRequest) { r.Password = "short12" }},
		{"password over bcrypt limit", func(r *CreateUserRequest) { r.Password = strings.Repeat("x", MaxPasswordBytes+1) }},
		{"no roles", func(r *CreateUserRequest) { r.Roles = nil }},
		{"unknown role", func(r *CreateUserRequest) { r.Roles = []string{"superuser"} }},
		{"missing name", func(r *CreateUserRequest) { r.Name = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			req.Normalize()
			assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
		})
	}
}

func TestLoginRequestRequiresAllFields(t *testing.T) {
	req := LoginRequest{Tenant: "acme", Email: "a@example.com"}
	req.Normalize()
	assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
}
