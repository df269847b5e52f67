package models

import (
	"net/mail"
	"strings"
	"time"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	setutil "corebank/pkg/platform/strings"
	"corebank/pkg/rbac"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
	MaxNameLength    = 128
	MaxEmailLength   = 254
)

// User is a staff member of one tenant. Email is unique per tenant.
type User struct {
	ID           id.UserID   `json:"id"`
	TenantID     id.TenantID `json:"tenant_id"`
	Email        string      `json:"email"`
	Name         string      `json:"name"`
	PasswordHash string      `json:"-"`
	Roles        []string    `json:"roles"`
	Status       UserStatus  `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

type CreateUserRequest struct {
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

func (r *CreateUserRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Roles = setutil.LowerSet(r.Roles)
}

func (r *CreateUserRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Name == "" || len(r.Name) > MaxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name is required and must be at most 128 characters")
	}
	if len(r.Password) < MinPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	if len(r.Password) > MaxPasswordBytes {
		return dErrors.New(dErrors.CodeValidation, "password must be at most 72 bytes")
	}
	if len(r.Roles) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one role is required")
	}
	for _, role := range r.Roles {
		if !rbac.IsKnown(role) {
			return dErrors.New(dErrors.CodeValidation, "unknown role "+role)
		}
	}
	return nil
}

// LoginRequest names the tenant explicitly because emails are only unique
// within a tenant. Tenant is either the tenant ID or its name.
type LoginRequest struct {
	Tenant   string `json:"tenant"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Tenant = strings.TrimSpace(r.Tenant)
	r.Email = NormalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r.Tenant == "" || r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "tenant, email and password are required")
	}
	return nil
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return dErrors.New(dErrors.CodeValidation, "email is not a valid address")
	}
	return nil
}
