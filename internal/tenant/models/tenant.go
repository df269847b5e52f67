package models

import (
	"strings"
	"time"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
)

// CanTransitionTo allows active <-> inactive only.
func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	switch s {
	case TenantStatusActive:
		return next == TenantStatusInactive
	case TenantStatusInactive:
		return next == TenantStatusActive
	}
	return false
}

const MaxNameLength = 128

// Tenant is one bank using the platform. Every other record is scoped by
// its ID, and BaseCurrency is the currency of its chart of accounts.
//
// An inactive tenant keeps its data but its users cannot authenticate and
// existing tokens are rejected by RequireAuth.
type Tenant struct {
	ID           id.TenantID  `json:"id"`
	Name         string       `json:"name"`
	BaseCurrency string       `json:"base_currency"`
	Status       TenantStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// CanDeactivate reports an invariant violation when t is already inactive.
// Pair with ApplyDeactivation inside a store Execute callback.
func (t *Tenant) CanDeactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusInactive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already inactive")
	}
	return nil
}

func (t *Tenant) ApplyDeactivation(now time.Time) {
	t.Status = TenantStatusInactive
	t.UpdatedAt = now
}

func (t *Tenant) CanReactivate() error {
	if !t.Status.CanTransitionTo(TenantStatusActive) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Status = TenantStatusActive
	t.UpdatedAt = now
}

func NewTenant(tenantID id.TenantID, name, currency string, now time.Time) (*Tenant, error) {
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	return &Tenant{
		ID:           tenantID,
		Name:         name,
		BaseCurrency: currency,
		Status:       TenantStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type CreateTenantRequest struct {
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

func (r *CreateTenantRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.BaseCurrency = strings.ToUpper(strings.TrimSpace(r.BaseCurrency))
}

func (r *CreateTenantRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(r.Name) > MaxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name must be 128 characters or less")
	}
	if _, err := money.ParseCurrency(r.BaseCurrency); err != nil {
		return err
	}
	return nil
}

// NameKey is the case-insensitive uniqueness key for tenant names.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
