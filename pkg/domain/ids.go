// Package domain holds the typed identifiers shared by every module.
//
// Each entity gets its own UUID-backed type so a LoanID can never be passed
// where a TenantID is expected. Parsing happens once at the trust boundary
// (HTTP handlers, CLI flags); everything past that point works with the typed value.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "corebank/pkg/domain-errors"
)

type (
	TenantID       uuid.UUID
	UserID         uuid.UUID
	AccountID      uuid.UUID
	LoanID         uuid.UUID
	JournalID      uuid.UUID
	ApprovalID     uuid.UUID
	ProvisionRunID uuid.UUID
	AuditEventID   uuid.UUID
)

// maxIDLength bounds raw input before it reaches uuid.Parse.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength || strings.ContainsAny(s, "\x00") {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID("tenant ID", s)
	return TenantID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user ID", s)
	return UserID(u), err
}

func ParseAccountID(s string) (AccountID, error) {
	u, err := parseUUID("account ID", s)
	return AccountID(u), err
}

func ParseLoanID(s string) (LoanID, error) {
	u, err := parseUUID("loan ID", s)
	return LoanID(u), err
}

func ParseJournalID(s string) (JournalID, error) {
	u, err := parseUUID("journal ID", s)
	return JournalID(u), err
}

func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID("approval ID", s)
	return ApprovalID(u), err
}

func ParseProvisionRunID(s string) (ProvisionRunID, error) {
	u, err := parseUUID("provision run ID", s)
	return ProvisionRunID(u), err
}

func (id TenantID) String() string { return uuid.UUID(id).String() }
func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *TenantID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id UserID) String() string { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id AccountID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *AccountID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id LoanID) String() string { return uuid.UUID(id).String() }
func (id LoanID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id LoanID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *LoanID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id JournalID) String() string { return uuid.UUID(id).String() }
func (id JournalID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id JournalID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *JournalID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id ApprovalID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ApprovalID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id ProvisionRunID) String() string { return uuid.UUID(id).String() }
func (id ProvisionRunID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProvisionRunID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *ProvisionRunID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditEventID) String() string { return uuid.UUID(id).String() }
func (id AuditEventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AuditEventID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}
func (id *AuditEventID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
