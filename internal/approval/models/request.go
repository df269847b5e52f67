package models

import (
	"encoding/json"
	"strings"
	"time"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
)

// Kind names the operation an approval request executes once approved.
type Kind string

const (
	KindLoanDisburse  Kind = "loan.disburse"
	KindLoanWriteOff  Kind = "loan.write_off"
	KindProvisionPost Kind = "provision.post"
	KindJournalPost   Kind = "journal.post"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

const (
	MaxEntityIDLength = 128
	MaxCommentLength  = 1024
	MaxPayloadBytes   = 64 << 10
)

// Request is one maker-checker request. Payload is opaque here; the executor
// registered for Kind decodes it.
type Request struct {
	ID        id.ApprovalID   `json:"id"`
	TenantID  id.TenantID     `json:"tenant_id"`
	Kind      Kind            `json:"kind"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	MakerID   id.UserID       `json:"maker_id"`
	CheckerID *id.UserID      `json:"checker_id,omitempty"`
	Comment   string          `json:"comment,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}

// IsExpired reports whether a pending request can no longer be approved.
func (r *Request) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Decide moves a pending request to a final status.
func (r *Request) Decide(status Status, checker id.UserID, comment string, at time.Time) {
	r.Status = status
	r.CheckerID = &checker
	r.Comment = comment
	r.DecidedAt = &at
	r.LastError = ""
}

// Withdraw closes a pending request without a checker decision, either on
// the maker's request or because it expired.
func (r *Request) Withdraw(comment string, at time.Time) {
	r.Status = StatusCancelled
	r.Comment = comment
	r.DecidedAt = &at
}

type SubmitRequest struct {
	Kind     Kind            `json:"kind"`
	EntityID string          `json:"entity_id"`
	Payload  json.RawMessage `json:"payload"`
}

func (r *SubmitRequest) Normalize() {
	r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
	r.EntityID = strings.TrimSpace(r.EntityID)
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		r.Payload = json.RawMessage("{}")
	}
}

func (r *SubmitRequest) Validate() error {
	if r.Kind == "" {
		return dErrors.New(dErrors.CodeValidation, "kind is required")
	}
	if r.EntityID == "" {
		return dErrors.New(dErrors.CodeValidation, "entity_id is required")
	}
	if len(r.EntityID) > MaxEntityIDLength {
		return dErrors.New(dErrors.CodeValidation, "entity_id must be at most 128 characters")
	}
	if len(r.Payload) > MaxPayloadBytes {
		return dErrors.New(dErrors.CodeValidation, "payload is too large")
	}
	if !json.Valid(r.Payload) {
		return dErrors.New(dErrors.CodeValidation, "payload must be valid JSON")
	}
	return nil
}

type DecisionRequest struct {
	Comment string `json:"comment"`
}

func (r *DecisionRequest) Normalize() {
	r.Comment = strings.TrimSpace(r.Comment)
}

func (r *DecisionRequest) Validate() error {
	if len(r.Comment) > MaxCommentLength {
		return dErrors.New(dErrors.CodeValidation, "comment must be at most 1024 characters")
	}
	return nil
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status Status
	Kind   Kind
	Limit  int
}

// DefaultListLimit applies when ListFilter.Limit is zero.
const DefaultListLimit = 100

func (f ListFilter) Matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}
