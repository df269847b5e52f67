package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "corebank/pkg/domain"
)

// Category classifies audit events by purpose so retention and routing can differ.
type Category string

const (
	// CategoryCompliance covers money movement and dual-control decisions regulators ask about.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers authentication, access and tenant lifecycle.
	CategorySecurity Category = "security"
	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations Category = "operations"
)

// Action names what happened. Values are stable and appear in the outbox payload.
type Action string

const (
	ActionTenantCreated     Action = "tenant.created"
	ActionTenantDeactivated Action = "tenant.deactivated"
	ActionTenantReactivated Action = "tenant.reactivated"

	ActionUserCreated Action = "user.created"
	ActionLogin       Action = "auth.login"
	ActionLoginFailed Action = "auth.login_failed"
	ActionLogout      Action = "auth.logout"

	ActionGLAccountCreated     Action = "gl.account_created"
	ActionGLAccountDeactivated Action = "gl.account_deactivated"
	ActionJournalPosted        Action = "gl.journal_posted"
	ActionJournalReversed      Action = "gl.journal_reversed"

	ActionDepositOpened   Action = "deposit.opened"
	ActionDepositCredited Action = "deposit.credited"
	ActionDepositDebited  Action = "deposit.debited"
	ActionDepositFee      Action = "deposit.fee_charged"
	ActionDepositFrozen   Action = "deposit.frozen"
	ActionDepositUnfrozen Action = "deposit.unfrozen"
	ActionDepositClosed   Action = "deposit.closed"

	ActionLoanApplied    Action = "loan.applied"
	ActionLoanDisbursed  Action = "loan.disbursed"
	ActionLoanRepaid     Action = "loan.repaid"
	ActionLoanClosed     Action = "loan.closed"
	ActionLoanWrittenOff Action = "loan.written_off"

	ActionProvisionPosted Action = "provision.run_posted"

	ActionApprovalSubmitted       Action = "approval.submitted"
	ActionApprovalApproved        Action = "approval.approved"
	ActionApprovalRejected        Action = "approval.rejected"
	ActionApprovalCancelled       Action = "approval.cancelled"
	ActionApprovalExecutionFailed Action = "approval.execution_failed"

	ActionRateLimitExceeded Action = "ratelimit.exceeded"
)

var actionCategories = map[Action]Category{
	ActionTenantCreated:     CategorySecurity,
	ActionTenantDeactivated: CategorySecurity,
	ActionTenantReactivated: CategorySecurity,
	ActionUserCreated:       CategorySecurity,
	ActionLoginFailed:       CategorySecurity,
	ActionLogout:            CategoryOperations,
	ActionLogin:             CategoryOperations,
	ActionRateLimitExceeded: CategorySecurity,

	ActionGLAccountCreated:     CategoryCompliance,
	ActionGLAccountDeactivated: CategoryCompliance,
	ActionJournalPosted:        CategoryCompliance,
	ActionJournalReversed:      CategoryCompliance,
	ActionDepositOpened:        CategoryCompliance,
	ActionDepositCredited:      CategoryCompliance,
	ActionDepositDebited:       CategoryCompliance,
	ActionDepositFee:           CategoryCompliance,
	ActionDepositFrozen:        CategoryCompliance,
	ActionDepositUnfrozen:      CategoryCompliance,
	ActionDepositClosed:        CategoryCompliance,
	ActionLoanApplied:          CategoryOperations,
	ActionLoanDisbursed:        CategoryCompliance,
	ActionLoanRepaid:           CategoryCompliance,
	ActionLoanClosed:           CategoryCompliance,
	ActionLoanWrittenOff:       CategoryCompliance,
	ActionProvisionPosted:      CategoryCompliance,

	ActionApprovalSubmitted:       CategoryCompliance,
	ActionApprovalApproved:        CategoryCompliance,
	ActionApprovalRejected:        CategoryCompliance,
	ActionApprovalCancelled:       CategoryCompliance,
	ActionApprovalExecutionFailed: CategoryCompliance,
}

// Category returns the category for a. Unknown actions are operations events.
func (a Action) Category() Category {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture a key action. It stays
// transport-agnostic so the memory store, the outbox and Kafka share it.
type Event struct {
	ID         id.AuditEventID   `json:"id"`
	TenantID   id.TenantID       `json:"tenant_id"`
	Category   Category          `json:"category"`
	Action     Action            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Device     string            `json:"device,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Category   Category
	Action     Action
	EntityType string
	EntityID   string
	Since      time.Time
	Limit      int
}

// DefaultListLimit caps List when Filter.Limit is zero.
const DefaultListLimit = 100

// Matches reports whether e satisfies f.
func (f Filter) Matches(e Event) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Store persists events and serves tenant-scoped queries.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context, tenantID id.TenantID, filter Filter) ([]Event, error)
}

// OutboxEntry is a serialized event waiting to be relayed to the event bus.
type OutboxEntry struct {
	ID           uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	Attempts     int
}
