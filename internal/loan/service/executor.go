package service

import (
	"bytes"
	"context"
	"encoding/json"

	"corebank/internal/loan/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/requestcontext"
)

// DisburseExecutor disburses a loan once a checker approves. The approval
// entity is the loan ID.
type DisburseExecutor struct {
	service *Service
}

func NewDisburseExecutor(service *Service) *DisburseExecutor {
	return &DisburseExecutor{service: service}
}

func (e *DisburseExecutor) Validate(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	loanID, p, err := decodeDisburse(entityID, payload)
	if err != nil {
		return err
	}
	valueDate := p.ValueDate
	if valueDate.IsZero() {
		valueDate = id.DateOf(requestcontext.Now(ctx))
	}
	_, err = e.service.loadForDisbursement(ctx, tenantID, loanID, valueDate)
	return err
}

func (e *DisburseExecutor) Execute(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	loanID, p, err := decodeDisburse(entityID, payload)
	if err != nil {
		return err
	}
	_, err = e.service.Disburse(ctx, tenantID, loanID, p.ValueDate)
	return err
}

func decodeDisburse(entityID string, payload json.RawMessage) (id.LoanID, models.DisbursePayload, error) {
	var p models.DisbursePayload
	loanID, err := id.ParseLoanID(entityID)
	if err != nil {
		return loanID, p, err
	}
	if err := decodePayload(payload, &p); err != nil {
		return loanID, p, err
	}
	return loanID, p, nil
}

// WriteOffExecutor writes off a Lost loan once a checker approves.
type WriteOffExecutor struct {
	service *Service
}

func NewWriteOffExecutor(service *Service) *WriteOffExecutor {
	return &WriteOffExecutor{service: service}
}

func (e *WriteOffExecutor) Validate(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	loanID, _, err := decodeWriteOff(entityID, payload)
	if err != nil {
		return err
	}
	_, err = e.service.loadForWriteOff(ctx, tenantID, loanID)
	return err
}

func (e *WriteOffExecutor) Execute(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	loanID, p, err := decodeWriteOff(entityID, payload)
	if err != nil {
		return err
	}
	_, err = e.service.WriteOff(ctx, tenantID, loanID, p.ValueDate, p.Reason)
	return err
}

func decodeWriteOff(entityID string, payload json.RawMessage) (id.LoanID, models.WriteOffPayload, error) {
	var p models.WriteOffPayload
	loanID, err := id.ParseLoanID(entityID)
	if err != nil {
		return loanID, p, err
	}
	if err := decodePayload(payload, &p); err != nil {
		return loanID, p, err
	}
	if len(p.Reason) > 256 {
		return loanID, p, dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return loanID, p, nil
}

// decodePayload accepts an empty payload as the zero value.
func decodePayload(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid approval payload")
	}
	return nil
}
