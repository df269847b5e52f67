package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"corebank/internal/ledger/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/platform/sentinel"
)

// JournalExecutor posts manual journals once a checker approves them.
// The approval entity is the journal reference.
type JournalExecutor struct {
	service *Service
}

func NewJournalExecutor(service *Service) *JournalExecutor {
	return &JournalExecutor{service: service}
}

// Validate runs every posting rule that can be checked without writing,
// so a maker learns about a bad journal at submission time.
func (e *JournalExecutor) Validate(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	req, err := decodeManualJournal(entityID, payload)
	if err != nil {
		return err
	}
	if err := e.service.checkAccounts(ctx, tenantID, req); err != nil {
		return err
	}
	if _, err := e.service.store.FindJournalByReference(ctx, tenantID, req.Reference); err == nil {
		return dErrors.New(dErrors.CodeConflict, "journal reference "+req.Reference+" already posted")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check journal reference")
	}
	return nil
}

func (e *JournalExecutor) Execute(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	req, err := decodeManualJournal(entityID, payload)
	if err != nil {
		return err
	}
	_, err = e.service.Post(ctx, tenantID, req)
	return err
}

func decodeManualJournal(entityID string, payload json.RawMessage) (models.PostRequest, error) {
	var req models.PostRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, dErrors.New(dErrors.CodeValidation, "payload is not a valid journal")
	}
	req.Normalize()
	if req.Reference == "" {
		req.Reference = entityID
	}
	if req.Reference != entityID {
		return req, dErrors.New(dErrors.CodeValidation, "payload reference must match the approval entity")
	}
	if req.Source != models.SourceManual {
		return req, dErrors.New(dErrors.CodeValidation, "only manual journals can be submitted for approval")
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
