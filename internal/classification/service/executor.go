package service

import (
	"bytes"
	"context"
	"encoding/json"

	"corebank/internal/classification/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
)

// PostExecutor posts a provisioning run once a checker approves it. The
// approval entity is the as-of date, so only one run per date can be pending.
type PostExecutor struct {
	service *Service
}

func NewPostExecutor(service *Service) *PostExecutor {
	return &PostExecutor{service: service}
}

func (e *PostExecutor) Validate(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	asOf, err := decodePost(entityID, payload)
	if err != nil {
		return err
	}
	if _, err := e.service.resolveAsOf(ctx, asOf); err != nil {
		return err
	}
	return e.service.checkNotPosted(ctx, tenantID, asOf)
}

func (e *PostExecutor) Execute(ctx context.Context, tenantID id.TenantID, entityID string, payload json.RawMessage) error {
	asOf, err := decodePost(entityID, payload)
	if err != nil {
		return err
	}
	_, err = e.service.PostRun(ctx, tenantID, asOf)
	return err
}

func decodePost(entityID string, payload json.RawMessage) (id.Date, error) {
	asOf, err := id.ParseDate(entityID)
	if err != nil {
		return asOf, err
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return asOf, nil
	}
	var p models.PostPayload
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return asOf, dErrors.Wrap(err, dErrors.CodeValidation, "invalid approval payload")
	}
	return asOf, nil
}
