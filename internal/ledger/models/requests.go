package models

import (
	"strings"

	dErrors "corebank/pkg/domain-errors"
)

type CreateAccountRequest struct {
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	Type          AccountType `json:"type"`
	NormalBalance Side        `json:"normal_balance,omitempty"`
	Currency      string      `json:"currency"`
}

func (r *CreateAccountRequest) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
	r.Name = strings.TrimSpace(r.Name)
	r.Type = AccountType(strings.ToLower(strings.TrimSpace(string(r.Type))))
	r.NormalBalance = Side(strings.ToLower(strings.TrimSpace(string(r.NormalBalance))))
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r *CreateAccountRequest) Validate() error {
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "type must be one of asset, liability, equity, income, expense")
	}
	if r.NormalBalance != "" && !r.NormalBalance.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "normal_balance must be debit or credit")
	}
	return nil
}

type ReverseRequest struct {
	Reason string `json:"reason"`
}

func (r *ReverseRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *ReverseRequest) Validate() error {
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > maxNarrationLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}
