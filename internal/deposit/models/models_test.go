package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "corebank/pkg/domain-errors"
)

func TestGenerateNumber(t *testing.T) {
	for range 50 {
		n, err := GenerateNumber()
		require.NoError(t, err)
		assert.True(t, IsValidNumber(n), n)
	}
	assert.False(t, IsValidNumber("12345"))
	assert.False(t, IsValidNumber("12345abcde"))
}

func TestAccount_Transitions(t *testing.T) {
	now := time.Now()
	a := &Account{Status: StatusActive, Balance: decimal.NewFromInt(50)}

	assert.True(t, dErrors.HasCode(a.CanDebit(decimal.NewFromInt(51)), dErrors.CodeInsufficientFunds))
	require.NoError(t, a.CanDebit(decimal.NewFromInt(50)))

	require.NoError(t, a.Freeze(now))
	assert.True(t, dErrors.HasCode(a.CanDebit(decimal.NewFromInt(1)), dErrors.CodeInvariantViolation))
	require.NoError(t, a.CanCredit())
	assert.True(t, dErrors.HasCode(a.Freeze(now), dErrors.CodeConflict))

	assert.True(t, dErrors.HasCode(a.Close(now), dErrors.CodeInvariantViolation))
	a.ApplyDebit(decimal.NewFromInt(50), now)
	require.NoError(t, a.Close(now))
	assert.True(t, dErrors.HasCode(a.CanCredit(), dErrors.CodeInvariantViolation))
	assert.True(t, dErrors.HasCode(a.Close(now), dErrors.CodeConflict))
}

func TestMovementRequest_Validate(t *testing.T) {
	r := MovementRequest{Amount: decimal.RequireFromString("10.005"), Reference: "R1"}
	assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))

	r = MovementRequest{Amount: decimal.NewFromInt(10), Reference: " "}
	r.Normalize()
	assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))

	r = MovementRequest{Amount: decimal.NewFromInt(10), Reference: "R1"}
	assert.NoError(t, r.Validate())
}
