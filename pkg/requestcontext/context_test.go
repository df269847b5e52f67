package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "corebank/pkg/domain"
)

func TestPrincipalAccessors(t *testing.T) {
	tenantID := id.TenantID(uuid.New())
	userID := id.UserID(uuid.New())

	ctx := WithPrincipal(context.Background(), tenantID, userID, []string{"maker", "viewer"})

	assert.Equal(t, tenantID, TenantID(ctx))
	assert.Equal(t, userID, UserID(ctx))
	assert.True(t, HasAnyRole(ctx, "checker", "maker"))
	assert.False(t, HasAnyRole(ctx, "admin"))
}

func TestZeroValuesWhenUnset(t *testing.T) {
	ctx := context.Background()

	assert.True(t, TenantID(ctx).IsNil())
	assert.True(t, UserID(ctx).IsNil())
	assert.Nil(t, Roles(ctx))
	assert.Empty(t, TokenID(ctx))
	assert.True(t, TokenExpiry(ctx).IsZero())
	assert.Empty(t, RequestID(ctx))
}

func TestNow_PinnedTime(t *testing.T) {
	fixed := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), fixed)
	assert.Equal(t, fixed, Now(ctx))
}
