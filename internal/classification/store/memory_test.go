package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corebank/internal/classification/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
)

func run(tenantID id.TenantID, day string) *models.Run {
	asOf, err := id.ParseDate(day)
	if err != nil {
		panic(err)
	}
	return &models.Run{ID: id.ProvisionRunID(uuid.New()), TenantID: tenantID, AsOf: asOf, CreatedAt: time.Now()}
}

func TestInMemoryStore_OneRunPerDate(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tenantA, tenantB := id.TenantID(uuid.New()), id.TenantID(uuid.New())

	require.NoError(t, s.Create(ctx, run(tenantA, "2025-03-31")))
	assert.ErrorIs(t, s.Create(ctx, run(tenantA, "2025-03-31")), sentinel.ErrConflict)
	require.NoError(t, s.Create(ctx, run(tenantB, "2025-03-31")))

	found, err := s.FindByAsOf(ctx, tenantA, run(tenantA, "2025-03-31").AsOf)
	require.NoError(t, err)
	assert.Equal(t, tenantA, found.TenantID)

	_, err = s.FindByAsOf(ctx, tenantA, run(tenantA, "2025-04-30").AsOf)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tenantID := id.TenantID(uuid.New())
	for _, day := range []string{"2025-02-28", "2025-04-30", "2025-03-31"} {
		require.NoError(t, s.Create(ctx, run(tenantID, day)))
	}

	runs, err := s.List(ctx, tenantID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "2025-04-30", runs[0].AsOf.String())
	assert.Equal(t, "2025-02-28", runs[2].AsOf.String())

	limited, err := s.List(ctx, tenantID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
