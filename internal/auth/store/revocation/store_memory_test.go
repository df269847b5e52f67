package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryTRL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	trl := NewInMemoryTRL()
	trl.now = func() time.Time { return now }

	require.NoError(t, trl.RevokeToken(ctx, "jti-1", time.Minute))
	require.NoError(t, trl.RevokeToken(ctx, "", time.Minute))

	revoked, err := trl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = trl.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	now = now.Add(time.Minute)
	revoked, err = trl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry lapses with the token")
}

func TestInMemoryTRLSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	trl := NewInMemoryTRL()
	trl.now = func() time.Time { return now }

	require.NoError(t, trl.RevokeToken(ctx, "short", time.Second))
	require.NoError(t, trl.RevokeToken(ctx, "long", time.Hour))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, trl.Sweep())
	revoked, err := trl.IsRevoked(ctx, "long")
	require.NoError(t, err)
	assert.True(t, revoked)
}
