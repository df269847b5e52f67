package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	id "corebank/pkg/domain"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/store/memory"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	err := pub.Emit(context.Background(), audit.Event{
		TenantID: tenantID,
		Action:   audit.ActionJournalPosted,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionJournalPosted, events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.False(t, events[0].ID.IsNil())
}

func TestPublisher_EnrichesFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	userID := id.UserID(uuid.New())
	fixed := time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)

	ctx := requestcontext.WithPrincipal(context.Background(), tenantID, userID, []string{"maker"})
	ctx = requestcontext.WithRequestID(ctx, "req-42")
	ctx = requestcontext.WithTime(ctx, fixed)
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.9",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36")

	require.NoError(t, pub.Emit(ctx, audit.Event{Action: audit.ActionLoanRepaid, EntityType: "loan", EntityID: "L-1"}))

	events, err := pub.List(ctx, tenantID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, userID.String(), e.ActorID)
	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, "10.0.0.9", e.ClientIP)
	assert.Equal(t, fixed, e.Timestamp)
	assert.Contains(t, e.Device, "Chrome")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		TenantID:  tenantID,
		Action:    audit.ActionUserCreated,
		Timestamp: customTime,
	}))

	events, err := pub.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	tenantID := id.TenantID(uuid.New())
	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			TenantID: tenantID,
			Action:   audit.ActionDepositCredited,
		}))
	}
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	events, err := store.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_FullBufferWaitsForWorker(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	tenantID := id.TenantID(uuid.New())
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pub.Emit(context.Background(), audit.Event{
				TenantID: tenantID,
				Action:   audit.ActionLogin,
			}))
		}()
	}
	wg.Wait()
	require.NoError(t, pub.Close())

	events, err := store.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 20, "backpressure must not drop events")
}

func TestPublisher_EmitAfterCloseWritesThrough(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4))
	require.NoError(t, pub.Close())

	tenantID := id.TenantID(uuid.New())
	require.NotPanics(t, func() {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{TenantID: tenantID, Action: audit.ActionLogout}))
	})

	events, err := store.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublisher_AsyncWaitsForMemoryCommit(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(8))
	m := txcontext.NewMemoryManager()
	tenantID := id.TenantID(uuid.New())

	err := m.RunInTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, pub.Emit(ctx, audit.Event{TenantID: tenantID, Action: audit.ActionLoanRepaid}))
		return errors.New("ledger rejected the posting")
	})
	require.Error(t, err)

	require.NoError(t, m.RunInTx(context.Background(), func(ctx context.Context) error {
		return pub.Emit(ctx, audit.Event{TenantID: tenantID, Action: audit.ActionLoanDisbursed})
	}))
	require.NoError(t, pub.Close())

	events, err := store.List(context.Background(), tenantID, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionLoanDisbursed, events[0].Action)
}

func TestPublisher_ListNewestFirstWithFilter(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	tenantID := id.TenantID(uuid.New())
	for _, a := range []audit.Action{audit.ActionLoanApplied, audit.ActionLoanDisbursed, audit.ActionLoanRepaid} {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{TenantID: tenantID, Action: a, EntityType: "loan"}))
	}
	require.NoError(t, pub.Emit(context.Background(), audit.Event{TenantID: tenantID, Action: audit.ActionDepositOpened, EntityType: "deposit"}))

	events, err := pub.List(context.Background(), tenantID, audit.Filter{EntityType: "loan", Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionLoanRepaid, events[0].Action)
	assert.Equal(t, audit.ActionLoanDisbursed, events[1].Action)
}
