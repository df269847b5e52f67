package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/publisher"
	auditmemory "corebank/pkg/platform/audit/store/memory"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
	"corebank/pkg/testutil"
)

func newAuditRouter(t *testing.T) (http.Handler, *publisher.Publisher) {
	t.Helper()
	pub := publisher.NewPublisher(auditmemory.NewInMemoryStore())
	r := chi.NewRouter()
	New(pub, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, pub
}

func TestListAuditEvents(t *testing.T) {
	router, pub := newAuditRouter(t)
	checker := testutil.NewPrincipal(rbac.Checker)
	other := testutil.NewPrincipal(rbac.Admin)

	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, pub.Emit(ctx, audit.Event{TenantID: checker.TenantID, Action: audit.ActionLogin}))
	require.NoError(t, pub.Emit(ctx, audit.Event{TenantID: checker.TenantID, Action: audit.ActionJournalPosted, EntityType: "journal"}))
	require.NoError(t, pub.Emit(ctx, audit.Event{TenantID: other.TenantID, Action: audit.ActionLogin}))

	t.Run("tenant scoped", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.WithPrincipal(testutil.NewRequest(t, http.MethodGet, "/audit/events"), checker))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[listResponse](t, rr)
		assert.Len(t, resp.Items, 2)
	})

	t.Run("filtered by category", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.WithPrincipal(
			testutil.NewRequest(t, http.MethodGet, "/audit/events?category=compliance"), checker))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[listResponse](t, rr)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, audit.ActionJournalPosted, resp.Items[0].Action)
	})

	t.Run("unknown category", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.WithPrincipal(
			testutil.NewRequest(t, http.MethodGet, "/audit/events?category=gossip"), checker))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("makers cannot read the trail", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.WithPrincipal(
			testutil.NewRequest(t, http.MethodGet, "/audit/events"), checker.As(rbac.Maker)))
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})
}
