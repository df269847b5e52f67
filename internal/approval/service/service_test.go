package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"corebank/internal/approval/metrics"
	"corebank/internal/approval/models"
	"corebank/internal/approval/service/mocks"
	"corebank/internal/approval/store"
	ledgerservice "corebank/internal/ledger/service"
	ledgerstore "corebank/internal/ledger/store"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/publisher"
	auditmemory "corebank/pkg/platform/audit/store/memory"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/rbac"
	"corebank/pkg/requestcontext"
)

const entity = "ADJ-0001"

var payload = json.RawMessage(`{"amount":"10.00"}`)

type ApprovalServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	executor *mocks.MockExecutor
	store    *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	service  *Service

	tenantID id.TenantID
	maker    id.UserID
	checker  id.UserID
	now      time.Time
}

func TestApprovalServiceSuite(t *testing.T) {
	suite.Run(t, new(ApprovalServiceSuite))
}

func (s *ApprovalServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.executor = mocks.NewMockExecutor(s.ctrl)
	s.store = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.tenantID = id.TenantID(uuid.New())
	s.maker = id.UserID(uuid.New())
	s.checker = id.UserID(uuid.New())
	s.now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	s.service = New(s.store, txcontext.NewMemoryManager(),
		WithTTL(time.Hour),
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.service.Register(models.KindJournalPost, s.executor)
}

func (s *ApprovalServiceSuite) as(user id.UserID, roles ...string) context.Context {
	ctx := requestcontext.WithPrincipal(context.Background(), s.tenantID, user, roles)
	return requestcontext.WithTime(ctx, s.now)
}

func (s *ApprovalServiceSuite) makerCtx() context.Context {
	return s.as(s.maker, rbac.Maker)
}

func (s *ApprovalServiceSuite) checkerCtx() context.Context {
	return s.as(s.checker, rbac.Checker)
}

func (s *ApprovalServiceSuite) submit() *models.Request {
	s.executor.EXPECT().Validate(gomock.Any(), s.tenantID, entity, payload).Return(nil)
	req, err := s.service.Submit(s.makerCtx(), s.tenantID, &models.SubmitRequest{
		Kind: models.KindJournalPost, EntityID: entity, Payload: payload,
	})
	s.Require().NoError(err)
	return req
}

func (s *ApprovalServiceSuite) actions(action audit.Action) int {
	events, err := s.audit.List(context.Background(), s.tenantID, audit.Filter{Action: action})
	s.Require().NoError(err)
	return len(events)
}

func (s *ApprovalServiceSuite) TestSubmit() {
	req := s.submit()

	s.Equal(models.StatusPending, req.Status)
	s.Equal(s.maker, req.MakerID)
	s.Equal(s.now.Add(time.Hour), req.ExpiresAt)
	s.JSONEq(string(payload), string(req.Payload))
	s.Equal(1, s.actions(audit.ActionApprovalSubmitted))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Submitted.WithLabelValues(string(models.KindJournalPost))))

	s.Run("second pending request for the same entity conflicts", func() {
		s.executor.EXPECT().Validate(gomock.Any(), s.tenantID, entity, payload).Return(nil)
		_, err := s.service.Submit(s.makerCtx(), s.tenantID, &models.SubmitRequest{
			Kind: models.KindJournalPost, EntityID: entity, Payload: payload,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ApprovalServiceSuite) TestSubmitRejections() {
	s.Run("viewer cannot submit", func() {
		_, err := s.service.Submit(s.as(s.maker, rbac.Viewer), s.tenantID, &models.SubmitRequest{
			Kind: models.KindJournalPost, EntityID: entity,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("unknown kind", func() {
		_, err := s.service.Submit(s.makerCtx(), s.tenantID, &models.SubmitRequest{
			Kind: "payroll.run", EntityID: entity,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("invalid payload json", func() {
		_, err := s.service.Submit(s.makerCtx(), s.tenantID, &models.SubmitRequest{
			Kind: models.KindJournalPost, EntityID: entity, Payload: json.RawMessage(`{"amount":`),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
	s.Run("executor validation error is returned unchanged", func() {
		s.executor.EXPECT().Validate(gomock.Any(), s.tenantID, entity, gomock.Any()).
			Return(dErrors.New(dErrors.CodeNotFound, "account 9999 not found"))
		_, err := s.service.Submit(s.makerCtx(), s.tenantID, &models.SubmitRequest{
			Kind: models.KindJournalPost, EntityID: entity,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		pending, err := s.service.List(s.checkerCtx(), s.tenantID, models.ListFilter{})
		s.Require().NoError(err)
		s.Empty(pending)
	})
}

func (s *ApprovalServiceSuite) TestSubmitReplacesExpiredRequest() {
	stale := s.submit()

	s.now = s.now.Add(2 * time.Hour)
	fresh := s.submit()
	s.NotEqual(stale.ID, fresh.ID)

	old, err := s.service.Get(s.checkerCtx(), s.tenantID, stale.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, old.Status)
	s.Equal("expired", old.Comment)
	s.Equal(1, s.actions(audit.ActionApprovalCancelled))
}

func (s *ApprovalServiceSuite) TestApprove() {
	req := s.submit()
	s.executor.EXPECT().Execute(gomock.Any(), s.tenantID, entity, payload).Return(nil)

	approved, err := s.service.Approve(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{Comment: " ok "})
	s.Require().NoError(err)

	s.Equal(models.StatusApproved, approved.Status)
	s.Require().NotNil(approved.CheckerID)
	s.Equal(s.checker, *approved.CheckerID)
	s.Equal("ok", approved.Comment)
	s.Require().NotNil(approved.DecidedAt)
	s.Equal(1, s.actions(audit.ActionApprovalApproved))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues(string(models.KindJournalPost), "approved")))

	s.Run("a decided request cannot be approved again", func() {
		_, err := s.service.Approve(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ApprovalServiceSuite) TestApproveGuards() {
	req := s.submit()

	tests := []struct {
		name string
		ctx  func() context.Context
		code dErrors.Code
	}{
		{"maker cannot approve own request", func() context.Context {
			return s.as(s.maker, rbac.Maker, rbac.Checker)
		}, dErrors.CodeForbidden},
		{"viewer lacks checker role", func() context.Context {
			return s.as(id.UserID(uuid.New()), rbac.Viewer)
		}, dErrors.CodeForbidden},
		{"expired request", func() context.Context {
			return requestcontext.WithTime(s.checkerCtx(), s.now.Add(time.Hour))
		}, dErrors.CodeInvariantViolation},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Approve(tt.ctx(), s.tenantID, req.ID, &models.DecisionRequest{})
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	s.Run("unknown request", func() {
		_, err := s.service.Approve(s.checkerCtx(), s.tenantID, id.ApprovalID(uuid.New()), &models.DecisionRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	got, err := s.service.Get(s.checkerCtx(), s.tenantID, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
}

func (s *ApprovalServiceSuite) TestApproveExecutionFailureKeepsRequestPending() {
	req := s.submit()
	execErr := dErrors.New(dErrors.CodeInsufficientFunds, "insufficient funds")
	s.executor.EXPECT().Execute(gomock.Any(), s.tenantID, entity, payload).Return(execErr)

	_, err := s.service.Approve(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{})
	s.Require().Error(err)
	s.True(errors.Is(err, execErr))

	got, err := s.service.Get(s.checkerCtx(), s.tenantID, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Equal("insufficient funds", got.LastError)
	s.Nil(got.CheckerID)
	s.Equal(1, s.actions(audit.ActionApprovalExecutionFailed))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ExecutionFailures.WithLabelValues(string(models.KindJournalPost))))

	s.Run("retry after the cause is fixed", func() {
		s.executor.EXPECT().Execute(gomock.Any(), s.tenantID, entity, payload).Return(nil)
		approved, err := s.service.Approve(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{})
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, approved.Status)
		s.Empty(approved.LastError)
	})
}

func (s *ApprovalServiceSuite) TestReject() {
	req := s.submit()

	_, err := s.service.Reject(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{Comment: "  "})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Reject(s.as(s.maker, rbac.Admin), s.tenantID, req.ID, &models.DecisionRequest{Comment: "mine"})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	rejected, err := s.service.Reject(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{Comment: "wrong account"})
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, rejected.Status)
	s.Equal("wrong account", rejected.Comment)
	s.Equal(1, s.actions(audit.ActionApprovalRejected))

	_, err = s.service.Approve(s.checkerCtx(), s.tenantID, req.ID, &models.DecisionRequest{})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ApprovalServiceSuite) TestCancel() {
	req := s.submit()

	_, err := s.service.Cancel(s.as(id.UserID(uuid.New()), rbac.Maker), s.tenantID, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	cancelled, err := s.service.Cancel(s.makerCtx(), s.tenantID, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, cancelled.Status)
	s.Nil(cancelled.CheckerID)

	_, err = s.service.Cancel(s.makerCtx(), s.tenantID, req.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Run("a cancelled request frees the entity", func() {
		s.submit()
	})
}

func (s *ApprovalServiceSuite) TestList() {
	first := s.submit()
	_, err := s.service.Cancel(s.makerCtx(), s.tenantID, first.ID)
	s.Require().NoError(err)
	s.now = s.now.Add(time.Minute)
	second := s.submit()

	all, err := s.service.List(s.checkerCtx(), s.tenantID, models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(second.ID, all[0].ID)

	pending, err := s.service.List(s.checkerCtx(), s.tenantID, models.ListFilter{Status: models.StatusPending})
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(second.ID, pending[0].ID)

	_, err = s.service.List(s.checkerCtx(), s.tenantID, models.ListFilter{Status: "done"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	other, err := s.service.List(s.checkerCtx(), id.TenantID(uuid.New()), models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(other)
}

// TestManualJournalThroughApproval runs the real ledger executor: nothing is
// posted until a second user approves.
func TestManualJournalThroughApproval(t *testing.T) {
	tenantID := id.TenantID(uuid.New())
	maker, checker := id.UserID(uuid.New()), id.UserID(uuid.New())
	at := func(user id.UserID, roles ...string) context.Context {
		ctx := requestcontext.WithPrincipal(context.Background(), tenantID, user, roles)
		return requestcontext.WithTime(ctx, time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	}

	tx := txcontext.NewMemoryManager()
	ledger := ledgerservice.New(ledgerstore.NewInMemoryStore(), tx)
	require.NoError(t, ledger.SeedDefaultChart(at(maker, rbac.Admin), tenantID, "USD"))
	svc := New(store.NewInMemoryStore(), tx)
	svc.Register(models.KindJournalPost, ledgerservice.NewJournalExecutor(ledger))

	balance := func(code string) string {
		b, err := ledger.Balance(at(checker, rbac.Checker), tenantID, code, time.Time{})
		require.NoError(t, err)
		return b.Balance.StringFixed(2)
	}

	req, err := svc.Submit(at(maker, rbac.Maker), tenantID, &models.SubmitRequest{
		Kind:     models.KindJournalPost,
		EntityID: "ADJ-0001",
		Payload: json.RawMessage(`{"currency":"USD","narration":"cash count surplus","lines":[
			{"account_code":"1000","debit":"50"},
			{"account_code":"4100","credit":"50"}]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance("1000"))

	_, err = svc.Approve(at(checker, rbac.Checker), tenantID, req.ID, &models.DecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance("1000"))
	assert.Equal(t, "50.00", balance("4100"))

	_, err = svc.Submit(at(maker, rbac.Maker), tenantID, &models.SubmitRequest{
		Kind:     models.KindJournalPost,
		EntityID: "ADJ-0001",
		Payload:  json.RawMessage(`{"currency":"USD","lines":[{"account_code":"1000","debit":"1"},{"account_code":"4100","credit":"1"}]}`),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "posted reference must not be resubmitted")
}
