package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"corebank/internal/deposit/handler/mocks"
	"corebank/internal/deposit/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/rbac"
	"corebank/pkg/testutil"
)

type DepositHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  http.Handler
	maker   testutil.Principal
}

func TestDepositHandlerSuite(t *testing.T) {
	suite.Run(t, new(DepositHandlerSuite))
}

func (s *DepositHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	r := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
	s.maker = testutil.NewPrincipal(rbac.Maker)
}

func (s *DepositHandlerSuite) do(p testutil.Principal, req *http.Request) int {
	return testutil.DoRequest(s.router, testutil.WithPrincipal(req, p)).Code
}

func (s *DepositHandlerSuite) TestOpen() {
	s.Run("maker opens an account", func() {
		s.service.EXPECT().
			Open(gomock.Any(), s.maker.TenantID, &models.OpenRequest{CustomerID: "c-1", Currency: "USD"}).
			Return(&models.Account{Number: "0000000001", Status: models.StatusActive}, nil)

		rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
			testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits", map[string]string{"customer_id": " c-1 ", "currency": "usd"}), s.maker))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "number", "0000000001")
	})

	s.Run("viewer cannot open", func() {
		viewer := s.maker.As(rbac.Viewer)
		s.Equal(http.StatusForbidden, s.do(viewer,
			testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits", map[string]string{"customer_id": "c-1", "currency": "USD"})))
	})

	s.Run("invalid body never reaches the service", func() {
		rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
			testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits", map[string]string{"currency": "USD"}), s.maker))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *DepositHandlerSuite) TestMovements() {
	accountID := id.AccountID(uuid.New())
	body := map[string]string{"amount": "25.00", "reference": "T-1"}

	s.service.EXPECT().
		Deposit(gomock.Any(), s.maker.TenantID, accountID, gomock.Any()).
		DoAndReturn(func(_ any, _ id.TenantID, _ id.AccountID, req *models.MovementRequest) (*models.Movement, error) {
			s.True(req.Amount.Equal(decimal.RequireFromString("25")))
			return &models.Movement{Amount: req.Amount}, nil
		})
	s.Equal(http.StatusCreated, s.do(s.maker,
		testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits/"+accountID.String()+"/deposit", body)))

	s.service.EXPECT().
		Withdraw(gomock.Any(), s.maker.TenantID, accountID, gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInsufficientFunds, "insufficient funds"))
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
		testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits/"+accountID.String()+"/withdraw", body), s.maker))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "insufficient_funds")

	s.service.EXPECT().
		ChargeFee(gomock.Any(), s.maker.TenantID, accountID, gomock.Any()).
		Return(&models.Movement{}, nil)
	s.Equal(http.StatusCreated, s.do(s.maker,
		testutil.NewJSONRequest(s.T(), http.MethodPost, "/deposits/"+accountID.String()+"/fees", body)))
}

func (s *DepositHandlerSuite) TestTransitionsNeedChecker() {
	accountID := id.AccountID(uuid.New())
	path := "/deposits/" + accountID.String() + "/freeze"

	s.Equal(http.StatusForbidden, s.do(s.maker, testutil.NewRequest(s.T(), http.MethodPost, path)))

	checker := s.maker.As(rbac.Checker)
	s.service.EXPECT().Freeze(gomock.Any(), checker.TenantID, accountID).
		Return(&models.Account{Status: models.StatusFrozen}, nil)
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodPost, path), checker))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "frozen")

	s.service.EXPECT().Close(gomock.Any(), checker.TenantID, accountID).
		Return(nil, dErrors.New(dErrors.CodeInvariantViolation, "balance must be zero to close the account"))
	s.Equal(http.StatusUnprocessableEntity, s.do(checker,
		testutil.NewRequest(s.T(), http.MethodPost, "/deposits/"+accountID.String()+"/close")))
}

func TestGet_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := chi.NewRouter()
	New(mocks.NewMockService(ctrl), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rr := testutil.DoRequest(r, testutil.WithPrincipal(
		testutil.NewRequest(t, http.MethodGet, "/deposits/xyz"), testutil.NewPrincipal(rbac.Viewer)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
