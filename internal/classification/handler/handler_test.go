package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"corebank/internal/classification/handler/mocks"
	"corebank/internal/classification/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/rbac"
	"corebank/pkg/testutil"
)

type ProvisioningHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  http.Handler
	viewer  testutil.Principal
}

func TestProvisioningHandlerSuite(t *testing.T) {
	suite.Run(t, new(ProvisioningHandlerSuite))
}

func (s *ProvisioningHandlerSuite) SetupTest() {
	s.service = mocks.NewMockService(gomock.NewController(s.T()))
	r := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
	s.viewer = testutil.NewPrincipal(rbac.Viewer)
}

func (s *ProvisioningHandlerSuite) get(path string) int {
	return testutil.DoRequest(s.router, testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, path), s.viewer)).Code
}

func (s *ProvisioningHandlerSuite) TestPreview() {
	asOf, err := id.ParseDate("2025-03-31")
	s.Require().NoError(err)
	s.service.EXPECT().Preview(gomock.Any(), s.viewer.TenantID, asOf).Return(&models.Preview{AsOf: asOf}, nil)
	s.Equal(http.StatusOK, s.get("/provisioning/preview?as_of=2025-03-31"))

	s.service.EXPECT().Preview(gomock.Any(), s.viewer.TenantID, id.Date{}).
		Return(nil, dErrors.New(dErrors.CodeValidation, "as_of cannot be in the future"))
	s.Equal(http.StatusBadRequest, s.get("/provisioning/preview"))

	s.Equal(http.StatusBadRequest, s.get("/provisioning/preview?as_of=March"))
}

func (s *ProvisioningHandlerSuite) TestReport() {
	s.service.EXPECT().Report(gomock.Any(), s.viewer.TenantID, id.Date{}).
		Return(&models.Report{Currency: "USD", TotalCount: 3}, nil)
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
		testutil.NewRequest(s.T(), http.MethodGet, "/provisioning/report"), s.viewer))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "total_count", float64(3))
}

func (s *ProvisioningHandlerSuite) TestRuns() {
	s.service.EXPECT().ListRuns(gomock.Any(), s.viewer.TenantID, defaultRunLimit).Return(nil, nil)
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
		testutil.NewRequest(s.T(), http.MethodGet, "/provisioning/runs"), s.viewer))
	testutil.AssertStatusOK(s.T(), rr)
	s.JSONEq(`{"items":[]}`, rr.Body.String())

	s.service.EXPECT().ListRuns(gomock.Any(), s.viewer.TenantID, 5).Return([]*models.Run{{}}, nil)
	s.Equal(http.StatusOK, s.get("/provisioning/runs?limit=5"))

	s.Equal(http.StatusBadRequest, s.get("/provisioning/runs?limit=-1"))
}

func (s *ProvisioningHandlerSuite) TestPolicy() {
	s.service.EXPECT().Policy().Return(models.DefaultPolicy())
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
		testutil.NewRequest(s.T(), http.MethodGet, "/provisioning/policy"), s.viewer))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONHasKey(s.T(), rr, "buckets")
}

func (s *ProvisioningHandlerSuite) TestRequiresRole() {
	nobody := s.viewer.As()
	rr := testutil.DoRequest(s.router, testutil.WithPrincipal(
		testutil.NewRequest(s.T(), http.MethodGet, "/provisioning/report"), nobody))
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
}
