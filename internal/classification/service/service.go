package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"corebank/internal/classification/metrics"
	"corebank/internal/classification/models"
	ledger "corebank/internal/ledger/models"
	loan "corebank/internal/loan/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

var tracer = otel.Tracer("corebank/classification")

type Store interface {
	Create(ctx context.Context, run *models.Run) error
	FindByAsOf(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Run, error)
	List(ctx context.Context, tenantID id.TenantID, limit int) ([]*models.Run, error)
}

// Loans is the slice of the loan service a provisioning run reads and updates.
type Loans interface {
	List(ctx context.Context, tenantID id.TenantID, filter loan.ListFilter) ([]*loan.Loan, error)
	ApplyClassification(ctx context.Context, tenantID id.TenantID, updates []loan.ClassificationUpdate) error
}

type Ledger interface {
	Post(ctx context.Context, tenantID id.TenantID, req ledger.PostRequest) (*ledger.Journal, error)
	GetAccount(ctx context.Context, tenantID id.TenantID, code string) (*ledger.Account, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store   Store
	loans   Loans
	ledger  Ledger
	tx      txcontext.Manager
	policy  models.Policy
	auditor AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Service)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithPolicy replaces the default bucket table. The policy must already be valid.
func WithPolicy(p models.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func New(store Store, loans Loans, ledger Ledger, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{
		store:  store,
		loans:  loans,
		ledger: ledger,
		tx:     tx,
		policy: models.DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() models.Policy {
	return s.policy
}

// Preview classifies every active loan on asOf without changing anything.
func (s *Service) Preview(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Preview, error) {
	asOf, err := s.resolveAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	loans, err := s.loans.List(ctx, tenantID, loan.ListFilter{})
	if err != nil {
		return nil, err
	}

	preview := &models.Preview{AsOf: asOf, Loans: make([]models.LoanProvision, 0, len(loans))}
	for _, l := range loans {
		if l.Status != loan.StatusActive {
			if l.ProvisionHeld.IsPositive() {
				preview.Released = append(preview.Released, release(l))
			}
			continue
		}
		lp, err := s.assess(l, asOf)
		if err != nil {
			return nil, err
		}
		preview.Loans = append(preview.Loans, lp)
	}
	preview.Summary = s.summarise(preview.Loans, preview.Released)
	return preview, nil
}

func (s *Service) assess(l *loan.Loan, asOf id.Date) (models.LoanProvision, error) {
	dpd := l.DaysPastDue(asOf)
	bucket, err := s.policy.Classify(dpd)
	if err != nil {
		return models.LoanProvision{}, err
	}
	required := s.policy.RequiredProvision(l.Outstanding, l.Collateral, bucket)
	return models.LoanProvision{
		LoanID:      l.ID,
		CustomerID:  l.CustomerID,
		DaysPastDue: dpd,
		Outstanding: l.Outstanding,
		Collateral:  l.Collateral,
		Class:       bucket.Class,
		Stage:       bucket.Stage,
		Rate:        bucket.Rate,
		Required:    required,
		Held:        l.ProvisionHeld,
		Delta:       required.Sub(l.ProvisionHeld),
	}, nil
}

func release(l *loan.Loan) models.LoanProvision {
	return models.LoanProvision{
		LoanID:      l.ID,
		CustomerID:  l.CustomerID,
		Outstanding: decimal.Zero,
		Collateral:  l.Collateral,
		Class:       l.Classification,
		Stage:       l.Stage,
		Rate:        decimal.Zero,
		Required:    decimal.Zero,
		Held:        l.ProvisionHeld,
		Delta:       l.ProvisionHeld.Neg(),
	}
}

// summarise aggregates per class in policy order; classes with no loans
// still appear so reports keep a fixed shape.
func (s *Service) summarise(loans, released []models.LoanProvision) models.Summary {
	sum := models.Summary{
		LoanCount:        len(loans),
		TotalOutstanding: decimal.Zero,
		TotalRequired:    decimal.Zero,
		TotalHeld:        decimal.Zero,
		Released:         decimal.Zero,
		NetDelta:         decimal.Zero,
		Classes:          make([]models.ClassSummary, len(s.policy.Buckets)),
	}
	index := make(map[models.Class]int, len(s.policy.Buckets))
	for i, b := range s.policy.Buckets {
		index[b.Class] = i
		sum.Classes[i] = models.ClassSummary{
			Class:       b.Class,
			Stage:       b.Stage,
			Rate:        b.Rate,
			Outstanding: decimal.Zero,
			Required:    decimal.Zero,
			Held:        decimal.Zero,
			Delta:       decimal.Zero,
		}
	}
	for _, lp := range loans {
		c := &sum.Classes[index[lp.Class]]
		c.Count++
		c.Outstanding = c.Outstanding.Add(lp.Outstanding)
		c.Required = c.Required.Add(lp.Required)
		c.Held = c.Held.Add(lp.Held)
		c.Delta = c.Delta.Add(lp.Delta)

		sum.TotalOutstanding = sum.TotalOutstanding.Add(lp.Outstanding)
		sum.TotalRequired = sum.TotalRequired.Add(lp.Required)
		sum.TotalHeld = sum.TotalHeld.Add(lp.Held)
		sum.NetDelta = sum.NetDelta.Add(lp.Delta)
	}
	for _, lp := range released {
		sum.Released = sum.Released.Add(lp.Held)
		sum.NetDelta = sum.NetDelta.Add(lp.Delta)
	}
	return sum
}

// PostRun books the provisioning result for asOf: one journal for the net
// change in provision (Dr Impairment / Cr Allowance on increase, the reverse
// on release, none when unchanged) and the new class, stage and provision on
// every active loan. One run per tenant and date.
func (s *Service) PostRun(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Run, error) {
	ctx, span := tracer.Start(ctx, "classification.PostRun")
	defer span.End()
	start := time.Now()

	asOf, err := s.resolveAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("as_of", asOf.String()))

	var run *models.Run
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkNotPosted(ctx, tenantID, asOf); err != nil {
			return err
		}
		preview, err := s.Preview(ctx, tenantID, asOf)
		if err != nil {
			return err
		}

		run = &models.Run{
			ID:        id.ProvisionRunID(uuid.New()),
			TenantID:  tenantID,
			AsOf:      asOf,
			Summary:   preview.Summary,
			PostedBy:  requestcontext.UserID(ctx),
			CreatedAt: requestcontext.Now(ctx),
		}
		if lines := provisionLines(preview.Summary.NetDelta); lines != nil {
			gl, err := s.ledger.GetAccount(ctx, tenantID, ledger.CodeImpairmentCharge)
			if err != nil {
				return err
			}
			journal, err := s.ledger.Post(ctx, tenantID, ledger.PostRequest{
				Reference: Reference(asOf),
				Source:    ledger.SourceProvision,
				SourceID:  run.ID.String(),
				Currency:  gl.Currency,
				Narration: "loan loss provisioning as of " + asOf.String(),
				ValueDate: asOf.Time,
				Lines:     lines,
			})
			if err != nil {
				return err
			}
			jid := journal.ID
			run.JournalID = &jid
		}

		updates := make([]loan.ClassificationUpdate, 0, len(preview.Loans)+len(preview.Released))
		for _, lp := range append(preview.Loans, preview.Released...) {
			updates = append(updates, loan.ClassificationUpdate{
				LoanID:        lp.LoanID,
				Class:         lp.Class,
				Stage:         lp.Stage,
				ProvisionHeld: lp.Required,
			})
		}
		if err := s.loans.ApplyClassification(ctx, tenantID, updates); err != nil {
			return err
		}
		if err := s.store.Create(ctx, run); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "provisioning already posted for "+asOf.String())
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record provisioning run")
		}
		return s.emit(ctx, tenantID, run)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	if s.metrics != nil {
		byClass := make(map[string]int, len(run.Summary.Classes))
		for _, c := range run.Summary.Classes {
			byClass[string(c.Class)] = c.Count
		}
		held, _ := run.Summary.TotalRequired.Float64()
		s.metrics.ObserveRun(start, byClass, held)
	}
	s.logger.InfoContext(ctx, "provisioning run posted",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"as_of", asOf.String(),
		"net_delta", run.Summary.NetDelta.StringFixed(money.Scale),
		"request_id", requestcontext.RequestID(ctx),
	)
	return run, nil
}

// Reference is the journal reference of the provisioning run for asOf.
func Reference(asOf id.Date) string {
	return "PROV-" + strings.ReplaceAll(asOf.String(), "-", "")
}

func provisionLines(delta decimal.Decimal) []ledger.Line {
	switch {
	case delta.IsPositive():
		return []ledger.Line{
			ledger.Debit(ledger.CodeImpairmentCharge, delta, "provision charge"),
			ledger.Credit(ledger.CodeLoanLossAllowance, delta, ""),
		}
	case delta.IsNegative():
		release := delta.Neg()
		return []ledger.Line{
			ledger.Debit(ledger.CodeLoanLossAllowance, release, ""),
			ledger.Credit(ledger.CodeImpairmentCharge, release, "provision release"),
		}
	}
	return nil
}

func (s *Service) checkNotPosted(ctx context.Context, tenantID id.TenantID, asOf id.Date) error {
	_, err := s.store.FindByAsOf(ctx, tenantID, asOf)
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeConflict, "provisioning already posted for "+asOf.String())
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up provisioning runs")
	}
}

// Report summarises loan quality on asOf for regulatory filing.
func (s *Service) Report(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Report, error) {
	preview, err := s.Preview(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	gl, err := s.ledger.GetAccount(ctx, tenantID, ledger.CodeLoansPrincipal)
	if err != nil {
		return nil, err
	}

	sum := preview.Summary
	report := &models.Report{
		AsOf:               preview.AsOf,
		Currency:           gl.Currency,
		Lines:              make([]models.ReportLine, 0, len(sum.Classes)),
		TotalCount:         sum.LoanCount,
		TotalOutstanding:   sum.TotalOutstanding,
		TotalProvision:     sum.TotalRequired,
		NonPerformingRatio: decimal.Zero,
		Coverage:           share(sum.TotalRequired, sum.TotalOutstanding),
	}
	nonPerforming := decimal.Zero
	for _, c := range sum.Classes {
		report.Lines = append(report.Lines, models.ReportLine{
			Class:       c.Class,
			Stage:       c.Stage,
			Count:       c.Count,
			Outstanding: c.Outstanding,
			Provision:   c.Required,
			Share:       share(c.Outstanding, sum.TotalOutstanding),
		})
		if c.Stage == models.Stage3 {
			nonPerforming = nonPerforming.Add(c.Outstanding)
		}
	}
	report.NonPerformingRatio = share(nonPerforming, sum.TotalOutstanding)
	return report, nil
}

func share(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(whole, 4)
}

func (s *Service) ListRuns(ctx context.Context, tenantID id.TenantID, limit int) ([]*models.Run, error) {
	runs, err := s.store.List(ctx, tenantID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list provisioning runs")
	}
	return runs, nil
}

// resolveAsOf defaults to today and rejects future dates: delinquency cannot
// be measured ahead of time.
func (s *Service) resolveAsOf(ctx context.Context, asOf id.Date) (id.Date, error) {
	today := id.DateOf(requestcontext.Now(ctx))
	if asOf.IsZero() {
		return today, nil
	}
	if asOf.After(today) {
		return asOf, dErrors.New(dErrors.CodeValidation, "as_of cannot be in the future")
	}
	return asOf, nil
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, run *models.Run) error {
	if s.auditor == nil {
		return nil
	}
	details := map[string]string{
		"as_of":          run.AsOf.String(),
		"loan_count":     strconv.Itoa(run.Summary.LoanCount),
		"total_required": run.Summary.TotalRequired.StringFixed(money.Scale),
		"net_delta":      run.Summary.NetDelta.StringFixed(money.Scale),
	}
	if run.JournalID != nil {
		details["journal_id"] = run.JournalID.String()
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     audit.ActionProvisionPosted,
		EntityType: "provision_run",
		EntityID:   run.ID.String(),
		Details:    details,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
