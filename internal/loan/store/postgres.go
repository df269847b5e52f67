package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	class "corebank/internal/classification/models"
	"corebank/internal/loan/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore persists loans with their installments and repayments.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, l *models.Loan) error {
	q := txcontext.Q(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO loans (id, tenant_id, customer_id, settlement_account_id, currency, principal, annual_rate,
			term_months, method, collateral, status, application_date, disbursed_at, first_due_date,
			classification, stage, provision_held, disbursement_journal_id, write_off_journal_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		uuid.UUID(l.ID), uuid.UUID(l.TenantID), l.CustomerID, accountRef(l.SettlementAccountID), l.Currency,
		l.Principal, l.AnnualRate, l.TermMonths, string(l.Method), l.Collateral, string(l.Status),
		l.ApplicationDate.Time, nullableDate(l.DisbursedAt), nullableDate(l.FirstDueDate),
		string(l.Classification), int(l.Stage), l.ProvisionHeld,
		journalRef(l.DisbursementJournalID), journalRef(l.WriteOffJournalID), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert loan: %w", err)
	}
	return s.writeSchedule(ctx, q, l)
}

// Update rewrites the loan row and replaces its schedule.
func (s *PostgresStore) Update(ctx context.Context, l *models.Loan) error {
	q := txcontext.Q(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE loans SET status = $3, disbursed_at = $4, first_due_date = $5, classification = $6, stage = $7,
			provision_held = $8, disbursement_journal_id = $9, write_off_journal_id = $10, updated_at = $11
		WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(l.TenantID), uuid.UUID(l.ID), string(l.Status), nullableDate(l.DisbursedAt),
		nullableDate(l.FirstDueDate), string(l.Classification), int(l.Stage), l.ProvisionHeld,
		journalRef(l.DisbursementJournalID), journalRef(l.WriteOffJournalID), l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM loan_installments WHERE loan_id = $1`, uuid.UUID(l.ID)); err != nil {
		return fmt.Errorf("clear installments: %w", err)
	}
	return s.writeSchedule(ctx, q, l)
}

func (s *PostgresStore) writeSchedule(ctx context.Context, q txcontext.Querier, l *models.Loan) error {
	for _, in := range l.Schedule {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO loan_installments (loan_id, number, due_date, principal, interest, paid_principal, paid_interest, waived)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.UUID(l.ID), in.Number, in.DueDate.Time, in.Principal, in.Interest, in.PaidPrincipal, in.PaidInterest, in.Waived,
		); err != nil {
			return fmt.Errorf("insert installment %d: %w", in.Number, err)
		}
	}
	return nil
}

const loanColumns = `id, tenant_id, customer_id, settlement_account_id, currency, principal, annual_rate, term_months,
	method, collateral, status, application_date, disbursed_at, first_due_date, classification, stage,
	provision_held, disbursement_journal_id, write_off_journal_id, created_at, updated_at`

// FindByID locks the loan row when called inside a transaction.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE tenant_id = $1 AND id = $2`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	q := txcontext.Q(ctx, s.db)
	l, err := scanLoan(q.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(loanID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find loan: %w", err)
	}
	if err := s.loadSchedules(ctx, q, []*models.Loan{l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Loan, error) {
	where := []string{"tenant_id = $1"}
	args := []any{uuid.UUID(tenantID)}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	q := txcontext.Q(ctx, s.db)
	rows, err := q.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	var out []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	if err := s.loadSchedules(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) loadSchedules(ctx context.Context, q txcontext.Querier, loans []*models.Loan) error {
	if len(loans) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Loan, len(loans))
	ids := make([]string, 0, len(loans))
	for _, l := range loans {
		byID[uuid.UUID(l.ID)] = l
		ids = append(ids, l.ID.String())
	}
	rows, err := q.QueryContext(ctx, `
		SELECT loan_id, number, due_date, principal, interest, paid_principal, paid_interest, waived
		FROM loan_installments WHERE loan_id = ANY($1::uuid[]) ORDER BY loan_id, number`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load installments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			in     models.Installment
			loanID uuid.UUID
			due    time.Time
		)
		if err := rows.Scan(&loanID, &in.Number, &due, &in.Principal, &in.Interest,
			&in.PaidPrincipal, &in.PaidInterest, &in.Waived); err != nil {
			return fmt.Errorf("scan installment: %w", err)
		}
		in.DueDate = id.DateOf(due)
		if l, ok := byID[loanID]; ok {
			l.Schedule = append(l.Schedule, in)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load installments: %w", err)
	}
	for _, l := range loans {
		l.Recompute()
	}
	return nil
}

func scanLoan(row interface{ Scan(...any) error }) (*models.Loan, error) {
	var (
		l              models.Loan
		loanID, tenant uuid.UUID
		settlement     uuid.NullUUID
		method, status string
		classification string
		stage          int
		applied        time.Time
		disbursed, due sql.NullTime
		disbJournal    uuid.NullUUID
		woJournal      uuid.NullUUID
	)
	if err := row.Scan(&loanID, &tenant, &l.CustomerID, &settlement, &l.Currency, &l.Principal, &l.AnnualRate,
		&l.TermMonths, &method, &l.Collateral, &status, &applied, &disbursed, &due, &classification, &stage,
		&l.ProvisionHeld, &disbJournal, &woJournal, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.ID = id.LoanID(loanID)
	l.TenantID = id.TenantID(tenant)
	if settlement.Valid {
		v := id.AccountID(settlement.UUID)
		l.SettlementAccountID = &v
	}
	l.Method = models.Method(method)
	l.Status = models.Status(status)
	l.ApplicationDate = id.DateOf(applied)
	if disbursed.Valid {
		l.DisbursedAt = id.DateOf(disbursed.Time)
	}
	if due.Valid {
		l.FirstDueDate = id.DateOf(due.Time)
	}
	l.Classification = class.Class(classification)
	l.Stage = class.Stage(stage)
	if disbJournal.Valid {
		v := id.JournalID(disbJournal.UUID)
		l.DisbursementJournalID = &v
	}
	if woJournal.Valid {
		v := id.JournalID(woJournal.UUID)
		l.WriteOffJournalID = &v
	}
	l.Recompute()
	return &l, nil
}

func (s *PostgresStore) CreateRepayment(ctx context.Context, r *models.Repayment) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO loan_repayments (id, tenant_id, loan_id, reference, amount, interest_paid, principal_paid,
			channel, value_date, journal_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, uuid.UUID(r.TenantID), uuid.UUID(r.LoanID), r.Reference, r.Amount, r.InterestPaid, r.PrincipalPaid,
		string(r.Channel), r.ValueDate.Time, uuid.UUID(r.JournalID), r.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert repayment: %w", err)
	}
	return nil
}

const repaymentColumns = `id, tenant_id, loan_id, reference, amount, interest_paid, principal_paid, channel, value_date, journal_id, created_at`

func (s *PostgresStore) FindRepayment(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, reference string) (*models.Repayment, error) {
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+repaymentColumns+` FROM loan_repayments WHERE tenant_id = $1 AND loan_id = $2 AND reference = $3`,
		uuid.UUID(tenantID), uuid.UUID(loanID), reference)
	r, err := scanRepayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find repayment: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRepayments(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]*models.Repayment, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx,
		`SELECT `+repaymentColumns+` FROM loan_repayments WHERE tenant_id = $1 AND loan_id = $2 ORDER BY created_at, id`,
		uuid.UUID(tenantID), uuid.UUID(loanID))
	if err != nil {
		return nil, fmt.Errorf("list repayments: %w", err)
	}
	defer rows.Close()
	var out []*models.Repayment
	for rows.Next() {
		r, err := scanRepayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repayment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRepayment(row interface{ Scan(...any) error }) (*models.Repayment, error) {
	var (
		r                         models.Repayment
		tenant, loanID, journalID uuid.UUID
		channel                   string
		valueDate                 time.Time
	)
	if err := row.Scan(&r.ID, &tenant, &loanID, &r.Reference, &r.Amount, &r.InterestPaid, &r.PrincipalPaid,
		&channel, &valueDate, &journalID, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.TenantID = id.TenantID(tenant)
	r.LoanID = id.LoanID(loanID)
	r.JournalID = id.JournalID(journalID)
	r.Channel = models.Channel(channel)
	r.ValueDate = id.DateOf(valueDate)
	return &r, nil
}

func nullableDate(d id.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Time
}

func accountRef(a *id.AccountID) any {
	if a == nil {
		return nil
	}
	return uuid.UUID(*a)
}

func journalRef(j *id.JournalID) any {
	if j == nil {
		return nil
	}
	return uuid.UUID(*j)
}
