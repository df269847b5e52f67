package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"corebank/internal/ledger/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore persists the ledger. Balances are never stored; they are
// summed from journal_lines so a journal and its effect cannot diverge.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO gl_accounts (tenant_id, code, name, type, normal_balance, currency, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(a.TenantID), a.Code, a.Name, string(a.Type), string(a.NormalBalance), a.Currency, a.Active, a.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert gl account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *models.Account) error {
	res, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE gl_accounts SET name = $3, active = $4
		WHERE tenant_id = $1 AND code = $2`,
		uuid.UUID(a.TenantID), a.Code, a.Name, a.Active,
	)
	if err != nil {
		return fmt.Errorf("update gl account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const accountColumns = `tenant_id, code, name, type, normal_balance, currency, active, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var (
		a      models.Account
		tenant uuid.UUID
		typ    string
		normal string
	)
	if err := row.Scan(&tenant, &a.Code, &a.Name, &typ, &normal, &a.Currency, &a.Active, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.TenantID = id.TenantID(tenant)
	a.Type = models.AccountType(typ)
	a.NormalBalance = models.Side(normal)
	return &a, nil
}

func (s *PostgresStore) FindAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error) {
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM gl_accounts WHERE tenant_id = $1 AND code = $2`,
		uuid.UUID(tenantID), code)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find gl account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx,
		`SELECT `+accountColumns+` FROM gl_accounts WHERE tenant_id = $1 ORDER BY code`,
		uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list gl accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gl account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertJournal(ctx context.Context, j *models.Journal) error {
	q := txcontext.Q(ctx, s.db)
	var reversalOf *uuid.UUID
	if j.ReversalOf != nil {
		v := uuid.UUID(*j.ReversalOf)
		reversalOf = &v
	}
	var postedBy *uuid.UUID
	if !j.PostedBy.IsNil() {
		v := uuid.UUID(j.PostedBy)
		postedBy = &v
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO journals (id, tenant_id, reference, source, source_id, narration, currency, value_date, posted_at, posted_by, reversal_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(j.ID), uuid.UUID(j.TenantID), j.Reference, string(j.Source), j.SourceID, j.Narration,
		j.Currency, j.ValueDate, j.PostedAt, postedBy, reversalOf,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert journal: %w", err)
	}
	for i, l := range j.Lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO journal_lines (journal_id, line_no, tenant_id, account_code, debit, credit, memo)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.UUID(j.ID), i+1, uuid.UUID(j.TenantID), l.AccountCode, l.Debit, l.Credit, l.Memo,
		); err != nil {
			return fmt.Errorf("insert journal line %d: %w", i+1, err)
		}
	}
	return nil
}

const journalColumns = `id, tenant_id, reference, source, source_id, narration, currency, value_date, posted_at, posted_by, reversal_of, reversed_by`

func (s *PostgresStore) FindJournal(ctx context.Context, tenantID id.TenantID, journalID id.JournalID) (*models.Journal, error) {
	return s.findJournal(ctx, `tenant_id = $1 AND id = $2`, uuid.UUID(tenantID), uuid.UUID(journalID))
}

func (s *PostgresStore) FindJournalByReference(ctx context.Context, tenantID id.TenantID, reference string) (*models.Journal, error) {
	return s.findJournal(ctx, `tenant_id = $1 AND reference = $2`, uuid.UUID(tenantID), reference)
}

func (s *PostgresStore) findJournal(ctx context.Context, where string, args ...any) (*models.Journal, error) {
	q := txcontext.Q(ctx, s.db)
	var (
		j          models.Journal
		journalID  uuid.UUID
		tenant     uuid.UUID
		source     string
		postedBy   uuid.NullUUID
		reversalOf uuid.NullUUID
		reversedBy uuid.NullUUID
	)
	err := q.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journals WHERE `+where, args...).Scan(
		&journalID, &tenant, &j.Reference, &source, &j.SourceID, &j.Narration, &j.Currency,
		&j.ValueDate, &j.PostedAt, &postedBy, &reversalOf, &reversedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find journal: %w", err)
	}
	j.ID = id.JournalID(journalID)
	j.TenantID = id.TenantID(tenant)
	j.Source = models.Source(source)
	j.ValueDate = models.DateOf(j.ValueDate)
	if postedBy.Valid {
		j.PostedBy = id.UserID(postedBy.UUID)
	}
	if reversalOf.Valid {
		v := id.JournalID(reversalOf.UUID)
		j.ReversalOf = &v
	}
	if reversedBy.Valid {
		v := id.JournalID(reversedBy.UUID)
		j.ReversedBy = &v
	}

	rows, err := q.QueryContext(ctx, `
		SELECT account_code, debit, credit, memo FROM journal_lines
		WHERE journal_id = $1 ORDER BY line_no`, journalID)
	if err != nil {
		return nil, fmt.Errorf("load journal lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.Line
		if err := rows.Scan(&l.AccountCode, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return nil, fmt.Errorf("scan journal line: %w", err)
		}
		j.Lines = append(j.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal lines: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) MarkReversed(ctx context.Context, tenantID id.TenantID, original, reversal id.JournalID) error {
	res, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE journals SET reversed_by = $3
		WHERE tenant_id = $1 AND id = $2 AND reversed_by IS NULL`,
		uuid.UUID(tenantID), uuid.UUID(original), uuid.UUID(reversal))
	if err != nil {
		return fmt.Errorf("mark journal reversed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) AccountTotals(ctx context.Context, tenantID id.TenantID, code string, through time.Time) (models.Totals, error) {
	var t models.Totals
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
		FROM journal_lines l
		JOIN journals j ON j.id = l.journal_id
		WHERE l.tenant_id = $1 AND l.account_code = $2
		  AND ($3::date IS NULL OR j.value_date <= $3::date)`,
		uuid.UUID(tenantID), code, nullableDate(through),
	).Scan(&t.Debit, &t.Credit)
	if err != nil {
		return models.Totals{}, fmt.Errorf("sum account lines: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) TrialTotals(ctx context.Context, tenantID id.TenantID, through time.Time) (map[string]models.Totals, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, `
		SELECT l.account_code, SUM(l.debit), SUM(l.credit)
		FROM journal_lines l
		JOIN journals j ON j.id = l.journal_id
		WHERE l.tenant_id = $1
		  AND ($2::date IS NULL OR j.value_date <= $2::date)
		GROUP BY l.account_code`,
		uuid.UUID(tenantID), nullableDate(through))
	if err != nil {
		return nil, fmt.Errorf("sum trial balance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.Totals)
	for rows.Next() {
		var (
			code          string
			debit, credit decimal.Decimal
		)
		if err := rows.Scan(&code, &debit, &credit); err != nil {
			return nil, fmt.Errorf("scan trial balance row: %w", err)
		}
		out[code] = models.Totals{Debit: debit, Credit: credit}
	}
	return out, rows.Err()
}

func (s *PostgresStore) Postings(ctx context.Context, tenantID id.TenantID, code string, from, to time.Time) ([]models.Posting, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, `
		SELECT j.id, j.reference, j.source, j.narration, j.value_date, j.posted_at,
		       l.line_no, l.debit, l.credit, l.memo
		FROM journal_lines l
		JOIN journals j ON j.id = l.journal_id
		WHERE l.tenant_id = $1 AND l.account_code = $2
		  AND j.value_date BETWEEN $3::date AND $4::date
		ORDER BY j.value_date, j.posted_at, l.line_no`,
		uuid.UUID(tenantID), code, from, to)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	var out []models.Posting
	for rows.Next() {
		var (
			p         models.Posting
			journalID uuid.UUID
			source    string
		)
		if err := rows.Scan(&journalID, &p.Reference, &source, &p.Narration, &p.ValueDate, &p.PostedAt,
			&p.LineNo, &p.Debit, &p.Credit, &p.Memo); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		p.JournalID = id.JournalID(journalID)
		p.Source = models.Source(source)
		p.ValueDate = models.DateOf(p.ValueDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
