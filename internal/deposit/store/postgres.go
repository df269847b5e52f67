package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"corebank/internal/deposit/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Account) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO deposit_accounts (id, tenant_id, customer_id, number, currency, balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.UUID(a.ID), uuid.UUID(a.TenantID), a.CustomerID, a.Number, a.Currency, a.Balance,
		string(a.Status), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert deposit account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, a *models.Account) error {
	res, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE deposit_accounts SET balance = $3, status = $4, updated_at = $5
		WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(a.TenantID), uuid.UUID(a.ID), a.Balance, string(a.Status), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update deposit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// FindByID locks the row when called inside a transaction so concurrent
// movements on one account serialise.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	query := `SELECT ` + columns + ` FROM deposit_accounts WHERE tenant_id = $1 AND id = $2`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	return s.scanOne(ctx, query, uuid.UUID(tenantID), uuid.UUID(accountID))
}

func (s *PostgresStore) FindByNumber(ctx context.Context, tenantID id.TenantID, number string) (*models.Account, error) {
	return s.scanOne(ctx, `SELECT `+columns+` FROM deposit_accounts WHERE tenant_id = $1 AND number = $2`,
		uuid.UUID(tenantID), number)
}

const columns = `id, tenant_id, customer_id, number, currency, balance, status, created_at, updated_at`

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	var (
		a         models.Account
		accountID uuid.UUID
		tenantID  uuid.UUID
		status    string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(
		&accountID, &tenantID, &a.CustomerID, &a.Number, &a.Currency, &a.Balance, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find deposit account: %w", err)
	}
	a.ID = id.AccountID(accountID)
	a.TenantID = id.TenantID(tenantID)
	a.Status = models.Status(status)
	return &a, nil
}
