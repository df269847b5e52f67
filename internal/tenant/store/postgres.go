package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"corebank/internal/platform/postgres"
	"corebank/internal/tenant/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore persists tenants. name_key carries a unique index so
// concurrent creations with the same name yield exactly one winner.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, name, base_currency, status, created_at, updated_at`

func (s *PostgresStore) CreateIfNameAvailable(ctx context.Context, t *models.Tenant) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO tenants (id, name, name_key, base_currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(t.ID), t.Name, models.NameKey(t.Name), t.BaseCurrency, string(t.Status), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// FindByID locks the row when called inside a transaction so status
// transitions serialise.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	query := `SELECT ` + columns + ` FROM tenants WHERE id = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	return s.scanOne(ctx, query, uuid.UUID(tenantID))
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Tenant, error) {
	return s.scanOne(ctx, `SELECT `+columns+` FROM tenants WHERE name_key = $1`, models.NameKey(name))
}

func (s *PostgresStore) Update(ctx context.Context, t *models.Tenant) error {
	res, err := txcontext.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE tenants SET status = $2, updated_at = $3 WHERE id = $1`,
		uuid.UUID(t.ID), string(t.Status), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*models.Tenant, error) {
	var (
		t        models.Tenant
		tenantID uuid.UUID
		status   string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, args...).
		Scan(&tenantID, &t.Name, &t.BaseCurrency, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	t.ID = id.TenantID(tenantID)
	t.Status = models.TenantStatus(status)
	return &t, nil
}
