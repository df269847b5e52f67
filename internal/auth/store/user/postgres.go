package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"corebank/internal/auth/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore persists users; roles live in a TEXT[] column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, tenant_id, email, name, password_hash, roles, status, created_at`

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO users (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.UUID(user.ID), uuid.UUID(user.TenantID), models.NormalizeEmail(user.Email), user.Name,
		user.PasswordHash, pq.Array(user.Roles), string(user.Status), user.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	return s.scanOne(ctx, `SELECT `+columns+` FROM users WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(userID))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	return s.scanOne(ctx, `SELECT `+columns+` FROM users WHERE tenant_id = $1 AND email = $2`,
		uuid.UUID(tenantID), models.NormalizeEmail(email))
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var (
		u        models.User
		userID   uuid.UUID
		tenantID uuid.UUID
		status   string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, args...).
		Scan(&userID, &tenantID, &u.Email, &u.Name, &u.PasswordHash, pq.Array(&u.Roles), &status, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.UserID(userID)
	u.TenantID = id.TenantID(tenantID)
	u.Status = models.UserStatus(status)
	return &u, nil
}
