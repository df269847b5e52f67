package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"corebank/internal/approval/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore persists approval requests. A partial unique index keeps one
// pending request per tenant, kind and entity.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, tenant_id, kind, entity_id, payload, status, maker_id, checker_id,
	comment, last_error, created_at, decided_at, expires_at`

func (s *PostgresStore) Create(ctx context.Context, req *models.Request) error {
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(req.ID), uuid.UUID(req.TenantID), string(req.Kind), req.EntityID, []byte(req.Payload),
		string(req.Status), uuid.UUID(req.MakerID), nullableUser(req.CheckerID),
		req.Comment, req.LastError, req.CreatedAt, req.DecidedAt, req.ExpiresAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Update persists a change to a request that is still pending. A request
// that has already left pending yields sentinel.ErrConflict.
func (s *PostgresStore) Update(ctx context.Context, req *models.Request) error {
	res, err := txcontext.Q(ctx, s.db).ExecContext(ctx, `
		UPDATE approval_requests
		SET status = $3, checker_id = $4, comment = $5, last_error = $6, decided_at = $7
		WHERE tenant_id = $1 AND id = $2 AND status = 'pending'`,
		uuid.UUID(req.TenantID), uuid.UUID(req.ID), string(req.Status), nullableUser(req.CheckerID),
		req.Comment, req.LastError, req.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*models.Request, error) {
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE tenant_id = $1 AND id = $2`,
		uuid.UUID(tenantID), uuid.UUID(approvalID))
	return s.scanOne(row, "find approval request")
}

func (s *PostgresStore) FindPending(ctx context.Context, tenantID id.TenantID, kind models.Kind, entityID string) (*models.Request, error) {
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		WHERE tenant_id = $1 AND kind = $2 AND entity_id = $3 AND status = 'pending'`,
		uuid.UUID(tenantID), string(kind), entityID)
	return s.scanOne(row, "find pending approval request")
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE tenant_id = $1`
	args := []any{uuid.UUID(tenantID)}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $` + strconv.Itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	defer rows.Close()
	out := []*models.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) scanOne(row *sql.Row, op string) (*models.Request, error) {
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

func scanRequest(row interface{ Scan(...any) error }) (*models.Request, error) {
	var (
		req                  models.Request
		reqID, tenant, maker uuid.UUID
		checker              uuid.NullUUID
		kind, status         string
		payload              []byte
		decidedAt            sql.NullTime
	)
	if err := row.Scan(&reqID, &tenant, &kind, &req.EntityID, &payload, &status, &maker, &checker,
		&req.Comment, &req.LastError, &req.CreatedAt, &decidedAt, &req.ExpiresAt); err != nil {
		return nil, err
	}
	req.ID = id.ApprovalID(reqID)
	req.TenantID = id.TenantID(tenant)
	req.Kind = models.Kind(kind)
	req.Status = models.Status(status)
	req.MakerID = id.UserID(maker)
	req.Payload = payload
	if checker.Valid {
		c := id.UserID(checker.UUID)
		req.CheckerID = &c
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return &req, nil
}

func nullableUser(u *id.UserID) any {
	if u == nil {
		return nil
	}
	return uuid.UUID(*u)
}
