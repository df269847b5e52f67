package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"corebank/internal/classification/models"
	"corebank/internal/platform/postgres"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// PostgresStore keeps provisioning runs with their summary as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, run *models.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	var journal any
	if run.JournalID != nil {
		journal = uuid.UUID(*run.JournalID)
	}
	_, err = txcontext.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO provision_runs (id, tenant_id, as_of, summary, journal_id, posted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(run.ID), uuid.UUID(run.TenantID), run.AsOf.Time, summary, journal,
		uuid.UUID(run.PostedBy), run.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert provision run: %w", err)
	}
	return nil
}

const runColumns = `id, tenant_id, as_of, summary, journal_id, posted_by, created_at`

func (s *PostgresStore) FindByAsOf(ctx context.Context, tenantID id.TenantID, asOf id.Date) (*models.Run, error) {
	row := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM provision_runs WHERE tenant_id = $1 AND as_of = $2`,
		uuid.UUID(tenantID), asOf.Time)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find provision run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM provision_runs WHERE tenant_id = $1 ORDER BY as_of DESC`
	args := []any{uuid.UUID(tenantID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list provision runs: %w", err)
	}
	defer rows.Close()
	out := []*models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provision run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	var (
		run           models.Run
		runID, tenant uuid.UUID
		postedBy      uuid.NullUUID
		journal       uuid.NullUUID
		asOf          time.Time
		summary       []byte
	)
	if err := row.Scan(&runID, &tenant, &asOf, &summary, &journal, &postedBy, &run.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &run.Summary); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	run.ID = id.ProvisionRunID(runID)
	run.TenantID = id.TenantID(tenant)
	run.AsOf = id.DateOf(asOf)
	if postedBy.Valid {
		run.PostedBy = id.UserID(postedBy.UUID)
	}
	if journal.Valid {
		j := id.JournalID(journal.UUID)
		run.JournalID = &j
	}
	return &run, nil
}
