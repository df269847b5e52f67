package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	id "corebank/pkg/domain"
	audit "corebank/pkg/platform/audit"
	txcontext "corebank/pkg/platform/tx"
)

// Store implements audit.Store with the transactional outbox pattern: Append
// writes the queryable audit_events row and an audit_outbox row in the caller's
// transaction. The relay publishes outbox rows to Kafka afterwards.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	q := txcontext.Q(ctx, s.db)

	details, err := json.Marshal(detailsOrEmpty(event.Details))
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, tenant_id, category, action, actor_id, entity_type, entity_id,
			request_id, client_ip, device, details, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		uuid.UUID(event.ID),
		nullableTenant(event.TenantID),
		string(event.Category),
		string(event.Action),
		event.ActorID,
		event.EntityType,
		event.EntityID,
		event.RequestID,
		event.ClientIP,
		event.Device,
		details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	// Partition by tenant so a tenant's events stay ordered on the topic.
	key := event.TenantID.String()
	if event.TenantID.IsNil() {
		key = event.ID.String()
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, event_id, event_type, partition_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(),
		uuid.UUID(event.ID),
		string(event.Action),
		key,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// List returns matching events newest first.
func (s *Store) List(ctx context.Context, tenantID id.TenantID, filter audit.Filter) ([]audit.Event, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{uuid.UUID(tenantID)}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Category != "" {
		add("category = $%d", string(filter.Category))
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, tenant_id, category, action, actor_id, entity_type, entity_id,
		       request_id, client_ip, device, details, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			eventID  uuid.UUID
			tenant   uuid.NullUUID
			category string
			action   string
			details  []byte
		)
		if err := rows.Scan(&eventID, &tenant, &category, &action, &e.ActorID, &e.EntityType, &e.EntityID,
			&e.RequestID, &e.ClientIP, &e.Device, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ID = id.AuditEventID(eventID)
		if tenant.Valid {
			e.TenantID = id.TenantID(tenant.UUID)
		}
		e.Category = audit.Category(category)
		e.Action = audit.Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
			if len(e.Details) == 0 {
				e.Details = nil
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// FetchUnpublished returns up to limit pending outbox rows oldest first,
// locking them so concurrent relays skip each other's batches.
// Must run inside a transaction.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, `
		SELECT id, event_type, partition_key, payload, attempts
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var e audit.OutboxEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.PartitionKey, &e.Payload, &e.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps published_at on the given rows.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	for _, entryID := range ids {
		if _, err := txcontext.Q(ctx, s.db).ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = $2 WHERE id = $1`, entryID, at); err != nil {
			return fmt.Errorf("mark outbox entry published: %w", err)
		}
	}
	return nil
}

// RecordAttempt increments the attempt counter after a failed publish.
func (s *Store) RecordAttempt(ctx context.Context, ids []uuid.UUID) error {
	for _, entryID := range ids {
		if _, err := txcontext.Q(ctx, s.db).ExecContext(ctx,
			`UPDATE audit_outbox SET attempts = attempts + 1 WHERE id = $1`, entryID); err != nil {
			return fmt.Errorf("record outbox attempt: %w", err)
		}
	}
	return nil
}

// PendingCount reports the outbox backlog.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox backlog: %w", err)
	}
	return n, nil
}

func nullableTenant(t id.TenantID) any {
	if t.IsNil() {
		return nil
	}
	return uuid.UUID(t)
}

func detailsOrEmpty(d map[string]string) map[string]string {
	if d == nil {
		return map[string]string{}
	}
	return d
}
