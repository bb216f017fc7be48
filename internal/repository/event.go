package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventRecord is one append-only row in the saga_events table.
type EventRecord struct {
	ID             int64           `json:"id"`
	SagaID         string          `json:"sagaId"`
	TenantID       string          `json:"tenantId"`
	BusinessUnitID string          `json:"businessUnitId"`
	CorrelationID  string          `json:"correlationId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// EventRepository persists lifecycle events. Rows are never updated.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends the event and fills in its generated ID.
func (r *EventRepository) Insert(ctx context.Context, ev *EventRecord) error {
	query := `
		INSERT INTO payrail_saga.saga_events
		(saga_id, tenant_id, business_unit_id, correlation_id, type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		ev.SagaID, ev.TenantID, ev.BusinessUnitID, ev.CorrelationID,
		ev.Type, []byte(ev.Payload), ev.OccurredAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const eventColumns = `
	id, saga_id, tenant_id, business_unit_id, correlation_id, type, payload, occurred_at
`

// ListBySagaID returns events for a saga ordered by occurrence ascending.
func (r *EventRepository) ListBySagaID(ctx context.Context, sagaID string) ([]*EventRecord, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM payrail_saga.saga_events
		WHERE saga_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	return r.list(ctx, query, sagaID)
}

// ListByCorrelationID returns events across sagas sharing a correlation ID,
// ordered by occurrence ascending.
func (r *EventRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]*EventRecord, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM payrail_saga.saga_events
		WHERE correlation_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	return r.list(ctx, query, correlationID)
}

func (r *EventRepository) list(ctx context.Context, query string, arg interface{}) ([]*EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var (
			ev      EventRecord
			payload []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.SagaID, &ev.TenantID, &ev.BusinessUnitID,
			&ev.CorrelationID, &ev.Type, &payload, &ev.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
