package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
	txcontext "lifeline/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table in the caller's transaction and
// published to Kafka by the relay worker. An event therefore exists iff
// the state change it describes committed.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Payload is the JSON structure published to Kafka. Field names match
// audit.Event for deserialization by the consumer.
type Payload struct {
	ID           string `json:"ID"`
	Category     string `json:"Category"`
	Timestamp    string `json:"Timestamp"`
	TreatmentID  string `json:"TreatmentID,omitempty"`
	MilestoneID  *uint8 `json:"MilestoneID,omitempty"`
	Subject      string `json:"Subject,omitempty"`
	Action       string `json:"Action"`
	Amount       uint64 `json:"Amount,omitempty"`
	Reason       string `json:"Reason,omitempty"`
	ActorID      string `json:"ActorID,omitempty"`
	RequestID    string `json:"RequestID,omitempty"`
	ClientIP     string `json:"ClientIP,omitempty"`
	ClientDevice string `json:"ClientDevice,omitempty"`
}

func toPayload(eventID uuid.UUID, event audit.Event) Payload {
	// Category always derives from the action; the map in audit/models.go
	// is the source of truth.
	p := Payload{
		ID:           eventID.String(),
		Category:     string(audit.AuditEvent(event.Action).Category()),
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
		Subject:      event.Subject,
		Action:       event.Action,
		Amount:       uint64(event.Amount),
		Reason:       event.Reason,
		ActorID:      event.ActorID,
		RequestID:    event.RequestID,
		ClientIP:     event.ClientIP,
		ClientDevice: event.ClientDevice,
	}
	if !event.TreatmentID.IsNil() {
		p.TreatmentID = event.TreatmentID.String()
	}
	if event.MilestoneID != nil {
		m := uint8(*event.MilestoneID)
		p.MilestoneID = &m
	}
	return p
}

// Append writes an audit event to the outbox table for Kafka publishing.
// When the context carries a transaction the write joins it, making the
// event and the state change atomic.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	payloadBytes, err := json.Marshal(toPayload(eventID, event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "treatment"
	aggregateID := eventID.String()
	if !event.TreatmentID.IsNil() {
		aggregateID = event.TreatmentID.String()
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into the audit_events table with a
// specific ID. Used by the Kafka consumer to materialize events for
// querying. Idempotent: duplicate inserts are ignored via ON CONFLICT.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	var milestone sql.NullInt32
	if event.MilestoneID != nil {
		milestone = sql.NullInt32{Int32: int32(*event.MilestoneID), Valid: true}
	}
	var treatment sql.NullString
	if !event.TreatmentID.IsNil() {
		treatment = sql.NullString{String: event.TreatmentID.String(), Valid: true}
	}

	query := `
		INSERT INTO audit_events (
			id, category, occurred_at, treatment_id, milestone_id,
			subject, action, amount, reason, actor_id, request_id,
			client_ip, client_device
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		eventID,
		string(audit.AuditEvent(event.Action).Category()),
		event.Timestamp,
		treatment,
		milestone,
		event.Subject,
		event.Action,
		int64(event.Amount),
		event.Reason,
		event.ActorID,
		event.RequestID,
		event.ClientIP,
		event.ClientDevice,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByTreatment reads materialized audit events for one treatment.
func (s *Store) ListByTreatment(ctx context.Context, treatmentID id.TreatmentID) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, milestone_id, subject, action,
		       amount, reason, actor_id, request_id, client_ip, client_device
		FROM audit_events
		WHERE treatment_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, treatmentID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			ev        audit.Event
			category  string
			milestone sql.NullInt32
			amount    int64
		)
		if err := rows.Scan(&category, &ev.Timestamp, &milestone, &ev.Subject,
			&ev.Action, &amount, &ev.Reason, &ev.ActorID, &ev.RequestID,
			&ev.ClientIP, &ev.ClientDevice); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Category = audit.EventCategory(category)
		ev.TreatmentID = treatmentID
		ev.Amount = id.Amount(amount)
		if milestone.Valid {
			m := id.MilestoneID(milestone.Int32)
			ev.MilestoneID = &m
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Schema returns the DDL for the outbox and materialized event tables.
// Applied by migrations tooling; kept here so the store and its schema
// evolve together.
const Schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_unpublished_idx
	ON outbox (created_at) WHERE published_at IS NULL;

CREATE TABLE IF NOT EXISTS audit_events (
	id            UUID PRIMARY KEY,
	category      TEXT NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	treatment_id  TEXT,
	milestone_id  INT,
	subject       TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	amount        BIGINT NOT NULL DEFAULT 0,
	reason        TEXT NOT NULL DEFAULT '',
	actor_id      TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	client_ip     TEXT NOT NULL DEFAULT '',
	client_device TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS audit_events_treatment_idx
	ON audit_events (treatment_id, occurred_at);
`
