// Package consumer materializes audit events from Kafka into the
// queryable audit_events table. The outbox relay guarantees delivery;
// this side guarantees idempotency via event-ID keyed inserts.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lifeline/internal/platform/kafka/consumer"
	id "lifeline/pkg/domain"
	audit "lifeline/pkg/platform/audit"
)

// MaterializeStore is the write side the materializer needs.
type MaterializeStore interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Materializer turns published audit payloads back into audit.Event
// rows. Malformed messages are logged and committed rather than
// retried: redelivery cannot fix a bad payload.
type Materializer struct {
	store  MaterializeStore
	logger *slog.Logger
}

func NewMaterializer(store MaterializeStore, logger *slog.Logger) *Materializer {
	return &Materializer{store: store, logger: logger}
}

// payload matches the JSON written by the outbox store.
type payload struct {
	ID           string `json:"ID"`
	Category     string `json:"Category"`
	Timestamp    string `json:"Timestamp"`
	TreatmentID  string `json:"TreatmentID"`
	MilestoneID  *uint8 `json:"MilestoneID"`
	Subject      string `json:"Subject"`
	Action       string `json:"Action"`
	Amount       uint64 `json:"Amount"`
	Reason       string `json:"Reason"`
	ActorID      string `json:"ActorID"`
	RequestID    string `json:"RequestID"`
	ClientIP     string `json:"ClientIP"`
	ClientDevice string `json:"ClientDevice"`
}

// Handle processes one published audit event.
func (m *Materializer) Handle(ctx context.Context, msg *consumer.Message) error {
	eventID, err := uuid.Parse(string(msg.Key))
	if err != nil {
		m.logger.Error("CRITICAL: failed to parse audit event ID",
			"key", string(msg.Key),
			"error", err,
		)
		// Commit to avoid blocking the partition on a malformed key.
		return nil
	}

	var p payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		m.logger.Error("CRITICAL: failed to unmarshal audit payload",
			"event_id", eventID,
			"error", err,
		)
		return nil
	}
	if p.Action == "" {
		m.logger.Error("CRITICAL: audit payload missing Action", "event_id", eventID)
		return nil
	}

	event := audit.Event{
		Category:     audit.EventCategory(p.Category),
		Subject:      p.Subject,
		Action:       p.Action,
		Amount:       id.Amount(p.Amount),
		Reason:       p.Reason,
		ActorID:      p.ActorID,
		RequestID:    p.RequestID,
		ClientIP:     p.ClientIP,
		ClientDevice: p.ClientDevice,
	}

	if ts, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
		event.Timestamp = ts
	} else {
		event.Timestamp = time.Now()
	}
	if p.TreatmentID != "" {
		if tid, err := id.ParseTreatmentID(p.TreatmentID); err == nil {
			event.TreatmentID = tid
		} else {
			m.logger.Error("audit payload has malformed TreatmentID",
				"event_id", eventID,
				"treatment_id", p.TreatmentID,
			)
		}
	}
	if p.MilestoneID != nil {
		mid := id.MilestoneID(*p.MilestoneID)
		event.MilestoneID = &mid
	}

	if err := m.store.AppendWithID(ctx, eventID, event); err != nil {
		m.logger.Error("failed to materialize audit event",
			"event_id", eventID,
			"action", event.Action,
			"error", err,
		)
		return fmt.Errorf("materialize audit event: %w", err)
	}

	m.logger.Debug("materialized audit event",
		"event_id", eventID,
		"action", event.Action,
	)
	return nil
}
