// Package worker relays committed outbox rows to Kafka. Together with
// the outbox insert this gives at-least-once publishing of exactly the
// events whose state changes committed.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Producer is the slice of the Kafka client the relay needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Relay polls the outbox table and publishes unpublished rows.
type Relay struct {
	db       *sql.DB
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets the poll interval (default 1s).
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize sets rows claimed per poll (default 100).
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batch = n }
}

func NewRelay(db *sql.DB, producer Producer, topic string, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:       db,
		producer: producer,
		topic:    topic,
		interval: time.Second,
		batch:    100,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled. Rows are claimed with
// SKIP LOCKED so multiple relay instances can run concurrently.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.relayBatch(ctx); err != nil {
				// Transient broker or DB failures should not kill the
				// relay; unpublished rows stay claimed for the next poll.
				r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id          string
	aggregateID string
	payload     []byte
}

func (r *Relay) relayBatch(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batch)
	if err != nil {
		return fmt.Errorf("claim outbox rows: %w", err)
	}

	var claimed []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.aggregateID, &row.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		claimed = append(claimed, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	published := make([]string, 0, len(claimed))
	for _, row := range claimed {
		// Key by outbox row ID: the consumer uses it for idempotent
		// materialization, and redelivery after a crash is harmless.
		if err := r.producer.Produce(ctx, r.topic, []byte(row.id), row.payload); err != nil {
			// Publish what we can; unpublished rows retry next poll.
			r.logger.ErrorContext(ctx, "outbox publish failed",
				"outbox_id", row.id,
				"aggregate_id", row.aggregateID,
				"error", err,
			)
			break
		}
		published = append(published, row.id)
	}

	for _, id := range published {
		if _, err := tx.ExecContext(ctx,
			`UPDATE outbox SET published_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox batch: %w", err)
	}
	if len(published) > 0 {
		r.logger.DebugContext(ctx, "relayed outbox batch", "count", len(published))
	}
	return nil
}
