package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"lifeline/internal/escrow/models"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
	txcontext "lifeline/pkg/platform/tx"
)

// Postgres persists each escrow as one JSONB record keyed by treatment.
//
// The whole aggregate is serialized because milestone eligibility is a
// function of the entire record (requirements, received verifications,
// released flags); row-level SELECT ... FOR UPDATE on the single row
// gives the same atomicity as the memory store's mutex. Amounts stay
// exact: encoding/json round-trips uint64 without float conversion.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, escrow *models.Escrow) error {
	record, err := json.Marshal(escrow)
	if err != nil {
		return fmt.Errorf("marshal escrow: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO milestone_escrows (treatment_id, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, escrow.TreatmentID.String(), record, escrow.CreatedAt, escrow.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (s *Postgres) FindByTreatment(ctx context.Context, treatmentID id.TreatmentID) (*models.Escrow, error) {
	var record []byte
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT record FROM milestone_escrows WHERE treatment_id = $1
	`, treatmentID.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select escrow: %w", err)
	}

	var escrow models.Escrow
	if err := json.Unmarshal(record, &escrow); err != nil {
		return nil, fmt.Errorf("unmarshal escrow: %w", err)
	}
	return &escrow, nil
}

// Execute locks the escrow row with FOR UPDATE, runs validate then
// mutate, and writes the record back. When the context carries a
// transaction (service-level tx runner) the row lock joins it, making
// the escrow mutation and the audit outbox insert one atomic commit.
// Otherwise a local transaction is used.
func (s *Postgres) Execute(
	ctx context.Context,
	treatmentID id.TreatmentID,
	validate func(*models.Escrow) error,
	mutate func(*models.Escrow),
) (*models.Escrow, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.executeIn(ctx, tx, treatmentID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin escrow tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	escrow, err := s.executeIn(ctx, tx, treatmentID, validate, mutate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit escrow tx: %w", err)
	}
	return escrow, nil
}

func (s *Postgres) executeIn(
	ctx context.Context,
	tx *sql.Tx,
	treatmentID id.TreatmentID,
	validate func(*models.Escrow) error,
	mutate func(*models.Escrow),
) (*models.Escrow, error) {
	var record []byte
	err := tx.QueryRowContext(ctx, `
		SELECT record FROM milestone_escrows WHERE treatment_id = $1 FOR UPDATE
	`, treatmentID.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock escrow row: %w", err)
	}

	var escrow models.Escrow
	if err := json.Unmarshal(record, &escrow); err != nil {
		return nil, fmt.Errorf("unmarshal escrow: %w", err)
	}

	if err := validate(&escrow); err != nil {
		return nil, err
	}
	mutate(&escrow)

	updated, err := json.Marshal(&escrow)
	if err != nil {
		return nil, fmt.Errorf("marshal escrow: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE milestone_escrows SET record = $2, updated_at = $3 WHERE treatment_id = $1
	`, treatmentID.String(), updated, escrow.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}

	return &escrow, nil
}

// Schema returns the DDL for the escrow table.
const Schema = `
CREATE TABLE IF NOT EXISTS milestone_escrows (
	treatment_id TEXT PRIMARY KEY,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`
