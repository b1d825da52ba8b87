package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"lifeline/internal/treatment/models"
	id "lifeline/pkg/domain"
	"lifeline/pkg/platform/sentinel"
	txcontext "lifeline/pkg/platform/tx"
)

// Postgres persists each treatment as one JSONB record, mirroring the
// escrow store's single-row aggregate pattern.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, treatment *models.Treatment) error {
	record, err := json.Marshal(treatment)
	if err != nil {
		return fmt.Errorf("marshal treatment: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO treatments (id, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, treatment.ID.String(), record, treatment.CreatedAt, treatment.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert treatment: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, treatmentID id.TreatmentID) (*models.Treatment, error) {
	var record []byte
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT record FROM treatments WHERE id = $1
	`, treatmentID.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select treatment: %w", err)
	}

	var treatment models.Treatment
	if err := json.Unmarshal(record, &treatment); err != nil {
		return nil, fmt.Errorf("unmarshal treatment: %w", err)
	}
	return &treatment, nil
}

func (s *Postgres) List(ctx context.Context) ([]*models.Treatment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT record FROM treatments ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()

	var out []*models.Treatment
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan treatment: %w", err)
		}
		var treatment models.Treatment
		if err := json.Unmarshal(record, &treatment); err != nil {
			return nil, fmt.Errorf("unmarshal treatment: %w", err)
		}
		out = append(out, &treatment)
	}
	return out, rows.Err()
}

func (s *Postgres) Execute(
	ctx context.Context,
	treatmentID id.TreatmentID,
	validate func(*models.Treatment) error,
	mutate func(*models.Treatment),
) (*models.Treatment, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.executeIn(ctx, tx, treatmentID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin treatment tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	treatment, err := s.executeIn(ctx, tx, treatmentID, validate, mutate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit treatment tx: %w", err)
	}
	return treatment, nil
}

func (s *Postgres) executeIn(
	ctx context.Context,
	tx *sql.Tx,
	treatmentID id.TreatmentID,
	validate func(*models.Treatment) error,
	mutate func(*models.Treatment),
) (*models.Treatment, error) {
	var record []byte
	err := tx.QueryRowContext(ctx, `
		SELECT record FROM treatments WHERE id = $1 FOR UPDATE
	`, treatmentID.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock treatment row: %w", err)
	}

	var treatment models.Treatment
	if err := json.Unmarshal(record, &treatment); err != nil {
		return nil, fmt.Errorf("unmarshal treatment: %w", err)
	}

	if err := validate(&treatment); err != nil {
		return nil, err
	}
	mutate(&treatment)

	updated, err := json.Marshal(&treatment)
	if err != nil {
		return nil, fmt.Errorf("marshal treatment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE treatments SET record = $2, updated_at = $3 WHERE id = $1
	`, treatmentID.String(), updated, treatment.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update treatment: %w", err)
	}

	return &treatment, nil
}

// Schema returns the DDL for the treatments table.
const Schema = `
CREATE TABLE IF NOT EXISTS treatments (
	id         TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
