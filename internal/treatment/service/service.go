// Package service orchestrates the treatment registry: registering
// treatment cases, recording sponsorships against the escrow, driving
// the treatment status machine, and taking patient outcome reports.
//
// The registry owns no money. Every fund movement goes through the
// escrow engine; the registry records who sponsored what and when the
// treatment itself started, paused, finished, or was cancelled.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	escrowmodels "lifeline/internal/escrow/models"
	"lifeline/internal/treatment/metrics"
	"lifeline/internal/treatment/models"
	"lifeline/internal/treatment/store"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	audit "lifeline/pkg/platform/audit"
	"lifeline/pkg/platform/sentinel"
	"lifeline/pkg/platform/tx"
)

// EscrowEngine is the registry's view of the escrow module. The escrow
// is created alongside the treatment and funded through it; releases
// flow back via the OnMilestoneReleased callback.
type EscrowEngine interface {
	Create(ctx context.Context, treatmentID id.TreatmentID, beneficiary id.SignerID, milestones []escrowmodels.MilestoneRelease) (*escrowmodels.Escrow, error)
	Fund(ctx context.Context, treatmentID id.TreatmentID, sponsor id.SignerID, amount id.Amount) (*escrowmodels.Escrow, error)
	Deactivate(ctx context.Context, treatmentID id.TreatmentID, reason string) (*escrowmodels.Escrow, error)
	Summary(ctx context.Context, treatmentID id.TreatmentID) (escrowmodels.Summary, error)
}

// AuditPublisher is the fail-closed audit sink. A non-nil error from
// Emit fails the operation that produced the event.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates treatment registry operations.
type Service struct {
	treatments   store.Store
	escrow       EscrowEngine
	auditEmitter *auditEmitter
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	tx           tx.Runner
	logger       *slog.Logger
}

type serviceConfig struct {
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tx             tx.Runner
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *serviceConfig) { c.auditPublisher = publisher }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

func WithTx(runner tx.Runner) Option {
	return func(c *serviceConfig) { c.tx = runner }
}

// New constructs the treatment service. The store and escrow engine are
// required; everything else is optional and nil-safe.
func New(treatments store.Store, escrow EscrowEngine, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	runner := cfg.tx
	if runner == nil {
		runner = tx.NoopRunner{}
	}
	return &Service{
		treatments:   treatments,
		escrow:       escrow,
		auditEmitter: newAuditEmitter(cfg.logger, cfg.auditPublisher),
		metrics:      cfg.metrics,
		tracer:       otel.Tracer("lifeline/treatment"),
		tx:           runner,
		logger:       cfg.logger,
	}
}

func requireTreatmentID(treatmentID id.TreatmentID) error {
	if treatmentID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "treatment id is required")
	}
	return nil
}

// wrapTreatmentErr translates store sentinels into domain errors; domain
// errors pass through unchanged.
func wrapTreatmentErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.ErrTreatmentNotFound
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "treatment already exists")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "treatment store failure")
}
