// Package service orchestrates the milestone escrow engine: funding,
// verification intake, milestone release, and the emergency override.
//
// Every fund-moving operation runs its state change, its ledger
// transfer, and its audit record inside one transactional unit; the
// store's Execute callback holds the lock (mutex or FOR UPDATE) across
// the eligibility check and the mutation, which is what makes milestone
// release exactly-once under concurrency.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lifeline/internal/escrow/metrics"
	"lifeline/internal/escrow/models"
	"lifeline/internal/escrow/replay"
	"lifeline/internal/escrow/store"
	"lifeline/internal/ledger"
	id "lifeline/pkg/domain"
	dErrors "lifeline/pkg/domain-errors"
	audit "lifeline/pkg/platform/audit"
	"lifeline/pkg/platform/sentinel"
	"lifeline/pkg/platform/tx"
)

// AuditPublisher is the fail-closed audit sink. A non-nil error from
// Emit fails the operation that produced the event.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// ReleaseNotifier is how the treatment registry learns about releases
// without the escrow engine importing it.
type ReleaseNotifier interface {
	OnMilestoneReleased(ctx context.Context, treatmentID id.TreatmentID, allReleased bool) error
}

// Service orchestrates escrow lifecycle operations.
type Service struct {
	escrows        store.Store
	ledger         ledger.Ledger
	replayGuard    replay.Guard
	auditEmitter   *auditEmitter
	notifier       atomic.Pointer[notifierRef]
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	tx             tx.Runner
	logger         *slog.Logger
	emergencyDelay time.Duration
}

// notifierRef boxes the notifier interface so the binding can be read
// and replaced atomically.
type notifierRef struct {
	n ReleaseNotifier
}

type serviceConfig struct {
	logger         *slog.Logger
	auditPublisher AuditPublisher
	replayGuard    replay.Guard
	notifier       ReleaseNotifier
	metrics        *metrics.Metrics
	tx             tx.Runner
	emergencyDelay time.Duration
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *serviceConfig) { c.auditPublisher = publisher }
}

func WithReplayGuard(guard replay.Guard) Option {
	return func(c *serviceConfig) { c.replayGuard = guard }
}

func WithReleaseNotifier(notifier ReleaseNotifier) Option {
	return func(c *serviceConfig) { c.notifier = notifier }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

func WithTx(runner tx.Runner) Option {
	return func(c *serviceConfig) { c.tx = runner }
}

// WithDefaultEmergencyDelay overrides the delay applied when emergency
// release is configured without an explicit one.
func WithDefaultEmergencyDelay(d time.Duration) Option {
	return func(c *serviceConfig) { c.emergencyDelay = d }
}

// New constructs the escrow service. The store and ledger are required;
// everything else is optional and nil-safe.
func New(escrows store.Store, ldg ledger.Ledger, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	runner := cfg.tx
	if runner == nil {
		runner = tx.NoopRunner{}
	}
	guard := cfg.replayGuard
	if guard == nil {
		guard = replay.NewMemoryGuard()
	}
	delay := cfg.emergencyDelay
	if delay <= 0 {
		delay = models.DefaultEmergencyDelaySeconds * time.Second
	}
	svc := &Service{
		escrows:        escrows,
		ledger:         ldg,
		replayGuard:    guard,
		auditEmitter:   newAuditEmitter(cfg.logger, cfg.auditPublisher),
		metrics:        cfg.metrics,
		tracer:         otel.Tracer("lifeline/escrow"),
		tx:             runner,
		logger:         cfg.logger,
		emergencyDelay: delay,
	}
	if cfg.notifier != nil {
		svc.notifier.Store(&notifierRef{n: cfg.notifier})
	}
	return svc
}

// SetReleaseNotifier binds the registry callback after construction.
// The escrow and registry services reference each other, so one side
// binds late during startup. The binding is an atomic swap, safe
// against release operations already in flight.
func (s *Service) SetReleaseNotifier(notifier ReleaseNotifier) {
	s.notifier.Store(&notifierRef{n: notifier})
}

// releaseNotifier reads the current binding; nil when none is bound.
func (s *Service) releaseNotifier() ReleaseNotifier {
	if ref := s.notifier.Load(); ref != nil {
		return ref.n
	}
	return nil
}

func requireTreatmentID(treatmentID id.TreatmentID) error {
	if treatmentID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "treatment id is required")
	}
	return nil
}

// wrapEscrowErr translates store sentinels into domain errors; domain
// errors pass through unchanged.
func wrapEscrowErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "escrow not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "escrow already exists for treatment")
	}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "escrow store failure")
}
