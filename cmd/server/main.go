// Command server runs the lifeline API: the treatment registry, the
// milestone escrow engine, and the audit pipeline behind one HTTP
// surface.
//
// Deployment shape is driven by config: without POSTGRES_URL the
// in-memory stores serve reference deployments and tests; with it,
// state changes and their outbox rows commit in one transaction and the
// relay worker ships them to Kafka.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	escrowhandler "lifeline/internal/escrow/handler"
	escrowmetrics "lifeline/internal/escrow/metrics"
	"lifeline/internal/escrow/replay"
	escrowservice "lifeline/internal/escrow/service"
	escrowstore "lifeline/internal/escrow/store"
	jwttoken "lifeline/internal/jwt_token"
	"lifeline/internal/ledger"
	"lifeline/internal/platform/config"
	"lifeline/internal/platform/httpserver"
	"lifeline/internal/platform/kafka"
	kafkaconsumer "lifeline/internal/platform/kafka/consumer"
	"lifeline/internal/platform/logger"
	"lifeline/internal/platform/metrics"
	redisplatform "lifeline/internal/platform/redis"
	"lifeline/internal/ratelimit"
	httptransport "lifeline/internal/transport/http"
	treatmenthandler "lifeline/internal/treatment/handler"
	treatmentmetrics "lifeline/internal/treatment/metrics"
	treatmentservice "lifeline/internal/treatment/service"
	treatmentstore "lifeline/internal/treatment/store"
	audit "lifeline/pkg/platform/audit"
	auditconsumer "lifeline/pkg/platform/audit/consumer"
	auditmemory "lifeline/pkg/platform/audit/store/memory"
	auditpostgres "lifeline/pkg/platform/audit/store/postgres"
	"lifeline/pkg/platform/audit/publishers/compliance"
	auditworker "lifeline/pkg/platform/audit/worker"
	"lifeline/pkg/platform/tx"
)

const (
	jwtIssuer   = "lifeline"
	jwtAudience = "lifeline-api"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores. Postgres when configured, memory otherwise.
	var (
		db             *sql.DB
		escrows        escrowstore.Store
		treatments     treatmentstore.Store
		auditStore     audit.Store
		auditPGStore   *auditpostgres.Store
		runner         tx.Runner = tx.NoopRunner{}
		healthChecks             = map[string]func(ctx context.Context) error{}
	)
	if cfg.Postgres.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		for _, schema := range []string{escrowstore.Schema, treatmentstore.Schema, auditpostgres.Schema} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		escrows = escrowstore.NewPostgres(db)
		treatments = treatmentstore.NewPostgres(db)
		auditPGStore = auditpostgres.New(db)
		auditStore = auditPGStore
		runner = tx.NewSQLRunner(db)
		healthChecks["postgres"] = db.PingContext
	} else {
		escrows = escrowstore.NewInMemory()
		treatments = treatmentstore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
		log.Warn("POSTGRES_URL not set, using in-memory stores")
	}

	// Redis backs the verification proof replay guard when available.
	var guard replay.Guard = replay.NewMemoryGuard()
	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		guard = replay.NewRedisGuard(redisClient.Client, 0)
		healthChecks["redis"] = redisClient.Health
	}

	auditPublisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	ldg := ledger.NewMemory()

	escrowSvc := escrowservice.New(escrows, ldg,
		escrowservice.WithLogger(log),
		escrowservice.WithAuditPublisher(auditPublisher),
		escrowservice.WithReplayGuard(guard),
		escrowservice.WithMetrics(escrowmetrics.New()),
		escrowservice.WithTx(runner),
		escrowservice.WithDefaultEmergencyDelay(cfg.Escrow.DefaultEmergencyDelay),
	)
	treatmentSvc := treatmentservice.New(treatments, escrowSvc,
		treatmentservice.WithLogger(log),
		treatmentservice.WithAuditPublisher(auditPublisher),
		treatmentservice.WithMetrics(treatmentmetrics.New()),
		treatmentservice.WithTx(runner),
	)
	escrowSvc.SetReleaseNotifier(treatmentSvc)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, jwtIssuer, jwtAudience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	// Rate limit accounting prefers Redis, falls back to Postgres so the
	// budgets still hold across instances, and uses memory last.
	var limitStore ratelimit.BucketStore = ratelimit.NewMemoryStore()
	switch {
	case redisClient != nil:
		limitStore = ratelimit.NewRedisStore(redisClient.Client)
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("open pgx pool: %w", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, ratelimit.PostgresSchema); err != nil {
			return fmt.Errorf("apply rate limit schema: %w", err)
		}
		limitStore = ratelimit.NewPostgresStore(pool)
	}
	limiter := ratelimit.New(limitStore, ratelimit.DefaultLimits(), log,
		ratelimit.WithMetrics(ratelimit.NewMetrics()),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger: log,
		Handlers: []httptransport.Registrar{
			escrowhandler.New(escrowSvc, log, jwtValidator, cfg.AdminToken),
			treatmenthandler.New(treatmentSvc, log, jwtValidator, cfg.AdminToken),
		},
		RateLimiter:  limiter,
		HTTPMetrics:  metrics.NewHTTP(),
		HealthChecks: healthChecks,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting lifeline server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The audit pipeline needs both the outbox (Postgres) and Kafka.
	if len(cfg.Kafka.Brokers) > 0 && db != nil {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.AuditTopic, 3, 1); err != nil {
			return fmt.Errorf("ensure audit topic: %w", err)
		}

		relay := auditworker.NewRelay(db, producer, cfg.Kafka.AuditTopic, log)
		g.Go(func() error { return ignoreCancel(relay.Run(gctx)) })

		topicRouter := auditconsumer.NewRouter(log, nil)
		topicRouter.Register(cfg.Kafka.AuditTopic, auditconsumer.NewMaterializer(auditPGStore, log))
		consumer, err := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup,
			Topics:  []string{cfg.Kafka.AuditTopic},
		}, topicRouter, log)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		g.Go(func() error { return ignoreCancel(consumer.Run(gctx)) })
	} else if len(cfg.Kafka.Brokers) > 0 {
		log.Warn("KAFKA_BROKERS set without POSTGRES_URL, audit relay disabled")
	}

	return ignoreCancel(g.Wait())
}

// ignoreCancel treats context cancellation as a clean shutdown.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
