// Package httptransport assembles the HTTP surface: middleware chain,
// health and metrics endpoints, and the module route groups.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lifeline/internal/platform/metrics"
	"lifeline/internal/ratelimit"
	"lifeline/pkg/platform/httputil"
	"lifeline/pkg/platform/middleware/metadata"
	request "lifeline/pkg/platform/middleware/request"
	"lifeline/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by module handlers that mount their own
// route groups.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router mounts.
type Deps struct {
	Logger   *slog.Logger
	Handlers []Registrar

	// RateLimiter and HTTPMetrics are optional; nil skips them.
	RateLimiter *ratelimit.Middleware
	HTTPMetrics *metrics.HTTP

	// HealthChecks run on /healthz; any failure turns the response 503.
	HealthChecks map[string]func(ctx context.Context) error
}

// NewRouter wires the middleware chain and all module routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware)
	}
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Limit)
	}

	r.Get("/healthz", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	for _, h := range deps.Handlers {
		h.Register(r)
	}
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := http.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				if deps.Logger != nil {
					deps.Logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				}
				continue
			}
			checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": checks,
		})
	}
}
