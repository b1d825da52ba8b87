package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"lifeline/pkg/platform/httputil"
	"lifeline/pkg/requestcontext"
)

// Middleware applies per-IP budgets. Reads and mutations are classified
// by HTTP method so the router can apply one middleware globally.
type Middleware struct {
	store    BucketStore
	limits   Limits
	metrics  *Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the limiter off (tests, demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Middleware) { m.metrics = metrics }
}

func New(store BucketStore, limits Limits, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{store: store, limits: limits, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled && logger != nil {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit returns the HTTP middleware.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		class := classify(r.Method)
		ip := requestcontext.ClientIP(ctx)

		limit, ok := m.limits[class]
		if !ok {
			// No budget configured for this class: deny rather than
			// let an unclassified endpoint run unmetered.
			writeLimitExceeded(w, &Result{RetryAfter: 60})
			return
		}

		result, err := m.store.Allow(ctx, "lifeline:ratelimit:"+string(class)+":"+ip, limit.Requests, limit.Window)
		if err != nil {
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		addHeaders(w, result)
		if !result.Allowed {
			if m.metrics != nil {
				m.metrics.IncrementBlocked()
			}
			writeLimitExceeded(w, result)
			return
		}
		if m.metrics != nil {
			m.metrics.IncrementAllowed()
		}
		next.ServeHTTP(w, r)
	})
}

func classify(method string) EndpointClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassMutate
	}
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeLimitExceeded(w http.ResponseWriter, result *Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests from this IP address. Please try again later.",
		"retry_after": result.RetryAfter,
	})
}
