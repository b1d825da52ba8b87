// Package request provides request correlation ID middleware.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lifeline/pkg/requestcontext"
)

// HeaderRequestID is the header checked for an inbound correlation ID
// and set on every response.
const HeaderRequestID = "X-Request-ID"

// RequestID attaches a correlation ID to the request context. Inbound
// IDs from trusted proxies are honored; otherwise one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the correlation ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
