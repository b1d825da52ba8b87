package testutil

import (
	"context"
	"net/http"
	"time"

	id "lifeline/pkg/domain"
	"lifeline/pkg/requestcontext"
)

// WithSigner stamps an authenticated signer onto the request context,
// simulating what the auth middleware does for real requests. Invalid
// IDs are silently ignored.
func WithSigner(req *http.Request, signerID string, role id.VerifierRole) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseSignerID(signerID); err == nil {
		ctx = requestcontext.WithSignerID(ctx, parsed)
	}
	ctx = requestcontext.WithSignerRole(ctx, role)
	return req.WithContext(ctx)
}

// SignerContext builds a context carrying an authenticated signer and a
// fixed instruction time, for service-level tests that skip HTTP.
func SignerContext(signerID id.SignerID, role id.VerifierRole, now time.Time) context.Context {
	ctx := requestcontext.WithSignerID(context.Background(), signerID)
	ctx = requestcontext.WithSignerRole(ctx, role)
	return requestcontext.WithTime(ctx, now)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
