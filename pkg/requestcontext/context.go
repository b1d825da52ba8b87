// Package requestcontext provides HTTP-independent context accessors for
// instruction-scoped values.
//
// Middleware sets these values once per request; services only read them.
// Keeping the package free of net/http lets services import it without
// pulling in transport code.
//
// Usage in services (read values):
//
//	signer := requestcontext.SignerID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithSignerID(ctx, signerID)
package requestcontext

import (
	"context"
	"time"

	id "lifeline/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	signerIDKey     struct{}
	signerRoleKey   struct{}
	clientIPKey     struct{}
	clientDeviceKey struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeySignerID     = signerIDKey{}
	ContextKeySignerRole   = signerRoleKey{}
	ContextKeyClientIP     = clientIPKey{}
	ContextKeyClientDevice = clientDeviceKey{}
	ContextKeyRequestID    = requestIDKey{}
	ContextKeyRequestTime  = requestTimeKey{}
)

// SignerID retrieves the authenticated signer identity from the context.
// Returns the zero value (nil UUID) if not set.
func SignerID(ctx context.Context) id.SignerID {
	if signerID, ok := ctx.Value(ContextKeySignerID).(id.SignerID); ok {
		return signerID
	}
	return id.SignerID{}
}

// WithSignerID injects a signer identity into the context.
func WithSignerID(ctx context.Context, signerID id.SignerID) context.Context {
	return context.WithValue(ctx, ContextKeySignerID, signerID)
}

// SignerRole retrieves the authenticated signer's role from the context.
func SignerRole(ctx context.Context) id.VerifierRole {
	if role, ok := ctx.Value(ContextKeySignerRole).(id.VerifierRole); ok {
		return role
	}
	return ""
}

// WithSignerRole injects a signer role into the context.
func WithSignerRole(ctx context.Context, role id.VerifierRole) context.Context {
	return context.WithValue(ctx, ContextKeySignerRole, role)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects a client IP into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// ClientDevice retrieves the client device descriptor from the context.
func ClientDevice(ctx context.Context) string {
	if device, ok := ctx.Value(ContextKeyClientDevice).(string); ok {
		return device
	}
	return ""
}

// WithClientDevice injects a client device descriptor into the context.
func WithClientDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, ContextKeyClientDevice, device)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the instruction-scoped time from context.
//
// Every timestamp written during one instruction comes from this single
// read, so all records mutated together carry the same clock value.
// Falls back to time.Now() for non-HTTP contexts (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for service unit tests and batch workers that need one consistent
// clock reading across an operation.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
