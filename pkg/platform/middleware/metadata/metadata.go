// Package metadata extracts client metadata from requests for audit
// attribution.
package metadata

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"lifeline/pkg/requestcontext"
)

// ClientMetadata extracts the client IP address and device descriptor
// from the request and adds them to the context for audit attribution.
// Apply early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIP(r.Context(), ClientIPFromRequest(r))
		ctx = requestcontext.WithClientDevice(ctx, DeviceFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceFromRequest condenses the User-Agent header into a short
// descriptor ("Chrome 120 on Linux x86_64", "Googlebot (bot)"). Raw
// User-Agent strings never reach the audit trail.
func DeviceFromRequest(r *http.Request) string {
	raw := r.UserAgent()
	if raw == "" {
		return "unknown"
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	desc := name
	if version != "" {
		desc = fmt.Sprintf("%s %s", name, trimVersion(version))
	}
	if os := ua.OS(); os != "" {
		desc = fmt.Sprintf("%s on %s", desc, os)
	}
	if ua.Bot() {
		desc += " (bot)"
	}
	return desc
}

// trimVersion keeps the major version only; full versions add noise
// without attribution value.
func trimVersion(version string) string {
	if idx := strings.Index(version, "."); idx != -1 {
		return version[:idx]
	}
	return version
}

// ClientIPFromRequest extracts the real client IP from the request,
// handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...).
	// Take the first IP which is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// X-Real-IP is used by nginx and other proxies.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" ("[::1]:port" for IPv6); strip the port.
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
