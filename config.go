package oauth

import (
	"log/slog"
	"net/http"
)

// Defaults for the HTTP adapter
const (
	// DefaultRateLimitPerSecond is the per-IP sustained request rate
	DefaultRateLimitPerSecond = 10

	// DefaultRateLimitBurst is the per-IP burst allowance
	DefaultRateLimitBurst = 20
)

// HandlerConfig configures the HTTP adapter. The engine's own behavior is
// configured separately via ServerConfig.
type HandlerConfig struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Authenticate resolves the already-authenticated resource owner for an
	// authorization request, typically from a session cookie. Returning an
	// error denies the request. Required for the authorization endpoint;
	// the token, revocation, and introspection endpoints work without it.
	Authenticate func(r *http.Request) (userID string, err error)

	// TrustProxy enables X-Forwarded-For and X-Real-IP handling.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the
	// server, counted for X-Forwarded-For extraction. Default: 1.
	TrustedProxyCount int

	// RateLimitPerSecond is the per-IP sustained request rate across the
	// protocol endpoints. Zero applies the default; negative disables
	// rate limiting.
	RateLimitPerSecond int

	// RateLimitBurst is the per-IP burst allowance. Default: 20.
	RateLimitBurst int

	// EnableRegistration exposes the dynamic client registration endpoint.
	// Registration is open when enabled; front it with your own
	// authentication if the server is publicly reachable.
	EnableRegistration bool
}

// applyHandlerDefaults fills zero-valued fields
func applyHandlerDefaults(config *HandlerConfig) *HandlerConfig {
	if config == nil {
		config = &HandlerConfig{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RateLimitPerSecond == 0 {
		config.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if config.RateLimitBurst == 0 {
		config.RateLimitBurst = DefaultRateLimitBurst
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	return config
}
