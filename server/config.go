package server

import (
	"log/slog"
	"time"
)

// Defaults applied by applyDefaults
const (
	// DefaultAuthorizationCodeTTL keeps codes short-lived: a code is a bearer
	// credential traveling in a redirect URL.
	DefaultAuthorizationCodeTTL = 10 * time.Minute

	// DefaultAccessTokenTTL is the default access token lifetime
	DefaultAccessTokenTTL = time.Hour

	// DefaultRefreshTokenTTL is the default refresh token lifetime.
	// Configure RefreshTokenNeverExpires for rotation-only policies.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Config holds the grant engine configuration
type Config struct {
	// Issuer is the authorization server's issuer identifier URL,
	// stamped onto issued token records.
	Issuer string

	// DefaultAudience is the audience recorded on issued tokens when the
	// request does not carry one. Optional.
	DefaultAudience string

	// AuthorizationCodeTTL is the lifetime of issued authorization codes.
	// Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is the global access token lifetime, overridable
	// per client. Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime. Default: 30 days.
	// Ignored when RefreshTokenNeverExpires is set.
	RefreshTokenTTL time.Duration

	// RefreshTokenNeverExpires makes refresh tokens valid until rotated or
	// revoked. Whether refresh tokens expire outright or only via rotation
	// is policy, so it is configuration here rather than hardcoded.
	RefreshTokenNeverExpires bool

	// AllowPKCEPlain permits the deprecated "plain" code_challenge_method
	// for legacy clients. Default: false (S256 only).
	AllowPKCEPlain bool

	// DisablePKCEForPublicClients permits public clients to authorize
	// without a code challenge. Default behavior: required (the field is
	// inverted so the zero value is the secure default).
	DisablePKCEForPublicClients bool

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields with secure defaults and logs
// warnings for configurations that weaken the protocol guarantees.
func applyDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 && !config.RefreshTokenNeverExpires {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}

	if config.AllowPKCEPlain {
		config.Logger.Warn("'plain' PKCE method enabled",
			"recommendation", "require S256; plain offers no protection against network observers")
	}
	if config.DisablePKCEForPublicClients {
		config.Logger.Warn("PKCE not required for public clients",
			"risk", "authorization code interception",
			"recommendation", "leave PKCE mandatory for public clients")
	}

	return config
}
