// Package server implements the authorization-code grant engine and token
// lifecycle engine on top of the storage interfaces.
package server

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/embercloud/oauth/identity"
	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/internal/util"
	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/storage"
)

const (
	// tokenTypeBearer is the only token type this server issues
	tokenTypeBearer = "Bearer"

	// tokenIDLogLength bounds credential prefixes in log output
	tokenIDLogLength = 8

	// maxCodeMintAttempts bounds regeneration on opaque value collisions.
	// With 256-bit random values a collision is a store misconfiguration,
	// not a statistical event.
	maxCodeMintAttempts = 3
)

// Server executes the authorize and token steps of the authorization-code
// grant. It owns no HTTP concerns; the root package's Handler wires it to
// endpoints.
type Server struct {
	Config *Config
	Logger *slog.Logger

	clientStore storage.ClientStore
	codeStore   storage.CodeStore
	tokenStore  storage.TokenStore
	users       identity.Resolver

	// Auditor is optional security event logging
	Auditor *security.Auditor

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates a grant engine over the given stores and user resolver.
// Config may be nil; secure defaults are applied.
func New(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	users identity.Resolver,
	config *Config,
) *Server {
	config = applyDefaults(config)

	return &Server{
		Config:      config,
		Logger:      config.Logger,
		clientStore: clientStore,
		codeStore:   codeStore,
		tokenStore:  tokenStore,
		users:       users,
	}
}

// SetAuditor enables security audit logging
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables OpenTelemetry metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// Instrumentation returns the configured instrumentation, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

// metrics returns the metrics holder, or nil when instrumentation is off
func (s *Server) metrics() *instrumentation.Metrics {
	if s.instrumentation == nil {
		return nil
	}
	return s.instrumentation.Metrics()
}

// startSpan starts a tracing span when instrumentation is configured,
// otherwise returns the span already on the context (usually a no-op span).
func (s *Server) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "server."+operation)
}

// generateOpaqueValue mints a cryptographically random opaque credential.
// oauth2.GenerateVerifier yields 32 bytes (256 bits) of crypto/rand entropy,
// base64url-encoded - the same quality for codes, access, and refresh tokens.
func generateOpaqueValue() string {
	return oauth2.GenerateVerifier()
}

// safeTruncate is a local alias to keep call sites short
func safeTruncate(s string, maxLen int) string {
	return util.SafeTruncate(s, maxLen)
}
