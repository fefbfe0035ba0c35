package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/server"
)

// Endpoint paths registered by Routes
const (
	AuthorizationEndpointPath = "/authorize"
	TokenEndpointPath         = "/token"
	RevocationEndpointPath    = "/revoke"
	IntrospectionEndpointPath = "/introspect"
	RegistrationEndpointPath  = "/register"
	MetadataEndpointPath      = "/.well-known/oauth-authorization-server"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the grant engine. It parses protocol
// requests, delegates to the Server, and renders the protocol responses.
type Handler struct {
	server      *Server
	config      *HandlerConfig
	logger      *slog.Logger
	rateLimiter *security.RateLimiter
	tracer      trace.Tracer
}

// NewHandler creates the HTTP adapter. Config may be nil; defaults are
// applied, including per-IP rate limiting.
func NewHandler(srv *Server, config *HandlerConfig) *Handler {
	config = applyHandlerDefaults(config)

	h := &Handler{
		server: srv,
		config: config,
		logger: config.Logger,
	}

	if config.RateLimitPerSecond > 0 {
		h.rateLimiter = security.NewRateLimiter(config.RateLimitPerSecond, config.RateLimitBurst, config.Logger)
	}
	if inst := srv.Instrumentation(); inst != nil {
		h.tracer = inst.Tracer("http")
	}

	return h
}

// Close releases handler resources (the rate limiter's cleanup goroutine)
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Routes returns an http.Handler with every protocol endpoint registered,
// wrapped in request ID propagation.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AuthorizationEndpointPath, h.ServeAuthorization)
	mux.HandleFunc(TokenEndpointPath, h.ServeToken)
	mux.HandleFunc(RevocationEndpointPath, h.ServeTokenRevocation)
	mux.HandleFunc(IntrospectionEndpointPath, h.ServeTokenIntrospection)
	mux.HandleFunc(MetadataEndpointPath, h.ServeMetadata)
	if h.config.EnableRegistration {
		mux.HandleFunc(RegistrationEndpointPath, h.ServeClientRegistration)
	}
	return security.RequestIDMiddleware(mux)
}

// ServeAuthorization handles the authorization endpoint. The resource owner
// must already be authenticated; the configured Authenticate hook resolves
// the user from the request. On success the user agent is redirected to the
// client's redirect URI carrying the code and the echoed state.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(r, "authorize", http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "authorize", clientIP, startTime) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(r, "authorize", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	if h.config.Authenticate == nil {
		h.logger.Error("Authorization endpoint hit without an Authenticate hook configured")
		h.recordHTTPMetrics(r, "authorize", http.StatusInternalServerError, startTime)
		h.writeErrorJSON(w, ErrorCodeServerError, "authorization is not available", http.StatusInternalServerError)
		return
	}

	req := &AuthorizeRequest{
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		ResponseType:        r.FormValue("response_type"),
		Scopes:              strings.Fields(r.FormValue("scope")),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
		State:               r.FormValue("state"),
	}

	userID, err := h.config.Authenticate(r)
	if err != nil {
		h.logger.Warn("Resource owner authentication failed", "client_id", req.ClientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(r, "authorize", http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "resource_owner_unauthenticated")
		// Redirecting with access_denied is only safe after the redirect URI
		// has been validated; it has not been yet, so answer directly.
		h.writeErrorJSON(w, ErrorCodeAccessDenied, "resource owner authentication failed", http.StatusUnauthorized)
		return
	}
	req.UserID = userID

	result, err := h.server.Authorize(ctx, req)
	if err != nil {
		h.recordHTTPMetrics(r, "authorize", http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	redirect, err := buildCodeRedirect(result)
	if err != nil {
		h.logger.Error("Failed to build redirect", "client_id", req.ClientID, "error", err)
		h.recordHTTPMetrics(r, "authorize", http.StatusInternalServerError, startTime)
		h.writeErrorJSON(w, ErrorCodeServerError, "internal error", http.StatusInternalServerError)
		return
	}

	h.recordHTTPMetrics(r, "authorize", http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// writeAuthorizeError renders an authorization failure. Failures before the
// redirect URI is known to be safe answer directly; everything after
// redirects back to the client with error and state parameters, per
// RFC 6749 Section 4.1.2.1.
func (h *Handler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, req *AuthorizeRequest, err error) {
	oauthErr := AsError(err)
	if oauthErr == nil {
		h.logger.Error("Authorization failed", "client_id", req.ClientID, "error", err)
		h.writeErrorJSON(w, ErrorCodeServerError, "internal error", http.StatusInternalServerError)
		return
	}

	switch oauthErr.Code {
	case ErrorCodeInvalidClient, ErrorCodeInvalidRedirectURI, ErrorCodeInvalidRequest:
		// The redirect URI is not trustworthy for these; answer directly
		h.writeErrorJSON(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	target, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		h.writeErrorJSON(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	q := target.Query()
	q.Set("error", oauthErr.Code)
	q.Set("error_description", oauthErr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	target.RawQuery = q.Encode()

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// buildCodeRedirect appends the code and state to the validated redirect URI
func buildCodeRedirect(result *AuthorizeResult) (string, error) {
	target, err := url.Parse(result.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	q := target.Query()
	q.Set("code", result.Code)
	if result.State != "" {
		q.Set("state", result.State)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// ServeToken handles the token endpoint for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	switch grantType := r.FormValue("grant_type"); grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeErrorJSON(w, ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("Grant type %q not supported", grantType), http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "token", clientIP, startTime) {
		return
	}

	code := r.FormValue("code")
	if code == "" {
		h.recordHTTPMetrics(r, "token", http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	token, err := h.server.ExchangeAuthorizationCode(ctx, code, clientID, clientSecret, redirectURI, codeVerifier)
	if err != nil {
		h.logger.Warn("Code exchange failed", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		h.writeEngineError(w, r, "token", err, startTime)
		return
	}

	h.recordHTTPMetrics(r, "token", http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "token", clientIP, startTime) {
		return
	}

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics(r, "token", http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	requestedScopes := strings.Fields(r.FormValue("scope"))

	token, err := h.server.RefreshAccessToken(ctx, refreshToken, clientID, clientSecret, requestedScopes)
	if err != nil {
		h.logger.Warn("Token refresh failed", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		h.writeEngineError(w, r, "token", err, startTime)
		return
	}

	h.recordHTTPMetrics(r, "token", http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// The endpoint reports success for absent and foreign tokens; only client
// authentication failures and malformed requests are surfaced.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(r, "revoke", http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "revoke", clientIP, startTime) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(r, "revoke", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	tokenValue := r.FormValue("token")
	if tokenValue == "" {
		h.recordHTTPMetrics(r, "revoke", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "token is required", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	if _, err := h.authenticateEndpointClient(ctx, clientID, clientSecret); err != nil {
		h.logger.Warn("Client authentication failed for revocation", "client_id", clientID, "ip", clientIP)
		h.recordHTTPMetrics(r, "revoke", http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeEngineError(w, r, "revoke", err, startTime)
		return
	}

	if err := h.server.RevokeToken(ctx, tokenValue, clientID); err != nil {
		h.logger.Error("Revocation failed", "client_id", clientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(r, "revoke", http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeErrorJSON(w, ErrorCodeServerError, "internal error", http.StatusInternalServerError)
		return
	}

	h.recordHTTPMetrics(r, "revoke", http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeTokenIntrospection handles the RFC 7662 token introspection endpoint.
// Client authentication is required so the endpoint cannot be used for token
// scanning; dead tokens introspect as active=false with no detail.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_introspection")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(r, "introspect", http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "introspect", clientIP, startTime) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(r, "introspect", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	tokenValue := r.FormValue("token")
	if tokenValue == "" {
		h.recordHTTPMetrics(r, "introspect", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "token parameter is required", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := h.clientCredentials(r)
	if _, err := h.authenticateEndpointClient(ctx, clientID, clientSecret); err != nil {
		h.logger.Warn("Client authentication failed for introspection", "client_id", clientID, "ip", clientIP)
		h.recordHTTPMetrics(r, "introspect", http.StatusUnauthorized, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeEngineError(w, r, "introspect", err, startTime)
		return
	}

	response := h.introspect(ctx, tokenValue)

	h.recordHTTPMetrics(r, "introspect", http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// introspect resolves a token value into an RFC 7662 response. Any failure
// mode collapses to active=false.
func (h *Handler) introspect(ctx context.Context, tokenValue string) *IntrospectionResponse {
	info, err := h.server.VerifyScope(ctx, tokenValue, "")
	if err != nil {
		return &IntrospectionResponse{Active: false}
	}
	return &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(info.Scopes, " "),
		ClientID:  info.ClientID,
		Subject:   info.UserID,
		TokenType: tokenTypeBearer,
		ExpiresAt: info.ExpiresAt.Unix(),
	}
}

// ServeClientRegistration handles dynamic client registration (RFC 7591)
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(r, "register", http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.rejectRateLimited(w, r, "register", clientIP, startTime) {
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(r, "register", http.StatusBadRequest, startTime)
		h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Invalid JSON", http.StatusBadRequest)
		return
	}

	client, clientSecret, err := h.server.RegisterClient(ctx, &RegisterClientRequest{
		ClientName:   req.ClientName,
		ClientType:   req.ClientType,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       req.Scopes,
	})
	if err != nil {
		h.logger.Warn("Client registration failed", "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		h.writeEngineError(w, r, "register", err, startTime)
		return
	}

	h.recordHTTPMetrics(r, "register", http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(&ClientRegistrationResponse{
		ClientID:         client.ClientID,
		ClientSecret:     clientSecret,
		ClientName:       client.ClientName,
		ClientType:       client.ClientType,
		RedirectURIs:     client.RedirectURIs,
		GrantTypes:       client.GrantTypes,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
	})
}

// ServeMetadata handles the RFC 8414 authorization server metadata document
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")
	metadata := &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizationEndpointPath,
		TokenEndpoint:                     issuer + TokenEndpointPath,
		RevocationEndpoint:                issuer + RevocationEndpointPath,
		IntrospectionEndpoint:             issuer + IntrospectionEndpointPath,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     h.codeChallengeMethods(),
	}
	if h.config.EnableRegistration {
		metadata.RegistrationEndpoint = issuer + RegistrationEndpointPath
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (h *Handler) codeChallengeMethods() []string {
	if h.server.Config.AllowPKCEPlain {
		return []string{security.PKCEMethodS256, security.PKCEMethodPlain}
	}
	return []string{security.PKCEMethodS256}
}

// Helper methods

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// clientCredentials extracts client credentials, preferring HTTP Basic auth
// over form parameters per RFC 6749 Section 2.3.1.
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

// authenticateEndpointClient authenticates the caller of the revocation and
// introspection endpoints, which require credentials but take no grant.
func (h *Handler) authenticateEndpointClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	return h.server.AuthenticateClient(ctx, clientID, clientSecret)
}

// rejectRateLimited applies the per-IP limiter. Returns true when the request
// was rejected and the response already written.
func (h *Handler) rejectRateLimited(w http.ResponseWriter, r *http.Request, endpoint, clientIP string, startTime time.Time) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip", clientIP)
	h.server.Auditor.LogEvent(security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": endpoint},
	})
	if inst := h.server.Instrumentation(); inst != nil {
		inst.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}

	h.recordHTTPMetrics(r, endpoint, http.StatusTooManyRequests, startTime)
	h.writeErrorJSON(w, ErrorCodeInvalidRequest, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeEngineError maps an engine failure onto the wire: protocol errors keep
// their code and status, anything else is an opaque 500.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, endpoint string, err error, startTime time.Time) {
	if oauthErr := AsError(err); oauthErr != nil {
		h.recordHTTPMetrics(r, endpoint, oauthErr.Status, startTime)
		h.writeErrorJSON(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	if errors.Is(err, ErrInsufficientScope) {
		h.recordHTTPMetrics(r, endpoint, http.StatusForbidden, startTime)
		h.writeErrorJSON(w, ErrorCodeInsufficientScope, "token lacks the required scope", http.StatusForbidden)
		return
	}

	h.logger.Error("Internal error", "endpoint", endpoint, "error", err,
		"request_id", security.GetRequestID(r.Context()))
	h.recordHTTPMetrics(r, endpoint, http.StatusInternalServerError, startTime)
	h.writeErrorJSON(w, ErrorCodeServerError, "internal error", http.StatusInternalServerError)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *Token) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	expiresIn := int64(time.Until(token.AccessTokenExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        strings.Join(token.Scopes, " "),
	})
}

func (h *Handler) writeErrorJSON(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Basic realm="%s", error="%s"`, h.server.Config.Issuer, code))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) recordHTTPMetrics(r *http.Request, endpoint string, status int, startTime time.Time) {
	inst := h.server.Instrumentation()
	if inst == nil {
		return
	}
	inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status,
		float64(time.Since(startTime).Milliseconds()))
}
