package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/internal/util"
	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/storage"
)

// Introspection is the result of a successful scope verification: the
// resolved identities and grant of a live access token.
type Introspection struct {
	Active    bool
	UserID    string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// authenticateClient resolves and authenticates a client for a token-endpoint
// call. Confidential clients must present their secret; public clients
// authenticate by identifier alone and prove possession via PKCE at exchange
// time. Every failure collapses to invalid_client.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrClientRevoked) {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_client")
			return nil, errInvalidClient("client authentication failed")
		}
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}

	switch client.ClientType {
	case ClientTypePublic:
		// Identifier-only; possession is proven by the PKCE verifier
		if clientSecret != "" {
			s.Auditor.LogAuthFailure("", clientID, "", "secret_for_public_client")
			return nil, errInvalidClient("client authentication failed")
		}
	default:
		if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
			if errors.Is(err, storage.ErrInvalidClientSecret) ||
				errors.Is(err, storage.ErrClientNotFound) ||
				errors.Is(err, storage.ErrClientRevoked) {
				s.Auditor.LogAuthFailure("", clientID, "", "invalid_client_secret")
				return nil, errInvalidClient("client authentication failed")
			}
			return nil, fmt.Errorf("client secret validation failed: %w", err)
		}
	}

	return client, nil
}

// AuthenticateClient resolves and authenticates a client outside of a grant,
// for endpoints like revocation and introspection that require credentials
// but issue nothing. Failures are the same undifferentiated invalid_client
// the grant paths produce.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	return s.authenticateClient(ctx, clientID, clientSecret)
}

// ExchangeAuthorizationCode executes the token step of the
// authorization-code grant: it authenticates the client, atomically consumes
// the code, verifies the cross-entity bindings and PKCE, and mints an
// access/refresh pair.
//
// Every post-authentication failure is an undifferentiated invalid_grant.
// Distinguishing "wrong redirect URI" from "unknown code" would confirm code
// validity to an attacker probing the endpoint.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, clientSecret, redirectURI, codeVerifier string) (*storage.Token, error) {
	ctx, span := s.startSpan(ctx, "ExchangeAuthorizationCode")
	defer span.End()

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if !clientAllowsGrant(client, GrantTypeAuthorizationCode) {
		s.Auditor.LogAuthFailure("", clientID, "", "grant_not_allowed")
		instrumentation.SetSpanError(span, "grant_not_allowed")
		return nil, errUnauthorizedClient("client is not authorized for the authorization_code grant")
	}

	// Atomic single-use redemption: exactly one concurrent exchange of a
	// given code reaches this point with a record.
	record, err := s.codeStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) || errors.Is(err, storage.ErrCodeExpired) {
			s.Logger.Debug("Authorization code redemption failed",
				"reason", err.Error(),
				"client_id", clientID,
				"code_prefix", safeTruncate(code, tokenIDLogLength))
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
			instrumentation.SetSpanError(span, "invalid_authorization_code")
			return nil, errInvalidGrant()
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("authorization code redemption failed: %w", err)
	}

	// The code is bound to the client that it was issued to
	if record.ClientID != client.ClientID {
		s.Logger.Debug("Authorization code client mismatch",
			"expected_client_id", record.ClientID,
			"provided_client_id", clientID,
			"code_prefix", safeTruncate(code, tokenIDLogLength))
		s.Auditor.LogAuthFailure(record.UserID, clientID, "", "client_id_mismatch")
		instrumentation.SetSpanError(span, "client_id_mismatch")
		return nil, errInvalidGrant()
	}

	// The redirect URI must repeat the value bound at issuance exactly
	if record.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code redirect URI mismatch",
			"client_id", clientID,
			"code_prefix", safeTruncate(code, tokenIDLogLength))
		s.Auditor.LogAuthFailure(record.UserID, clientID, "", "redirect_uri_mismatch")
		instrumentation.SetSpanError(span, "redirect_uri_mismatch")
		return nil, errInvalidGrant()
	}

	// PKCE: the verifier must match the challenge stored with the code.
	// A verifier against no challenge, or a missing verifier against a
	// stored challenge, fails the same way as a mismatch.
	if err := security.VerifyPKCE(record.CodeChallengeMethod, codeVerifier, record.CodeChallenge); err != nil {
		s.Logger.Debug("PKCE verification failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", safeTruncate(code, tokenIDLogLength))
		s.Auditor.LogPKCEFailure(record.UserID, clientID, record.CodeChallengeMethod)
		s.metrics().RecordPKCEValidationFailed(ctx, record.CodeChallengeMethod)
		instrumentation.SetSpanError(span, "pkce_verification_failed")
		return nil, errInvalidGrant()
	}

	token := s.mintToken(client, record.UserID, record.Scopes, record.Code)
	if err := s.tokenStore.SaveToken(ctx, token); err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}

	s.Logger.Debug("Issued token pair",
		"token_prefix", safeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", client.ClientID,
		"expires_at", token.AccessTokenExpiresAt)

	s.Auditor.LogTokenIssued(record.UserID, client.ClientID, record.Scopes)
	s.metrics().RecordCodeExchange(ctx, client.ClientID, record.CodeChallengeMethod)
	instrumentation.SetSpanSuccess(span)

	return token, nil
}

// RefreshAccessToken executes the refresh_token grant with mandatory
// rotation: the presented refresh token is atomically invalidated together
// with the issuance of its successor pair, so a stolen refresh token stops
// working the moment its legitimate holder rotates.
//
// Requested scopes may only narrow the original grant, never widen it.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, clientSecret string, requestedScopes []string) (*storage.Token, error) {
	ctx, span := s.startSpan(ctx, "RefreshAccessToken")
	defer span.End()

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if !clientAllowsGrant(client, GrantTypeRefreshToken) {
		s.Auditor.LogAuthFailure("", clientID, "", "grant_not_allowed")
		instrumentation.SetSpanError(span, "grant_not_allowed")
		return nil, errUnauthorizedClient("client is not authorized for the refresh_token grant")
	}

	// Resolve the current record for its grant metadata. The authoritative
	// consume happens in RotateRefreshToken below; a concurrent rotation
	// between this read and the rotate loses the race there, not here.
	old, err := s.tokenStore.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) ||
			errors.Is(err, storage.ErrTokenExpired) ||
			errors.Is(err, storage.ErrTokenRevoked) {
			s.Logger.Debug("Refresh token lookup failed",
				"reason", err.Error(),
				"client_id", clientID,
				"token_prefix", safeTruncate(refreshToken, tokenIDLogLength))
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_refresh_token")
			instrumentation.SetSpanError(span, "invalid_refresh_token")
			return nil, errInvalidGrant()
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("refresh token lookup failed: %w", err)
	}

	if old.ClientID != client.ClientID {
		s.Auditor.LogAuthFailure(old.UserID, clientID, "", "refresh_client_mismatch")
		instrumentation.SetSpanError(span, "refresh_client_mismatch")
		return nil, errInvalidGrant()
	}

	// Scope narrowing only
	scopes := old.Scopes
	if len(requestedScopes) > 0 {
		if !util.SubsetOf(requestedScopes, old.Scopes) {
			s.Auditor.LogAuthFailure(old.UserID, clientID, "", "scope_widening_attempt")
			instrumentation.SetSpanError(span, "invalid_scope")
			return nil, errInvalidScope("requested scope exceeds the originally granted scope")
		}
		scopes = requestedScopes
	}

	replacement := s.mintToken(client, old.UserID, scopes, old.AuthorizationCode)

	// Atomic rotation: revoke-old-and-issue-new as one unit. Exactly one of
	// any set of concurrent rotations for this refresh token succeeds.
	if err := s.tokenStore.RotateRefreshToken(ctx, refreshToken, replacement); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) ||
			errors.Is(err, storage.ErrTokenExpired) ||
			errors.Is(err, storage.ErrTokenRevoked) {
			s.Logger.Debug("Refresh token rotation lost the race",
				"client_id", clientID,
				"token_prefix", safeTruncate(refreshToken, tokenIDLogLength))
			s.Auditor.LogAuthFailure(old.UserID, clientID, "", "invalid_refresh_token")
			instrumentation.SetSpanError(span, "invalid_refresh_token")
			return nil, errInvalidGrant()
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("refresh token rotation failed: %w", err)
	}

	s.Logger.Debug("Rotated token pair",
		"token_prefix", safeTruncate(replacement.AccessToken, tokenIDLogLength),
		"client_id", client.ClientID)

	s.Auditor.LogTokenRefreshed(old.UserID, client.ClientID, scopes)
	s.metrics().RecordTokenRefresh(ctx, client.ClientID)
	instrumentation.SetSpanSuccess(span)

	return replacement, nil
}

// RevokeToken revokes the token record owning the presented access or
// refresh token value, when it belongs to the given client. The operation is
// idempotent and deliberately quiet: absent tokens, dead tokens, and
// ownership mismatches all report success, so the endpoint cannot be used to
// probe which token values exist.
func (s *Server) RevokeToken(ctx context.Context, tokenValue, clientID string) error {
	ctx, span := s.startSpan(ctx, "RevokeToken")
	defer span.End()

	record, tokenType, err := s.lookupEitherToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) ||
			errors.Is(err, storage.ErrTokenExpired) ||
			errors.Is(err, storage.ErrTokenRevoked) {
			// Nothing live to revoke; report success
			instrumentation.SetSpanSuccess(span)
			return nil
		}
		instrumentation.RecordError(span, err)
		return fmt.Errorf("token lookup failed: %w", err)
	}

	if record.ClientID != clientID {
		// Foreign token: a no-op that still reports success
		s.Auditor.LogAuthFailure(record.UserID, clientID, "", "revoke_client_mismatch")
		instrumentation.SetSpanSuccess(span)
		return nil
	}

	if err := s.tokenStore.RevokeToken(ctx, tokenValue); err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("token revocation failed: %w", err)
	}

	s.Auditor.LogTokenRevoked(record.UserID, clientID, tokenType)
	s.metrics().RecordTokenRevocation(ctx, clientID)
	instrumentation.SetSpanSuccess(span)
	return nil
}

// VerifyScope resolves an access token and checks that requiredScope is a
// member of its grant. This is the check resource endpoints run on every
// protected request. Failures are typed: storage.ErrTokenNotFound,
// storage.ErrTokenExpired, storage.ErrTokenRevoked, or ErrInsufficientScope.
func (s *Server) VerifyScope(ctx context.Context, accessToken, requiredScope string) (*Introspection, error) {
	ctx, span := s.startSpan(ctx, "VerifyScope")
	defer span.End()

	token, err := s.tokenStore.GetByAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) ||
			errors.Is(err, storage.ErrTokenExpired) ||
			errors.Is(err, storage.ErrTokenRevoked) {
			s.metrics().RecordIntrospection(ctx, false)
			instrumentation.SetSpanError(span, "token_not_active")
			return nil, err
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("access token lookup failed: %w", err)
	}

	if requiredScope != "" && !util.ContainsScope(token.Scopes, requiredScope) {
		s.metrics().RecordIntrospection(ctx, false)
		instrumentation.SetSpanError(span, "insufficient_scope")
		return nil, ErrInsufficientScope
	}

	s.metrics().RecordIntrospection(ctx, true)
	instrumentation.SetSpanSuccess(span)

	return &Introspection{
		Active:    true,
		UserID:    token.UserID,
		ClientID:  token.ClientID,
		Scopes:    token.Scopes,
		ExpiresAt: token.AccessTokenExpiresAt,
	}, nil
}

// mintToken builds a fresh access/refresh pair for the given grant.
// The access lifetime honors the client override; the refresh lifetime
// follows the configured rotation policy.
func (s *Server) mintToken(client *storage.Client, userID string, scopes []string, originatingCode string) *storage.Token {
	now := time.Now()

	accessTTL := s.Config.AccessTokenTTL
	if client.AccessTokenTTL > 0 {
		accessTTL = client.AccessTokenTTL
	}

	var refreshExpiry time.Time
	if !s.Config.RefreshTokenNeverExpires {
		refreshExpiry = now.Add(s.Config.RefreshTokenTTL)
	}

	return &storage.Token{
		AccessToken:           generateOpaqueValue(),
		TokenType:             tokenTypeBearer,
		AccessTokenExpiresAt:  now.Add(accessTTL),
		RefreshToken:          generateOpaqueValue(),
		RefreshTokenExpiresAt: refreshExpiry,
		Scopes:                scopes,
		ClientID:              client.ClientID,
		UserID:                userID,
		AuthorizationCode:     originatingCode,
		Audience:              s.Config.DefaultAudience,
		Issuer:                s.Config.Issuer,
		IssuedAt:              now,
	}
}

// lookupEitherToken resolves a token value as an access token first, then as
// a refresh token. Returns the record and which kind matched.
func (s *Server) lookupEitherToken(ctx context.Context, tokenValue string) (*storage.Token, string, error) {
	record, err := s.tokenStore.GetByAccessToken(ctx, tokenValue)
	if err == nil {
		return record, "access", nil
	}
	// An expired access token may still anchor a live refresh token, so any
	// dead-token outcome falls through to the refresh lookup.
	if !errors.Is(err, storage.ErrTokenNotFound) &&
		!errors.Is(err, storage.ErrTokenExpired) &&
		!errors.Is(err, storage.ErrTokenRevoked) {
		return nil, "", err
	}

	record, err = s.tokenStore.GetByRefreshToken(ctx, tokenValue)
	if err != nil {
		return nil, "", err
	}
	return record, "refresh", nil
}
