package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/embercloud/oauth/instrumentation"
	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/storage"
)

// AuthorizeRequest carries the parameters of an authorization request.
// UserID identifies the already-authenticated resource owner; session
// establishment is the caller's concern.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scopes              []string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	SessionID           string
}

// AuthorizeResult is the outcome of a successful authorization: the minted
// code, the state echoed back to the client, and the redirect URI the code
// must be delivered to.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
	ExpiresAt   time.Time
}

// Authorize executes the authorize step: it validates the client, the
// redirect URI, the response type, the requested scopes, and the user, then
// mints and persists a single-use authorization code. No token is issued at
// this stage.
//
// The validation order is fixed. The redirect URI is checked before anything
// that could trigger a redirect: an unchecked redirect URI is an open
// redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "Authorize")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, req.Scopes)

	// Gate 1: the client must exist and be live
	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrClientRevoked) {
			s.recordAuthorizeFailure(ctx, span, req, "invalid_client")
			return nil, errInvalidClient("client authentication failed")
		}
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}

	// Gate 2: exact redirect URI membership, before any redirect is possible
	if err := validateRedirectURI(client, req.RedirectURI); err != nil {
		s.recordAuthorizeFailure(ctx, span, req, "invalid_redirect_uri")
		return nil, errInvalidRedirectURI(err.Error())
	}

	// Gate 3: only the authorization-code grant is supported
	if req.ResponseType != ResponseTypeCode {
		s.recordAuthorizeFailure(ctx, span, req, "unsupported_response_type")
		return nil, errUnsupportedResponseType(
			fmt.Sprintf("unsupported response_type: %q (supported: %s)", req.ResponseType, ResponseTypeCode))
	}
	if !clientAllowsGrant(client, GrantTypeAuthorizationCode) {
		s.recordAuthorizeFailure(ctx, span, req, "unauthorized_grant")
		return nil, errAccessDenied("client is not authorized for the authorization_code grant")
	}

	// Gate 4: requested scopes must sit inside the client's restriction
	if err := validateClientScopes(req.Scopes, client); err != nil {
		s.recordAuthorizeFailure(ctx, span, req, "invalid_scope")
		return nil, errInvalidScope(err.Error())
	}

	// Gate 5: PKCE parameters, when present, must be coherent now - a
	// malformed challenge must not surface later as an unexplainable
	// exchange failure.
	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			s.recordAuthorizeFailure(ctx, span, req, "invalid_request")
			return nil, errInvalidRequest("code_challenge_method is required when code_challenge is provided")
		}
		if err := security.ValidateChallengeMethod(req.CodeChallengeMethod, s.Config.AllowPKCEPlain); err != nil {
			s.recordAuthorizeFailure(ctx, span, req, "invalid_request")
			return nil, errInvalidRequest(err.Error())
		}
		instrumentation.AddPKCEAttributes(span, req.CodeChallengeMethod)
	} else if client.ClientType == ClientTypePublic && !s.Config.DisablePKCEForPublicClients {
		s.recordAuthorizeFailure(ctx, span, req, "invalid_request")
		return nil, errInvalidRequest("public clients must use PKCE: code_challenge is required")
	}

	// Gate 6: the user must resolve to an active account
	user, err := s.users.ResolveActiveUser(ctx, req.UserID)
	if err != nil {
		s.recordAuthorizeFailure(ctx, span, req, "access_denied")
		return nil, errAccessDenied("resource owner authentication failed")
	}

	// Mint and persist the code. On an opaque value collision the store
	// reports ErrDuplicateCode and a fresh random value is generated; the
	// same value is never retried.
	now := time.Now()
	record := &storage.AuthorizationCode{
		ClientID:            client.ClientID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		State:               req.State,
		SessionID:           req.SessionID,
		IssuedAt:            now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTL),
	}

	var saveErr error
	for attempt := 0; attempt < maxCodeMintAttempts; attempt++ {
		record.Code = generateOpaqueValue()
		saveErr = s.codeStore.SaveAuthorizationCode(ctx, record)
		if saveErr == nil {
			break
		}
		if !errors.Is(saveErr, storage.ErrDuplicateCode) {
			instrumentation.RecordError(span, saveErr)
			return nil, fmt.Errorf("failed to persist authorization code: %w", saveErr)
		}
		s.Logger.Warn("Authorization code collision, regenerating",
			"attempt", attempt+1,
			"client_id", client.ClientID)
	}
	if saveErr != nil {
		instrumentation.RecordError(span, saveErr)
		return nil, fmt.Errorf("failed to mint a unique authorization code: %w", saveErr)
	}

	s.Logger.Debug("Issued authorization code",
		"code_prefix", safeTruncate(record.Code, tokenIDLogLength),
		"client_id", client.ClientID,
		"expires_at", record.ExpiresAt)

	s.Auditor.LogAuthorizationCodeIssued(user.ID, client.ClientID, req.Scopes)
	s.metrics().RecordAuthorizationRequest(ctx, client.ClientID, "success")
	instrumentation.SetSpanSuccess(span)

	return &AuthorizeResult{
		Code:        record.Code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// recordAuthorizeFailure records a failed authorization gate on the audit
// log, metrics, and the active span.
func (s *Server) recordAuthorizeFailure(ctx context.Context, span trace.Span, req *AuthorizeRequest, reason string) {
	s.Auditor.LogAuthFailure(req.UserID, req.ClientID, "", reason)
	s.metrics().RecordAuthorizationRequest(ctx, req.ClientID, reason)
	instrumentation.SetSpanError(span, reason)
}
