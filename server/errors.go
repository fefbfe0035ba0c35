package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth 2.0 error codes from RFC 6749 (plus RFC 6750 for resource checks)
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeServerError             = "server_error"
)

// ErrInsufficientScope indicates a valid token lacking the required scope.
// Returned by VerifyScope alongside the storage sentinels.
var ErrInsufficientScope = errors.New("insufficient scope")

// OAuthError is a protocol-level failure that maps directly onto the OAuth2
// error-response shape. Engines return it for every externally surfaced
// failure; anything else that escapes an engine is an internal fault and maps
// to a bare HTTP 500 with no protocol body.
type OAuthError struct {
	Code        string // OAuth error code (e.g. "invalid_grant")
	Description string // human-readable description, safe to surface
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth protocol error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// AsOAuthError extracts an *OAuthError from an error chain, or nil
func AsOAuthError(err error) *OAuthError {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}
	return nil
}

func errInvalidRequest(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

func errInvalidClient(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// errInvalidGrant deliberately carries a fixed description: expired, consumed,
// and mismatched codes or tokens must be indistinguishable to callers.
func errInvalidGrant() *OAuthError {
	return NewOAuthError(ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest)
}

func errInvalidScope(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
}

func errInvalidRedirectURI(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

func errUnsupportedResponseType(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
}

func errUnauthorizedClient(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
}

func errAccessDenied(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusBadRequest)
}
