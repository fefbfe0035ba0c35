package oauth

import "github.com/embercloud/oauth/server"

// Error is the protocol-level error type produced by the engines. Handlers
// map it straight onto the OAuth error-response JSON shape.
type Error = server.OAuthError

// OAuth error codes surfaced by this package
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeInsufficientScope       = server.ErrorCodeInsufficientScope
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// ErrInsufficientScope is returned by scope verification when the token is
// live but its grant does not cover the required scope.
var ErrInsufficientScope = server.ErrInsufficientScope

// AsError extracts an *Error from an error chain, or nil when the error is an
// internal fault rather than a protocol outcome.
func AsError(err error) *Error {
	return server.AsOAuthError(err)
}
