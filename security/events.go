package security

// Event type constants for security audit logging. Using constants keeps
// event names consistent across the codebase and the dashboards built on it.
const (
	// EventAuthorizationCodeIssued is logged when an authorization code is minted
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventTokenIssued is logged when an access/refresh pair is issued via code exchange
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh grant rotates a token pair
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by its owning client
	EventTokenRevoked = "token_revoked"

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientDeleted is logged when a client registration is removed
	EventClientDeleted = "client_deleted"

	// EventAuthFailure is logged when client authentication or a flow
	// validation gate fails
	EventAuthFailure = "auth_failure"

	// EventInvalidPKCE is logged when PKCE verification fails at exchange time
	EventInvalidPKCE = "invalid_pkce"

	// EventRateLimitExceeded is logged when a rate limit rejects a request
	EventRateLimitExceeded = "rate_limit_exceeded"
)
