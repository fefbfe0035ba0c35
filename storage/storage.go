// Package storage defines the persistence contracts for OAuth clients,
// authorization codes, and tokens. It supports pluggable backends; the
// repository ships an in-memory implementation and a Valkey implementation.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations. Engines match on these
// with errors.Is to map storage conditions onto the OAuth error taxonomy.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientRevoked indicates the client exists but has been revoked
	ErrClientRevoked = errors.New("client revoked")

	// ErrInvalidClientSecret indicates the presented secret does not match
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrCodeNotFound indicates the authorization code does not exist
	// (never issued, already consumed, or swept after expiry)
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code exists but is past its
	// expiry. Kept distinct from ErrCodeNotFound so callers can log the
	// difference; both surface externally as invalid_grant.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrDuplicateCode indicates the opaque code value collides with a stored
	// one. Callers must regenerate a fresh random value, never retry the same.
	ErrDuplicateCode = errors.New("duplicate authorization code")

	// ErrTokenNotFound indicates no token record matches the presented value
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the token record exists but is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked indicates the token record exists but has been revoked
	ErrTokenRevoked = errors.New("token revoked")
)

// Client represents a registered OAuth client.
// The secret is stored as a bcrypt hash, never in clear.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash; empty for public clients
	ClientType       string // "public" or "confidential"
	ClientName       string
	RedirectURIs     []string
	GrantTypes       []string
	Scopes           []string // optional restriction; empty means unrestricted
	Revoked          bool
	AccessTokenTTL   time.Duration // per-client override; zero uses the global default
	CreatedAt        time.Time
}

// AuthorizationCode is a short-lived, single-use credential minted by the
// authorization endpoint and consumed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string // empty when PKCE was not requested
	CodeChallengeMethod string // "plain" or "S256"
	State               string // client CSRF correlator, echoed on redirect
	SessionID           string // optional session correlator
	IssuedAt            time.Time
	ExpiresAt           time.Time
}

// Token is an issued access/refresh pair. The two values are one lease:
// revoking the record invalidates both.
type Token struct {
	AccessToken           string
	TokenType             string // always "Bearer"
	AccessTokenExpiresAt  time.Time
	RefreshToken          string    // empty when no refresh token was issued
	RefreshTokenExpiresAt time.Time // zero means the refresh token never expires
	Scopes                []string
	ClientID              string
	UserID                string
	AuthorizationCode     string // originating code value, for audit correlation
	Audience              string
	Issuer                string
	IssuedAt              time.Time
	Revoked               bool
	RevokedAt             time.Time
}

// ClientStore manages OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a registered client, overwriting any previous
	// registration under the same client ID.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrClientNotFound on miss
	// and ErrClientRevoked when the registration has been revoked.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret checks a confidential client's secret against the
	// stored bcrypt hash. Returns ErrInvalidClientSecret on mismatch.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// DeleteClient removes a client registration. Deletion cascades nothing:
	// codes and tokens referencing the client become unusable by lookup-miss.
	DeleteClient(ctx context.Context, clientID string) error
}

// CodeStore manages single-use authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode persists a freshly minted code. Returns
	// ErrDuplicateCode if the opaque value collides with a stored record;
	// the caller must mint a new random value.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically retrieves and deletes a code.
	// Exactly one of any set of concurrent calls for the same value succeeds;
	// all others observe ErrCodeNotFound. An expired-but-unswept record fails
	// with ErrCodeExpired and is removed.
	//
	// SECURITY: This operation MUST be atomic (conditional delete or
	// equivalent), never read-then-delete in two steps. Authorization code
	// replay is the primary attack this store defends against.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code without consuming it, for
	// explicit revocation. Deleting an absent code is not an error.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore manages issued access/refresh token records.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken persists an issued token pair
	SaveToken(ctx context.Context, token *Token) error

	// GetByAccessToken retrieves a record by its access token value.
	// Returns ErrTokenNotFound, ErrTokenExpired, or ErrTokenRevoked.
	GetByAccessToken(ctx context.Context, accessToken string) (*Token, error)

	// GetByRefreshToken retrieves a record by its refresh token value.
	// Returns ErrTokenNotFound, ErrTokenExpired, or ErrTokenRevoked.
	GetByRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// RevokeToken marks the record owning the given access or refresh token
	// value as revoked. Idempotent: revoking an already-revoked or absent
	// token is not an error.
	RevokeToken(ctx context.Context, tokenValue string) error

	// RotateRefreshToken atomically invalidates the record owning
	// oldRefreshToken and persists replacement as the successor pair. Exactly
	// one of any set of concurrent rotations for the same refresh token
	// succeeds; all others observe ErrTokenNotFound.
	//
	// SECURITY: This operation MUST be atomic to prevent a window in which
	// both the old and new refresh tokens are simultaneously valid.
	RotateRefreshToken(ctx context.Context, oldRefreshToken string, replacement *Token) error
}
