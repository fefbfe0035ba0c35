// Package identity defines the user-resolution collaborator interface.
//
// Authentication itself (passwords, sessions, 2FA, account lifecycle) is
// external to this server. The engines only need to answer one question:
// does this identifier currently resolve to an active user.
package identity

import (
	"context"
	"errors"
)

// ErrUserNotFound indicates the identifier does not resolve to an active user
var ErrUserNotFound = errors.New("user not found or inactive")

// User is the minimal user representation the authorization server needs.
type User struct {
	ID    string
	Email string
}

// Resolver resolves user identifiers supplied by the external authentication
// layer. Implementations typically wrap a user-management service or database.
type Resolver interface {
	// ResolveActiveUser returns the user for id, or ErrUserNotFound when the
	// identifier is unknown, deactivated, or locked.
	ResolveActiveUser(ctx context.Context, id string) (*User, error)
}
