// Package oauth implements an OAuth 2.0 authorization server library built
// around the authorization-code grant with PKCE, refresh token rotation,
// revocation, and introspection.
//
// The package splits into layers: storage defines the persistence contracts
// (with in-memory and Valkey backends under storage/memory and
// storage/valkey), server implements the grant and token lifecycle engines
// on top of them, and this root package re-exports the engine types and adds
// a net/http adapter for the protocol endpoints.
package oauth

import (
	"github.com/embercloud/oauth/identity"
	"github.com/embercloud/oauth/server"
	"github.com/embercloud/oauth/storage"
)

// Storage entity aliases, so embedding applications rarely need to import
// the storage package directly.
type (
	// Client is a registered OAuth client
	Client = storage.Client

	// AuthorizationCode is a single-use authorization code record
	AuthorizationCode = storage.AuthorizationCode

	// Token is an issued access/refresh token pair
	Token = storage.Token
)

// Engine aliases
type (
	// Server is the grant and token lifecycle engine
	Server = server.Server

	// ServerConfig configures the engine
	ServerConfig = server.Config

	// AuthorizeRequest carries the parameters of an authorization request
	AuthorizeRequest = server.AuthorizeRequest

	// AuthorizeResult is the outcome of a successful authorization
	AuthorizeResult = server.AuthorizeResult

	// Introspection is the resolved grant of a live access token
	Introspection = server.Introspection

	// RegisterClientRequest carries the parameters of a client registration
	RegisterClientRequest = server.RegisterClientRequest
)

// NewServer creates the grant engine over the given stores and user resolver.
// Config may be nil; secure defaults are applied.
func NewServer(
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	users identity.Resolver,
	config *ServerConfig,
) *Server {
	return server.New(clientStore, codeStore, tokenStore, users, config)
}
