package server

import (
	"fmt"

	"github.com/embercloud/oauth/internal/util"
	"github.com/embercloud/oauth/storage"
)

// Client types
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Grant type identifiers
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ResponseTypeCode is the only supported response_type
const ResponseTypeCode = "code"

// validateRedirectURI checks that the presented redirect URI is an exact
// member of the client's registered set. Exact string comparison only: no
// prefix matching, no normalization. Anything looser is an open-redirect
// vector.
func validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri is not registered for this client")
}

// validateClientScopes checks that every requested scope is permitted for the
// client. A client with no declared scope restriction permits any scope.
func validateClientScopes(requested []string, client *storage.Client) error {
	if len(client.Scopes) == 0 {
		return nil
	}
	for _, scope := range requested {
		if !util.ContainsScope(client.Scopes, scope) {
			return fmt.Errorf("scope %q is not permitted for this client", scope)
		}
	}
	return nil
}

// clientAllowsGrant reports whether the client's registered grant types
// include the given grant. A client registered with no grant types allows
// none.
func clientAllowsGrant(client *storage.Client, grant string) bool {
	return util.ContainsScope(client.GrantTypes, grant)
}
