package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/embercloud/oauth/identity"
	"github.com/embercloud/oauth/identity/mock"
	"github.com/embercloud/oauth/internal/testutil"
	"github.com/embercloud/oauth/storage"
	"github.com/embercloud/oauth/storage/memory"
)

const (
	testUserID    = "user-123"
	testUserEmail = "test@example.com"
)

func setupFlowTestServer(t *testing.T) (*Server, *memory.Store, *mock.Resolver) {
	t.Helper()

	store := memory.NewWithInterval(-1)
	t.Cleanup(store.Stop)

	users := mock.New()
	users.AddUser(&identity.User{ID: testUserID, Email: testUserEmail})

	config := &Config{
		Issuer:               "https://auth.example.com",
		AuthorizationCodeTTL: 10 * time.Minute,
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      30 * 24 * time.Hour,
	}

	return New(store, store, store, users, config), store, users
}

// registerFlowClient registers a confidential client and returns it together
// with its plaintext secret.
func registerFlowClient(t *testing.T, srv *Server) (*storage.Client, string) {
	t.Helper()

	client, secret, err := srv.RegisterClient(context.Background(), &RegisterClientRequest{
		ClientName:   "Flow Test Client",
		RedirectURIs: []string{"https://example.com/callback"},
		Scopes:       []string{"openid", "email", "profile"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return client, secret
}

func registerPublicFlowClient(t *testing.T, srv *Server) *storage.Client {
	t.Helper()

	client, secret, err := srv.RegisterClient(context.Background(), &RegisterClientRequest{
		ClientName:   "Public Flow Test Client",
		ClientType:   ClientTypePublic,
		RedirectURIs: []string{"https://example.com/callback"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	if secret != "" {
		t.Fatalf("public client registration returned a secret")
	}
	return client
}

// assertOAuthCode fails unless err is an OAuthError carrying wantCode
func assertOAuthCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	oe := AsOAuthError(err)
	if oe == nil {
		t.Fatalf("error = %v, want an OAuth %s error", err, wantCode)
	}
	if oe.Code != wantCode {
		t.Fatalf("error code = %q, want %q (description: %s)", oe.Code, wantCode, oe.Description)
	}
}

func TestServer_Authorize(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := setupFlowTestServer(t)
	client, _ := registerFlowClient(t, srv)

	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name     string
		req      *AuthorizeRequest
		wantCode string // expected OAuth error code, "" for success
	}{
		{
			name: "valid request with PKCE",
			req: &AuthorizeRequest{
				ClientID:            client.ClientID,
				RedirectURI:         "https://example.com/callback",
				ResponseType:        ResponseTypeCode,
				Scopes:              []string{"openid", "email"},
				UserID:              testUserID,
				CodeChallenge:       challenge,
				CodeChallengeMethod: "S256",
				State:               "client-state",
			},
		},
		{
			name: "valid request without PKCE for confidential client",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				RedirectURI:  "https://example.com/callback",
				ResponseType: ResponseTypeCode,
				Scopes:       []string{"openid"},
				UserID:       testUserID,
				State:        "client-state",
			},
		},
		{
			name: "unknown client",
			req: &AuthorizeRequest{
				ClientID:     "absent",
				RedirectURI:  "https://example.com/callback",
				ResponseType: ResponseTypeCode,
				UserID:       testUserID,
			},
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name: "unregistered redirect URI",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				RedirectURI:  "https://evil.example/callback",
				ResponseType: ResponseTypeCode,
				UserID:       testUserID,
			},
			wantCode: ErrorCodeInvalidRedirectURI,
		},
		{
			name: "missing redirect URI",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				ResponseType: ResponseTypeCode,
				UserID:       testUserID,
			},
			wantCode: ErrorCodeInvalidRedirectURI,
		},
		{
			name: "unsupported response type",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				RedirectURI:  "https://example.com/callback",
				ResponseType: "token",
				UserID:       testUserID,
			},
			wantCode: ErrorCodeUnsupportedResponseType,
		},
		{
			name: "scope outside client restriction",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				RedirectURI:  "https://example.com/callback",
				ResponseType: ResponseTypeCode,
				Scopes:       []string{"admin"},
				UserID:       testUserID,
			},
			wantCode: ErrorCodeInvalidScope,
		},
		{
			name: "challenge without method",
			req: &AuthorizeRequest{
				ClientID:      client.ClientID,
				RedirectURI:   "https://example.com/callback",
				ResponseType:  ResponseTypeCode,
				UserID:        testUserID,
				CodeChallenge: challenge,
			},
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "plain method refused by default",
			req: &AuthorizeRequest{
				ClientID:            client.ClientID,
				RedirectURI:         "https://example.com/callback",
				ResponseType:        ResponseTypeCode,
				UserID:              testUserID,
				CodeChallenge:       challenge,
				CodeChallengeMethod: "plain",
			},
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "unknown user",
			req: &AuthorizeRequest{
				ClientID:     client.ClientID,
				RedirectURI:  "https://example.com/callback",
				ResponseType: ResponseTypeCode,
				UserID:       "absent",
			},
			wantCode: ErrorCodeAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.Authorize(ctx, tt.req)
			if tt.wantCode != "" {
				assertOAuthCode(t, err, tt.wantCode)
				return
			}

			testutil.AssertNoError(t, err)
			if result.Code == "" {
				t.Error("Authorize() returned an empty code")
			}
			testutil.AssertEqual(t, result.State, tt.req.State)
			testutil.AssertEqual(t, result.RedirectURI, tt.req.RedirectURI)
			if !result.ExpiresAt.After(time.Now()) {
				t.Error("Authorize() returned an already-expired code")
			}
		})
	}
}

func TestServer_Authorize_PublicClientRequiresPKCE(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := setupFlowTestServer(t)
	client := registerPublicFlowClient(t, srv)

	_, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:     client.ClientID,
		RedirectURI:  "https://example.com/callback",
		ResponseType: ResponseTypeCode,
		UserID:       testUserID,
	})
	assertOAuthCode(t, err, ErrorCodeInvalidRequest)

	// With a challenge the same request authorizes
	challenge, _ := testutil.GeneratePKCEPair()
	_, err = srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        ResponseTypeCode,
		UserID:              testUserID,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	testutil.AssertNoError(t, err)
}

func TestServer_ExchangeAuthorizationCode(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := setupFlowTestServer(t)
	client, secret := registerFlowClient(t, srv)

	challenge, verifier := testutil.GeneratePKCEPair()

	authorize := func(t *testing.T) *AuthorizeResult {
		t.Helper()
		result, err := srv.Authorize(ctx, &AuthorizeRequest{
			ClientID:            client.ClientID,
			RedirectURI:         "https://example.com/callback",
			ResponseType:        ResponseTypeCode,
			Scopes:              []string{"openid", "email"},
			UserID:              testUserID,
			CodeChallenge:       challenge,
			CodeChallengeMethod: "S256",
		})
		if err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		return result
	}

	t.Run("happy path", func(t *testing.T) {
		result := authorize(t)

		token, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", verifier)
		testutil.AssertNoError(t, err)

		testutil.AssertEqual(t, token.TokenType, "Bearer")
		testutil.AssertEqual(t, token.ClientID, client.ClientID)
		testutil.AssertEqual(t, token.UserID, testUserID)
		testutil.AssertEqual(t, token.Issuer, "https://auth.example.com")
		if token.AccessToken == "" || token.RefreshToken == "" {
			t.Error("issued pair has empty values")
		}
		if token.AccessToken == token.RefreshToken {
			t.Error("access and refresh token values are identical")
		}
	})

	t.Run("code is single use", func(t *testing.T) {
		result := authorize(t)

		_, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", verifier)
		testutil.AssertNoError(t, err)

		_, err = srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", verifier)
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("wrong client secret", func(t *testing.T) {
		result := authorize(t)

		_, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, "wrong", "https://example.com/callback", verifier)
		assertOAuthCode(t, err, ErrorCodeInvalidClient)

		// Authentication failed before redemption; the code is still live
		_, err = srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", verifier)
		testutil.AssertNoError(t, err)
	})

	t.Run("redirect URI mismatch", func(t *testing.T) {
		result := authorize(t)

		_, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/other", verifier)
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("wrong PKCE verifier", func(t *testing.T) {
		result := authorize(t)

		_, wrongVerifier := testutil.GeneratePKCEPair()
		_, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", wrongVerifier)
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("missing PKCE verifier", func(t *testing.T) {
		result := authorize(t)

		_, err := srv.ExchangeAuthorizationCode(ctx,
			result.Code, client.ClientID, secret, "https://example.com/callback", "")
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("code bound to issuing client", func(t *testing.T) {
		result := authorize(t)

		other, otherSecret, err := srv.RegisterClient(ctx, &RegisterClientRequest{
			ClientName:   "Other Client",
			RedirectURIs: []string{"https://example.com/callback"},
		})
		testutil.AssertNoError(t, err)

		_, err = srv.ExchangeAuthorizationCode(ctx,
			result.Code, other.ClientID, otherSecret, "https://example.com/callback", verifier)
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := srv.ExchangeAuthorizationCode(ctx,
			"absent", client.ClientID, secret, "https://example.com/callback", verifier)
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	})
}

func TestServer_ExchangeAuthorizationCode_PublicClient(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := setupFlowTestServer(t)
	client := registerPublicFlowClient(t, srv)

	challenge, verifier := testutil.GeneratePKCEPair()

	result, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        ResponseTypeCode,
		Scopes:              []string{"openid"},
		UserID:              testUserID,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	testutil.AssertNoError(t, err)

	// A public client presenting a secret is refused
	_, err = srv.ExchangeAuthorizationCode(ctx,
		result.Code, client.ClientID, "some-secret", "https://example.com/callback", verifier)
	assertOAuthCode(t, err, ErrorCodeInvalidClient)

	// Identifier plus verifier succeeds
	token, err := srv.ExchangeAuthorizationCode(ctx,
		result.Code, client.ClientID, "", "https://example.com/callback", verifier)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token.ClientID, client.ClientID)
}

func TestServer_ExchangeAuthorizationCode_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupFlowTestServer(t)
	client, secret := registerFlowClient(t, srv)

	code := testutil.GenerateTestAuthorizationCode()
	code.ClientID = client.ClientID
	code.ExpiresAt = time.Now().Add(-time.Minute)
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	_, err := srv.ExchangeAuthorizationCode(ctx,
		code.Code, client.ClientID, secret, code.RedirectURI, "")
	assertOAuthCode(t, err, ErrorCodeInvalidGrant)
}

// TestServer_ExchangeAuthorizationCode_Concurrent replays the same code from
// many goroutines; exactly one exchange may mint a token.
func TestServer_ExchangeAuthorizationCode_Concurrent(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := setupFlowTestServer(t)
	client, secret := registerFlowClient(t, srv)

	challenge, verifier := testutil.GeneratePKCEPair()
	result, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://example.com/callback",
		ResponseType:        ResponseTypeCode,
		Scopes:              []string{"openid"},
		UserID:              testUserID,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})
	testutil.AssertNoError(t, err)

	const goroutines = 20
	var wg sync.WaitGroup
	outcomes := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.ExchangeAuthorizationCode(ctx,
				result.Code, client.ClientID, secret, "https://example.com/callback", verifier)
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	successes := 0
	for err := range outcomes {
		if err == nil {
			successes++
			continue
		}
		assertOAuthCode(t, err, ErrorCodeInvalidGrant)
	}
	testutil.AssertEqual(t, successes, 1)
}

func TestServer_Authorize_GrantRestriction(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupFlowTestServer(t)

	// A client registered without the authorization_code grant
	client := testutil.GenerateTestClient()
	client.GrantTypes = []string{GrantTypeRefreshToken}
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	_, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:     client.ClientID,
		RedirectURI:  client.RedirectURIs[0],
		ResponseType: ResponseTypeCode,
		UserID:       testUserID,
	})
	assertOAuthCode(t, err, ErrorCodeAccessDenied)
}

func TestServer_ExchangeAuthorizationCode_GrantRestriction(t *testing.T) {
	ctx := context.Background()
	srv, store, _ := setupFlowTestServer(t)

	client := testutil.GenerateTestClient()
	client.GrantTypes = []string{GrantTypeRefreshToken}
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	_, err := srv.ExchangeAuthorizationCode(ctx,
		"some-code", client.ClientID, testutil.TestClientSecret, client.RedirectURIs[0], "")
	assertOAuthCode(t, err, ErrorCodeUnauthorizedClient)
}

// errorResolver always fails resolution, for exercising the access_denied gate
type errorResolver struct{}

func (errorResolver) ResolveActiveUser(context.Context, string) (*identity.User, error) {
	return nil, errors.New("backend unavailable")
}

func TestServer_Authorize_ResolverFailure(t *testing.T) {
	ctx := context.Background()

	store := memory.NewWithInterval(-1)
	t.Cleanup(store.Stop)

	srv := New(store, store, store, errorResolver{}, nil)
	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	_, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:     client.ClientID,
		RedirectURI:  client.RedirectURIs[0],
		ResponseType: ResponseTypeCode,
		UserID:       testUserID,
	})
	assertOAuthCode(t, err, ErrorCodeAccessDenied)
}
