package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/embercloud/oauth/storage"
)

// TestClientSecret is the plaintext secret matching TestClientSecretHash
const TestClientSecret = "secret"

// TestClientSecretHash is the bcrypt hash of TestClientSecret
const TestClientSecretHash = "$2a$10$7vkCoTXE7KQKVRX2YxlSQemFz0VytY6oaA1ZA8syaJMJ6r1fuLIhS"

// GenerateTestClient creates a confidential test client whose secret is
// TestClientSecret.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:         "test-client-id",
		ClientSecretHash: TestClientSecretHash,
		ClientType:       "confidential",
		ClientName:       "Test Client",
		RedirectURIs:     []string{"https://example.com/callback"},
		GrantTypes:       []string{"authorization_code", "refresh_token"},
		Scopes:           []string{"openid", "email", "profile"},
		CreatedAt:        time.Now(),
	}
}

// GenerateTestPublicClient creates a public test client with no secret
func GenerateTestPublicClient() *storage.Client {
	client := GenerateTestClient()
	client.ClientID = "test-public-client-id"
	client.ClientSecretHash = ""
	client.ClientType = "public"
	return client
}

// GenerateTestAuthorizationCode creates a test authorization code without a
// PKCE challenge, valid for ten minutes.
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(43),
		ClientID:    "test-client-id",
		UserID:      "test-user-123",
		RedirectURI: "https://example.com/callback",
		Scopes:      []string{"openid", "email"},
		State:       GenerateRandomString(32),
		IssuedAt:    now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GenerateTestToken creates a test access/refresh pair valid for an hour
func GenerateTestToken() *storage.Token {
	now := time.Now()
	return &storage.Token{
		AccessToken:           GenerateRandomString(43),
		TokenType:             "Bearer",
		AccessTokenExpiresAt:  now.Add(time.Hour),
		RefreshToken:          GenerateRandomString(43),
		RefreshTokenExpiresAt: now.Add(30 * 24 * time.Hour),
		Scopes:                []string{"openid", "email"},
		ClientID:              "test-client-id",
		UserID:                "test-user-123",
		IssuedAt:              now,
	}
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 challenge/verifier pair.
// The verifier length satisfies the RFC 7636 43-character minimum.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}
