package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// PKCE code challenge methods per RFC 7636
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// RFC 7636 code verifier length bounds
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// PKCE verification errors
var (
	// ErrPKCERequired indicates a code was issued with a challenge but no
	// verifier was supplied at exchange time
	ErrPKCERequired = errors.New("code_verifier is required when code_challenge is present")

	// ErrPKCENotRequested indicates a verifier was supplied for a code that
	// was issued without a challenge
	ErrPKCENotRequested = errors.New("code_verifier supplied but no code_challenge was requested")

	// ErrPKCEMismatch indicates the verifier does not match the stored challenge
	ErrPKCEMismatch = errors.New("code_verifier does not match code_challenge")
)

// ValidateChallengeMethod checks a code_challenge_method parameter at
// authorization time. allowPlain permits the deprecated "plain" method for
// legacy clients.
func ValidateChallengeMethod(method string, allowPlain bool) error {
	switch method {
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if !allowPlain {
			return fmt.Errorf("'plain' code_challenge_method is not allowed (only S256 is supported)")
		}
		return nil
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// VerifyPKCE checks a code verifier against the challenge stored with the
// authorization code, per RFC 7636.
//
// For S256 the challenge must equal base64url(sha256(verifier)); for plain it
// must equal the verifier byte for byte. Both comparisons are constant-time.
// An empty storedChallenge means PKCE was not requested for the code: a
// supplied verifier then fails with ErrPKCENotRequested. A stored challenge
// with no verifier fails with ErrPKCERequired.
func VerifyPKCE(method, verifier, storedChallenge string) error {
	if storedChallenge == "" {
		if verifier != "" {
			return ErrPKCENotRequested
		}
		return nil
	}

	if verifier == "" {
		return ErrPKCERequired
	}

	// RFC 7636: 43-128 characters from the unreserved set. Rejecting
	// anything else up front also keeps control bytes out of the hash input.
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	// Constant-time comparison to prevent timing side channels
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) != 1 {
		return ErrPKCEMismatch
	}

	return nil
}
