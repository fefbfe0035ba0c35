package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/embercloud/oauth/storage"
)

// codeJSON is the stored representation of an authorization code
type codeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	State               string   `json:"state,omitempty"`
	SessionID           string   `json:"session_id,omitempty"`
	IssuedAt            int64    `json:"issued_at"`
	ExpiresAt           int64    `json:"expires_at"`
}

func toCodeJSON(code *storage.AuthorizationCode) *codeJSON {
	return &codeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		State:               code.State,
		SessionID:           code.SessionID,
		IssuedAt:            code.IssuedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
	}
}

func fromCodeJSON(j *codeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		State:               j.State,
		SessionID:           j.SessionID,
		IssuedAt:            time.Unix(j.IssuedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
	}
}

// luaConsumeAuthorizationCode atomically retrieves and deletes an
// authorization code. Exactly one concurrent caller gets the record; the DEL
// happens in the same script execution as the GET, so there is no window in
// which two exchanges can both observe the code.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - the stored JSON on success (the key is deleted)
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if the record is past its expiry (the key is deleted)
const luaConsumeAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    redis.call('DEL', KEYS[1])
    return 'EXPIRED'
end

redis.call('DEL', KEYS[1])
return data
`

// SaveAuthorizationCode persists a freshly minted code. SET NX refuses to
// overwrite an existing record, which surfaces opaque value collisions as
// ErrDuplicateCode for the caller to regenerate.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	data, err := json.Marshal(toCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)
	set, err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Nx().Ex(ttl).Build(),
	).AsBool()
	if err != nil {
		if isNilError(err) {
			// SET NX answers nil when the key already exists
			return storage.ErrDuplicateCode
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	if !set {
		return storage.ErrDuplicateCode
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically retrieves and deletes a code via a Lua
// script. Concurrent losers observe ErrCodeNotFound; an expired-but-unswept
// record fails with ErrCodeExpired and is removed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeAuthorizationCode).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case "EXPIRED":
		return nil, storage.ErrCodeExpired
	}

	var j codeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", safeTruncate(code, tokenIDLogLength))
	return fromCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes a code without consuming it.
// Deleting an absent code is not an error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.codeKey(code)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}
