package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/embercloud/oauth/security"
	"github.com/embercloud/oauth/storage"
)

// tokenJSON is the stored representation of an access/refresh pair
type tokenJSON struct {
	AccessToken      string   `json:"access_token"`
	TokenType        string   `json:"token_type"`
	AccessExpiresAt  int64    `json:"access_expires_at"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresAt int64    `json:"refresh_expires_at,omitempty"` // 0 = never
	Scopes           []string `json:"scopes,omitempty"`
	ClientID         string   `json:"client_id"`
	UserID           string   `json:"user_id"`
	Code             string   `json:"authorization_code,omitempty"`
	Audience         string   `json:"audience,omitempty"`
	Issuer           string   `json:"issuer,omitempty"`
	IssuedAt         int64    `json:"issued_at"`
	Revoked          bool     `json:"revoked,omitempty"`
	RevokedAt        int64    `json:"revoked_at,omitempty"`
}

func toTokenJSON(token *storage.Token) *tokenJSON {
	j := &tokenJSON{
		AccessToken:     token.AccessToken,
		TokenType:       token.TokenType,
		AccessExpiresAt: token.AccessTokenExpiresAt.Unix(),
		RefreshToken:    token.RefreshToken,
		Scopes:          token.Scopes,
		ClientID:        token.ClientID,
		UserID:          token.UserID,
		Code:            token.AuthorizationCode,
		Audience:        token.Audience,
		Issuer:          token.Issuer,
		IssuedAt:        token.IssuedAt.Unix(),
		Revoked:         token.Revoked,
	}
	if !token.RefreshTokenExpiresAt.IsZero() {
		j.RefreshExpiresAt = token.RefreshTokenExpiresAt.Unix()
	}
	if !token.RevokedAt.IsZero() {
		j.RevokedAt = token.RevokedAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	if j == nil {
		return nil
	}
	t := &storage.Token{
		AccessToken:          j.AccessToken,
		TokenType:            j.TokenType,
		AccessTokenExpiresAt: time.Unix(j.AccessExpiresAt, 0),
		RefreshToken:         j.RefreshToken,
		Scopes:               j.Scopes,
		ClientID:             j.ClientID,
		UserID:               j.UserID,
		AuthorizationCode:    j.Code,
		Audience:             j.Audience,
		Issuer:               j.Issuer,
		IssuedAt:             time.Unix(j.IssuedAt, 0),
		Revoked:              j.Revoked,
	}
	if j.RefreshExpiresAt > 0 {
		t.RefreshTokenExpiresAt = time.Unix(j.RefreshExpiresAt, 0)
	}
	if j.RevokedAt > 0 {
		t.RevokedAt = time.Unix(j.RevokedAt, 0)
	}
	return t
}

// recordTTL is the key TTL for a token record. The record must outlive the
// access token while its refresh token is live, so the refresh expiry
// governs; a never-expiring refresh token means no TTL at all.
func recordTTL(token *storage.Token) (time.Duration, bool) {
	if token.RefreshToken != "" {
		if token.RefreshTokenExpiresAt.IsZero() {
			return 0, false
		}
		return calculateTTL(token.RefreshTokenExpiresAt), true
	}
	return calculateTTL(token.AccessTokenExpiresAt), true
}

// luaRotateRefreshToken atomically rotates a refresh token: it revokes the
// record owning the old refresh token and persists the replacement pair in
// one script execution, so at no point are both refresh tokens valid and at
// no point is neither. Exactly one concurrent rotation for the same refresh
// token succeeds; losers observe NOT_FOUND.
//
// The old record key is derived inside the script from the refresh index
// value, which requires a non-clustered deployment (all keys share one
// keyspace); the doc comment on Config notes this.
//
// KEYS[1] = old refresh index key
// KEYS[2] = replacement record key
// KEYS[3] = replacement refresh index key
// ARGV[1] = record key prefix (e.g. "oauth:token:record:")
// ARGV[2] = current Unix timestamp in seconds
// ARGV[3] = replacement record JSON
// ARGV[4] = replacement access token (the refresh index value)
// ARGV[5] = replacement TTL in seconds, 0 for none
//
// Returns "OK", "NOT_FOUND", "EXPIRED", or "REVOKED".
const luaRotateRefreshToken = `
local oldAccess = redis.call('GET', KEYS[1])
if not oldAccess then
    return 'NOT_FOUND'
end

local recordKey = ARGV[1] .. oldAccess
local data = redis.call('GET', recordKey)
if not data then
    redis.call('DEL', KEYS[1])
    return 'NOT_FOUND'
end

local record = cjson.decode(data)
if record.revoked then
    return 'REVOKED'
end

local now = tonumber(ARGV[2])
local refreshExp = tonumber(record.refresh_expires_at)
if refreshExp and refreshExp > 0 and now > refreshExp then
    redis.call('DEL', KEYS[1])
    redis.call('DEL', recordKey)
    return 'EXPIRED'
end

record.revoked = true
record.revoked_at = now
redis.call('SET', recordKey, cjson.encode(record), 'KEEPTTL')
redis.call('DEL', KEYS[1])

local ttl = tonumber(ARGV[5])
if ttl and ttl > 0 then
    redis.call('SET', KEYS[2], ARGV[3], 'EX', ttl)
    redis.call('SET', KEYS[3], ARGV[4], 'EX', ttl)
else
    redis.call('SET', KEYS[2], ARGV[3])
    redis.call('SET', KEYS[3], ARGV[4])
end

return 'OK'
`

// SaveToken persists an issued token pair: the record keyed by its access
// token plus a refresh index entry pointing back at it.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("invalid token")
	}

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl, hasTTL := recordTTL(token)
	if hasTTL && ttl <= 0 {
		return fmt.Errorf("token already expired")
	}

	recordKey := s.tokenRecordKey(token.AccessToken)
	setCmd := s.client.B().Set().Key(recordKey).Value(string(data))
	var setErr error
	if hasTTL {
		setErr = s.client.Do(ctx, setCmd.Ex(ttl).Build()).Error()
	} else {
		setErr = s.client.Do(ctx, setCmd.Build()).Error()
	}
	if setErr != nil {
		return fmt.Errorf("failed to save token: %w", setErr)
	}

	if token.RefreshToken != "" {
		indexKey := s.refreshIndexKey(token.RefreshToken)
		idxCmd := s.client.B().Set().Key(indexKey).Value(token.AccessToken)
		var idxErr error
		if hasTTL {
			idxErr = s.client.Do(ctx, idxCmd.Ex(ttl).Build()).Error()
		} else {
			idxErr = s.client.Do(ctx, idxCmd.Build()).Error()
		}
		if idxErr != nil {
			return fmt.Errorf("failed to save refresh token index: %w", idxErr)
		}
	}

	s.logger.Debug("Saved token",
		"token_prefix", safeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetByAccessToken retrieves a record by its access token value
func (s *Store) GetByAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	token, err := s.getRecord(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, storage.ErrTokenRevoked
	}
	if security.IsTokenExpired(token.AccessTokenExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return token, nil
}

// GetByRefreshToken retrieves a record by its refresh token value
func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	indexKey := s.refreshIndexKey(refreshToken)

	accessToken, err := s.client.Do(ctx, s.client.B().Get().Key(indexKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token index: %w", err)
	}

	token, err := s.getRecord(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, storage.ErrTokenRevoked
	}
	if !token.RefreshTokenExpiresAt.IsZero() && security.IsTokenExpired(token.RefreshTokenExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	return token, nil
}

// RevokeToken marks the record owning the presented access or refresh token
// value as revoked. Idempotent; absent tokens are not an error. The
// read-modify-write is not atomic, but concurrent revocations of the same
// record converge on the same revoked state.
func (s *Store) RevokeToken(ctx context.Context, tokenValue string) error {
	token, err := s.resolveRecord(ctx, tokenValue)
	if err != nil {
		if isNilError(err) || err == storage.ErrTokenNotFound {
			return nil
		}
		return err
	}
	if token.Revoked {
		return nil
	}

	token.Revoked = true
	token.RevokedAt = time.Now()

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	recordKey := s.tokenRecordKey(token.AccessToken)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(recordKey).Value(string(data)).Keepttl().Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.logger.Debug("Revoked token",
		"token_prefix", safeTruncate(token.AccessToken, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// RotateRefreshToken atomically invalidates the record owning
// oldRefreshToken and persists replacement as its successor, via a Lua
// script. Concurrent rotations for the same refresh token lose with
// ErrTokenNotFound.
func (s *Store) RotateRefreshToken(ctx context.Context, oldRefreshToken string, replacement *storage.Token) error {
	if replacement == nil || replacement.AccessToken == "" || replacement.RefreshToken == "" {
		return fmt.Errorf("invalid replacement token")
	}

	data, err := json.Marshal(toTokenJSON(replacement))
	if err != nil {
		return fmt.Errorf("failed to marshal replacement token: %w", err)
	}

	ttl, hasTTL := recordTTL(replacement)
	if hasTTL && ttl <= 0 {
		return fmt.Errorf("replacement token already expired")
	}
	ttlSeconds := int64(0)
	if hasTTL {
		ttlSeconds = int64(ttl.Seconds())
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRotateRefreshToken).
			Numkeys(3).
			Key(
				s.refreshIndexKey(oldRefreshToken),
				s.tokenRecordKey(replacement.AccessToken),
				s.refreshIndexKey(replacement.RefreshToken),
			).
			Arg(
				s.tokenRecordKey(""),
				fmt.Sprintf("%d", time.Now().Unix()),
				string(data),
				replacement.AccessToken,
				fmt.Sprintf("%d", ttlSeconds),
			).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	switch result {
	case "OK":
		s.logger.Debug("Rotated refresh token",
			"token_prefix", safeTruncate(replacement.AccessToken, tokenIDLogLength),
			"client_id", replacement.ClientID)
		return nil
	case "NOT_FOUND":
		return storage.ErrTokenNotFound
	case "EXPIRED":
		return storage.ErrTokenExpired
	case "REVOKED":
		return storage.ErrTokenRevoked
	default:
		return fmt.Errorf("unexpected rotation result: %s", result)
	}
}

// getRecord fetches and decodes a token record by access token value
func (s *Store) getRecord(ctx context.Context, accessToken string) (*storage.Token, error) {
	recordKey := s.tokenRecordKey(accessToken)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(recordKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return fromTokenJSON(&j), nil
}

// resolveRecord resolves a token value as an access token first, then as a
// refresh token, without expiry checks. Used by revocation, which must reach
// records whose access token has already expired.
func (s *Store) resolveRecord(ctx context.Context, tokenValue string) (*storage.Token, error) {
	token, err := s.getRecord(ctx, tokenValue)
	if err == nil {
		return token, nil
	}
	if err != storage.ErrTokenNotFound {
		return nil, err
	}

	indexKey := s.refreshIndexKey(tokenValue)
	accessToken, err := s.client.Do(ctx, s.client.B().Get().Key(indexKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token index: %w", err)
	}
	return s.getRecord(ctx, accessToken)
}
