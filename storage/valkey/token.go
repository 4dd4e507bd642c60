package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentrygate/authority/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// tokenJSON is the JSON representation of a stored token. The field
// names are shared with the Lua scripts; keep them in sync.
type tokenJSON struct {
	Key         string   `json:"key"`
	ClientID    string   `json:"client_id"`
	Scope       []string `json:"scope"`
	Expiry      int64    `json:"expiry"`
	Compromised bool     `json:"compromised"`
	Processed   bool     `json:"processed"`
	Revoked     bool     `json:"revoked"`
	CreatedAt   int64    `json:"created_at"`
}

func toTokenJSON(t *storage.Token) *tokenJSON {
	return &tokenJSON{
		Key:         t.Key,
		ClientID:    t.ClientID,
		Scope:       t.Scope,
		Expiry:      t.Expiry.Unix(),
		Compromised: t.Compromised,
		Processed:   t.Processed,
		Revoked:     t.Revoked,
		CreatedAt:   t.CreatedAt.Unix(),
	}
}

func fromTokenJSON(j *tokenJSON) storage.Token {
	return storage.Token{
		Key:         j.Key,
		ClientID:    j.ClientID,
		Scope:       j.Scope,
		Expiry:      time.Unix(j.Expiry, 0),
		Compromised: j.Compromised,
		Processed:   j.Processed,
		Revoked:     j.Revoked,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
	}
}

// luaRevokeClientTokens marks every live access token in the client's
// index set as revoked, pruning index entries whose tokens have already
// been reclaimed by TTL. Returns the number of tokens revoked.
//
// An empty scope array is dropped before re-encoding: cjson would
// otherwise turn it into a JSON object, which no longer unmarshals
// into the Go scope slice.
//
// KEYS[1] = client access token index set
// ARGV[1] = access token key prefix
const luaRevokeClientTokens = `
local members = redis.call('SMEMBERS', KEYS[1])
local revoked = 0
for _, member in ipairs(members) do
    local key = ARGV[1] .. member
    local data = redis.call('GET', key)
    if not data then
        redis.call('SREM', KEYS[1], member)
    else
        local token = cjson.decode(data)
        if not token.revoked then
            token.revoked = true
            if type(token.scope) == 'table' and next(token.scope) == nil then
                token.scope = nil
            end
            redis.call('SET', key, cjson.encode(token), 'KEEPTTL')
            revoked = revoked + 1
        end
    end
end
return revoked
`

// luaMarkCompromised flags a refresh token as compromised in place,
// keeping its TTL. Empty scope arrays are dropped before re-encoding,
// as in luaRevokeClientTokens.
//
// KEYS[1] = refresh token key
const luaMarkCompromised = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local token = cjson.decode(data)
token.compromised = true
if type(token.scope) == 'table' and next(token.scope) == nil then
    token.scope = nil
end
redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')
return 'OK'
`

// SaveAccessToken persists an access token with a TTL matching its
// expiry and records it in the client's revocation index.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Key == "" {
		return fmt.Errorf("invalid access token")
	}

	data, err := json.Marshal(toTokenJSON(&token.Token))
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	ttl := calculateTTL(token.Expiry)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.accessTokenKey(token.Key)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	// Revocation index; pruned lazily by the revoke script.
	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(s.clientAccessSetKey(token.ClientID)).Member(token.Key).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"key_prefix", storage.KeyPrefix(token.Key),
		"expiry", token.Expiry)
	return nil
}

// GetAccessToken retrieves an access token by key
func (s *Store) GetAccessToken(ctx context.Context, key string) (*storage.AccessToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.accessTokenKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	return &storage.AccessToken{Token: fromTokenJSON(&j)}, nil
}

// RevokeAccessTokens marks all non-revoked access tokens for a client
// as revoked. Runs as a single Lua script over the client's index set.
func (s *Store) RevokeAccessTokens(ctx context.Context, clientID string) (int, error) {
	revoked, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRevokeClientTokens).
			Numkeys(1).
			Key(s.clientAccessSetKey(clientID)).
			Arg(s.prefix + "access:").
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke access tokens: %w", err)
	}

	if revoked > 0 {
		s.logger.Debug("Revoked access tokens", "client_id", clientID, "count", revoked)
	}
	return int(revoked), nil
}

// SaveRefreshToken persists a refresh token, overwriting any existing
// record with the same key
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Key == "" {
		return fmt.Errorf("invalid refresh token")
	}

	data, err := json.Marshal(toTokenJSON(&token.Token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := calculateTTL(token.Expiry)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.refreshTokenKey(token.Key)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"client_id", token.ClientID,
		"key_prefix", storage.KeyPrefix(token.Key),
		"scope", token.Scope)
	return nil
}

// GetRefreshToken retrieves a refresh token by key regardless of flags
func (s *Store) GetRefreshToken(ctx context.Context, key string) (*storage.RefreshToken, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshTokenKey(key)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	return &storage.RefreshToken{Token: fromTokenJSON(&j)}, nil
}

// MarkRefreshTokenCompromised permanently flags a refresh token. The
// record keeps its TTL so the flag stays observable for the token's
// natural lifetime.
func (s *Store) MarkRefreshTokenCompromised(ctx context.Context, key string) error {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkCompromised).
			Numkeys(1).
			Key(s.refreshTokenKey(key)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to mark refresh token compromised: %w", err)
	}
	if result == "NOT_FOUND" {
		return storage.ErrTokenNotFound
	}

	s.logger.Warn("Marked refresh token as compromised",
		"key_prefix", storage.KeyPrefix(key))
	return nil
}
