package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentrygate/authority/storage"
)

// ============================================================
// FlowStore Implementation
// ============================================================

// artifactJSON is the JSON representation of a stored authorization
// artifact. The field names are shared with the Lua scripts; keep them
// in sync.
type artifactJSON struct {
	Key       string    `json:"key"`
	ClientID  string    `json:"client_id"`
	Query     queryJSON `json:"query,omitempty"`
	Scope     []string  `json:"scope"`
	State     string    `json:"state"`
	Expiry    int64     `json:"expiry"`
	Processed bool      `json:"processed"`
	CreatedAt int64     `json:"created_at"`
}

func toArtifactJSON(a *storage.Artifact) *artifactJSON {
	return &artifactJSON{
		Key:       a.Key,
		ClientID:  a.ClientID,
		Query:     toQueryJSON(a.Query),
		Scope:     a.Scope,
		State:     a.State,
		Expiry:    a.Expiry.Unix(),
		Processed: a.Processed,
		CreatedAt: a.CreatedAt.Unix(),
	}
}

func fromArtifactJSON(j *artifactJSON) storage.Artifact {
	return storage.Artifact{
		Key:       j.Key,
		ClientID:  j.ClientID,
		Query:     fromQueryJSON(j.Query),
		Scope:     j.Scope,
		State:     j.State,
		Expiry:    time.Unix(j.Expiry, 0),
		Processed: j.Processed,
		CreatedAt: time.Unix(j.CreatedAt, 0),
	}
}

// luaConsumeInitialRequest atomically marks an initial request
// processed. Only one concurrent caller can succeed. The expiry check
// uses the inclusive boundary: an artifact expiring exactly now is
// expired.
//
// KEYS[1] = initial request key
// ARGV[1] = current Unix timestamp in seconds
const luaConsumeInitialRequest = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local artifact = cjson.decode(data)
if artifact.processed then
    return 'PROCESSED'
end
local now = tonumber(ARGV[1])
if artifact.expiry and now >= artifact.expiry then
    return 'EXPIRED'
end
artifact.processed = true
redis.call('SET', KEYS[1], cjson.encode(artifact), 'KEEPTTL')
return data
`

// luaConsumeAuthorizationRequest additionally requires the presenting
// client to match. The client predicate is part of the atomic update: a
// mismatch leaves the code unconsumed.
//
// KEYS[1] = authorization request key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = presenting client ID
const luaConsumeAuthorizationRequest = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end
local artifact = cjson.decode(data)
if artifact.processed then
    return 'PROCESSED'
end
if artifact.client_id ~= ARGV[2] then
    return 'CLIENT_MISMATCH'
end
local now = tonumber(ARGV[1])
if artifact.expiry and now >= artifact.expiry then
    return 'EXPIRED'
end
artifact.processed = true
redis.call('SET', KEYS[1], cjson.encode(artifact), 'KEEPTTL')
return data
`

// SaveInitialRequest persists a consent-tracking artifact with a TTL
// matching its expiry
func (s *Store) SaveInitialRequest(ctx context.Context, req *storage.InitialRequest) error {
	if req == nil || req.Key == "" {
		return fmt.Errorf("invalid initial request")
	}
	return s.saveArtifact(ctx, s.initialRequestKey(req.Key), &req.Artifact, "initial request")
}

// ConsumeInitialRequest atomically marks an initial request processed
func (s *Store) ConsumeInitialRequest(ctx context.Context, key string) (*storage.InitialRequest, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeInitialRequest).
			Numkeys(1).
			Key(s.initialRequestKey(key)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to consume initial request: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrArtifactNotFound
	case "PROCESSED":
		return nil, storage.ErrArtifactProcessed
	case "EXPIRED":
		return nil, storage.ErrArtifactExpired
	}

	var j artifactJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal initial request: %w", err)
	}

	artifact := fromArtifactJSON(&j)
	artifact.Processed = true
	s.logger.Debug("Consumed initial request", "key_prefix", storage.KeyPrefix(key))
	return &storage.InitialRequest{Artifact: artifact}, nil
}

// SaveAuthorizationRequest persists an issued authorization code with a
// TTL matching its expiry
func (s *Store) SaveAuthorizationRequest(ctx context.Context, req *storage.AuthorizationRequest) error {
	if req == nil || req.Key == "" {
		return fmt.Errorf("invalid authorization request")
	}
	return s.saveArtifact(ctx, s.authorizationRequestKey(req.Key), &req.Artifact, "authorization request")
}

// ConsumeAuthorizationRequest atomically marks an authorization code
// processed, requiring the presenting client to match
func (s *Store) ConsumeAuthorizationRequest(ctx context.Context, key, clientID string) (*storage.AuthorizationRequest, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeAuthorizationRequest).
			Numkeys(1).
			Key(s.authorizationRequestKey(key)).
			Arg(fmt.Sprintf("%d", time.Now().Unix()), clientID).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization request: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrArtifactNotFound
	case "PROCESSED":
		return nil, storage.ErrArtifactProcessed
	case "CLIENT_MISMATCH":
		return nil, storage.ErrClientMismatch
	case "EXPIRED":
		return nil, storage.ErrArtifactExpired
	}

	var j artifactJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization request: %w", err)
	}

	artifact := fromArtifactJSON(&j)
	artifact.Processed = true
	s.logger.Debug("Consumed authorization request",
		"client_id", clientID,
		"key_prefix", storage.KeyPrefix(key))
	return &storage.AuthorizationRequest{Artifact: artifact}, nil
}

func (s *Store) saveArtifact(ctx context.Context, storeKey string, artifact *storage.Artifact, kind string) error {
	data, err := json.Marshal(toArtifactJSON(artifact))
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	ttl := calculateTTL(artifact.Expiry)
	if ttl <= 0 {
		return fmt.Errorf("%s already expired", kind)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(storeKey).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save %s: %w", kind, err)
	}

	s.logger.Debug("Saved "+kind,
		"client_id", artifact.ClientID,
		"key_prefix", storage.KeyPrefix(artifact.Key))
	return nil
}
