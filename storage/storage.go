package storage

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/sentrygate/authority/internal/util"
	"github.com/sentrygate/authority/security"
)

// Default lifetimes for issued credentials and in-flight authorization
// artifacts. These apply when an entity is constructed without an
// explicit expiry.
const (
	DefaultAccessTokenTTL  = 10 * time.Minute
	DefaultRefreshTokenTTL = 60 * time.Minute
	DefaultArtifactTTL     = 5 * time.Minute
)

// Client represents a registered OAuth client application.
type Client struct {
	ClientID         string
	ClientSecretHash string // bcrypt hash, the plaintext is returned once at registration
	Name             string // normalized to lowercase, unique
	RedirectURIs     []string
	Scopes           []string
	GrantTypes       []string
	CreatedAt        time.Time
}

// SupportsGrant reports whether the client is registered for the given
// grant type.
func (c *Client) SupportsGrant(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirect reports whether uri exactly matches one of the client's
// registered redirect URIs.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// RedirectURI returns the client's primary redirect URI, or "" if none
// is registered.
func (c *Client) RedirectURI() string {
	if len(c.RedirectURIs) > 0 {
		return c.RedirectURIs[0]
	}
	return ""
}

// Token is the base for issued credentials. AccessToken and RefreshToken
// embed it as tagged variants sharing the same lifecycle fields.
type Token struct {
	Key         string // high-entropy, unique, immutable once set
	ClientID    string
	Scope       []string
	Expiry      time.Time // fixed at creation
	Compromised bool
	Processed   bool
	Revoked     bool
	CreatedAt   time.Time
}

// Expired reports whether the token is expired at the instant now. The
// boundary is inclusive: a token expiring exactly now is expired.
func (t *Token) Expired(now time.Time) bool {
	return security.ExpiredAt(t.Expiry, now)
}

// ExpiresIn returns the whole seconds remaining until expiry at the
// instant now; negative once the token has expired.
func (t *Token) ExpiresIn(now time.Time) int64 {
	return security.SecondsUntil(t.Expiry, now)
}

// AccessToken is a short-lived bearer credential.
type AccessToken struct {
	Token
}

// RefreshToken is a longer-lived credential used to obtain new access
// tokens. Refresh tokens are never rotated: the key stays constant while
// the scope may be overwritten on each refresh exchange.
type RefreshToken struct {
	Token
}

// NewAccessToken mints an access token for a client with a fresh random
// key and the given lifetime. A non-positive ttl falls back to
// DefaultAccessTokenTTL.
func NewAccessToken(clientID string, scope []string, ttl time.Duration) *AccessToken {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := time.Now()
	return &AccessToken{Token: Token{
		Key:       GenerateKey(),
		ClientID:  clientID,
		Scope:     scope,
		Expiry:    now.Add(ttl),
		CreatedAt: now,
	}}
}

// NewRefreshToken mints a refresh token for a client with a fresh random
// key and the given lifetime. A non-positive ttl falls back to
// DefaultRefreshTokenTTL.
func NewRefreshToken(clientID string, scope []string, ttl time.Duration) *RefreshToken {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	now := time.Now()
	return &RefreshToken{Token: Token{
		Key:       GenerateKey(),
		ClientID:  clientID,
		Scope:     scope,
		Expiry:    now.Add(ttl),
		CreatedAt: now,
	}}
}

// Artifact is the base for in-flight front-channel authorization state.
// InitialRequest and AuthorizationRequest embed it as tagged variants;
// the single-use and expiry rules apply uniformly to both.
type Artifact struct {
	Key       string // random, unique; for AuthorizationRequest this is the auth code value
	ClientID  string
	Query     url.Values // opaque capture of the original query parameters
	Scope     []string
	State     string // client-supplied anti-CSRF token
	Expiry    time.Time
	Processed bool
	CreatedAt time.Time
}

// Expired reports whether the artifact is expired at the instant now,
// with the same inclusive boundary as tokens.
func (a *Artifact) Expired(now time.Time) bool {
	return security.ExpiredAt(a.Expiry, now)
}

// InitialRequest tracks a consent page shown to the user on /authorize.
// It is consumed when the user submits a decision on /approve.
type InitialRequest struct {
	Artifact
}

// AuthorizationRequest represents an issued authorization code. Its key
// is the literal code value handed to the client, consumed on the
// subsequent authorization_code token exchange.
type AuthorizationRequest struct {
	Artifact
}

// NewInitialRequest creates an initial consent-tracking artifact. A
// non-positive ttl falls back to DefaultArtifactTTL.
func NewInitialRequest(clientID string, query url.Values, scope []string, state string, ttl time.Duration) *InitialRequest {
	return &InitialRequest{Artifact: newArtifact(clientID, query, scope, state, ttl)}
}

// NewAuthorizationRequest creates an authorization code artifact. A
// non-positive ttl falls back to DefaultArtifactTTL.
func NewAuthorizationRequest(clientID string, query url.Values, scope []string, state string, ttl time.Duration) *AuthorizationRequest {
	return &AuthorizationRequest{Artifact: newArtifact(clientID, query, scope, state, ttl)}
}

func newArtifact(clientID string, query url.Values, scope []string, state string, ttl time.Duration) Artifact {
	if ttl <= 0 {
		ttl = DefaultArtifactTTL
	}
	now := time.Now()
	return Artifact{
		Key:       GenerateKey(),
		ClientID:  clientID,
		Query:     query,
		Scope:     scope,
		State:     state,
		Expiry:    now.Add(ttl),
		CreatedAt: now,
	}
}

// GenerateKey produces a cryptographically secure, URL-safe random key
// suitable for token keys, authorization codes, and client secrets.
func GenerateKey() string {
	return oauth2.GenerateVerifier()
}

// KeyPrefix returns a short prefix of a key for logging. Keys must never
// be logged whole.
func KeyPrefix(key string) string {
	return util.SafeTruncate(key, 8)
}

// ClientStore manages OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a client. Fails with ErrClientNameTaken when
	// another client already holds the (normalized) name.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client registration. Existing tokens for the
	// client are deliberately left in place.
	DeleteClient(ctx context.Context, clientID string) error

	// ValidateClientSecret validates a client's secret. A wrong secret is
	// indistinguishable from an unknown client.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients.
	ListClients(ctx context.Context) ([]*Client, error)
}

// TokenStore manages issued access and refresh tokens.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveAccessToken persists an access token.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by key.
	GetAccessToken(ctx context.Context, key string) (*AccessToken, error)

	// RevokeAccessTokens marks every non-revoked access token owned by
	// the client as revoked (records are kept, not deleted). Returns the
	// number of tokens revoked.
	RevokeAccessTokens(ctx context.Context, clientID string) (int, error)

	// SaveRefreshToken persists a refresh token, overwriting any existing
	// record with the same key (used to rewrite scope on refresh).
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by key regardless of its
	// flags; callers decide how to treat compromised or revoked tokens.
	GetRefreshToken(ctx context.Context, key string) (*RefreshToken, error)

	// MarkRefreshTokenCompromised permanently flags a refresh token as
	// compromised. The record is kept so later presentations keep failing.
	MarkRefreshTokenCompromised(ctx context.Context, key string) error
}

// FlowStore manages front-channel authorization artifacts.
//
// Both consume operations are atomic conditional updates
// (processed=false -> true): under concurrent replay only one caller
// succeeds, the rest observe ErrArtifactProcessed.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveInitialRequest persists a consent-tracking artifact.
	SaveInitialRequest(ctx context.Context, req *InitialRequest) error

	// ConsumeInitialRequest atomically marks the artifact processed and
	// returns it. Fails with ErrArtifactNotFound, ErrArtifactProcessed,
	// or ErrArtifactExpired.
	ConsumeInitialRequest(ctx context.Context, key string) (*InitialRequest, error)

	// SaveAuthorizationRequest persists an issued authorization code.
	SaveAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) error

	// ConsumeAuthorizationRequest atomically marks the code processed and
	// returns it, additionally requiring that it belongs to clientID.
	// The client predicate is part of the conditional update: a mismatch
	// leaves the code unconsumed and fails with ErrClientMismatch.
	ConsumeAuthorizationRequest(ctx context.Context, key, clientID string) (*AuthorizationRequest, error)
}
