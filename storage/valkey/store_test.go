package valkey

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygate/authority/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if no instance is reachable. Each test gets a unique
// prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("authtest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Valkey not available at %s: %v", addr, err)
	}
	t.Cleanup(store.Close)
	return store
}

func testClient(t *testing.T, id, name string) *storage.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return &storage.Client{
		ClientID:         id,
		ClientSecretHash: string(hash),
		Name:             name,
		RedirectURIs:     []string{"https://client.example.com/callback"},
		Scopes:           []string{"read", "write"},
		GrantTypes:       []string{"authorization_code", "client_credentials"},
		CreatedAt:        time.Now(),
	}
}

func TestNewMissingAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCalculateTTL(t *testing.T) {
	assert.Equal(t, time.Duration(0), calculateTTL(time.Now().Add(-time.Minute)))
	assert.Equal(t, time.Duration(0), calculateTTL(time.Now()))
	assert.Greater(t, calculateTTL(time.Now().Add(time.Minute)), 50*time.Second)
}

func TestKeyBuilders(t *testing.T) {
	s := &Store{prefix: "auth:"}
	assert.Equal(t, "auth:client:c1", s.clientKey("c1"))
	assert.Equal(t, "auth:clientname:app", s.clientNameKey("app"))
	assert.Equal(t, "auth:access:k1", s.accessTokenKey("k1"))
	assert.Equal(t, "auth:clientaccess:c1", s.clientAccessSetKey("c1"))
	assert.Equal(t, "auth:refresh:k1", s.refreshTokenKey("k1"))
	assert.Equal(t, "auth:initreq:k1", s.initialRequestKey("k1"))
	assert.Equal(t, "auth:authreq:k1", s.authorizationRequestKey("k1"))
}

func TestClientRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testClient(t, "client-1", "widget app")
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "widget app", got.Name)
	assert.Equal(t, client.Scopes, got.Scopes)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestClientNameUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClient(ctx, testClient(t, "client-1", "taken")))

	err := s.SaveClient(ctx, testClient(t, "client-2", "taken"))
	assert.ErrorIs(t, err, storage.ErrClientNameTaken)

	// Rename releases the old name
	renamed := testClient(t, "client-1", "renamed")
	require.NoError(t, s.SaveClient(ctx, renamed))
	require.NoError(t, s.SaveClient(ctx, testClient(t, "client-2", "taken")))
}

func TestValidateClientSecretValkey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClient(ctx, testClient(t, "client-1", "app")))

	assert.NoError(t, s.ValidateClientSecret(ctx, "client-1", "s3cret"))
	assert.ErrorIs(t, s.ValidateClientSecret(ctx, "client-1", "wrong"), storage.ErrInvalidCredentials)
	assert.ErrorIs(t, s.ValidateClientSecret(ctx, "ghost", "s3cret"), storage.ErrInvalidCredentials)
}

func TestDeleteClientValkey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClient(ctx, testClient(t, "client-1", "doomed")))
	require.NoError(t, s.DeleteClient(ctx, "client-1"))

	_, err := s.GetClient(ctx, "client-1")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	assert.ErrorIs(t, s.DeleteClient(ctx, "client-1"), storage.ErrClientNotFound)

	// Name freed
	require.NoError(t, s.SaveClient(ctx, testClient(t, "client-2", "doomed")))
}

func TestListClientsValkey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("client-%d", i)
		require.NoError(t, s.SaveClient(ctx, testClient(t, id, id)))
	}

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 3)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := storage.NewAccessToken("client-1", []string{"read"}, time.Minute)
	require.NoError(t, s.SaveAccessToken(ctx, token))

	got, err := s.GetAccessToken(ctx, token.Key)
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, []string{"read"}, got.Scope)
	assert.False(t, got.Revoked)

	_, err = s.GetAccessToken(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestSaveExpiredTokenFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := storage.NewAccessToken("client-1", []string{"read"}, time.Minute)
	token.Expiry = time.Now().Add(-time.Second)
	assert.Error(t, s.SaveAccessToken(ctx, token))
}

func TestRevokeAccessTokensValkey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		token := storage.NewAccessToken("client-1", []string{"read"}, time.Minute)
		require.NoError(t, s.SaveAccessToken(ctx, token))
		keys = append(keys, token.Key)
	}
	other := storage.NewAccessToken("client-2", []string{"read"}, time.Minute)
	require.NoError(t, s.SaveAccessToken(ctx, other))

	revoked, err := s.RevokeAccessTokens(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 3, revoked)

	for _, key := range keys {
		got, err := s.GetAccessToken(ctx, key)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	}

	// Idempotent second pass
	revoked, err = s.RevokeAccessTokens(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 0, revoked)

	// Other client untouched
	got, err := s.GetAccessToken(ctx, other.Key)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}

func TestRevokeAccessTokensEmptyScope(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// The revoke script decodes and re-encodes the stored JSON; an
	// empty scope list must survive the round trip readable.
	token := storage.NewAccessToken("client-1", []string{}, time.Minute)
	require.NoError(t, s.SaveAccessToken(ctx, token))

	revoked, err := s.RevokeAccessTokens(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	got, err := s.GetAccessToken(ctx, token.Key)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Empty(t, got.Scope)
}

func TestMarkCompromisedEmptyScope(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := storage.NewRefreshToken("client-1", []string{}, time.Hour)
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	require.NoError(t, s.MarkRefreshTokenCompromised(ctx, token.Key))

	got, err := s.GetRefreshToken(ctx, token.Key)
	require.NoError(t, err)
	assert.True(t, got.Compromised)
	assert.Empty(t, got.Scope)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := storage.NewRefreshToken("client-1", []string{"read", "write"}, time.Hour)
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	got, err := s.GetRefreshToken(ctx, token.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, got.Scope)

	// Scope overwrite keeps the key
	got.Scope = []string{"read"}
	require.NoError(t, s.SaveRefreshToken(ctx, got))

	again, err := s.GetRefreshToken(ctx, token.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, again.Scope)
}

func TestMarkRefreshTokenCompromisedValkey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := storage.NewRefreshToken("client-1", []string{"read"}, time.Hour)
	require.NoError(t, s.SaveRefreshToken(ctx, token))

	require.NoError(t, s.MarkRefreshTokenCompromised(ctx, token.Key))

	got, err := s.GetRefreshToken(ctx, token.Key)
	require.NoError(t, err)
	assert.True(t, got.Compromised)

	assert.ErrorIs(t, s.MarkRefreshTokenCompromised(ctx, "missing"), storage.ErrTokenNotFound)
}

func TestQueryJSONRoundTrip(t *testing.T) {
	q := url.Values{"response_type": {"code"}, "scope": {"read write"}}
	assert.Equal(t, q, fromQueryJSON(toQueryJSON(q)))
	assert.Nil(t, fromQueryJSON(toQueryJSON(nil)))
}
