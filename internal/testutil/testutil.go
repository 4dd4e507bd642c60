package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygate/authority/storage"
)

// TestClientSecret is the plaintext secret every GenerateTestClient
// fixture validates against.
const TestClientSecret = "test-client-secret"

// testSecretHash is bcrypt(TestClientSecret) at MinCost, precomputed so
// fixtures stay cheap in table-driven tests.
var testSecretHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()

// GenerateTestClient creates a test client supporting all grant types
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:         "test-client-" + GenerateRandomString(8),
		ClientSecretHash: testSecretHash,
		Name:             "test client " + GenerateRandomString(8),
		RedirectURIs:     []string{"https://client.example.com/callback"},
		Scopes:           []string{"read", "write"},
		GrantTypes: []string{
			"authorization_code",
			"refresh_token",
			"client_credentials",
			"password",
		},
		CreatedAt: time.Now(),
	}
}

// GenerateTestAccessToken creates a live test access token
func GenerateTestAccessToken(clientID string) *storage.AccessToken {
	return storage.NewAccessToken(clientID, []string{"read"}, storage.DefaultAccessTokenTTL)
}

// GenerateTestRefreshToken creates a live test refresh token
func GenerateTestRefreshToken(clientID string, scope []string) *storage.RefreshToken {
	return storage.NewRefreshToken(clientID, scope, storage.DefaultRefreshTokenTTL)
}

// GenerateTestAuthorizationRequest creates a live test authorization code
func GenerateTestAuthorizationRequest(clientID string, scope []string) *storage.AuthorizationRequest {
	return storage.NewAuthorizationRequest(clientID, nil, scope, "test-state", storage.DefaultArtifactTTL)
}

// GenerateRandomString creates a random string of the given length for testing
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
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
		t.Fatal("expected error, got nil")
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
		t.Error(message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Error(message)
	}
}
