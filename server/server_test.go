package server

import (
	"context"
	"testing"
	"time"

	"github.com/sentrygate/authority/accounts"
	"github.com/sentrygate/authority/internal/testutil"
	"github.com/sentrygate/authority/storage"
	"github.com/sentrygate/authority/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	users := accounts.NewMemoryStore()
	if err := users.AddUser(accounts.User{ID: "u1", Email: "alice@example.com", Name: "Alice"}, "hunter2"); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	srv, err := New(store, store, store, users, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv, store
}

func seedClient(t *testing.T, store *memory.Store) *storage.Client {
	t.Helper()
	client := testutil.GenerateTestClient()
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	return client
}

func testCredentials(client *storage.Client) ClientCredentials {
	return ClientCredentials{ID: client.ClientID, Secret: testutil.TestClientSecret}
}

func TestNewValidation(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	if _, err := New(nil, store, store, nil, nil, nil); err == nil {
		t.Error("expected error for nil client store")
	}
	if _, err := New(store, nil, store, nil, nil, nil); err == nil {
		t.Error("expected error for nil token store")
	}
	if _, err := New(store, store, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil flow store")
	}

	// Nil users, config, and logger are all allowed
	srv, err := New(store, store, store, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if srv.Config.AccessTokenTTL != storage.DefaultAccessTokenTTL {
		t.Errorf("AccessTokenTTL = %v, want default", srv.Config.AccessTokenTTL)
	}
	if srv.Config.RefreshTokenTTL != storage.DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %v, want default", srv.Config.RefreshTokenTTL)
	}
	if srv.Config.ArtifactTTL != storage.DefaultArtifactTTL {
		t.Errorf("ArtifactTTL = %v, want default", srv.Config.ArtifactTTL)
	}
}

func TestValidateAccessToken(t *testing.T) {
	srv, store := newTestServer(t)
	client := seedClient(t, store)
	ctx := context.Background()

	token := storage.NewAccessToken(client.ClientID, []string{"read"}, storage.DefaultAccessTokenTTL)
	if err := store.SaveAccessToken(ctx, token); err != nil {
		t.Fatalf("SaveAccessToken failed: %v", err)
	}

	got, err := srv.ValidateAccessToken(ctx, token.Key)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if got.ClientID != client.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, client.ClientID)
	}

	// Unknown key
	if _, err := srv.ValidateAccessToken(ctx, "missing"); err == nil {
		t.Error("expected error for unknown token")
	}

	// Revoked
	if _, err := store.RevokeAccessTokens(ctx, client.ClientID); err != nil {
		t.Fatalf("RevokeAccessTokens failed: %v", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, token.Key); err == nil {
		t.Error("expected error for revoked token")
	}

	// Expired
	expired := storage.NewAccessToken(client.ClientID, []string{"read"}, storage.DefaultAccessTokenTTL)
	expired.Expiry = time.Now().Add(-time.Second)
	if err := store.SaveAccessToken(ctx, expired); err != nil {
		t.Fatalf("SaveAccessToken failed: %v", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, expired.Key); err == nil {
		t.Error("expected error for expired token")
	}
}
