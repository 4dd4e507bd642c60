package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygate/authority/internal/util"
	"github.com/sentrygate/authority/storage"
)

// ClientRegistration is a request to register a new client application.
type ClientRegistration struct {
	Name         string
	RedirectURIs []string
	Scopes       []string
	GrantTypes   []string
}

// RegisteredClient is the one-time registration response. The plaintext
// secret is returned here and never again; only its hash is stored.
type RegisteredClient struct {
	ClientID     string
	ClientSecret string
	Name         string
	RedirectURIs []string
	Scopes       []string
	GrantTypes   []string
	CreatedAt    time.Time
}

// RegisterClient registers a client application, generating its ID and
// secret. Names are normalized to lowercase and must be unique.
func (s *Server) RegisterClient(ctx context.Context, reg *ClientRegistration) (*RegisteredClient, *Error) {
	name := util.NormalizeName(reg.Name)
	if name == "" {
		return nil, newError(ErrorCodeInvalidRequest, "client name is required", 400)
	}
	if len(reg.RedirectURIs) == 0 {
		return nil, newError(ErrorCodeInvalidRequest, "at least one redirect URI is required", 400)
	}

	secret := storage.GenerateKey()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		s.Logger.Error("Failed to hash client secret", "error", err)
		return nil, errServerError()
	}

	client := &storage.Client{
		ClientID:         uuid.NewString(),
		ClientSecretHash: string(hash),
		Name:             name,
		RedirectURIs:     reg.RedirectURIs,
		Scopes:           reg.Scopes,
		GrantTypes:       reg.GrantTypes,
		CreatedAt:        time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrClientNameTaken) {
			return nil, newError(ErrorCodeInvalidRequest, "client name already taken", 400)
		}
		s.Logger.Error("Failed to save client", "error", err)
		return nil, errServerError()
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.Name)
	}
	s.Logger.Info("Registered client", "client_id", client.ClientID, "name", client.Name)

	return &RegisteredClient{
		ClientID:     client.ClientID,
		ClientSecret: secret,
		Name:         client.Name,
		RedirectURIs: client.RedirectURIs,
		Scopes:       client.Scopes,
		GrantTypes:   client.GrantTypes,
		CreatedAt:    client.CreatedAt,
	}, nil
}

// DeregisterClient removes a client registration. Tokens already issued
// to the client are deliberately left in place.
func (s *Server) DeregisterClient(ctx context.Context, clientID string) *Error {
	if err := s.clientStore.DeleteClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return newError(ErrorCodeInvalidRequest, "unknown client", 404)
		}
		s.Logger.Error("Failed to delete client", "client_id", clientID, "error", err)
		return errServerError()
	}

	if s.Auditor != nil {
		s.Auditor.LogClientDeleted(clientID)
	}
	s.Logger.Info("Deregistered client", "client_id", clientID)
	return nil
}

// ListClients lists all registered clients. Secret hashes are not
// exposed; the HTTP layer maps these to a redacted representation.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, *Error) {
	clients, err := s.clientStore.ListClients(ctx)
	if err != nil {
		s.Logger.Error("Failed to list clients", "error", err)
		return nil, errServerError()
	}
	return clients, nil
}
