package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentrygate/authority/accounts"
	"github.com/sentrygate/authority/instrumentation"
	"github.com/sentrygate/authority/security"
	"github.com/sentrygate/authority/storage"
)

// Server coordinates the authorization and token issuance flows across
// the storage backends and the account store.
type Server struct {
	clientStore storage.ClientStore
	tokenStore  storage.TokenStore
	flowStore   storage.FlowStore
	users       accounts.Store

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // identifier-based limiter applied by the HTTP layer
	Logger      *slog.Logger
	Config      *Config

	instr *instrumentation.Instrumentation
}

// New creates a new authorization server. The account store may be nil,
// in which case the password grant is rejected for every client.
func New(
	clientStore storage.ClientStore,
	tokenStore storage.TokenStore,
	flowStore storage.FlowStore,
	users accounts.Store,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		clientStore: clientStore,
		tokenStore:  tokenStore,
		flowStore:   flowStore,
		users:       users,
		Config:      config,
		Logger:      logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the rate limiter applied by the HTTP layer
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instr = inst
}

// metrics returns the metrics holder, which is nil-safe to record on.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.instr == nil {
		return nil
	}
	return s.instr.Metrics()
}

// authenticateClient resolves a client by ID and validates its secret.
// A wrong secret is indistinguishable from an unknown client.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, *Error) {
	if clientID == "" {
		return nil, errInvalidClient()
	}

	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.Logger.Debug("Client authentication failed", "client_id", clientID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(clientID, ErrorCodeInvalidClient)
		}
		return nil, errInvalidClient()
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		return nil, errInvalidClient()
	}

	return client, nil
}

// ValidateAccessToken resolves an access token by its key and verifies
// it is live: present, not revoked, not compromised, not expired.
func (s *Server) ValidateAccessToken(ctx context.Context, key string) (*storage.AccessToken, error) {
	token, err := s.tokenStore.GetAccessToken(ctx, key)
	if err != nil {
		return nil, err
	}
	if token.Revoked {
		return nil, fmt.Errorf("access token revoked")
	}
	if token.Compromised {
		return nil, fmt.Errorf("access token compromised")
	}
	if security.Expired(token.Expiry) {
		return nil, fmt.Errorf("access token expired")
	}
	return token, nil
}
