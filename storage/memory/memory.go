package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygate/authority/instrumentation"
	"github.com/sentrygate/authority/security"
	"github.com/sentrygate/authority/storage"
)

// dummyBcryptHash is compared against when a client does not exist, so
// secret validation takes the same time either way (bcrypt hash of "test").
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, TokenStore, and FlowStore.
type Store struct {
	mu sync.RWMutex

	clients     map[string]*storage.Client // client ID -> client
	clientNames map[string]string          // normalized name -> client ID

	accessTokens  map[string]*storage.AccessToken  // key -> token
	refreshTokens map[string]*storage.RefreshToken // key -> token

	initialRequests map[string]*storage.InitialRequest       // key -> artifact
	authRequests    map[string]*storage.AuthorizationRequest // key (auth code) -> artifact

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. A non-positive interval falls back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientNames:     make(map[string]string),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		initialRequests: make(map[string]*storage.InitialRequest),
		authRequests:    make(map[string]*storage.AuthorizationRequest),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient persists a client, enforcing name uniqueness
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.clientNames[client.Name]; taken && owner != client.ClientID {
		err = fmt.Errorf("%w: %s", storage.ErrClientNameTaken, client.Name)
		return err
	}

	// Saving under a changed name releases the old one.
	if existing, ok := s.clients[client.ClientID]; ok && existing.Name != client.Name {
		delete(s.clientNames, existing.Name)
	}

	s.clients[client.ClientID] = client
	s.clientNames[client.Name] = client.ClientID

	s.logger.Debug("Saved client", "client_id", client.ClientID, "name", client.Name)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	copied := *client
	return &copied, nil
}

// DeleteClient removes a client registration. Tokens issued to the
// client are left untouched.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	delete(s.clients, clientID)
	delete(s.clientNames, client.Name)

	s.logger.Debug("Deleted client", "client_id", clientID)
	return nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// Always performs a bcrypt comparison so an unknown client cannot be
// distinguished from a wrong secret by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyBcryptHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil || bcryptErr != nil {
		return storage.ErrInvalidCredentials
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists an access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Key == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[token.Key] = token
	s.logger.Debug("Saved access token",
		"client_id", token.ClientID,
		"key_prefix", storage.KeyPrefix(token.Key),
		"expiry", token.Expiry)
	return nil
}

// GetAccessToken retrieves an access token by key
func (s *Store) GetAccessToken(ctx context.Context, key string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[key]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	copied := *token
	return &copied, nil
}

// RevokeAccessTokens marks all non-revoked access tokens for a client
// as revoked. Records are kept so the revocation is observable.
func (s *Store) RevokeAccessTokens(ctx context.Context, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_access_tokens")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_access_tokens", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.accessTokens {
		if token.ClientID == clientID && !token.Revoked {
			token.Revoked = true
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Debug("Revoked access tokens", "client_id", clientID, "count", revoked)
	}

	return revoked, nil
}

// SaveRefreshToken persists a refresh token, overwriting any existing
// record with the same key
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Key == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens[token.Key] = token
	s.logger.Debug("Saved refresh token",
		"client_id", token.ClientID,
		"key_prefix", storage.KeyPrefix(token.Key),
		"scope", token.Scope)
	return nil
}

// GetRefreshToken retrieves a refresh token by key regardless of flags
func (s *Store) GetRefreshToken(ctx context.Context, key string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[key]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	copied := *token
	return &copied, nil
}

// MarkRefreshTokenCompromised permanently flags a refresh token. The
// record is kept so every later presentation keeps failing.
func (s *Store) MarkRefreshTokenCompromised(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[key]
	if !ok {
		return storage.ErrTokenNotFound
	}

	token.Compromised = true
	s.logger.Warn("Marked refresh token as compromised",
		"client_id", token.ClientID,
		"key_prefix", storage.KeyPrefix(key))
	return nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveInitialRequest persists a consent-tracking artifact
func (s *Store) SaveInitialRequest(ctx context.Context, req *storage.InitialRequest) error {
	if req == nil || req.Key == "" {
		return fmt.Errorf("invalid initial request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialRequests[req.Key] = req
	s.logger.Debug("Saved initial request",
		"client_id", req.ClientID,
		"key_prefix", storage.KeyPrefix(req.Key))
	return nil
}

// ConsumeInitialRequest atomically marks an initial request processed.
// Only one concurrent caller can succeed; the rest observe
// ErrArtifactProcessed.
func (s *Store) ConsumeInitialRequest(ctx context.Context, key string) (*storage.InitialRequest, error) {
	s.mu.Lock() // write lock: atomic check-and-set
	defer s.mu.Unlock()

	req, ok := s.initialRequests[key]
	if !ok {
		return nil, storage.ErrArtifactNotFound
	}
	if req.Processed {
		return nil, storage.ErrArtifactProcessed
	}
	if security.Expired(req.Expiry) {
		return nil, storage.ErrArtifactExpired
	}

	req.Processed = true
	s.logger.Debug("Consumed initial request", "key_prefix", storage.KeyPrefix(key))

	copied := *req
	return &copied, nil
}

// SaveAuthorizationRequest persists an issued authorization code
func (s *Store) SaveAuthorizationRequest(ctx context.Context, req *storage.AuthorizationRequest) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_request")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_request", err, startTime)
	}()

	if req == nil || req.Key == "" {
		err = fmt.Errorf("invalid authorization request")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.authRequests[req.Key] = req
	s.logger.Debug("Saved authorization request",
		"client_id", req.ClientID,
		"key_prefix", storage.KeyPrefix(req.Key))
	return nil
}

// ConsumeAuthorizationRequest atomically marks an authorization code
// processed, requiring the presenting client to match. A mismatch or a
// failed predicate leaves the code unconsumed.
func (s *Store) ConsumeAuthorizationRequest(ctx context.Context, key, clientID string) (*storage.AuthorizationRequest, error) {
	s.mu.Lock() // write lock: atomic check-and-set
	defer s.mu.Unlock()

	req, ok := s.authRequests[key]
	if !ok {
		return nil, storage.ErrArtifactNotFound
	}
	if req.Processed {
		return nil, storage.ErrArtifactProcessed
	}
	if req.ClientID != clientID {
		return nil, storage.ErrClientMismatch
	}
	if security.Expired(req.Expiry) {
		return nil, storage.ErrArtifactExpired
	}

	req.Processed = true
	s.logger.Debug("Consumed authorization request",
		"client_id", clientID,
		"key_prefix", storage.KeyPrefix(key))

	copied := *req
	return &copied, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired artifacts and expired token records. Revoked
// and compromised tokens are only removed once they are also expired,
// so the flags stay observable for their natural lifetime.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for key, token := range s.accessTokens {
		if security.Expired(token.Expiry) {
			delete(s.accessTokens, key)
			cleaned++
		}
	}

	for key, token := range s.refreshTokens {
		if security.Expired(token.Expiry) {
			delete(s.refreshTokens, key)
			cleaned++
		}
	}

	for key, req := range s.initialRequests {
		if req.Processed || security.Expired(req.Expiry) {
			delete(s.initialRequests, key)
			cleaned++
		}
	}

	for key, req := range s.authRequests {
		if req.Processed || security.Expired(req.Expiry) {
			delete(s.authRequests, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a span for a storage operation. With no
// instrumentation configured this is a no-op.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and
// sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
