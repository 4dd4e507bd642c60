package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentrygate/authority/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "auth:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100
)

// dummyBcryptHash is compared against when a client does not exist, so
// secret validation takes the same time either way (bcrypt hash of "test").
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "auth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements ClientStore, TokenStore, and FlowStore.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Key builders

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) clientNameKey(name string) string {
	return s.prefix + "clientname:" + name
}

func (s *Store) accessTokenKey(key string) string {
	return s.prefix + "access:" + key
}

func (s *Store) clientAccessSetKey(clientID string) string {
	return s.prefix + "clientaccess:" + clientID
}

func (s *Store) refreshTokenKey(key string) string {
	return s.prefix + "refresh:" + key
}

func (s *Store) initialRequestKey(key string) string {
	return s.prefix + "initreq:" + key
}

func (s *Store) authorizationRequestKey(key string) string {
	return s.prefix + "authreq:" + key
}

// calculateTTL returns the remaining lifetime of an entity, or 0 when
// it has already expired.
func calculateTTL(expiry time.Time) time.Duration {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// luaSaveClient atomically claims the client's name and stores the
// client record, releasing the previously held name on rename.
//
// KEYS[1] = name index key for the new name
// KEYS[2] = client record key
// KEYS[3] = name index key previously held (equal to KEYS[1] when unchanged)
// ARGV[1] = client ID
// ARGV[2] = serialized client record
const luaSaveClient = `
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
    return 'NAME_TAKEN'
end
if KEYS[3] ~= KEYS[1] then
    redis.call('DEL', KEYS[3])
end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[1], ARGV[1])
return 'OK'
`

// ============================================================
// ClientStore Implementation
// ============================================================

// clientJSON is the JSON representation of a stored client
type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash"`
	Name             string   `json:"name"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes"`
	GrantTypes       []string `json:"grant_types"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		Name:             c.Name,
		RedirectURIs:     c.RedirectURIs,
		Scopes:           c.Scopes,
		GrantTypes:       c.GrantTypes,
		CreatedAt:        c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		Name:             j.Name,
		RedirectURIs:     j.RedirectURIs,
		Scopes:           j.Scopes,
		GrantTypes:       j.GrantTypes,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// SaveClient persists a client, enforcing name uniqueness atomically.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	// The name index previously held by this client, released on rename.
	oldNameKey := s.clientNameKey(client.Name)
	if existing, err := s.GetClient(ctx, client.ClientID); err == nil && existing.Name != client.Name {
		oldNameKey = s.clientNameKey(existing.Name)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveClient).
			Numkeys(3).
			Key(s.clientNameKey(client.Name), s.clientKey(client.ClientID), oldNameKey).
			Arg(client.ClientID, string(data)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	if result == "NAME_TAKEN" {
		return fmt.Errorf("%w: %s", storage.ErrClientNameTaken, client.Name)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "name", client.Name)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// DeleteClient removes a client registration and its name index entry.
// Tokens issued to the client are left untouched.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.clientKey(clientID), s.clientNameKey(client.Name)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

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

// ListClients lists all registered clients via SCAN
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var clients []*storage.Client
	var cursor uint64

	pattern := s.prefix + "client:*"
	for {
		scan, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range scan.Elements {
			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client: %w", err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Skipping malformed client record", "key", key)
				continue
			}
			clients = append(clients, fromClientJSON(&j))
		}

		cursor = scan.Cursor
		if cursor == 0 {
			break
		}
	}

	return clients, nil
}

// queryJSON round-trips url.Values through JSON.
type queryJSON map[string][]string

func toQueryJSON(q url.Values) queryJSON {
	if q == nil {
		return nil
	}
	return queryJSON(q)
}

func fromQueryJSON(j queryJSON) url.Values {
	if j == nil {
		return nil
	}
	return url.Values(j)
}
