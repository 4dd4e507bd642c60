package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging. Identifiers that could expose
// end users are hashed before logging.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor. A nil logger falls back to
// slog.Default().
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserEmail string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_hash", hashForLogging(event.UserEmail),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful token mint
func (a *Auditor) LogTokenIssued(clientID, channel string, scope []string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		ClientID: clientID,
		Details: map[string]any{
			"channel": channel,
			"scope":   scope,
		},
	})
}

// LogAuthFailure logs a failed authentication or grant validation
func (a *Auditor) LogAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCompromisedToken logs detection of a refresh token presented by the
// wrong client. keyPrefix must already be truncated by the caller.
func (a *Auditor) LogCompromisedToken(clientID, keyPrefix string) {
	a.LogEvent(Event{
		Type:     "refresh_token_compromised",
		ClientID: clientID,
		Details: map[string]any{
			"key_prefix": keyPrefix,
			"severity":   "critical",
		},
	})
}

// LogClientRegistered logs a new client registration
func (a *Auditor) LogClientRegistered(clientID, name string) {
	a.LogEvent(Event{
		Type:     "client_registered",
		ClientID: clientID,
		Details: map[string]any{
			"name": name,
		},
	})
}

// LogClientDeleted logs a client deregistration
func (a *Auditor) LogClientDeleted(clientID string) {
	a.LogEvent(Event{
		Type:     "client_deleted",
		ClientID: clientID,
	})
}

// LogAccessDenied logs an explicit user denial on the consent page
func (a *Auditor) LogAccessDenied(clientID string) {
	a.LogEvent(Event{
		Type:     "access_denied",
		ClientID: clientID,
	})
}

// hashForLogging produces a short stable hash of an identifier so events
// can be correlated without logging the identifier itself.
func hashForLogging(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
