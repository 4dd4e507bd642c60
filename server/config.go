package server

import (
	"log/slog"
	"time"

	"github.com/sentrygate/authority/storage"
)

// Config holds server configuration
type Config struct {
	// Issuer is the server's externally visible base URL, used in
	// consent-page links and logging.
	Issuer string

	// AccessTokenTTL is the lifetime of issued access tokens.
	// Defaults to 10 minutes.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of issued refresh tokens.
	// Defaults to 60 minutes.
	RefreshTokenTTL time.Duration

	// ArtifactTTL is the lifetime of in-flight authorization artifacts
	// (consent requests and authorization codes). Defaults to 5 minutes.
	ArtifactTTL time.Duration

	// AuditEnabled turns on security audit logging.
	AuditEnabled bool
}

// applySecureDefaults fills unset fields with the default lifetimes and
// warns when a configured lifetime is unusually long.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	c := *config

	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = storage.DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = storage.DefaultRefreshTokenTTL
	}
	if c.ArtifactTTL <= 0 {
		c.ArtifactTTL = storage.DefaultArtifactTTL
	}

	if c.AccessTokenTTL > time.Hour {
		logger.Warn("Access token TTL exceeds one hour; consider a shorter lifetime",
			"ttl", c.AccessTokenTTL)
	}
	if c.ArtifactTTL > 10*time.Minute {
		logger.Warn("Authorization artifact TTL exceeds ten minutes; consider a shorter lifetime",
			"ttl", c.ArtifactTTL)
	}

	return &c
}
