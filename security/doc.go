// Package security provides cross-cutting security features for the
// authorization server: audit logging with PII hashing, per-identifier
// rate limiting, and uniform expiry-boundary checks.
package security
