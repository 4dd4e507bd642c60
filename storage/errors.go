package storage

import "errors"

// Typed errors returned by storage implementations. Callers distinguish
// protocol-relevant conditions (not found, already processed, expired)
// from transient backend failures by matching these with errors.Is.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientNameTaken indicates another client holds the normalized name
	ErrClientNameTaken = errors.New("client name already taken")

	// ErrInvalidCredentials indicates the client secret did not match.
	// Deliberately indistinguishable from an unknown client at the
	// protocol layer.
	ErrInvalidCredentials = errors.New("invalid client credentials")

	// ErrTokenNotFound indicates no token exists for the given key
	ErrTokenNotFound = errors.New("token not found")

	// ErrArtifactNotFound indicates no authorization artifact exists for the key
	ErrArtifactNotFound = errors.New("authorization artifact not found")

	// ErrArtifactProcessed indicates the artifact was already consumed
	// (single-use violation, possible replay)
	ErrArtifactProcessed = errors.New("authorization artifact already processed")

	// ErrArtifactExpired indicates the artifact's expiry has passed
	ErrArtifactExpired = errors.New("authorization artifact expired")

	// ErrClientMismatch indicates an authorization code was presented by
	// a client other than the one it was issued to
	ErrClientMismatch = errors.New("artifact client mismatch")
)
