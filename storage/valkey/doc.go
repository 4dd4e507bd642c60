// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// Key layout (under the configured prefix, default "auth:"):
//
//	client:<id>        registered client, JSON
//	clientname:<name>  client name uniqueness index -> client ID
//	access:<key>       access token, JSON, TTL = token lifetime
//	clientaccess:<id>  set of access token keys per client (revocation index)
//	refresh:<key>      refresh token, JSON, TTL = token lifetime
//	initreq:<key>      consent-tracking artifact, JSON, TTL = artifact lifetime
//	authreq:<key>      authorization code, JSON, TTL = artifact lifetime
//
// Expiry is enforced twice: Valkey TTLs reclaim storage, and the
// single-use consume scripts re-check the inclusive expiry boundary so
// an artifact expiring exactly now is rejected.
//
// The consume operations and bulk revocation run as Lua scripts so the
// check-and-mark step is atomic: under concurrent replay of a code or
// reqid exactly one caller succeeds.
package valkey
