// Package authority is an OAuth2-style authorization server library. It
// issues, validates, and revokes access tokens, refresh tokens, and
// authorization codes on behalf of registered client applications.
//
// The root package provides the HTTP surface: the /authorize consent
// flow, the /approve decision endpoint, the /token exchange endpoint,
// and a small client management API. The protocol state machines live
// in the server package; storage backends live under storage.
package authority
