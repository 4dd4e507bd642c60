package authority

import "time"

// ErrorResponse is the JSON error body returned by every endpoint.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ClientRegistrationRequest is the body of POST /clients.
type ClientRegistrationRequest struct {
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
}

// ClientRegistrationResponse is the one-time response to a successful
// registration. The client_secret is returned here and never again.
type ClientRegistrationResponse struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes,omitempty"`
	GrantTypes   []string  `json:"grant_types,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClientSummary is the redacted client representation returned by
// GET /clients. Secrets and their hashes are never listed.
type ClientSummary struct {
	ClientID     string    `json:"client_id"`
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes,omitempty"`
	GrantTypes   []string  `json:"grant_types,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
