package server

import (
	"fmt"
	"net/url"
)

// Note: error code strings are intentionally duplicated from the root
// package's errors.go to avoid circular imports (root imports server,
// server can't import root). Keep these in sync with errors.go.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// Error is a protocol-level failure. When RedirectURI is set the error
// travels back to the client on the front channel as an error query
// parameter; otherwise it is returned directly as JSON with Status.
type Error struct {
	Code        string
	Description string
	Status      int
	RedirectURI string // when set, surface via 303 redirect instead of JSON
	State       string // echoed on redirect errors when present
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// RedirectURL builds the redirect location carrying the error, or ""
// when the error is not a redirect error.
func (e *Error) RedirectURL() string {
	if e.RedirectURI == "" {
		return ""
	}
	params := url.Values{"error": {e.Code}}
	if e.State != "" {
		params.Set("state", e.State)
	}
	return appendQuery(e.RedirectURI, params)
}

func newError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

func newRedirectError(code, redirectURI, state string) *Error {
	return &Error{Code: code, Status: 303, RedirectURI: redirectURI, State: state}
}

func errInvalidClient() *Error {
	return newError(ErrorCodeInvalidClient, "client authentication failed", 401)
}

// errServerError collapses a persistence failure to the generic protocol
// error. Backing-store detail is never surfaced to the client, and the
// HTTP layer stays at 400.
func errServerError() *Error {
	return newError(ErrorCodeServerError, "", 400)
}

// appendQuery appends params to a URL, preserving any query it already
// carries.
func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
