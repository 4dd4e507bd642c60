package authority

import (
	"fmt"
	"net/http"
)

// OAuth error codes as constants.
// Note: these strings are duplicated in the server package to avoid
// circular imports (this package imports server, server can't import
// this one). Keep both lists in sync.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common error constructors

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
}

// ErrInvalidClient creates an invalid_client error
func ErrInvalidClient(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClient, description, http.StatusUnauthorized)
}

// ErrInvalidGrant creates an invalid_grant error
func ErrInvalidGrant(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidGrant, description, http.StatusBadRequest)
}

// ErrInvalidScope creates an invalid_scope error
func ErrInvalidScope(description string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidScope, description, http.StatusBadRequest)
}

// ErrUnsupportedGrantType creates an unsupported_grant_type error
func ErrUnsupportedGrantType(grantType string) *OAuthError {
	return NewOAuthError(ErrorCodeUnsupportedGrantType,
		fmt.Sprintf("grant type %q is not supported", grantType),
		http.StatusBadRequest)
}

// ErrServerError creates a server_error. The protocol keeps these at
// HTTP 400; backing-store failures are never surfaced as 5xx.
func ErrServerError() *OAuthError {
	return NewOAuthError(ErrorCodeServerError, "", http.StatusBadRequest)
}

// ErrRateLimitExceeded creates a rate limit error
func ErrRateLimitExceeded() *OAuthError {
	return NewOAuthError(ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
}
