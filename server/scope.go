package server

import (
	"net/url"
	"strings"
)

// scopeFormPrefix is the form-field prefix used by the consent page,
// one checkbox per scope ("scope_read", "scope_write", ...).
const scopeFormPrefix = "scope_"

// ScopeMismatch reports whether requested contains any scope not in
// granted. The check is an asymmetric set difference: order does not
// matter, and an empty requested list never mismatches.
func ScopeMismatch(requested, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		grantedSet[scope] = struct{}{}
	}
	for _, scope := range requested {
		if _, ok := grantedSet[scope]; !ok {
			return true
		}
	}
	return false
}

// ExtractScope parses a space-separated scope request and validates it
// against granted. An empty request defaults to the full grant. A
// request containing any scope outside granted returns nil; callers
// must treat nil as invalid_scope.
func ExtractScope(requestedRaw string, granted []string) []string {
	requested := strings.Fields(requestedRaw)
	if len(requested) == 0 {
		return granted
	}
	if ScopeMismatch(requested, granted) {
		return nil
	}
	return requested
}

// ScopesFromForm collects the scopes the user ticked on the consent
// form, identified by field names carrying the scope_ prefix.
func ScopesFromForm(form url.Values) []string {
	var scopes []string
	for field := range form {
		if name, ok := strings.CutPrefix(field, scopeFormPrefix); ok && name != "" {
			scopes = append(scopes, name)
		}
	}
	return scopes
}
