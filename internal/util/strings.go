// Package util provides small shared helpers that don't belong to a
// domain-specific package.
package util

import "strings"

// SafeTruncate truncates s to at most maxLen characters without panicking.
// Token and code keys must never be logged whole; log a prefix instead.
// A negative maxLen is treated as 0.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeName lowercases and trims a client name. Client names are
// stored normalized so uniqueness is case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
