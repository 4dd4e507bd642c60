// Package instrumentation provides OpenTelemetry metrics and tracing
// for the authorization server. With instrumentation disabled, no-op
// providers are used and the overhead is negligible.
package instrumentation
