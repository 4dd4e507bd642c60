package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pre-built metric instruments for the server.
type Metrics struct {
	// Grant exchange metrics
	GrantExchanges metric.Int64Counter

	// Token lifecycle metrics
	TokensIssued  metric.Int64Counter
	TokensRevoked metric.Int64Counter

	// Security metrics
	CompromisedTokens metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Storage metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")

	var err error
	m.GrantExchanges, err = serverMeter.Int64Counter(
		"oauth.grant.exchanges",
		metric.WithDescription("Token endpoint exchanges by grant type and result"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.exchanges counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Access tokens minted, by channel"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokensRevoked, err = serverMeter.Int64Counter(
		"oauth.tokens.revoked",
		metric.WithDescription("Access tokens revoked by the issue-time sweep"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.revoked counter: %w", err)
	}

	m.CompromisedTokens, err = serverMeter.Int64Counter(
		"oauth.tokens.compromised",
		metric.WithDescription("Refresh tokens flagged as compromised"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.compromised counter: %w", err)
	}

	m.RateLimitExceeded, err = serverMeter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operations",
		metric.WithDescription("Storage operations by name and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordGrantExchange records a token endpoint exchange outcome
func (m *Metrics) RecordGrantExchange(ctx context.Context, grantType, result string) {
	if m == nil {
		return
	}
	m.GrantExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordTokenIssued records an access token mint
func (m *Metrics) RecordTokenIssued(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

// RecordTokensRevoked records access tokens revoked at issue time
func (m *Metrics) RecordTokensRevoked(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.TokensRevoked.Add(ctx, int64(count))
}

// RecordCompromisedToken records a compromised refresh token detection
func (m *Metrics) RecordCompromisedToken(ctx context.Context) {
	if m == nil {
		return
	}
	m.CompromisedTokens.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limited request
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", limiterType),
	))
}

// RecordStorageOperation records a storage operation with duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
