package instrumentation

import (
	"context"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Error("metrics should be initialized")
	}
	if inst.Meter("server") == nil {
		t.Error("meter should never be nil")
	}
	if inst.Tracer("server") == nil {
		t.Error("tracer should never be nil")
	}
}

func TestNew_DisabledUsesNoopProviders(t *testing.T) {
	inst, err := New(Config{ServiceName: "authority-test", Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	// All record paths must be safe with no-op providers.
	inst.Metrics().RecordGrantExchange(ctx, "client_credentials", "success")
	inst.Metrics().RecordTokenIssued(ctx, "back")
	inst.Metrics().RecordTokensRevoked(ctx, 3)
	inst.Metrics().RecordCompromisedToken(ctx)
	inst.Metrics().RecordRateLimitExceeded(ctx, "ip")
	inst.Metrics().RecordStorageOperation(ctx, "save_access_token", "success", 1.5)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	// Nil metrics must not panic; components treat instrumentation as optional.
	m.RecordGrantExchange(ctx, "password", "error")
	m.RecordTokenIssued(ctx, "front")
	m.RecordTokensRevoked(ctx, 1)
	m.RecordStorageOperation(ctx, "get_client", "error", 0)
}
