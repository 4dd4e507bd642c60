package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditor_LogEvent(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogTokenIssued("client-1", "back", []string{"read"})

	out := buf.String()
	if !strings.Contains(out, "security_audit") {
		t.Errorf("expected security_audit entry, got: %s", out)
	}
	if !strings.Contains(out, "token_issued") {
		t.Errorf("expected token_issued event type, got: %s", out)
	}
	if !strings.Contains(out, "client-1") {
		t.Errorf("expected client id in output, got: %s", out)
	}
}

func TestAuditor_Disabled(t *testing.T) {
	auditor, buf := newTestAuditor(false)

	auditor.LogAuthFailure("client-1", "invalid_client")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor should not log, got: %s", buf.String())
	}
}

func TestAuditor_HashesUserIdentity(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogEvent(Event{Type: "auth_failure", UserEmail: "alice@example.com"})

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Errorf("user email must not appear in audit log: %s", out)
	}
}

func TestAuditor_NilReceiver(t *testing.T) {
	var auditor *Auditor
	// Must not panic.
	auditor.LogEvent(Event{Type: "noop"})
	auditor.LogAuthFailure("", "")
}

func TestHashForLogging(t *testing.T) {
	if hashForLogging("") != "" {
		t.Error("empty input should hash to empty string")
	}
	a, b := hashForLogging("alice"), hashForLogging("alice")
	if a != b {
		t.Error("hash should be stable")
	}
	if a == "alice" {
		t.Error("hash should not be the identity")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
