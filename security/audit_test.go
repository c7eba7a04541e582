package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newCapturedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return NewAuditor(logger, enabled), buf
}

func TestAuditorLogsEvents(t *testing.T) {
	auditor, buf := newCapturedAuditor(true)

	auditor.LogTokenIssued("user-1", "app-1", "team-1", []string{"transactions.read"})

	out := buf.String()
	if !strings.Contains(out, "token_issued") {
		t.Errorf("expected token_issued event, got %q", out)
	}
	if strings.Contains(out, `"user-1"`) {
		t.Errorf("user identifiers must be hashed in audit output, got %q", out)
	}
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newCapturedAuditor(false)

	auditor.LogTokenIssued("user-1", "app-1", "team-1", nil)
	auditor.LogAuthFailure("user-1", "app-1", "203.0.113.7", "test")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor must not log, got %q", buf.String())
	}
}

func TestAuditorNilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogTokenIssued("user-1", "app-1", "team-1", nil)
	auditor.LogTokenRevoked("user-1", "app-1", "")
	auditor.LogBulkRevocation("user-1", "app-1", 3)
}

func TestHashForLoggingStable(t *testing.T) {
	a := hashForLogging("user-1")
	b := hashForLogging("user-1")
	c := hashForLogging("user-2")

	if a != b {
		t.Error("hash must be deterministic")
	}
	if a == c {
		t.Error("distinct inputs must hash differently")
	}
	if len(a) != 16 {
		t.Errorf("expected 16-character hash, got %d", len(a))
	}
	if a == "user-1" {
		t.Error("hash must not be the identity")
	}
}
