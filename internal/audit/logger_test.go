package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogger_LogSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.LogSuccess("user.create", "admin", "user", "01HX12ABC123", "192.168.1.1", map[string]string{"username": "alice"})

	var logged map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logged); err != nil {
		t.Fatalf("failed to parse logged JSON: %v\nOutput: %s", err, buf.String())
	}

	if logged["action"] != "user.create" {
		t.Errorf("action mismatch: got %v", logged["action"])
	}
	if logged["actor"] != "admin" {
		t.Errorf("actor mismatch: got %v", logged["actor"])
	}
	if logged["resource_id"] != "01HX12ABC123" {
		t.Errorf("resource_id mismatch: got %v", logged["resource_id"])
	}
	if logged["level"] != "info" {
		t.Errorf("expected info level, got %v", logged["level"])
	}
	details, ok := logged["details"].(map[string]any)
	if !ok || details["username"] != "alice" {
		t.Errorf("details mismatch: got %v", logged["details"])
	}
}

func TestLogger_LogFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.LogFailure("user.delete", "admin", "10.0.0.1", map[string]string{"reason": "self"})

	var logged map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logged); err != nil {
		t.Fatalf("failed to parse logged JSON: %v", err)
	}
	if logged["status"] != "failure" {
		t.Errorf("expected failure status, got %v", logged["status"])
	}
	if logged["level"] != "warn" {
		t.Errorf("expected warn level, got %v", logged["level"])
	}
	if _, ok := logged["resource_type"]; ok {
		t.Errorf("resource_type should be omitted")
	}
}
