package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupRotatingWritesStructuredLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer := SetupRotating("openlendd", "test", RotationConfig{Path: path})
	logger.Info("checkpoint saved", "asset", "OLT", "sequence", 7)
	if err := closer.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("log file empty")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["message"] != "checkpoint saved" {
		t.Fatalf("message key: got %v", line["message"])
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity key: got %v", line["severity"])
	}
	if line["service"] != "openlendd" || line["env"] != "test" {
		t.Fatalf("service attrs missing: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
	if line["asset"] != "OLT" {
		t.Fatalf("custom attr lost: %v", line)
	}
}

func TestMaskFieldRedactsUnlessAllowlisted(t *testing.T) {
	masked := MaskField("token", "super-secret")
	if masked.Value.String() != RedactedValue {
		t.Fatalf("token should be redacted, got %s", masked.Value.String())
	}
	open := MaskField("asset", "OLT")
	if open.Value.String() != "OLT" {
		t.Fatalf("allowlisted key should pass through, got %s", open.Value.String())
	}
	empty := MaskField("token", "")
	if empty.Value.String() != "" {
		t.Fatalf("empty values stay empty, got %q", empty.Value.String())
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("anything") != RedactedValue {
		t.Fatalf("non-empty values must be masked")
	}
	if MaskValue("  ") != "  " {
		t.Fatalf("blank values pass through")
	}
}

func TestRedactionAllowlistIsSorted(t *testing.T) {
	keys := RedactionAllowlist()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("allowlist not sorted at %d: %v", i, keys)
		}
	}
	if !IsAllowlisted("Method") {
		t.Fatalf("allowlist lookup should be case-insensitive")
	}
	if IsAllowlisted("token") {
		t.Fatalf("token must never be allowlisted")
	}
}
