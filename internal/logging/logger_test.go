package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestConfigureJSON(t *testing.T) {
	defer Configure(os.Stdout, "json", "info")

	var buf bytes.Buffer
	Configure(&buf, "json", "info")

	Info("proof generated", "protocol", "curve", "block", 18500000)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "proof generated" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["protocol"] != "curve" {
		t.Errorf("unexpected protocol attr: %v", entry["protocol"])
	}
}

func TestConfigureLevelFiltersDebug(t *testing.T) {
	defer Configure(os.Stdout, "json", "info")

	var buf bytes.Buffer
	Configure(&buf, "text", "warn")

	Debug("should not appear")
	Info("should not appear either")
	Warn("batch split", "size", 7)

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("low-severity lines leaked: %q", out)
	}
	if !strings.Contains(out, "batch split") {
		t.Errorf("warn line missing: %q", out)
	}
}
