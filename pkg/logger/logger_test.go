package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func parseLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.String())
	}
	return entry
}

func TestLoggerStampsService(t *testing.T) {
	var buf bytes.Buffer
	New("saga-orchestrator", &buf).Info("started")

	entry := parseLine(t, &buf)
	if entry["service"] != "saga-orchestrator" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["message"] != "started" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["timestamp"] == nil {
		t.Error("no timestamp")
	}
}

func TestWithSagaBindsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	New("test", &buf).WithSaga("saga-1", "corr-1").Warn("slow step")

	entry := parseLine(t, &buf)
	if entry["sagaID"] != "saga-1" || entry["correlationID"] != "corr-1" {
		t.Errorf("entry = %v", entry)
	}
}

func TestInfofFields(t *testing.T) {
	var buf bytes.Buffer
	New("test", &buf).Infof("saga completed", map[string]interface{}{
		"steps": 3,
	})

	entry := parseLine(t, &buf)
	if entry["steps"] != float64(3) {
		t.Errorf("steps = %v", entry["steps"])
	}
}

func TestErrIncludesError(t *testing.T) {
	var buf bytes.Buffer
	New("test", &buf).Err("publish failed", errTest)

	entry := parseLine(t, &buf)
	if entry["error"] != "redis down" {
		t.Errorf("error = %v", entry["error"])
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v", entry["level"])
	}
}

var errTest = errFixed("redis down")

type errFixed string

func (e errFixed) Error() string { return string(e) }
