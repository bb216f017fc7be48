package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ServiceName != "saga-orchestrator" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.HTTPPort != 8090 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.EventStream != "saga:events" || cfg.CallbackStream != "saga:callbacks" {
		t.Errorf("streams = %q, %q", cfg.EventStream, cfg.CallbackStream)
	}
	if cfg.StepCallTimeout != 30*time.Second {
		t.Errorf("StepCallTimeout = %v", cfg.StepCallTimeout)
	}
	if cfg.StuckAfter != 5*time.Minute {
		t.Errorf("StuckAfter = %v", cfg.StuckAfter)
	}
	if !strings.Contains(cfg.ServiceTable, "validation-service=") {
		t.Errorf("ServiceTable = %q", cfg.ServiceTable)
	}
	if !cfg.DBEnsureSchema {
		t.Error("DBEnsureSchema should default on")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("STEP_CALL_TIMEOUT", "10s")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACE_SAMPLE_RATE", "0.5")

	cfg := Load()
	if cfg.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d", cfg.HTTPPort)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DBHost = %q", cfg.DBHost)
	}
	if cfg.StepCallTimeout != 10*time.Second {
		t.Errorf("StepCallTimeout = %v", cfg.StepCallTimeout)
	}
	if !cfg.TracingEnabled || cfg.TraceSampleRate != 0.5 {
		t.Errorf("tracing = %v %v", cfg.TracingEnabled, cfg.TraceSampleRate)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("STEP_CALL_TIMEOUT", "soon")

	cfg := Load()
	if cfg.HTTPPort != 8090 {
		t.Errorf("HTTPPort = %d, want default on parse failure", cfg.HTTPPort)
	}
	if cfg.StepCallTimeout != 30*time.Second {
		t.Errorf("StepCallTimeout = %v, want default", cfg.StepCallTimeout)
	}
}

func TestDSN(t *testing.T) {
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "payments")

	dsn := Load().DSN()
	want := "host=pg.internal port=5433 user=svc password=secret dbname=payments sslmode=disable"
	if dsn != want {
		t.Errorf("DSN = %q, want %q", dsn, want)
	}
}
