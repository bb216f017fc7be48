package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubChecker struct {
	name   string
	result CheckResult
}

func (c stubChecker) Name() string                          { return c.name }
func (c stubChecker) Check(ctx context.Context) CheckResult { return c.result }

func TestLiveHandlerAlwaysUp(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestReadyGatedOnSetReady(t *testing.T) {
	h := New()
	h.Register(stubChecker{name: "postgres", result: CheckResult{Status: StatusUp}})

	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before SetReady = %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status after SetReady = %d, want 200", rec.Code)
	}
}

func TestReadyDegradedOnFailingDependency(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(stubChecker{name: "postgres", result: CheckResult{Status: StatusUp}})
	h.Register(stubChecker{name: "redis", result: CheckResult{Status: StatusDown, Message: "connection refused"}})

	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("overall = %s", resp.Status)
	}
	if resp.Dependencies["redis"].Status != StatusDown {
		t.Errorf("redis = %+v", resp.Dependencies["redis"])
	}
	if resp.Dependencies["postgres"].Status != StatusUp {
		t.Errorf("postgres = %+v", resp.Dependencies["postgres"])
	}
}

func TestCheckerWithEmptyStatusTreatedAsDown(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(stubChecker{name: "flaky"})

	resp := h.Ready(context.Background())
	if resp.Dependencies["flaky"].Status != StatusDown {
		t.Errorf("flaky = %+v", resp.Dependencies["flaky"])
	}
}

func TestLoopMonitorHealthy(t *testing.T) {
	var m LoopMonitor

	if ok, _, _ := m.Healthy(time.Now(), time.Minute); ok {
		t.Error("healthy before first tick")
	}

	m.Tick()
	if ok, _, _ := m.Healthy(time.Now(), time.Minute); !ok {
		t.Error("unhealthy right after tick")
	}

	if ok, age, _ := m.Healthy(time.Now().Add(2*time.Minute), time.Minute); ok {
		t.Errorf("healthy with age %v past maxAge", age)
	}
}

func TestLoopMonitorLastError(t *testing.T) {
	var m LoopMonitor
	m.Tick()
	m.SetError(errStub("stream read failed"))
	m.SetError(nil)

	_, _, lastErr := m.Healthy(time.Now(), time.Minute)
	if lastErr != "stream read failed" {
		t.Errorf("lastErr = %q", lastErr)
	}
}

type errStub string

func (e errStub) Error() string { return string(e) }
