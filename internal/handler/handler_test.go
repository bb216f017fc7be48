package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/payrail/orchestrator/internal/events"
	"github.com/payrail/orchestrator/internal/lookup"
	"github.com/payrail/orchestrator/internal/orchestrator"
	"github.com/payrail/orchestrator/internal/repository"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/pkg/health"
	"github.com/payrail/orchestrator/pkg/logger"
)

// memStore backs the orchestrator and lookup service in-memory.
type memStore struct {
	mu    sync.Mutex
	sagas map[string]*saga.Saga
}

func (s *memStore) CreateSaga(ctx context.Context, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[sg.ID] = sg
	return nil
}

func (s *memStore) GetSaga(ctx context.Context, id string) (*saga.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.sagas[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sg, nil
}

func (s *memStore) UpdateSaga(ctx context.Context, sg *saga.Saga) error { return nil }
func (s *memStore) UpdateStep(ctx context.Context, st *saga.Step) error { return nil }

func (s *memStore) UpdateStepAndSaga(ctx context.Context, st *saga.Step, sg *saga.Saga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[sg.ID] = sg
	return nil
}

func (s *memStore) FindByPaymentID(ctx context.Context, tenantID, paymentID string) (*saga.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range s.sagas {
		if sg.TenantID == tenantID && sg.PaymentID == paymentID {
			return sg, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) FindByCorrelationID(ctx context.Context, tenantID, correlationID string) (*saga.Saga, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range s.sagas {
		if sg.TenantID == tenantID && sg.CorrelationID == correlationID {
			return sg, nil
		}
	}
	return nil, repository.ErrNotFound
}

// stubCaller answers every forward call according to mode.
type stubCaller struct {
	mode string // "ok", "accepted", "fail"
}

func (c *stubCaller) Call(ctx context.Context, st *saga.Step) (saga.Data, bool, error) {
	switch c.mode {
	case "accepted":
		return nil, true, nil
	case "fail":
		return nil, false, fmt.Errorf("downstream unavailable")
	default:
		return saga.Data{"status": "ok"}, false, nil
	}
}

func (c *stubCaller) Compensate(ctx context.Context, sg *saga.Saga, st *saga.Step) error {
	return nil
}

type nopEvents struct{}

func (nopEvents) Publish(ctx context.Context, ev *events.Event) error { return nil }

func newTestHandler(t *testing.T, caller *stubCaller) (*Handler, *memStore, sqlmock.Sqlmock) {
	t.Helper()
	store := &memStore{sagas: make(map[string]*saga.Saga)}
	registry := saga.NewRegistry()
	saga.RegisterBuiltins(registry)

	log := logger.New("test", io.Discard)
	orch := orchestrator.New(store, registry, caller, nopEvents{}, log)
	orch.SetBackoff(orchestrator.NoBackoff{})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	eventSvc := events.NewService(repository.NewEventRepository(db), nil, "saga:events", log)

	h := health.New()
	h.SetReady(true)
	return New(orch, lookup.NewService(store), eventSvc, registry, h, log, 1<<20), store, mock
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStartSagaEndToEnd(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{mode: "ok"})
	router := h.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/sagas", `{
		"templateName": "fast-payment",
		"tenantId": "tenant-1",
		"businessUnitId": "bu-1",
		"correlationId": "corr-1",
		"paymentId": "pay-1",
		"data": {"amount": 500}
	}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sg saga.Saga
	if err := json.Unmarshal(rec.Body.Bytes(), &sg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sg.Status != saga.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED after synchronous run", sg.Status)
	}
	if len(sg.Steps) != 3 {
		t.Errorf("steps = %d, want 3", len(sg.Steps))
	}
}

func TestStartSagaValidation(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	router := h.Router()

	cases := []struct {
		name string
		body string
	}{
		{"missing template", `{"tenantId":"t","correlationId":"c"}`},
		{"missing tenant", `{"templateName":"fast-payment","correlationId":"c"}`},
		{"missing correlation", `{"templateName":"fast-payment","tenantId":"t"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/v1/sagas", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestStartSagaMalformedJSON(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodPost, "/v1/sagas", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartSagaUnknownTemplate(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodPost, "/v1/sagas",
		`{"templateName":"ghost","tenantId":"t","correlationId":"c"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != "TEMPLATE_NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestGetSagaNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodGet, "/v1/sagas/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStepCallbackCompletesInFlightSaga(t *testing.T) {
	h, store, _ := newTestHandler(t, &stubCaller{mode: "accepted"})
	router := h.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/sagas",
		`{"templateName":"fast-payment","tenantId":"t","correlationId":"c"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d", rec.Code)
	}
	var sg saga.Saga
	json.Unmarshal(rec.Body.Bytes(), &sg)
	if sg.Status != saga.StatusRunning {
		t.Fatalf("status = %s, want RUNNING while step in flight", sg.Status)
	}

	stored := store.sagas[sg.ID]
	step := stored.StepBySequence(0)

	rec = doJSON(t, router, http.MethodPost,
		"/v1/sagas/"+sg.ID+"/steps/"+step.ID+"/complete", `{"output":{"ok":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// A duplicate callback is accepted as a no-op.
	rec = doJSON(t, router, http.MethodPost,
		"/v1/sagas/"+sg.ID+"/steps/"+step.ID+"/complete", `{"output":{"ok":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate callback status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("duplicate callback response = %v", resp)
	}
}

func TestFailCallbackRequiresError(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodPost, "/v1/sagas/x/steps/y/fail", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListTemplates(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodGet, "/v1/templates", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body["templates"]) != 3 {
		t.Errorf("templates = %v", body["templates"])
	}
}

func TestLookupRequiresTenant(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodGet, "/v1/lookup/payment/pay-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLookupByPaymentID(t *testing.T) {
	h, store, _ := newTestHandler(t, &stubCaller{mode: "ok"})
	store.sagas["saga-1"] = &saga.Saga{
		ID: "saga-1", TenantID: "tenant-1", PaymentID: "pay-1", Status: saga.StatusCompleted,
	}

	rec := doJSON(t, h.Router(), http.MethodGet, "/v1/lookup/payment/pay-1?tenantId=tenant-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sg saga.Saga
	json.Unmarshal(rec.Body.Bytes(), &sg)
	if sg.ID != "saga-1" {
		t.Errorf("saga = %+v", sg)
	}

	// Another tenant cannot see it.
	rec = doJSON(t, h.Router(), http.MethodGet, "/v1/lookup/payment/pay-1?tenantId=other", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant status = %d, want 404", rec.Code)
	}
}

func TestGetSagaEvents(t *testing.T) {
	h, _, mock := newTestHandler(t, &stubCaller{})

	mock.ExpectQuery("SELECT (.+) FROM payrail_saga.saga_events").
		WithArgs("saga-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "saga_id", "tenant_id", "business_unit_id", "correlation_id", "type", "payload", "occurred_at",
		}).AddRow(int64(1), "saga-1", "t", "b", "c", "SAGA_STARTED", []byte(`{}`), time.Now()))

	rec := doJSON(t, h.Router(), http.MethodGet, "/v1/sagas/saga-1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var recs []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(recs) != 1 || recs[0]["type"] != "SAGA_STARTED" {
		t.Errorf("events = %v", recs)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	router := h.Router()

	rec := doJSON(t, router, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubCaller{})
	rec := doJSON(t, h.Router(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sagas_started_total") {
		t.Error("metrics output missing saga counters")
	}
}
