package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/resolver"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/pkg/tracing"
)

// CompensationPayload is the fixed-shape body sent to a step's
// compensation endpoint.
type CompensationPayload struct {
	StepID         string        `json:"stepId"`
	SagaID         string        `json:"sagaId"`
	StepName       string        `json:"stepName"`
	StepType       saga.StepType `json:"stepType"`
	OriginalInput  saga.Data     `json:"originalInput,omitempty"`
	OriginalOutput saga.Data     `json:"originalOutput,omitempty"`
	CorrelationID  string        `json:"correlationId"`
	TenantID       string        `json:"tenantId"`
	BusinessUnitID string        `json:"businessUnitId"`
}

// Executor performs the outbound HTTP calls for forward steps and
// compensations. One call per invocation; retries are the orchestrator's
// concern.
type Executor struct {
	client      *http.Client
	resolver    resolver.ServiceResolver
	callTimeout time.Duration
}

func NewExecutor(res resolver.ServiceResolver, callTimeout time.Duration) *Executor {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Executor{
		client:      &http.Client{Timeout: callTimeout},
		resolver:    res,
		callTimeout: callTimeout,
	}
}

// Call executes the step's forward endpoint with its merged input.
// A 2xx response body is the step output; an empty body maps to
// {"status": "completed"}. A 202 response means the target accepted the
// work and will report the outcome through a callback: the step stays
// RUNNING and inFlight is true.
func (e *Executor) Call(ctx context.Context, st *saga.Step) (output saga.Data, inFlight bool, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveStepLatency(st.Service, time.Since(start))
	}()

	status, body, err := e.post(ctx, st.Service, st.Endpoint, st.Input)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusAccepted {
		return nil, true, nil
	}

	out, err := decodeOutput(body)
	if err != nil {
		return nil, false, fmt.Errorf("decode step output: %w", err)
	}
	return out, false, nil
}

// Compensate invokes the step's compensation endpoint with the fixed
// payload. The caller guarantees the step has one.
func (e *Executor) Compensate(ctx context.Context, sg *saga.Saga, st *saga.Step) error {
	payload := CompensationPayload{
		StepID:         st.ID,
		SagaID:         sg.ID,
		StepName:       st.Name,
		StepType:       st.Type,
		OriginalInput:  st.Input,
		OriginalOutput: st.Output,
		CorrelationID:  sg.CorrelationID,
		TenantID:       sg.TenantID,
		BusinessUnitID: sg.BusinessUnitID,
	}
	_, _, err := e.post(ctx, st.Service, st.CompensationEndpoint, payload)
	return err
}

func (e *Executor) post(ctx context.Context, service, endpoint string, payload interface{}) (int, []byte, error) {
	baseURL, err := e.resolver.Resolve(service)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve service: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHTTP(callCtx, req)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call %s%s: %w", service, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, respBody, fmt.Errorf("call %s%s: status %d: %s",
			service, endpoint, resp.StatusCode, truncate(respBody, 256))
	}
	return resp.StatusCode, respBody, nil
}

func decodeOutput(body []byte) (saga.Data, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		return saga.Data{"status": "completed"}, nil
	}
	var out saga.Data
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
