package events

import (
	"testing"

	"github.com/payrail/orchestrator/internal/saga"
)

func TestEventCarriesSagaIdentity(t *testing.T) {
	sg := testSaga()
	ev := NewSagaStarted(sg, "Acme", "EU")

	if ev.SagaID != sg.ID || ev.TenantID != sg.TenantID || ev.CorrelationID != sg.CorrelationID {
		t.Errorf("event identity = %+v", ev)
	}
	if ev.Type != TypeSagaStarted {
		t.Errorf("type = %s", ev.Type)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("OccurredAt not set")
	}
	p := ev.Payload.(SagaStartedPayload)
	if p.TenantName != "Acme" || p.BusinessUnitName != "EU" {
		t.Errorf("payload = %+v", p)
	}
}

func TestNewStepFailedPayload(t *testing.T) {
	sg := testSaga()
	st := &saga.Step{ID: "step-1", Sequence: 1, Name: "debit", RetryCount: 1, MaxRetries: 2}

	ev := NewStepFailed(sg, st, "downstream unavailable", true)
	p := ev.Payload.(StepFailedPayload)
	if !p.WillRetry || p.Error != "downstream unavailable" {
		t.Errorf("payload = %+v", p)
	}
	if p.RetryCount != 1 || p.MaxRetries != 2 {
		t.Errorf("retry fields = %+v", p)
	}
}

func TestNewSagaCompletedUsesLastStepOutput(t *testing.T) {
	sg := testSaga()
	sg.Steps = []*saga.Step{
		{Sequence: 0, Output: saga.Data{"a": 1}},
		{Sequence: 1, Output: saga.Data{"txRef": "final"}},
	}

	ev := NewSagaCompleted(sg)
	p := ev.Payload.(SagaCompletedPayload)
	if p.Output["txRef"] != "final" {
		t.Errorf("output = %v", p.Output)
	}
	if p.StepCount != 2 {
		t.Errorf("step count = %d", p.StepCount)
	}
}
