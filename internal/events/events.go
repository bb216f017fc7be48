// Package events defines the saga lifecycle event variants and the service
// that records them durably and forwards them to the event bus.
//
// Each lifecycle transition has its own event type with a strongly-typed
// payload struct; the payload is serialized per variant rather than shared
// through a generic envelope.
package events

import (
	"time"

	"github.com/payrail/orchestrator/internal/saga"
)

// Type identifies a lifecycle transition.
type Type string

const (
	TypeSagaStarted         Type = "SAGA_STARTED"
	TypeStepStarted         Type = "STEP_STARTED"
	TypeStepCompleted       Type = "STEP_COMPLETED"
	TypeStepFailed          Type = "STEP_FAILED"
	TypeCompensationStarted Type = "COMPENSATION_STARTED"
	TypeStepCompensated     Type = "STEP_COMPENSATED"
	TypeSagaCompensated     Type = "SAGA_COMPENSATED"
	TypeSagaCompleted       Type = "SAGA_COMPLETED"
	TypeSagaFailed          Type = "SAGA_FAILED"
)

// Payload is implemented by every variant's payload struct.
type Payload interface {
	EventType() Type
}

// Event is one lifecycle transition, ready to persist and publish.
type Event struct {
	SagaID         string    `json:"sagaId"`
	TenantID       string    `json:"tenantId"`
	BusinessUnitID string    `json:"businessUnitId"`
	CorrelationID  string    `json:"correlationId"`
	Type           Type      `json:"type"`
	Payload        Payload   `json:"payload,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type SagaStartedPayload struct {
	TemplateName     string `json:"templateName"`
	PaymentID        string `json:"paymentId,omitempty"`
	StepCount        int    `json:"stepCount"`
	TenantName       string `json:"tenantName,omitempty"`
	BusinessUnitName string `json:"businessUnitName,omitempty"`
}

func (SagaStartedPayload) EventType() Type { return TypeSagaStarted }

type StepStartedPayload struct {
	StepID     string        `json:"stepId"`
	Sequence   int           `json:"sequence"`
	StepName   string        `json:"stepName"`
	StepType   saga.StepType `json:"stepType"`
	Service    string        `json:"service"`
	Endpoint   string        `json:"endpoint"`
	RetryCount int           `json:"retryCount"`
}

func (StepStartedPayload) EventType() Type { return TypeStepStarted }

type StepCompletedPayload struct {
	StepID   string        `json:"stepId"`
	Sequence int           `json:"sequence"`
	StepName string        `json:"stepName"`
	StepType saga.StepType `json:"stepType"`
	Output   saga.Data     `json:"output,omitempty"`
}

func (StepCompletedPayload) EventType() Type { return TypeStepCompleted }

type StepFailedPayload struct {
	StepID     string        `json:"stepId"`
	Sequence   int           `json:"sequence"`
	StepName   string        `json:"stepName"`
	StepType   saga.StepType `json:"stepType"`
	Error      string        `json:"error"`
	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
	WillRetry  bool          `json:"willRetry"`
}

func (StepFailedPayload) EventType() Type { return TypeStepFailed }

type CompensationStartedPayload struct {
	FailedStepName string `json:"failedStepName"`
	FailedSequence int    `json:"failedSequence"`
	StepsToUndo    int    `json:"stepsToUndo"`
	Reason         string `json:"reason,omitempty"`
}

func (CompensationStartedPayload) EventType() Type { return TypeCompensationStarted }

type StepCompensatedPayload struct {
	StepID   string        `json:"stepId"`
	Sequence int           `json:"sequence"`
	StepName string        `json:"stepName"`
	StepType saga.StepType `json:"stepType"`
	// Skipped is true when the step has no compensation endpoint and was
	// marked compensated without an outbound call.
	Skipped bool   `json:"skipped,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (StepCompensatedPayload) EventType() Type { return TypeStepCompensated }

type SagaCompensatedPayload struct {
	CompensatedSteps    int `json:"compensatedSteps"`
	FailedCompensations int `json:"failedCompensations"`
}

func (SagaCompensatedPayload) EventType() Type { return TypeSagaCompensated }

type SagaCompletedPayload struct {
	StepCount int       `json:"stepCount"`
	PaymentID string    `json:"paymentId,omitempty"`
	Output    saga.Data `json:"output,omitempty"`
}

func (SagaCompletedPayload) EventType() Type { return TypeSagaCompleted }

// SagaFailedPayload records a saga that failed before any step completed,
// so there was nothing to compensate.
type SagaFailedPayload struct {
	FailedStepName string `json:"failedStepName"`
	FailedSequence int    `json:"failedSequence"`
	Error          string `json:"error,omitempty"`
}

func (SagaFailedPayload) EventType() Type { return TypeSagaFailed }

func newEvent(sg *saga.Saga, p Payload) *Event {
	return &Event{
		SagaID:         sg.ID,
		TenantID:       sg.TenantID,
		BusinessUnitID: sg.BusinessUnitID,
		CorrelationID:  sg.CorrelationID,
		Type:           p.EventType(),
		Payload:        p,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewSagaStarted builds the saga-started event.
func NewSagaStarted(sg *saga.Saga, tenantName, businessUnitName string) *Event {
	return newEvent(sg, SagaStartedPayload{
		TemplateName:     sg.Name,
		PaymentID:        sg.PaymentID,
		StepCount:        len(sg.Steps),
		TenantName:       tenantName,
		BusinessUnitName: businessUnitName,
	})
}

// NewStepStarted builds the step-started event.
func NewStepStarted(sg *saga.Saga, st *saga.Step) *Event {
	return newEvent(sg, StepStartedPayload{
		StepID:     st.ID,
		Sequence:   st.Sequence,
		StepName:   st.Name,
		StepType:   st.Type,
		Service:    st.Service,
		Endpoint:   st.Endpoint,
		RetryCount: st.RetryCount,
	})
}

// NewStepCompleted builds the step-completed event.
func NewStepCompleted(sg *saga.Saga, st *saga.Step) *Event {
	return newEvent(sg, StepCompletedPayload{
		StepID:   st.ID,
		Sequence: st.Sequence,
		StepName: st.Name,
		StepType: st.Type,
		Output:   st.Output,
	})
}

// NewStepFailed builds the step-failed event.
func NewStepFailed(sg *saga.Saga, st *saga.Step, stepErr string, willRetry bool) *Event {
	return newEvent(sg, StepFailedPayload{
		StepID:     st.ID,
		Sequence:   st.Sequence,
		StepName:   st.Name,
		StepType:   st.Type,
		Error:      stepErr,
		RetryCount: st.RetryCount,
		MaxRetries: st.MaxRetries,
		WillRetry:  willRetry,
	})
}

// NewCompensationStarted builds the compensation-started event.
func NewCompensationStarted(sg *saga.Saga, failed *saga.Step, stepsToUndo int, reason string) *Event {
	p := CompensationStartedPayload{StepsToUndo: stepsToUndo, Reason: reason}
	if failed != nil {
		p.FailedStepName = failed.Name
		p.FailedSequence = failed.Sequence
	}
	return newEvent(sg, p)
}

// NewStepCompensated builds the step-compensated event.
func NewStepCompensated(sg *saga.Saga, st *saga.Step, skipped bool, warning string) *Event {
	return newEvent(sg, StepCompensatedPayload{
		StepID:   st.ID,
		Sequence: st.Sequence,
		StepName: st.Name,
		StepType: st.Type,
		Skipped:  skipped,
		Warning:  warning,
	})
}

// NewSagaCompensated builds the saga-compensated event.
func NewSagaCompensated(sg *saga.Saga, compensated, failed int) *Event {
	return newEvent(sg, SagaCompensatedPayload{
		CompensatedSteps:    compensated,
		FailedCompensations: failed,
	})
}

// NewSagaFailed builds the saga-failed event for a saga with nothing to
// compensate.
func NewSagaFailed(sg *saga.Saga, failed *saga.Step) *Event {
	p := SagaFailedPayload{Error: sg.ErrorMessage}
	if failed != nil {
		p.FailedStepName = failed.Name
		p.FailedSequence = failed.Sequence
	}
	return newEvent(sg, p)
}

// NewSagaCompleted builds the saga-completed event.
func NewSagaCompleted(sg *saga.Saga) *Event {
	var output saga.Data
	if last := sg.StepBySequence(len(sg.Steps) - 1); last != nil {
		output = last.Output
	}
	return newEvent(sg, SagaCompletedPayload{
		StepCount: len(sg.Steps),
		PaymentID: sg.PaymentID,
		Output:    output,
	})
}
