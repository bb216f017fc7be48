// Package saga defines the persisted workflow model: a Saga is one
// multi-step payment transaction, its SagaSteps are the ordered units of
// work, and a Template is the static definition new sagas are stamped from.
package saga

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a saga.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

// Active reports whether the saga can still make forward progress.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Terminal reports whether the saga reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepRunning      StepStatus = "RUNNING"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepCompensating StepStatus = "COMPENSATING"
	StepCompensated  StepStatus = "COMPENSATED"
)

// StepType classifies what a step does in the payment flow.
type StepType string

const (
	StepTypeValidation            StepType = "VALIDATION"
	StepTypeRouting               StepType = "ROUTING"
	StepTypeAccountAdapter        StepType = "ACCOUNT_ADAPTER"
	StepTypeTransactionProcessing StepType = "TRANSACTION_PROCESSING"
	StepTypeNotification          StepType = "NOTIFICATION"
	StepTypeCompensation          StepType = "COMPENSATION"
)

// Data is the free-form key-value payload carried by sagas and steps.
type Data map[string]interface{}

// Clone returns a shallow copy so callers can merge without aliasing.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a copy of d with overrides applied on top.
func (d Data) Merge(overrides Data) Data {
	out := d.Clone()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Saga is one workflow instance.
type Saga struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	TenantID       string     `json:"tenantId"`
	BusinessUnitID string     `json:"businessUnitId"`
	CorrelationID  string     `json:"correlationId"`
	PaymentID      string     `json:"paymentId,omitempty"`
	SagaData       Data       `json:"sagaData,omitempty"`
	CurrentStep    int        `json:"currentStep"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
	CompensatedAt  *time.Time `json:"compensatedAt,omitempty"`
	Version        int64      `json:"version"`
	UpdatedBy      string     `json:"updatedBy,omitempty"`

	Steps []*Step `json:"steps,omitempty"`
}

// Step is one unit of work within a saga. Sequence defines both forward
// execution order and reverse compensation order.
type Step struct {
	ID                   string     `json:"id"`
	SagaID               string     `json:"sagaId"`
	Sequence             int        `json:"sequence"`
	Name                 string     `json:"name"`
	Type                 StepType   `json:"type"`
	Service              string     `json:"service"`
	Endpoint             string     `json:"endpoint"`
	CompensationEndpoint string     `json:"compensationEndpoint,omitempty"`
	Input                Data       `json:"input,omitempty"`
	Output               Data       `json:"output,omitempty"`
	ErrorData            Data       `json:"errorData,omitempty"`
	RetryCount           int        `json:"retryCount"`
	MaxRetries           int        `json:"maxRetries"`
	Status               StepStatus `json:"status"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// HasCompensation reports whether the step defines an undo call.
func (s *Step) HasCompensation() bool {
	return s.CompensationEndpoint != ""
}

// StartRequest is the caller-supplied input to start a saga.
type StartRequest struct {
	TemplateName   string `json:"templateName"`
	TenantID       string `json:"tenantId"`
	BusinessUnitID string `json:"businessUnitId"`
	CorrelationID  string `json:"correlationId"`
	PaymentID      string `json:"paymentId,omitempty"`
	Data           Data   `json:"data,omitempty"`
	RequestedBy    string `json:"requestedBy,omitempty"`
}

// Instantiate stamps a new Saga with all steps PENDING from a template,
// merging the saga-level data into each step's default input.
func Instantiate(tpl *Template, req *StartRequest) *Saga {
	now := time.Now().UTC()
	sg := &Saga{
		ID:             uuid.NewString(),
		Name:           tpl.Name,
		Status:         StatusRunning,
		TenantID:       req.TenantID,
		BusinessUnitID: req.BusinessUnitID,
		CorrelationID:  req.CorrelationID,
		PaymentID:      req.PaymentID,
		SagaData:       req.Data.Clone(),
		CurrentStep:    0,
		StartedAt:      now,
		Version:        0,
		UpdatedBy:      req.RequestedBy,
	}

	sg.Steps = make([]*Step, 0, len(tpl.Steps))
	for i, def := range tpl.Steps {
		sg.Steps = append(sg.Steps, &Step{
			ID:                   uuid.NewString(),
			SagaID:               sg.ID,
			Sequence:             i,
			Name:                 def.Name,
			Type:                 def.Type,
			Service:              def.Service,
			Endpoint:             def.Endpoint,
			CompensationEndpoint: def.CompensationEndpoint,
			Input:                def.DefaultInput.Merge(req.Data),
			RetryCount:           0,
			MaxRetries:           def.MaxRetries,
			Status:               StepPending,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}
	return sg
}

// StepBySequence returns the step at the given position, or nil.
func (s *Saga) StepBySequence(seq int) *Step {
	for _, st := range s.Steps {
		if st.Sequence == seq {
			return st
		}
	}
	return nil
}

// StepByID returns the step with the given ID, or nil.
func (s *Saga) StepByID(id string) *Step {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// CompletedSteps returns the steps that finished forward execution, in
// sequence order.
func (s *Saga) CompletedSteps() []*Step {
	var out []*Step
	for _, st := range s.Steps {
		if st.Status == StepCompleted {
			out = append(out, st)
		}
	}
	return out
}
