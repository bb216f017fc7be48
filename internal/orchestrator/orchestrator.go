// Package orchestrator owns the saga lifecycle state machine: it advances
// steps one at a time, retries failed steps up to their budget, and drives
// reverse-order compensation when a step fails for good.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/payrail/orchestrator/internal/events"
	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/internal/tenant"
	"github.com/payrail/orchestrator/pkg/logger"
)

// sagaStore is the slice of the repository the state machine needs.
type sagaStore interface {
	CreateSaga(ctx context.Context, sg *saga.Saga) error
	GetSaga(ctx context.Context, id string) (*saga.Saga, error)
	UpdateSaga(ctx context.Context, sg *saga.Saga) error
	UpdateStep(ctx context.Context, st *saga.Step) error
	// UpdateStepAndSaga persists a step transition and the saga header
	// atomically; a version conflict must leave both rows untouched.
	UpdateStepAndSaga(ctx context.Context, st *saga.Step, sg *saga.Saga) error
}

// stepCaller performs the outbound calls. Satisfied by *Executor.
type stepCaller interface {
	Call(ctx context.Context, st *saga.Step) (output saga.Data, inFlight bool, err error)
	Compensate(ctx context.Context, sg *saga.Saga, st *saga.Step) error
}

// eventPublisher records lifecycle events. Satisfied by *events.Service.
type eventPublisher interface {
	Publish(ctx context.Context, ev *events.Event) error
}

// Orchestrator coordinates saga execution. One saga is advanced by one
// goroutine at a time: the one handling the triggering request or callback.
type Orchestrator struct {
	store    sagaStore
	registry *saga.Registry
	caller   stepCaller
	comp     *CompensationEngine
	events   eventPublisher
	tenants  tenant.Resolver
	backoff  BackoffPolicy
	log      *logger.Logger
}

func New(store sagaStore, registry *saga.Registry, caller stepCaller, ev eventPublisher, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		registry: registry,
		caller:   caller,
		events:   ev,
		backoff:  ExponentialBackoff{Base: 200 * time.Millisecond, Max: 5 * time.Second},
		log:      log,
	}
	o.comp = NewCompensationEngine(store, caller, ev, log)
	return o
}

// SetBackoff replaces the retry backoff policy.
func (o *Orchestrator) SetBackoff(p BackoffPolicy) {
	if p != nil {
		o.backoff = p
	}
}

// SetTenantResolver wires the optional tenant display-name resolver used
// when building events.
func (o *Orchestrator) SetTenantResolver(r tenant.Resolver) {
	o.tenants = r
}

// StartSaga instantiates a saga from the named template, persists it with
// all steps PENDING, and drives execution of the first step. An unknown
// template fails before anything is persisted. Step failures do not fail
// this call; they are absorbed into the saga's own state.
func (o *Orchestrator) StartSaga(ctx context.Context, req *saga.StartRequest) (*saga.Saga, error) {
	tpl, err := o.registry.Get(req.TemplateName)
	if err != nil {
		return nil, err
	}

	sg := saga.Instantiate(tpl, req)
	if err := o.store.CreateSaga(ctx, sg); err != nil {
		return nil, fmt.Errorf("create saga: %w", err)
	}
	metrics.IncSagasStarted(sg.Name)

	tenantName, buName := o.resolveTenantNames(ctx, sg)
	o.publish(ctx, events.NewSagaStarted(sg, tenantName, buName))

	if err := o.ExecuteNextStep(ctx, sg); err != nil && !IsBenign(err) {
		o.log.WithSaga(sg.ID, sg.CorrelationID).Err("execute first step", err)
	}
	return sg, nil
}

// ExecuteNextStep dispatches the saga's current step. It is a no-op
// (typed error) when the saga is not active or the current step is not
// PENDING, which makes duplicate triggers harmless. When no PENDING step
// remains the saga is completed.
func (o *Orchestrator) ExecuteNextStep(ctx context.Context, sg *saga.Saga) error {
	if !sg.Status.Active() {
		return ErrSagaNotActive
	}
	if sg.CurrentStep >= len(sg.Steps) {
		return o.completeSaga(ctx, sg)
	}

	st := sg.StepBySequence(sg.CurrentStep)
	if st == nil {
		return fmt.Errorf("saga %s has no step at sequence %d", sg.ID, sg.CurrentStep)
	}
	if st.Status != saga.StepPending {
		return ErrStepNotPending
	}

	st.Status = saga.StepRunning
	if err := o.store.UpdateStep(ctx, st); err != nil {
		return fmt.Errorf("mark step running: %w", err)
	}
	o.publish(ctx, events.NewStepStarted(sg, st))

	return o.dispatch(ctx, sg, st)
}

// dispatch performs one forward call for a RUNNING step and routes the
// outcome. An accepted-for-later response leaves the step RUNNING until a
// callback arrives.
func (o *Orchestrator) dispatch(ctx context.Context, sg *saga.Saga, st *saga.Step) error {
	output, inFlight, err := o.caller.Call(ctx, st)
	if err != nil {
		return o.failStep(ctx, sg, st, err.Error(), nil)
	}
	if inFlight {
		return nil
	}
	return o.completeStep(ctx, sg, st, output)
}

// HandleStepCompletion is the callback entry point for a step reported
// complete by its target service.
func (o *Orchestrator) HandleStepCompletion(ctx context.Context, sagaID, stepID string, output saga.Data) error {
	sg, st, err := o.loadStep(ctx, sagaID, stepID)
	if err != nil {
		return err
	}
	if !sg.Status.Active() {
		return ErrSagaNotActive
	}
	return o.completeStep(ctx, sg, st, output)
}

// HandleStepFailure is the callback entry point for a step reported failed
// by its target service.
func (o *Orchestrator) HandleStepFailure(ctx context.Context, sagaID, stepID, errMsg string, errData saga.Data) error {
	sg, st, err := o.loadStep(ctx, sagaID, stepID)
	if err != nil {
		return err
	}
	if !sg.Status.Active() {
		return ErrSagaNotActive
	}
	return o.failStep(ctx, sg, st, errMsg, errData)
}

func (o *Orchestrator) loadStep(ctx context.Context, sagaID, stepID string) (*saga.Saga, *saga.Step, error) {
	sg, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return nil, nil, err
	}
	st := sg.StepByID(stepID)
	if st == nil {
		return nil, nil, fmt.Errorf("saga %s has no step %s", sagaID, stepID)
	}
	return sg, st, nil
}

// completeStep records the output, advances the cursor and continues with
// the next step. Only valid for a RUNNING step; anything else is a
// duplicate callback.
func (o *Orchestrator) completeStep(ctx context.Context, sg *saga.Saga, st *saga.Step, output saga.Data) error {
	if st.Status != saga.StepRunning {
		return ErrStepNotRunning
	}

	st.Status = saga.StepCompleted
	st.Output = output
	sg.CurrentStep++
	if err := o.store.UpdateStepAndSaga(ctx, st, sg); err != nil {
		// Nothing was persisted; undo the in-memory transition so the step
		// is still RUNNING when the callback is redelivered.
		st.Status = saga.StepRunning
		sg.CurrentStep--
		return fmt.Errorf("complete step and advance: %w", err)
	}
	o.publish(ctx, events.NewStepCompleted(sg, st))

	return o.ExecuteNextStep(ctx, sg)
}

// failStep records the failure and either retries the same step (cursor
// does not move) or, once the retry budget is spent, starts compensation.
func (o *Orchestrator) failStep(ctx context.Context, sg *saga.Saga, st *saga.Step, errMsg string, errData saga.Data) error {
	if st.Status != saga.StepRunning {
		return ErrStepNotRunning
	}

	st.ErrorData = errData.Merge(saga.Data{
		"error":   errMsg,
		"attempt": st.RetryCount + 1,
	})

	if st.RetryCount < st.MaxRetries {
		st.RetryCount++
		metrics.IncStepRetries()
		if err := o.store.UpdateStep(ctx, st); err != nil {
			return fmt.Errorf("record step retry: %w", err)
		}
		o.publish(ctx, events.NewStepFailed(sg, st, errMsg, true))

		if err := sleep(ctx, o.backoff.Delay(st.RetryCount)); err != nil {
			return err
		}
		return o.dispatch(ctx, sg, st)
	}

	// Retries exhausted. The FAILED step row is persisted together with the
	// saga transition inside failSaga or StartCompensation.
	st.Status = saga.StepFailed
	o.publish(ctx, events.NewStepFailed(sg, st, errMsg, false))

	if len(sg.CompletedSteps()) == 0 {
		return o.failSaga(ctx, sg, st, errMsg)
	}
	return o.StartCompensation(ctx, sg, st, errMsg)
}

// failSaga finalizes a saga whose failing step had no completed
// predecessors: with nothing to undo, the saga fails outright instead of
// entering compensation.
func (o *Orchestrator) failSaga(ctx context.Context, sg *saga.Saga, st *saga.Step, reason string) error {
	now := time.Now().UTC()
	sg.Status = saga.StatusFailed
	sg.ErrorMessage = reason
	sg.FailedAt = &now
	if err := o.store.UpdateStepAndSaga(ctx, st, sg); err != nil {
		st.Status = saga.StepRunning
		sg.Status = saga.StatusRunning
		sg.FailedAt = nil
		return fmt.Errorf("mark saga failed: %w", err)
	}
	o.publish(ctx, events.NewSagaFailed(sg, st))
	metrics.IncSagasFinished(sg.Name, string(saga.StatusFailed))

	o.log.WithSaga(sg.ID, sg.CorrelationID).Info("saga failed with no steps to compensate")
	return nil
}

// StartCompensation flips the saga to COMPENSATING and runs the reverse
// walk. Idempotent: a saga already compensating or compensated is left
// alone. When the engine returns, the orchestrator finalizes the saga
// itself; there is no external completion trigger. A failed step still
// awaiting persistence is written in the same transaction as the saga
// transition.
func (o *Orchestrator) StartCompensation(ctx context.Context, sg *saga.Saga, failedStep *saga.Step, reason string) error {
	if sg.Status == saga.StatusCompensating || sg.Status == saga.StatusCompensated {
		return ErrAlreadyCompensating
	}

	prevStatus := sg.Status
	now := time.Now().UTC()
	sg.Status = saga.StatusCompensating
	sg.ErrorMessage = reason
	sg.FailedAt = &now

	var err error
	if failedStep != nil {
		err = o.store.UpdateStepAndSaga(ctx, failedStep, sg)
	} else {
		err = o.store.UpdateSaga(ctx, sg)
	}
	if err != nil {
		sg.Status = prevStatus
		sg.FailedAt = nil
		if failedStep != nil {
			failedStep.Status = saga.StepRunning
		}
		return fmt.Errorf("mark saga compensating: %w", err)
	}
	o.publish(ctx, events.NewCompensationStarted(sg, failedStep, len(sg.CompletedSteps()), reason))

	compensated, failed := o.comp.Run(ctx, sg)
	return o.CompleteCompensation(ctx, sg, compensated, failed)
}

// CompleteCompensation finalizes a compensating saga as COMPENSATED.
func (o *Orchestrator) CompleteCompensation(ctx context.Context, sg *saga.Saga, compensated, failed int) error {
	if sg.Status != saga.StatusCompensating {
		return ErrAlreadyCompensating
	}

	now := time.Now().UTC()
	sg.Status = saga.StatusCompensated
	sg.CompensatedAt = &now
	if err := o.store.UpdateSaga(ctx, sg); err != nil {
		return fmt.Errorf("mark saga compensated: %w", err)
	}
	o.publish(ctx, events.NewSagaCompensated(sg, compensated, failed))
	metrics.IncSagasFinished(sg.Name, string(saga.StatusCompensated))

	o.log.WithSaga(sg.ID, sg.CorrelationID).Infof("saga compensated", map[string]interface{}{
		"compensatedSteps":    compensated,
		"failedCompensations": failed,
	})
	return nil
}

func (o *Orchestrator) completeSaga(ctx context.Context, sg *saga.Saga) error {
	now := time.Now().UTC()
	sg.Status = saga.StatusCompleted
	sg.CompletedAt = &now
	if err := o.store.UpdateSaga(ctx, sg); err != nil {
		return fmt.Errorf("mark saga completed: %w", err)
	}
	o.publish(ctx, events.NewSagaCompleted(sg))
	metrics.IncSagasFinished(sg.Name, string(saga.StatusCompleted))

	o.log.WithSaga(sg.ID, sg.CorrelationID).Info("saga completed")
	return nil
}

// FailStepByTimeout is used by the recovery sweeper to push a stuck
// RUNNING step into the normal retry/compensation path.
func (o *Orchestrator) FailStepByTimeout(ctx context.Context, sagaID string) error {
	sg, err := o.store.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	if !sg.Status.Active() {
		return ErrSagaNotActive
	}
	st := sg.StepBySequence(sg.CurrentStep)
	if st == nil || st.Status != saga.StepRunning {
		return ErrStepNotRunning
	}
	return o.failStep(ctx, sg, st, "step timed out waiting for completion", saga.Data{"recovered": true})
}

func (o *Orchestrator) resolveTenantNames(ctx context.Context, sg *saga.Saga) (tenantName, buName string) {
	if o.tenants == nil {
		return "", ""
	}
	var err error
	if tenantName, err = o.tenants.TenantName(ctx, sg.TenantID); err != nil {
		o.log.Warnf("resolve tenant name", map[string]interface{}{
			"tenantID": sg.TenantID,
			"error":    err.Error(),
		})
	}
	if buName, err = o.tenants.BusinessUnitName(ctx, sg.TenantID, sg.BusinessUnitID); err != nil {
		o.log.Warnf("resolve business unit name", map[string]interface{}{
			"tenantID":       sg.TenantID,
			"businessUnitID": sg.BusinessUnitID,
			"error":          err.Error(),
		})
	}
	return tenantName, buName
}

// publish forwards a lifecycle event; failures are logged, never allowed
// to block or fail the state transition they document.
func (o *Orchestrator) publish(ctx context.Context, ev *events.Event) {
	if err := o.events.Publish(ctx, ev); err != nil {
		o.log.Err("publish lifecycle event", err)
	}
}
