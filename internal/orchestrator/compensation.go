package orchestrator

import (
	"context"
	"sort"

	"github.com/payrail/orchestrator/internal/events"
	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/pkg/logger"
)

const noCompensationWarning = "step defines no compensation endpoint; marked compensated without an outbound call"

// CompensationEngine undoes a failed saga's completed steps in reverse
// sequence order. Compensation is best-effort: each step is attempted
// independently and a failure never halts the walk.
type CompensationEngine struct {
	store  sagaStore
	caller stepCaller
	events eventPublisher
	log    *logger.Logger
}

func NewCompensationEngine(store sagaStore, caller stepCaller, ev eventPublisher, log *logger.Logger) *CompensationEngine {
	return &CompensationEngine{
		store:  store,
		caller: caller,
		events: ev,
		log:    log,
	}
}

// Run compensates every COMPLETED step of the saga, most recent first.
// It returns how many steps were compensated (including no-op skips) and
// how many compensation calls failed.
func (e *CompensationEngine) Run(ctx context.Context, sg *saga.Saga) (compensated, failed int) {
	steps := sg.CompletedSteps()
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Sequence > steps[j].Sequence
	})

	slog := e.log.WithSaga(sg.ID, sg.CorrelationID)
	for _, st := range steps {
		if !st.HasCompensation() {
			st.Status = saga.StepCompensated
			if err := e.store.UpdateStep(ctx, st); err != nil {
				slog.Err("persist no-op compensation", err)
			}
			slog.Warnf(noCompensationWarning, map[string]interface{}{
				"step":     st.Name,
				"sequence": st.Sequence,
			})
			e.publish(ctx, events.NewStepCompensated(sg, st, true, noCompensationWarning))
			compensated++
			continue
		}

		st.Status = saga.StepCompensating
		if err := e.store.UpdateStep(ctx, st); err != nil {
			slog.Err("persist compensating step", err)
		}

		if err := e.caller.Compensate(ctx, sg, st); err != nil {
			st.Status = saga.StepFailed
			st.ErrorData = saga.Data{
				"compensationError": err.Error(),
				"phase":             "compensation",
			}
			if uerr := e.store.UpdateStep(ctx, st); uerr != nil {
				slog.Err("persist failed compensation", uerr)
			}
			metrics.IncCompensationsFailed()
			slog.Errorf("compensation call failed", map[string]interface{}{
				"step":     st.Name,
				"sequence": st.Sequence,
				"error":    err.Error(),
			})
			failed++
			continue
		}

		st.Status = saga.StepCompensated
		if err := e.store.UpdateStep(ctx, st); err != nil {
			slog.Err("persist compensated step", err)
		}
		e.publish(ctx, events.NewStepCompensated(sg, st, false, ""))
		compensated++
	}
	return compensated, failed
}

func (e *CompensationEngine) publish(ctx context.Context, ev *events.Event) {
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Err("publish compensation event", err)
	}
}
