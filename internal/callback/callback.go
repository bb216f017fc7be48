// Package callback consumes step-outcome messages from the callback
// stream. Services that answered a step call with 202 Accepted report the
// eventual outcome here instead of through the HTTP callback endpoints.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/payrail/orchestrator/internal/orchestrator"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/pkg/logger"
	"github.com/payrail/orchestrator/pkg/streams"
)

const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Message is one step outcome reported over the callback stream.
type Message struct {
	SagaID    string    `json:"sagaId"`
	StepID    string    `json:"stepId"`
	Status    string    `json:"status"`
	Output    saga.Data `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorData saga.Data `json:"errorData,omitempty"`
}

// router is the callback slice of the orchestrator.
type router interface {
	HandleStepCompletion(ctx context.Context, sagaID, stepID string, output saga.Data) error
	HandleStepFailure(ctx context.Context, sagaID, stepID, errMsg string, errData saga.Data) error
}

// NewHandler returns a stream handler routing callback messages into the
// orchestrator. Malformed messages and duplicate callbacks are acked, not
// retried; only infrastructure errors leave the entry pending.
func NewHandler(orch router, log *logger.Logger) streams.Handler {
	return func(ctx context.Context, msg *streams.Message) error {
		var cb Message
		if err := json.Unmarshal(msg.Data, &cb); err != nil {
			log.Warnf("drop malformed callback", map[string]interface{}{
				"msgID": msg.ID,
				"error": err.Error(),
			})
			return nil
		}
		if cb.SagaID == "" || cb.StepID == "" {
			log.Warnf("drop callback without saga/step id", map[string]interface{}{"msgID": msg.ID})
			return nil
		}

		var err error
		switch strings.ToUpper(cb.Status) {
		case StatusCompleted:
			err = orch.HandleStepCompletion(ctx, cb.SagaID, cb.StepID, cb.Output)
		case StatusFailed:
			errMsg := cb.Error
			if errMsg == "" {
				errMsg = "step reported failed"
			}
			err = orch.HandleStepFailure(ctx, cb.SagaID, cb.StepID, errMsg, cb.ErrorData)
		default:
			log.Warnf("drop callback with unknown status", map[string]interface{}{
				"msgID":  msg.ID,
				"status": cb.Status,
			})
			return nil
		}

		if err != nil {
			if orchestrator.IsBenign(err) {
				log.WithSaga(cb.SagaID, "").Infof("ignore duplicate callback", map[string]interface{}{
					"stepID": cb.StepID,
					"reason": err.Error(),
				})
				return nil
			}
			return fmt.Errorf("route callback for saga %s step %s: %w", cb.SagaID, cb.StepID, err)
		}
		return nil
	}
}
