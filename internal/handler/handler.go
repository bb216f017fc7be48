// Package handler exposes the orchestrator's HTTP API: starting sagas,
// step completion callbacks, lookups, and the event audit trail.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/payrail/orchestrator/internal/events"
	"github.com/payrail/orchestrator/internal/lookup"
	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/orchestrator"
	"github.com/payrail/orchestrator/internal/repository"
	"github.com/payrail/orchestrator/internal/saga"
	apierrors "github.com/payrail/orchestrator/pkg/errors"
	"github.com/payrail/orchestrator/pkg/health"
	"github.com/payrail/orchestrator/pkg/logger"
	"github.com/payrail/orchestrator/pkg/response"
	"github.com/payrail/orchestrator/pkg/tracing"
)

// Handler wires the HTTP routes to the orchestrator services.
type Handler struct {
	orch     *orchestrator.Orchestrator
	lookup   *lookup.Service
	events   *events.Service
	registry *saga.Registry
	health   *health.Health
	log      *logger.Logger

	maxBody int64
}

func New(orch *orchestrator.Orchestrator, lk *lookup.Service, ev *events.Service, registry *saga.Registry, h *health.Health, log *logger.Logger, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		orch:     orch,
		lookup:   lk,
		events:   ev,
		registry: registry,
		health:   h,
		log:      log,
		maxBody:  maxBody,
	}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(response.RequestIDMiddleware)
	r.Use(response.RecoveryMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return response.LimitBodyMiddleware(h.maxBody, next)
	})
	r.Use(tracing.HTTPMiddleware)

	r.Get("/health/live", h.health.LiveHandler())
	r.Get("/health/ready", h.health.ReadyHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sagas", h.startSaga)
		r.Get("/sagas/{sagaID}", h.getSaga)
		r.Get("/sagas/{sagaID}/steps", h.getSteps)
		r.Get("/sagas/{sagaID}/events", h.getSagaEvents)
		r.Post("/sagas/{sagaID}/steps/{stepID}/complete", h.completeStep)
		r.Post("/sagas/{sagaID}/steps/{stepID}/fail", h.failStep)

		r.Get("/templates", h.listTemplates)

		r.Get("/lookup/payment/{paymentID}", h.byPaymentID)
		r.Get("/lookup/correlation/{correlationID}", h.byCorrelationID)
		r.Get("/events/correlation/{correlationID}", h.getCorrelationEvents)
	})

	return r
}

type startSagaRequest struct {
	TemplateName   string    `json:"templateName"`
	TenantID       string    `json:"tenantId"`
	BusinessUnitID string    `json:"businessUnitId"`
	CorrelationID  string    `json:"correlationId"`
	PaymentID      string    `json:"paymentId"`
	Data           saga.Data `json:"data"`
	RequestedBy    string    `json:"requestedBy"`
}

func (h *Handler) startSaga(w http.ResponseWriter, r *http.Request) {
	var req startSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidRequest, "malformed JSON body")
		return
	}
	if msg := validateStart(&req); msg != "" {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidParam, msg)
		return
	}

	sg, err := h.orch.StartSaga(r.Context(), &saga.StartRequest{
		TemplateName:   req.TemplateName,
		TenantID:       req.TenantID,
		BusinessUnitID: req.BusinessUnitID,
		CorrelationID:  req.CorrelationID,
		PaymentID:      req.PaymentID,
		Data:           req.Data,
		RequestedBy:    req.RequestedBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Re-read so the caller sees the state after synchronous execution.
	if fresh, ferr := h.lookup.ByID(r.Context(), sg.ID); ferr == nil {
		sg = fresh
	}
	response.WriteJSON(w, http.StatusCreated, sg)
}

func validateStart(req *startSagaRequest) string {
	switch {
	case strings.TrimSpace(req.TemplateName) == "":
		return "templateName is required"
	case strings.TrimSpace(req.TenantID) == "":
		return "tenantId is required"
	case strings.TrimSpace(req.CorrelationID) == "":
		return "correlationId is required"
	}
	return ""
}

func (h *Handler) getSaga(w http.ResponseWriter, r *http.Request) {
	sg, err := h.lookup.ByID(r.Context(), chi.URLParam(r, "sagaID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sg)
}

func (h *Handler) getSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.lookup.Steps(r.Context(), chi.URLParam(r, "sagaID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, steps)
}

func (h *Handler) getSagaEvents(w http.ResponseWriter, r *http.Request) {
	recs, err := h.events.BySagaID(r.Context(), chi.URLParam(r, "sagaID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, recs)
}

type stepCallbackRequest struct {
	Output    saga.Data `json:"output"`
	Error     string    `json:"error"`
	ErrorData saga.Data `json:"errorData"`
}

func (h *Handler) completeStep(w http.ResponseWriter, r *http.Request) {
	var req stepCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidRequest, "malformed JSON body")
		return
	}

	err := h.orch.HandleStepCompletion(r.Context(), chi.URLParam(r, "sagaID"), chi.URLParam(r, "stepID"), req.Output)
	h.writeCallbackResult(w, r, err)
}

func (h *Handler) failStep(w http.ResponseWriter, r *http.Request) {
	var req stepCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Error) == "" {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidParam, "error is required")
		return
	}

	err := h.orch.HandleStepFailure(r.Context(), chi.URLParam(r, "sagaID"), chi.URLParam(r, "stepID"), req.Error, req.ErrorData)
	h.writeCallbackResult(w, r, err)
}

// writeCallbackResult treats duplicate or out-of-order callbacks as
// accepted no-ops so retrying services do not see spurious failures.
func (h *Handler) writeCallbackResult(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": "processed"})
		return
	}
	if orchestrator.IsBenign(err) {
		response.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"reason": err.Error(),
		})
		return
	}
	h.writeError(w, r, err)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string][]string{"templates": h.registry.Names()})
}

func (h *Handler) byPaymentID(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidParam, "tenantId query parameter is required")
		return
	}
	sg, err := h.lookup.ByPaymentID(r.Context(), tenantID, chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sg)
}

func (h *Handler) byCorrelationID(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		response.WriteErrorCode(w, r, apierrors.CodeInvalidParam, "tenantId query parameter is required")
		return
	}
	sg, err := h.lookup.ByCorrelationID(r.Context(), tenantID, chi.URLParam(r, "correlationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, sg)
}

func (h *Handler) getCorrelationEvents(w http.ResponseWriter, r *http.Request) {
	recs, err := h.events.ByCorrelationID(r.Context(), chi.URLParam(r, "correlationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, recs)
}

// writeError maps domain errors to coded HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		response.WriteError(w, r, apiErr)
		return
	}

	switch {
	case errors.Is(err, saga.ErrTemplateNotFound):
		response.WriteErrorCode(w, r, apierrors.CodeTemplateNotFound, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		response.WriteErrorCode(w, r, apierrors.CodeSagaNotFound, "")
	case errors.Is(err, repository.ErrOptimisticLockFailed):
		response.WriteErrorCode(w, r, apierrors.CodeConcurrentUpdate, "saga was modified concurrently, retry")
	case errors.Is(err, orchestrator.ErrSagaNotActive):
		response.WriteErrorCode(w, r, apierrors.CodeSagaNotActive, "")
	case errors.Is(err, orchestrator.ErrStepNotRunning):
		response.WriteErrorCode(w, r, apierrors.CodeStepNotRunning, "")
	case errors.Is(err, orchestrator.ErrStepNotPending):
		response.WriteErrorCode(w, r, apierrors.CodeStepNotPending, "")
	case errors.Is(err, orchestrator.ErrAlreadyCompensating):
		response.WriteErrorCode(w, r, apierrors.CodeAlreadyCompensating, "")
	default:
		h.log.Err("request failed", err)
		response.WriteErrorCode(w, r, apierrors.CodeInternal, "internal error")
	}
}
