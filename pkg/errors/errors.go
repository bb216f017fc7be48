// Package errors defines the coded business errors shared by the
// orchestrator's HTTP surface and internal services.
package errors

import (
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	// Generic
	CodeOK             Code = "OK"
	CodeUnknown        Code = "UNKNOWN"
	CodeInvalidParam   Code = "INVALID_PARAM"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeInternal       Code = "INTERNAL"
	CodeUnavailable    Code = "UNAVAILABLE"
	CodeTimeout        Code = "TIMEOUT"
	CodeRequestTooLarge Code = "REQUEST_TOO_LARGE"

	// Saga lifecycle
	CodeTemplateNotFound   Code = "TEMPLATE_NOT_FOUND"
	CodeSagaNotFound       Code = "SAGA_NOT_FOUND"
	CodeStepNotFound       Code = "STEP_NOT_FOUND"
	CodeSagaNotActive      Code = "SAGA_NOT_ACTIVE"
	CodeStepNotRunning     Code = "STEP_NOT_RUNNING"
	CodeStepNotPending     Code = "STEP_NOT_PENDING"
	CodeAlreadyCompensating Code = "ALREADY_COMPENSATING"
	CodeConcurrentUpdate   Code = "CONCURRENT_UPDATE"

	// Step execution
	CodeStepExecutionFailure Code = "STEP_EXECUTION_FAILURE"
	CodeCompensationFailure  Code = "COMPENSATION_FAILURE"
	CodeServiceUnresolvable  Code = "SERVICE_UNRESOLVABLE"

	// Tenant context
	CodeTenantNotFound       Code = "TENANT_NOT_FOUND"
	CodeBusinessUnitNotFound Code = "BUSINESS_UNIT_NOT_FOUND"
)

// Error is the structured business error returned to API callers.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf creates a formatted error.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NewWithDefault creates an error, substituting a default message for the
// code when message is empty.
func NewWithDefault(code Code, message string) *Error {
	if message == "" {
		message = defaultMessage(code)
	}
	return New(code, message)
}

// WithRequestID attaches the request ID for correlation.
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

func isRetryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeUnavailable, CodeConcurrentUpdate, CodeStepExecutionFailure:
		return true
	default:
		return false
	}
}

func defaultMessage(code Code) string {
	switch code {
	case CodeTemplateNotFound:
		return "saga template not found"
	case CodeSagaNotFound:
		return "saga not found"
	case CodeStepNotFound:
		return "saga step not found"
	case CodeSagaNotActive:
		return "saga is not active"
	case CodeStepNotRunning:
		return "step is not running"
	case CodeStepNotPending:
		return "step is not pending"
	case CodeRequestTooLarge:
		return "request body too large"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeUnauthenticated:
		return "unauthenticated"
	case CodeInternal:
		return "internal error"
	default:
		return string(code)
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidRequest, CodeStepNotPending:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound, CodeTemplateNotFound, CodeSagaNotFound, CodeStepNotFound,
		CodeTenantNotFound, CodeBusinessUnitNotFound, CodeServiceUnresolvable:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConcurrentUpdate, CodeAlreadyCompensating,
		CodeSagaNotActive, CodeStepNotRunning:
		return http.StatusConflict
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeInternal, CodeUnknown, CodeStepExecutionFailure, CodeCompensationFailure:
		return http.StatusInternalServerError
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases.
var (
	ErrInvalidParam     = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrUnauthenticated  = New(CodeUnauthenticated, "unauthenticated")
	ErrTemplateNotFound = New(CodeTemplateNotFound, "saga template not found")
	ErrSagaNotFound     = New(CodeSagaNotFound, "saga not found")
	ErrStepNotFound     = New(CodeStepNotFound, "saga step not found")
)
