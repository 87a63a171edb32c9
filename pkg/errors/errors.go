// Package errors defines the typed error every layer returns. The HTTP
// layer renders it through ErrorHandler.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInvalidState ErrorType = "INVALID_STATE"

	// absorbed by the policy cache, which fails closed
	ErrorTypePolicyUnavailable ErrorType = "POLICY_UNAVAILABLE"

	ErrorTypeInternal    ErrorType = "INTERNAL"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
	ErrorTypeDatabase    ErrorType = "DATABASE"
)

// Machine-readable codes, finer grained than ErrorType
const (
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeSessionExists   = "SESSION_EXISTS"
	CodeApprovalExists  = "APPROVAL_EXISTS"
	CodeInvalidPatch    = "INVALID_PATCH"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeDecisionPending = "DECISION_IN_PROGRESS"
	CodeAlreadyDecided  = "ALREADY_DECIDED"
)

// AppError carries a type, an optional code and details for the response
// body, plus the HTTP status it maps to.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return string(e.Type) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCode sets Code and returns e
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails merges details into e.Details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets one detail
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	return e.WithDetails(map[string]interface{}{key: value})
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// stack skips runtime.Callers, stack itself and newError.
func stack() string {
	var pcs [32]uintptr
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs[:])])

	var sb strings.Builder
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s:%d %s\n", f.File, f.Line, f.Function)
		if !more {
			return sb.String()
		}
	}
}

func newError(t ErrorType, status int, message string) *AppError {
	return &AppError{Type: t, Message: message, HTTPStatus: status, StackTrace: stack()}
}

func NewValidationError(message string) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message)
}

func NewValidationErrorf(format string, args ...interface{}) *AppError {
	return NewValidationError(fmt.Sprintf(format, args...))
}

// NewNotFoundError reports a missing resource, e.g. ("session", "s1")
func NewNotFoundError(resource, id string) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, resource+" not found").
		WithDetails(map[string]interface{}{"resource": resource, "id": id})
}

// NewPatchValidationError rejects a whole patch because of the operation at
// index. It maps to 422, unlike malformed requests.
func NewPatchValidationError(index int, opID, op, reason string) *AppError {
	msg := fmt.Sprintf("operation %d (%s) rejected: %s", index, op, reason)
	return newError(ErrorTypeValidation, http.StatusUnprocessableEntity, msg).
		WithCode(CodeInvalidPatch).
		WithDetails(map[string]interface{}{
			"op_index": index,
			"op_id":    opID,
			"op":       op,
			"reason":   reason,
		})
}

func NewConflictError(message string) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message)
}

// NewVersionConflictError reports a lost compare-and-swap. Clients read
// details.current_version to rebase.
func NewVersionConflictError(sessionID string, expected, current int) *AppError {
	msg := fmt.Sprintf("expected version %d but session is at version %d", expected, current)
	return NewConflictError(msg).
		WithCode(CodeVersionConflict).
		WithDetails(map[string]interface{}{
			"session_id":       sessionID,
			"expected_version": expected,
			"current_version":  current,
		})
}

// NewInvalidStateError is returned for operations the resource's lifecycle
// no longer allows, such as deciding an approval twice.
func NewInvalidStateError(message string) *AppError {
	return newError(ErrorTypeInvalidState, http.StatusConflict, message)
}

func NewPolicyUnavailableError(tenantID string, err error) *AppError {
	msg := fmt.Sprintf("policy source unavailable for tenant '%s'", tenantID)
	return newError(ErrorTypePolicyUnavailable, http.StatusServiceUnavailable, msg).WithCause(err)
}

func NewInternalError(message string) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message)
}

func NewTimeoutError(operation string) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, operation+" timed out")
}

func NewUnavailableError(service string) *AppError {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, service+" is unavailable")
}

// NewDatabaseError wraps a storage failure that is not a conflict or a miss
func NewDatabaseError(operation string, err error) *AppError {
	msg := fmt.Sprintf("database operation '%s' failed", operation)
	return newError(ErrorTypeDatabase, http.StatusInternalServerError, msg).WithCause(err)
}

// GetAppError returns the first AppError in err's chain, or nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func IsAppError(err error) bool { return GetAppError(err) != nil }

// IsType reports whether err's first AppError has type t
func IsType(err error, t ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == t
}

func IsNotFound(err error) bool          { return IsType(err, ErrorTypeNotFound) }
func IsValidation(err error) bool        { return IsType(err, ErrorTypeValidation) }
func IsConflict(err error) bool          { return IsType(err, ErrorTypeConflict) }
func IsInvalidState(err error) bool      { return IsType(err, ErrorTypeInvalidState) }
func IsPolicyUnavailable(err error) bool { return IsType(err, ErrorTypePolicyUnavailable) }

// CurrentVersion extracts the current_version detail of a version conflict.
func CurrentVersion(err error) (int, bool) {
	appErr := GetAppError(err)
	if appErr == nil || appErr.Type != ErrorTypeConflict {
		return 0, false
	}
	v, ok := appErr.Details["current_version"].(int)
	return v, ok
}

// Wrap prefixes an AppError's message with context, or turns any other error
// into an internal one.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = message + ": " + appErr.Message
		return appErr
	}
	return NewInternalError(message).WithCause(err)
}
