package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Sentinels matched with errors.Is. Every AppError wraps exactly one.
var (
	ErrNotFound                = errors.New("resource not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrForbidden               = errors.New("forbidden")
	ErrBadRequest              = errors.New("bad request")
	ErrConflict                = errors.New("conflict")
	ErrInternal                = errors.New("internal error")
	ErrValidation              = errors.New("validation error")
	ErrInvalidCredential       = errors.New("case not found or invalid credential")
	ErrIllegalTransition       = errors.New("illegal state transition")
	ErrMissingResolution       = errors.New("missing resolution document")
	ErrInvalidPermissionSubset = errors.New("invalid permission subset")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	Offending  []string          `json:"offending,omitempty"`
	cause      error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and, for internal errors, the store error.
func (e *AppError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Err, e.cause}
	}
	return []error{e.Err}
}

// Is matches another AppError by code so callers can compare against
// freshly built values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is is errors.Is re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is errors.New re-exported for the same reason.
func New(text string) error {
	return errors.New(text)
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// NotFoundOrInvalidCredential is the single outcome of every failed public
// case lookup. It carries no details, whatever the cause.
func NotFoundOrInvalidCredential() *AppError {
	return &AppError{
		Err:        ErrInvalidCredential,
		Message:    "case not found or access code invalid",
		Code:       "CASE_NOT_FOUND_OR_INVALID_CREDENTIAL",
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a forbidden error naming the missing permission.
func Forbidden(permission string) *AppError {
	e := &AppError{
		Err:        ErrForbidden,
		Message:    "insufficient permissions",
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
	if permission != "" {
		e.Details = map[string]string{"permission": permission}
	}
	return e
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// IllegalStateTransition reports an edge missing from the state graph.
func IllegalStateTransition(from, to string) *AppError {
	return &AppError{
		Err:        ErrIllegalTransition,
		Message:    fmt.Sprintf("cannot move case from %s to %s", from, to),
		Code:       "ILLEGAL_STATE_TRANSITION",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"from": from, "to": to},
	}
}

// MissingResolutionDocument reports a closing transition without a resolution.
func MissingResolutionDocument(caseNumber string) *AppError {
	return &AppError{
		Err:        ErrMissingResolution,
		Message:    "a resolution must be recorded before the case can be closed",
		Code:       "MISSING_RESOLUTION_DOCUMENT",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"case_number": caseNumber},
	}
}

// InvalidPermissionSubset lists the codes outside the archetype's set.
func InvalidPermissionSubset(archetype string, offending []string) *AppError {
	codes := append([]string(nil), offending...)
	sort.Strings(codes)
	return &AppError{
		Err:        ErrInvalidPermissionSubset,
		Message:    fmt.Sprintf("permissions exceed archetype %s", archetype),
		Code:       "INVALID_PERMISSION_SUBSET",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"archetype": archetype},
		Offending:  codes,
	}
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       "CONFLICT",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
		cause:      err,
	}
}

// Wrap wraps an error with additional context. Application errors pass
// through untouched so their code survives the store layer.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return &AppError{
		Err:        ErrInternal,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
		cause:      err,
	}
}
