package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Engine error codes surfaced through DomainError.Code.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
	CodeTransientStore      = "TRANSIENT_STORE"
	CodeStaleJob            = "STALE_JOB"
	CodeAssignmentConflict  = "ASSIGNMENT_CONFLICT"
	CodeNoCandidate         = "NO_CANDIDATE"
	CodeNotAssignedToCaller = "NOT_ASSIGNED_TO_CALLER"
	CodeEmptyRemarks        = "EMPTY_REMARKS"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewTransientStore marks a store failure the queue should retry with backoff.
func NewTransientStore(err error) error {
	return &DomainError{
		Code:       CodeTransientStore,
		Message:    "store temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewStaleJob marks a job whose ticket no longer needs assignment. Workers
// ack and discard it silently.
func NewStaleJob(ticketID string) error {
	return NewDomainError(CodeStaleJob, "ticket no longer assignable", http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

// NewAssignmentConflict marks a lost conditional-write race. The ticket is
// already correctly assigned by another worker.
func NewAssignmentConflict(ticketID string) error {
	return NewDomainError(CodeAssignmentConflict, "another worker won the assignment", http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

// NewNoCandidate marks an assignment attempt with no eligible analyst. The
// job is re-enqueued with backoff rather than failed.
func NewNoCandidate(department string) error {
	return NewDomainError(CodeNoCandidate, "no eligible analyst", http.StatusConflict,
		map[string]any{"department": department})
}

func NewNotAssignedToCaller(ticketID string) error {
	return NewDomainError(CodeNotAssignedToCaller, "ticket is not assigned to caller in progress", http.StatusConflict,
		map[string]any{"ticket_id": ticketID})
}

func NewEmptyRemarks() error {
	return NewDomainError(CodeEmptyRemarks, "resolution remarks required", http.StatusBadRequest, nil)
}

// HasCode reports whether err carries the given engine error code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
