package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for classification with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAIUnavailable     = errors.New("text generation unavailable")
)

// Error codes returned to callers.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeInternal   = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a compare-and-set mismatch or a disallowed transition.
// The monitoring engine treats it as "already handled"; interactive callers retry.
type ConflictError struct {
	ClaimID string
	Reason  string
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("claim %s: %s", e.ClaimID, e.Reason)
}

func (e *ConflictError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConflict, e.Err}
	}
	return []error{ErrConflict}
}

// NewConflictError creates a ConflictError for a stale write.
func NewConflictError(claimID, reason string) *ConflictError {
	return &ConflictError{ClaimID: claimID, Reason: reason}
}

// NewTransitionError creates a ConflictError for a transition outside the state table.
func NewTransitionError(claimID string, from, to Status) *ConflictError {
	return &ConflictError{
		ClaimID: claimID,
		Reason:  fmt.Sprintf("cannot move from %s to %s", from, to),
		Err:     ErrInvalidTransition,
	}
}

// IsConflict reports whether err is a compare-and-set or transition conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	MessageAR string    `json:"message_ar"`
	Details   string    `json:"details,omitempty"`
	Field     string    `json:"field,omitempty"`
	Status    int       `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps any error onto the caller-facing shape: 400 for validation,
// 404 for not-found, 409 for conflicts, 500 for everything else.
func ToAPIError(err error, requestID string) *APIError {
	apiErr := &APIError{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}

	var validation *ValidationError
	var conflict *ConflictError
	switch {
	case errors.As(err, &validation):
		apiErr.Code = ErrCodeValidation
		apiErr.Status = http.StatusBadRequest
		apiErr.Message = "invalid input"
		apiErr.MessageAR = "البيانات المدخلة غير صحيحة أو ناقصة"
		apiErr.Field = validation.Field
		apiErr.Details = validation.Message
	case errors.Is(err, ErrNotFound):
		apiErr.Code = ErrCodeNotFound
		apiErr.Status = http.StatusNotFound
		apiErr.Message = "resource not found"
		apiErr.MessageAR = "العنصر المطلوب غير موجود"
		apiErr.Details = err.Error()
	case errors.As(err, &conflict), errors.Is(err, ErrConflict):
		apiErr.Code = ErrCodeConflict
		apiErr.Status = http.StatusConflict
		apiErr.Message = "claim was modified concurrently or is in the wrong state, retry"
		apiErr.MessageAR = "تم تعديل المطالبة أو أنها في حالة لا تسمح بهذا الإجراء، يرجى المحاولة مرة أخرى"
		apiErr.Details = err.Error()
	default:
		apiErr.Code = ErrCodeInternal
		apiErr.Status = http.StatusInternalServerError
		apiErr.Message = "unexpected error"
		apiErr.MessageAR = "حدث خطأ غير متوقع، يرجى المحاولة لاحقاً"
	}
	return apiErr
}
