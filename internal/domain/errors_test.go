package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{
			name:       "Validation error",
			err:        NewValidationError("patient_id", "is required", ""),
			wantCode:   ErrCodeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Wrapped validation error",
			err:        fmt.Errorf("generating claim: %w", NewValidationError("requested_sessions", "must be positive", 0)),
			wantCode:   ErrCodeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Not found error",
			err:        NewNotFoundError("claim", "c-1"),
			wantCode:   ErrCodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Sentinel not found",
			err:        fmt.Errorf("claim not found: %w", ErrNotFound),
			wantCode:   ErrCodeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Stale write",
			err:        NewConflictError("c-1", "status changed"),
			wantCode:   ErrCodeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "Invalid transition",
			err:        NewTransitionError("c-1", StatusPaid, StatusSubmitted),
			wantCode:   ErrCodeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "Unexpected error",
			err:        errors.New("connection reset"),
			wantCode:   ErrCodeInternal,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := ToAPIError(tt.err, "req-123")

			if apiErr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, apiErr.Code)
			}
			if apiErr.Status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, apiErr.Status)
			}
			if apiErr.MessageAR == "" {
				t.Error("Expected an Arabic message")
			}
			if apiErr.RequestID != "req-123" {
				t.Errorf("Expected requestID req-123, got %s", apiErr.RequestID)
			}
			if time.Since(apiErr.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", apiErr.Timestamp)
			}
		})
	}
}

func TestToAPIError_ValidationField(t *testing.T) {
	apiErr := ToAPIError(NewValidationError("treatment_plan_id", "is required", ""), "")
	if apiErr.Field != "treatment_plan_id" {
		t.Errorf("Expected field treatment_plan_id, got %s", apiErr.Field)
	}
	if apiErr.Details != "is required" {
		t.Errorf("Expected details 'is required', got %s", apiErr.Details)
	}
}

func TestConflictErrorClassification(t *testing.T) {
	stale := NewConflictError("c-1", "status changed")
	if !IsConflict(stale) {
		t.Error("Expected stale write to be a conflict")
	}
	if errors.Is(stale, ErrInvalidTransition) {
		t.Error("Stale write should not be an invalid transition")
	}

	transition := NewTransitionError("c-1", StatusApproved, StatusRejected)
	if !IsConflict(transition) {
		t.Error("Expected transition error to be a conflict")
	}
	if !errors.Is(transition, ErrInvalidTransition) {
		t.Error("Expected transition error to wrap ErrInvalidTransition")
	}

	wrapped := fmt.Errorf("resubmitting: %w", stale)
	var ce *ConflictError
	if !errors.As(wrapped, &ce) || ce.ClaimID != "c-1" {
		t.Error("Expected to unwrap the conflict error")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("treatment plan", "tp-9")
	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected NotFoundError to match ErrNotFound")
	}
	expected := `treatment plan "tp-9" not found`
	if err.Error() != expected {
		t.Errorf("Expected %s, got %s", expected, err.Error())
	}
}
