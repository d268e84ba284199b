package domain

import (
	"context"
	"time"
)

// ClaimRepository persists claims. Every mutation goes through CompareAndSwap so
// two writers racing on the same claim cannot both win.
type ClaimRepository interface {
	Create(ctx context.Context, claim *Claim) error
	GetByID(ctx context.Context, id string) (*Claim, error)
	// CompareAndSwap writes claim only if the stored row still has the expected
	// status and workflow step. A mismatch returns a *ConflictError.
	CompareAndSwap(ctx context.Context, claim *Claim, expectedStatus Status, expectedStep WorkflowStep) error
	FindByStatus(ctx context.Context, statuses ...Status) ([]*Claim, error)
	List(ctx context.Context, limit, offset int) ([]*Claim, error)
}

// TreatmentPlan is the approved plan a claim is generated from.
type TreatmentPlan struct {
	ID          string          `json:"id"`
	PatientID   string          `json:"patient_id"`
	DoctorID    string          `json:"doctor_id"`
	ServiceType string          `json:"service_type"`
	Description string          `json:"description"`
	Clinical    ClinicalDetails `json:"clinical"`
	Status      string          `json:"status"`
}

// InsuranceProfile is the patient's insurance record.
type InsuranceProfile struct {
	PatientID    string `json:"patient_id"`
	ProviderName string `json:"provider_name"`
	PolicyNumber string `json:"policy_number,omitempty"`
}

// InsuranceProvider is an insurer known to the clinic.
type InsuranceProvider struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	CoveragePercentage float64 `json:"coverage_percentage"`
	IsActive           bool    `json:"is_active"`
}

// ClinicDirectory resolves the records a claim is generated from.
type ClinicDirectory interface {
	GetTreatmentPlan(ctx context.Context, id string) (*TreatmentPlan, error)
	// GetPatientInsurance returns (nil, nil) when the patient exists without a profile.
	GetPatientInsurance(ctx context.Context, patientID string) (*InsuranceProfile, error)
	// LookupInsuranceProvider returns (nil, nil) when no provider matches the name.
	LookupInsuranceProvider(ctx context.Context, name string) (*InsuranceProvider, error)
}

// GenerationResult is the output of a text generation call.
type GenerationResult struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// TextGenerator is the AI text service.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (*GenerationResult, error)
}

// Notification kinds.
const (
	NotifyReviewNeeded = "claim_review_needed"
	NotifyClaimSummary = "claim_summary"
	NotifyClaimOutcome = "claim_outcome"
	NotifyResubmitted  = "claim_resubmitted"
	NotifyEscalation   = "claim_escalation"
	NotifyFollowUp     = "claim_follow_up"
	EntityTypeClaim    = "insurance_claim"
	RoleAdmin          = "admin"
	RoleDoctor         = "doctor"
	RolePatient        = "patient"
	RoleInsuranceStaff = "insurance"
)

// Notification is a message to a user or to every user holding a role.
type Notification struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Role       string    `json:"role,omitempty"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationSink delivers notifications.
type NotificationSink interface {
	NotifyUser(ctx context.Context, userID string, n Notification) error
	NotifyRole(ctx context.Context, role string, n Notification) error
}

// SettingsProvider reads runtime workflow settings.
type SettingsProvider interface {
	WorkflowSettings(ctx context.Context) (WorkflowSettings, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
