// Package domain contains the core entities of insurance claim automation:
// claims and their workflow state machine, learned claim templates, the
// learning log, and the collaborator interfaces the services depend on.
package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Status represents the lifecycle state of an insurance claim.
type Status string

const (
	StatusDraft                Status = "draft"
	StatusPending              Status = "pending"
	StatusAwaitingDoctorReview Status = "awaiting_doctor_review"
	StatusSubmitted            Status = "submitted"
	StatusUnderReview          Status = "under_review"
	StatusApproved             Status = "approved"
	StatusRejected             Status = "rejected"
	StatusPaid                 Status = "paid"
)

// WorkflowStep is the claim's position in its approval pipeline. It is
// correlated with Status but also acts as the dedupe key for notifications.
type WorkflowStep string

const (
	StepInitial              WorkflowStep = "initial"
	StepAwaitingDoctorReview WorkflowStep = "awaiting_doctor_review"
	StepReadyForSubmission   WorkflowStep = "ready_for_submission"
	StepSubmitted            WorkflowStep = "submitted"
	StepUnderReview          WorkflowStep = "under_review"
	StepProcessed            WorkflowStep = "processed"
	StepResubmitted          WorkflowStep = "resubmitted"
	StepPaid                 WorkflowStep = "paid"
)

// Outcome is the insurer's decision on a submitted claim.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// IsValid reports whether the outcome is one of the known values.
func (o Outcome) IsValid() bool {
	return o == OutcomeApproved || o == OutcomeRejected
}

// transitions is the single source of truth for allowed status changes.
var transitions = map[Status][]Status{
	StatusDraft:                {StatusAwaitingDoctorReview, StatusPending, StatusSubmitted},
	StatusPending:              {StatusAwaitingDoctorReview, StatusSubmitted},
	StatusAwaitingDoctorReview: {StatusPending},
	StatusSubmitted:            {StatusUnderReview, StatusApproved, StatusRejected},
	StatusUnderReview:          {StatusApproved, StatusRejected},
	StatusApproved:             {StatusPaid},
	StatusRejected:             {StatusSubmitted},
	StatusPaid:                 {},
}

// IsValid reports whether s is a known claim status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusPaid
}

// IsPreSubmission reports whether the claim has not been sent to the insurer yet.
// draft and pending are synonyms for callers.
func (s Status) IsPreSubmission() bool {
	switch s {
	case StatusDraft, StatusPending, StatusAwaitingDoctorReview:
		return true
	}
	return false
}

// CanTransition reports whether a claim may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the claim to the given status. Moves outside the transition
// table are rejected with a ConflictError wrapping ErrInvalidTransition.
func (c *Claim) Transition(to Status) error {
	if !CanTransition(c.Status, to) {
		return NewTransitionError(c.ID, c.Status, to)
	}
	c.Status = to
	return nil
}

// ParseStatus converts free text into a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.IsValid()
}

// ClinicalDetails are the clinical narrative fields copied from the treatment plan.
type ClinicalDetails struct {
	ChiefComplaint string `json:"chief_complaint,omitempty"`
	Assessment     string `json:"assessment,omitempty"`
	Plan           string `json:"plan,omitempty"`
	Diagnosis      string `json:"diagnosis,omitempty"`
}

// AISuggestions is advisory data attached to a claim. It never drives a decision.
type AISuggestions struct {
	TemplateID             string           `json:"template_id,omitempty"`
	RequiredFields         []string         `json:"required_fields,omitempty"`
	MissingFields          []string         `json:"missing_fields,omitempty"`
	Warnings               []string         `json:"warnings,omitempty"`
	CommonPhrases          []SuccessPattern `json:"common_phrases,omitempty"`
	TemplateSuccessRate    *float64         `json:"template_success_rate,omitempty"`
	RecentLearnings        []string         `json:"recent_learnings,omitempty"`
	SuggestedJustification string           `json:"suggested_justification,omitempty"`
	RevisionModel          string           `json:"revision_model,omitempty"`
	GeneratedAt            time.Time        `json:"generated_at"`
}

// Claim is a request for insurance reimbursement tied to a patient's treatment.
type Claim struct {
	ID                    string          `json:"id"`
	ClaimNumber           string          `json:"claim_number"`
	PatientID             string          `json:"patient_id"`
	DoctorID              string          `json:"doctor_id"`
	InsuranceCompanyID    *string         `json:"insurance_company_id"`
	TreatmentPlanID       *string         `json:"treatment_plan_id,omitempty"`
	ServiceType           string          `json:"service_type"`
	RequestedSessions     int             `json:"requested_sessions"`
	ServiceDates          []time.Time     `json:"service_dates"`
	TotalAmount           float64         `json:"total_amount"`
	CoveredAmount         float64         `json:"covered_amount"`
	PatientResponsibility float64         `json:"patient_responsibility"`
	CoveragePercentage    float64         `json:"coverage_percentage"`
	Clinical              ClinicalDetails `json:"clinical"`
	DoctorNotes           *string         `json:"doctor_notes"`
	MedicalJustification  *string         `json:"medical_justification"`
	ServiceDescription    string          `json:"service_description"`
	Status                Status          `json:"status"`
	WorkflowStep          WorkflowStep    `json:"workflow_step"`
	RequiresDoctorReview  bool            `json:"requires_doctor_review"`
	AutoGenerated         bool            `json:"auto_generated"`
	AISuggestions         *AISuggestions  `json:"ai_suggestions,omitempty"`
	AIConfidence          *float64        `json:"ai_confidence,omitempty"`
	RejectionReason       *string         `json:"rejection_reason"`
	RejectionCount        int             `json:"rejection_count"`
	ResubmissionNotes     *string         `json:"resubmission_notes"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	SubmittedAt           *time.Time      `json:"submitted_at"`
	ProcessedAt           *time.Time      `json:"processed_at"`
}

// Field names used by template learning. Presence is checked, content is not.
const (
	FieldChiefComplaint   = "chief_complaint"
	FieldAssessment       = "assessment"
	FieldPlan             = "plan"
	FieldDiagnosis        = "diagnosis"
	FieldTreatment        = "treatment"
	FieldMedicalNecessity = "medical_necessity"
	FieldProgressNotes    = "progress_notes"
	FieldTotalAmount      = "total_amount"
)

// LearnedFields lists every field name template learning tracks, in a stable order.
var LearnedFields = []string{
	FieldChiefComplaint,
	FieldAssessment,
	FieldPlan,
	FieldDiagnosis,
	FieldTreatment,
	FieldMedicalNecessity,
	FieldProgressNotes,
}

// FieldValue returns the claim's value for a learned field name.
func (c *Claim) FieldValue(field string) string {
	switch field {
	case FieldChiefComplaint:
		return c.Clinical.ChiefComplaint
	case FieldAssessment:
		return c.Clinical.Assessment
	case FieldPlan:
		return c.Clinical.Plan
	case FieldDiagnosis:
		return c.Clinical.Diagnosis
	case FieldTreatment:
		return c.ServiceDescription
	case FieldMedicalNecessity:
		return deref(c.MedicalJustification)
	case FieldProgressNotes:
		return deref(c.DoctorNotes)
	}
	return ""
}

// PresentFields returns the learned fields that carry a non-blank value.
func (c *Claim) PresentFields() []string {
	var present []string
	for _, f := range LearnedFields {
		if strings.TrimSpace(c.FieldValue(f)) != "" {
			present = append(present, f)
		}
	}
	return present
}

// NeedsDoctorInput reports whether notes or medical justification are missing.
func (c *Claim) NeedsDoctorInput() bool {
	return strings.TrimSpace(deref(c.DoctorNotes)) == "" ||
		strings.TrimSpace(deref(c.MedicalJustification)) == ""
}

// AmountsBalanced checks covered + patient responsibility == total within tolerance.
func (c *Claim) AmountsBalanced(tolerance float64) bool {
	return math.Abs(c.CoveredAmount+c.PatientResponsibility-c.TotalAmount) <= tolerance
}

// Clone returns a deep copy so callers can mutate without touching a shared value.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	cp := *c
	cp.InsuranceCompanyID = cloneString(c.InsuranceCompanyID)
	cp.TreatmentPlanID = cloneString(c.TreatmentPlanID)
	cp.DoctorNotes = cloneString(c.DoctorNotes)
	cp.MedicalJustification = cloneString(c.MedicalJustification)
	cp.RejectionReason = cloneString(c.RejectionReason)
	cp.ResubmissionNotes = cloneString(c.ResubmissionNotes)
	cp.SubmittedAt = cloneTime(c.SubmittedAt)
	cp.ProcessedAt = cloneTime(c.ProcessedAt)
	if c.AIConfidence != nil {
		v := *c.AIConfidence
		cp.AIConfidence = &v
	}
	if c.ServiceDates != nil {
		cp.ServiceDates = append([]time.Time(nil), c.ServiceDates...)
	}
	if c.AISuggestions != nil {
		s := *c.AISuggestions
		cp.AISuggestions = &s
	}
	return &cp
}

// Amounts holds the financial split of a claim.
type Amounts struct {
	Total                 float64
	Covered               float64
	PatientResponsibility float64
}

// ComputeAmounts splits sessions*unitCost by coverage percentage. The patient
// share is derived from the rounded covered amount so the two always sum to total.
func ComputeAmounts(sessions int, unitCost, coveragePercentage float64) Amounts {
	total := round2(float64(sessions) * unitCost)
	covered := round2(total * coveragePercentage / 100)
	return Amounts{
		Total:                 total,
		Covered:               covered,
		PatientResponsibility: round2(total - covered),
	}
}

// SortDates returns a sorted copy of the dates.
func SortDates(dates []time.Time) []time.Time {
	out := append([]time.Time(nil), dates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	return deref(s)
}
