// Package repository persists claims and the clinic records they are generated
// from. PostgreSQL access goes through pgx; the lite server uses SQLite.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/claim-automation-server/internal/domain"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const claimColumns = `id, claim_number, patient_id, doctor_id, insurance_company_id,
	treatment_plan_id, service_type, requested_sessions, service_dates,
	total_amount, covered_amount, patient_responsibility, coverage_percentage,
	chief_complaint, assessment, plan, diagnosis,
	doctor_notes, medical_justification, service_description,
	status, workflow_step, requires_doctor_review, auto_generated,
	ai_suggestions, ai_confidence, rejection_reason, rejection_count, resubmission_notes,
	created_at, updated_at, submitted_at, processed_at`

// mutableColumns are the columns rewritten by a compare-and-swap, in argument order.
var mutableColumns = []string{
	"insurance_company_id", "service_dates",
	"total_amount", "covered_amount", "patient_responsibility", "coverage_percentage",
	"doctor_notes", "medical_justification", "service_description",
	"status", "workflow_step", "requires_doctor_review",
	"ai_suggestions", "ai_confidence", "rejection_reason", "rejection_count", "resubmission_notes",
	"updated_at", "submitted_at", "processed_at",
}

type encodedJSON struct {
	serviceDates  []byte
	aiSuggestions []byte
}

func encodeClaimJSON(c *domain.Claim) (encodedJSON, error) {
	var enc encodedJSON
	dates := c.ServiceDates
	if dates == nil {
		dates = []time.Time{}
	}
	var err error
	if enc.serviceDates, err = json.Marshal(dates); err != nil {
		return enc, fmt.Errorf("encoding service dates: %w", err)
	}
	if c.AISuggestions != nil {
		if enc.aiSuggestions, err = json.Marshal(c.AISuggestions); err != nil {
			return enc, fmt.Errorf("encoding ai suggestions: %w", err)
		}
	}
	return enc, nil
}

// insertArgs returns the values for claimColumns in order.
func insertArgs(c *domain.Claim, enc encodedJSON, jsonArg func([]byte) any) []any {
	return []any{
		c.ID, c.ClaimNumber, c.PatientID, c.DoctorID, c.InsuranceCompanyID,
		c.TreatmentPlanID, c.ServiceType, c.RequestedSessions, jsonArg(enc.serviceDates),
		c.TotalAmount, c.CoveredAmount, c.PatientResponsibility, c.CoveragePercentage,
		c.Clinical.ChiefComplaint, c.Clinical.Assessment, c.Clinical.Plan, c.Clinical.Diagnosis,
		c.DoctorNotes, c.MedicalJustification, c.ServiceDescription,
		string(c.Status), string(c.WorkflowStep), c.RequiresDoctorReview, c.AutoGenerated,
		jsonArg(enc.aiSuggestions), c.AIConfidence, c.RejectionReason, c.RejectionCount, c.ResubmissionNotes,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), utcPtr(c.SubmittedAt), utcPtr(c.ProcessedAt),
	}
}

// updateArgs returns the values for mutableColumns in order.
func updateArgs(c *domain.Claim, enc encodedJSON, jsonArg func([]byte) any) []any {
	return []any{
		c.InsuranceCompanyID, jsonArg(enc.serviceDates),
		c.TotalAmount, c.CoveredAmount, c.PatientResponsibility, c.CoveragePercentage,
		c.DoctorNotes, c.MedicalJustification, c.ServiceDescription,
		string(c.Status), string(c.WorkflowStep), c.RequiresDoctorReview,
		jsonArg(enc.aiSuggestions), c.AIConfidence, c.RejectionReason, c.RejectionCount, c.ResubmissionNotes,
		c.UpdatedAt.UTC(), utcPtr(c.SubmittedAt), utcPtr(c.ProcessedAt),
	}
}

func scanClaim(s scanner) (*domain.Claim, error) {
	var c domain.Claim
	var status, step string
	var serviceDates, aiSuggestions []byte

	err := s.Scan(
		&c.ID, &c.ClaimNumber, &c.PatientID, &c.DoctorID, &c.InsuranceCompanyID,
		&c.TreatmentPlanID, &c.ServiceType, &c.RequestedSessions, &serviceDates,
		&c.TotalAmount, &c.CoveredAmount, &c.PatientResponsibility, &c.CoveragePercentage,
		&c.Clinical.ChiefComplaint, &c.Clinical.Assessment, &c.Clinical.Plan, &c.Clinical.Diagnosis,
		&c.DoctorNotes, &c.MedicalJustification, &c.ServiceDescription,
		&status, &step, &c.RequiresDoctorReview, &c.AutoGenerated,
		&aiSuggestions, &c.AIConfidence, &c.RejectionReason, &c.RejectionCount, &c.ResubmissionNotes,
		&c.CreatedAt, &c.UpdatedAt, &c.SubmittedAt, &c.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.Status(status)
	c.WorkflowStep = domain.WorkflowStep(step)
	if len(serviceDates) > 0 {
		if err := json.Unmarshal(serviceDates, &c.ServiceDates); err != nil {
			return nil, fmt.Errorf("decoding service dates: %w", err)
		}
	}
	if len(aiSuggestions) > 0 {
		c.AISuggestions = &domain.AISuggestions{}
		if err := json.Unmarshal(aiSuggestions, c.AISuggestions); err != nil {
			return nil, fmt.Errorf("decoding ai suggestions: %w", err)
		}
	}

	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.SubmittedAt = utcPtr(c.SubmittedAt)
	c.ProcessedAt = utcPtr(c.ProcessedAt)
	return &c, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
