// Package service holds the claim automation core: the workflow engine that
// owns a claim's lifecycle, the learning service that turns outcomes into
// per-insurer templates, and the monitor that finds and acts on claims that
// need attention.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// TemplateAdvisor produces advisory suggestions for a new claim.
type TemplateAdvisor interface {
	Suggest(ctx context.Context, provider, serviceType string, claim *domain.Claim) (*domain.AISuggestions, error)
}

// OutcomeLearner consumes terminal claim outcomes.
type OutcomeLearner interface {
	LearnFromApproval(ctx context.Context, claimID string) error
	LearnFromRejection(ctx context.Context, claimID, reason string) error
}

// WorkflowDeps are the collaborators of the workflow engine. Advisor, Learner
// and Generator are optional.
type WorkflowDeps struct {
	Claims    domain.ClaimRepository
	Clinic    domain.ClinicDirectory
	Advisor   TemplateAdvisor
	Learner   OutcomeLearner
	Generator domain.TextGenerator
	Notifier  domain.NotificationSink
	Logger    *logrus.Logger
}

// GenerateClaimRequest is the input of GenerateClaim.
type GenerateClaimRequest struct {
	TreatmentPlanID      string      `json:"treatment_plan_id"`
	PatientID            string      `json:"patient_id"`
	RequestedSessions    int         `json:"requested_sessions"`
	SessionDates         []time.Time `json:"session_dates"`
	DoctorNotes          *string     `json:"doctor_notes,omitempty"`
	MedicalJustification *string     `json:"medical_justification,omitempty"`
}

// Validate checks the required inputs.
func (r *GenerateClaimRequest) Validate() error {
	if strings.TrimSpace(r.TreatmentPlanID) == "" {
		return domain.NewValidationError("treatment_plan_id", "treatment plan is required", r.TreatmentPlanID)
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return domain.NewValidationError("patient_id", "patient is required", r.PatientID)
	}
	if r.RequestedSessions <= 0 {
		return domain.NewValidationError("requested_sessions", "requested sessions must be positive", r.RequestedSessions)
	}
	return nil
}

// WorkflowEngine owns claim generation and every status transition a caller
// can request. Each write is a compare-and-set on (status, workflow step).
type WorkflowEngine struct {
	claims    domain.ClaimRepository
	clinic    domain.ClinicDirectory
	advisor   TemplateAdvisor
	learner   OutcomeLearner
	generator domain.TextGenerator
	notifier  domain.NotificationSink
	logger    *logrus.Logger
	config    domain.WorkflowConfig
	now       func() time.Time
}

// NewWorkflowEngine creates a workflow engine.
func NewWorkflowEngine(deps WorkflowDeps, config domain.WorkflowConfig) *WorkflowEngine {
	defaults := domain.DefaultWorkflowConfig()
	if config.UnitSessionCost <= 0 {
		config.UnitSessionCost = defaults.UnitSessionCost
	}
	if config.DefaultCoverage <= 0 || config.DefaultCoverage > 100 {
		config.DefaultCoverage = defaults.DefaultCoverage
	}
	if config.AITimeout <= 0 {
		config.AITimeout = defaults.AITimeout
	}
	return &WorkflowEngine{
		claims:    deps.Claims,
		clinic:    deps.Clinic,
		advisor:   deps.Advisor,
		learner:   deps.Learner,
		generator: deps.Generator,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateClaim creates a draft claim from an approved treatment plan and runs
// AdvanceWorkflow on it. Advisory steps never fail the call.
func (e *WorkflowEngine) GenerateClaim(ctx context.Context, req GenerateClaimRequest, settings domain.WorkflowSettings) (*domain.Claim, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plan, err := e.clinic.GetTreatmentPlan(ctx, req.TreatmentPlanID)
	if err != nil {
		return nil, fmt.Errorf("loading treatment plan: %w", err)
	}
	if plan.PatientID != "" && plan.PatientID != req.PatientID {
		return nil, domain.NewValidationError("patient_id", "treatment plan belongs to another patient", req.PatientID)
	}

	profile, err := e.clinic.GetPatientInsurance(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("loading patient insurance: %w", err)
	}
	if profile == nil || strings.TrimSpace(profile.ProviderName) == "" {
		return nil, domain.NewValidationError("patient_id", "patient has no insurance profile", req.PatientID)
	}

	var insurerID *string
	coverage := e.config.DefaultCoverage
	provider, err := e.clinic.LookupInsuranceProvider(ctx, profile.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("resolving insurance provider: %w", err)
	}
	if provider != nil && provider.IsActive {
		insurerID = domain.StringPtr(provider.ID)
		coverage = provider.CoveragePercentage
	} else {
		e.logger.WithFields(logrus.Fields{
			"patient_id": req.PatientID,
			"provider":   profile.ProviderName,
		}).Warn("Insurance provider not found or inactive, using default coverage")
	}

	now := e.now()
	amounts := domain.ComputeAmounts(req.RequestedSessions, e.config.UnitSessionCost, coverage)
	dates := make([]time.Time, 0, len(req.SessionDates))
	for _, d := range req.SessionDates {
		dates = append(dates, d.UTC())
	}

	id := uuid.NewString()
	claim := &domain.Claim{
		ID:                    id,
		ClaimNumber:           fmt.Sprintf("CLM-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8])),
		PatientID:             req.PatientID,
		DoctorID:              plan.DoctorID,
		InsuranceCompanyID:    insurerID,
		TreatmentPlanID:       domain.StringPtr(plan.ID),
		ServiceType:           plan.ServiceType,
		RequestedSessions:     req.RequestedSessions,
		ServiceDates:          domain.SortDates(dates),
		TotalAmount:           amounts.Total,
		CoveredAmount:         amounts.Covered,
		PatientResponsibility: amounts.PatientResponsibility,
		CoveragePercentage:    coverage,
		Clinical:              plan.Clinical,
		DoctorNotes:           trimmed(req.DoctorNotes),
		MedicalJustification:  trimmed(req.MedicalJustification),
		ServiceDescription:    serviceDescription(plan, req.RequestedSessions),
		Status:                domain.StatusDraft,
		WorkflowStep:          domain.StepInitial,
		AutoGenerated:         true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	claim.AISuggestions = e.suggest(ctx, claim)

	if err := e.claims.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("creating claim: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"claim_id":     claim.ID,
		"claim_number": claim.ClaimNumber,
		"total_amount": claim.TotalAmount,
		"coverage":     coverage,
	}).Info("Claim generated from treatment plan")

	advanced, err := e.AdvanceWorkflow(ctx, claim.ID, settings)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"claim_id": claim.ID,
			"error":    err,
		}).Error("Failed to advance generated claim, it stays in draft")
		return claim, nil
	}
	return advanced, nil
}

// AdvanceWorkflow moves a pre-submission claim as far as its data allows. It is
// idempotent: the workflow step is the dedupe key for notifications.
func (e *WorkflowEngine) AdvanceWorkflow(ctx context.Context, claimID string, settings domain.WorkflowSettings) (*domain.Claim, error) {
	claim, err := e.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !claim.Status.IsPreSubmission() {
		return claim, nil
	}

	expectedStatus, expectedStep := claim.Status, claim.WorkflowStep
	now := e.now()

	if claim.NeedsDoctorInput() {
		if claim.Status == domain.StatusAwaitingDoctorReview {
			return claim, nil
		}
		if err := claim.Transition(domain.StatusAwaitingDoctorReview); err != nil {
			return nil, err
		}
		claim.WorkflowStep = domain.StepAwaitingDoctorReview
		claim.RequiresDoctorReview = true
		claim.UpdatedAt = now
		if err := e.claims.CompareAndSwap(ctx, claim, expectedStatus, expectedStep); err != nil {
			return nil, err
		}

		notify(ctx, e.notifier, e.logger, claim.DoctorID, domain.Notification{
			Kind:       domain.NotifyReviewNeeded,
			Title:      "Claim needs your review",
			Message:    fmt.Sprintf("Claim %s needs doctor notes and medical justification before it can be submitted", claim.ClaimNumber),
			EntityType: domain.EntityTypeClaim,
			EntityID:   claim.ID,
		})
		e.logTransition(claim, expectedStatus)
		return claim, nil
	}

	alreadyReady := claim.Status == domain.StatusPending && claim.WorkflowStep == domain.StepReadyForSubmission
	if alreadyReady && !settings.AutoSubmitClaims {
		return claim, nil
	}

	if !alreadyReady {
		if err := claim.Transition(domain.StatusPending); err != nil {
			return nil, err
		}
		claim.WorkflowStep = domain.StepReadyForSubmission
		claim.RequiresDoctorReview = false
	}
	if settings.AutoSubmitClaims {
		if err := claim.Transition(domain.StatusSubmitted); err != nil {
			return nil, err
		}
		claim.WorkflowStep = domain.StepSubmitted
		claim.SubmittedAt = &now
	}
	claim.UpdatedAt = now

	if err := e.claims.CompareAndSwap(ctx, claim, expectedStatus, expectedStep); err != nil {
		return nil, err
	}

	if !alreadyReady {
		notify(ctx, e.notifier, e.logger, claim.PatientID, domain.Notification{
			Kind:       domain.NotifyClaimSummary,
			Title:      "Your insurance claim is ready",
			Message:    claimSummary(claim),
			EntityType: domain.EntityTypeClaim,
			EntityID:   claim.ID,
		})
	}
	e.logTransition(claim, expectedStatus)
	return claim, nil
}

// UpdateNarrative applies the doctor's notes and justification to a claim that
// has not been submitted yet, then advances it. Nil leaves a field unchanged.
func (e *WorkflowEngine) UpdateNarrative(ctx context.Context, claimID string, doctorNotes, medicalJustification *string, settings domain.WorkflowSettings) (*domain.Claim, error) {
	if doctorNotes == nil && medicalJustification == nil {
		return nil, domain.NewValidationError("doctor_notes", "nothing to update", nil)
	}

	claim, err := e.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !claim.Status.IsPreSubmission() {
		return nil, domain.NewConflictError(claimID, fmt.Sprintf("claim is %s and can no longer be edited", claim.Status))
	}

	if doctorNotes != nil {
		claim.DoctorNotes = trimmed(doctorNotes)
	}
	if medicalJustification != nil {
		claim.MedicalJustification = trimmed(medicalJustification)
	}
	claim.UpdatedAt = e.now()

	if err := e.claims.CompareAndSwap(ctx, claim, claim.Status, claim.WorkflowStep); err != nil {
		return nil, err
	}
	return e.AdvanceWorkflow(ctx, claimID, settings)
}

// Submit sends a ready claim to the insurer. Submission is a local status change.
func (e *WorkflowEngine) Submit(ctx context.Context, claimID string) (*domain.Claim, error) {
	return e.move(ctx, claimID, domain.StatusSubmitted, func(c *domain.Claim, now time.Time) error {
		if c.NeedsDoctorInput() {
			return domain.NewValidationError("doctor_notes", "doctor notes and medical justification are required before submission", nil)
		}
		c.WorkflowStep = domain.StepSubmitted
		c.SubmittedAt = &now
		return nil
	})
}

// MarkUnderReview records that the insurer started reviewing the claim.
func (e *WorkflowEngine) MarkUnderReview(ctx context.Context, claimID string) (*domain.Claim, error) {
	return e.move(ctx, claimID, domain.StatusUnderReview, func(c *domain.Claim, _ time.Time) error {
		c.WorkflowStep = domain.StepUnderReview
		return nil
	})
}

// MarkPaid closes an approved claim.
func (e *WorkflowEngine) MarkPaid(ctx context.Context, claimID string) (*domain.Claim, error) {
	return e.move(ctx, claimID, domain.StatusPaid, func(c *domain.Claim, _ time.Time) error {
		c.WorkflowStep = domain.StepPaid
		return nil
	})
}

// RecordOutcome stores the insurer's decision, then feeds it to template
// learning and tells the patient. Learning and notification are fail-open.
func (e *WorkflowEngine) RecordOutcome(ctx context.Context, claimID string, outcome domain.Outcome, reason string) (*domain.Claim, error) {
	if !outcome.IsValid() {
		return nil, domain.NewValidationError("outcome", "outcome must be approved or rejected", outcome)
	}
	reason = strings.TrimSpace(reason)

	target := domain.StatusApproved
	if outcome == domain.OutcomeRejected {
		target = domain.StatusRejected
	}

	claim, err := e.move(ctx, claimID, target, func(c *domain.Claim, now time.Time) error {
		c.WorkflowStep = domain.StepProcessed
		c.ProcessedAt = &now
		if outcome == domain.OutcomeRejected {
			c.RejectionReason = domain.StringPtr(reason)
			// a fresh rejection opens a new resubmission cycle
			c.ResubmissionNotes = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.learner != nil {
		var learnErr error
		if outcome == domain.OutcomeApproved {
			learnErr = e.learner.LearnFromApproval(ctx, claim.ID)
		} else {
			learnErr = e.learner.LearnFromRejection(ctx, claim.ID, reason)
		}
		if learnErr != nil {
			e.logger.WithFields(logrus.Fields{
				"claim_id": claim.ID,
				"outcome":  outcome,
				"error":    learnErr,
			}).Warn("Template learning failed, outcome recorded anyway")
		}
	}

	message := fmt.Sprintf("Claim %s was approved by your insurer", claim.ClaimNumber)
	if outcome == domain.OutcomeRejected {
		message = fmt.Sprintf("Claim %s was rejected by your insurer", claim.ClaimNumber)
		if reason != "" {
			message += ": " + reason
		}
	}
	notify(ctx, e.notifier, e.logger, claim.PatientID, domain.Notification{
		Kind:       domain.NotifyClaimOutcome,
		Title:      "Insurance claim update",
		Message:    message,
		EntityType: domain.EntityTypeClaim,
		EntityID:   claim.ID,
	})

	return claim, nil
}

// GetClaim returns a claim by id.
func (e *WorkflowEngine) GetClaim(ctx context.Context, claimID string) (*domain.Claim, error) {
	if strings.TrimSpace(claimID) == "" {
		return nil, domain.NewValidationError("claim_id", "claim id is required", claimID)
	}
	return e.claims.GetByID(ctx, claimID)
}

// move applies one transition from the state table plus the edits in apply,
// written with a compare-and-set against the state it was read in.
func (e *WorkflowEngine) move(ctx context.Context, claimID string, to domain.Status, apply func(*domain.Claim, time.Time) error) (*domain.Claim, error) {
	claim, err := e.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}

	expectedStatus, expectedStep := claim.Status, claim.WorkflowStep
	if err := claim.Transition(to); err != nil {
		return nil, err
	}
	now := e.now()
	if err := apply(claim, now); err != nil {
		return nil, err
	}
	claim.UpdatedAt = now

	if err := e.claims.CompareAndSwap(ctx, claim, expectedStatus, expectedStep); err != nil {
		return nil, err
	}
	e.logTransition(claim, expectedStatus)
	return claim, nil
}

func (e *WorkflowEngine) suggest(ctx context.Context, claim *domain.Claim) *domain.AISuggestions {
	var suggestions *domain.AISuggestions
	if e.advisor != nil {
		s, err := e.advisor.Suggest(ctx, domain.Deref(claim.InsuranceCompanyID), claim.ServiceType, claim)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"claim_number": claim.ClaimNumber,
				"error":        err,
			}).Warn("Template suggestions unavailable")
		} else {
			suggestions = s
		}
	}

	if e.config.AIFieldSuggestions && e.generator != nil && claim.MedicalJustification == nil {
		aiCtx, cancel := context.WithTimeout(ctx, e.config.AITimeout)
		defer cancel()

		res, err := e.generator.Generate(aiCtx, justificationPrompt(claim))
		switch {
		case errors.Is(err, domain.ErrAIUnavailable):
			e.logger.Debug("Text generation not configured, skipping justification draft")
		case err != nil:
			e.logger.WithError(err).Warn("Failed to draft medical justification")
		default:
			if suggestions == nil {
				suggestions = &domain.AISuggestions{GeneratedAt: e.now()}
			}
			suggestions.SuggestedJustification = res.Text
		}
	}
	return suggestions
}

func (e *WorkflowEngine) logTransition(claim *domain.Claim, from domain.Status) {
	e.logger.WithFields(logrus.Fields{
		"claim_id":      claim.ID,
		"from":          from,
		"to":            claim.Status,
		"workflow_step": claim.WorkflowStep,
	}).Info("Claim status changed")
}

func justificationPrompt(c *domain.Claim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a short medical necessity justification for an insurance claim.\n")
	fmt.Fprintf(&b, "Service type: %s\nRequested sessions: %d\n", c.ServiceType, c.RequestedSessions)
	if c.Clinical.Diagnosis != "" {
		fmt.Fprintf(&b, "Diagnosis: %s\n", c.Clinical.Diagnosis)
	}
	if c.Clinical.ChiefComplaint != "" {
		fmt.Fprintf(&b, "Chief complaint: %s\n", c.Clinical.ChiefComplaint)
	}
	if c.Clinical.Assessment != "" {
		fmt.Fprintf(&b, "Assessment: %s\n", c.Clinical.Assessment)
	}
	if c.Clinical.Plan != "" {
		fmt.Fprintf(&b, "Plan: %s\n", c.Clinical.Plan)
	}
	return b.String()
}

func claimSummary(c *domain.Claim) string {
	return fmt.Sprintf("Claim %s for %d %s sessions: total %.2f, covered by insurance %.2f, your share %.2f",
		c.ClaimNumber, c.RequestedSessions, c.ServiceType, c.TotalAmount, c.CoveredAmount, c.PatientResponsibility)
}

func serviceDescription(plan *domain.TreatmentPlan, sessions int) string {
	if d := strings.TrimSpace(plan.Description); d != "" {
		return d
	}
	return fmt.Sprintf("%d sessions of %s", sessions, plan.ServiceType)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return domain.StringPtr(strings.TrimSpace(*s))
}

// notify delivers n to one user. Delivery failures are logged and dropped.
func notify(ctx context.Context, sink domain.NotificationSink, logger *logrus.Logger, userID string, n domain.Notification) bool {
	if sink == nil || userID == "" {
		return false
	}
	if err := sink.NotifyUser(ctx, userID, n); err != nil {
		logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"kind":      n.Kind,
			"entity_id": n.EntityID,
			"error":     err,
		}).Warn("Failed to deliver notification")
		return false
	}
	return true
}
