package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// ResubmissionNote is stored on every automatically resubmitted claim.
const ResubmissionNote = "auto-resubmitted with improvements"

// scannedStatuses are the non-terminal statuses any bucket can match.
var scannedStatuses = []domain.Status{
	domain.StatusDraft,
	domain.StatusPending,
	domain.StatusSubmitted,
	domain.StatusUnderReview,
	domain.StatusRejected,
}

// AttentionReport groups claims needing action. A claim appears in at most
// one bucket, the first whose predicate it satisfies.
type AttentionReport struct {
	NeedsFollowUp     []*domain.Claim `json:"needs_follow_up"`
	NeedsResubmission []*domain.Claim `json:"needs_resubmission"`
	SpecialCases      []*domain.Claim `json:"special_cases"`
	Scanned           int             `json:"scanned"`
	ScannedAt         time.Time       `json:"scanned_at"`
}

// ResubmitResult describes one AutoResubmit call.
type ResubmitResult struct {
	Claim               *domain.Claim `json:"claim"`
	AIRevised           bool          `json:"ai_revised"`
	ModelID             string        `json:"model_id,omitempty"`
	OriginalDescription string        `json:"original_description"`
}

// EscalationResult reports who was told about an escalated claim.
type EscalationResult struct {
	ClaimID        string `json:"claim_id"`
	Reason         string `json:"reason"`
	DoctorNotified bool   `json:"doctor_notified"`
	AdminsNotified bool   `json:"admins_notified"`
}

// Monitor classifies claims needing attention and performs the resubmit and
// escalate actions on them.
type Monitor struct {
	claims    domain.ClaimRepository
	generator domain.TextGenerator
	notifier  domain.NotificationSink
	logger    *logrus.Logger
	config    domain.MonitoringConfig
	now       func() time.Time
}

// NewMonitor creates a monitor. generator may be nil, in which case
// resubmissions keep the original description.
func NewMonitor(
	claims domain.ClaimRepository,
	generator domain.TextGenerator,
	notifier domain.NotificationSink,
	logger *logrus.Logger,
	config domain.MonitoringConfig,
) *Monitor {
	defaults := domain.DefaultMonitoringConfig()
	if config.FollowUpAfter <= 0 {
		config.FollowUpAfter = defaults.FollowUpAfter
	}
	if config.LowConfidenceThreshold <= 0 {
		config.LowConfidenceThreshold = defaults.LowConfidenceThreshold
	}
	if config.MaxRejections <= 0 {
		config.MaxRejections = defaults.MaxRejections
	}
	if config.AITimeout <= 0 {
		config.AITimeout = defaults.AITimeout
	}
	return &Monitor{
		claims:    claims,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type bucket int

const (
	bucketNone bucket = iota
	bucketFollowUp
	bucketResubmission
	bucketSpecial
)

// classify evaluates the predicates in precedence order.
func (m *Monitor) classify(c *domain.Claim, now time.Time) bucket {
	cutoff := now.Add(-m.config.FollowUpAfter)

	switch {
	case (c.Status == domain.StatusSubmitted || c.Status == domain.StatusUnderReview) &&
		c.SubmittedAt != nil && !c.SubmittedAt.After(cutoff):
		return bucketFollowUp
	case c.Status == domain.StatusRejected && c.ResubmissionNotes == nil:
		return bucketResubmission
	case m.isSpecial(c):
		return bucketSpecial
	}
	return bucketNone
}

// isSpecial: low AI confidence or too many rejections on a pending or rejected
// claim. draft counts as pending. A claim without a confidence score is not low.
func (m *Monitor) isSpecial(c *domain.Claim) bool {
	switch c.Status {
	case domain.StatusDraft, domain.StatusPending, domain.StatusRejected:
	default:
		return false
	}
	lowConfidence := c.AIConfidence != nil && *c.AIConfidence < m.config.LowConfidenceThreshold
	return lowConfidence || c.RejectionCount > m.config.MaxRejections
}

// ScanForAttention loads every non-terminal claim and sorts it into at most
// one bucket.
func (m *Monitor) ScanForAttention(ctx context.Context) (*AttentionReport, error) {
	claims, err := m.claims.FindByStatus(ctx, scannedStatuses...)
	if err != nil {
		return nil, fmt.Errorf("loading claims for attention scan: %w", err)
	}

	now := m.now()
	report := &AttentionReport{
		NeedsFollowUp:     []*domain.Claim{},
		NeedsResubmission: []*domain.Claim{},
		SpecialCases:      []*domain.Claim{},
		Scanned:           len(claims),
		ScannedAt:         now,
	}

	for _, c := range claims {
		switch m.classify(c, now) {
		case bucketFollowUp:
			report.NeedsFollowUp = append(report.NeedsFollowUp, c)
		case bucketResubmission:
			report.NeedsResubmission = append(report.NeedsResubmission, c)
		case bucketSpecial:
			report.SpecialCases = append(report.SpecialCases, c)
		}
	}

	// oldest submission first
	sort.SliceStable(report.NeedsFollowUp, func(i, j int) bool {
		return report.NeedsFollowUp[i].SubmittedAt.Before(*report.NeedsFollowUp[j].SubmittedAt)
	})
	// newest decision first, unknown last
	sort.SliceStable(report.NeedsResubmission, func(i, j int) bool {
		a, b := report.NeedsResubmission[i].ProcessedAt, report.NeedsResubmission[j].ProcessedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})
	// newest claim first
	sort.SliceStable(report.SpecialCases, func(i, j int) bool {
		return report.SpecialCases[i].CreatedAt.After(report.SpecialCases[j].CreatedAt)
	})

	m.logger.WithFields(logrus.Fields{
		"scanned":            report.Scanned,
		"needs_follow_up":    len(report.NeedsFollowUp),
		"needs_resubmission": len(report.NeedsResubmission),
		"special_cases":      len(report.SpecialCases),
	}).Info("Attention scan completed")

	return report, nil
}

// AutoResubmit asks the text service for an improved description and puts a
// rejected claim back to submitted. The transition happens even when the text
// service fails. Each call increments RejectionCount; callers check
// ResubmissionNotes first.
func (m *Monitor) AutoResubmit(ctx context.Context, claimID string) (*ResubmitResult, error) {
	claim, err := m.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != domain.StatusRejected {
		return nil, domain.NewTransitionError(claimID, claim.Status, domain.StatusSubmitted)
	}

	result := &ResubmitResult{OriginalDescription: claim.ServiceDescription}
	description := claim.ServiceDescription

	if m.generator != nil {
		aiCtx, cancel := context.WithTimeout(ctx, m.config.AITimeout)
		res, genErr := m.generator.Generate(aiCtx, resubmissionPrompt(claim))
		cancel()
		switch {
		case genErr != nil:
			level := logrus.WarnLevel
			if errors.Is(genErr, domain.ErrAIUnavailable) {
				level = logrus.DebugLevel
			}
			m.logger.WithFields(logrus.Fields{
				"claim_id": claim.ID,
				"error":    genErr,
			}).Log(level, "AI revision unavailable, resubmitting original description")
		case strings.TrimSpace(res.Text) != "":
			description = strings.TrimSpace(res.Text)
			result.AIRevised = true
			result.ModelID = res.ModelID
		}
	}

	expectedStatus, expectedStep := claim.Status, claim.WorkflowStep
	if err := claim.Transition(domain.StatusSubmitted); err != nil {
		return nil, err
	}
	now := m.now()
	claim.WorkflowStep = domain.StepResubmitted
	claim.SubmittedAt = &now
	claim.UpdatedAt = now
	claim.ResubmissionNotes = domain.StringPtr(ResubmissionNote)
	claim.RejectionCount++
	claim.ServiceDescription = description
	if result.AIRevised {
		if claim.AISuggestions == nil {
			claim.AISuggestions = &domain.AISuggestions{GeneratedAt: now}
		}
		claim.AISuggestions.RevisionModel = result.ModelID
	}

	if err := m.claims.CompareAndSwap(ctx, claim, expectedStatus, expectedStep); err != nil {
		return nil, err
	}

	notify(ctx, m.notifier, m.logger, claim.DoctorID, domain.Notification{
		Kind:       domain.NotifyResubmitted,
		Title:      "Claim resubmitted automatically",
		Message:    fmt.Sprintf("Claim %s was resubmitted after rejection (attempt %d)", claim.ClaimNumber, claim.RejectionCount),
		EntityType: domain.EntityTypeClaim,
		EntityID:   claim.ID,
	})

	m.logger.WithFields(logrus.Fields{
		"claim_id":        claim.ID,
		"rejection_count": claim.RejectionCount,
		"ai_revised":      result.AIRevised,
	}).Info("Claim auto-resubmitted")

	result.Claim = claim
	return result, nil
}

// escalatable are the statuses Escalate accepts. draft counts as pending.
var escalatable = map[domain.Status]bool{
	domain.StatusDraft:       true,
	domain.StatusPending:     true,
	domain.StatusSubmitted:   true,
	domain.StatusUnderReview: true,
	domain.StatusRejected:    true,
}

// Escalate tells the owning doctor and every admin about a claim. It does not
// change the claim, and delivery failures are logged rather than returned.
// Decided, paid and doctor-review claims are refused with a ConflictError.
func (m *Monitor) Escalate(ctx context.Context, claimID, reason string) (*EscalationResult, error) {
	claim, err := m.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !escalatable[claim.Status] {
		return nil, domain.NewConflictError(claim.ID, fmt.Sprintf("cannot escalate a %s claim", claim.Status))
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = m.escalationReason(claim)
	}

	n := domain.Notification{
		Kind:       domain.NotifyEscalation,
		Title:      "Claim escalated",
		Message:    fmt.Sprintf("Claim %s (%s) needs attention: %s", claim.ClaimNumber, claim.Status, reason),
		EntityType: domain.EntityTypeClaim,
		EntityID:   claim.ID,
	}

	result := &EscalationResult{ClaimID: claim.ID, Reason: reason}
	result.DoctorNotified = notify(ctx, m.notifier, m.logger, claim.DoctorID, n)
	if m.notifier != nil {
		if err := m.notifier.NotifyRole(ctx, domain.RoleAdmin, n); err != nil {
			m.logger.WithFields(logrus.Fields{
				"claim_id": claim.ID,
				"error":    err,
			}).Warn("Failed to notify admins about escalation")
		} else {
			result.AdminsNotified = true
		}
	}

	m.logger.WithFields(logrus.Fields{
		"claim_id": claim.ID,
		"reason":   reason,
	}).Info("Claim escalated")

	return result, nil
}

// SendFollowUp reminds the owning doctor that a submitted claim has had no decision.
func (m *Monitor) SendFollowUp(ctx context.Context, claim *domain.Claim) bool {
	days := 0
	if claim.SubmittedAt != nil {
		days = int(m.now().Sub(*claim.SubmittedAt).Hours() / 24)
	}
	return notify(ctx, m.notifier, m.logger, claim.DoctorID, domain.Notification{
		Kind:       domain.NotifyFollowUp,
		Title:      "Claim awaiting insurer decision",
		Message:    fmt.Sprintf("Claim %s was submitted %d days ago and has no decision yet", claim.ClaimNumber, days),
		EntityType: domain.EntityTypeClaim,
		EntityID:   claim.ID,
	})
}

func (m *Monitor) escalationReason(c *domain.Claim) string {
	var parts []string
	if c.AIConfidence != nil && *c.AIConfidence < m.config.LowConfidenceThreshold {
		parts = append(parts, fmt.Sprintf("low AI confidence (%.0f)", *c.AIConfidence))
	}
	if c.RejectionCount > m.config.MaxRejections {
		parts = append(parts, fmt.Sprintf("rejected %d times", c.RejectionCount))
	}
	if len(parts) == 0 {
		return "manual escalation"
	}
	return strings.Join(parts, ", ")
}

func resubmissionPrompt(c *domain.Claim) string {
	var b strings.Builder
	b.WriteString("An insurance claim was rejected. Rewrite its service description so it addresses the rejection reason.\n")
	fmt.Fprintf(&b, "Service type: %s\n", c.ServiceType)
	fmt.Fprintf(&b, "Current description: %s\n", c.ServiceDescription)
	fmt.Fprintf(&b, "Total amount: %.2f\n", c.TotalAmount)
	fmt.Fprintf(&b, "Rejection reason: %s\n", domain.Deref(c.RejectionReason))
	if c.Clinical.Diagnosis != "" {
		fmt.Fprintf(&b, "Diagnosis: %s\n", c.Clinical.Diagnosis)
	}
	return b.String()
}
