package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/middleware"
	"github.com/claim-automation-server/internal/service"
)

// NarrativeRequest carries the doctor's edits. Omitted fields are left unchanged.
type NarrativeRequest struct {
	DoctorNotes          *string `json:"doctor_notes"`
	MedicalJustification *string `json:"medical_justification"`
}

// OutcomeRequest records the insurer decision.
type OutcomeRequest struct {
	Outcome domain.Outcome `json:"outcome"`
	Reason  string         `json:"reason"`
}

// EscalateRequest optionally overrides the escalation reason.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleGenerateClaim(c *gin.Context) {
	var req service.GenerateClaimRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	claim, err := s.core.Workflow.GenerateClaim(ctx, req, s.core.Settings(ctx))
	if err != nil {
		s.respondError(c, err)
		return
	}

	userID, role := middleware.Caller(c)
	s.logger.WithFields(logrus.Fields{
		"claim_id": claim.ID,
		"caller":   userID,
		"role":     role,
		"plan_id":  req.TreatmentPlanID,
		"status":   claim.Status,
	}).Info("Claim generated via API")
	c.JSON(http.StatusCreated, claim)
}

func (s *Server) handleGetClaim(c *gin.Context) {
	claim, err := s.core.Workflow.GetClaim(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (s *Server) handleAdvanceWorkflow(c *gin.Context) {
	ctx := c.Request.Context()
	claim, err := s.core.Workflow.AdvanceWorkflow(ctx, c.Param("id"), s.core.Settings(ctx))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (s *Server) handleUpdateNarrative(c *gin.Context) {
	var req NarrativeRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	claim, err := s.core.Workflow.UpdateNarrative(ctx, c.Param("id"), req.DoctorNotes, req.MedicalJustification, s.core.Settings(ctx))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (s *Server) handleSubmit(c *gin.Context) {
	s.respondClaim(c)(s.core.Workflow.Submit(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleMarkUnderReview(c *gin.Context) {
	s.respondClaim(c)(s.core.Workflow.MarkUnderReview(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleMarkPaid(c *gin.Context) {
	s.respondClaim(c)(s.core.Workflow.MarkPaid(c.Request.Context(), c.Param("id")))
}

func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req OutcomeRequest
	if !s.bind(c, &req) {
		return
	}
	req.Outcome = domain.Outcome(strings.ToLower(strings.TrimSpace(string(req.Outcome))))
	s.respondClaim(c)(s.core.Workflow.RecordOutcome(c.Request.Context(), c.Param("id"), req.Outcome, req.Reason))
}

func (s *Server) handleAutoResubmit(c *gin.Context) {
	result, err := s.core.Monitor.AutoResubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEscalate(c *gin.Context) {
	var req EscalateRequest
	// the body is optional
	if c.Request.ContentLength > 0 && !s.bind(c, &req) {
		return
	}
	result, err := s.core.Monitor.Escalate(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleClaimWarnings(c *gin.Context) {
	warnings, err := s.core.Learning.ClaimWarnings(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim_id": c.Param("id"), "warnings": warnings})
}

func (s *Server) handleScanForAttention(c *gin.Context) {
	report, err := s.core.Monitor.ScanForAttention(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRunSweep(c *gin.Context) {
	result, err := s.core.Sweeper.Run(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetBestTemplate(c *gin.Context) {
	provider := strings.TrimSpace(c.Query("provider"))
	if provider == "" {
		s.respondError(c, domain.NewValidationError("provider", "provider is required", provider))
		return
	}
	serviceType := strings.TrimSpace(c.Query("service_type"))

	tmpl, err := s.core.Learning.GetBestTemplate(c.Request.Context(), provider, serviceType)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if tmpl == nil {
		s.respondError(c, domain.NewNotFoundError("template", provider+"/"+serviceType))
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) handleNotificationFeed(c *gin.Context) {
	userID, role := middleware.Caller(c)
	if err := s.hub.ServeWS(c.Writer, c.Request, userID, role); err != nil {
		// the upgrader has already written the HTTP error
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Warn("Websocket upgrade failed")
	}
}

// bind decodes the JSON body, answering 400 on malformed input.
func (s *Server) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		s.respondError(c, domain.NewValidationError("body", "malformed JSON request: "+err.Error(), nil))
		return false
	}
	return true
}

func (s *Server) respondClaim(c *gin.Context) func(*domain.Claim, error) {
	return func(claim *domain.Claim, err error) {
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	}
}
