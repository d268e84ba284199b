package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claim-automation-server/internal/config"
	"github.com/claim-automation-server/internal/domain"
)

func newTestLiteServer(t *testing.T) *LiteServer {
	t.Helper()
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	cfg.AIAPIKey = ""

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	server, err := NewLiteServer(cfg, WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, err error, dst any) {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	require.False(t, res.IsError, "unexpected tool error: %s", text.Text)
	require.NoError(t, json.Unmarshal([]byte(text.Text), dst))
}

func decodeToolError(t *testing.T, res *mcp.CallToolResult, err error) domain.APIError {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.IsError)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal([]byte(text.Text), &apiErr))
	return apiErr
}

func registerPlan(t *testing.T, s *LiteServer) *domain.TreatmentPlan {
	t.Helper()
	var plan domain.TreatmentPlan
	res, _, err := s.RegisterTreatmentPlan(context.Background(), nil, RegisterTreatmentPlanParams{
		PlanID:             "tp-1",
		PatientID:          "patient-1",
		PatientName:        "Sara Ali",
		DoctorID:           "doctor-1",
		DoctorName:         "Dr. Omar",
		InsuranceProvider:  "Gulf Insurance",
		CoveragePercentage: 90,
		ServiceType:        "physiotherapy",
		ChiefComplaint:     "Knee pain",
		Assessment:         "Reduced range of motion",
		Diagnosis:          "M17.1",
	})
	decodeResult(t, res, err, &plan)
	return &plan
}

func TestLiteServer_ToolNames(t *testing.T) {
	s := newTestLiteServer(t)

	assert.ElementsMatch(t, []string{
		"generate_claim", "get_claim", "advance_workflow", "update_narrative",
		"submit_claim", "record_outcome", "mark_paid", "scan_for_attention",
		"auto_resubmit", "escalate", "get_best_template", "check_claim", "run_sweep",
		"register_user", "register_treatment_plan", "export_templates", "import_templates",
	}, s.Server().ToolNames())
}

func TestLiteServer_ClaimLifecycle(t *testing.T) {
	s := newTestLiteServer(t)
	tools := s.Server().tools
	ctx := context.Background()

	plan := registerPlan(t, s)
	assert.Equal(t, "tp-1", plan.ID)
	assert.Equal(t, "approved", plan.Status)

	var claim domain.Claim
	res, _, err := tools.GenerateClaim(ctx, nil, GenerateClaimParams{
		TreatmentPlanID:   "tp-1",
		PatientID:         "patient-1",
		RequestedSessions: 10,
		SessionDates:      []string{"2026-03-05", "2026-03-01T10:00:00Z"},
	})
	decodeResult(t, res, err, &claim)
	assert.Equal(t, domain.StatusAwaitingDoctorReview, claim.Status)
	assert.Equal(t, 2000.0, claim.TotalAmount)
	assert.Equal(t, 1800.0, claim.CoveredAmount)
	assert.Equal(t, 200.0, claim.PatientResponsibility)
	require.Len(t, claim.ServiceDates, 2)
	assert.True(t, claim.ServiceDates[0].Before(claim.ServiceDates[1]))
	require.NotNil(t, claim.InsuranceCompanyID)

	notes, justification := "Patient improving", "Post-operative rehabilitation required"
	res, _, err = tools.UpdateNarrative(ctx, nil, UpdateNarrativeParams{
		ClaimID:              claim.ID,
		DoctorNotes:          &notes,
		MedicalJustification: &justification,
	})
	decodeResult(t, res, err, &claim)
	assert.Equal(t, domain.StatusPending, claim.Status)
	assert.Equal(t, domain.StepReadyForSubmission, claim.WorkflowStep)

	var warnings struct {
		Warnings []string `json:"warnings"`
	}
	res, _, err = tools.CheckClaim(ctx, nil, ClaimIDParams{ClaimID: claim.ID})
	decodeResult(t, res, err, &warnings)
	assert.Empty(t, warnings.Warnings)

	res, _, err = tools.SubmitClaim(ctx, nil, ClaimIDParams{ClaimID: claim.ID})
	decodeResult(t, res, err, &claim)
	assert.Equal(t, domain.StatusSubmitted, claim.Status)

	res, _, err = tools.RecordOutcome(ctx, nil, RecordOutcomeParams{ClaimID: claim.ID, Outcome: " Approved "})
	decodeResult(t, res, err, &claim)
	assert.Equal(t, domain.StatusApproved, claim.Status)

	var tmpl domain.ClaimTemplate
	res, _, err = tools.GetBestTemplate(ctx, nil, BestTemplateParams{
		Provider:    *claim.InsuranceCompanyID,
		ServiceType: "physiotherapy",
	})
	decodeResult(t, res, err, &tmpl)
	assert.True(t, tmpl.IsSuccessful)
	assert.Equal(t, 1, tmpl.SampleCount)
	assert.Contains(t, tmpl.RequiredFields, domain.FieldMedicalNecessity)

	res, _, err = tools.MarkPaid(ctx, nil, ClaimIDParams{ClaimID: claim.ID})
	decodeResult(t, res, err, &claim)
	assert.Equal(t, domain.StatusPaid, claim.Status)

	notifications, err := s.Store().ListNotifications(ctx, "doctor-1", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, notifications)
}

func TestLiteServer_ToolErrors(t *testing.T) {
	s := newTestLiteServer(t)
	tools := s.Server().tools
	ctx := context.Background()
	registerPlan(t, s)

	tests := []struct {
		name  string
		call  func() (*mcp.CallToolResult, any, error)
		code  string
		field string
	}{
		{
			name: "unknown claim",
			call: func() (*mcp.CallToolResult, any, error) {
				return tools.GetClaim(ctx, nil, ClaimIDParams{ClaimID: "missing"})
			},
			code: domain.ErrCodeNotFound,
		},
		{
			name: "bad session date",
			call: func() (*mcp.CallToolResult, any, error) {
				return tools.GenerateClaim(ctx, nil, GenerateClaimParams{
					TreatmentPlanID:   "tp-1",
					PatientID:         "patient-1",
					RequestedSessions: 1,
					SessionDates:      []string{"05/03/2026"},
				})
			},
			code:  domain.ErrCodeValidation,
			field: "session_dates",
		},
		{
			name: "zero sessions",
			call: func() (*mcp.CallToolResult, any, error) {
				return tools.GenerateClaim(ctx, nil, GenerateClaimParams{TreatmentPlanID: "tp-1", PatientID: "patient-1"})
			},
			code:  domain.ErrCodeValidation,
			field: "requested_sessions",
		},
		{
			name: "template without provider",
			call: func() (*mcp.CallToolResult, any, error) {
				return tools.GetBestTemplate(ctx, nil, BestTemplateParams{})
			},
			code:  domain.ErrCodeValidation,
			field: "provider",
		},
		{
			name: "unknown role",
			call: func() (*mcp.CallToolResult, any, error) {
				return s.RegisterUser(ctx, nil, RegisterUserParams{UserID: "u-1", Role: "auditor"})
			},
			code:  domain.ErrCodeValidation,
			field: "role",
		},
		{
			name: "coverage out of range",
			call: func() (*mcp.CallToolResult, any, error) {
				return s.RegisterTreatmentPlan(ctx, nil, RegisterTreatmentPlanParams{
					PatientID: "p", DoctorID: "d", ServiceType: "physiotherapy", CoveragePercentage: 120,
				})
			},
			code:  domain.ErrCodeValidation,
			field: "coverage_percentage",
		},
		{
			name: "import without path",
			call: func() (*mcp.CallToolResult, any, error) {
				return s.ImportTemplates(ctx, nil, ImportTemplatesParams{})
			},
			code:  domain.ErrCodeValidation,
			field: "path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, out, err := tt.call()
			assert.Nil(t, out)
			apiErr := decodeToolError(t, res, err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.NotEmpty(t, apiErr.MessageAR)
			if tt.field != "" {
				assert.Equal(t, tt.field, apiErr.Field)
			}
		})
	}
}

func TestLiteServer_InvalidTransitionIsConflict(t *testing.T) {
	s := newTestLiteServer(t)
	tools := s.Server().tools
	ctx := context.Background()
	registerPlan(t, s)

	var claim domain.Claim
	res, _, err := tools.GenerateClaim(ctx, nil, GenerateClaimParams{
		TreatmentPlanID:   "tp-1",
		PatientID:         "patient-1",
		RequestedSessions: 4,
	})
	decodeResult(t, res, err, &claim)

	res, _, err = tools.SubmitClaim(ctx, nil, ClaimIDParams{ClaimID: claim.ID})
	apiErr := decodeToolError(t, res, err)
	assert.Equal(t, domain.ErrCodeConflict, apiErr.Code)

	res, _, err = tools.RecordOutcome(ctx, nil, RecordOutcomeParams{ClaimID: claim.ID, Outcome: "maybe"})
	apiErr = decodeToolError(t, res, err)
	assert.Equal(t, domain.ErrCodeValidation, apiErr.Code)
}

func TestLiteServer_BestTemplateBeforeLearning(t *testing.T) {
	s := newTestLiteServer(t)

	var out map[string]any
	res, _, err := s.Server().tools.GetBestTemplate(context.Background(), nil, BestTemplateParams{Provider: "ins-1"})
	decodeResult(t, res, err, &out)
	assert.Nil(t, out["template"])
	assert.Equal(t, "no successful template learned yet", out["message"])
}

func TestLiteServer_ExportImportTemplates(t *testing.T) {
	ctx := context.Background()
	source := newTestLiteServer(t)
	tools := source.Server().tools
	registerPlan(t, source)

	var claim domain.Claim
	res, _, err := tools.GenerateClaim(ctx, nil, GenerateClaimParams{
		TreatmentPlanID:      "tp-1",
		PatientID:            "patient-1",
		RequestedSessions:    6,
		DoctorNotes:          "Stable gait",
		MedicalJustification: "Strength deficit after surgery",
	})
	decodeResult(t, res, err, &claim)
	res, _, err = tools.SubmitClaim(ctx, nil, ClaimIDParams{ClaimID: claim.ID})
	decodeResult(t, res, err, &claim)
	res, _, err = tools.RecordOutcome(ctx, nil, RecordOutcomeParams{ClaimID: claim.ID, Outcome: "approved"})
	decodeResult(t, res, err, &claim)

	var exported map[string]string
	res, _, err = source.ExportTemplates(ctx, nil, NoParams{})
	decodeResult(t, res, err, &exported)
	require.NotEmpty(t, exported["path"])
	_, err = os.Stat(exported["path"])
	require.NoError(t, err)

	target := newTestLiteServer(t)
	var counts map[string]int
	res, _, err = target.ImportTemplates(ctx, nil, ImportTemplatesParams{Path: exported["path"]})
	decodeResult(t, res, err, &counts)
	assert.Equal(t, 1, counts["imported"])
	assert.Equal(t, 0, counts["skipped"])

	var tmpl domain.ClaimTemplate
	res, _, err = target.Server().tools.GetBestTemplate(ctx, nil, BestTemplateParams{
		Provider:    *claim.InsuranceCompanyID,
		ServiceType: "physiotherapy",
	})
	decodeResult(t, res, err, &tmpl)
	assert.True(t, tmpl.IsSuccessful)

	res, _, err = target.ImportTemplates(ctx, nil, ImportTemplatesParams{Path: exported["path"]})
	decodeResult(t, res, err, &counts)
	assert.Equal(t, 0, counts["imported"])
	assert.Equal(t, 1, counts["skipped"])
}

func TestLiteServer_RegisterUser(t *testing.T) {
	s := newTestLiteServer(t)
	ctx := context.Background()

	var out map[string]string
	res, _, err := s.RegisterUser(ctx, nil, RegisterUserParams{UserID: "admin-1", FullName: "Admin", Role: " ADMIN "})
	decodeResult(t, res, err, &out)
	assert.Equal(t, "admin", out["role"])

	ids, err := s.Store().UserIDsByRole(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1"}, ids)
}
