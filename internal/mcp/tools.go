package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/service"
)

// GenerateClaimParams defines parameters for generate_claim tool
type GenerateClaimParams struct {
	TreatmentPlanID      string   `json:"treatment_plan_id" jsonschema:"id of the approved treatment plan"`
	PatientID            string   `json:"patient_id" jsonschema:"id of the patient the plan belongs to"`
	RequestedSessions    int      `json:"requested_sessions" jsonschema:"number of sessions to bill, must be positive"`
	SessionDates         []string `json:"session_dates,omitempty" jsonschema:"session dates as YYYY-MM-DD or RFC 3339 timestamps"`
	DoctorNotes          string   `json:"doctor_notes,omitempty" jsonschema:"doctor notes for the claim"`
	MedicalJustification string   `json:"medical_justification,omitempty" jsonschema:"medical justification for the requested sessions"`
}

// ClaimIDParams identifies one claim.
type ClaimIDParams struct {
	ClaimID string `json:"claim_id" jsonschema:"id of the claim"`
}

// UpdateNarrativeParams defines parameters for update_narrative tool
type UpdateNarrativeParams struct {
	ClaimID              string  `json:"claim_id" jsonschema:"id of the claim"`
	DoctorNotes          *string `json:"doctor_notes,omitempty" jsonschema:"new doctor notes, omitted to keep the current value"`
	MedicalJustification *string `json:"medical_justification,omitempty" jsonschema:"new medical justification, omitted to keep the current value"`
}

// RecordOutcomeParams defines parameters for record_outcome tool
type RecordOutcomeParams struct {
	ClaimID string `json:"claim_id" jsonschema:"id of the claim"`
	Outcome string `json:"outcome" jsonschema:"insurer decision: approved or rejected"`
	Reason  string `json:"reason,omitempty" jsonschema:"rejection reason as given by the insurer"`
}

// EscalateParams defines parameters for escalate tool
type EscalateParams struct {
	ClaimID string `json:"claim_id" jsonschema:"id of the claim"`
	Reason  string `json:"reason,omitempty" jsonschema:"why the claim needs a human, derived from the claim when omitted"`
}

// BestTemplateParams defines parameters for get_best_template tool
type BestTemplateParams struct {
	Provider    string `json:"provider" jsonschema:"insurance company id"`
	ServiceType string `json:"service_type,omitempty" jsonschema:"service type, any service type when omitted"`
}

// NoParams is the input of tools that take no arguments.
type NoParams struct{}

// ToolSet exposes the claim automation core as MCP tools.
type ToolSet struct {
	core   *service.Core
	logger *logrus.Logger
}

// NewToolSet creates the tool set over core.
func NewToolSet(core *service.Core, logger *logrus.Logger) *ToolSet {
	return &ToolSet{core: core, logger: logger}
}

// Register adds every claim tool to server and returns their names.
func (t *ToolSet) Register(server *mcp.Server) []string {
	var names []string
	addTool(server, &names, &mcp.Tool{
		Name:        "generate_claim",
		Description: "Generate an insurance claim from an approved treatment plan and advance it as far as its data allows",
	}, t.GenerateClaim)
	addTool(server, &names, &mcp.Tool{
		Name:        "get_claim",
		Description: "Fetch a claim by id",
	}, t.GetClaim)
	addTool(server, &names, &mcp.Tool{
		Name:        "advance_workflow",
		Description: "Move a claim that has not been submitted yet to its next workflow step",
	}, t.AdvanceWorkflow)
	addTool(server, &names, &mcp.Tool{
		Name:        "update_narrative",
		Description: "Set the doctor notes and medical justification of an unsubmitted claim, then advance it",
	}, t.UpdateNarrative)
	addTool(server, &names, &mcp.Tool{
		Name:        "submit_claim",
		Description: "Submit a ready claim to the insurer",
	}, t.SubmitClaim)
	addTool(server, &names, &mcp.Tool{
		Name:        "record_outcome",
		Description: "Record the insurer decision on a submitted claim and learn from it",
	}, t.RecordOutcome)
	addTool(server, &names, &mcp.Tool{
		Name:        "mark_paid",
		Description: "Close an approved claim as paid",
	}, t.MarkPaid)
	addTool(server, &names, &mcp.Tool{
		Name:        "scan_for_attention",
		Description: "List claims needing follow-up, resubmission or escalation",
	}, t.ScanForAttention)
	addTool(server, &names, &mcp.Tool{
		Name:        "auto_resubmit",
		Description: "Resubmit a rejected claim with an improved service description",
	}, t.AutoResubmit)
	addTool(server, &names, &mcp.Tool{
		Name:        "escalate",
		Description: "Notify the owning doctor and every admin about a claim",
	}, t.Escalate)
	addTool(server, &names, &mcp.Tool{
		Name:        "get_best_template",
		Description: "Return the learned claim template with the best success rate for an insurer",
	}, t.GetBestTemplate)
	addTool(server, &names, &mcp.Tool{
		Name:        "check_claim",
		Description: "List pre-submission warnings for a claim from what was learned about its insurer",
	}, t.CheckClaim)
	addTool(server, &names, &mcp.Tool{
		Name:        "run_sweep",
		Description: "Run one monitoring pass: resubmit rejected claims, escalate special cases, send follow-ups",
	}, t.RunSweep)
	return names
}

// GenerateClaim handles generate_claim.
func (t *ToolSet) GenerateClaim(ctx context.Context, _ *mcp.CallToolRequest, in GenerateClaimParams) (*mcp.CallToolResult, any, error) {
	dates, err := parseSessionDates(in.SessionDates)
	if err != nil {
		return t.errorResult("generate_claim", err)
	}
	req := service.GenerateClaimRequest{
		TreatmentPlanID:   in.TreatmentPlanID,
		PatientID:         in.PatientID,
		RequestedSessions: in.RequestedSessions,
		SessionDates:      dates,
	}
	if in.DoctorNotes != "" {
		req.DoctorNotes = domain.StringPtr(in.DoctorNotes)
	}
	if in.MedicalJustification != "" {
		req.MedicalJustification = domain.StringPtr(in.MedicalJustification)
	}

	claim, err := t.core.Workflow.GenerateClaim(ctx, req, t.core.Settings(ctx))
	if err != nil {
		return t.errorResult("generate_claim", err)
	}
	return jsonResult(claim)
}

// GetClaim handles get_claim.
func (t *ToolSet) GetClaim(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	return t.claimResult("get_claim")(t.core.Workflow.GetClaim(ctx, in.ClaimID))
}

// AdvanceWorkflow handles advance_workflow.
func (t *ToolSet) AdvanceWorkflow(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	return t.claimResult("advance_workflow")(t.core.Workflow.AdvanceWorkflow(ctx, in.ClaimID, t.core.Settings(ctx)))
}

// UpdateNarrative handles update_narrative.
func (t *ToolSet) UpdateNarrative(ctx context.Context, _ *mcp.CallToolRequest, in UpdateNarrativeParams) (*mcp.CallToolResult, any, error) {
	return t.claimResult("update_narrative")(t.core.Workflow.UpdateNarrative(ctx, in.ClaimID, in.DoctorNotes, in.MedicalJustification, t.core.Settings(ctx)))
}

// SubmitClaim handles submit_claim.
func (t *ToolSet) SubmitClaim(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	return t.claimResult("submit_claim")(t.core.Workflow.Submit(ctx, in.ClaimID))
}

// RecordOutcome handles record_outcome.
func (t *ToolSet) RecordOutcome(ctx context.Context, _ *mcp.CallToolRequest, in RecordOutcomeParams) (*mcp.CallToolResult, any, error) {
	outcome := domain.Outcome(strings.ToLower(strings.TrimSpace(in.Outcome)))
	return t.claimResult("record_outcome")(t.core.Workflow.RecordOutcome(ctx, in.ClaimID, outcome, in.Reason))
}

// MarkPaid handles mark_paid.
func (t *ToolSet) MarkPaid(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	return t.claimResult("mark_paid")(t.core.Workflow.MarkPaid(ctx, in.ClaimID))
}

// ScanForAttention handles scan_for_attention.
func (t *ToolSet) ScanForAttention(ctx context.Context, _ *mcp.CallToolRequest, _ NoParams) (*mcp.CallToolResult, any, error) {
	report, err := t.core.Monitor.ScanForAttention(ctx)
	if err != nil {
		return t.errorResult("scan_for_attention", err)
	}
	return jsonResult(report)
}

// AutoResubmit handles auto_resubmit.
func (t *ToolSet) AutoResubmit(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	result, err := t.core.Monitor.AutoResubmit(ctx, in.ClaimID)
	if err != nil {
		return t.errorResult("auto_resubmit", err)
	}
	return jsonResult(result)
}

// Escalate handles escalate.
func (t *ToolSet) Escalate(ctx context.Context, _ *mcp.CallToolRequest, in EscalateParams) (*mcp.CallToolResult, any, error) {
	result, err := t.core.Monitor.Escalate(ctx, in.ClaimID, in.Reason)
	if err != nil {
		return t.errorResult("escalate", err)
	}
	return jsonResult(result)
}

// GetBestTemplate handles get_best_template.
func (t *ToolSet) GetBestTemplate(ctx context.Context, _ *mcp.CallToolRequest, in BestTemplateParams) (*mcp.CallToolResult, any, error) {
	provider := strings.TrimSpace(in.Provider)
	if provider == "" {
		return t.errorResult("get_best_template", domain.NewValidationError("provider", "provider is required", in.Provider))
	}
	tmpl, err := t.core.Learning.GetBestTemplate(ctx, provider, strings.TrimSpace(in.ServiceType))
	if err != nil {
		return t.errorResult("get_best_template", err)
	}
	if tmpl == nil {
		return jsonResult(map[string]any{"template": nil, "message": "no successful template learned yet"})
	}
	return jsonResult(tmpl)
}

// CheckClaim handles check_claim.
func (t *ToolSet) CheckClaim(ctx context.Context, _ *mcp.CallToolRequest, in ClaimIDParams) (*mcp.CallToolResult, any, error) {
	warnings, err := t.core.Learning.ClaimWarnings(ctx, in.ClaimID)
	if err != nil {
		return t.errorResult("check_claim", err)
	}
	return jsonResult(map[string]any{"claim_id": in.ClaimID, "warnings": warnings})
}

// RunSweep handles run_sweep.
func (t *ToolSet) RunSweep(ctx context.Context, _ *mcp.CallToolRequest, _ NoParams) (*mcp.CallToolResult, any, error) {
	result, err := t.core.Sweeper.Run(ctx)
	if err != nil {
		return t.errorResult("run_sweep", err)
	}
	return jsonResult(result)
}

func addTool[In any](server *mcp.Server, names *[]string, tool *mcp.Tool, handler mcp.ToolHandlerFor[In, any]) {
	mcp.AddTool(server, tool, handler)
	*names = append(*names, tool.Name)
}

func (t *ToolSet) claimResult(tool string) func(*domain.Claim, error) (*mcp.CallToolResult, any, error) {
	return func(claim *domain.Claim, err error) (*mcp.CallToolResult, any, error) {
		if err != nil {
			return t.errorResult(tool, err)
		}
		return jsonResult(claim)
	}
}

// errorResult reports err to the client as a tool error. Only internal
// failures are logged; validation and conflicts are the caller's to fix.
func (t *ToolSet) errorResult(tool string, err error) (*mcp.CallToolResult, any, error) {
	apiErr := domain.ToAPIError(err, "")
	if apiErr.Code == domain.ErrCodeInternal {
		t.logger.WithFields(logrus.Fields{
			"tool":  tool,
			"error": err,
		}).Error("Tool execution failed")
	}

	raw, marshalErr := json.Marshal(apiErr)
	if marshalErr != nil {
		return nil, nil, fmt.Errorf("encoding tool error: %w", marshalErr)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

func parseSessionDates(values []string) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		d, err := time.Parse(time.RFC3339, v)
		if err != nil {
			d, err = time.Parse(time.DateOnly, v)
		}
		if err != nil {
			return nil, domain.NewValidationError("session_dates", "dates must be YYYY-MM-DD or RFC 3339", v)
		}
		dates = append(dates, d.UTC())
	}
	return dates, nil
}
