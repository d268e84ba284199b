package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// RegisterUserParams defines parameters for register_user tool
type RegisterUserParams struct {
	UserID   string `json:"user_id" jsonschema:"id of the user"`
	FullName string `json:"full_name,omitempty" jsonschema:"display name"`
	Role     string `json:"role" jsonschema:"one of admin, doctor, patient, insurance"`
}

// RegisterTreatmentPlanParams defines parameters for register_treatment_plan tool
type RegisterTreatmentPlanParams struct {
	PlanID             string  `json:"plan_id,omitempty" jsonschema:"id of the plan, generated when omitted"`
	PatientID          string  `json:"patient_id" jsonschema:"id of the patient"`
	PatientName        string  `json:"patient_name,omitempty" jsonschema:"patient display name"`
	DoctorID           string  `json:"doctor_id" jsonschema:"id of the treating doctor"`
	DoctorName         string  `json:"doctor_name,omitempty" jsonschema:"doctor display name"`
	InsuranceProvider  string  `json:"insurance_provider,omitempty" jsonschema:"insurer name, the patient is uninsured when omitted"`
	CoveragePercentage float64 `json:"coverage_percentage,omitempty" jsonschema:"insurer coverage percentage between 0 and 100"`
	PolicyNumber       string  `json:"policy_number,omitempty" jsonschema:"patient policy number"`
	ServiceType        string  `json:"service_type" jsonschema:"service type, e.g. physiotherapy"`
	Description        string  `json:"description,omitempty" jsonschema:"treatment description"`
	ChiefComplaint     string  `json:"chief_complaint,omitempty" jsonschema:"chief complaint"`
	Assessment         string  `json:"assessment,omitempty" jsonschema:"clinical assessment"`
	Plan               string  `json:"plan,omitempty" jsonschema:"treatment plan narrative"`
	Diagnosis          string  `json:"diagnosis,omitempty" jsonschema:"diagnosis code or text"`
}

// ImportTemplatesParams defines parameters for import_templates tool
type ImportTemplatesParams struct {
	Path string `json:"path" jsonschema:"path of a JSON file written by export_templates"`
}

var knownRoles = map[string]bool{
	"admin":     true,
	"doctor":    true,
	"patient":   true,
	"insurance": true,
}

func (s *LiteServer) registerLiteTools() {
	server := s.server.MCPServer()
	names := &s.server.toolNames
	addTool(server, names, &mcp.Tool{
		Name:        "register_user",
		Description: "Add or replace a clinic user so notifications can reach them",
	}, s.RegisterUser)
	addTool(server, names, &mcp.Tool{
		Name:        "register_treatment_plan",
		Description: "Record an approved treatment plan with its patient, doctor and insurer",
	}, s.RegisterTreatmentPlan)
	addTool(server, names, &mcp.Tool{
		Name:        "export_templates",
		Description: "Write every learned claim template to a JSON file in the export directory",
	}, s.ExportTemplates)
	addTool(server, names, &mcp.Tool{
		Name:        "import_templates",
		Description: "Load claim templates from a JSON export, keeping templates that already exist",
	}, s.ImportTemplates)
}

// RegisterUser handles register_user.
func (s *LiteServer) RegisterUser(ctx context.Context, _ *mcp.CallToolRequest, in RegisterUserParams) (*mcp.CallToolResult, any, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return s.server.tools.errorResult("register_user", domain.NewValidationError("user_id", "user_id is required", in.UserID))
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !knownRoles[role] {
		return s.server.tools.errorResult("register_user", domain.NewValidationError("role", "unknown role", in.Role))
	}
	if err := s.store.PutUser(ctx, userID, in.FullName, role); err != nil {
		return s.server.tools.errorResult("register_user", err)
	}
	return jsonResult(map[string]string{"user_id": userID, "role": role})
}

// RegisterTreatmentPlan handles register_treatment_plan.
func (s *LiteServer) RegisterTreatmentPlan(ctx context.Context, _ *mcp.CallToolRequest, in RegisterTreatmentPlanParams) (*mcp.CallToolResult, any, error) {
	const tool = "register_treatment_plan"
	if err := validatePlanParams(in); err != nil {
		return s.server.tools.errorResult(tool, err)
	}

	var profile *domain.InsuranceProfile
	if provider := strings.TrimSpace(in.InsuranceProvider); provider != "" {
		insurer := &domain.InsuranceProvider{
			Name:               provider,
			CoveragePercentage: in.CoveragePercentage,
			IsActive:           true,
		}
		if err := s.store.PutInsuranceProvider(ctx, insurer); err != nil {
			return s.server.tools.errorResult(tool, err)
		}
		profile = &domain.InsuranceProfile{
			PatientID:    in.PatientID,
			ProviderName: provider,
			PolicyNumber: in.PolicyNumber,
		}
	}

	if err := s.store.PutUser(ctx, in.DoctorID, in.DoctorName, "doctor"); err != nil {
		return s.server.tools.errorResult(tool, err)
	}
	if err := s.store.PutUser(ctx, in.PatientID, in.PatientName, "patient"); err != nil {
		return s.server.tools.errorResult(tool, err)
	}
	if err := s.store.PutPatient(ctx, in.PatientID, in.PatientName, profile); err != nil {
		return s.server.tools.errorResult(tool, err)
	}

	plan := &domain.TreatmentPlan{
		ID:          strings.TrimSpace(in.PlanID),
		PatientID:   in.PatientID,
		DoctorID:    in.DoctorID,
		ServiceType: in.ServiceType,
		Description: in.Description,
		Clinical: domain.ClinicalDetails{
			ChiefComplaint: in.ChiefComplaint,
			Assessment:     in.Assessment,
			Plan:           in.Plan,
			Diagnosis:      in.Diagnosis,
		},
	}
	if err := s.store.PutTreatmentPlan(ctx, plan); err != nil {
		return s.server.tools.errorResult(tool, err)
	}

	s.logger.WithFields(logrus.Fields{
		"plan_id":    plan.ID,
		"patient_id": plan.PatientID,
		"doctor_id":  plan.DoctorID,
	}).Info("Treatment plan registered")
	return jsonResult(plan)
}

func validatePlanParams(in RegisterTreatmentPlanParams) error {
	switch {
	case strings.TrimSpace(in.PatientID) == "":
		return domain.NewValidationError("patient_id", "patient_id is required", in.PatientID)
	case strings.TrimSpace(in.DoctorID) == "":
		return domain.NewValidationError("doctor_id", "doctor_id is required", in.DoctorID)
	case strings.TrimSpace(in.ServiceType) == "":
		return domain.NewValidationError("service_type", "service_type is required", in.ServiceType)
	case in.CoveragePercentage < 0 || in.CoveragePercentage > 100:
		return domain.NewValidationError("coverage_percentage", "coverage must be between 0 and 100", in.CoveragePercentage)
	}
	return nil
}

// ExportTemplates handles export_templates.
func (s *LiteServer) ExportTemplates(ctx context.Context, _ *mcp.CallToolRequest, _ NoParams) (*mcp.CallToolResult, any, error) {
	path := filepath.Join(s.config.ExportDir(), fmt.Sprintf("templates-%s.json", time.Now().UTC().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return s.server.tools.errorResult("export_templates", fmt.Errorf("creating export file: %w", err))
	}
	defer f.Close()

	if err := s.core.Learning.ExportTemplates(ctx, f); err != nil {
		return s.server.tools.errorResult("export_templates", err)
	}
	return jsonResult(map[string]string{"path": path})
}

// ImportTemplates handles import_templates.
func (s *LiteServer) ImportTemplates(ctx context.Context, _ *mcp.CallToolRequest, in ImportTemplatesParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Path) == "" {
		return s.server.tools.errorResult("import_templates", domain.NewValidationError("path", "path is required", in.Path))
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return s.server.tools.errorResult("import_templates", domain.NewValidationError("path", "cannot open file: "+err.Error(), in.Path))
	}
	defer f.Close()

	imported, skipped, err := s.core.Learning.ImportTemplates(ctx, f)
	if err != nil {
		return s.server.tools.errorResult("import_templates", err)
	}
	return jsonResult(map[string]int{"imported": imported, "skipped": skipped})
}
