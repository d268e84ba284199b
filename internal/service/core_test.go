package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claim-automation-server/internal/domain"
)

type staticSettings struct {
	settings domain.WorkflowSettings
	err      error
}

func (s staticSettings) WorkflowSettings(context.Context) (domain.WorkflowSettings, error) {
	return s.settings, s.err
}

func newTestCore(t *testing.T, settings domain.SettingsProvider) (*Core, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	core := NewCore(CoreDeps{
		Claims:    newMemClaims(),
		Clinic:    newFakeClinic(),
		Settings:  settings,
		Templates: newTemplateStore(t),
		Notifier:  sink,
		Logger:    testLogger(),
	}, CoreConfig{
		Workflow:   domain.DefaultWorkflowConfig(),
		Learning:   domain.DefaultLearningConfig(),
		Monitoring: domain.DefaultMonitoringConfig(),
	})
	return core, sink
}

func TestCore_Settings(t *testing.T) {
	ctx := context.Background()

	core, _ := newTestCore(t, nil)
	assert.False(t, core.Settings(ctx).AutoSubmitClaims)

	core, _ = newTestCore(t, staticSettings{settings: domain.WorkflowSettings{AutoSubmitClaims: true}})
	assert.True(t, core.Settings(ctx).AutoSubmitClaims)

	core, _ = newTestCore(t, staticSettings{
		settings: domain.WorkflowSettings{AutoSubmitClaims: true},
		err:      errors.New("settings table missing"),
	})
	assert.False(t, core.Settings(ctx).AutoSubmitClaims, "a failed read never auto-submits")
}

func TestCore_AutoSubmitFromSettings(t *testing.T) {
	ctx := context.Background()
	core, sink := newTestCore(t, staticSettings{settings: domain.WorkflowSettings{AutoSubmitClaims: true}})

	claim, err := core.Workflow.GenerateClaim(ctx, GenerateClaimRequest{
		TreatmentPlanID:      "tp-1",
		PatientID:            "patient-1",
		RequestedSessions:    8,
		DoctorNotes:          domain.StringPtr("Range of motion improving"),
		MedicalJustification: domain.StringPtr("Rehabilitation after total knee replacement"),
	}, core.Settings(ctx))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSubmitted, claim.Status)
	assert.Equal(t, domain.StepSubmitted, claim.WorkflowStep)
	assert.NotNil(t, claim.SubmittedAt)
	assert.Equal(t, 1, sink.count(domain.NotifyClaimSummary))

	// the unresolved insurer leaves nothing to learn from, but the outcome still lands
	claim, err = core.Workflow.RecordOutcome(ctx, claim.ID, domain.OutcomeApproved, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, claim.Status)

	best, err := core.Learning.GetBestTemplate(ctx, "Unlisted Insurer", "physiotherapy")
	require.NoError(t, err)
	assert.Nil(t, best)
}
