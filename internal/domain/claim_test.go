package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusAwaitingDoctorReview, true},
		{StatusDraft, StatusPending, true},
		{StatusDraft, StatusSubmitted, true},
		{StatusPending, StatusSubmitted, true},
		{StatusAwaitingDoctorReview, StatusPending, true},
		{StatusAwaitingDoctorReview, StatusSubmitted, false},
		{StatusSubmitted, StatusUnderReview, true},
		{StatusSubmitted, StatusApproved, true},
		{StatusUnderReview, StatusRejected, true},
		{StatusApproved, StatusPaid, true},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusSubmitted, true},
		{StatusRejected, StatusPaid, false},
		{StatusPaid, StatusSubmitted, false},
		{Status("archived"), StatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestClaimTransition(t *testing.T) {
	c := &Claim{ID: "c-1", Status: StatusRejected}
	require.NoError(t, c.Transition(StatusSubmitted))
	assert.Equal(t, StatusSubmitted, c.Status)

	err := c.Transition(StatusPaid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusSubmitted, c.Status, "status must not change on a rejected transition")
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPaid.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())

	for _, s := range []Status{StatusDraft, StatusPending, StatusAwaitingDoctorReview} {
		assert.True(t, s.IsPreSubmission(), s)
	}
	for _, s := range []Status{StatusSubmitted, StatusUnderReview, StatusRejected, StatusPaid} {
		assert.False(t, s.IsPreSubmission(), s)
	}

	s, ok := ParseStatus(" Under_Review ")
	assert.True(t, ok)
	assert.Equal(t, StatusUnderReview, s)
	_, ok = ParseStatus("cancelled")
	assert.False(t, ok)
}

func TestComputeAmounts(t *testing.T) {
	tests := []struct {
		name     string
		sessions int
		unit     float64
		pct      float64
		want     Amounts
	}{
		{"default coverage", 10, 200, 80, Amounts{Total: 2000, Covered: 1600, PatientResponsibility: 400}},
		{"full coverage", 3, 150, 100, Amounts{Total: 450, Covered: 450, PatientResponsibility: 0}},
		{"no coverage", 1, 200, 0, Amounts{Total: 200, Covered: 0, PatientResponsibility: 200}},
		{"fractional", 7, 133.33, 66.5, Amounts{Total: 933.31, Covered: 620.65, PatientResponsibility: 312.66}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeAmounts(tt.sessions, tt.unit, tt.pct)
			assert.InDelta(t, tt.want.Total, got.Total, 0.001)
			assert.InDelta(t, tt.want.Covered, got.Covered, 0.001)
			assert.InDelta(t, tt.want.PatientResponsibility, got.PatientResponsibility, 0.001)

			c := &Claim{TotalAmount: got.Total, CoveredAmount: got.Covered, PatientResponsibility: got.PatientResponsibility}
			assert.True(t, c.AmountsBalanced(0.01))
		})
	}
}

func TestPresentFields(t *testing.T) {
	c := &Claim{
		Clinical: ClinicalDetails{
			ChiefComplaint: "Lower back pain",
			Assessment:     "   ",
			Diagnosis:      "M54.5",
		},
		ServiceDescription:   "Physiotherapy",
		MedicalJustification: StringPtr("Reduced mobility"),
	}

	assert.Equal(t, []string{
		FieldChiefComplaint,
		FieldDiagnosis,
		FieldTreatment,
		FieldMedicalNecessity,
	}, c.PresentFields())
	assert.True(t, c.NeedsDoctorInput())

	c.DoctorNotes = StringPtr("Session plan agreed")
	assert.False(t, c.NeedsDoctorInput())
	assert.Contains(t, c.PresentFields(), FieldProgressNotes)
}

func TestClaimClone(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	orig := &Claim{
		ID:            "c-1",
		DoctorNotes:   StringPtr("notes"),
		SubmittedAt:   &submitted,
		ServiceDates:  []time.Time{submitted},
		AISuggestions: &AISuggestions{TemplateID: "t-1"},
	}

	cp := orig.Clone()
	*cp.DoctorNotes = "changed"
	*cp.SubmittedAt = submitted.Add(time.Hour)
	cp.ServiceDates[0] = submitted.Add(time.Hour)
	cp.AISuggestions.TemplateID = "t-2"

	assert.Equal(t, "notes", *orig.DoctorNotes)
	assert.Equal(t, submitted, *orig.SubmittedAt)
	assert.Equal(t, submitted, orig.ServiceDates[0])
	assert.Equal(t, "t-1", orig.AISuggestions.TemplateID)
	assert.Nil(t, (*Claim)(nil).Clone())
}

func TestSortDates(t *testing.T) {
	d1 := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	in := []time.Time{d1, d2, d3}

	assert.Equal(t, []time.Time{d2, d3, d1}, SortDates(in))
	assert.Equal(t, d1, in[0], "input must not be reordered")
}

func TestTemplateLearningPrimitives(t *testing.T) {
	tmpl := NewClaimTemplate("ins-1", "physiotherapy")

	tmpl.AddRequiredFields(FieldPlan, FieldDiagnosis)
	tmpl.AddRequiredFields(FieldDiagnosis, FieldAssessment)
	assert.Equal(t, []string{FieldAssessment, FieldDiagnosis, FieldPlan}, tmpl.RequiredFields)

	tmpl.BumpPattern(FieldDiagnosis, "M54.5")
	tmpl.BumpPattern(FieldDiagnosis, "M54.5")
	tmpl.BumpPattern(FieldPlan, "10 sessions")
	top := tmpl.TopPatterns(1)
	require.Len(t, top, 1)
	assert.Equal(t, SuccessPattern{Field: FieldDiagnosis, Snippet: "M54.5", Frequency: 2}, top[0])

	for i := 0; i < 4; i++ {
		tmpl.FoldOutcome(1)
	}
	assert.Equal(t, 4, tmpl.SampleCount)
	assert.InDelta(t, 1.0, tmpl.SuccessRate, 1e-9)

	tmpl.FoldOutcome(0)
	assert.InDelta(t, 0.8, tmpl.SuccessRate, 1e-9)

	other := &ClaimTemplate{SuccessRate: 0.8, SampleCount: 2}
	assert.True(t, tmpl.BetterThan(other))
	assert.False(t, other.BetterThan(tmpl))
}

func TestHasRejectionPattern(t *testing.T) {
	tmpl := NewClaimTemplate("ins-1", "physiotherapy")
	p := RejectionPattern{Field: FieldDiagnosis, Operator: OperatorExists, Value: "false", WarningMessage: "diagnosis missing"}
	assert.False(t, tmpl.HasRejectionPattern(p))

	tmpl.RejectionPatterns = append(tmpl.RejectionPatterns, p)
	assert.True(t, tmpl.HasRejectionPattern(p))

	reworded := RejectionPattern{Field: FieldDiagnosis, Operator: OperatorExists, Value: "false", WarningMessage: "Missing diagnosis"}
	assert.True(t, tmpl.HasRejectionPattern(reworded))

	limit := RejectionPattern{Field: FieldTotalAmount, Operator: OperatorLessThan, Value: "1500", WarningMessage: "limit of 1,500 SAR"}
	assert.False(t, tmpl.HasRejectionPattern(limit))
	tmpl.RejectionPatterns = append(tmpl.RejectionPatterns, limit)

	assert.True(t, tmpl.HasRejectionPattern(RejectionPattern{Field: FieldTotalAmount, Operator: OperatorLessThan, Value: "1500", WarningMessage: "over 1500"}))
	assert.False(t, tmpl.HasRejectionPattern(RejectionPattern{Field: FieldTotalAmount, Operator: OperatorLessThan, Value: "2000", WarningMessage: "limit of 1,500 SAR"}))
}
