package service

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/templates"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// memClaims is an in-memory ClaimRepository with the same compare-and-set
// semantics as the SQL stores.
type memClaims struct {
	mu     sync.Mutex
	claims map[string]*domain.Claim
	// beforeSwap runs inside CompareAndSwap before the check, to simulate a
	// concurrent writer.
	beforeSwap func(stored *domain.Claim)
}

func newMemClaims(claims ...*domain.Claim) *memClaims {
	m := &memClaims{claims: map[string]*domain.Claim{}}
	for _, c := range claims {
		m.claims[c.ID] = c.Clone()
	}
	return m
}

func (m *memClaims) Create(_ context.Context, claim *domain.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[claim.ID]; ok {
		return domain.NewConflictError(claim.ID, "duplicate id")
	}
	m.claims[claim.ID] = claim.Clone()
	return nil
}

func (m *memClaims) GetByID(_ context.Context, id string) (*domain.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, domain.NewNotFoundError("claim", id)
	}
	return c.Clone(), nil
}

func (m *memClaims) CompareAndSwap(_ context.Context, claim *domain.Claim, expectedStatus domain.Status, expectedStep domain.WorkflowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.claims[claim.ID]
	if !ok {
		return domain.NewNotFoundError("claim", claim.ID)
	}
	if m.beforeSwap != nil {
		m.beforeSwap(stored)
	}
	if stored.Status != expectedStatus || stored.WorkflowStep != expectedStep {
		return domain.NewConflictError(claim.ID, "stale write")
	}
	m.claims[claim.ID] = claim.Clone()
	return nil
}

func (m *memClaims) FindByStatus(_ context.Context, statuses ...domain.Status) ([]*domain.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Claim
	for _, c := range m.claims {
		for _, s := range statuses {
			if c.Status == s {
				out = append(out, c.Clone())
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memClaims) List(_ context.Context, limit, offset int) ([]*domain.Claim, error) {
	all, _ := m.FindByStatus(context.Background(),
		domain.StatusDraft, domain.StatusPending, domain.StatusAwaitingDoctorReview, domain.StatusSubmitted,
		domain.StatusUnderReview, domain.StatusApproved, domain.StatusRejected, domain.StatusPaid)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memClaims) get(t *testing.T, id string) *domain.Claim {
	t.Helper()
	c, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

// fakeClinic is an in-memory ClinicDirectory.
type fakeClinic struct {
	plans     map[string]*domain.TreatmentPlan
	profiles  map[string]*domain.InsuranceProfile
	providers map[string]*domain.InsuranceProvider
	patients  map[string]bool
}

func newFakeClinic() *fakeClinic {
	return &fakeClinic{
		plans: map[string]*domain.TreatmentPlan{
			"tp-1": {
				ID: "tp-1", PatientID: "patient-1", DoctorID: "doctor-1", ServiceType: "physiotherapy",
				Description: "Post-operative knee rehabilitation",
				Clinical:    domain.ClinicalDetails{ChiefComplaint: "Knee pain", Diagnosis: "M17.1", Plan: "Two sessions weekly"},
				Status:      "approved",
			},
		},
		profiles: map[string]*domain.InsuranceProfile{
			"patient-1": {PatientID: "patient-1", ProviderName: "Unlisted Insurer"},
		},
		providers: map[string]*domain.InsuranceProvider{},
		patients:  map[string]bool{"patient-1": true, "patient-2": true},
	}
}

func (f *fakeClinic) GetTreatmentPlan(_ context.Context, id string) (*domain.TreatmentPlan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, domain.NewNotFoundError("treatment plan", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeClinic) GetPatientInsurance(_ context.Context, patientID string) (*domain.InsuranceProfile, error) {
	if !f.patients[patientID] {
		return nil, domain.NewNotFoundError("patient", patientID)
	}
	return f.profiles[patientID], nil
}

func (f *fakeClinic) LookupInsuranceProvider(_ context.Context, name string) (*domain.InsuranceProvider, error) {
	return f.providers[strings.ToLower(name)], nil
}

// mockGenerator is a testify mock of the text generation service.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (*domain.GenerationResult, error) {
	args := m.Called(ctx, prompt)
	res, _ := args.Get(0).(*domain.GenerationResult)
	return res, args.Error(1)
}

type sent struct {
	userID string
	role   string
	n      domain.Notification
}

// recordingSink records every delivery attempt.
type recordingSink struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingSink) NotifyUser(_ context.Context, userID string, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID: userID, n: n})
	return r.err
}

func (r *recordingSink) NotifyRole(_ context.Context, role string, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{role: role, n: n})
	return r.err
}

func (r *recordingSink) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.n.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recordingSink) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// recordingLearner records outcome learning calls.
type recordingLearner struct {
	approvals  []string
	rejections []string
	err        error
}

func (r *recordingLearner) LearnFromApproval(_ context.Context, claimID string) error {
	r.approvals = append(r.approvals, claimID)
	return r.err
}

func (r *recordingLearner) LearnFromRejection(_ context.Context, claimID, reason string) error {
	r.rejections = append(r.rejections, claimID+":"+reason)
	return r.err
}

func newTemplateStore(t *testing.T) *templates.SQLiteStore {
	t.Helper()
	store, err := templates.NewSQLiteStore(filepath.Join(t.TempDir(), "templates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func baseClaim(id string, status domain.Status) *domain.Claim {
	insurer := "ins-1"
	amounts := domain.ComputeAmounts(10, 200, 80)
	return &domain.Claim{
		ID:                    id,
		ClaimNumber:           "CLM-20260301-" + strings.ToUpper(id),
		PatientID:             "patient-1",
		DoctorID:              "doctor-1",
		InsuranceCompanyID:    &insurer,
		ServiceType:           "physiotherapy",
		RequestedSessions:     10,
		TotalAmount:           amounts.Total,
		CoveredAmount:         amounts.Covered,
		PatientResponsibility: amounts.PatientResponsibility,
		CoveragePercentage:    80,
		Clinical:              domain.ClinicalDetails{ChiefComplaint: "Knee pain", Diagnosis: "M17.1"},
		ServiceDescription:    "Knee rehabilitation sessions",
		Status:                status,
		WorkflowStep:          stepFor(status),
		CreatedAt:             fixedNow.AddDate(0, 0, -30),
		UpdatedAt:             fixedNow.AddDate(0, 0, -30),
	}
}

func stepFor(s domain.Status) domain.WorkflowStep {
	switch s {
	case domain.StatusDraft:
		return domain.StepInitial
	case domain.StatusPending:
		return domain.StepReadyForSubmission
	case domain.StatusAwaitingDoctorReview:
		return domain.StepAwaitingDoctorReview
	case domain.StatusSubmitted:
		return domain.StepSubmitted
	case domain.StatusUnderReview:
		return domain.StepUnderReview
	case domain.StatusApproved, domain.StatusRejected:
		return domain.StepProcessed
	case domain.StatusPaid:
		return domain.StepPaid
	}
	return domain.StepInitial
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }
