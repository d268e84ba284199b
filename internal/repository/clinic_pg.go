package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// ClinicRepository reads the clinic records claims are generated from and
// owns the notification outbox and system settings tables.
type ClinicRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewClinicRepository creates a new clinic repository
func NewClinicRepository(db *pgxpool.Pool, logger *logrus.Logger) *ClinicRepository {
	return &ClinicRepository{
		db:  db,
		log: logger,
	}
}

// GetTreatmentPlan retrieves a treatment plan by its ID
func (r *ClinicRepository) GetTreatmentPlan(ctx context.Context, id string) (*domain.TreatmentPlan, error) {
	query := `
		SELECT id, patient_id, doctor_id, service_type, description,
			chief_complaint, assessment, plan, diagnosis, status
		FROM treatment_plans
		WHERE id = $1`

	var plan domain.TreatmentPlan
	err := r.db.QueryRow(ctx, query, id).Scan(
		&plan.ID, &plan.PatientID, &plan.DoctorID, &plan.ServiceType, &plan.Description,
		&plan.Clinical.ChiefComplaint, &plan.Clinical.Assessment, &plan.Clinical.Plan, &plan.Clinical.Diagnosis,
		&plan.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("treatment plan", id)
		}
		r.log.WithFields(logrus.Fields{
			"treatment_plan_id": id,
			"error":             err,
		}).Error("Failed to get treatment plan")
		return nil, fmt.Errorf("getting treatment plan: %w", err)
	}

	return &plan, nil
}

// GetPatientInsurance returns the patient's insurance profile, or nil when the
// patient has none.
func (r *ClinicRepository) GetPatientInsurance(ctx context.Context, patientID string) (*domain.InsuranceProfile, error) {
	query := `
		SELECT p.id, pi.provider_name, pi.policy_number
		FROM patients p
		LEFT JOIN patient_insurance pi ON pi.patient_id = p.id
		WHERE p.id = $1`

	var id string
	var provider, policy *string
	err := r.db.QueryRow(ctx, query, patientID).Scan(&id, &provider, &policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("patient", patientID)
		}
		return nil, fmt.Errorf("getting patient insurance: %w", err)
	}

	if provider == nil || *provider == "" {
		return nil, nil
	}
	return &domain.InsuranceProfile{
		PatientID:    id,
		ProviderName: *provider,
		PolicyNumber: domain.Deref(policy),
	}, nil
}

// LookupInsuranceProvider finds an insurer by case-insensitive name.
func (r *ClinicRepository) LookupInsuranceProvider(ctx context.Context, name string) (*domain.InsuranceProvider, error) {
	query := `
		SELECT id, name, coverage_percentage, is_active
		FROM insurance_companies
		WHERE lower(name) = lower($1)
		LIMIT 1`

	var p domain.InsuranceProvider
	err := r.db.QueryRow(ctx, query, name).Scan(&p.ID, &p.Name, &p.CoveragePercentage, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up insurance provider: %w", err)
	}
	return &p, nil
}

// InsertNotification appends a notification to the outbox.
func (r *ClinicRepository) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications (id, user_id, role, kind, title, message, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		n.ID, domain.StringPtr(n.UserID), domain.StringPtr(n.Role), n.Kind, n.Title, n.Message,
		n.EntityType, n.EntityID, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// UserIDsByRole returns the ids of every user holding role.
func (r *ClinicRepository) UserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("querying users by role: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting user ids: %w", err)
	}
	return ids, nil
}

// SettingsRepository reads runtime workflow settings from system_settings.
type SettingsRepository struct {
	db       *pgxpool.Pool
	log      *logrus.Logger
	defaults domain.WorkflowSettings
}

// NewSettingsRepository creates a settings reader that falls back to defaults
// when a key is absent.
func NewSettingsRepository(db *pgxpool.Pool, defaults domain.WorkflowSettings, logger *logrus.Logger) *SettingsRepository {
	return &SettingsRepository{db: db, log: logger, defaults: defaults}
}

// WorkflowSettings reads the settings once for the calling operation.
func (r *SettingsRepository) WorkflowSettings(ctx context.Context) (domain.WorkflowSettings, error) {
	settings := r.defaults

	var raw string
	err := r.db.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, settingAutoSubmit).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings, nil
		}
		return settings, fmt.Errorf("reading system settings: %w", err)
	}

	settings.AutoSubmitClaims = parseSettingBool(raw, r.defaults.AutoSubmitClaims, r.log)
	return settings, nil
}

const settingAutoSubmit = "auto_submit_claims"

func parseSettingBool(raw string, fallback bool, logger *logrus.Logger) bool {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"value": raw,
			"error": err,
		}).Warn("Ignoring malformed boolean setting")
		return fallback
	}
	return v
}
