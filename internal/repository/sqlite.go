package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/claim-automation-server/internal/domain"
)

// SQLiteStore implements the claim repository, clinic directory, notification
// outbox and settings reader on a single SQLite file. It backs the lite server.
type SQLiteStore struct {
	db       *sql.DB
	log      *logrus.Logger
	defaults domain.WorkflowSettings
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath.
func NewSQLiteStore(dbPath string, defaults domain.WorkflowSettings, logger *logrus.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer keeps compare-and-swap updates serialized
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createClaimSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, log: logger, defaults: defaults}, nil
}

func createClaimSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS insurance_companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		coverage_percentage REAL NOT NULL DEFAULT 80,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS patient_insurance (
		patient_id TEXT PRIMARY KEY REFERENCES patients(id),
		provider_name TEXT NOT NULL,
		policy_number TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS treatment_plans (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		doctor_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		chief_complaint TEXT NOT NULL DEFAULT '',
		assessment TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		diagnosis TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'approved'
	);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		claim_number TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		doctor_id TEXT NOT NULL,
		insurance_company_id TEXT,
		treatment_plan_id TEXT,
		service_type TEXT NOT NULL DEFAULT '',
		requested_sessions INTEGER NOT NULL,
		service_dates TEXT NOT NULL DEFAULT '[]',
		total_amount REAL NOT NULL,
		covered_amount REAL NOT NULL,
		patient_responsibility REAL NOT NULL,
		coverage_percentage REAL NOT NULL,
		chief_complaint TEXT NOT NULL DEFAULT '',
		assessment TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		diagnosis TEXT NOT NULL DEFAULT '',
		doctor_notes TEXT,
		medical_justification TEXT,
		service_description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		workflow_step TEXT NOT NULL,
		requires_doctor_review INTEGER NOT NULL DEFAULT 0,
		auto_generated INTEGER NOT NULL DEFAULT 0,
		ai_suggestions TEXT,
		ai_confidence REAL,
		rejection_reason TEXT,
		rejection_count INTEGER NOT NULL DEFAULT 0,
		resubmission_notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		submitted_at DATETIME,
		processed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		role TEXT,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS system_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func sqliteJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Create inserts a new claim.
func (s *SQLiteStore) Create(ctx context.Context, claim *domain.Claim) error {
	enc, err := encodeClaimJSON(claim)
	if err != nil {
		return err
	}

	query := `INSERT INTO claims (` + claimColumns + `) VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", 33), ", ") + `)`
	if _, err := s.db.ExecContext(ctx, query, insertArgs(claim, enc, sqliteJSON)...); err != nil {
		s.log.WithFields(logrus.Fields{
			"claim_id": claim.ID,
			"error":    err,
		}).Error("Failed to create claim")
		return fmt.Errorf("creating claim: %w", err)
	}
	return nil
}

// GetByID retrieves a claim by its ID
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	claim, err := scanClaim(s.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("claim", id)
		}
		return nil, fmt.Errorf("getting claim by ID: %w", err)
	}
	return claim, nil
}

// CompareAndSwap writes the claim only if the stored status and workflow step
// still match the expected values.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, claim *domain.Claim, expectedStatus domain.Status, expectedStep domain.WorkflowStep) error {
	enc, err := encodeClaimJSON(claim)
	if err != nil {
		return err
	}

	query := `UPDATE claims SET ` + strings.Join(mutableColumns, " = ?, ") + ` = ?
		WHERE id = ? AND status = ? AND workflow_step = ?`
	args := append(updateArgs(claim, enc, sqliteJSON), claim.ID, string(expectedStatus), string(expectedStep))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating claim: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM claims WHERE id = ?`, claim.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFoundError("claim", claim.ID)
	}
	if err != nil {
		return fmt.Errorf("checking claim existence: %w", err)
	}
	return domain.NewConflictError(claim.ID,
		fmt.Sprintf("expected %s/%s but the stored claim changed", expectedStatus, expectedStep))
}

// FindByStatus returns every claim in one of the given statuses, newest first.
func (s *SQLiteStore) FindByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.Claim, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ") + `) ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying claims by status: %w", err)
	}
	defer rows.Close()
	return collectSQLClaims(rows)
}

// List returns claims with pagination, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()
	return collectSQLClaims(rows)
}

func collectSQLClaims(rows *sql.Rows) ([]*domain.Claim, error) {
	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// GetTreatmentPlan retrieves a treatment plan by its ID
func (s *SQLiteStore) GetTreatmentPlan(ctx context.Context, id string) (*domain.TreatmentPlan, error) {
	var plan domain.TreatmentPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, doctor_id, service_type, description,
			chief_complaint, assessment, plan, diagnosis, status
		FROM treatment_plans WHERE id = ?`, id).Scan(
		&plan.ID, &plan.PatientID, &plan.DoctorID, &plan.ServiceType, &plan.Description,
		&plan.Clinical.ChiefComplaint, &plan.Clinical.Assessment, &plan.Clinical.Plan, &plan.Clinical.Diagnosis,
		&plan.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("treatment plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting treatment plan: %w", err)
	}
	return &plan, nil
}

// GetPatientInsurance returns the patient's insurance profile, or nil when the
// patient has none.
func (s *SQLiteStore) GetPatientInsurance(ctx context.Context, patientID string) (*domain.InsuranceProfile, error) {
	var id string
	var provider, policy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, pi.provider_name, pi.policy_number
		FROM patients p
		LEFT JOIN patient_insurance pi ON pi.patient_id = p.id
		WHERE p.id = ?`, patientID).Scan(&id, &provider, &policy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("patient", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient insurance: %w", err)
	}
	if !provider.Valid || provider.String == "" {
		return nil, nil
	}
	return &domain.InsuranceProfile{PatientID: id, ProviderName: provider.String, PolicyNumber: policy.String}, nil
}

// LookupInsuranceProvider finds an insurer by case-insensitive name.
func (s *SQLiteStore) LookupInsuranceProvider(ctx context.Context, name string) (*domain.InsuranceProvider, error) {
	var p domain.InsuranceProvider
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, coverage_percentage, is_active
		FROM insurance_companies WHERE lower(name) = lower(?) LIMIT 1`, name).
		Scan(&p.ID, &p.Name, &p.CoveragePercentage, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up insurance provider: %w", err)
	}
	return &p, nil
}

// InsertNotification appends a notification to the outbox.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, role, kind, title, message, entity_type, entity_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, domain.StringPtr(n.UserID), domain.StringPtr(n.Role), n.Kind, n.Title, n.Message,
		n.EntityType, n.EntityID, n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// UserIDsByRole returns the ids of every user holding role.
func (s *SQLiteStore) UserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE role = ? ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("querying users by role: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListNotifications returns the newest notifications addressed to userID.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), COALESCE(role, ''), kind, title, message, entity_type, entity_id, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Role, &n.Kind, &n.Title, &n.Message, &n.EntityType, &n.EntityID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// WorkflowSettings reads the settings once for the calling operation.
func (s *SQLiteStore) WorkflowSettings(ctx context.Context) (domain.WorkflowSettings, error) {
	settings := s.defaults
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = ?`, settingAutoSubmit).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("reading system settings: %w", err)
	}
	settings.AutoSubmitClaims = parseSettingBool(raw, s.defaults.AutoSubmitClaims, s.log)
	return settings, nil
}

// SetAutoSubmit stores the auto-submit flag.
func (s *SQLiteStore) SetAutoSubmit(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		settingAutoSubmit, fmt.Sprintf("%t", enabled), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing system setting: %w", err)
	}
	return nil
}

// PutUser inserts or replaces a user.
func (s *SQLiteStore) PutUser(ctx context.Context, id, fullName, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, full_name, role) VALUES (?, ?, ?)`, id, fullName, role)
	if err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// PutInsuranceProvider inserts or replaces an insurer.
func (s *SQLiteStore) PutInsuranceProvider(ctx context.Context, p *domain.InsuranceProvider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insurance_companies (id, name, coverage_percentage, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET coverage_percentage = excluded.coverage_percentage, is_active = excluded.is_active`,
		p.ID, p.Name, p.CoveragePercentage, p.IsActive)
	if err != nil {
		return fmt.Errorf("saving insurance provider: %w", err)
	}
	return s.db.QueryRowContext(ctx, `SELECT id FROM insurance_companies WHERE name = ?`, p.Name).Scan(&p.ID)
}

// PutPatient inserts a patient and, when profile is non-nil, their insurance profile.
func (s *SQLiteStore) PutPatient(ctx context.Context, patientID, fullName string, profile *domain.InsuranceProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO patients (id, full_name) VALUES (?, ?)`, patientID, fullName); err != nil {
		return fmt.Errorf("saving patient: %w", err)
	}
	if profile != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO patient_insurance (patient_id, provider_name, policy_number) VALUES (?, ?, ?)`,
			patientID, profile.ProviderName, profile.PolicyNumber); err != nil {
			return fmt.Errorf("saving patient insurance: %w", err)
		}
	}
	return tx.Commit()
}

// PutTreatmentPlan inserts or replaces a treatment plan.
func (s *SQLiteStore) PutTreatmentPlan(ctx context.Context, plan *domain.TreatmentPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = "approved"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO treatment_plans (
			id, patient_id, doctor_id, service_type, description,
			chief_complaint, assessment, plan, diagnosis, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.PatientID, plan.DoctorID, plan.ServiceType, plan.Description,
		plan.Clinical.ChiefComplaint, plan.Clinical.Assessment, plan.Clinical.Plan, plan.Clinical.Diagnosis,
		plan.Status,
	)
	if err != nil {
		return fmt.Errorf("saving treatment plan: %w", err)
	}
	return nil
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
