package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

// ClaimRepository handles claim persistence on PostgreSQL.
type ClaimRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *pgxpool.Pool, logger *logrus.Logger) *ClaimRepository {
	return &ClaimRepository{
		db:  db,
		log: logger,
	}
}

func pgJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// Create inserts a new claim.
func (r *ClaimRepository) Create(ctx context.Context, claim *domain.Claim) error {
	enc, err := encodeClaimJSON(claim)
	if err != nil {
		return err
	}

	query := `INSERT INTO claims (` + claimColumns + `) VALUES (` + placeholders(1, 33) + `)`

	if _, err := r.db.Exec(ctx, query, insertArgs(claim, enc, pgJSON)...); err != nil {
		r.log.WithFields(logrus.Fields{
			"claim_id":     claim.ID,
			"claim_number": claim.ClaimNumber,
			"error":        err,
		}).Error("Failed to create claim")
		return fmt.Errorf("creating claim: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"claim_id":     claim.ID,
		"claim_number": claim.ClaimNumber,
		"patient_id":   claim.PatientID,
	}).Info("Claim created successfully")

	return nil
}

// GetByID retrieves a claim by its ID
func (r *ClaimRepository) GetByID(ctx context.Context, id string) (*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = $1`

	claim, err := scanClaim(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("claim", id)
		}
		r.log.WithFields(logrus.Fields{
			"claim_id": id,
			"error":    err,
		}).Error("Failed to get claim by ID")
		return nil, fmt.Errorf("getting claim by ID: %w", err)
	}

	return claim, nil
}

// CompareAndSwap writes the claim only if the stored status and workflow step
// still match the expected values.
func (r *ClaimRepository) CompareAndSwap(ctx context.Context, claim *domain.Claim, expectedStatus domain.Status, expectedStep domain.WorkflowStep) error {
	enc, err := encodeClaimJSON(claim)
	if err != nil {
		return err
	}

	sets := make([]string, len(mutableColumns))
	for i, col := range mutableColumns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	n := len(mutableColumns)
	query := fmt.Sprintf(`UPDATE claims SET %s WHERE id = $%d AND status = $%d AND workflow_step = $%d`,
		strings.Join(sets, ", "), n+1, n+2, n+3)

	args := append(updateArgs(claim, enc, pgJSON), claim.ID, string(expectedStatus), string(expectedStep))

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"claim_id": claim.ID,
			"error":    err,
		}).Error("Failed to update claim")
		return fmt.Errorf("updating claim: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, claim.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking claim existence: %w", err)
		}
		if !exists {
			return domain.NewNotFoundError("claim", claim.ID)
		}
		return domain.NewConflictError(claim.ID,
			fmt.Sprintf("expected %s/%s but the stored claim changed", expectedStatus, expectedStep))
	}

	r.log.WithFields(logrus.Fields{
		"claim_id":      claim.ID,
		"status":        claim.Status,
		"workflow_step": claim.WorkflowStep,
	}).Debug("Claim updated")

	return nil
}

// FindByStatus returns every claim in one of the given statuses, newest first.
func (r *ClaimRepository) FindByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE status = ANY($1) ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, statusStrings(statuses))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"statuses": statuses,
			"error":    err,
		}).Error("Failed to query claims by status")
		return nil, fmt.Errorf("querying claims by status: %w", err)
	}
	defer rows.Close()

	return collectClaims(rows)
}

// List returns claims with pagination, newest first.
func (r *ClaimRepository) List(ctx context.Context, limit, offset int) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", err)
	}
	defer rows.Close()

	return collectClaims(rows)
}

func collectClaims(rows pgx.Rows) ([]*domain.Claim, error) {
	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claims: %w", err)
	}
	return claims, nil
}

func placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, fmt.Sprintf("$%d", i))
	}
	return strings.Join(parts, ", ")
}
