package domain

import (
	"sort"
	"time"
)

// SuccessPattern is a recurring (field, value snippet) pair seen in approved claims.
type SuccessPattern struct {
	Field     string `json:"field"`
	Snippet   string `json:"snippet"`
	Frequency int    `json:"frequency"`
}

// Rejection pattern operators.
const (
	OperatorExists   = "exists"
	OperatorLessThan = "lt"
)

// RejectionPattern is a heuristic extracted from a rejection reason. It is used
// as a pre-submission warning and never blocks a submission.
type RejectionPattern struct {
	Field          string `json:"field"`
	Operator       string `json:"operator"`
	Value          string `json:"value"`
	WarningMessage string `json:"warning_message"`
}

// ClaimTemplate holds learned expectations for an (insurance provider, service type) pair.
type ClaimTemplate struct {
	ID                string             `json:"id"`
	InsuranceProvider string             `json:"insurance_provider"`
	ServiceType       string             `json:"service_type"`
	RequiredFields    []string           `json:"required_fields"`
	SuccessPatterns   []SuccessPattern   `json:"success_patterns"`
	RejectionPatterns []RejectionPattern `json:"rejection_patterns"`
	SuccessRate       float64            `json:"success_rate"`
	SampleCount       int                `json:"sample_count"`
	IsSuccessful      bool               `json:"is_successful"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewClaimTemplate returns an empty template for the key.
func NewClaimTemplate(provider, serviceType string) *ClaimTemplate {
	return &ClaimTemplate{
		InsuranceProvider: provider,
		ServiceType:       serviceType,
		RequiredFields:    []string{},
		SuccessPatterns:   []SuccessPattern{},
		RejectionPatterns: []RejectionPattern{},
	}
}

// AddRequiredFields unions fields into RequiredFields, keeping the set sorted.
func (t *ClaimTemplate) AddRequiredFields(fields ...string) {
	set := make(map[string]struct{}, len(t.RequiredFields)+len(fields))
	for _, f := range t.RequiredFields {
		set[f] = struct{}{}
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	t.RequiredFields = out
}

// BumpPattern increments the frequency of a (field, snippet) pair.
func (t *ClaimTemplate) BumpPattern(field, snippet string) {
	for i := range t.SuccessPatterns {
		if t.SuccessPatterns[i].Field == field && t.SuccessPatterns[i].Snippet == snippet {
			t.SuccessPatterns[i].Frequency++
			return
		}
	}
	t.SuccessPatterns = append(t.SuccessPatterns, SuccessPattern{Field: field, Snippet: snippet, Frequency: 1})
}

// HasRejectionPattern reports whether an equivalent pattern is already recorded.
// Presence checks match on field alone; limits also match on the value. The
// wording of the warning never makes a pattern new.
func (t *ClaimTemplate) HasRejectionPattern(p RejectionPattern) bool {
	for _, existing := range t.RejectionPatterns {
		if existing.Field != p.Field || existing.Operator != p.Operator {
			continue
		}
		if p.Operator == OperatorExists || existing.Value == p.Value {
			return true
		}
	}
	return false
}

// FoldOutcome folds one claim outcome (0 or 1) into the running success rate:
// rate = ((rate * (n-1)) + outcome) / n, with n the new sample count.
func (t *ClaimTemplate) FoldOutcome(outcome float64) {
	t.SampleCount++
	n := float64(t.SampleCount)
	t.SuccessRate = ((t.SuccessRate * (n - 1)) + outcome) / n
}

// TopPatterns returns up to n success patterns ordered by frequency.
func (t *ClaimTemplate) TopPatterns(n int) []SuccessPattern {
	out := append([]SuccessPattern(nil), t.SuccessPatterns...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// BetterThan orders templates by success rate, then sample count.
func (t *ClaimTemplate) BetterThan(other *ClaimTemplate) bool {
	if t.SuccessRate != other.SuccessRate {
		return t.SuccessRate > other.SuccessRate
	}
	return t.SampleCount > other.SampleCount
}

// Learning log vocabulary.
const (
	EntityInsuranceCompany = "insurance_company"
	LearningClaimRejection = "claim_rejection"
	LearningClaimApproval  = "claim_approval"
)

// LearningLogEntry is an append-only record of something the learning service inferred.
type LearningLogEntry struct {
	ID                   int64     `json:"id,omitempty"`
	EntityType           string    `json:"entity_type"`
	EntityID             string    `json:"entity_id"`
	LearningType         string    `json:"learning_type"`
	PatternDetected      string    `json:"pattern_detected"`
	AppliedToFutureCases bool      `json:"applied_to_future_cases"`
	ClaimID              string    `json:"claim_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
