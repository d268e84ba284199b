package service

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/templates"
)

// LearningService folds resolved claim outcomes into per-(provider, service type)
// templates and turns them into advisory suggestions for new claims.
type LearningService struct {
	claims domain.ClaimRepository
	store  templates.Store
	cache  *templates.Cache
	logger *logrus.Logger
	config domain.LearningConfig
	now    func() time.Time
}

// NewLearningService creates a learning service. cache may be nil.
func NewLearningService(
	claims domain.ClaimRepository,
	store templates.Store,
	cache *templates.Cache,
	logger *logrus.Logger,
	config domain.LearningConfig,
) *LearningService {
	defaults := domain.DefaultLearningConfig()
	if config.SnippetLength <= 0 {
		config.SnippetLength = defaults.SnippetLength
	}
	if config.MaxPatternsPerClaim <= 0 {
		config.MaxPatternsPerClaim = defaults.MaxPatternsPerClaim
	}
	if config.RecentLearnings <= 0 {
		config.RecentLearnings = defaults.RecentLearnings
	}
	return &LearningService{
		claims: claims,
		store:  store,
		cache:  cache,
		logger: logger,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LearnFromApproval folds an approved claim into its template: present fields
// join RequiredFields, leading snippets bump SuccessPatterns and the success
// rate absorbs a 1.
func (l *LearningService) LearnFromApproval(ctx context.Context, claimID string) error {
	claim, err := l.claims.GetByID(ctx, claimID)
	if err != nil {
		return fmt.Errorf("loading claim for approval learning: %w", err)
	}
	if claim.Status != domain.StatusApproved {
		l.logger.WithFields(logrus.Fields{
			"claim_id": claimID,
			"status":   claim.Status,
		}).Debug("Skipping approval learning for non-approved claim")
		return nil
	}
	provider := domain.Deref(claim.InsuranceCompanyID)
	if provider == "" {
		l.logger.WithField("claim_id", claimID).Debug("Skipping approval learning, insurance provider unresolved")
		return nil
	}

	tmpl, err := l.store.GetTemplate(ctx, provider, claim.ServiceType)
	if err != nil {
		return fmt.Errorf("loading template: %w", err)
	}
	if tmpl == nil {
		tmpl = domain.NewClaimTemplate(provider, claim.ServiceType)
	}

	present := claim.PresentFields()
	tmpl.AddRequiredFields(present...)
	for i, field := range present {
		if i >= l.config.MaxPatternsPerClaim {
			break
		}
		tmpl.BumpPattern(field, snippet(claim.FieldValue(field), l.config.SnippetLength))
	}
	tmpl.FoldOutcome(1)
	tmpl.IsSuccessful = true
	tmpl.UpdatedAt = l.now()

	if err := l.store.SaveTemplate(ctx, tmpl); err != nil {
		return fmt.Errorf("saving template: %w", err)
	}
	l.invalidate(ctx, provider, claim.ServiceType)

	l.appendLearning(ctx, &domain.LearningLogEntry{
		EntityType:           domain.EntityInsuranceCompany,
		EntityID:             provider,
		LearningType:         domain.LearningClaimApproval,
		PatternDetected:      "approved with fields: " + strings.Join(present, ", "),
		AppliedToFutureCases: true,
		ClaimID:              claim.ID,
	})

	l.logger.WithFields(logrus.Fields{
		"claim_id":     claim.ID,
		"provider":     provider,
		"service_type": claim.ServiceType,
		"success_rate": tmpl.SuccessRate,
		"sample_count": tmpl.SampleCount,
	}).Info("Learned from approved claim")

	return nil
}

// LearnFromRejection mines the rejection reason for warnings on future claims.
// It never changes SuccessRate or SampleCount.
func (l *LearningService) LearnFromRejection(ctx context.Context, claimID, reason string) error {
	claim, err := l.claims.GetByID(ctx, claimID)
	if err != nil {
		return fmt.Errorf("loading claim for rejection learning: %w", err)
	}
	if claim.Status != domain.StatusRejected {
		l.logger.WithFields(logrus.Fields{
			"claim_id": claimID,
			"status":   claim.Status,
		}).Debug("Skipping rejection learning for non-rejected claim")
		return nil
	}
	provider := domain.Deref(claim.InsuranceCompanyID)
	if provider == "" {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = strings.TrimSpace(domain.Deref(claim.RejectionReason))
	}

	tmpl, err := l.store.GetTemplate(ctx, provider, claim.ServiceType)
	if err != nil {
		return fmt.Errorf("loading template: %w", err)
	}
	seeded := false
	if tmpl == nil {
		if !l.config.SeedOnRejection {
			l.logger.WithFields(logrus.Fields{
				"claim_id":     claimID,
				"provider":     provider,
				"service_type": claim.ServiceType,
			}).Debug("No template yet, rejection not learned")
			return nil
		}
		tmpl = domain.NewClaimTemplate(provider, claim.ServiceType)
		seeded = true
	}

	added := 0
	for _, p := range ExtractRejectionPatterns(reason) {
		if tmpl.HasRejectionPattern(p) {
			continue
		}
		tmpl.RejectionPatterns = append(tmpl.RejectionPatterns, p)
		added++
	}

	if added > 0 || seeded {
		tmpl.UpdatedAt = l.now()
		if err := l.store.SaveTemplate(ctx, tmpl); err != nil {
			return fmt.Errorf("saving template: %w", err)
		}
		l.invalidate(ctx, provider, claim.ServiceType)
	}

	if reason != "" {
		l.appendLearning(ctx, &domain.LearningLogEntry{
			EntityType:           domain.EntityInsuranceCompany,
			EntityID:             provider,
			LearningType:         domain.LearningClaimRejection,
			PatternDetected:      reason,
			AppliedToFutureCases: added > 0,
			ClaimID:              claim.ID,
		})
	}

	l.logger.WithFields(logrus.Fields{
		"claim_id":       claim.ID,
		"provider":       provider,
		"service_type":   claim.ServiceType,
		"patterns_added": added,
		"seeded":         seeded,
	}).Info("Learned from rejected claim")

	return nil
}

// GetBestTemplate returns the successful template with the highest success rate,
// then the highest sample count, or nil when there is none.
func (l *LearningService) GetBestTemplate(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, error) {
	if provider == "" {
		return nil, nil
	}
	if l.cache != nil {
		if tmpl, ok := l.cache.Get(ctx, provider, serviceType); ok {
			return tmpl, nil
		}
	}

	found, err := l.store.FindTemplates(ctx, provider, serviceType, true)
	if err != nil {
		return nil, fmt.Errorf("finding templates: %w", err)
	}

	var best *domain.ClaimTemplate
	for _, t := range found {
		if best == nil || t.BetterThan(best) {
			best = t
		}
	}

	if l.cache != nil {
		l.cache.Set(ctx, provider, serviceType, best)
	}
	return best, nil
}

// Suggest builds the advisory data attached to a new claim.
func (l *LearningService) Suggest(ctx context.Context, provider, serviceType string, claim *domain.Claim) (*domain.AISuggestions, error) {
	s := &domain.AISuggestions{GeneratedAt: l.now()}
	if provider == "" {
		s.Warnings = []string{"insurance provider could not be resolved, default coverage applied"}
		return s, nil
	}

	best, err := l.GetBestTemplate(ctx, provider, serviceType)
	if err != nil {
		return nil, err
	}
	if best != nil {
		s.TemplateID = best.ID
		s.RequiredFields = best.RequiredFields
		s.MissingFields = missingFields(claim, best)
		s.CommonPhrases = best.TopPatterns(5)
		rate := best.SuccessRate
		s.TemplateSuccessRate = &rate
	}

	// rejection patterns may live on a template that has no approvals yet
	exact := best
	if best == nil || best.ServiceType != serviceType {
		exact, err = l.store.GetTemplate(ctx, provider, serviceType)
		if err != nil {
			l.logger.WithError(err).Warn("Failed to load template for pre-submission warnings")
			exact = best
		}
	}
	s.Warnings = CheckClaim(claim, exact)

	recent, err := l.store.RecentLearnings(ctx, provider, l.config.RecentLearnings)
	if err != nil {
		l.logger.WithError(err).Warn("Failed to load recent learnings")
	}
	for _, entry := range recent {
		s.RecentLearnings = append(s.RecentLearnings, entry.PatternDetected)
	}

	return s, nil
}

// ExportTemplates writes every learned template and the learning log as JSON.
func (l *LearningService) ExportTemplates(ctx context.Context, w io.Writer) error {
	return l.store.ExportJSON(ctx, w)
}

// ImportTemplates loads templates exported by ExportTemplates. Existing keys
// are kept; both cache tiers are purged so imported templates are visible.
func (l *LearningService) ImportTemplates(ctx context.Context, r io.Reader) (imported, skipped int, err error) {
	imported, skipped, err = l.store.ImportJSON(ctx, r)
	if err != nil {
		return imported, skipped, fmt.Errorf("importing templates: %w", err)
	}
	if l.cache != nil && imported > 0 {
		l.cache.Purge(ctx)
	}
	l.logger.WithFields(logrus.Fields{
		"imported": imported,
		"skipped":  skipped,
	}).Info("Imported claim templates")
	return imported, skipped, nil
}

// ClaimWarnings loads a claim and checks it against the template for its
// insurer and service type.
func (l *LearningService) ClaimWarnings(ctx context.Context, claimID string) ([]string, error) {
	claim, err := l.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	provider := domain.Deref(claim.InsuranceCompanyID)
	if provider == "" {
		return []string{}, nil
	}
	tmpl, err := l.store.GetTemplate(ctx, provider, claim.ServiceType)
	if err != nil {
		return nil, fmt.Errorf("loading template: %w", err)
	}
	warnings := CheckClaim(claim, tmpl)
	if warnings == nil {
		warnings = []string{}
	}
	return warnings, nil
}

// CheckClaim returns pre-submission warnings from what the template has learned.
// Warnings are advisory and never block a submission.
func CheckClaim(claim *domain.Claim, tmpl *domain.ClaimTemplate) []string {
	if claim == nil || tmpl == nil {
		return nil
	}

	var warnings []string
	seen := make(map[string]struct{})
	add := func(w string) {
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		warnings = append(warnings, w)
	}

	for _, field := range missingFields(claim, tmpl) {
		add(fmt.Sprintf("%s was present in approved claims for this insurer but is empty", field))
	}

	for _, p := range tmpl.RejectionPatterns {
		switch p.Operator {
		case domain.OperatorExists:
			if strings.TrimSpace(claim.FieldValue(p.Field)) == "" {
				add(p.WarningMessage)
			}
		case domain.OperatorLessThan:
			limit, err := strconv.ParseFloat(p.Value, 64)
			if err != nil || limit <= 0 {
				continue
			}
			if p.Field == domain.FieldTotalAmount && claim.TotalAmount >= limit {
				add(p.WarningMessage)
			}
		}
	}
	return warnings
}

func missingFields(claim *domain.Claim, tmpl *domain.ClaimTemplate) []string {
	var missing []string
	for _, field := range tmpl.RequiredFields {
		if strings.TrimSpace(claim.FieldValue(field)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

type fieldKeywords struct {
	field    string
	keywords []string
}

var (
	missingKeywords = []string{"missing", "not provided", "absent", "lacking", "incomplete", "مفقود", "ناقص", "غير موجود", "لم يتم"}
	limitKeywords   = []string{"exceed", "limit", "maximum", "تجاوز", "الحد"}

	// longer phrases first so "treatment plan" is not read as "treatment"
	fieldKeywordTable = []fieldKeywords{
		{domain.FieldMedicalNecessity, []string{"medical necessity", "justification", "necessity", "الضرورة الطبية", "مبرر"}},
		{domain.FieldProgressNotes, []string{"progress notes", "doctor notes", "doctor's notes", "notes", "ملاحظات"}},
		{domain.FieldChiefComplaint, []string{"chief complaint", "complaint", "الشكوى"}},
		{domain.FieldDiagnosis, []string{"diagnosis", "icd", "التشخيص", "تشخيص"}},
		{domain.FieldAssessment, []string{"assessment", "evaluation", "التقييم", "تقييم"}},
		{domain.FieldPlan, []string{"treatment plan", "care plan", "خطة العلاج", "خطة"}},
		{domain.FieldTreatment, []string{"service description", "treatment details", "وصف الخدمة", "العلاج"}},
	}

	// grouped thousands ("1,500", "12,000.50") first, then plain or decimal-comma numbers
	amountPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?\b|\d+(?:[.,]\d+)?`)

	currencyKeywords = []string{"sar", "s.r", "riyal", "ريال", "ر.س", "usd", "$", "amount", "مبلغ", "المبلغ"}
	countKeywords    = []string{"session", "visit", "day", "month", "year", "%", "percent", "جلس", "زيار", "يوم", "شهر"}
)

// ExtractRejectionPatterns performs best-effort keyword matching on a
// rejection reason in English or Arabic.
func ExtractRejectionPatterns(reason string) []domain.RejectionPattern {
	lower := strings.ToLower(strings.TrimSpace(reason))
	if lower == "" {
		return nil
	}

	var patterns []domain.RejectionPattern
	if containsAny(lower, missingKeywords) {
		matched := map[string]bool{}
		rest := lower
		for _, fk := range fieldKeywordTable {
			for _, kw := range fk.keywords {
				if !strings.Contains(rest, kw) {
					continue
				}
				if !matched[fk.field] {
					matched[fk.field] = true
					patterns = append(patterns, domain.RejectionPattern{
						Field:          fk.field,
						Operator:       domain.OperatorExists,
						Value:          "false",
						WarningMessage: fmt.Sprintf("A previous claim was rejected for missing %s: %s", fk.field, reason),
					})
				}
				rest = strings.ReplaceAll(rest, kw, " ")
			}
		}
	}

	if containsAny(lower, limitKeywords) {
		patterns = append(patterns, domain.RejectionPattern{
			Field:          domain.FieldTotalAmount,
			Operator:       domain.OperatorLessThan,
			Value:          extractLimitAmount(lower),
			WarningMessage: "A previous claim was rejected for exceeding the coverage limit: " + reason,
		})
	}

	return patterns
}

// extractLimitAmount picks the monetary limit out of a rejection reason. A
// number next to currency or amount wording wins, otherwise the largest number
// that is not a count of sessions, days or a percentage. Empty when none is found.
func extractLimitAmount(lower string) string {
	var best, bestMoney float64
	found, foundMoney := false, false
	for _, loc := range amountPattern.FindAllStringIndex(lower, -1) {
		value, ok := parseAmount(lower[loc[0]:loc[1]])
		if !ok || value <= 0 {
			continue
		}
		before := strings.TrimSpace(lower[max(0, loc[0]-16):loc[0]])
		after := strings.TrimSpace(lower[loc[1]:min(len(lower), loc[1]+12)])

		if hasPrefixAny(after, countKeywords) {
			continue
		}
		if hasPrefixAny(after, currencyKeywords) || hasSuffixAny(before, currencyKeywords) {
			if !foundMoney || value > bestMoney {
				bestMoney, foundMoney = value, true
			}
			continue
		}
		if !found || value > best {
			best, found = value, true
		}
	}

	switch {
	case foundMoney:
		return strconv.FormatFloat(bestMoney, 'f', -1, 64)
	case found:
		return strconv.FormatFloat(best, 'f', -1, 64)
	}
	return ""
}

// parseAmount reads "1,500" as fifteen hundred and "1200,50" as a decimal.
func parseAmount(raw string) (float64, bool) {
	if strings.Contains(raw, ",") {
		if groupedThousands(raw) {
			raw = strings.ReplaceAll(raw, ",", "")
		} else {
			raw = strings.Replace(raw, ",", ".", 1)
		}
	}
	value, err := strconv.ParseFloat(raw, 64)
	return value, err == nil
}

func groupedThousands(raw string) bool {
	integer, _, _ := strings.Cut(raw, ".")
	groups := strings.Split(integer, ",")
	if len(groups) < 2 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func hasPrefixAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}

func hasSuffixAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.HasSuffix(s, kw) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// snippet returns the first n runes of the trimmed value.
func snippet(value string, n int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= n {
		return value
	}
	return string([]rune(value)[:n])
}

// invalidate drops the exact key and the any-service-type key of the provider.
func (l *LearningService) invalidate(ctx context.Context, provider, serviceType string) {
	if l.cache == nil {
		return
	}
	l.cache.Invalidate(ctx, provider, serviceType)
	if serviceType != "" {
		l.cache.Invalidate(ctx, provider, "")
	}
}

func (l *LearningService) appendLearning(ctx context.Context, entry *domain.LearningLogEntry) {
	entry.CreatedAt = l.now()
	if err := l.store.AppendLearning(ctx, entry); err != nil {
		l.logger.WithFields(logrus.Fields{
			"claim_id":      entry.ClaimID,
			"learning_type": entry.LearningType,
			"error":         err,
		}).Warn("Failed to append learning log entry")
	}
}
