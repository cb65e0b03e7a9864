// Package scoring holds the pure derivation functions used by the agents.
// Nothing here performs I/O or keeps state, so every function is safe to call
// again during step retries.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"linchub/internal/domain"
)

// Risk levels derived from a compliance score.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Audit outcomes paired with the risk levels above.
const (
	OutcomeCompliant           = "COMPLIANT"
	OutcomeMinorIssues         = "MINOR_ISSUES"
	OutcomeRequiresImprovement = "REQUIRES_IMPROVEMENT"
	OutcomeNonCompliant        = "NON_COMPLIANT"
)

// ComplianceScore derives the percentage of error-free claims in the sample,
// clamped to [0,100].
func ComplianceScore(sampleSize, errorCount int) float64 {
	if sampleSize <= 0 {
		return 0
	}
	score := float64(sampleSize-errorCount) / float64(sampleSize) * 100
	return math.Max(0, math.Min(100, score))
}

// Classify maps a compliance score onto its risk level and audit outcome.
func Classify(score float64) (riskLevel, outcome string) {
	switch {
	case score >= 90:
		return RiskLow, OutcomeCompliant
	case score >= 75:
		return RiskMedium, OutcomeMinorIssues
	case score >= 60:
		return RiskHigh, OutcomeRequiresImprovement
	default:
		return RiskCritical, OutcomeNonCompliant
	}
}

// CorrectiveActions returns the CHI corrective-action plan for a score.
func CorrectiveActions(riskLevel string, score float64) []domain.CorrectiveAction {
	var actions []domain.CorrectiveAction
	if riskLevel == RiskHigh || riskLevel == RiskCritical {
		actions = append(actions, domain.CorrectiveAction{
			ActionID: "CAP-001",
			Type:     "mandatory_training",
			Title: domain.Bilingual{
				AR: "تدريب إلزامي على معايير الترميز",
				EN: "Mandatory Coding Standards Training",
			},
			DeadlineDays: 30,
		})
	}
	if score < 85 {
		deadline := 180
		if score < 70 {
			deadline = 90
		}
		actions = append(actions, domain.CorrectiveAction{
			ActionID: "CAP-002",
			Type:     "follow_up_audit",
			Title: domain.Bilingual{
				AR: "مراجعة تدقيقية متابعة",
				EN: "Follow-up Compliance Audit",
			},
			DeadlineDays: deadline,
		})
	}
	return actions
}

// AuditSummary renders the bilingual one-line audit summary.
func AuditSummary(score float64) domain.Bilingual {
	return domain.Bilingual{
		AR: fmt.Sprintf("تدقيق CHI مكتمل. درجة الامتثال: %.1f%%", score),
		EN: fmt.Sprintf("CHI Audit complete. Compliance score: %.1f%%", score),
	}
}

// sbsErrorCodes is the catalog of Saudi Billing System audit error types.
var sbsErrorCodes = []domain.AuditSampleError{
	{Code: "SBS001", Desc: domain.Bilingual{AR: "كود غير موجود", EN: "Code not found"}},
	{Code: "SBS002", Desc: domain.Bilingual{AR: "عدم توافق التشخيص", EN: "Diagnosis mismatch"}},
	{Code: "SBS003", Desc: domain.Bilingual{AR: "توثيق غير مكتمل", EN: "Incomplete documentation"}},
	{Code: "SBS004", Desc: domain.Bilingual{AR: "فوترة مكررة", EN: "Duplicate billing"}},
	{Code: "SBS005", Desc: domain.Bilingual{AR: "انتهاك التوقيت", EN: "Timing violation"}},
}

// BuildSample produces a deterministic audit sample: the first errorCount
// claims carry one error each, cycling through the SBS error catalog.
func BuildSample(providerID string, sampleSize, errorCount int) []domain.AuditSample {
	samples := make([]domain.AuditSample, 0, sampleSize)
	for i := 0; i < sampleSize; i++ {
		s := domain.AuditSample{
			ClaimID: fmt.Sprintf("CLM-%s-%05d", shortProvider(providerID), i+1),
		}
		if i < errorCount {
			s.HasErrors = true
			s.Errors = []domain.AuditSampleError{sbsErrorCodes[i%len(sbsErrorCodes)]}
			s.PenaltyPoints = 1 + i%5
		}
		samples = append(samples, s)
	}
	return samples
}

func shortProvider(providerID string) string {
	id := strings.ToUpper(providerID)
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "UNKNOWN"
	}
	return id
}

// AnalyzeFraud scans an audit sample batch for systematic error patterns.
// Any single error code appearing in more than 30% of claims raises a
// high-severity indicator worth 20 risk points, capped at 100.
func AnalyzeFraud(samples []domain.AuditSample) domain.FraudReport {
	counts := map[string]int{}
	order := []string{}
	for _, s := range samples {
		for _, e := range s.Errors {
			if _, seen := counts[e.Code]; !seen {
				order = append(order, e.Code)
			}
			counts[e.Code]++
		}
	}
	report := domain.FraudReport{AnalyzedClaims: len(samples)}
	threshold := float64(len(samples)) * 0.3
	for _, code := range order {
		if float64(counts[code]) > threshold {
			report.Indicators = append(report.Indicators, domain.FraudIndicator{
				Indicator: fmt.Sprintf("Systematic %s errors", code),
				Severity:  "high",
				Count:     counts[code],
			})
			report.RiskScore += 20
		}
	}
	if report.RiskScore > 100 {
		report.RiskScore = 100
	}
	report.RequiresInvestigation = report.RiskScore > 50
	return report
}

// SuccessProbability grows with experience and never exceeds 0.95.
func SuccessProbability(experienceYears int) float64 {
	if experienceYears < 0 {
		experienceYears = 0
	}
	return math.Min(0.95, 0.6+float64(experienceYears)*0.05)
}

// BuildModules assembles the learning-path module list for a learner.
func BuildModules(experienceYears int, targetCertification string) []domain.LearningModule {
	modules := []domain.LearningModule{
		{ID: "M001", Title: domain.Bilingual{AR: "أساسيات ICD-10-AM", EN: "ICD-10-AM Fundamentals"}, Hours: 8},
		{ID: "M002", Title: domain.Bilingual{AR: "نظام الفوترة السعودي (SBS)", EN: "Saudi Billing System (SBS)"}, Hours: 12},
		{ID: "M003", Title: domain.Bilingual{AR: "معايير التوثيق السريري", EN: "Clinical Documentation Standards"}, Hours: 6},
	}
	if experienceYears < 2 {
		modules = append(modules,
			domain.LearningModule{ID: "M004", Title: domain.Bilingual{AR: "أساسيات الترميز الطبي", EN: "Medical Coding Basics"}, Hours: 10},
			domain.LearningModule{ID: "M005", Title: domain.Bilingual{AR: "المصطلحات الطبية", EN: "Medical Terminology"}, Hours: 8},
		)
	} else {
		modules = append(modules,
			domain.LearningModule{ID: "M006", Title: domain.Bilingual{AR: "ترميز الإجراءات المتقدمة", EN: "Advanced Procedure Coding"}, Hours: 8},
			domain.LearningModule{ID: "M007", Title: domain.Bilingual{AR: "إجراءات التدقيق", EN: "Audit Procedures"}, Hours: 6},
		)
	}
	if strings.Contains(targetCertification, "CCP") {
		modules = append(modules,
			domain.LearningModule{ID: "M008", Title: domain.Bilingual{AR: "الإعداد لشهادة CCP", EN: "CCP Certification Prep"}, Hours: 15})
	}
	return modules
}

// SkillGaps estimates current vs target proficiency per tracked skill.
func SkillGaps(experienceYears int) []domain.SkillGap {
	if experienceYears < 0 {
		experienceYears = 0
	}
	return []domain.SkillGap{
		{Skill: "ICD-10 Coding", CurrentLevel: min100(60 + experienceYears*5), TargetLevel: 90},
		{Skill: "SBS Knowledge", CurrentLevel: min100(50 + experienceYears*7), TargetLevel: 85},
		{Skill: "Documentation", CurrentLevel: 70, TargetLevel: 95},
	}
}

func min100(v int) int {
	if v > 100 {
		return 100
	}
	return v
}

// TotalHours sums module hours.
func TotalHours(modules []domain.LearningModule) int {
	total := 0
	for _, m := range modules {
		total += m.Hours
	}
	return total
}

// RecommendedPace picks the weekly study pace for a path.
func RecommendedPace(totalHours int) string {
	if totalHours > 40 {
		return "4 hours/week"
	}
	return "2 hours/week"
}

// EstimatedWeeks converts total hours into whole completion weeks at 4h/week.
func EstimatedWeeks(totalHours int) int {
	return int(math.Ceil(float64(totalHours) / 4))
}
