package scoring

import (
	"strings"

	"linchub/internal/domain"
)

// RejectionAnalysis is the pure output of classifying a rejection reason.
// The agent layer turns it into a ClaimAnalysis record.
type RejectionAnalysis struct {
	RootCauses           []string
	Recommendations      []domain.Bilingual
	NextActions          []string
	Confidence           float64
	AutomationAvailable  bool
	ManualReviewRequired bool
}

type rejectionCategory struct {
	name           string
	keywords       []string
	rootCause      string
	recommendation domain.Bilingual
	nextAction     string
	confidence     float64
}

// Categories are matched in a fixed order so the derived analysis is stable
// for a given reason text.
var rejectionCategories = []rejectionCategory{
	{
		name:      "code_error",
		keywords:  []string{"code", "coding", "icd", "diagnosis mismatch"},
		rootCause: "Incorrect diagnosis or procedure code",
		recommendation: domain.Bilingual{
			AR: "تحديث رمز ICD-10 والتحقق من صحة الرموز التشخيصية",
			EN: "Update ICD-10 code and verify diagnostic codes",
		},
		nextAction: "Review coding",
		confidence: 0.85,
	},
	{
		name:      "authorization",
		keywords:  []string{"authorization", "authorisation", "pre-auth", "preauth"},
		rootCause: "Missing prior authorization",
		recommendation: domain.Bilingual{
			AR: "الحصول على تفويض مسبق",
			EN: "Obtain prior authorization",
		},
		nextAction: "Contact payer",
		confidence: 0.9,
	},
	{
		name:      "documentation",
		keywords:  []string{"documentation", "document", "incomplete record", "notes"},
		rootCause: "Incomplete clinical documentation",
		recommendation: domain.Bilingual{
			AR: "استكمال التوثيق السريري الداعم",
			EN: "Complete supporting clinical documentation",
		},
		nextAction: "Attach clinical documentation",
		confidence: 0.8,
	},
	{
		name:      "timeliness",
		keywords:  []string{"late", "deadline", "timely", "timeliness", "filing window", "expired"},
		rootCause: "Late submission",
		recommendation: domain.Bilingual{
			AR: "تقديم المطالبة ضمن المهلة المحددة",
			EN: "Submit the claim within the filing window",
		},
		nextAction: "Request filing exception",
		confidence: 0.75,
	},
}

// AnalyzeRejection classifies a claim rejection reason by keyword matching
// against the fixed category list. Each matched category contributes one root
// cause, one bilingual recommendation and a confidence value; the overall
// confidence is the strongest match. An unmatched (or empty) reason falls
// back to a single manual-review cause at confidence 0.5.
func AnalyzeRejection(rejectionReason string) RejectionAnalysis {
	lowered := strings.ToLower(rejectionReason)
	var out RejectionAnalysis
	for _, cat := range rejectionCategories {
		if !matchesAny(lowered, cat.keywords) {
			continue
		}
		out.RootCauses = append(out.RootCauses, cat.rootCause)
		out.Recommendations = append(out.Recommendations, cat.recommendation)
		out.NextActions = append(out.NextActions, cat.nextAction)
		if cat.confidence > out.Confidence {
			out.Confidence = cat.confidence
		}
	}
	if len(out.RootCauses) == 0 {
		return RejectionAnalysis{
			RootCauses: []string{"Undetermined; manual review required"},
			Recommendations: []domain.Bilingual{{
				AR: "مراجعة يدوية من قبل مختص الترميز",
				EN: "Manual review by a coding specialist",
			}},
			NextActions:          []string{"Manual review required"},
			Confidence:           0.5,
			ManualReviewRequired: true,
		}
	}
	out.AutomationAvailable = true
	return out
}

func matchesAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
