package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linchub/internal/domain"
)

func TestComplianceScore(t *testing.T) {
	assert.Equal(t, 84.0, ComplianceScore(50, 8))
	assert.Equal(t, 100.0, ComplianceScore(10, 0))
	assert.Equal(t, 0.0, ComplianceScore(10, 10))
	assert.Equal(t, 0.0, ComplianceScore(0, 5))
	// clamped, never negative
	assert.Equal(t, 0.0, ComplianceScore(5, 50))
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		score   float64
		risk    string
		outcome string
	}{
		{95, RiskLow, OutcomeCompliant},
		{90, RiskLow, OutcomeCompliant},
		{84, RiskMedium, OutcomeMinorIssues},
		{75, RiskMedium, OutcomeMinorIssues},
		{74.9, RiskHigh, OutcomeRequiresImprovement},
		{60, RiskHigh, OutcomeRequiresImprovement},
		{59.9, RiskCritical, OutcomeNonCompliant},
		{0, RiskCritical, OutcomeNonCompliant},
	}
	for _, tc := range cases {
		risk, outcome := Classify(tc.score)
		assert.Equal(t, tc.risk, risk, "score %.1f", tc.score)
		assert.Equal(t, tc.outcome, outcome, "score %.1f", tc.score)
	}
}

func TestCorrectiveActions(t *testing.T) {
	// compliant providers get no plan
	assert.Empty(t, CorrectiveActions(RiskLow, 95))

	// medium risk below 85 gets a follow-up audit only
	actions := CorrectiveActions(RiskMedium, 84)
	require.Len(t, actions, 1)
	assert.Equal(t, "CAP-002", actions[0].ActionID)
	assert.Equal(t, 180, actions[0].DeadlineDays)

	// high risk adds mandatory training and tightens the follow-up window
	actions = CorrectiveActions(RiskHigh, 65)
	require.Len(t, actions, 2)
	assert.Equal(t, "CAP-001", actions[0].ActionID)
	assert.Equal(t, 30, actions[0].DeadlineDays)
	assert.Equal(t, "CAP-002", actions[1].ActionID)
	assert.Equal(t, 90, actions[1].DeadlineDays)
	assert.NotEmpty(t, actions[0].Title.AR)
	assert.NotEmpty(t, actions[0].Title.EN)
}

func TestBuildSampleDeterministic(t *testing.T) {
	a := BuildSample("HOSP-RIYADH-001", 50, 8)
	b := BuildSample("HOSP-RIYADH-001", 50, 8)
	require.Equal(t, a, b)

	require.Len(t, a, 50)
	withErrors := 0
	for _, s := range a {
		if s.HasErrors {
			withErrors++
			require.Len(t, s.Errors, 1)
			assert.NotZero(t, s.PenaltyPoints)
		}
	}
	assert.Equal(t, 8, withErrors)
	assert.Equal(t, "CLM-HOSP-RIY-00001", a[0].ClaimID)
}

func TestAnalyzeFraudSystematicErrors(t *testing.T) {
	samples := make([]domain.AuditSample, 10)
	for i := range samples {
		samples[i].ClaimID = "c"
		if i < 4 { // 40% share of one code crosses the 30% threshold
			samples[i].HasErrors = true
			samples[i].Errors = []domain.AuditSampleError{{Code: "SBS001"}}
		}
	}
	report := AnalyzeFraud(samples)
	require.Len(t, report.Indicators, 1)
	assert.Equal(t, "Systematic SBS001 errors", report.Indicators[0].Indicator)
	assert.Equal(t, 4, report.Indicators[0].Count)
	assert.Equal(t, 20, report.RiskScore)
	assert.False(t, report.RequiresInvestigation)
	assert.Equal(t, 10, report.AnalyzedClaims)
}

func TestAnalyzeFraudScoreCapAndInvestigation(t *testing.T) {
	// six codes each above threshold would score 120 uncapped
	samples := make([]domain.AuditSample, 10)
	codes := []string{"A", "B", "C", "D", "E", "F"}
	for i := range samples {
		samples[i].HasErrors = true
		for _, code := range codes {
			samples[i].Errors = append(samples[i].Errors, domain.AuditSampleError{Code: code})
		}
	}
	report := AnalyzeFraud(samples)
	assert.Equal(t, 100, report.RiskScore)
	assert.True(t, report.RequiresInvestigation)
}

func TestAnalyzeFraudCleanSample(t *testing.T) {
	samples := make([]domain.AuditSample, 5)
	report := AnalyzeFraud(samples)
	assert.Zero(t, report.RiskScore)
	assert.Empty(t, report.Indicators)
	assert.False(t, report.RequiresInvestigation)
}

func TestSuccessProbability(t *testing.T) {
	assert.InDelta(t, 0.6, SuccessProbability(0), 1e-9)
	assert.InDelta(t, 0.75, SuccessProbability(3), 1e-9)

	// monotone non-decreasing in experience
	prev := 0.0
	for years := 0; years <= 12; years++ {
		p := SuccessProbability(years)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	// capped at 0.95
	assert.Equal(t, 0.95, SuccessProbability(10))
	assert.Equal(t, 0.95, SuccessProbability(40))
	// negative experience treated as zero
	assert.InDelta(t, 0.6, SuccessProbability(-2), 1e-9)
}

func TestBuildModules(t *testing.T) {
	junior := BuildModules(1, "CPC")
	ids := moduleIDs(junior)
	assert.Contains(t, ids, "M004")
	assert.Contains(t, ids, "M005")
	assert.NotContains(t, ids, "M006")

	senior := BuildModules(5, "CPC")
	ids = moduleIDs(senior)
	assert.Contains(t, ids, "M006")
	assert.Contains(t, ids, "M007")
	assert.NotContains(t, ids, "M004")

	ccp := BuildModules(5, "CCP Advanced")
	assert.Contains(t, moduleIDs(ccp), "M008")
}

func moduleIDs(mods []domain.LearningModule) []string {
	ids := make([]string, 0, len(mods))
	for _, m := range mods {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestSkillGaps(t *testing.T) {
	gaps := SkillGaps(4)
	require.Len(t, gaps, 3)
	assert.Equal(t, 80, gaps[0].CurrentLevel)
	assert.Equal(t, 90, gaps[0].TargetLevel)
	assert.Equal(t, 78, gaps[1].CurrentLevel)
	assert.Equal(t, 70, gaps[2].CurrentLevel)

	// levels never exceed 100 for long careers
	for _, g := range SkillGaps(30) {
		assert.LessOrEqual(t, g.CurrentLevel, 100)
	}
}

func TestPaceAndWeeks(t *testing.T) {
	assert.Equal(t, "2 hours/week", RecommendedPace(40))
	assert.Equal(t, "4 hours/week", RecommendedPace(41))
	assert.Equal(t, 10, EstimatedWeeks(40))
	assert.Equal(t, 11, EstimatedWeeks(41))
}
