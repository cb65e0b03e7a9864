package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeRejectionAuthorization(t *testing.T) {
	out := AnalyzeRejection("missing prior authorization for procedure")
	require.Len(t, out.RootCauses, 1)
	assert.Equal(t, "Missing prior authorization", out.RootCauses[0])
	assert.Equal(t, 0.9, out.Confidence)
	require.Len(t, out.Recommendations, 1)
	assert.NotEmpty(t, out.Recommendations[0].AR)
	assert.NotEmpty(t, out.Recommendations[0].EN)
	assert.True(t, out.AutomationAvailable)
	assert.False(t, out.ManualReviewRequired)
}

func TestAnalyzeRejectionCodeError(t *testing.T) {
	out := AnalyzeRejection("ICD-10 diagnosis mismatch on line 2")
	assert.Contains(t, out.RootCauses, "Incorrect diagnosis or procedure code")
	assert.Equal(t, 0.85, out.Confidence)
	assert.True(t, out.AutomationAvailable)
}

func TestAnalyzeRejectionMultipleCategories(t *testing.T) {
	out := AnalyzeRejection("incorrect coding and incomplete documentation")
	assert.Len(t, out.RootCauses, 2)
	assert.Len(t, out.Recommendations, 2)
	// overall confidence is the strongest single match
	assert.Equal(t, 0.85, out.Confidence)
}

func TestAnalyzeRejectionTimeliness(t *testing.T) {
	out := AnalyzeRejection("claim submitted after the filing window expired")
	assert.Contains(t, out.RootCauses, "Late submission")
	assert.Equal(t, 0.75, out.Confidence)
}

func TestAnalyzeRejectionFallback(t *testing.T) {
	for _, reason := range []string{"", "payer closed the account"} {
		out := AnalyzeRejection(reason)
		require.Len(t, out.RootCauses, 1)
		assert.Equal(t, 0.5, out.Confidence)
		assert.False(t, out.AutomationAvailable)
		assert.True(t, out.ManualReviewRequired)
		assert.NotEmpty(t, out.Recommendations)
	}
}

func TestAnalyzeRejectionCaseInsensitive(t *testing.T) {
	a := AnalyzeRejection("MISSING PRIOR AUTHORIZATION")
	b := AnalyzeRejection("missing prior authorization")
	assert.Equal(t, b, a)
}
