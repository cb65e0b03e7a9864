package agents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linchub/internal/actor"
	"linchub/internal/domain"
	"linchub/internal/run"
)

type sinkStub struct {
	inserted []domain.AuditResult
}

func (s *sinkStub) InsertAuditResult(_ context.Context, res domain.AuditResult) error {
	s.inserted = append(s.inserted, res)
	return nil
}

func testDeps(t *testing.T) (Deps, *run.MemoryStore) {
	t.Helper()
	store := run.NewMemoryStore()
	deps := Deps{
		Actors: actor.New(actor.NewMemoryBackend()),
		Exec:   run.NewExecutor(store),
		Now:    func() time.Time { return time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC) },
	}
	return deps, store
}

func register(deps Deps, agents ...interface {
	Kind() domain.ActorKind
	InitialState() any
}) {
	for _, a := range agents {
		deps.Actors.RegisterKind(a.Kind(), a.InitialState)
	}
}

func TestClaimsAnalyze(t *testing.T) {
	deps, store := testDeps(t)
	a := NewClaims(deps)
	register(deps, a)
	ctx := context.Background()

	payload := json.RawMessage(`{"claimId":"CLM-2024-001","rejectionReason":"missing prior authorization"}`)
	result, err := a.Handle(ctx, "CLM-2024-001", payload)
	require.NoError(t, err)

	analysis, ok := result.(*domain.ClaimAnalysis)
	require.True(t, ok)
	assert.Equal(t, "CLM-2024-001", analysis.ClaimID)
	assert.Equal(t, 0.9, analysis.ConfidenceScore)
	assert.True(t, analysis.AutomationAvailable)
	assert.Equal(t, []string{"Missing prior authorization"}, analysis.RootCauses)
	require.Len(t, analysis.Recommendations, 1)
	assert.NotEmpty(t, analysis.Recommendations[0].AR)
	assert.NotEmpty(t, analysis.RunID)
	assert.Equal(t, deps.Now(), analysis.ProcessedAt)

	// the run completed with both steps recorded
	taskRun, err := store.Get(ctx, analysis.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, taskRun.Status)
	require.NotNil(t, taskRun.Step("classify_rejection"))
	require.NotNil(t, taskRun.Step("compose_analysis"))

	state, err := actor.ReadState[domain.ClaimsState](ctx, deps.Actors, a.Kind(), "CLM-2024-001")
	require.NoError(t, err)
	assert.Equal(t, 1, state.ClaimsAnalyzed)
	assert.Equal(t, 1, state.AutoResolvable)
	assert.Equal(t, 0.9, state.LastConfidence)
	assert.Equal(t, []string{"CLM-2024-001"}, state.RecentClaims)
}

func TestClaimsStateAccumulates(t *testing.T) {
	deps, _ := testDeps(t)
	a := NewClaims(deps)
	register(deps, a)
	ctx := context.Background()

	// keyless requests pooled on one shared instance
	reasons := []string{"missing prior authorization", "payer closed the account"}
	for _, reason := range reasons {
		body, _ := json.Marshal(map[string]string{"rejectionReason": reason})
		_, err := a.Handle(ctx, domain.DefaultInstanceKey, body)
		require.NoError(t, err)
	}

	state, err := actor.ReadState[domain.ClaimsState](ctx, deps.Actors, a.Kind(), domain.DefaultInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, 2, state.ClaimsAnalyzed)
	assert.Equal(t, 1, state.AutoResolvable)
	assert.Equal(t, 0.5, state.LastConfidence)

	inst, err := deps.Actors.Get(ctx, a.Kind(), domain.DefaultInstanceKey)
	require.NoError(t, err)
	// one Mutate per analysis
	assert.Equal(t, int64(2), inst.RequestCount)
}

func TestClaimsValidation(t *testing.T) {
	deps, store := testDeps(t)
	a := NewClaims(deps)
	register(deps, a)
	ctx := context.Background()

	_, err := a.Handle(ctx, "CLM-1", json.RawMessage(`{"claimId":"CLM-1"}`))
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rejectionReason", ve.Field)

	// nothing ran, nothing logged
	runs, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	logs, err := deps.Actors.Logs(ctx, a.Kind(), "CLM-1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAuditSimulate(t *testing.T) {
	deps, store := testDeps(t)
	sink := &sinkStub{}
	a := NewAudit(deps, sink)
	register(deps, a)
	ctx := context.Background()

	payload := json.RawMessage(`{"providerId":"HOSP-RIYADH-001","sampleSize":50,"errorCount":8}`)
	result, err := a.Handle(ctx, "HOSP-RIYADH-001", payload)
	require.NoError(t, err)

	res, ok := result.(*domain.AuditResult)
	require.True(t, ok)
	assert.Equal(t, 84.0, res.ComplianceScore)
	assert.Equal(t, "medium", res.RiskLevel)
	assert.Equal(t, "MINOR_ISSUES", res.AuditOutcome)
	assert.Equal(t, "CHI-AUDIT-20260315-HOSP-RIY", res.AuditID)
	assert.Equal(t, 50, res.SampleSize)
	assert.Equal(t, 8, res.TotalErrors)
	assert.Equal(t, "2.0", res.SBSVersion)
	assert.Len(t, res.Samples, 50)
	require.NotNil(t, res.Fraud)
	assert.Equal(t, 50, res.Fraud.AnalyzedClaims)
	require.Len(t, res.CorrectiveActions, 1)
	assert.Equal(t, "CAP-002", res.CorrectiveActions[0].ActionID)
	assert.Contains(t, res.Summary.EN, "84.0%")
	assert.Contains(t, res.Summary.AR, "84.0%")

	require.Len(t, sink.inserted, 1)
	assert.Equal(t, res.AuditID, sink.inserted[0].AuditID)

	taskRun, err := store.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, taskRun.Status)
	for _, name := range []string{"collect_sample", "score_compliance", "detect_fraud", "persist_result"} {
		step := taskRun.Step(name)
		require.NotNil(t, step, "step %s", name)
		assert.Equal(t, domain.StepSucceeded, step.Status)
	}

	state, err := actor.ReadState[domain.AuditState](ctx, deps.Actors, a.Kind(), "HOSP-RIYADH-001")
	require.NoError(t, err)
	assert.Equal(t, 1, state.AuditsCompleted)
	assert.Equal(t, 84.0, state.AverageScore())
	assert.Equal(t, "MINOR_ISSUES", state.LastOutcome)
}

func TestAuditValidation(t *testing.T) {
	deps, _ := testDeps(t)
	a := NewAudit(deps, &sinkStub{})
	register(deps, a)
	ctx := context.Background()

	cases := []string{
		`{"providerId":"P","sampleSize":0}`,
		`{"providerId":"P","sampleSize":10,"errorCount":-1}`,
		`{"providerId":"P","sampleSize":10,"errorCount":11}`,
	}
	for _, body := range cases {
		_, err := a.Handle(ctx, "P", json.RawMessage(body))
		var ve domain.ValidationError
		assert.ErrorAs(t, err, &ve, "body %s", body)
	}
}

func TestLearningGenerate(t *testing.T) {
	deps, _ := testDeps(t)
	a := NewLearning(deps)
	register(deps, a)
	ctx := context.Background()

	payload := json.RawMessage(`{"learnerId":"L-1","experienceYears":3,"targetCertification":"CCP"}`)
	result, err := a.Handle(ctx, "L-1", payload)
	require.NoError(t, err)

	path, ok := result.(*domain.LearningPath)
	require.True(t, ok)
	assert.Equal(t, "L-1", path.LearnerID)
	assert.Equal(t, "CCP", path.TargetCertification)
	assert.InDelta(t, 0.75, path.SuccessProbability, 1e-9)
	assert.Equal(t, len(path.Modules), path.TotalModules)
	// M001-003 + senior track M006/M007 + CCP prep M008
	assert.Equal(t, 6, path.TotalModules)
	assert.Equal(t, 55, path.TotalEstimatedHours)
	assert.Equal(t, "4 hours/week", path.RecommendedPace)
	assert.Equal(t, 14, path.EstimatedCompletionWeeks)
	assert.Len(t, path.SkillGaps, 3)

	state, err := actor.ReadState[domain.LearningState](ctx, deps.Actors, a.Kind(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.PathsGenerated)
	assert.Equal(t, 6, state.TotalModules)
	assert.Equal(t, 55, state.TotalHours)
}

func TestLearningDefaults(t *testing.T) {
	deps, _ := testDeps(t)
	a := NewLearning(deps)
	register(deps, a)

	result, err := a.Handle(context.Background(), domain.DefaultInstanceKey, json.RawMessage(`{"experienceYears":1}`))
	require.NoError(t, err)
	path := result.(*domain.LearningPath)
	assert.Equal(t, "CCP-KSA", path.TargetCertification)
	assert.Equal(t, domain.DefaultInstanceKey, path.LearnerID)
	assert.InDelta(t, 0.65, path.SuccessProbability, 1e-9)
	// the default certification targets CCP, so the prep module is included
	require.Len(t, path.Modules, 6)
	assert.Equal(t, "M008", path.Modules[5].ID)
	assert.Equal(t, 59, path.TotalEstimatedHours)
}
