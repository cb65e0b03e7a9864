package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"linchub/internal/actor"
	"linchub/internal/domain"
	"linchub/internal/run"
	"linchub/internal/scoring"
)

// AuditRequest is the body of POST /audit/simulate.
type AuditRequest struct {
	ProviderID string `json:"providerId,omitempty"`
	SampleSize int    `json:"sampleSize"`
	ErrorCount int    `json:"errorCount"`
	SBSVersion string `json:"sbsVersion,omitempty"`
}

// Audit simulates CHI compliance audits over a deterministic claim sample and
// archives each result.
type Audit struct {
	deps Deps
	sink ResultSink
}

func NewAudit(deps Deps, sink ResultSink) *Audit {
	return &Audit{deps: deps, sink: sink}
}

func (a *Audit) Kind() domain.ActorKind { return domain.KindComplianceAuditor }
func (a *Audit) KeyField() string       { return "providerId" }
func (a *Audit) InitialState() any      { return domain.AuditState{} }

func (a *Audit) Handle(ctx context.Context, instanceKey string, payload json.RawMessage) (any, error) {
	req, err := a.parse(payload)
	if err != nil {
		return nil, err
	}
	if req.ProviderID == "" {
		req.ProviderID = instanceKey
	}
	requestID := uuid.New().String()

	return logged(ctx, a.deps, a.Kind(), instanceKey, requestID, req, func() (any, error) {
		return a.simulate(ctx, instanceKey, req)
	})
}

func (a *Audit) parse(payload json.RawMessage) (AuditRequest, error) {
	var req AuditRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, domain.ValidationError{Reason: "request body must be a JSON object"}
		}
	}
	if req.SampleSize <= 0 {
		return req, domain.ValidationError{Field: "sampleSize", Reason: "must be a positive integer"}
	}
	if req.ErrorCount < 0 {
		return req, domain.ValidationError{Field: "errorCount", Reason: "must not be negative"}
	}
	if req.ErrorCount > req.SampleSize {
		return req, domain.ValidationError{Field: "errorCount", Reason: "must not exceed sampleSize"}
	}
	if req.SBSVersion == "" {
		req.SBSVersion = "2.0"
	}
	return req, nil
}

// scoreCard is the intermediate result of the scoring step.
type scoreCard struct {
	Score       float64 `json:"score"`
	RiskLevel   string  `json:"riskLevel"`
	Outcome     string  `json:"outcome"`
	TotalErrors int     `json:"totalErrors"`
}

func (a *Audit) simulate(ctx context.Context, instanceKey string, req AuditRequest) (*domain.AuditResult, error) {
	taskRun, err := a.deps.Exec.NewRun(ctx, a.Kind(), req)
	if err != nil {
		return nil, err
	}

	samples, err := run.Execute(ctx, a.deps.Exec, taskRun, "collect_sample", a.deps.Steps,
		func(context.Context) ([]domain.AuditSample, error) {
			return scoring.BuildSample(req.ProviderID, req.SampleSize, req.ErrorCount), nil
		})
	if err != nil {
		return nil, err
	}

	card, err := run.Execute(ctx, a.deps.Exec, taskRun, "score_compliance", a.deps.Steps,
		func(context.Context) (scoreCard, error) {
			total := 0
			for _, s := range samples {
				if s.HasErrors {
					total++
				}
			}
			score := scoring.ComplianceScore(req.SampleSize, total)
			risk, outcome := scoring.Classify(score)
			return scoreCard{Score: score, RiskLevel: risk, Outcome: outcome, TotalErrors: total}, nil
		})
	if err != nil {
		return nil, err
	}

	fraud, err := run.Execute(ctx, a.deps.Exec, taskRun, "detect_fraud", a.deps.Steps,
		func(context.Context) (domain.FraudReport, error) {
			return scoring.AnalyzeFraud(samples), nil
		})
	if err != nil {
		return nil, err
	}

	result, err := run.Execute(ctx, a.deps.Exec, taskRun, "persist_result", a.deps.Steps,
		func(stepCtx context.Context) (domain.AuditResult, error) {
			res := domain.AuditResult{
				AuditID:           a.auditID(req.ProviderID),
				RunID:             taskRun.ID,
				ProviderID:        req.ProviderID,
				SBSVersion:        req.SBSVersion,
				ComplianceScore:   card.Score,
				RiskLevel:         card.RiskLevel,
				AuditOutcome:      card.Outcome,
				SampleSize:        req.SampleSize,
				TotalErrors:       card.TotalErrors,
				Samples:           samples,
				CorrectiveActions: scoring.CorrectiveActions(card.RiskLevel, card.Score),
				Fraud:             &fraud,
				Summary:           scoring.AuditSummary(card.Score),
				AuditDate:         a.deps.clock(),
			}
			if a.sink != nil {
				if err := a.sink.InsertAuditResult(stepCtx, res); err != nil {
					return domain.AuditResult{}, err
				}
			}
			return res, nil
		})
	if err != nil {
		return nil, err
	}

	if err := a.deps.Exec.Complete(ctx, taskRun); err != nil {
		return nil, err
	}

	_, err = actor.MutateState(ctx, a.deps.Actors, a.Kind(), instanceKey, func(s *domain.AuditState) error {
		s.AuditsCompleted++
		s.ScoreSum += result.ComplianceScore
		s.LastOutcome = result.AuditOutcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (a *Audit) auditID(providerID string) string {
	id := strings.ToUpper(providerID)
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("CHI-AUDIT-%s-%s", a.deps.clock().Format("20060102"), id)
}
