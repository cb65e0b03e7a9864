package agents

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"linchub/internal/actor"
	"linchub/internal/domain"
	"linchub/internal/run"
	"linchub/internal/scoring"
)

// ClaimRequest is the body of POST /claims/analyze.
type ClaimRequest struct {
	ClaimID         string  `json:"claimId,omitempty"`
	RejectionReason string  `json:"rejectionReason"`
	DenialCode      string  `json:"denialCode,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
}

// Claims analyzes rejected claims and accumulates per-instance counters.
type Claims struct {
	deps Deps
}

func NewClaims(deps Deps) *Claims { return &Claims{deps: deps} }

func (a *Claims) Kind() domain.ActorKind { return domain.KindClaimsAnalyzer }
func (a *Claims) KeyField() string       { return "claimId" }
func (a *Claims) InitialState() any      { return domain.ClaimsState{} }

func (a *Claims) Handle(ctx context.Context, instanceKey string, payload json.RawMessage) (any, error) {
	req, err := a.parse(payload)
	if err != nil {
		return nil, err
	}
	if req.ClaimID == "" {
		req.ClaimID = instanceKey
	}
	requestID := uuid.New().String()

	return logged(ctx, a.deps, a.Kind(), instanceKey, requestID, req, func() (any, error) {
		return a.analyze(ctx, instanceKey, req)
	})
}

func (a *Claims) parse(payload json.RawMessage) (ClaimRequest, error) {
	var req ClaimRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, domain.ValidationError{Reason: "request body must be a JSON object"}
		}
	}
	if req.RejectionReason == "" {
		return req, domain.ValidationError{Field: "rejectionReason", Reason: "required"}
	}
	return req, nil
}

func (a *Claims) analyze(ctx context.Context, instanceKey string, req ClaimRequest) (*domain.ClaimAnalysis, error) {
	taskRun, err := a.deps.Exec.NewRun(ctx, a.Kind(), req)
	if err != nil {
		return nil, err
	}

	classified, err := run.Execute(ctx, a.deps.Exec, taskRun, "classify_rejection", a.deps.Steps,
		func(context.Context) (scoring.RejectionAnalysis, error) {
			return scoring.AnalyzeRejection(req.RejectionReason), nil
		})
	if err != nil {
		return nil, err
	}

	analysis, err := run.Execute(ctx, a.deps.Exec, taskRun, "compose_analysis", a.deps.Steps,
		func(context.Context) (domain.ClaimAnalysis, error) {
			return domain.ClaimAnalysis{
				ClaimID:              req.ClaimID,
				RunID:                taskRun.ID,
				ConfidenceScore:      classified.Confidence,
				AutomationAvailable:  classified.AutomationAvailable,
				ManualReviewRequired: classified.ManualReviewRequired,
				RootCauses:           classified.RootCauses,
				Recommendations:      classified.Recommendations,
				NextActions:          classified.NextActions,
				ProcessedAt:          a.deps.clock(),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	if err := a.deps.Exec.Complete(ctx, taskRun); err != nil {
		return nil, err
	}

	_, err = actor.MutateState(ctx, a.deps.Actors, a.Kind(), instanceKey, func(s *domain.ClaimsState) error {
		s.ClaimsAnalyzed++
		if analysis.AutomationAvailable {
			s.AutoResolvable++
		}
		s.LastConfidence = analysis.ConfidenceScore
		s.RecentClaims = appendRecent(s.RecentClaims, req.ClaimID, 20)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

func appendRecent(list []string, v string, max int) []string {
	list = append(list, v)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
