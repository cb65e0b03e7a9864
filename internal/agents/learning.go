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

// LearningRequest is the body of POST /learning/path.
type LearningRequest struct {
	LearnerID           string `json:"learnerId,omitempty"`
	ExperienceYears     int    `json:"experienceYears"`
	TargetCertification string `json:"targetCertification,omitempty"`
	CurrentRole         string `json:"currentRole,omitempty"`
}

// Learning generates certification learning paths for medical coders.
type Learning struct {
	deps Deps
}

func NewLearning(deps Deps) *Learning { return &Learning{deps: deps} }

func (a *Learning) Kind() domain.ActorKind { return domain.KindLearningPathGenerator }
func (a *Learning) KeyField() string       { return "learnerId" }
func (a *Learning) InitialState() any      { return domain.LearningState{} }

func (a *Learning) Handle(ctx context.Context, instanceKey string, payload json.RawMessage) (any, error) {
	req, err := a.parse(payload)
	if err != nil {
		return nil, err
	}
	if req.LearnerID == "" {
		req.LearnerID = instanceKey
	}
	requestID := uuid.New().String()

	return logged(ctx, a.deps, a.Kind(), instanceKey, requestID, req, func() (any, error) {
		return a.generate(ctx, instanceKey, req)
	})
}

func (a *Learning) parse(payload json.RawMessage) (LearningRequest, error) {
	var req LearningRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, domain.ValidationError{Reason: "request body must be a JSON object"}
		}
	}
	if req.ExperienceYears < 0 {
		return req, domain.ValidationError{Field: "experienceYears", Reason: "must not be negative"}
	}
	if req.TargetCertification == "" {
		req.TargetCertification = "CCP-KSA"
	}
	return req, nil
}

func (a *Learning) generate(ctx context.Context, instanceKey string, req LearningRequest) (*domain.LearningPath, error) {
	taskRun, err := a.deps.Exec.NewRun(ctx, a.Kind(), req)
	if err != nil {
		return nil, err
	}

	modules, err := run.Execute(ctx, a.deps.Exec, taskRun, "assemble_modules", a.deps.Steps,
		func(context.Context) ([]domain.LearningModule, error) {
			return scoring.BuildModules(req.ExperienceYears, req.TargetCertification), nil
		})
	if err != nil {
		return nil, err
	}

	path, err := run.Execute(ctx, a.deps.Exec, taskRun, "estimate_success", a.deps.Steps,
		func(context.Context) (domain.LearningPath, error) {
			hours := scoring.TotalHours(modules)
			return domain.LearningPath{
				LearnerID:                req.LearnerID,
				RunID:                    taskRun.ID,
				TargetCertification:      req.TargetCertification,
				Modules:                  modules,
				TotalModules:             len(modules),
				TotalEstimatedHours:      hours,
				RecommendedPace:          scoring.RecommendedPace(hours),
				SkillGaps:                scoring.SkillGaps(req.ExperienceYears),
				SuccessProbability:       scoring.SuccessProbability(req.ExperienceYears),
				EstimatedCompletionWeeks: scoring.EstimatedWeeks(hours),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	if err := a.deps.Exec.Complete(ctx, taskRun); err != nil {
		return nil, err
	}

	_, err = actor.MutateState(ctx, a.deps.Actors, a.Kind(), instanceKey, func(s *domain.LearningState) error {
		s.PathsGenerated++
		s.TotalModules += path.TotalModules
		s.TotalHours += path.TotalEstimatedHours
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &path, nil
}
