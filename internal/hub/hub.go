// Package hub implements the orchestrator actor: a single pooled instance
// that unwraps {action, payload} envelopes and relays them to the owning
// agent.
package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"linchub/internal/actor"
	"linchub/internal/agents"
	"linchub/internal/domain"
)

// Action is the closed set of orchestration actions.
type Action string

const (
	ActionAnalyzeClaim     Action = "analyze_claim"
	ActionRunAudit         Action = "run_audit"
	ActionGenerateLearning Action = "generate_learning_path"
)

var actionKinds = map[Action]domain.ActorKind{
	ActionAnalyzeClaim:     domain.KindClaimsAnalyzer,
	ActionRunAudit:         domain.KindComplianceAuditor,
	ActionGenerateLearning: domain.KindLearningPathGenerator,
}

// Envelope is the body of POST /orchestrate.
type Envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Response wraps the downstream result with routing metadata.
type Response struct {
	Action Action `json:"action"`
	Result any    `json:"result"`
}

// Router relays a payload to the agent owning the target kind. Satisfied by
// the dispatcher.
type Router interface {
	Route(ctx context.Context, kind domain.ActorKind, payload json.RawMessage) (any, error)
}

// Trigger is an optional fire-and-forget side channel invoked after each
// successful orchestration. A failed trigger is logged and ignored; it never
// fails the request.
type Trigger func(ctx context.Context, action Action, result any) error

// Hub routes orchestration envelopes. It is itself a durable agent so its
// routing counters and request log survive restarts.
type Hub struct {
	deps    agents.Deps
	router  Router
	trigger Trigger
}

func New(deps agents.Deps, router Router) *Hub {
	return &Hub{deps: deps, router: router}
}

// WithTrigger installs the post-orchestration side channel.
func (h *Hub) WithTrigger(t Trigger) *Hub {
	h.trigger = t
	return h
}

func (h *Hub) Kind() domain.ActorKind { return domain.KindOrchestrator }
func (h *Hub) KeyField() string       { return "" }
func (h *Hub) InitialState() any      { return domain.HubState{} }

// Handle validates the envelope, logs it, relays to the downstream agent and
// folds the outcome into the hub state. An unknown action fails before any
// log or state write.
func (h *Hub) Handle(ctx context.Context, instanceKey string, payload json.RawMessage) (any, error) {
	var env Envelope
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, domain.ValidationError{Reason: "request body must be a JSON object"}
		}
	}
	kind, ok := actionKinds[env.Action]
	if !ok {
		return nil, domain.UnknownActionError{Action: string(env.Action)}
	}

	requestID := uuid.New().String()
	if err := h.deps.Actors.AppendLog(ctx, h.Kind(), instanceKey, requestID, domain.LogRequest, env); err != nil {
		return nil, err
	}

	result, err := h.router.Route(ctx, kind, env.Payload)
	if err != nil {
		_, merr := actor.MutateState(ctx, h.deps.Actors, h.Kind(), instanceKey, func(s *domain.HubState) error {
			s.Failures++
			return nil
		})
		if merr == nil {
			_ = h.deps.Actors.AppendLog(ctx, h.Kind(), instanceKey, requestID, domain.LogError, map[string]string{"error": err.Error()})
		}
		return nil, &domain.OrchestrationError{Action: string(env.Action), Err: err}
	}

	_, err = actor.MutateState(ctx, h.deps.Actors, h.Kind(), instanceKey, func(s *domain.HubState) error {
		s.RequestsRouted++
		if s.PerAction == nil {
			s.PerAction = map[string]int{}
		}
		s.PerAction[string(env.Action)]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := Response{Action: env.Action, Result: result}
	if err := h.deps.Actors.AppendLog(ctx, h.Kind(), instanceKey, requestID, domain.LogResponse, resp); err != nil {
		return nil, err
	}

	if h.trigger != nil {
		if terr := h.trigger(ctx, env.Action, result); terr != nil {
			log.Printf("hub: trigger for %s skipped: %v", env.Action, terr)
		}
	}
	return resp, nil
}
