// Package dispatch routes incoming requests to the durable agent owning the
// addressed actor instance. The route table is static; instance keys come
// from the request body.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"linchub/internal/actor"
	"linchub/internal/config"
	"linchub/internal/domain"
)

// Agent is one durable request handler bound to an actor kind. Handle owns
// the full lifecycle of a request: logging, run execution and state mutation
// on the instance named by instanceKey.
type Agent interface {
	Kind() domain.ActorKind
	// KeyField names the request body field carrying the business
	// identifier. Empty means the kind is a singleton pooled on the
	// default key.
	KeyField() string
	InitialState() any
	Handle(ctx context.Context, instanceKey string, payload json.RawMessage) (any, error)
}

// Dispatcher owns the route table and the missing-key policy. It never
// panics outward; every failure is a typed error.
type Dispatcher struct {
	actors     *actor.Store
	agents     map[domain.ActorKind]Agent
	policy     string
	defaultKey string
	limiter    *rate.Limiter
}

func New(actors *actor.Store, cfg *config.Config) *Dispatcher {
	d := &Dispatcher{
		actors:     actors,
		agents:     map[domain.ActorKind]Agent{},
		policy:     cfg.Actors.MissingKeyPolicy,
		defaultKey: cfg.Actors.DefaultKey,
	}
	if d.defaultKey == "" {
		d.defaultKey = domain.DefaultInstanceKey
	}
	if cfg.RateLimit.RPS > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}
	return d
}

// Register binds an agent to its kind and declares the kind's initial state
// with the actor store.
func (d *Dispatcher) Register(a Agent) {
	d.agents[a.Kind()] = a
	d.actors.RegisterKind(a.Kind(), a.InitialState)
}

// Dispatch is the HTTP-edge entry point: it applies the rate limiter before
// routing.
func (d *Dispatcher) Dispatch(ctx context.Context, kind domain.ActorKind, payload json.RawMessage) (any, error) {
	if d.limiter != nil && !d.limiter.Allow() {
		return nil, domain.ErrRateLimited
	}
	return d.Route(ctx, kind, payload)
}

// Route resolves the target instance and invokes its agent. Internal callers
// (the orchestration hub) use Route directly so a request is rate-limited
// only once, at the edge.
func (d *Dispatcher) Route(ctx context.Context, kind domain.ActorKind, payload json.RawMessage) (any, error) {
	a, ok := d.agents[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no agent for kind %s", domain.ErrNotFound, kind)
	}
	key, err := d.instanceKey(a, payload)
	if err != nil {
		return nil, err
	}
	return a.Handle(ctx, key, payload)
}

func (d *Dispatcher) instanceKey(a Agent, payload json.RawMessage) (string, error) {
	field := a.KeyField()
	if field == "" {
		return d.defaultKey, nil
	}
	var body map[string]json.RawMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", domain.ValidationError{Reason: "request body must be a JSON object"}
		}
	}
	if raw, ok := body[field]; ok {
		var key string
		if err := json.Unmarshal(raw, &key); err != nil {
			return "", domain.ValidationError{Field: field, Reason: "must be a string"}
		}
		if key != "" {
			return key, nil
		}
	}
	if d.policy == config.MissingKeyReject {
		return "", domain.ValidationError{Field: field, Reason: "required"}
	}
	return d.defaultKey, nil
}
