// Package agents implements the durable request handlers bound to the actor
// kinds. Each agent validates its payload, executes a TaskRun through the
// step executor and folds the outcome into its actor instance state.
package agents

import (
	"context"
	"time"

	"linchub/internal/actor"
	"linchub/internal/domain"
	"linchub/internal/run"
)

// ResultSink receives finished audit results for durable archival. Satisfied
// by repo.Repo in production; tests use a stub.
type ResultSink interface {
	InsertAuditResult(ctx context.Context, res domain.AuditResult) error
}

// Deps bundles the collaborators every agent shares.
type Deps struct {
	Actors *actor.Store
	Exec   *run.Executor
	Steps  run.StepOptions
	Now    func() time.Time
}

func (d *Deps) clock() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// logged wraps an agent request so the instance log always gets a request
// entry first and a matching response or error entry afterwards.
func logged(ctx context.Context, d Deps, kind domain.ActorKind, key, requestID string, payload any, fn func() (any, error)) (any, error) {
	if err := d.Actors.AppendLog(ctx, kind, key, requestID, domain.LogRequest, payload); err != nil {
		return nil, err
	}
	result, err := fn()
	if err != nil {
		_ = d.Actors.AppendLog(ctx, kind, key, requestID, domain.LogError, map[string]string{"error": err.Error()})
		return nil, err
	}
	if lerr := d.Actors.AppendLog(ctx, kind, key, requestID, domain.LogResponse, result); lerr != nil {
		return nil, lerr
	}
	return result, nil
}
