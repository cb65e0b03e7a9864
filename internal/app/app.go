// Package app wires the storage, actor, run and dispatch layers into one
// ready-to-serve unit. The CLI and the HTTP server both construct an App and
// nothing else.
package app

import (
	"context"
	"database/sql"
	"time"

	"linchub/internal/actor"
	"linchub/internal/agents"
	"linchub/internal/config"
	"linchub/internal/dispatch"
	"linchub/internal/events"
	"linchub/internal/hub"
	"linchub/internal/repo"
	"linchub/internal/run"
)

type App struct {
	DB         *sql.DB // nil when running on the memory backend
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Actors     *actor.Store
	Dispatcher *dispatch.Dispatcher
	Hub        *hub.Hub
	Runs       *run.Registry
	Now        func() time.Time
}

// New builds a sqlite-backed App over an already-migrated database.
func New(db *sql.DB, cfg *config.Config) *App {
	a := &App{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	r := a.Repo
	store := run.NewSQLiteStore(r)
	a.wire(actor.NewSQLiteBackend(r), store, r)
	a.Hub.WithTrigger(func(ctx context.Context, action hub.Action, _ any) error {
		return a.Events.Append(ctx, "workflow.triggered", a.Hub.Kind(), "", events.EventPayload{
			"action": string(action),
		})
	})
	return a
}

// NewMemory builds an App on in-memory stores, used by tests and the
// ephemeral serve mode.
func NewMemory(cfg *config.Config) *App {
	a := &App{Config: cfg, Now: time.Now}
	a.wire(actor.NewMemoryBackend(), run.NewMemoryStore(), nil)
	return a
}

func (a *App) wire(backend actor.Backend, store run.Store, sink agents.ResultSink) {
	a.Actors = actor.New(backend)
	a.Runs = run.NewRegistry(store)

	opts := run.StepOptions{
		Timeout: a.Config.Steps.Timeout.Std(),
		Retries: run.RetryPolicy{
			Limit:   a.Config.Steps.Retries.Limit,
			Delay:   a.Config.Steps.Retries.Delay.Std(),
			Backoff: a.Config.Steps.Retries.Backoff,
		},
	}
	execOpts := []run.ExecutorOption{run.WithDefaults(opts)}
	if a.DB != nil {
		execOpts = append(execOpts, run.WithObserver(a.stepObserver))
	}
	exec := run.NewExecutor(store, execOpts...)

	deps := agents.Deps{Actors: a.Actors, Exec: exec, Steps: opts, Now: a.Now}
	a.Dispatcher = dispatch.New(a.Actors, a.Config)
	a.Dispatcher.Register(agents.NewClaims(deps))
	a.Dispatcher.Register(agents.NewAudit(deps, sink))
	a.Dispatcher.Register(agents.NewLearning(deps))
	a.Hub = hub.New(deps, a.Dispatcher)
	a.Dispatcher.Register(a.Hub)
}

// stepObserver mirrors every step attempt into the event log. Event write
// failures never fail the step.
func (a *App) stepObserver(runID, step string, attempt int, err error) {
	payload := events.EventPayload{"step": step, "attempt": attempt}
	if err != nil {
		payload["error"] = err.Error()
	}
	_ = a.Events.Append(context.Background(), "step.attempt", "", runID, payload)
}
