package run

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"linchub/internal/config"
	"linchub/internal/domain"
	"linchub/internal/tracing"
)

// RetryPolicy bounds how often a failing step is re-attempted. Limit is the
// number of retries after the first attempt, so a step runs Limit+1 times at
// most.
type RetryPolicy struct {
	Limit   int
	Delay   time.Duration
	Backoff string // config.BackoffConstant or config.BackoffExponential
}

// StepOptions configure a single Execute call.
type StepOptions struct {
	Timeout time.Duration // bounds each individual attempt; zero means none
	Retries RetryPolicy
}

// AttemptObserver is notified after every step attempt, successful or not.
// Used to mirror attempts into the event log without coupling the executor
// to a database.
type AttemptObserver func(runID, step string, attempt int, err error)

// Executor runs named steps of a TaskRun sequentially, persisting each
// outcome so a replayed run never re-executes a succeeded step.
type Executor struct {
	store    Store
	defaults StepOptions
	observer AttemptObserver
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

type ExecutorOption func(*Executor)

// WithDefaults sets the step options used when Execute is called with a
// zero-valued StepOptions. Partially-filled options are taken as given, except
// that an empty backoff falls back to the default policy.
func WithDefaults(opts StepOptions) ExecutorOption {
	return func(e *Executor) { e.defaults = opts }
}

// WithObserver installs an attempt observer.
func WithObserver(fn AttemptObserver) ExecutorOption {
	return func(e *Executor) { e.observer = fn }
}

// WithExecutorClock injects a deterministic clock for tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithSleep replaces the backoff sleeper; tests use a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

func NewExecutor(store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store: store,
		defaults: StepOptions{
			Timeout: 10 * time.Second,
			Retries: RetryPolicy{Limit: 2, Delay: 200 * time.Millisecond, Backoff: config.BackoffExponential},
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Store exposes the executor's backing store, mainly for registry wiring.
func (e *Executor) Store() Store { return e.store }

// NewRun creates and persists a running TaskRun with an immutable params
// payload.
func (e *Executor) NewRun(ctx context.Context, kind domain.ActorKind, params any) (*domain.TaskRun, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal run params: %w", err)
	}
	run := &domain.TaskRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		Params:    data,
		Status:    domain.RunRunning,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Resume loads an existing run for replay.
func (e *Executor) Resume(ctx context.Context, id string) (*domain.TaskRun, error) {
	return e.store.Get(ctx, id)
}

// Complete marks the run completed. Idempotent on already-completed runs.
func (e *Executor) Complete(ctx context.Context, run *domain.TaskRun) error {
	now := e.now().UTC()
	run.Status = domain.RunCompleted
	run.CompletedAt = &now
	return e.store.SetStatus(ctx, run.ID, domain.RunCompleted, "", &now)
}

func (e *Executor) failRun(ctx context.Context, run *domain.TaskRun, cause error) {
	now := e.now().UTC()
	run.Status = domain.RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	// the step error is authoritative; a status-write failure must not mask it
	_ = e.store.SetStatus(ctx, run.ID, domain.RunFailed, cause.Error(), &now)
}

func (e *Executor) observe(runID, step string, attempt int, err error) {
	if e.observer != nil {
		e.observer(runID, step, attempt, err)
	}
}

// Execute runs the named step at-most-once-recorded for this run. A step
// whose record is already succeeded returns its stored result without
// invoking fn; otherwise fn runs under the retry/timeout policy and its final
// outcome is persisted. Steps of one run execute sequentially in declaration
// order; a later step may read an earlier step's result through the run.
func Execute[T any](ctx context.Context, e *Executor, run *domain.TaskRun, name string, opts StepOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	// replay check: a succeeded step is never re-executed
	if prior := run.Step(name); prior != nil && prior.Status == domain.StepSucceeded {
		var result T
		if len(prior.Result) > 0 {
			if err := json.Unmarshal(prior.Result, &result); err != nil {
				return zero, fmt.Errorf("decode memoized result of %s: %w", name, err)
			}
		}
		return result, nil
	}
	if fresh, err := e.store.Get(ctx, run.ID); err == nil {
		if prior := fresh.Step(name); prior != nil && prior.Status == domain.StepSucceeded {
			run.Steps = fresh.Steps
			var result T
			if len(prior.Result) > 0 {
				if err := json.Unmarshal(prior.Result, &result); err != nil {
					return zero, fmt.Errorf("decode memoized result of %s: %w", name, err)
				}
			}
			return result, nil
		}
	}

	if opts == (StepOptions{}) {
		opts = e.defaults
	}
	if opts.Retries.Limit < 0 {
		opts.Retries.Limit = 0
	}
	if opts.Retries.Backoff == "" {
		opts.Retries.Backoff = e.defaults.Retries.Backoff
	}
	attempts := opts.Retries.Limit + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		started := e.now().UTC()
		record := domain.StepRecord{
			Name:      name,
			Status:    domain.StepPending,
			Attempt:   attempt,
			StartedAt: started,
		}
		if err := e.saveStep(ctx, run, record); err != nil {
			return zero, err
		}

		result, err := runAttempt(ctx, e, run, name, attempt, opts.Timeout, fn)
		completed := e.now().UTC()
		e.observe(run.ID, name, attempt, err)

		if err == nil {
			data, merr := json.Marshal(result)
			if merr != nil {
				return zero, fmt.Errorf("marshal result of %s: %w", name, merr)
			}
			record.Status = domain.StepSucceeded
			record.Result = data
			record.CompletedAt = &completed
			if serr := e.saveStep(ctx, run, record); serr != nil {
				return zero, serr
			}
			return result, nil
		}

		lastErr = err
		record.Status = domain.StepPending
		record.Error = err.Error()
		record.CompletedAt = &completed
		if attempt == attempts {
			record.Status = domain.StepFailed
		}
		if serr := e.saveStep(ctx, run, record); serr != nil {
			return zero, serr
		}
		if attempt < attempts {
			if serr := e.sleep(ctx, backoffDelay(opts.Retries, attempt)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	stepErr := &domain.StepFailedError{RunID: run.ID, Step: name, Attempts: attempts, Err: lastErr}
	e.failRun(ctx, run, stepErr)
	return zero, stepErr
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.Delay
	if policy.Backoff == config.BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
	}
	return delay
}

func (e *Executor) saveStep(ctx context.Context, run *domain.TaskRun, record domain.StepRecord) error {
	if err := e.store.SaveStep(ctx, run.ID, record); err != nil {
		return err
	}
	for i := range run.Steps {
		if run.Steps[i].Name == record.Name {
			run.Steps[i] = record
			return nil
		}
	}
	run.Steps = append(run.Steps, record)
	return nil
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt executes one bounded attempt. The function runs in its own
// goroutine so a timeout is enforced even against a step that ignores its
// context; a timed-out attempt counts as a failed attempt for retry
// accounting.
func runAttempt[T any](ctx context.Context, e *Executor, run *domain.TaskRun, name string, attempt int, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	spanCtx, span := tracing.StartSpan(attemptCtx, "step."+name, "INTERNAL")
	span.WithAttributes(map[string]string{
		"run.id":       run.ID,
		"step.attempt": fmt.Sprintf("%d", attempt),
	})

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := fn(spanCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		tracing.EndSpan(span, res.err)
		return res.value, res.err
	case <-attemptCtx.Done():
		err := fmt.Errorf("step %s attempt %d: %w", name, attempt, attemptCtx.Err())
		tracing.EndSpan(span, err)
		return zero, err
	}
}
