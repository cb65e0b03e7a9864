package run

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linchub/internal/config"
	"linchub/internal/domain"
)

func testExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	base := []ExecutorOption{
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	return NewExecutor(store, append(base, opts...)...), store
}

func TestExecuteSucceedsAndPersists(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindClaimsAnalyzer, map[string]string{"claimId": "CLM-1"})
	require.NoError(t, err)

	got, err := Execute(ctx, e, r, "classify", StepOptions{}, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	stored, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	step := stored.Step("classify")
	require.NotNil(t, step)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, 1, step.Attempt)
	assert.NotNil(t, step.CompletedAt)
}

func TestExecuteIdempotentReplay(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindClaimsAnalyzer, nil)
	require.NoError(t, err)

	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		return fmt.Sprintf("result-%d", calls), nil
	}

	first, err := Execute(ctx, e, r, "classify", StepOptions{}, fn)
	require.NoError(t, err)
	assert.Equal(t, "result-1", first)

	// same run object: stored result reused, fn not invoked again
	second, err := Execute(ctx, e, r, "classify", StepOptions{}, fn)
	require.NoError(t, err)
	assert.Equal(t, "result-1", second)
	assert.Equal(t, 1, calls)

	// run resumed from the store replays to the same answer
	resumed, err := e.Resume(ctx, r.ID)
	require.NoError(t, err)
	third, err := Execute(ctx, e, resumed, "classify", StepOptions{}, fn)
	require.NoError(t, err)
	assert.Equal(t, "result-1", third)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetryExhaustion(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindComplianceAuditor, nil)
	require.NoError(t, err)

	calls := 0
	boom := errors.New("backend down")
	_, err = Execute(ctx, e, r, "persist", StepOptions{
		Retries: RetryPolicy{Limit: 3, Delay: time.Millisecond, Backoff: config.BackoffConstant},
	}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, boom
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls) // limit N means N+1 invocations

	var sfe *domain.StepFailedError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, r.ID, sfe.RunID)
	assert.Equal(t, "persist", sfe.Step)
	assert.Equal(t, 4, sfe.Attempts)
	assert.ErrorIs(t, err, boom)

	stored, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
	step := stored.Step("persist")
	require.NotNil(t, step)
	assert.Equal(t, domain.StepFailed, step.Status)
	assert.Equal(t, 4, step.Attempt)
}

func TestExecuteRetryThenSuccess(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindComplianceAuditor, nil)
	require.NoError(t, err)

	calls := 0
	got, err := Execute(ctx, e, r, "flaky", StepOptions{
		Retries: RetryPolicy{Limit: 2, Delay: time.Millisecond, Backoff: config.BackoffConstant},
	}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	stored, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	step := stored.Step("flaky")
	require.NotNil(t, step)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, 3, step.Attempt)
}

func TestExecuteTimeoutCountsAsFailedAttempt(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindLearningPathGenerator, nil)
	require.NoError(t, err)

	calls := 0
	_, err = Execute(ctx, e, r, "slow", StepOptions{
		Timeout: 5 * time.Millisecond,
		Retries: RetryPolicy{Limit: 1, Delay: time.Millisecond, Backoff: config.BackoffConstant},
	}, func(stepCtx context.Context) (struct{}, error) {
		calls++
		<-stepCtx.Done()
		return struct{}{}, stepCtx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	var sfe *domain.StepFailedError
	require.ErrorAs(t, err, &sfe)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteBackoffDelays(t *testing.T) {
	var delays []time.Duration
	store := NewMemoryStore()
	e := NewExecutor(store, WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindComplianceAuditor, nil)
	require.NoError(t, err)

	_, err = Execute(ctx, e, r, "step", StepOptions{
		Retries: RetryPolicy{Limit: 3, Delay: 100 * time.Millisecond, Backoff: config.BackoffExponential},
	}, func(context.Context) (struct{}, error) {
		return struct{}{}, errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}

func TestExecuteZeroOptionsUseDefaults(t *testing.T) {
	e, _ := testExecutor(t, WithDefaults(StepOptions{
		Retries: RetryPolicy{Limit: 2, Delay: time.Millisecond, Backoff: config.BackoffConstant},
	}))
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindClaimsAnalyzer, nil)
	require.NoError(t, err)

	calls := 0
	_, err = Execute(ctx, e, r, "step", StepOptions{}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var sfe *domain.StepFailedError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, 3, sfe.Attempts)
}

func TestExecutorAttemptObserver(t *testing.T) {
	type attempt struct {
		step    string
		attempt int
		failed  bool
	}
	var seen []attempt
	store := NewMemoryStore()
	e := NewExecutor(store,
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithObserver(func(runID, step string, n int, err error) {
			seen = append(seen, attempt{step: step, attempt: n, failed: err != nil})
		}),
	)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindClaimsAnalyzer, nil)
	require.NoError(t, err)

	calls := 0
	_, err = Execute(ctx, e, r, "flaky", StepOptions{
		Retries: RetryPolicy{Limit: 1, Delay: time.Millisecond, Backoff: config.BackoffConstant},
	}, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []attempt{
		{step: "flaky", attempt: 1, failed: true},
		{step: "flaky", attempt: 2, failed: false},
	}, seen)
}

func TestCompleteMarksRun(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	r, err := e.NewRun(ctx, domain.KindClaimsAnalyzer, nil)
	require.NoError(t, err)
	require.NoError(t, e.Complete(ctx, r))

	stored, err := store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestRegistryLookup(t *testing.T) {
	a := NewMemoryStore()
	b := NewMemoryStore()
	reg := NewRegistry(a, b)
	ctx := context.Background()

	r := &domain.TaskRun{ID: "r-1", Kind: domain.KindClaimsAnalyzer, Status: domain.RunRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, b.Create(ctx, r))

	found, err := reg.Lookup(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", found.ID)

	_, err = reg.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
