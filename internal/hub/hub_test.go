package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linchub/internal/actor"
	"linchub/internal/agents"
	"linchub/internal/domain"
	"linchub/internal/run"
)

type fakeRouter struct {
	calls  int
	result any
	err    error
}

func (r *fakeRouter) Route(context.Context, domain.ActorKind, json.RawMessage) (any, error) {
	r.calls++
	return r.result, r.err
}

func newTestHub(t *testing.T, router Router) (*Hub, *actor.Store) {
	t.Helper()
	actors := actor.New(actor.NewMemoryBackend())
	deps := agents.Deps{
		Actors: actors,
		Exec:   run.NewExecutor(run.NewMemoryStore()),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	}
	h := New(deps, router)
	actors.RegisterKind(h.Kind(), h.InitialState)
	return h, actors
}

func TestHandleRoutesKnownAction(t *testing.T) {
	router := &fakeRouter{result: "downstream-result"}
	h, actors := newTestHub(t, router)
	ctx := context.Background()

	payload := json.RawMessage(`{"action":"run_audit","payload":{"providerId":"P-1","sampleSize":10}}`)
	result, err := h.Handle(ctx, domain.DefaultInstanceKey, payload)
	require.NoError(t, err)
	assert.Equal(t, 1, router.calls)

	resp, ok := result.(Response)
	require.True(t, ok)
	assert.Equal(t, ActionRunAudit, resp.Action)
	assert.Equal(t, "downstream-result", resp.Result)

	state, err := actor.ReadState[domain.HubState](ctx, actors, h.Kind(), domain.DefaultInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RequestsRouted)
	assert.Equal(t, map[string]int{"run_audit": 1}, state.PerAction)
	assert.Zero(t, state.Failures)

	logs, err := actors.Logs(ctx, h.Kind(), domain.DefaultInstanceKey, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.LogResponse, logs[0].Direction)
	assert.Equal(t, domain.LogRequest, logs[1].Direction)
}

func TestHandleUnknownActionMutatesNothing(t *testing.T) {
	router := &fakeRouter{}
	h, actors := newTestHub(t, router)
	ctx := context.Background()

	_, err := h.Handle(ctx, domain.DefaultInstanceKey, json.RawMessage(`{"action":"delete_everything"}`))
	var ue domain.UnknownActionError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "delete_everything", ue.Action)

	// no downstream call
	assert.Zero(t, router.calls)
	// no instance created, no state mutated, no log written
	_, err = actors.Get(ctx, h.Kind(), domain.DefaultInstanceKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleEmptyAction(t *testing.T) {
	h, _ := newTestHub(t, &fakeRouter{})
	_, err := h.Handle(context.Background(), domain.DefaultInstanceKey, json.RawMessage(`{}`))
	var ue domain.UnknownActionError
	assert.ErrorAs(t, err, &ue)
}

func TestHandleDownstreamFailure(t *testing.T) {
	boom := errors.New("auditor exploded")
	router := &fakeRouter{err: boom}
	h, actors := newTestHub(t, router)
	ctx := context.Background()

	_, err := h.Handle(ctx, domain.DefaultInstanceKey, json.RawMessage(`{"action":"analyze_claim","payload":{}}`))
	var oe *domain.OrchestrationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "analyze_claim", oe.Action)
	// original message preserved
	assert.Contains(t, err.Error(), "auditor exploded")
	assert.ErrorIs(t, err, boom)

	state, err := actor.ReadState[domain.HubState](ctx, actors, h.Kind(), domain.DefaultInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Failures)
	assert.Zero(t, state.RequestsRouted)

	logs, err := actors.Logs(ctx, h.Kind(), domain.DefaultInstanceKey, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.LogError, logs[0].Direction)
}

func TestTriggerFailureIsIgnored(t *testing.T) {
	router := &fakeRouter{result: "ok"}
	h, _ := newTestHub(t, router)
	triggered := 0
	h.WithTrigger(func(context.Context, Action, any) error {
		triggered++
		return errors.New("side channel down")
	})

	_, err := h.Handle(context.Background(), domain.DefaultInstanceKey, json.RawMessage(`{"action":"generate_learning_path","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, triggered)
}
