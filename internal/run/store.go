// Package run implements durable multi-step task executions: ordered named
// steps with memoized results, retry/backoff/timeout, and idempotent replay.
package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"linchub/internal/domain"
)

// Store persists TaskRun records and their step outcomes. Implementations:
// MemoryStore for tests and single-process use, SQLiteStore for durability.
type Store interface {
	Create(ctx context.Context, run *domain.TaskRun) error
	Get(ctx context.Context, id string) (*domain.TaskRun, error)
	SaveStep(ctx context.Context, runID string, step domain.StepRecord) error
	SetStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string, completedAt *time.Time) error
	List(ctx context.Context, limit int) ([]domain.TaskRun, error)
}

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.TaskRun
	seq  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]*domain.TaskRun{}}
}

func (s *MemoryStore) Create(_ context.Context, run *domain.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRun(run)
	s.runs[run.ID] = cp
	s.seq = append(s.seq, run.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) SaveStep(_ context.Context, runID string, step domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range run.Steps {
		if run.Steps[i].Name == step.Name {
			run.Steps[i] = step
			return nil
		}
	}
	run.Steps = append(run.Steps, step)
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, runID string, status domain.RunStatus, errMsg string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = completedAt
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]domain.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.seq) {
		limit = len(s.seq)
	}
	res := make([]domain.TaskRun, 0, limit)
	// newest first
	for i := len(s.seq) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, *cloneRun(s.runs[s.seq[i]]))
	}
	return res, nil
}

func cloneRun(run *domain.TaskRun) *domain.TaskRun {
	cp := *run
	cp.Params = append([]byte(nil), run.Params...)
	cp.Steps = make([]domain.StepRecord, len(run.Steps))
	copy(cp.Steps, run.Steps)
	return &cp
}

// Registry aggregates the run stores of all actor kinds so a run id can be
// resolved without knowing which kind produced it.
type Registry struct {
	stores []Store
}

func NewRegistry(stores ...Store) *Registry {
	return &Registry{stores: stores}
}

func (r *Registry) Add(store Store) {
	r.stores = append(r.stores, store)
}

// Lookup checks every registered store in order; ErrNotFound only when the
// run is absent everywhere.
func (r *Registry) Lookup(ctx context.Context, id string) (*domain.TaskRun, error) {
	for _, store := range r.stores {
		run, err := store.Get(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrNotFound
}
