package actor

import (
	"context"
	"sync"

	"linchub/internal/domain"
)

// MemoryBackend keeps actor state and logs in process memory. Used by tests
// and single-process deployments that do not need durability.
type MemoryBackend struct {
	mu     sync.RWMutex
	actors map[lockKey]domain.ActorInstance
	logs   map[lockKey][]domain.LogRecord
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		actors: map[lockKey]domain.ActorInstance{},
		logs:   map[lockKey][]domain.LogRecord{},
	}
}

func (b *MemoryBackend) Load(_ context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	inst, ok := b.actors[lockKey{kind: kind, key: key}]
	if !ok {
		return domain.ActorInstance{}, domain.ErrNotFound
	}
	return cloneInstance(inst), nil
}

func (b *MemoryBackend) Save(_ context.Context, inst domain.ActorInstance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actors[lockKey{kind: inst.Kind, key: inst.Key}] = cloneInstance(inst)
	return nil
}

func (b *MemoryBackend) AppendLog(_ context.Context, kind domain.ActorKind, key string, rec domain.LogRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	lk := lockKey{kind: kind, key: key}
	b.logs[lk] = append(b.logs[lk], rec)
	return nil
}

func (b *MemoryBackend) List(_ context.Context) ([]domain.ActorInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]domain.ActorInstance, 0, len(b.actors))
	for _, inst := range b.actors {
		res = append(res, cloneInstance(inst))
	}
	return res, nil
}

func (b *MemoryBackend) Logs(_ context.Context, kind domain.ActorKind, key string, limit int) ([]domain.LogRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	logs := b.logs[lockKey{kind: kind, key: key}]
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	// newest first, matching the sqlite backend
	out := make([]domain.LogRecord, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		out = append(out, logs[i])
	}
	return out, nil
}

func cloneInstance(inst domain.ActorInstance) domain.ActorInstance {
	out := inst
	out.State = append([]byte(nil), inst.State...)
	return out
}
