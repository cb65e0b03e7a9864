// Package actor maps (kind, instanceKey) to a single logical, serially
// accessed durable actor instance. The per-key lock is the central
// concurrency guarantee of the system: no two mutations of the same instance
// ever interleave, while distinct instances proceed independently.
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"linchub/internal/domain"
)

// Backend persists actor instances and their append-only logs. Implementations
// must make Save atomic: either the full record lands or nothing does.
// Logs returns the most recent records, newest first.
type Backend interface {
	Load(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error)
	Save(ctx context.Context, inst domain.ActorInstance) error
	AppendLog(ctx context.Context, kind domain.ActorKind, key string, rec domain.LogRecord) error
	List(ctx context.Context) ([]domain.ActorInstance, error)
	Logs(ctx context.Context, kind domain.ActorKind, key string, limit int) ([]domain.LogRecord, error)
}

type lockKey struct {
	kind domain.ActorKind
	key  string
}

// Store serializes access per (kind, instanceKey) and delegates persistence
// to a Backend.
type Store struct {
	backend Backend
	now     func() time.Time

	mu      sync.Mutex
	locks   map[lockKey]*sync.Mutex
	initial map[domain.ActorKind]func() any
}

type Option func(*Store)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		locks:   map[lockKey]*sync.Mutex{},
		initial: map[domain.ActorKind]func() any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterKind declares the initial state factory for an actor kind.
// Unregistered kinds start from an empty JSON object.
func (s *Store) RegisterKind(kind domain.ActorKind, initial func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial[kind] = initial
}

func (s *Store) lock(kind domain.ActorKind, key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk := lockKey{kind: kind, key: key}
	m, ok := s.locks[lk]
	if !ok {
		m = &sync.Mutex{}
		s.locks[lk] = m
	}
	return m
}

func (s *Store) initialState(kind domain.ActorKind) (json.RawMessage, error) {
	s.mu.Lock()
	factory := s.initial[kind]
	s.mu.Unlock()
	if factory == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(factory())
	if err != nil {
		return nil, fmt.Errorf("marshal initial state for %s: %w", kind, err)
	}
	return data, nil
}

// GetOrCreate returns the instance, creating it lazily with the kind's
// declared initial state on first use.
func (s *Store) GetOrCreate(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	l := s.lock(kind, key)
	l.Lock()
	defer l.Unlock()
	return s.getOrCreateLocked(ctx, kind, key)
}

func (s *Store) getOrCreateLocked(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	inst, err := s.backend.Load(ctx, kind, key)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ActorInstance{}, err
	}
	state, err := s.initialState(kind)
	if err != nil {
		return domain.ActorInstance{}, err
	}
	now := s.now().UTC()
	inst = domain.ActorInstance{
		Kind:         kind,
		Key:          key,
		State:        state,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.backend.Save(ctx, inst); err != nil {
		return domain.ActorInstance{}, err
	}
	return inst, nil
}

// Get returns the instance without creating it.
func (s *Store) Get(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	l := s.lock(kind, key)
	l.Lock()
	defer l.Unlock()
	return s.backend.Load(ctx, kind, key)
}

// Mutate applies updater to the instance state and persists the result
// atomically. Calls against the same (kind, key) are serialized, so the
// read-modify-write below cannot lose updates. Every mutation counts as one
// request: requestCount increments and lastActivity advances.
func (s *Store) Mutate(ctx context.Context, kind domain.ActorKind, key string, updater func(state json.RawMessage) (json.RawMessage, error)) (domain.ActorInstance, error) {
	l := s.lock(kind, key)
	l.Lock()
	defer l.Unlock()

	inst, err := s.getOrCreateLocked(ctx, kind, key)
	if err != nil {
		return domain.ActorInstance{}, err
	}
	next, err := updater(inst.State)
	if err != nil {
		return domain.ActorInstance{}, err
	}
	inst.State = next
	inst.RequestCount++
	inst.LastActivity = s.now().UTC()
	if err := s.backend.Save(ctx, inst); err != nil {
		return domain.ActorInstance{}, err
	}
	return inst, nil
}

// AppendLog appends one record to the instance's request/response log.
func (s *Store) AppendLog(ctx context.Context, kind domain.ActorKind, key, requestID, direction string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal log payload: %w", err)
	}
	return s.backend.AppendLog(ctx, kind, key, domain.LogRecord{
		RequestID: requestID,
		Direction: direction,
		Payload:   data,
		TS:        s.now().UTC(),
	})
}

// List returns all known instances.
func (s *Store) List(ctx context.Context) ([]domain.ActorInstance, error) {
	return s.backend.List(ctx)
}

// Logs returns the most recent log records for an instance.
func (s *Store) Logs(ctx context.Context, kind domain.ActorKind, key string, limit int) ([]domain.LogRecord, error) {
	return s.backend.Logs(ctx, kind, key, limit)
}

// MutateState is the typed convenience wrapper over Store.Mutate: it decodes
// the instance state into S, applies fn, and re-encodes.
func MutateState[S any](ctx context.Context, s *Store, kind domain.ActorKind, key string, fn func(*S) error) (S, error) {
	var result S
	_, err := s.Mutate(ctx, kind, key, func(state json.RawMessage) (json.RawMessage, error) {
		var decoded S
		if len(state) > 0 {
			if err := json.Unmarshal(state, &decoded); err != nil {
				return nil, fmt.Errorf("decode %s state: %w", kind, err)
			}
		}
		if err := fn(&decoded); err != nil {
			return nil, err
		}
		result = decoded
		return json.Marshal(decoded)
	})
	if err != nil {
		var zero S
		return zero, err
	}
	return result, nil
}

// ReadState decodes the current state of an instance into S without mutating.
func ReadState[S any](ctx context.Context, s *Store, kind domain.ActorKind, key string) (S, error) {
	var decoded S
	inst, err := s.GetOrCreate(ctx, kind, key)
	if err != nil {
		return decoded, err
	}
	if err := json.Unmarshal(inst.State, &decoded); err != nil {
		return decoded, fmt.Errorf("decode %s state: %w", kind, err)
	}
	return decoded, nil
}
