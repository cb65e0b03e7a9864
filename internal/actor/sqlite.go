package actor

import (
	"context"
	"errors"
	"fmt"

	"linchub/internal/domain"
	"linchub/internal/repo"
)

// SQLiteBackend persists actors through the repo layer. Any storage failure
// other than a plain miss is surfaced as StorageUnavailable: there are no
// silent losses and no partial writes (each Save is a single statement).
type SQLiteBackend struct {
	Repo repo.Repo
}

func NewSQLiteBackend(r repo.Repo) *SQLiteBackend {
	return &SQLiteBackend{Repo: r}
}

func (b *SQLiteBackend) Load(ctx context.Context, kind domain.ActorKind, key string) (domain.ActorInstance, error) {
	inst, err := b.Repo.GetActor(ctx, kind, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return inst, err
		}
		return inst, storageErr("load actor", err)
	}
	return inst, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, inst domain.ActorInstance) error {
	if err := b.Repo.UpsertActor(ctx, inst); err != nil {
		return storageErr("save actor", err)
	}
	return nil
}

func (b *SQLiteBackend) AppendLog(ctx context.Context, kind domain.ActorKind, key string, rec domain.LogRecord) error {
	if err := b.Repo.AppendActorLog(ctx, kind, key, rec); err != nil {
		return storageErr("append actor log", err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]domain.ActorInstance, error) {
	res, err := b.Repo.ListActors(ctx)
	if err != nil {
		return nil, storageErr("list actors", err)
	}
	return res, nil
}

func (b *SQLiteBackend) Logs(ctx context.Context, kind domain.ActorKind, key string, limit int) ([]domain.LogRecord, error) {
	res, err := b.Repo.ListActorLogs(ctx, kind, key, limit)
	if err != nil {
		return nil, storageErr("list actor logs", err)
	}
	return res, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}
