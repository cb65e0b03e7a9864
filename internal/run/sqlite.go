package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linchub/internal/domain"
	"linchub/internal/repo"
)

// SQLiteStore persists runs through the repo layer. Misses stay ErrNotFound;
// everything else becomes StorageUnavailable.
type SQLiteStore struct {
	Repo repo.Repo
}

func NewSQLiteStore(r repo.Repo) *SQLiteStore {
	return &SQLiteStore{Repo: r}
}

func (s *SQLiteStore) Create(ctx context.Context, run *domain.TaskRun) error {
	if err := s.Repo.InsertRun(ctx, run); err != nil {
		return storageErr("create run", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.TaskRun, error) {
	run, err := s.Repo.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, storageErr("get run", err)
	}
	return run, nil
}

func (s *SQLiteStore) SaveStep(ctx context.Context, runID string, step domain.StepRecord) error {
	if err := s.Repo.UpsertStep(ctx, runID, step); err != nil {
		return storageErr("save step", err)
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string, completedAt *time.Time) error {
	err := s.Repo.SetRunStatus(ctx, runID, status, errMsg, completedAt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return storageErr("set run status", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.TaskRun, error) {
	runs, err := s.Repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	return runs, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}
