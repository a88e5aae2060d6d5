package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/services/event"
)

const TypeSyncRepos = "repos:sync"

func NewSyncReposTask() *asynq.Task {
	return asynq.NewTask(TypeSyncRepos, nil)
}

// HandleProcessEventTask is the asynq entry point for github:event:process.
func (s *Service) HandleProcessEventTask(ctx context.Context, t *asynq.Task) error {
	var payload event.ProcessEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("event_id", payload.EventID),
	)
	zapLog.Info("start processing github event")

	if err := s.ProcessEvent(ctx, payload.EventID); err != nil {
		zapLog.Error("failed to process github event", zap.Error(err))
		return err
	}

	zapLog.Info("github event processed")
	return nil
}

// HandleSyncReposTask is the asynq entry point for the recurring repos:sync job.
func (s *Service) HandleSyncReposTask(ctx context.Context, t *asynq.Task) error {
	if s.source == nil {
		zap.L().Info("no repository source configured, skipping sync")
		return nil
	}
	return s.SyncRepositories(ctx)
}

// SyncRepositories upserts repository rows from the external source. New
// repositories start disabled; enablement is an operator action.
func (s *Service) SyncRepositories(ctx context.Context) error {
	remotes, err := s.source.ListRepositories(ctx)
	if err != nil {
		return err
	}

	synced := 0
	for _, remote := range remotes {
		if err := s.upsertRepository(ctx, remote); err != nil {
			zap.L().Error("failed to sync repository",
				zap.String("full_name", remote.FullName),
				zap.Error(err),
			)
			continue
		}
		synced++
	}

	zap.L().Info("repository sync finished", zap.Int("synced", synced), zap.Int("total", len(remotes)))
	return nil
}

func (s *Service) upsertRepository(ctx context.Context, remote RemoteRepository) error {
	var existing Repository
	err := s.db.WithContext(ctx).Where("github_repo_id = ?", remote.GithubRepoID).First(&existing).Error
	if err == nil {
		return s.db.WithContext(ctx).Model(&Repository{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"name":           remote.Name,
				"full_name":      remote.FullName,
				"private":        remote.Private,
				"default_branch": remote.DefaultBranch,
			}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.db.WithContext(ctx).Create(&Repository{
		ID:            s.node.Generate().String(),
		GithubRepoID:  remote.GithubRepoID,
		OrgID:         remote.OrgID,
		Name:          remote.Name,
		FullName:      remote.FullName,
		Private:       remote.Private,
		Enabled:       false,
		DefaultBranch: remote.DefaultBranch,
	}).Error
}
