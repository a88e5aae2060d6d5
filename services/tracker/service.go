package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmops/pkg/config"
	"farmops/services/event"
	"farmops/services/scoring"
)

var Module = fx.Module("tracker.service",
	fx.Provide(NewService),
)

// Settler finalises a task: marks it DONE, records the reward and credits
// both wallets atomically. Implemented by the wallet service.
type Settler interface {
	Settle(ctx context.Context, taskID string) error
}

// RepoSource lists the repositories visible to the GitHub App installation.
// It is an external collaborator; a nil source disables the sync job.
type RepoSource interface {
	ListRepositories(ctx context.Context) ([]RemoteRepository, error)
}

type RemoteRepository struct {
	GithubRepoID  int64
	OrgID         string
	Name          string
	FullName      string
	Private       bool
	DefaultBranch string
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	mode    config.VerificationMode
	tracked []string
	settler Settler
	source  RepoSource
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Settler Settler    `optional:"true"`
	Source  RepoSource `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		mode:    p.Config.Mode(),
		tracked: p.Config.Labels(),
		settler: p.Settler,
		source:  p.Source,
	}
}

// ProcessEvent replays one stored webhook event through the task state
// machine. Safe to re-run: every mutation is keyed by a unique index and
// settlement is guarded by the reward uniqueness constraint.
func (s *Service) ProcessEvent(ctx context.Context, eventID string) error {
	var evt event.Event
	if err := s.db.WithContext(ctx).Where("id = ?", eventID).First(&evt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("event not found, dropping", zap.String("event_id", eventID))
			return nil
		}
		return err
	}
	if evt.Processed {
		return nil
	}

	zapLog := zap.L().With(
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.EventType),
	)

	var err error
	switch evt.EventType {
	case "issues":
		err = s.handleIssueEvent(ctx, evt.Payload)
	case "pull_request":
		err = s.handlePullRequestEvent(ctx, evt.Payload)
	case "check_suite", "workflow_run":
		err = s.handleCIEvent(ctx, evt.Payload)
	default:
		zapLog.Debug("untracked event type, dropping")
	}
	if err != nil {
		zapLog.Error("failed to process event", zap.Error(err))
		return err
	}

	return s.db.WithContext(ctx).Model(&event.Event{}).
		Where("id = ?", evt.ID).
		Update("processed", true).Error
}

func (s *Service) handleIssueEvent(ctx context.Context, raw []byte) error {
	p, err := decodeIssuePayload(raw)
	if err != nil {
		zap.L().Warn("malformed issues payload, dropping", zap.Error(err))
		return nil
	}

	switch p.Action {
	case "labeled", "unlabeled", "closed", "reopened":
	default:
		return nil
	}

	repo, err := s.enabledRepo(ctx, p.Repository.ID)
	if err != nil || repo == nil {
		return err
	}

	labels := lowerLabels(p.Issue.Labels)

	switch p.Action {
	case "labeled":
		taskType := firstTrackedType(labels, s.tracked)
		if taskType == "" {
			return nil
		}
		_, err := s.upsertTask(ctx, upsertParams{
			OrgID:        repo.OrgID,
			RepoID:       repo.ID,
			SourceType:   SourceIssue,
			GithubNumber: p.Issue.Number,
			GithubNodeID: p.Issue.NodeID,
			Title:        p.Issue.Title,
			URL:          p.Issue.HTMLURL,
			Status:       StatusOpen,
			Labels:       labels,
			TaskType:     taskType,
			OpenedAt:     p.Issue.CreatedAt,
		})
		return err
	case "closed":
		now := time.Now()
		return s.db.WithContext(ctx).Model(&Task{}).
			Where("repo_id = ? AND source_type = ? AND github_number = ?", repo.ID, SourceIssue, p.Issue.Number).
			Updates(map[string]any{"status": StatusCancelled, "closed_at": now}).Error
	case "reopened":
		return s.db.WithContext(ctx).Model(&Task{}).
			Where("repo_id = ? AND source_type = ? AND github_number = ?", repo.ID, SourceIssue, p.Issue.Number).
			Updates(map[string]any{"status": StatusOpen, "closed_at": nil}).Error
	}

	return nil
}

func (s *Service) handlePullRequestEvent(ctx context.Context, raw []byte) error {
	p, err := decodePullRequestPayload(raw)
	if err != nil {
		zap.L().Warn("malformed pull_request payload, dropping", zap.Error(err))
		return nil
	}

	switch p.Action {
	case "opened", "labeled", "closed", "reopened":
	default:
		return nil
	}

	repo, err := s.enabledRepo(ctx, p.Repository.ID)
	if err != nil || repo == nil {
		return err
	}

	labels := lowerLabels(p.PullRequest.Labels)
	loc := p.PullRequest.Additions + p.PullRequest.Deletions

	switch {
	case p.Action == "opened" || p.Action == "labeled":
		taskType := firstTrackedType(labels, s.tracked)
		if taskType == "" {
			return nil
		}
		_, err := s.upsertTask(ctx, upsertParams{
			OrgID:        repo.OrgID,
			RepoID:       repo.ID,
			SourceType:   SourcePullRequest,
			GithubNumber: p.PullRequest.Number,
			GithubNodeID: p.PullRequest.NodeID,
			Title:        p.PullRequest.Title,
			URL:          p.PullRequest.HTMLURL,
			Status:       StatusInProgress,
			Labels:       labels,
			TaskType:     taskType,
			OpenedAt:     p.PullRequest.CreatedAt,
			LOCChanged:   &loc,
		})
		return err

	case p.Action == "closed" && p.PullRequest.Merged:
		var tsk Task
		err := s.db.WithContext(ctx).
			Where("repo_id = ? AND source_type = ? AND github_number = ?", repo.ID, SourcePullRequest, p.PullRequest.Number).
			First(&tsk).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		mergedAt := time.Now()
		if p.PullRequest.MergedAt != nil {
			mergedAt = *p.PullRequest.MergedAt
		}

		// A redelivered merged event must not move a settled task back to
		// IN_PROGRESS.
		if err := s.db.WithContext(ctx).Model(&Task{}).
			Where("id = ? AND status <> ?", tsk.ID, StatusDone).
			Updates(map[string]any{
				"pr_merged":   true,
				"merged_at":   mergedAt,
				"loc_changed": loc,
				"status":      StatusInProgress,
			}).Error; err != nil {
			return err
		}

		if s.mode == config.VerificationMergeOnly {
			return s.settle(ctx, tsk.ID)
		}
		return nil

	case p.Action == "closed" && !p.PullRequest.Merged:
		now := time.Now()
		return s.db.WithContext(ctx).Model(&Task{}).
			Where("repo_id = ? AND source_type = ? AND github_number = ?", repo.ID, SourcePullRequest, p.PullRequest.Number).
			Updates(map[string]any{"status": StatusCancelled, "closed_at": now}).Error
	}

	return nil
}

func (s *Service) handleCIEvent(ctx context.Context, raw []byte) error {
	p, err := decodeCIPayload(raw)
	if err != nil {
		zap.L().Warn("malformed ci payload, dropping", zap.Error(err))
		return nil
	}

	if p.Action != "completed" {
		return nil
	}
	run := p.run()
	if run == nil || run.Conclusion != "success" {
		return nil
	}

	repo, err := s.enabledRepo(ctx, p.Repository.ID)
	if err != nil || repo == nil {
		return err
	}

	// Correlate with the most recently merged PR task still awaiting CI.
	var tsk Task
	err = s.db.WithContext(ctx).
		Where("repo_id = ? AND source_type = ? AND pr_merged = ? AND ci_passed = ? AND status <> ?",
			repo.ID, SourcePullRequest, true, false, StatusDone).
		Order("merged_at DESC").
		First(&tsk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", tsk.ID).
		Update("ci_passed", true).Error; err != nil {
		return err
	}

	return s.settle(ctx, tsk.ID)
}

func (s *Service) settle(ctx context.Context, taskID string) error {
	if s.settler == nil {
		zap.L().Warn("no settler configured, skipping settlement", zap.String("task_id", taskID))
		return nil
	}
	return s.settler.Settle(ctx, taskID)
}

// enabledRepo resolves a repository by its GitHub id. Unknown or disabled
// repositories drop the event silently.
func (s *Service) enabledRepo(ctx context.Context, githubRepoID int64) (*Repository, error) {
	var repo Repository
	err := s.db.WithContext(ctx).Where("github_repo_id = ?", githubRepoID).First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		zap.L().Debug("unknown repository, dropping event", zap.Int64("github_repo_id", githubRepoID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !repo.Enabled {
		zap.L().Debug("disabled repository, dropping event", zap.String("repo", repo.FullName))
		return nil, nil
	}
	return &repo, nil
}

type upsertParams struct {
	OrgID        string
	RepoID       string
	SourceType   SourceType
	GithubNumber int
	GithubNodeID string
	Title        string
	URL          string
	Status       TaskStatus
	Labels       []string
	TaskType     scoring.TaskType
	OpenedAt     time.Time
	LOCChanged   *int
}

// upsertTask finds by github_node_id and either inserts the full row or
// applies the update field set: title, labels and loc. The task type is
// fixed at creation and never rewritten by later label events; status only
// moves through the explicit action transitions, so a label refresh can
// never pull a DONE or CANCELLED task out of its terminal state.
func (s *Service) upsertTask(ctx context.Context, p upsertParams) (*Task, error) {
	var existing Task
	err := s.db.WithContext(ctx).Where("github_node_id = ?", p.GithubNodeID).First(&existing).Error
	if err == nil {
		updates := map[string]any{
			"title": p.Title,
		}
		var labeled Task
		labeled.SetLabels(p.Labels)
		updates["labels"] = labeled.Labels
		if p.LOCChanged != nil {
			updates["loc_changed"] = *p.LOCChanged
		}
		if err := s.db.WithContext(ctx).Model(&Task{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	record := &Task{
		ID:           s.node.Generate().String(),
		OrgID:        p.OrgID,
		RepoID:       p.RepoID,
		SourceType:   p.SourceType,
		GithubNumber: p.GithubNumber,
		GithubNodeID: p.GithubNodeID,
		Title:        p.Title,
		URL:          p.URL,
		Status:       p.Status,
		TaskType:     p.TaskType,
		OpenedAt:     p.OpenedAt,
		LOCChanged:   p.LOCChanged,
	}
	record.SetLabels(p.Labels)

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		// A redelivered event may lose the insert race on github_node_id;
		// the earlier row is the task, so surface it.
		var raced Task
		if findErr := s.db.WithContext(ctx).Where("github_node_id = ?", p.GithubNodeID).First(&raced).Error; findErr == nil {
			return &raced, nil
		}
		return nil, err
	}

	return record, nil
}
