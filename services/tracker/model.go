package tracker

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"farmops/services/scoring"
)

type SourceType string

const (
	SourceIssue       SourceType = "ISSUE"
	SourcePullRequest SourceType = "PULL_REQUEST"
)

type TaskStatus string

const (
	StatusOpen       TaskStatus = "OPEN"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
	StatusCancelled  TaskStatus = "CANCELLED"
)

type Organization struct {
	ID          string    `gorm:"column:id;primaryKey"`
	GithubOrgID int64     `gorm:"column:github_org_id;uniqueIndex;not null"`
	Login       string    `gorm:"column:login;not null"`
	Name        string    `gorm:"column:name"`
	AvatarURL   string    `gorm:"column:avatar_url"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

type User struct {
	ID          string    `gorm:"column:id;primaryKey"`
	GithubID    int64     `gorm:"column:github_id;uniqueIndex;not null"`
	GithubLogin string    `gorm:"column:github_login"`
	Name        string    `gorm:"column:name"`
	Email       string    `gorm:"column:email"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

type OrgMember struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_org_members_user_org;not null"`
	OrgID     string    `gorm:"column:org_id;uniqueIndex:idx_org_members_user_org;index;not null"`
	Role      string    `gorm:"column:role;default:'MEMBER'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

type Repository struct {
	ID            string    `gorm:"column:id;primaryKey"`
	GithubRepoID  int64     `gorm:"column:github_repo_id;uniqueIndex;not null"`
	OrgID         string    `gorm:"column:org_id;index;not null"`
	Name          string    `gorm:"column:name;not null"`
	FullName      string    `gorm:"column:full_name;uniqueIndex;not null"`
	Private       bool      `gorm:"column:private"`
	Enabled       bool      `gorm:"column:enabled;default:false"`
	DefaultBranch string    `gorm:"column:default_branch"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Task is one tracked unit of mined maintenance work. Identity is the
// GitHub node id; reopening or relabeling mutates the row in place.
type Task struct {
	ID           string           `gorm:"column:id;primaryKey"`
	OrgID        string           `gorm:"column:org_id;index;not null"`
	RepoID       string           `gorm:"column:repo_id;index;not null"`
	SourceType   SourceType       `gorm:"column:source_type;not null"`
	GithubNumber int              `gorm:"column:github_number;not null"`
	GithubNodeID string           `gorm:"column:github_node_id;uniqueIndex;not null"`
	Title        string           `gorm:"column:title"`
	URL          string           `gorm:"column:url"`
	Status       TaskStatus       `gorm:"column:status;not null"`
	Labels       datatypes.JSON   `gorm:"column:labels"`
	TaskType     scoring.TaskType `gorm:"column:task_type;not null"`
	PRMerged     bool             `gorm:"column:pr_merged;default:false"`
	CIPassed     bool             `gorm:"column:ci_passed;default:false"`
	LOCChanged   *int             `gorm:"column:loc_changed"`
	OpenedAt     time.Time        `gorm:"column:opened_at"`
	ClosedAt     *time.Time       `gorm:"column:closed_at"`
	MergedAt     *time.Time       `gorm:"column:merged_at"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Task) SetLabels(labels []string) {
	raw, _ := json.Marshal(labels)
	t.Labels = datatypes.JSON(raw)
}

func (t *Task) GetLabels() []string {
	var labels []string
	_ = json.Unmarshal(t.Labels, &labels)
	return labels
}
