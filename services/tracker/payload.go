package tracker

import (
	"encoding/json"
	"strings"
	"time"

	"farmops/services/scoring"
)

// Strict parsed-event variants, one per (eventType, action) family. Payloads
// that fail to decode into a known variant are ignored, never accessed
// dynamically.

type labelRef struct {
	Name string `json:"name"`
}

type repositoryRef struct {
	ID int64 `json:"id"`
}

type issueRef struct {
	Number    int        `json:"number"`
	NodeID    string     `json:"node_id"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	Labels    []labelRef `json:"labels"`
}

type pullRequestRef struct {
	Number    int        `json:"number"`
	NodeID    string     `json:"node_id"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	Labels    []labelRef `json:"labels"`
	Merged    bool       `json:"merged"`
	MergedAt  *time.Time `json:"merged_at"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

type checkRunRef struct {
	Conclusion string `json:"conclusion"`
	HeadSHA    string `json:"head_sha"`
	HeadBranch string `json:"head_branch"`
}

type issueEventPayload struct {
	Action     string        `json:"action"`
	Issue      issueRef      `json:"issue"`
	Repository repositoryRef `json:"repository"`
}

type pullRequestEventPayload struct {
	Action      string         `json:"action"`
	PullRequest pullRequestRef `json:"pull_request"`
	Repository  repositoryRef  `json:"repository"`
}

type ciEventPayload struct {
	Action      string        `json:"action"`
	CheckSuite  *checkRunRef  `json:"check_suite"`
	WorkflowRun *checkRunRef  `json:"workflow_run"`
	Repository  repositoryRef `json:"repository"`
}

func (p *ciEventPayload) run() *checkRunRef {
	if p.CheckSuite != nil {
		return p.CheckSuite
	}
	return p.WorkflowRun
}

func decodeIssuePayload(raw []byte) (*issueEventPayload, error) {
	var p issueEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodePullRequestPayload(raw []byte) (*pullRequestEventPayload, error) {
	var p pullRequestEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeCIPayload(raw []byte) (*ciEventPayload, error) {
	var p ciEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func lowerLabels(refs []labelRef) []string {
	labels := make([]string, 0, len(refs))
	for _, ref := range refs {
		labels = append(labels, strings.ToLower(ref.Name))
	}
	return labels
}

var labelTypes = map[string]scoring.TaskType{
	"maintenance": scoring.TaskMaintenance,
	"toil":        scoring.TaskToil,
	"reliability": scoring.TaskReliability,
	"security":    scoring.TaskSecurity,
}

// firstTrackedType scans labels in received order and returns the task type
// of the first tracked label, or "" when none match.
func firstTrackedType(labels []string, tracked []string) scoring.TaskType {
	isTracked := make(map[string]bool, len(tracked))
	for _, l := range tracked {
		isTracked[l] = true
	}
	for _, label := range labels {
		if !isTracked[label] {
			continue
		}
		if taskType, ok := labelTypes[label]; ok {
			return taskType
		}
	}
	return ""
}
