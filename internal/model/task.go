package model

import "time"

// TaskType identifies which pipeline a crawl task ran.
type TaskType string

const (
	TaskTypeOrganizationTree TaskType = "organization-tree"
	TaskTypeComplaint        TaskType = "complaint"
)

// TaskStatus represents the state of a crawl task.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusPartial   TaskStatus = "partial"
	TaskStatusFailed    TaskStatus = "failed"
)

// TaskSummary aggregates the counters of one crawl run.
type TaskSummary struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Pages      int `json:"pages,omitempty"`
	Complaints int `json:"complaints,omitempty"`
}

// Stored returns the total number of rows written by the run.
func (s TaskSummary) Stored() int {
	return s.Inserted + s.Updated
}

// Outcome maps the counters to a terminal status: any failed or skipped
// unit makes the run partial, otherwise it succeeded.
func (s TaskSummary) Outcome() TaskStatus {
	if s.Failed > 0 || s.Skipped > 0 {
		return TaskStatusPartial
	}
	return TaskStatusSucceeded
}

// CrawlTask records one orchestrator invocation. Exactly one row exists per
// run; FinishedAt is set once, when the task reaches a terminal status.
type CrawlTask struct {
	ID         string         `json:"id"`
	Type       TaskType       `json:"type"`
	Status     TaskStatus     `json:"status"`
	Params     map[string]any `json:"params,omitempty"`
	Summary    *TaskSummary   `json:"summary,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}
