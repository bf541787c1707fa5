// Package store persists organizations, complaints and crawl tasks. Two
// implementations share the Store interface: Postgres for real deployments
// and SQLite for local runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wzwatch/wenzheng-cli/internal/model"
)

// UpsertResult reports how a batch landed: rows created versus rows that
// already existed and were overwritten. Re-running an identical batch
// reports zero inserts.
type UpsertResult struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
}

// Total is the number of rows the batch touched.
func (r UpsertResult) Total() int64 {
	return r.Inserted + r.Updated
}

// Merge accumulates another result into this one.
func (r UpsertResult) Merge(other UpsertResult) UpsertResult {
	return UpsertResult{
		Inserted: r.Inserted + other.Inserted,
		Updated:  r.Updated + other.Updated,
	}
}

// OrgFilter narrows organization listings.
type OrgFilter struct {
	Level      *int     `json:"level,omitempty"`
	Types      []string `json:"types,omitempty"`
	ParentID   string   `json:"parent_id,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
	LeafOnly   bool     `json:"leaf_only,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

// ComplaintFilter narrows complaint listings.
type ComplaintFilter struct {
	OrgID        string     `json:"org_id,omitempty"`
	Category     string     `json:"category,omitempty"`
	HandleStatus string     `json:"handle_status,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// TaskFilter narrows crawl task listings.
type TaskFilter struct {
	Type   model.TaskType   `json:"type,omitempty"`
	Status model.TaskStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// OrgStats summarizes the stored organization tree.
type OrgStats struct {
	Total   int            `json:"total"`
	Leaves  int            `json:"leaves"`
	ByLevel map[int]int    `json:"by_level"`
	ByType  map[string]int `json:"by_type"`
}

// ComplaintStats summarizes stored complaints.
type ComplaintStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByStatus   map[string]int `json:"by_status"`
}

// ConflictError reports an integrity violation the upsert machinery cannot
// resolve, such as two organizations claiming the same tree position. It
// is terminal: retrying the same batch reproduces it.
type ConflictError struct {
	Table string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage conflict on %s: %v", e.Table, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err carries a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Store is the persistence interface for the crawl pipeline.
type Store interface {
	// Organizations. Upserts keep the materialized paths coherent: when a
	// batch moves a node, paths and levels of stored descendants outside
	// the batch are rewritten in the same transaction.
	UpsertOrganizations(ctx context.Context, orgs []model.Organization) (UpsertResult, error)
	GetOrganization(ctx context.Context, orgID string) (*model.Organization, error)
	ListOrganizations(ctx context.Context, filter OrgFilter) ([]model.Organization, error)
	ListOrganizationIDs(ctx context.Context, filter OrgFilter) ([]string, error)
	Subtree(ctx context.Context, orgID string) ([]model.Organization, error)
	OrganizationStats(ctx context.Context) (*OrgStats, error)

	// Complaints
	UpsertComplaints(ctx context.Context, complaints []model.Complaint) (UpsertResult, error)
	ListComplaints(ctx context.Context, filter ComplaintFilter) ([]model.Complaint, error)
	ComplaintStats(ctx context.Context) (*ComplaintStats, error)

	// Crawl task log
	StartTask(ctx context.Context, taskType model.TaskType, params map[string]any) (*model.CrawlTask, error)
	CompleteTask(ctx context.Context, taskID string, status model.TaskStatus, summary *model.TaskSummary) error
	FailTask(ctx context.Context, taskID string, cause string) error
	GetTask(ctx context.Context, taskID string) (*model.CrawlTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.CrawlTask, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
