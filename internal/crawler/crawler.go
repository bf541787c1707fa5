// Package crawler orchestrates crawl runs: it fans crawl units out over a
// bounded worker pool, records every run as a crawl task row, and maps unit
// outcomes to the task's terminal status. A unit failure marks the run
// partial; only errors before any unit starts (tree fetch, target selection)
// fail the whole run.
package crawler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wzwatch/wenzheng-cli/internal/classify"
	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/internal/store"
	"github.com/wzwatch/wenzheng-cli/pkg/wenzheng"
)

const (
	// DefaultConcurrency bounds the worker pool when the caller passes zero.
	DefaultConcurrency = 3
	// MaxConcurrency caps the pool regardless of configuration; the upstream
	// shares one rate limiter, so more workers only buy queueing.
	MaxConcurrency = 10

	// DefaultPageSize is the complaint listing page size.
	DefaultPageSize = 20
	// DefaultMaxPages bounds the page loop per organization.
	DefaultMaxPages = 50
)

// Crawler wires the upstream client, the store and the categorizer into the
// two crawl pipelines.
type Crawler struct {
	client     wenzheng.Client
	store      store.Store
	classifier *classify.Classifier
}

// New creates a Crawler. A nil classifier falls back to the embedded rules.
func New(client wenzheng.Client, st store.Store, classifier *classify.Classifier) *Crawler {
	if classifier == nil {
		classifier = classify.Default()
	}
	return &Crawler{client: client, store: st, classifier: classifier}
}

// RunResult reports one finished crawl run.
type RunResult struct {
	TaskID  string
	Status  model.TaskStatus
	Summary model.TaskSummary
}

func clampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultConcurrency
	case n > MaxConcurrency:
		return MaxConcurrency
	default:
		return n
	}
}

// completeTask records the terminal status. The write uses a detached
// context so an interrupted run still gets its task row closed.
func (c *Crawler) completeTask(ctx context.Context, log *zap.Logger, taskID string, status model.TaskStatus, summary *model.TaskSummary) {
	if err := c.store.CompleteTask(context.WithoutCancel(ctx), taskID, status, summary); err != nil {
		log.Error("failed to record task completion", zap.String("task", taskID), zap.Error(err))
	}
}

func (c *Crawler) failTask(ctx context.Context, log *zap.Logger, taskID string, cause error) {
	if err := c.store.FailTask(context.WithoutCancel(ctx), taskID, cause.Error()); err != nil {
		log.Error("failed to record task failure", zap.String("task", taskID), zap.Error(err))
	}
}

// snapshot writes one fetched payload to <dir>/<kind>/<name>.json. Snapshots
// are an audit aid: failures are logged and never fail the run.
func snapshot(log *zap.Logger, dir, kind, name string, v any) {
	if dir == "" {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn("snapshot marshal failed", zap.String("name", name), zap.Error(err))
		return
	}
	target := filepath.Join(dir, kind)
	if err := os.MkdirAll(target, 0o755); err != nil {
		log.Warn("snapshot dir failed", zap.String("dir", target), zap.Error(err))
		return
	}
	path := filepath.Join(target, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
	}
}

// startTask opens the task row for a run.
func (c *Crawler) startTask(ctx context.Context, taskType model.TaskType, params map[string]any) (*model.CrawlTask, error) {
	task, err := c.store.StartTask(ctx, taskType, params)
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: start %s task", taskType)
	}
	return task, nil
}
