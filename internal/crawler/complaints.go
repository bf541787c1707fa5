package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/internal/normalize"
	"github.com/wzwatch/wenzheng-cli/internal/store"
)

// ComplaintsOptions configures a complaint crawl run. When OrgIDs is empty
// the targets come from the store via the level/type/leaf filters.
type ComplaintsOptions struct {
	OrgIDs       []string
	Level        *int
	Types        []string
	EndNodesOnly bool // only leaf organizations accept complaint assignment
	Limit        int  // cap the number of target organizations
	PageSize     int
	MaxPages     int
	Concurrency  int
	SnapshotDir  string
}

// CrawlComplaints pages through the complaint listing of each target
// organization. Pages are fetched strictly in order per organization;
// organizations are independent crawl units.
func (c *Crawler) CrawlComplaints(ctx context.Context, opts ComplaintsOptions) (*RunResult, error) {
	log := zap.L().With(zap.String("component", "crawler.complaints"))

	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	params := map[string]any{
		"page_size": opts.PageSize,
		"max_pages": opts.MaxPages,
	}
	if len(opts.OrgIDs) > 0 {
		params["orgs"] = opts.OrgIDs
	}
	if opts.Level != nil {
		params["level"] = *opts.Level
	}
	if len(opts.Types) > 0 {
		params["types"] = opts.Types
	}
	if opts.EndNodesOnly {
		params["end_nodes_only"] = true
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}

	task, err := c.startTask(ctx, model.TaskTypeComplaint, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary, runErr := c.crawlComplaints(ctx, opts, log)
	if runErr != nil {
		log.Error("complaint crawl failed", zap.String("task", task.ID), zap.Error(runErr), zap.Duration("elapsed", time.Since(start)))
		c.failTask(ctx, log, task.ID, runErr)
		return nil, runErr
	}

	status := summary.Outcome()
	c.completeTask(ctx, log, task.ID, status, summary)
	log.Info("complaint crawl finished",
		zap.String("task", task.ID),
		zap.String("status", string(status)),
		zap.Int("organizations_failed", summary.Failed),
		zap.Int("pages", summary.Pages),
		zap.Int("complaints", summary.Complaints),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &RunResult{TaskID: task.ID, Status: status, Summary: *summary}, nil
}

func (c *Crawler) crawlComplaints(ctx context.Context, opts ComplaintsOptions, log *zap.Logger) (*model.TaskSummary, error) {
	orgIDs := opts.OrgIDs
	var unknown int
	if len(orgIDs) == 0 {
		var err error
		orgIDs, err = c.store.ListOrganizationIDs(ctx, store.OrgFilter{
			Level:    opts.Level,
			Types:    opts.Types,
			LeafOnly: opts.EndNodesOnly,
			Limit:    opts.Limit,
		})
		if err != nil {
			return nil, eris.Wrap(err, "crawler: select target organizations")
		}
	} else {
		// Complaints reference organizations by id, so explicit targets
		// still have to exist in the stored tree.
		known := make([]string, 0, len(orgIDs))
		for _, id := range orgIDs {
			org, err := c.store.GetOrganization(ctx, id)
			if err != nil {
				return nil, eris.Wrapf(err, "crawler: verify organization %s", id)
			}
			if org == nil {
				log.Warn("unknown organization requested", zap.String("org", id))
				unknown++
				continue
			}
			known = append(known, id)
		}
		orgIDs = known
		if opts.Limit > 0 && len(orgIDs) > opts.Limit {
			orgIDs = orgIDs[:opts.Limit]
		}
	}

	if len(orgIDs) == 0 && unknown == 0 {
		log.Info("no target organizations")
		return &model.TaskSummary{}, nil
	}
	log.Info("target organizations selected", zap.Int("count", len(orgIDs)))

	var fetched, stored, inserted, updated, pages, failed, skipped atomic.Int64
	failed.Add(int64(unknown))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clampConcurrency(opts.Concurrency))

	for _, orgID := range orgIDs {
		g.Go(func() error {
			unitLog := log.With(zap.String("org", orgID))

			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}

			run := c.fetchOrgComplaints(gctx, orgID, opts, unitLog)
			fetched.Add(int64(run.rawRecords))
			pages.Add(int64(run.pages))

			// Pages fetched before a failure are still worth keeping.
			if len(run.complaints) > 0 {
				res, err := c.store.UpsertComplaints(gctx, run.complaints)
				if err != nil {
					failed.Add(1)
					unitLog.Error("complaint batch store failed", zap.Error(err))
					return nil
				}
				stored.Add(int64(len(run.complaints)))
				inserted.Add(res.Inserted)
				updated.Add(res.Updated)
			}

			if run.err != nil {
				failed.Add(1)
				unitLog.Error("complaint paging failed", zap.Int("pages", run.pages), zap.Error(run.err))
				return nil
			}

			unitLog.Info("organization complaints stored",
				zap.Int("pages", run.pages),
				zap.Int("complaints", len(run.complaints)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "crawler: complaint pool")
	}

	return &model.TaskSummary{
		Fetched:    int(fetched.Load()),
		Inserted:   int(inserted.Load()),
		Updated:    int(updated.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
		Pages:      int(pages.Load()),
		Complaints: int(stored.Load()),
	}, nil
}

// orgRun is the outcome of one organization's page sequence.
type orgRun struct {
	complaints []model.Complaint
	rawRecords int
	pages      int
	err        error
}

// fetchOrgComplaints walks pages 1..N in order and converts records as they
// arrive. It stops early on a short page, once the reported total is
// covered, or at the page ceiling. On error the records collected so far are
// returned along with it.
func (c *Crawler) fetchOrgComplaints(ctx context.Context, orgID string, opts ComplaintsOptions, log *zap.Logger) orgRun {
	var run orgRun
	for page := 1; ; page++ {
		tp, err := c.client.ThreadPage(ctx, orgID, page, opts.PageSize)
		if err != nil {
			run.err = err
			return run
		}
		run.pages++
		snapshot(log, opts.SnapshotDir, "threads", fmt.Sprintf("%s_%d", orgID, page), tp)

		for _, rec := range tp.Records {
			run.rawRecords++
			complaint, err := normalize.ComplaintFromRecord(rec, orgID)
			if err != nil {
				log.Warn("dropping malformed complaint record", zap.Int("page", page), zap.Error(err))
				continue
			}
			// The page was fetched filtered by orgID. A record claiming a
			// different assignment may reference an organization outside the
			// stored tree, so the verified target wins; the record's own
			// claim survives in Raw.
			if complaint.OrgID != orgID {
				log.Warn("record assigned elsewhere",
					zap.String("thread", complaint.ThreadID),
					zap.String("assigned", complaint.OrgID),
				)
				complaint.OrgID = orgID
			}
			complaint.Category = c.classifier.Categorize(complaint.Title, complaint.Content)
			run.complaints = append(run.complaints, complaint)
		}

		if len(tp.Records) < opts.PageSize {
			return run
		}
		if tp.Total > 0 && page*opts.PageSize >= tp.Total {
			return run
		}
		if run.pages >= opts.MaxPages {
			log.Warn("page ceiling reached", zap.Int("pages", run.pages), zap.Int("total", tp.Total))
			return run
		}
	}
}
