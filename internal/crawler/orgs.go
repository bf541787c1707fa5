package crawler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/internal/normalize"
	"github.com/wzwatch/wenzheng-cli/pkg/wenzheng"
)

// OrgsOptions configures a tree crawl run.
type OrgsOptions struct {
	Cities      []string // restrict to these city ids; empty means every city
	Concurrency int
	SnapshotDir string
}

// cityUnit is one independently skippable subtree fetch.
type cityUnit struct {
	cityID     string
	parentID   string
	parentPath string
	level      int
}

// CrawlOrganizations fetches the province forest, stores its shell, then
// re-fetches each city subtree as its own crawl unit. One bad city or one
// malformed province marks the run partial instead of sinking it.
func (c *Crawler) CrawlOrganizations(ctx context.Context, opts OrgsOptions) (*RunResult, error) {
	log := zap.L().With(zap.String("component", "crawler.orgs"))

	params := map[string]any{}
	if len(opts.Cities) > 0 {
		params["cities"] = opts.Cities
	}
	if opts.Concurrency > 0 {
		params["concurrency"] = opts.Concurrency
	}

	task, err := c.startTask(ctx, model.TaskTypeOrganizationTree, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary, runErr := c.crawlOrganizations(ctx, opts, log)
	if runErr != nil {
		log.Error("organization crawl failed", zap.String("task", task.ID), zap.Error(runErr), zap.Duration("elapsed", time.Since(start)))
		c.failTask(ctx, log, task.ID, runErr)
		return nil, runErr
	}

	status := summary.Outcome()
	c.completeTask(ctx, log, task.ID, status, summary)
	log.Info("organization crawl finished",
		zap.String("task", task.ID),
		zap.String("status", string(status)),
		zap.Int("fetched", summary.Fetched),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &RunResult{TaskID: task.ID, Status: status, Summary: *summary}, nil
}

func (c *Crawler) crawlOrganizations(ctx context.Context, opts OrgsOptions, log *zap.Logger) (*model.TaskSummary, error) {
	forest, err := c.client.ProvinceTree(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: fetch province tree")
	}
	snapshot(log, opts.SnapshotDir, "tree", "province", forest)

	// Store the shell first: the province roots and whatever arrived inline,
	// so city subtrees always land under an existing parent. Each root
	// flattens on its own, so a malformed province sinks only its subtree
	// and the healthy siblings still land.
	var shell []model.Organization
	var badProvinces int
	for _, root := range forest {
		orgs, err := normalize.Flatten([]wenzheng.RawNode{root})
		if err != nil {
			badProvinces++
			log.Error("province subtree malformed", zap.String("province", root.ID), zap.Error(err))
			continue
		}
		shell = append(shell, orgs...)
	}
	shellRes, err := c.store.UpsertOrganizations(ctx, shell)
	if err != nil {
		return nil, eris.Wrap(err, "crawler: store province shell")
	}

	var fetched, inserted, updated, failed, skipped atomic.Int64
	failed.Add(int64(badProvinces))
	fetched.Add(int64(len(shell)))
	inserted.Add(shellRes.Inserted)
	updated.Add(shellRes.Updated)

	units := selectCityUnits(shell, opts.Cities)
	log.Info("city subtrees selected", zap.Int("count", len(units)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clampConcurrency(opts.Concurrency))

	for _, unit := range units {
		g.Go(func() error {
			unitLog := log.With(zap.String("city", unit.cityID))

			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}

			subtree, err := c.client.CityTree(gctx, unit.cityID)
			if err != nil {
				failed.Add(1)
				unitLog.Error("city subtree fetch failed", zap.Error(err))
				return nil // don't abort the run on one bad city
			}
			snapshot(unitLog, opts.SnapshotDir, "tree", "city_"+unit.cityID, subtree)

			orgs, err := normalize.FlattenUnder(subtree, unit.parentID, unit.parentPath, unit.level)
			if err != nil {
				failed.Add(1)
				unitLog.Error("city subtree malformed", zap.Error(err))
				return nil
			}

			res, err := c.store.UpsertOrganizations(gctx, orgs)
			if err != nil {
				failed.Add(1)
				unitLog.Error("city subtree store failed", zap.Error(err))
				return nil
			}

			fetched.Add(int64(len(orgs)))
			inserted.Add(res.Inserted)
			updated.Add(res.Updated)
			unitLog.Info("city subtree stored",
				zap.Int("organizations", len(orgs)),
				zap.Int64("inserted", res.Inserted),
				zap.Int64("updated", res.Updated),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "crawler: city subtree pool")
	}

	return &model.TaskSummary{
		Fetched:  int(fetched.Load()),
		Inserted: int(inserted.Load()),
		Updated:  int(updated.Load()),
		Failed:   int(failed.Load()),
		Skipped:  int(skipped.Load()),
	}, nil
}

// selectCityUnits picks the level-1 nodes worth descending into: cities, or
// anything the shell says has children. An explicit city list narrows the
// selection.
func selectCityUnits(shell []model.Organization, cities []string) []cityUnit {
	var wanted map[string]bool
	if len(cities) > 0 {
		wanted = make(map[string]bool, len(cities))
		for _, id := range cities {
			wanted[id] = true
		}
	}

	var units []cityUnit
	for _, org := range shell {
		if org.Level != 1 {
			continue
		}
		if org.Type != model.OrgTypeCity && !org.HasChildren {
			continue
		}
		if wanted != nil && !wanted[org.OrgID] {
			continue
		}
		units = append(units, cityUnit{
			cityID:     org.OrgID,
			parentID:   org.ParentID,
			parentPath: org.ParentPath(),
			level:      org.Level,
		})
	}
	return units
}
