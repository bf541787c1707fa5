package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wzwatch/wenzheng-cli/internal/crawler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run both crawls on a fixed interval",
	Long:  "Crawls the organization tree, then complaint threads, and repeats every interval until interrupted. --at delays the first pass to the next occurrence of a wall-clock time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		every, _ := cmd.Flags().GetDuration("every")
		at, _ := cmd.Flags().GetString("at")
		endNodes, _ := cmd.Flags().GetBool("end-nodes-only")
		if every <= 0 {
			return eris.New("--every must be a positive duration")
		}

		c, st, err := initCrawler(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if at != "" {
			next, err := nextOccurrence(time.Now(), at)
			if err != nil {
				return err
			}
			zap.L().Info("waiting for first scheduled pass", zap.Time("at", next))
			if !sleepUntil(ctx, time.Until(next)) {
				return nil
			}
		}

		for {
			runScheduledPass(ctx, c, endNodes)
			if ctx.Err() != nil {
				return nil
			}

			zap.L().Info("pass complete, sleeping", zap.Duration("every", every))
			if !sleepUntil(ctx, every) {
				return nil
			}
		}
	},
}

func init() {
	scheduleCmd.Flags().Duration("every", 6*time.Hour, "interval between passes")
	scheduleCmd.Flags().String("at", "", "wall-clock time (HH:MM) for the first pass")
	scheduleCmd.Flags().Bool("end-nodes-only", false, "crawl complaints only for organizations without children")
	rootCmd.AddCommand(scheduleCmd)
}

// runScheduledPass runs one tree crawl followed by one complaint crawl. A
// failed crawl is logged and the loop carries on; only cancellation stops it.
func runScheduledPass(ctx context.Context, c *crawler.Crawler, endNodes bool) {
	orgRes, err := c.CrawlOrganizations(ctx, crawler.OrgsOptions{
		Concurrency: cfg.Crawl.Concurrency,
		SnapshotDir: cfg.Crawl.SnapshotDir,
	})
	if err != nil {
		zap.L().Error("scheduled organization crawl failed", zap.Error(err))
	} else {
		zap.L().Info("scheduled organization crawl done",
			zap.String("task_id", orgRes.TaskID),
			zap.String("status", string(orgRes.Status)),
			zap.Int("stored", orgRes.Summary.Stored()),
		)
	}
	if ctx.Err() != nil {
		return
	}

	compRes, err := c.CrawlComplaints(ctx, crawler.ComplaintsOptions{
		EndNodesOnly: endNodes,
		PageSize:     cfg.Crawl.PageSize,
		MaxPages:     cfg.Crawl.MaxPages,
		Concurrency:  cfg.Crawl.Concurrency,
		SnapshotDir:  cfg.Crawl.SnapshotDir,
	})
	if err != nil {
		zap.L().Error("scheduled complaint crawl failed", zap.Error(err))
	} else {
		zap.L().Info("scheduled complaint crawl done",
			zap.String("task_id", compRes.TaskID),
			zap.String("status", string(compRes.Status)),
			zap.Int("complaints", compRes.Summary.Complaints),
		)
	}
}

// nextOccurrence returns the next time the HH:MM wall clock comes around,
// today if it is still ahead, tomorrow otherwise.
func nextOccurrence(now time.Time, at string) (time.Time, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "schedule: parse --at %q (want HH:MM)", at)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}

// sleepUntil blocks for d or until the context ends; it reports whether the
// full duration elapsed.
func sleepUntil(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
