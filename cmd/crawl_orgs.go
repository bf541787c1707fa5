package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wzwatch/wenzheng-cli/internal/crawler"
)

var (
	crawlOrgsCities      []string
	crawlOrgsConcurrency int
	crawlOrgsSnapshotDir string
)

var crawlOrgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Crawl the organization tree",
	Long:  "Fetches the province tree, then every city subtree, and upserts the flattened organizations with their materialized paths. One failed city marks the run partial without aborting the rest.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, st, err := initCrawler(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := crawler.OrgsOptions{
			Cities:      crawlOrgsCities,
			Concurrency: crawlOrgsConcurrency,
			SnapshotDir: crawlOrgsSnapshotDir,
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Crawl.Concurrency
		}
		if opts.SnapshotDir == "" {
			opts.SnapshotDir = cfg.Crawl.SnapshotDir
		}

		res, err := c.CrawlOrganizations(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "crawl orgs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	crawlOrgsCmd.Flags().StringSliceVar(&crawlOrgsCities, "city", nil, "restrict the crawl to these city ids")
	crawlOrgsCmd.Flags().IntVar(&crawlOrgsConcurrency, "concurrency", 0, "parallel city fetches (0 = config default)")
	crawlOrgsCmd.Flags().StringVar(&crawlOrgsSnapshotDir, "snapshot-dir", "", "write raw API responses under this directory")
	crawlCmd.AddCommand(crawlOrgsCmd)
}
