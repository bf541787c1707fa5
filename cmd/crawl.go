package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wzwatch/wenzheng-cli/internal/crawler"
	"github.com/wzwatch/wenzheng-cli/internal/store"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run crawl pipelines",
	Long:  "Commands for crawling the organization tree and complaint threads into the store.",
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

// initCrawler validates the crawl configuration and wires the client, store
// and orchestrator together. The caller owns closing the returned store.
func initCrawler(ctx context.Context) (*crawler.Crawler, store.Store, error) {
	if err := cfg.Validate("crawl"); err != nil {
		return nil, nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	return crawler.New(initClient(), st, nil), st, nil
}
