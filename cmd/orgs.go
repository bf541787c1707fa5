package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/internal/store"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Inspect stored organizations",
	Long:  "Commands for listing, walking and summarizing the stored organization tree.",
}

// -- orgs list --

var orgsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		types, _ := cmd.Flags().GetStringSlice("type")
		parent, _ := cmd.Flags().GetString("parent")
		prefix, _ := cmd.Flags().GetString("path-prefix")
		leafOnly, _ := cmd.Flags().GetBool("leaf-only")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.OrgFilter{
			Types:      types,
			ParentID:   parent,
			PathPrefix: prefix,
			LeafOnly:   leafOnly,
			Limit:      limit,
			Offset:     offset,
		}
		if cmd.Flags().Changed("level") {
			level, _ := cmd.Flags().GetInt("level")
			filter.Level = &level
		}

		orgs, err := st.ListOrganizations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "orgs list")
		}

		if len(orgs) == 0 {
			fmt.Fprintln(os.Stderr, "No organizations found.")
			return nil
		}

		formatOrgsList(os.Stdout, orgs)
		return nil
	},
}

// -- orgs tree --

var orgsTreeCmd = &cobra.Command{
	Use:   "tree <org-id>",
	Short: "Show the subtree rooted at an organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		orgs, err := st.Subtree(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "orgs tree")
		}

		formatOrgTree(os.Stdout, orgs)
		return nil
	},
}

// -- orgs stats --

var orgsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate tree statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stats, err := st.OrganizationStats(ctx)
		if err != nil {
			return eris.Wrap(err, "orgs stats")
		}

		formatOrgStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	orgsListCmd.Flags().Int("level", 0, "filter by tree level (0 = province)")
	orgsListCmd.Flags().StringSlice("type", nil, "filter by organization type")
	orgsListCmd.Flags().String("parent", "", "filter by direct parent id")
	orgsListCmd.Flags().String("path-prefix", "", "filter by materialized path prefix")
	orgsListCmd.Flags().Bool("leaf-only", false, "only organizations without children")
	orgsListCmd.Flags().Int("limit", 100, "max number of organizations to display")
	orgsListCmd.Flags().Int("offset", 0, "skip this many rows")

	orgsCmd.AddCommand(orgsListCmd)
	orgsCmd.AddCommand(orgsTreeCmd)
	orgsCmd.AddCommand(orgsStatsCmd)
	rootCmd.AddCommand(orgsCmd)
}

// formatOrgsList writes a tabular organization listing to w.
func formatOrgsList(out io.Writer, orgs []model.Organization) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTYPE\tLEVEL\tLEAF\tPATH")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-----\t----\t----")

	for _, o := range orgs {
		leaf := ""
		if !o.HasChildren {
			leaf = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			o.OrgID, o.Name, o.Type, o.Level, leaf, o.Path)
	}
	_ = w.Flush()
}

// formatOrgTree writes an indented subtree to w. The slice arrives in path
// order, so indenting by depth relative to the first row draws the tree.
func formatOrgTree(out io.Writer, orgs []model.Organization) {
	if len(orgs) == 0 {
		return
	}
	rootLevel := orgs[0].Level
	for _, o := range orgs {
		indent := strings.Repeat("  ", o.Level-rootLevel)
		_, _ = fmt.Fprintf(out, "%s%s (%s, %s)\n", indent, o.Name, o.OrgID, o.Type)
	}
}

// formatOrgStats writes aggregate tree stats to w.
func formatOrgStats(out io.Writer, stats *store.OrgStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total organizations:\t%d\n", stats.Total)
	_, _ = fmt.Fprintf(w, "End nodes:\t%d\n", stats.Leaves)

	levels := make([]int, 0, len(stats.ByLevel))
	for level := range stats.ByLevel {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	for _, level := range levels {
		_, _ = fmt.Fprintf(w, "Level %d:\t%d\n", level, stats.ByLevel[level])
	}

	types := make([]string, 0, len(stats.ByType))
	for typ := range stats.ByType {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		_, _ = fmt.Fprintf(w, "Type %s:\t%d\n", typ, stats.ByType[typ])
	}
	_ = w.Flush()
}
