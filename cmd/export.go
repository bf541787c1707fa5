package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wzwatch/wenzheng-cli/internal/report"
	"github.com/wzwatch/wenzheng-cli/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored data to xlsx",
	Long:  "Commands for exporting organizations and complaints to xlsx workbooks.",
}

// -- export orgs --

var exportOrgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Export organizations to an xlsx workbook",
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

		out, _ := cmd.Flags().GetString("out")
		types, _ := cmd.Flags().GetStringSlice("type")
		prefix, _ := cmd.Flags().GetString("path-prefix")
		leafOnly, _ := cmd.Flags().GetBool("leaf-only")

		filter := store.OrgFilter{Types: types, PathPrefix: prefix, LeafOnly: leafOnly}
		if cmd.Flags().Changed("level") {
			level, _ := cmd.Flags().GetInt("level")
			filter.Level = &level
		}

		orgs, err := st.ListOrganizations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export orgs")
		}

		if err := report.WriteOrganizations(out, orgs); err != nil {
			return err
		}

		fmt.Printf("Wrote %d organizations to %s\n", len(orgs), out)
		return nil
	},
}

// -- export complaints --

var exportComplaintsCmd = &cobra.Command{
	Use:   "complaints",
	Short: "Export complaints to an xlsx workbook",
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

		out, _ := cmd.Flags().GetString("out")
		orgID, _ := cmd.Flags().GetString("org")
		category, _ := cmd.Flags().GetString("category")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ComplaintFilter{
			OrgID:        orgID,
			Category:     category,
			HandleStatus: status,
			Limit:        limit,
		}
		if since > 0 {
			cutoff := time.Now().Add(-since)
			filter.Since = &cutoff
		}

		complaints, err := st.ListComplaints(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export complaints")
		}

		if err := report.WriteComplaints(out, complaints); err != nil {
			return err
		}

		fmt.Printf("Wrote %d complaints to %s\n", len(complaints), out)
		return nil
	},
}

func init() {
	exportOrgsCmd.Flags().String("out", "organizations.xlsx", "output file path")
	exportOrgsCmd.Flags().Int("level", 0, "filter by tree level")
	exportOrgsCmd.Flags().StringSlice("type", nil, "filter by organization type")
	exportOrgsCmd.Flags().String("path-prefix", "", "filter by materialized path prefix")
	exportOrgsCmd.Flags().Bool("leaf-only", false, "only organizations without children")

	exportComplaintsCmd.Flags().String("out", "complaints.xlsx", "output file path")
	exportComplaintsCmd.Flags().String("org", "", "filter by organization id")
	exportComplaintsCmd.Flags().String("category", "", "filter by assigned category")
	exportComplaintsCmd.Flags().String("status", "", "filter by handle status")
	exportComplaintsCmd.Flags().Duration("since", 0, "only complaints created within this window (e.g. 720h)")
	exportComplaintsCmd.Flags().Int("limit", 0, "cap the number of rows (0 = all)")

	exportCmd.AddCommand(exportOrgsCmd)
	exportCmd.AddCommand(exportComplaintsCmd)
	rootCmd.AddCommand(exportCmd)
}
