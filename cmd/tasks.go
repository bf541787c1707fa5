package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/wzwatch/wenzheng-cli/internal/model"
	"github.com/wzwatch/wenzheng-cli/internal/store"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect crawl task history",
	Long:  "Commands for listing and viewing crawl task runs.",
}

// -- tasks list --

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List crawl tasks",
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

		taskType, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.TaskFilter{
			Type:   model.TaskType(taskType),
			Status: model.TaskStatus(status),
			Limit:  limit,
		}

		tasks, err := st.ListTasks(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "tasks list")
		}

		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No tasks found.")
			return nil
		}

		formatTasksList(os.Stdout, tasks)
		return nil
	},
}

// -- tasks show --

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show full details of a crawl task",
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

		task, err := st.GetTask(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tasks show")
		}
		if task == nil {
			return eris.Errorf("task not found: %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	},
}

func init() {
	tasksListCmd.Flags().String("type", "", "filter by task type (organization-tree, complaint)")
	tasksListCmd.Flags().String("status", "", "filter by status (running, succeeded, partial, failed)")
	tasksListCmd.Flags().Int("limit", 50, "max number of tasks to display")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}

// formatTasksList writes a tabular task listing to w.
func formatTasksList(out io.Writer, tasks []model.CrawlTask) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSTARTED\tDURATION\tFETCHED\tSTORED\tFAILED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-------\t------\t------")

	for _, task := range tasks {
		dur := ""
		if task.FinishedAt != nil {
			dur = task.FinishedAt.Sub(task.StartedAt).Round(time.Second).String()
		}

		fetched, stored, failed := "", "", ""
		if task.Summary != nil {
			fetched = fmt.Sprintf("%d", task.Summary.Fetched)
			stored = fmt.Sprintf("%d", task.Summary.Stored())
			failed = fmt.Sprintf("%d", task.Summary.Failed)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(task.ID),
			task.Type,
			task.Status,
			task.StartedAt.Format("2006-01-02 15:04"),
			dur,
			fetched,
			stored,
			failed,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
