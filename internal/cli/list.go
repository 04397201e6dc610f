package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/helmsman/internal/store"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions in the database",
		Long: `List every execution recorded in the database, one line each.

Examples:
  helmsman list
  helmsman list --db prod.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	rows, err := st.ListExecutions(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "list executions", err)
	}

	if opts.Format == "json" {
		f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			item := map[string]any{
				"key":      row.Key,
				"workflow": row.Workflow,
				"status":   string(row.Status),
			}
			if row.Reason != "" {
				item["reason"] = row.Reason
			}
			out = append(out, item)
		}
		return f.Success(out)
	}

	w := cmd.OutOrStdout()
	for _, row := range rows {
		line := fmt.Sprintf("%-20s %-10s %-10s", row.Key, row.Workflow, row.Status)
		if row.Reason != "" {
			line += "  " + row.Reason
		}
		fmt.Fprintln(w, line)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no executions")
	}
	return nil
}
