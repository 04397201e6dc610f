package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Name string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <key>",
		Short: "Read an execution's state",
		Long: `Read an execution's queryable state without advancing it.

A suspended execution is attached by replay first; a terminal one is
answered from the stored row.

Examples:
  helmsman query ord-1
  helmsman query trn-1 --name state --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "state", "query name")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, key string) error {
	o, err := openOneShot(opts.Database)
	if err != nil {
		return err
	}
	defer o.Close()

	ctx := context.Background()
	row, err := o.attach(ctx, key)
	if err != nil {
		return err
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if !row.Status.Terminal() && opts.Name != "state" {
		out, err := o.rt.Query(key, opts.Name)
		if err != nil {
			return WrapExitError(ExitFailure, "query failed", err)
		}
		return f.Success(out)
	}

	state, err := o.state(ctx, key)
	if err != nil {
		return err
	}
	rows := [][2]string{
		{"key", key},
		{"workflow", row.Workflow},
		{"status", state.StringOr("status", string(row.Status))},
	}
	if reason := state.StringOr("reason", row.Reason); reason != "" {
		rows = append(rows, [2]string{"reason", reason})
	}
	return f.Table(state, rows)
}
