package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/helmsman/internal/exec"
)

// CancelOptions holds flags for the cancel command.
type CancelOptions struct {
	*RootOptions
	Reason string
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CancelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cancel <key>",
		Short: "Request cancellation of an execution",
		Long: `Attach a stored execution and deliver a cancellation request.

Cancellation is cooperative: the execution observes it at its next
unshielded wait or loop boundary and unwinds from there.

Examples:
  helmsman cancel ord-1
  helmsman cancel ana-2 --reason operator-abort`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", exec.ReasonUserRequest, "cancellation reason")

	return cmd
}

func runCancel(cmd *cobra.Command, opts *CancelOptions, key string) error {
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
	if row.Status.Terminal() {
		return WrapExitError(ExitFailure, "execution already reached "+string(row.Status), nil)
	}

	if err := o.rt.Cancel(key, opts.Reason); err != nil {
		return WrapExitError(ExitFailure, "cancel failed", err)
	}

	state, err := o.state(ctx, key)
	if err != nil {
		return err
	}
	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Table(state, [][2]string{
		{"key", key},
		{"reason", opts.Reason},
		{"status", state.StringOr("status", "")},
	})
}
