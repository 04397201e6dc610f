package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// SignalOptions holds flags for the signal command.
type SignalOptions struct {
	*RootOptions
	Payload string
}

// NewSignalCommand creates the signal command.
func NewSignalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signal <key> <slot>",
		Short: "Deliver a signal to a suspended execution",
		Long: `Attach a stored execution, deliver one signal, and report its state.

The execution resumes from history first, so the signal lands exactly
where the run left off.

Examples:
  helmsman signal ord-1 approval --payload '{"approved":true}'
  helmsman signal ana-1 budget --payload '{"approve":true,"new_ceiling_milli":10000}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "signal payload as a JSON object")

	return cmd
}

func runSignal(cmd *cobra.Command, opts *SignalOptions, key, slot string) error {
	payload, err := parseInputJSON(opts.Payload)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad payload", err)
	}

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

	if err := o.rt.Signal(key, slot, payload); err != nil {
		return WrapExitError(ExitFailure, "signal failed", err)
	}

	state, err := o.state(ctx, key)
	if err != nil {
		return err
	}
	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Table(state, [][2]string{
		{"key", key},
		{"slot", slot},
		{"status", state.StringOr("status", "")},
	})
}
