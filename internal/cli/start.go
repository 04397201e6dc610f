package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/helmsman/internal/exec"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Key        string
	Input      string
	Await      bool
	Timeout    time.Duration
	ResumeFrom string
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <workflow>",
		Short: "Start (or resume) an execution",
		Long: `Start an execution of a registered workflow.

Starting an existing non-terminal key resumes it from history. With
--resume-from, the input is extended with resume_index and resume_ref
taken from another execution's latest durable checkpoint.

Examples:
  helmsman start order --key ord-1 --input '{"amount_cents":10000,"sku":"widget"}'
  helmsman start training --key trn-2 --resume-from trn-1 --input '{"epochs":30}'
  helmsman start order --key ord-2 --input '{"amount_cents":10000}' --await`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "execution key (required)")
	_ = cmd.MarkFlagRequired("key")
	cmd.Flags().StringVar(&opts.Input, "input", "", "input payload as a JSON object")
	cmd.Flags().BoolVar(&opts.Await, "await", false, "wait for the execution to finish")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "wait timeout with --await")
	cmd.Flags().StringVar(&opts.ResumeFrom, "resume-from", "", "seed resume_index/resume_ref from this execution's latest checkpoint")

	return cmd
}

func runStart(cmd *cobra.Command, opts *StartOptions, workflow string) error {
	input, err := parseInputJSON(opts.Input)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad input", err)
	}

	o, err := openOneShot(opts.Database)
	if err != nil {
		return err
	}
	defer o.Close()

	ctx := context.Background()
	if opts.ResumeFrom != "" {
		cp, err := o.st.LatestCheckpoint(ctx, opts.ResumeFrom)
		if err != nil {
			return WrapExitError(ExitCommandError,
				fmt.Sprintf("no checkpoint recorded for %s", opts.ResumeFrom), err)
		}
		if input == nil {
			input = exec.Payload{}
		}
		input["resume_index"] = cp.Index
		input["resume_ref"] = cp.Ref
	}

	if err := o.rt.StartExecution(workflow, opts.Key, input); err != nil {
		return WrapExitError(ExitFailure, "start failed", err)
	}

	f := &Formatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Await {
		out, err := o.awaitResult(opts.Key, opts.Timeout)
		if err != nil {
			return WrapExitError(ExitFailure, "execution failed", err)
		}
		return f.Success(out)
	}

	state, err := o.state(ctx, opts.Key)
	if err != nil {
		return err
	}
	return f.Table(state, [][2]string{
		{"key", opts.Key},
		{"workflow", workflow},
		{"status", state.StringOr("status", "")},
	})
}
