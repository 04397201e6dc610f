// Package cli implements the helmsman command line: a dev server over
// the HTTP API plus one-shot commands that attach to a database, drive
// an execution, and exit.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "text" | "json"
	Database string
}

// ValidFormats lists the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the helmsman root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "helmsman",
		Short: "Helmsman - durable workflow orchestration",
		Long: "Helmsman runs long-lived workflows as replayable decision logs:\n" +
			"every external effect is recorded, every resume replays the same\n" +
			"decisions, and every wait survives a restart.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "helmsman.db", "path to SQLite database")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewSignalCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}
