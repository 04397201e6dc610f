package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/helmsman/internal/activity"
	"github.com/roach88/helmsman/internal/api"
	"github.com/roach88/helmsman/internal/config"
	"github.com/roach88/helmsman/internal/process"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
	Addr   string
}

// NewServeCommand creates the serve command: the HTTP API over a live
// runtime, on the wall clock unless configured virtual.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration server",
		Long: `Run the HTTP API over a live runtime.

Suspended executions in the database stay suspended until something
re-attaches them: a start request for the same key resumes from history.

Examples:
  helmsman serve --db ./helmsman.db
  helmsman serve --config helmsman.yaml --addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.DB.Path = opts.Database
	}

	var err error
	timeouts := process.DefaultTimeouts()
	if timeouts.Approval, err = cfg.ApprovalTimeout(); err != nil {
		return WrapExitError(ExitCommandError, "bad approval timeout", err)
	}
	if timeouts.Budget, err = cfg.BudgetTimeout(); err != nil {
		return WrapExitError(ExitCommandError, "bad budget timeout", err)
	}

	st, err := store.Open(cfg.DB.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var clock runtime.Clock = runtime.NewWallClock()
	if cfg.VirtualClock() {
		clock = runtime.NewVirtualClock()
	}
	rt := runtime.New(st, runtime.WithClock(clock))
	for name, fn := range activity.All(activity.NewMemBackends()) {
		rt.RegisterActivity(name, runtime.ActivityFunc(fn))
	}
	process.RegisterWith(rt, timeouts)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(rt).Router(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.Addr, "db", cfg.DB.Path,
			"clock", cfg.Clock)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
