package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/scheduler"
	"github.com/tippic/tippic_server/internal/server"
)

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var noWatcher bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the sweep scheduler and the settlement watcher",
		Long: `Runs the periodic push-auth sweep and polls the hot wallet for
outgoing transfers until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return rootOpts.withServices(ctx, func(svc *server.Services) error {
				return runWorker(ctx, rootOpts, svc, !noWatcher)
			})
		},
	}

	cmd.Flags().BoolVar(&noWatcher, "no-watcher", false, "disable the settlement watcher")
	return cmd
}

func runWorker(ctx context.Context, opts *RootOptions, svc *server.Services, watch bool) error {
	logger := opts.logger.With(zap.String("component", "worker"))

	sched := scheduler.New(svc.Scope, 0, logger)
	if err := sched.AddSweep(opts.cfg.PushAuth.SweepSchedule, svc.PushAuth); err != nil {
		return err
	}
	sched.Start()
	logger.Info("scheduler started", zap.String("sweep_schedule", opts.cfg.PushAuth.SweepSchedule))

	// nil blocks forever when the watcher is disabled
	var watchErr chan error
	if watch {
		watchErr = make(chan error, 1)
		go func() { watchErr <- svc.Watcher.Run(ctx) }()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-watchErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("settlement watcher stopped", zap.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.cfg.ShutdownPeriod)
	defer cancel()
	sched.Stop(stopCtx)
	logger.Info("worker stopped")
	return err
}
