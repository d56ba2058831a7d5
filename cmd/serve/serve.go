// Package serve implements the long-running service command: the scheduler
// plus the HTTP control surface.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/buremba/owletto-crawlers/cmd/common"
	"github.com/buremba/owletto-crawlers/internal/api"
	"github.com/buremba/owletto-crawlers/internal/scheduler"
)

// Command creates the serve command.
func Command(cfgFile *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collection service",
		Long: `Runs the scheduler, which sweeps for due sources and collects them on
their recommended cadence, and the HTTP API for status and manual triggers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewDeps(*cfgFile, *debug)
			if err != nil {
				return err
			}
			return run(cmd.Context(), deps)
		},
	}
}

func run(ctx context.Context, deps *common.Deps) error {
	runtime, err := deps.NewRuntime()
	if err != nil {
		return err
	}
	defer runtime.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(
		runtime.Registry, runtime.Runner, deps.Config.Scheduler.SweepSpec, deps.Logger,
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if !deps.Config.Server.Enabled {
		deps.Logger.Info("http server disabled, scheduler only")
		<-ctx.Done()
		return nil
	}

	server := api.NewServer(
		deps.Config.Server.Addr, runtime.Registry, sched, deps.Metrics, deps.Logger,
	)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		deps.Logger.Info("shutting down")
		return server.Shutdown(context.Background())
	case err := <-serverErr:
		return err
	}
}
