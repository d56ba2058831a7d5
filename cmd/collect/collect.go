// Package collect implements the one-shot collection command.
package collect

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buremba/owletto-crawlers/cmd/common"
)

// Command creates the collect command: run every configured source once (or
// a single source by ID) and exit.
func Command(cfgFile *string, debug *bool) *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run collection once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewDeps(*cfgFile, *debug)
			if err != nil {
				return err
			}

			runtime, err := deps.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()

			return run(cmd.Context(), runtime, sourceID)
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "collect a single source by id")
	return cmd
}

// run executes the requested sources sequentially. Per-source failures do
// not stop the remaining sources; the command fails if any source failed.
func run(ctx context.Context, runtime *common.Runtime, sourceID string) error {
	ids := runtime.Registry.IDs()
	if sourceID != "" {
		if _, ok := runtime.Registry.Get(sourceID); !ok {
			return fmt.Errorf("unknown source %q", sourceID)
		}
		ids = []string{sourceID}
	}

	var failed []error
	for _, id := range ids {
		src, _ := runtime.Registry.Get(id)
		report, err := runtime.Runner.Collect(ctx, src)
		if report != nil {
			runtime.Registry.RecordReport(report)
		}
		if err != nil {
			failed = append(failed, err)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d sources failed: %w", len(failed), len(ids), errors.Join(failed...))
	}
	return nil
}
