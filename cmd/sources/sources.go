// Package sources provides the sources inspection commands.
package sources

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/buremba/owletto-crawlers/cmd/common"
)

// Command creates the sources command with its list and validate
// subcommands.
func Command(cfgFile *string, debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRun(cfgFile, debug)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured sources",
			RunE: func(_ *cobra.Command, _ []string) error {
				return listRun(cfgFile, debug)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the source configuration",
			RunE: func(_ *cobra.Command, _ []string) error {
				return validateRun(cfgFile, debug)
			},
		},
	)

	return cmd
}

// listRun prints the configured sources as a table.
func listRun(cfgFile *string, debug *bool) error {
	deps, err := common.NewDeps(*cfgFile, *debug)
	if err != nil {
		return err
	}

	sources, err := deps.Config.BuildSources()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{
		"ID", "Kind", "Max Pages", "Rate Limit", "Ordered Desc", "Baseline", "Enrichment",
	})

	for _, src := range sources {
		desc := src.Descriptor()
		enrichment := "-"
		if desc.Enrichment != nil {
			enrichment = fmt.Sprintf("budget %d", desc.Enrichment.Budget)
		}
		t.AppendRow(table.Row{
			desc.ID,
			desc.Kind,
			desc.MaxPages,
			desc.RateLimitInterval,
			desc.OrderedDescending,
			desc.BaselineInterval,
			enrichment,
		})
	}

	t.Render()
	return nil
}

// validateRun checks the whole configuration and reports the result.
func validateRun(cfgFile *string, debug *bool) error {
	deps, err := common.NewDeps(*cfgFile, *debug)
	if err != nil {
		return err
	}

	if validateErr := deps.Config.Validate(); validateErr != nil {
		return fmt.Errorf("configuration invalid: %w", validateErr)
	}

	fmt.Printf("configuration valid: %d sources\n", len(deps.Config.Sources))
	return nil
}
