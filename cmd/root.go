// Package cmd implements the command-line interface for the collection
// service.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buremba/owletto-crawlers/cmd/collect"
	"github.com/buremba/owletto-crawlers/cmd/serve"
	cmdsources "github.com/buremba/owletto-crawlers/cmd/sources"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "owletto-crawlers",
		Short: "Incremental content collection service",
		Long: `Collects content from paginated upstream sources (Hacker News, GitHub,
Reddit, review pages) incrementally: each run resumes from a per-source
checkpoint and fetches only what is new.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml or /etc/owletto/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("owletto-crawlers version %s\n", Version)
		},
	})

	rootCmd.AddCommand(collect.Command(&cfgFile, &debug))
	rootCmd.AddCommand(serve.Command(&cfgFile, &debug))
	rootCmd.AddCommand(cmdsources.Command(&cfgFile, &debug))
}
