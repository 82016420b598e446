// Package cmd defines the CLI commands for the edgeschema executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edgeschema",
		Short: "Automated Schema.org metadata for websites, served at the edge",
		Long: `edgeschema sits between visitors and a website's origin server.
Pages with previously generated Schema.org metadata get a JSON-LD script
injected on the way out; pages without it are queued for AI analysis in
the background and annotated on later visits.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
