// Package main provides the insights CLI: guide parsing and evidence
// retrieval from the command line, run locally or through a NATS worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

type rootOptions struct {
	configPath string
	human      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Find interview transcript evidence for guide questions",
		Long: `insights parses interview guides and retrieves the transcript passages
that best answer each guide question.

Output is JSON unless --human is given.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (default $INSIGHTS_CONFIG)")
	cmd.PersistentFlags().BoolVar(&opts.human, "human", false, "Use human-readable output instead of JSON")

	cmd.AddCommand(newParseGuideCmd(opts), newRetrieveCmd(opts), newWatchCmd(opts), newResetStoreCmd(opts))
	return cmd
}
