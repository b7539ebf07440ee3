// Package main provides the entry point for the go-pivot server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "go-pivot",
		Short: "go-pivot - continuous pivot transforms over an in-memory document store",
		Long: `go-pivot stores JSON documents and keeps destination collections of
grouped aggregations up to date with them.

Commands:
  serve     Run the HTTP server and the transform scheduler`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "go-pivot %s (commit: %s)\n", version, commit)
		},
	}
}
