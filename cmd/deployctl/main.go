// Package main is the entry point for deployctl, the tool deployment
// orchestrator (spec.md §1-2).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "Tool deployment orchestrator",
	Long: `deployctl builds and runs per-tool components on Toolforge: it
reads a tool's declared configuration, drives the build/run pipeline
against the runtime API, and persists the running history of
deployments.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a deployctl config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deployctl version %s\n", version)
		fmt.Printf("Build time: %s\n", buildTime)
		fmt.Printf("Git commit: %s\n", gitCommit)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
