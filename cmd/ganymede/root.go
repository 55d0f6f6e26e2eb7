package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - admission control for AI agent platforms",
	Long: `Ganymede is an admission control and resilience layer for AI agent
platforms.

It answers one question per request: may this subject proceed right
now? The decision composes:
  - Token-bucket rate limits (requests and tokens per minute)
  - Calendar quotas (daily and monthly request ceilings)
  - Cost budgets over an append-only spend ledger
  - Concurrency ceilings backed by a priority execution pool
  - Circuit breakers around outbound provider calls`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
