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
	Use:   "helios",
	Short: "Helios - protocol-translating LLM gateway",
	Long: `Helios exposes a single OpenAI-compatible chat/embeddings API while
dispatching each request to one of several heterogeneous backends:
spawned CLI processes (optionally sandboxed), vendor HTTP APIs,
upstream proxies, or local model servers.

Multiple providers may serve the same logical model; Helios picks a
healthy one, protects itself with per-provider circuit breakers,
retries across alternatives per configurable fallback policies, and
streams results back incrementally.`,
	Version: resolveVersion(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
