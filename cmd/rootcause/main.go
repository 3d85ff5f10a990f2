// rootcause diagnoses batches of microservice fault cases with an LLM
// agent and writes one root-cause answer per case.
//
// Usage:
//
//	rootcause run --input input.json --output answer.jsonl
//	rootcause discover --window 2025-06-05T16:10:02Z 2025-06-05T16:31:02Z
//	rootcause models
//	rootcause version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rootcause",
	Short: "Batch root-cause diagnosis for microservice incidents",
	Long: "rootcause runs a reason/act/observe agent over each fault case, querying\n" +
		"logs, traces and metrics through tools, and writes one answer per case.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env variables still apply)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
