package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/format"
)

var modelsMarkdown bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the supported model profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), format.ModelsTable(config.Models(), cfg.Model.Name, tableMode(modelsMarkdown)))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rootcause %s\n", version)
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsMarkdown, "markdown", false, "Print a Markdown table")
}
