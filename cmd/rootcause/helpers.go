package main

import (
	"github.com/spf13/cobra"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/format"
)

// loadConfig reads env defaults and overlays the --config file.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if version != "dev" {
		cfg.Version = version
	}
	if configPath != "" {
		if err := config.LoadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func tableMode(markdown bool) format.Mode {
	if markdown {
		return format.Markdown
	}
	return format.ASCII
}

// changed reports whether the user set a flag, so unset flags leave env and
// file values alone.
func changed(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name)
}
