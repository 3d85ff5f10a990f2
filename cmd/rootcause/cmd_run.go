package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/format"
	"github.com/agentoven/agentoven/rootcause/pkg/server"
)

var runFlags struct {
	input         string
	output        string
	dataRoot      string
	model         string
	baseURL       string
	concurrency   int
	limit         int
	maxIterations int
	temperature   float64
	debug         bool
	statusAddr    string
	history       string
	markdown      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Diagnose every case of an input file",
	Long: `Run the diagnosis agent over the cases of an input file and write one
result per case. A .json output path produces a JSON array, anything else
newline-delimited JSON.

Examples:
  rootcause run --input input.json --output answer.jsonl
  rootcause run -c rootcause.yaml --limit 10 --status-addr :8090`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "Input cases JSON (default: $ROOTCAUSE_INPUT or input.json)")
	f.StringVarP(&runFlags.output, "output", "o", "", "Output path, .json or .jsonl (default: $ROOTCAUSE_OUTPUT or answer.jsonl)")
	f.StringVar(&runFlags.dataRoot, "data-root", "", "Root of the date partitions")
	f.StringVarP(&runFlags.model, "model", "m", "", "Model name")
	f.StringVar(&runFlags.baseURL, "base-url", "", "OpenAI-compatible endpoint")
	f.IntVar(&runFlags.concurrency, "concurrency", 0, "Cases diagnosed in parallel")
	f.IntVar(&runFlags.limit, "limit", 0, "Only run the first N cases (0 = all)")
	f.IntVar(&runFlags.maxIterations, "max-iterations", 0, "Reasoning iterations per case")
	f.Float64Var(&runFlags.temperature, "temperature", 0, "Sampling temperature")
	f.BoolVar(&runFlags.debug, "debug", false, "Debug logging")
	f.StringVar(&runFlags.statusAddr, "status-addr", "", "Serve the status API on this address, e.g. :8090")
	f.StringVar(&runFlags.history, "history", "", "History store DSN: memory, sqlite://path or postgres://...")
	f.BoolVar(&runFlags.markdown, "markdown", false, "Print the summary as a Markdown table")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if changed(cmd, "input") {
		cfg.Batch.Input = runFlags.input
	}
	if changed(cmd, "output") {
		cfg.Batch.Output = runFlags.output
	}
	if changed(cmd, "data-root") {
		cfg.Tools.DataRoot = runFlags.dataRoot
	}
	if changed(cmd, "model") {
		cfg.Model.Name = runFlags.model
		cfg.Model.ContextLength = 0
	}
	if changed(cmd, "base-url") {
		cfg.Model.BaseURL = runFlags.baseURL
	}
	if changed(cmd, "concurrency") {
		cfg.Batch.Concurrency = runFlags.concurrency
	}
	if changed(cmd, "limit") {
		cfg.Batch.Limit = runFlags.limit
	}
	if changed(cmd, "max-iterations") {
		cfg.Runner.MaxIterations = runFlags.maxIterations
	}
	if changed(cmd, "temperature") {
		cfg.Model.Temperature = runFlags.temperature
	}
	if changed(cmd, "debug") {
		cfg.Log.Debug = runFlags.debug
	}
	if changed(cmd, "status-addr") {
		cfg.Server.Addr = runFlags.statusAddr
	}
	if changed(cmd, "history") {
		cfg.Store.DSN = runFlags.history
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, server.Options{Console: os.Stderr})
	if err != nil {
		return err
	}
	defer srv.Close(context.WithoutCancel(ctx))

	summary, runErr := srv.Run(ctx)
	if summary.Total > 0 {
		fmt.Fprintln(os.Stderr, format.SummaryTable(summary, tableMode(runFlags.markdown)))
	}

	var sinkErr *errhandler.SinkError
	switch {
	case errors.As(runErr, &sinkErr):
		return fmt.Errorf("output lost: %w", runErr)
	case runErr != nil:
		return runErr
	}
	fmt.Fprintf(os.Stderr, "Results: %s\n", cfg.Batch.Output)
	return nil
}
