// Package server wires every component of a diagnosis run together.
//
// It lives in pkg/ so other binaries can compose a run without reaching
// into internal packages:
//
//	srv, err := server.New(ctx, cfg, server.Options{})
//	defer srv.Close(ctx)
//	summary, err := srv.Run(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentoven/agentoven/rootcause/internal/api"
	"github.com/agentoven/agentoven/rootcause/internal/api/handlers"
	"github.com/agentoven/agentoven/rootcause/internal/batch"
	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/contextmgr"
	"github.com/agentoven/agentoven/rootcause/internal/discovery"
	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/executor"
	"github.com/agentoven/agentoven/rootcause/internal/logging"
	"github.com/agentoven/agentoven/rootcause/internal/notify"
	"github.com/agentoven/agentoven/rootcause/internal/output"
	"github.com/agentoven/agentoven/rootcause/internal/retention"
	"github.com/agentoven/agentoven/rootcause/internal/router"
	"github.com/agentoven/agentoven/rootcause/internal/store"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/internal/tools"
	"github.com/agentoven/agentoven/rootcause/internal/validator"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// feedSize is how many progress events the status server can replay.
const feedSize = 1024

// shutdownGrace bounds the status server shutdown after a run.
const shutdownGrace = 5 * time.Second

// Options adjusts how a Server is built.
type Options struct {
	// Console receives human-readable log output. Defaults to stderr.
	Console io.Writer
	// Model replaces the HTTP model client, e.g. with a scripted one.
	Model router.Completer
}

// Server holds one fully wired batch run.
type Server struct {
	// Config is the finalized run configuration.
	Config *config.Config
	Log       zerolog.Logger
	Metrics   *telemetry.Metrics
	Discovery *discovery.Discovery
	History   store.Store
	Feed      *batch.Feed
	Runner    *executor.Runner

	// Handler serves the status API. It is only listened on when
	// Config.Server.Addr is set.
	Handler http.Handler

	runID    string
	orch     *batch.Orchestrator
	sink     output.Sink
	logs     *logging.Handle
	mcp      *tools.MCPSource
	notify   *notify.Webhook
	shutdown telemetry.ShutdownFunc
}

// New builds every component for cfg. cfg is finalized and validated here.
// The output sink is opened on Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{Config: cfg, runID: uuid.NewString()}
	s.logs = logging.New(cfg.Log, opts.Console)
	s.Log = s.logs.Run(s.runID)

	ok := false
	defer func() {
		if !ok {
			s.Close(context.WithoutCancel(ctx))
		}
	}()

	if _, known := config.LookupModel(cfg.Model.Name); !known {
		s.Log.Warn().
			Str("model", cfg.Model.Name).
			Int("context_length", cfg.Model.ContextLength).
			Msg("Unknown model, using fallback context length")
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.RunInfo{
		Version: cfg.Version,
		RunID:   s.runID,
		Model:   cfg.Model.Name,
	}, s.Log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.shutdown = shutdown
	s.Metrics = telemetry.NewMetrics()

	s.History, err = store.Open(ctx, cfg.Store.DSN, s.Log)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := s.History.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	if j := retention.FromConfig(cfg.Store, s.History, s.Log); j != nil {
		if _, err := j.Sweep(ctx); err != nil {
			s.Log.Warn().Err(err).Msg("History retention sweep failed")
		}
	}

	s.Discovery = discovery.New(cfg.Tools.DataRoot, s.Log)

	registry, err := s.buildRegistry(ctx)
	if err != nil {
		return nil, err
	}

	val, err := validator.New(validator.Limits{
		DataRoot:       cfg.Tools.DataRoot,
		DefaultRows:    cfg.Tools.DefaultRows,
		MaxRows:        cfg.Tools.MaxRows,
		MaxColumns:     cfg.Tools.MaxColumns,
		TrimmedColumns: cfg.Tools.TrimmedColumns,
	}, s.Log)
	if err != nil {
		return nil, err
	}

	errs, err := errhandler.New(cfg.Runner, cfg.ErrorRules, s.Metrics, s.Log)
	if err != nil {
		return nil, err
	}

	est, err := contextmgr.NewEstimator(cfg.Context)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == nil {
		client := router.New(cfg.Model, s.Metrics, s.Log)
		s.Log.Info().Str("model", client.Describe()).Msg("Model client ready")
		model = client
	}

	s.Feed = batch.NewFeed(feedSize)
	s.Runner, err = executor.New(cfg.Runner, executor.Deps{
		Model:     model,
		Tools:     tools.NewExecutor(registry, cfg.Tools.Timeout, s.Metrics, s.Log),
		Validator: val,
		Errors:    errs,
		Discovery: s.Discovery,
		Context:   contextmgr.OptionsFrom(cfg),
		Estimator: est,
		Metrics:   s.Metrics,
		Log:       s.Log,
		OnStep:    s.Feed.StepHook,
	})
	if err != nil {
		return nil, err
	}

	s.notify = notify.New(cfg.Notify, s.Log)

	s.Handler = api.NewRouter(api.Options{
		Version:  cfg.Version,
		APIKeys:  cfg.Server.APIKeys,
		Metrics:  s.Metrics,
		Handlers: &handlers.Handlers{Progress: s, History: s.History, Feed: s.Feed, Log: s.Log},
		Log:      s.Log,
	})

	ok = true
	return s, nil
}

// buildRegistry registers the built-in tools, the configured HTTP tools
// and, when configured, the tools of an MCP server.
func (s *Server) buildRegistry(ctx context.Context) (*tools.Registry, error) {
	cfg := s.Config.Tools

	all := tools.Builtins(s.Discovery)
	client := &http.Client{}
	for _, hc := range cfg.HTTP {
		all = append(all, tools.NewHTTPTool(hc, client))
	}

	if cfg.MCPEndpoint != "" || len(cfg.MCPCommand) > 0 {
		transport, err := tools.MCPTransport(cfg.MCPEndpoint, cfg.MCPCommand)
		if err != nil {
			return nil, err
		}
		src, err := tools.ConnectMCP(ctx, transport, s.Config.Version, s.Log)
		if err != nil {
			return nil, err
		}
		s.mcp = src
		all = append(all, src.Tools()...)
	}

	registry, err := tools.NewRegistry(all...)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Strs("tools", registry.Names()).Msg("Tool registry built")
	return registry, nil
}

// ── Run ──────────────────────────────────────────────────────

// Run loads the cases, serves the status API when configured and runs the
// batch. The returned error is non-nil when the batch was interrupted or
// the output could not be written; the summary is valid either way.
func (s *Server) Run(ctx context.Context) (models.BatchSummary, error) {
	cfg := s.Config

	cases, err := batch.LoadCases(cfg.Batch.Input, cfg.Batch.Limit)
	if err != nil {
		return models.BatchSummary{}, err
	}

	s.sink, err = output.Open(cfg.Batch.Output)
	if err != nil {
		return models.BatchSummary{}, err
	}

	opts := batch.OptionsFrom(cfg.Batch)
	opts.RunID = s.runID
	s.orch, err = batch.New(opts, batch.Deps{
		Runner:  s.Runner,
		Sink:    s.sink,
		History: s.History,
		Feed:    s.Feed,
		Metrics: s.Metrics,
		Log:     s.Log,
	})
	if err != nil {
		return models.BatchSummary{}, err
	}

	stop := s.serveStatus()
	defer stop()

	s.Log.Info().
		Str("input", cfg.Batch.Input).
		Str("output", cfg.Batch.Output).
		Int("cases", len(cases)).
		Msg("Diagnosis run starting")

	summary, runErr := s.orch.Run(ctx, cases)
	closeErr := s.sink.Close()
	s.sink = nil
	if runErr == nil && closeErr != nil {
		runErr = &errhandler.SinkError{Op: "close", Err: closeErr}
	}

	if s.notify != nil {
		if err := s.notify.Send(context.WithoutCancel(ctx), notify.NewRunEvent(summary, runErr)); err != nil {
			s.Log.Warn().Err(err).Msg("Run notification not delivered")
		}
	}
	return summary, runErr
}

// serveStatus starts the status server if an address is configured and
// returns a function that shuts it down.
func (s *Server) serveStatus() func() {
	addr := s.Config.Server.Addr
	if addr == "" {
		return func() {}
	}

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		s.Log.Info().Str("addr", addr).Msg("Status server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Error().Err(err).Msg("Status server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.Log.Warn().Err(err).Msg("Status server shutdown")
		}
	}
}

// RunID identifies this run in logs, history and the status API.
func (s *Server) RunID() string { return s.runID }

// Snapshot returns the live summary, or an empty one before Run.
func (s *Server) Snapshot() models.BatchSummary {
	if s.orch == nil {
		return models.BatchSummary{RunID: s.runID, FailureReasons: map[string]int{}}
	}
	return s.orch.Snapshot()
}

// Close releases everything New and Run acquired. It is safe to call on a
// partially built Server.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.sink != nil {
		errs = append(errs, s.sink.Close())
	}
	if s.mcp != nil {
		errs = append(errs, s.mcp.Close())
	}
	if s.History != nil {
		errs = append(errs, s.History.Close())
	}
	if s.shutdown != nil {
		errs = append(errs, s.shutdown(ctx))
	}
	if s.logs != nil {
		errs = append(errs, s.logs.Close())
	}
	return errors.Join(errs...)
}
